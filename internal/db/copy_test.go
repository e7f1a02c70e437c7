package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "gold_invoices", []string{"a", "b"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"gold_invoices"}, []string{"document_id", "invoice"}).WillReturnResult(3)

	rows := [][]any{{"doc-1", "{}"}, {"doc-2", "{}"}, {"doc-3", "{}"}}
	n, err := CopyFrom(context.Background(), mock, "gold_invoices", []string{"document_id", "invoice"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"gold_invoices"}, []string{"document_id"}).WillReturnError(fmt.Errorf("copy failed"))

	rows := [][]any{{"doc-1"}}
	_, err = CopyFrom(context.Background(), mock, "gold_invoices", []string{"document_id"}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO gold_invoices")
	assert.NoError(t, mock.ExpectationsWereMet())
}
