package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docintel/internal/model"
	"github.com/sells-group/docintel/internal/resilience"
	"github.com/sells-group/docintel/internal/store"
)

// mockStore implements store.Store for testing.
type mockStore struct {
	docs     []model.Document
	evalRuns []model.EvalRun
	dlqCount int
	listErr  error
	dlqErr   error

	listDocumentsCalls int
}

func (m *mockStore) ListDocuments(_ context.Context, filter store.DocumentFilter) ([]model.Document, error) {
	m.listDocumentsCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	var filtered []model.Document
	for _, d := range m.docs {
		if !filter.CreatedAfter.IsZero() && d.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		filtered = append(filtered, d)
	}
	return filtered, nil
}

func (m *mockStore) ListEvalRuns(_ context.Context, provider string, _ int) ([]model.EvalRun, error) {
	var out []model.EvalRun
	for _, r := range m.evalRuns {
		if provider != "" && r.Provider != provider {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *mockStore) CountDLQ(_ context.Context) (int, error) {
	return m.dlqCount, m.dlqErr
}

// Unused store methods, satisfy the interface.
func (m *mockStore) CreateDocument(context.Context, string, string, int64, string) (*model.Document, error) {
	return nil, nil
}
func (m *mockStore) UpdateDocumentStatus(context.Context, string, model.DocumentStatus, string) error {
	return nil
}
func (m *mockStore) SetDocumentText(context.Context, string, string) error       { return nil }
func (m *mockStore) SetDocumentArchiveKey(context.Context, string, string) error { return nil }
func (m *mockStore) GetDocument(context.Context, string) (*model.Document, error) {
	return nil, nil
}
func (m *mockStore) CreateExtraction(context.Context, string, string, *model.Invoice, int64) (*model.Extraction, error) {
	return nil, nil
}
func (m *mockStore) ListExtractions(context.Context, string) ([]model.Extraction, error) {
	return nil, nil
}
func (m *mockStore) LatestExtraction(context.Context, string, string) (*model.Extraction, error) {
	return nil, nil
}
func (m *mockStore) CreateEvalRun(context.Context, string, int, float64, []byte) (*model.EvalRun, error) {
	return nil, nil
}
func (m *mockStore) ImportGoldInvoices(context.Context, []model.GoldRecord) (int64, error) {
	return 0, nil
}
func (m *mockStore) ListGoldInvoices(context.Context) ([]model.GoldRecord, error) { return nil, nil }
func (m *mockStore) EnqueueDLQ(context.Context, resilience.DLQEntry) error        { return nil }
func (m *mockStore) DequeueDLQ(context.Context, resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	return nil, nil
}
func (m *mockStore) IncrementDLQRetry(context.Context, string, time.Time, string) error { return nil }
func (m *mockStore) RemoveDLQ(context.Context, string) error                            { return nil }
func (m *mockStore) Migrate(context.Context) error                                      { return nil }
func (m *mockStore) Close() error                                                       { return nil }

func TestCollector_Collect(t *testing.T) {
	now := time.Now().UTC()
	st := &mockStore{
		docs: []model.Document{
			{ID: "d1", Status: model.DocumentStatusCompleted, CreatedAt: now.Add(-time.Hour)},
			{ID: "d2", Status: model.DocumentStatusCompleted, CreatedAt: now.Add(-2 * time.Hour)},
			{ID: "d3", Status: model.DocumentStatusFailed, CreatedAt: now.Add(-time.Hour)},
			{ID: "d4", Status: model.DocumentStatusPending, CreatedAt: now.Add(-time.Minute)},
			{ID: "d5", Status: model.DocumentStatusProcessing, CreatedAt: now.Add(-time.Minute)},
			// Outside the 24h lookback window.
			{ID: "old", Status: model.DocumentStatusFailed, CreatedAt: now.Add(-48 * time.Hour)},
		},
		evalRuns: []model.EvalRun{
			{Provider: "anthropic", MacroF1: 0.93, CreatedAt: now},
			{Provider: "anthropic", MacroF1: 0.88, CreatedAt: now.Add(-time.Hour)},
			{Provider: "openai", MacroF1: 0.85, CreatedAt: now},
		},
		dlqCount: 4,
	}

	snap, err := NewCollector(st).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 5, snap.DocsTotal)
	assert.Equal(t, 2, snap.DocsCompleted)
	assert.Equal(t, 1, snap.DocsFailed)
	assert.Equal(t, 1, snap.DocsPending)
	assert.Equal(t, 1, snap.DocsProcessing)
	assert.InDelta(t, 1.0/3.0, snap.FailRate, 1e-9)
	assert.Equal(t, 4, snap.DLQDepth)
	assert.Equal(t, 0.93, snap.LatestMacroF1["anthropic"])
	assert.Equal(t, 0.85, snap.LatestMacroF1["openai"])
	assert.Equal(t, 24, snap.LookbackHours)
}

func TestCollector_Collect_Empty(t *testing.T) {
	snap, err := NewCollector(&mockStore{}).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Zero(t, snap.DocsTotal)
	assert.Zero(t, snap.FailRate)
	assert.Nil(t, snap.LatestMacroF1)
}

func TestCollector_Collect_ListError(t *testing.T) {
	st := &mockStore{listErr: errors.New("db down")}

	_, err := NewCollector(st).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list documents")
}

func TestCollector_Collect_DLQError(t *testing.T) {
	st := &mockStore{dlqErr: errors.New("db down")}

	_, err := NewCollector(st).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count dlq")
}
