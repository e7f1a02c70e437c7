package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docintel/internal/model"
	"github.com/sells-group/docintel/internal/resilience"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// --- Documents ---

func TestSQLite_Document_CreateAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	doc, err := st.CreateDocument(ctx, "invoice.pdf", "application/pdf", 2048, "/uploads/invoice.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, doc.ID)

	got, err := st.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "invoice.pdf", got.Filename)
	assert.Equal(t, int64(2048), got.SizeBytes)
	assert.Equal(t, model.DocumentStatusPending, got.Status)
	assert.Empty(t, got.OCRText)
}

func TestSQLite_Document_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetDocument(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document not found")
}

func TestSQLite_Document_StatusLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	doc, err := st.CreateDocument(ctx, "invoice.pdf", "application/pdf", 100, "/uploads/invoice.pdf")
	require.NoError(t, err)

	require.NoError(t, st.UpdateDocumentStatus(ctx, doc.ID, model.DocumentStatusProcessing, ""))
	require.NoError(t, st.SetDocumentText(ctx, doc.ID, "Invoice #INV-001\nTotal: $100.00"))
	require.NoError(t, st.UpdateDocumentStatus(ctx, doc.ID, model.DocumentStatusFailed, "provider unavailable"))

	got, err := st.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusFailed, got.Status)
	assert.Equal(t, "provider unavailable", got.FailReason)
	assert.Contains(t, got.OCRText, "INV-001")
}

func TestSQLite_Document_UpdateMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.UpdateDocumentStatus(context.Background(), "missing", model.DocumentStatusCompleted, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document not found")
}

func TestSQLite_Document_ArchiveKey(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	doc, err := st.CreateDocument(ctx, "invoice.pdf", "application/pdf", 100, "/uploads/invoice.pdf")
	require.NoError(t, err)

	require.NoError(t, st.SetDocumentArchiveKey(ctx, doc.ID, "2026/01/invoice.pdf"))

	got, err := st.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "2026/01/invoice.pdf", got.ArchiveKey)
}

func TestSQLite_ListDocuments_StatusFilter(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a, err := st.CreateDocument(ctx, "a.pdf", "application/pdf", 1, "/uploads/a.pdf")
	require.NoError(t, err)
	_, err = st.CreateDocument(ctx, "b.pdf", "application/pdf", 2, "/uploads/b.pdf")
	require.NoError(t, err)
	require.NoError(t, st.UpdateDocumentStatus(ctx, a.ID, model.DocumentStatusCompleted, ""))

	completed, err := st.ListDocuments(ctx, DocumentFilter{Status: model.DocumentStatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "a.pdf", completed[0].Filename)

	all, err := st.ListDocuments(ctx, DocumentFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// --- Extractions ---

func TestSQLite_Extraction_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	doc, err := st.CreateDocument(ctx, "invoice.pdf", "application/pdf", 100, "/uploads/invoice.pdf")
	require.NoError(t, err)

	inv := &model.Invoice{
		InvoiceNumber: model.Ptr("INV-001"),
		SupplierName:  model.Ptr("Acme Corp"),
		TotalAmount:   model.Money("150.00"),
	}
	ext, err := st.CreateExtraction(ctx, doc.ID, "anthropic", inv, 1200)
	require.NoError(t, err)
	require.NotEmpty(t, ext.ID)

	got, err := st.LatestExtraction(ctx, doc.ID, "anthropic")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.Invoice)
	assert.Equal(t, "INV-001", *got.Invoice.InvoiceNumber)
	assert.True(t, got.Invoice.TotalAmount.Equal(decimal.NewFromFloat(150.00)))
	assert.Equal(t, int64(1200), got.LatencyMS)
}

func TestSQLite_LatestExtraction_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.LatestExtraction(context.Background(), "doc-1", "openai")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_ListExtractions(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	doc, err := st.CreateDocument(ctx, "invoice.pdf", "application/pdf", 100, "/uploads/invoice.pdf")
	require.NoError(t, err)

	for _, provider := range []string{"anthropic", "openai", "local"} {
		_, err := st.CreateExtraction(ctx, doc.ID, provider, &model.Invoice{}, 10)
		require.NoError(t, err)
	}

	exts, err := st.ListExtractions(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, exts, 3)
}

// --- Eval runs ---

func TestSQLite_EvalRun_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	report := []byte(`{"macro_f1":0.92,"total_samples":50}`)
	run, err := st.CreateEvalRun(ctx, "anthropic", 50, 0.92, report)
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)

	runs, err := st.ListEvalRuns(ctx, "anthropic", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 0.92, runs[0].MacroF1)
	assert.Equal(t, 50, runs[0].Samples)
	assert.JSONEq(t, string(report), string(runs[0].Report))
}

func TestSQLite_ListEvalRuns_ProviderFilter(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.CreateEvalRun(ctx, "anthropic", 10, 0.9, nil)
	require.NoError(t, err)
	_, err = st.CreateEvalRun(ctx, "openai", 10, 0.8, nil)
	require.NoError(t, err)

	runs, err := st.ListEvalRuns(ctx, "openai", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "openai", runs[0].Provider)

	all, err := st.ListEvalRuns(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// --- Gold dataset ---

func TestSQLite_GoldInvoices_ImportAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	records := []model.GoldRecord{
		{DocumentID: "doc-1", Invoice: model.Invoice{InvoiceNumber: model.Ptr("INV-001")}},
		{DocumentID: "doc-2", Invoice: model.Invoice{InvoiceNumber: model.Ptr("INV-002")}},
	}
	n, err := st.ImportGoldInvoices(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Re-import with a corrected value replaces the existing row.
	records[0].Invoice.InvoiceNumber = model.Ptr("INV-001-FIXED")
	_, err = st.ImportGoldInvoices(ctx, records[:1])
	require.NoError(t, err)

	got, err := st.ListGoldInvoices(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "INV-001-FIXED", *got[0].Invoice.InvoiceNumber)
	assert.Equal(t, "doc-2", got[1].DocumentID)
}

func TestSQLite_GoldInvoices_ImportEmpty(t *testing.T) {
	st := newTestSQLiteStore(t)

	n, err := st.ImportGoldInvoices(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

// --- Dead letter queue ---

func TestSQLite_DLQ_EnqueueDequeue(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entry := resilience.DLQEntry{
		JobID:        "job-1",
		DocumentID:   "doc-1",
		Provider:     "anthropic",
		Error:        "rate limited",
		ErrorType:    "transient",
		FailedStage:  "extract",
		MaxRetries:   3,
		NextRetryAt:  now.Add(-time.Minute),
		CreatedAt:    now,
		LastFailedAt: now,
	}
	require.NoError(t, st.EnqueueDLQ(ctx, entry))

	entries, err := st.DequeueDLQ(ctx, resilience.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "doc-1", entries[0].DocumentID)
	assert.Equal(t, "extract", entries[0].FailedStage)

	count, err := st.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, st.RemoveDLQ(ctx, entries[0].ID))
	count, err = st.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSQLite_DLQ_FilterByProvider(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, provider := range []string{"anthropic", "openai"} {
		require.NoError(t, st.EnqueueDLQ(ctx, resilience.DLQEntry{
			JobID:        "job-" + provider,
			DocumentID:   "doc-" + provider,
			Provider:     provider,
			Error:        "boom",
			ErrorType:    "transient",
			MaxRetries:   3,
			NextRetryAt:  now.Add(-time.Minute),
			CreatedAt:    now,
			LastFailedAt: now,
		}))
	}

	entries, err := st.DequeueDLQ(ctx, resilience.DLQFilter{Provider: "openai"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "doc-openai", entries[0].DocumentID)
}

func TestSQLite_DLQ_RetryExhaustionExcluded(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, st.EnqueueDLQ(ctx, resilience.DLQEntry{
		ID:           "entry-1",
		JobID:        "job-1",
		DocumentID:   "doc-1",
		Error:        "boom",
		ErrorType:    "transient",
		MaxRetries:   2,
		NextRetryAt:  now.Add(-time.Minute),
		CreatedAt:    now,
		LastFailedAt: now,
	}))

	require.NoError(t, st.IncrementDLQRetry(ctx, "entry-1", now.Add(-time.Second), "boom again"))
	require.NoError(t, st.IncrementDLQRetry(ctx, "entry-1", now.Add(-time.Second), "boom again"))

	entries, err := st.DequeueDLQ(ctx, resilience.DLQFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Entry stays in the table for inspection even after exhaustion.
	count, err := st.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLite_DLQ_IncrementMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.IncrementDLQRetry(context.Background(), "missing", time.Now(), "err")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dlq_entry not found")
}

// Sanity check that the serialized invoice stored in SQLite keeps the
// wire date format used everywhere else.
func TestSQLite_Extraction_DateFormat(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	doc, err := st.CreateDocument(ctx, "invoice.pdf", "application/pdf", 100, "/uploads/invoice.pdf")
	require.NoError(t, err)

	inv := &model.Invoice{InvoiceDate: model.Date(2026, time.January, 15)}
	_, err = st.CreateExtraction(ctx, doc.ID, "local", inv, 5)
	require.NoError(t, err)

	var raw string
	row := st.db.QueryRowContext(ctx, `SELECT invoice FROM extractions WHERE document_id = ?`, doc.ID)
	require.NoError(t, row.Scan(&raw))

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	assert.Equal(t, "2026-01-15", payload["invoice_date"])
}
