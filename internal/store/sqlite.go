package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/docintel/internal/model"
	"github.com/sells-group/docintel/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "docintel.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	filename     TEXT NOT NULL,
	content_type TEXT NOT NULL,
	size_bytes   INTEGER NOT NULL DEFAULT 0,
	storage_path TEXT NOT NULL,
	archive_key  TEXT,
	ocr_text     TEXT,
	status       TEXT NOT NULL DEFAULT 'pending',
	fail_reason  TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS extractions (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	provider    TEXT NOT NULL,
	invoice     TEXT NOT NULL,
	latency_ms  INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS eval_runs (
	id         TEXT PRIMARY KEY,
	provider   TEXT NOT NULL,
	samples    INTEGER NOT NULL DEFAULT 0,
	macro_f1   REAL NOT NULL DEFAULT 0,
	report     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS gold_invoices (
	document_id TEXT PRIMARY KEY,
	invoice     TEXT NOT NULL,
	imported_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	job_id         TEXT NOT NULL,
	document_id    TEXT NOT NULL,
	provider       TEXT,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	failed_stage   TEXT,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  DATETIME NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	last_failed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_extractions_document_id ON extractions(document_id);
CREATE INDEX IF NOT EXISTS idx_extractions_provider_created ON extractions(provider, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_eval_runs_provider_created ON eval_runs(provider, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, filename, contentType string, sizeBytes int64, storagePath string) (*model.Document, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, filename, content_type, size_bytes, storage_path, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, filename, contentType, sizeBytes, storagePath, string(model.DocumentStatusPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert document")
	}

	return &model.Document{
		ID:          id,
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   sizeBytes,
		StoragePath: storagePath,
		Status:      model.DocumentStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *SQLiteStore) UpdateDocumentStatus(ctx context.Context, docID string, status model.DocumentStatus, failReason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, fail_reason = ?, updated_at = ? WHERE id = ?`,
		string(status), nullIfEmpty(failReason), time.Now().UTC(), docID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update document status %s", docID)
	}
	return checkRowsAffected(res, "document", docID)
}

func (s *SQLiteStore) SetDocumentText(ctx context.Context, docID string, text string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET ocr_text = ?, updated_at = ? WHERE id = ?`,
		text, time.Now().UTC(), docID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set document text %s", docID)
	}
	return checkRowsAffected(res, "document", docID)
}

func (s *SQLiteStore) SetDocumentArchiveKey(ctx context.Context, docID string, key string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET archive_key = ?, updated_at = ? WHERE id = ?`,
		key, time.Now().UTC(), docID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set document archive key %s", docID)
	}
	return checkRowsAffected(res, "document", docID)
}

func (s *SQLiteStore) GetDocument(ctx context.Context, docID string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, content_type, size_bytes, storage_path, archive_key, ocr_text, status, fail_reason, created_at, updated_at
		 FROM documents WHERE id = ?`,
		docID,
	)
	d, err := scanSQLiteDocument(row)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("document not found: %s", docID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get document %s", docID)
	}
	return d, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.Document, error) {
	query := `SELECT id, filename, content_type, size_bytes, storage_path, archive_key, ocr_text, status, fail_reason, created_at, updated_at
	          FROM documents WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list documents")
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		d, err := scanSQLiteDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		docs = append(docs, *d)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: list documents iterate")
}

func (s *SQLiteStore) CreateExtraction(ctx context.Context, docID, provider string, inv *model.Invoice, latencyMS int64) (*model.Extraction, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	invoiceJSON, err := json.Marshal(inv)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal invoice")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO extractions (id, document_id, provider, invoice, latency_ms, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, docID, provider, string(invoiceJSON), latencyMS, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert extraction for %s", docID)
	}

	return &model.Extraction{
		ID:         id,
		DocumentID: docID,
		Provider:   provider,
		Invoice:    inv,
		LatencyMS:  latencyMS,
		CreatedAt:  now,
	}, nil
}

func (s *SQLiteStore) ListExtractions(ctx context.Context, docID string) ([]model.Extraction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, provider, invoice, latency_ms, created_at
		 FROM extractions WHERE document_id = ? ORDER BY created_at DESC`,
		docID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list extractions")
	}
	defer rows.Close()

	var exts []model.Extraction
	for rows.Next() {
		e, err := scanSQLiteExtraction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan extraction")
		}
		exts = append(exts, *e)
	}
	return exts, eris.Wrap(rows.Err(), "sqlite: list extractions iterate")
}

func (s *SQLiteStore) LatestExtraction(ctx context.Context, docID, provider string) (*model.Extraction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, provider, invoice, latency_ms, created_at
		 FROM extractions WHERE document_id = ? AND provider = ?
		 ORDER BY created_at DESC LIMIT 1`,
		docID, provider,
	)
	e, err := scanSQLiteExtraction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest extraction")
	}
	return e, nil
}

func (s *SQLiteStore) CreateEvalRun(ctx context.Context, provider string, samples int, macroF1 float64, report []byte) (*model.EvalRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO eval_runs (id, provider, samples, macro_f1, report, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, provider, samples, macroF1, string(report), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert eval run")
	}

	return &model.EvalRun{
		ID:        id,
		Provider:  provider,
		Samples:   samples,
		MacroF1:   macroF1,
		Report:    report,
		CreatedAt: now,
	}, nil
}

func (s *SQLiteStore) ListEvalRuns(ctx context.Context, provider string, limit int) ([]model.EvalRun, error) {
	query := `SELECT id, provider, samples, macro_f1, report, created_at FROM eval_runs WHERE 1=1`
	var args []any

	if provider != "" {
		query += ` AND provider = ?`
		args = append(args, provider)
	}
	query += ` ORDER BY created_at DESC`

	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list eval runs")
	}
	defer rows.Close()

	var runs []model.EvalRun
	for rows.Next() {
		var r model.EvalRun
		var report sql.NullString
		if err := rows.Scan(&r.ID, &r.Provider, &r.Samples, &r.MacroF1, &report, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan eval run")
		}
		if report.Valid {
			r.Report = []byte(report.String)
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list eval runs iterate")
}

// ImportGoldInvoices upserts the gold dataset row by row. SQLite has no
// COPY protocol, so a plain upsert loop inside a transaction is the
// fast path here.
func (s *SQLiteStore) ImportGoldInvoices(ctx context.Context, records []model.GoldRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import gold begin tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var n int64
	for _, rec := range records {
		invoiceJSON, err := json.Marshal(rec.Invoice)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: marshal gold invoice %s", rec.DocumentID)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO gold_invoices (document_id, invoice, imported_at) VALUES (?, ?, ?)`,
			rec.DocumentID, string(invoiceJSON), now,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert gold invoice %s", rec.DocumentID)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: import gold commit tx")
	}
	return n, nil
}

func (s *SQLiteStore) ListGoldInvoices(ctx context.Context) ([]model.GoldRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, invoice FROM gold_invoices ORDER BY document_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list gold invoices")
	}
	defer rows.Close()

	var records []model.GoldRecord
	for rows.Next() {
		var rec model.GoldRecord
		var invoiceJSON string
		if err := rows.Scan(&rec.DocumentID, &invoiceJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan gold invoice")
		}
		if err := json.Unmarshal([]byte(invoiceJSON), &rec.Invoice); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal gold invoice %s", rec.DocumentID)
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list gold invoices iterate")
}

// Dead letter queue methods

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue
		 (id, job_id, document_id, provider, error, error_type, failed_stage, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   error = excluded.error, error_type = excluded.error_type,
		   failed_stage = excluded.failed_stage, retry_count = excluded.retry_count,
		   next_retry_at = excluded.next_retry_at, last_failed_at = excluded.last_failed_at`,
		entry.ID, entry.JobID, entry.DocumentID, entry.Provider,
		entry.Error, entry.ErrorType, entry.FailedStage,
		entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt.UTC(), entry.CreatedAt.UTC(), entry.LastFailedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

func (s *SQLiteStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	// Bind now() from Go so both sides of the comparison share the
	// driver's time encoding.
	query := `SELECT id, job_id, document_id, provider, error, error_type, failed_stage, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue
	          WHERE next_retry_at <= ? AND retry_count < max_retries`
	args := []any{time.Now().UTC()}

	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	if filter.Provider != "" {
		query += ` AND provider = ?`
		args = append(args, filter.Provider)
	}

	query += ` ORDER BY next_retry_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: dequeue dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var provider, failedStage sql.NullString
		if err := rows.Scan(&e.ID, &e.JobID, &e.DocumentID, &provider,
			&e.Error, &e.ErrorType, &failedStage,
			&e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		e.Provider = provider.String
		e.FailedStage = failedStage.String
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: dequeue dlq iterate")
}

func (s *SQLiteStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = ?, error = ?, last_failed_at = ?
		 WHERE id = ?`,
		nextRetryAt.UTC(), lastErr, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment dlq retry %s", id)
	}
	return checkRowsAffected(res, "dlq_entry", id)
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	return eris.Wrap(err, "sqlite: remove dlq")
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dlq")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteDocument(row scannable) (*model.Document, error) {
	var d model.Document
	var archiveKey, ocrText, failReason sql.NullString

	err := row.Scan(&d.ID, &d.Filename, &d.ContentType, &d.SizeBytes, &d.StoragePath,
		&archiveKey, &ocrText, &d.Status, &failReason, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.ArchiveKey = archiveKey.String
	d.OCRText = ocrText.String
	d.FailReason = failReason.String
	return &d, nil
}

func scanSQLiteExtraction(row scannable) (*model.Extraction, error) {
	var e model.Extraction
	var invoiceJSON string

	err := row.Scan(&e.ID, &e.DocumentID, &e.Provider, &invoiceJSON, &e.LatencyMS, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Invoice = &model.Invoice{}
	if err := json.Unmarshal([]byte(invoiceJSON), e.Invoice); err != nil {
		return nil, eris.Wrap(err, "unmarshal invoice")
	}
	return &e, nil
}
