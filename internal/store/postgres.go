package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/docintel/internal/db"
	"github.com/sells-group/docintel/internal/model"
	"github.com/sells-group/docintel/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot pipeline path.
var preparedStatements = map[string]string{
	"insert_document":        `INSERT INTO documents (id, filename, content_type, size_bytes, storage_path, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	"update_document_status": `UPDATE documents SET status = $1, fail_reason = $2, updated_at = $3 WHERE id = $4`,
	"set_document_text":      `UPDATE documents SET ocr_text = $1, updated_at = $2 WHERE id = $3`,
	"get_document":           `SELECT id, filename, content_type, size_bytes, storage_path, archive_key, ocr_text, status, fail_reason, created_at, updated_at FROM documents WHERE id = $1`,
	"insert_extraction":      `INSERT INTO extractions (id, document_id, provider, invoice, latency_ms, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"latest_extraction":      `SELECT id, document_id, provider, invoice, latency_ms, created_at FROM extractions WHERE document_id = $1 AND provider = $2 ORDER BY created_at DESC LIMIT 1`,
	"insert_eval_run":        `INSERT INTO eval_runs (id, provider, samples, macro_f1, report, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access (e.g., bulk gold-dataset loads).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	filename     TEXT NOT NULL,
	content_type TEXT NOT NULL,
	size_bytes   BIGINT NOT NULL DEFAULT 0,
	storage_path TEXT NOT NULL,
	archive_key  TEXT,
	ocr_text     TEXT,
	status       TEXT NOT NULL DEFAULT 'pending',
	fail_reason  TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS extractions (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	document_id TEXT NOT NULL REFERENCES documents(id),
	provider    TEXT NOT NULL,
	invoice     JSONB NOT NULL,
	latency_ms  BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS eval_runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	provider   TEXT NOT NULL,
	samples    INTEGER NOT NULL DEFAULT 0,
	macro_f1   DOUBLE PRECISION NOT NULL DEFAULT 0,
	report     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS gold_invoices (
	document_id TEXT PRIMARY KEY,
	invoice     JSONB NOT NULL,
	imported_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	job_id         TEXT NOT NULL,
	document_id    TEXT NOT NULL,
	provider       TEXT,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	failed_stage   TEXT,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_extractions_document_id ON extractions(document_id);
CREATE INDEX IF NOT EXISTS idx_extractions_provider_created ON extractions(provider, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_eval_runs_provider_created ON eval_runs(provider, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, filename, contentType string, sizeBytes int64, storagePath string) (*model.Document, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, filename, content_type, size_bytes, storage_path, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, filename, contentType, sizeBytes, storagePath, string(model.DocumentStatusPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert document")
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

func (s *PostgresStore) UpdateDocumentStatus(ctx context.Context, docID string, status model.DocumentStatus, failReason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $1, fail_reason = $2, updated_at = $3 WHERE id = $4`,
		string(status), nullIfEmpty(failReason), time.Now().UTC(), docID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update document status %s", docID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("document not found: %s", docID)
	}
	return nil
}

func (s *PostgresStore) SetDocumentText(ctx context.Context, docID string, text string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET ocr_text = $1, updated_at = $2 WHERE id = $3`,
		text, time.Now().UTC(), docID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set document text %s", docID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("document not found: %s", docID)
	}
	return nil
}

func (s *PostgresStore) SetDocumentArchiveKey(ctx context.Context, docID string, key string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET archive_key = $1, updated_at = $2 WHERE id = $3`,
		key, time.Now().UTC(), docID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set document archive key %s", docID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("document not found: %s", docID)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, docID string) (*model.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, filename, content_type, size_bytes, storage_path, archive_key, ocr_text, status, fail_reason, created_at, updated_at
		 FROM documents WHERE id = $1`,
		docID,
	)
	d, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("document not found: %s", docID)
		}
		return nil, eris.Wrapf(err, "postgres: get document %s", docID)
	}
	return d, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.Document, error) {
	query := `SELECT id, filename, content_type, size_bytes, storage_path, archive_key, ocr_text, status, fail_reason, created_at, updated_at
	          FROM documents WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list documents")
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		docs = append(docs, *d)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: list documents iterate")
}

func (s *PostgresStore) CreateExtraction(ctx context.Context, docID, provider string, inv *model.Invoice, latencyMS int64) (*model.Extraction, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	invoiceJSON, err := json.Marshal(inv)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal invoice")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO extractions (id, document_id, provider, invoice, latency_ms, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, docID, provider, invoiceJSON, latencyMS, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert extraction for %s", docID)
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

func (s *PostgresStore) ListExtractions(ctx context.Context, docID string) ([]model.Extraction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, provider, invoice, latency_ms, created_at
		 FROM extractions WHERE document_id = $1 ORDER BY created_at DESC`,
		docID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list extractions")
	}
	defer rows.Close()

	var exts []model.Extraction
	for rows.Next() {
		e, err := scanExtraction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan extraction")
		}
		exts = append(exts, *e)
	}
	return exts, eris.Wrap(rows.Err(), "postgres: list extractions iterate")
}

func (s *PostgresStore) LatestExtraction(ctx context.Context, docID, provider string) (*model.Extraction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, document_id, provider, invoice, latency_ms, created_at
		 FROM extractions WHERE document_id = $1 AND provider = $2
		 ORDER BY created_at DESC LIMIT 1`,
		docID, provider,
	)
	e, err := scanExtraction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: latest extraction")
	}
	return e, nil
}

func (s *PostgresStore) CreateEvalRun(ctx context.Context, provider string, samples int, macroF1 float64, report []byte) (*model.EvalRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO eval_runs (id, provider, samples, macro_f1, report, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, provider, samples, macroF1, report, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert eval run")
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

func (s *PostgresStore) ListEvalRuns(ctx context.Context, provider string, limit int) ([]model.EvalRun, error) {
	query := `SELECT id, provider, samples, macro_f1, report, created_at FROM eval_runs WHERE true`
	args := []any{}
	argIdx := 1

	if provider != "" {
		query += fmt.Sprintf(` AND provider = $%d`, argIdx)
		args = append(args, provider)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list eval runs")
	}
	defer rows.Close()

	var runs []model.EvalRun
	for rows.Next() {
		var r model.EvalRun
		var report *[]byte
		if err := rows.Scan(&r.ID, &r.Provider, &r.Samples, &r.MacroF1, &report, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan eval run")
		}
		if report != nil {
			r.Report = *report
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list eval runs iterate")
}

// ImportGoldInvoices bulk-loads the gold dataset keyed by document id.
// An initial load into an empty table goes over the plain COPY protocol;
// re-imports take the temp-table upsert so existing records are updated
// in place.
func (s *PostgresStore) ImportGoldInvoices(ctx context.Context, records []model.GoldRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(records))
	now := time.Now().UTC()
	for _, rec := range records {
		invoiceJSON, err := json.Marshal(rec.Invoice)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal gold invoice %s", rec.DocumentID)
		}
		rows = append(rows, []any{rec.DocumentID, invoiceJSON, now})
	}

	columns := []string{"document_id", "invoice", "imported_at"}

	var existing int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM gold_invoices`).Scan(&existing); err != nil {
		return 0, eris.Wrap(err, "postgres: count gold invoices")
	}
	if existing == 0 {
		n, err := db.CopyFrom(ctx, s.pool, "gold_invoices", columns, rows)
		return n, eris.Wrap(err, "postgres: import gold invoices")
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "gold_invoices",
		Columns:      columns,
		ConflictKeys: []string{"document_id"},
	}, rows)
	return n, eris.Wrap(err, "postgres: import gold invoices")
}

func (s *PostgresStore) ListGoldInvoices(ctx context.Context) ([]model.GoldRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT document_id, invoice FROM gold_invoices ORDER BY document_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list gold invoices")
	}
	defer rows.Close()

	var records []model.GoldRecord
	for rows.Next() {
		var rec model.GoldRecord
		var invoiceJSON []byte
		if err := rows.Scan(&rec.DocumentID, &invoiceJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan gold invoice")
		}
		if err := json.Unmarshal(invoiceJSON, &rec.Invoice); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal gold invoice %s", rec.DocumentID)
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list gold invoices iterate")
}

// Dead letter queue methods

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (id, job_id, document_id, provider, error, error_type, failed_stage, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
		   error = $5, error_type = $6, failed_stage = $7, retry_count = $8,
		   next_retry_at = $10, last_failed_at = $12`,
		entry.ID, entry.JobID, entry.DocumentID, entry.Provider,
		entry.Error, entry.ErrorType, entry.FailedStage,
		entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, job_id, document_id, provider, error, error_type, failed_stage, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue
	          WHERE next_retry_at <= now() AND retry_count < max_retries`
	args := []any{}
	argIdx := 1

	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}
	if filter.Provider != "" {
		query += fmt.Sprintf(` AND provider = $%d`, argIdx)
		args = append(args, filter.Provider)
		argIdx++
	}

	query += ` ORDER BY next_retry_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: dequeue dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var provider, failedStage *string
		if err := rows.Scan(&e.ID, &e.JobID, &e.DocumentID, &provider,
			&e.Error, &e.ErrorType, &failedStage,
			&e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		if provider != nil {
			e.Provider = *provider
		}
		if failedStage != nil {
			e.FailedStage = *failedStage
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: dequeue dlq iterate")
}

func (s *PostgresStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = $1, error = $2, last_failed_at = now()
		 WHERE id = $3`,
		nextRetryAt, lastErr, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment dlq retry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("dlq_entry not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dlq")
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}

// scan helpers shared by QueryRow and Query paths.

type pgScannable interface {
	Scan(dest ...any) error
}

func scanDocument(row pgScannable) (*model.Document, error) {
	var d model.Document
	var archiveKey, ocrText, failReason *string

	err := row.Scan(&d.ID, &d.Filename, &d.ContentType, &d.SizeBytes, &d.StoragePath,
		&archiveKey, &ocrText, &d.Status, &failReason, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if archiveKey != nil {
		d.ArchiveKey = *archiveKey
	}
	if ocrText != nil {
		d.OCRText = *ocrText
	}
	if failReason != nil {
		d.FailReason = *failReason
	}
	return &d, nil
}

func scanExtraction(row pgScannable) (*model.Extraction, error) {
	var e model.Extraction
	var invoiceJSON []byte

	err := row.Scan(&e.ID, &e.DocumentID, &e.Provider, &invoiceJSON, &e.LatencyMS, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Invoice = &model.Invoice{}
	if err := json.Unmarshal(invoiceJSON, e.Invoice); err != nil {
		return nil, eris.Wrap(err, "unmarshal invoice")
	}
	return &e, nil
}

// nullIfEmpty maps "" to SQL NULL for optional text columns.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
