package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docintel/internal/config"
	"github.com/sells-group/docintel/internal/model"
	"github.com/sells-group/docintel/internal/resilience"
)

// DocumentFilter specifies criteria for listing documents.
type DocumentFilter struct {
	Status       model.DocumentStatus `json:"status,omitempty"`
	CreatedAfter time.Time            `json:"created_after,omitempty"`
	Limit        int                  `json:"limit,omitempty"`
	Offset       int                  `json:"offset,omitempty"`
}

// Store defines the persistence interface for the document pipeline.
type Store interface {
	// Documents
	CreateDocument(ctx context.Context, filename, contentType string, sizeBytes int64, storagePath string) (*model.Document, error)
	UpdateDocumentStatus(ctx context.Context, docID string, status model.DocumentStatus, failReason string) error
	SetDocumentText(ctx context.Context, docID string, text string) error
	SetDocumentArchiveKey(ctx context.Context, docID string, key string) error
	GetDocument(ctx context.Context, docID string) (*model.Document, error)
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.Document, error)

	// Extractions
	CreateExtraction(ctx context.Context, docID, provider string, inv *model.Invoice, latencyMS int64) (*model.Extraction, error)
	ListExtractions(ctx context.Context, docID string) ([]model.Extraction, error)
	LatestExtraction(ctx context.Context, docID, provider string) (*model.Extraction, error)

	// Evaluation runs
	CreateEvalRun(ctx context.Context, provider string, samples int, macroF1 float64, report []byte) (*model.EvalRun, error)
	ListEvalRuns(ctx context.Context, provider string, limit int) ([]model.EvalRun, error)

	// Gold dataset
	ImportGoldInvoices(ctx context.Context, records []model.GoldRecord) (int64, error)
	ListGoldInvoices(ctx context.Context) ([]model.GoldRecord, error)

	// Dead letter queue
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// New opens the store named by cfg.Driver.
func New(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, nil)
	case "sqlite", "":
		return NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
