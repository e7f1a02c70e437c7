package model

import (
	"encoding/json"
	"time"
)

// DocumentStatus tracks a document through the processing pipeline.
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// Document is an uploaded invoice file and its pipeline state.
type Document struct {
	ID          string         `json:"id"`
	Filename    string         `json:"filename"`
	ContentType string         `json:"content_type"`
	SizeBytes   int64          `json:"size_bytes"`
	StoragePath string         `json:"storage_path"`
	ArchiveKey  string         `json:"archive_key,omitempty"`
	OCRText     string         `json:"ocr_text,omitempty"`
	Status      DocumentStatus `json:"status"`
	FailReason  string         `json:"fail_reason,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Extraction is one provider's structured read of a document.
type Extraction struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Provider   string    `json:"provider"`
	Invoice    *Invoice  `json:"invoice"`
	LatencyMS  int64     `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// GoldRecord pairs a document identifier with its hand-verified invoice.
// The gold dataset is the ground truth evaluation runs score against.
type GoldRecord struct {
	DocumentID string  `json:"document_id"`
	Invoice    Invoice `json:"invoice"`
}

// EvalRun records one evaluation pass of a provider against a gold
// dataset. Report holds the serialized per-field metrics so old runs
// stay readable even as the report shape evolves.
type EvalRun struct {
	ID        string          `json:"id"`
	Provider  string          `json:"provider"`
	Samples   int             `json:"samples"`
	MacroF1   float64         `json:"macro_f1"`
	Report    json.RawMessage `json:"report,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
