// Package dataset loads, converts, and fetches gold invoice datasets.
// A gold dataset pairs document text with the invoice a perfect
// extractor would produce, and drives evaluation and drift replay.
package dataset

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docintel/internal/model"
)

// GoldSample is one labeled document: the OCR text an extractor sees
// and the invoice it should produce.
type GoldSample struct {
	DocumentID string        `json:"document_id,omitempty"`
	OCRText    string        `json:"ocr_text"`
	Expected   model.Invoice `json:"expected"`
}

// LoadGold reads a JSON array of gold samples from path.
func LoadGold(path string) ([]GoldSample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: read gold file %s", path)
	}

	var samples []GoldSample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, eris.Wrapf(err, "dataset: parse gold file %s", path)
	}
	if len(samples) == 0 {
		return nil, eris.Errorf("dataset: gold file %s contains no samples", path)
	}
	return samples, nil
}

// SaveGold writes samples as a JSON array, the format LoadGold reads.
func SaveGold(path string, samples []GoldSample) error {
	data, err := json.MarshalIndent(samples, "", "  ")
	if err != nil {
		return eris.Wrap(err, "dataset: marshal gold samples")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "dataset: write gold file %s", path)
	}
	return nil
}

// Records converts samples into store import records. Samples without a
// document id get a positional one so the import stays keyed.
func Records(samples []GoldSample) []model.GoldRecord {
	records := make([]model.GoldRecord, 0, len(samples))
	for i, s := range samples {
		id := s.DocumentID
		if id == "" {
			id = fmt.Sprintf("sample-%03d", i+1)
		}
		records = append(records, model.GoldRecord{DocumentID: id, Invoice: s.Expected})
	}
	return records
}
