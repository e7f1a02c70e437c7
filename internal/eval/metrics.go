package eval

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/docintel/internal/model"
)

// ErrLengthMismatch is returned by Evaluate when the expected and predicted
// batches differ in length. A mismatch means the caller lost pairwise
// correlation, so it is surfaced instead of guessed around.
var ErrLengthMismatch = eris.New("eval: expected and predicted batches must have the same length")

// Tally holds the per-field confusion counts for one evaluation run.
// Both-null pairs are excluded entirely: a true negative says nothing
// about extractor skill.
type Tally struct {
	TruePositive  int `json:"true_positive"`
	FalsePositive int `json:"false_positive"`
	FalseNegative int `json:"false_negative"`
}

// FieldMetrics is the derived precision/recall/F1 view of a Tally.
// Support is the full batch size, not the number of classified pairs.
type FieldMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Report is the result of one evaluation run. Immutable once built.
type Report struct {
	FieldMetrics map[string]FieldMetrics `json:"field_metrics"`
	Counts       map[string]Tally        `json:"counts"`
	MacroF1      float64                 `json:"macro_f1"`
	TotalSamples int                     `json:"total_samples"`
}

// Evaluate scores a batch of predicted invoices against ground truth.
// expected[i] pairs with predicted[i]; nil entries count as fully-null
// records (a failed extraction).
//
// Each (expected, predicted) field pair lands in exactly one bucket:
// matching non-null values are a true positive; a wrong non-null value
// counts as BOTH a false positive and a false negative (the standard
// treatment for single-valued extraction fields: a spurious answer and a
// missed answer at once); a missing value is a false negative; a spurious
// value is a false positive; both-null pairs are skipped.
func Evaluate(expected, predicted []*model.Invoice) (*Report, error) {
	if len(expected) != len(predicted) {
		return nil, eris.Wrapf(ErrLengthMismatch, "got %d expected, %d predicted", len(expected), len(predicted))
	}

	metrics := make(map[string]FieldMetrics, len(model.FieldNames))
	counts := make(map[string]Tally, len(model.FieldNames))

	var f1Sum float64

	for _, field := range model.FieldNames {
		var tally Tally

		for i := range expected {
			expValue := expected[i].Value(field)
			predValue := predicted[i].Value(field)

			switch {
			case !isNil(expValue) && !isNil(predValue):
				if Match(expValue, predValue) {
					tally.TruePositive++
				} else {
					tally.FalsePositive++
					tally.FalseNegative++
				}
			case !isNil(expValue):
				tally.FalseNegative++
			case !isNil(predValue):
				tally.FalsePositive++
			}
		}

		m := tally.Metrics(len(expected))
		metrics[field] = m
		counts[field] = tally
		f1Sum += m.F1
	}

	return &Report{
		FieldMetrics: metrics,
		Counts:       counts,
		MacroF1:      f1Sum / float64(len(model.FieldNames)),
		TotalSamples: len(expected),
	}, nil
}

// Metrics derives precision/recall/F1 from the tally. Zero denominators
// resolve to 0.0 rather than erroring so report consumers never need
// defensive checks.
func (t Tally) Metrics(support int) FieldMetrics {
	var precision, recall, f1 float64

	if d := t.TruePositive + t.FalsePositive; d > 0 {
		precision = float64(t.TruePositive) / float64(d)
	}
	if d := t.TruePositive + t.FalseNegative; d > 0 {
		recall = float64(t.TruePositive) / float64(d)
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	return FieldMetrics{
		Precision: precision,
		Recall:    recall,
		F1:        f1,
		Support:   support,
	}
}
