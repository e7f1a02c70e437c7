package extract

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/docintel/internal/model"
)

// Local extracts invoices with regex heuristics over the OCR text. No
// network, no model files; accuracy is far below the LLM providers but
// it is always available, which makes it the fallback and the floor
// every other provider gets compared against.
type Local struct{}

// NewLocal creates the heuristic provider.
func NewLocal() *Local { return &Local{} }

func (l *Local) Name() string { return "local" }

func (l *Local) Available() bool { return true }

var (
	reInvoiceNumber = regexp.MustCompile(`(?im)invoice\s*(?:number|no\.?|#)\s*[:#]?\s*([A-Za-z0-9][A-Za-z0-9/-]*)`)
	reInvoiceDate   = regexp.MustCompile(`(?im)(?:invoice\s+date|date\s+of\s+issue|issued)\s*:?\s*([^\n]+)`)
	reDueDate       = regexp.MustCompile(`(?im)(?:due\s+date|payment\s+due)\s*:?\s*([^\n]+)`)
	reSubtotal      = regexp.MustCompile(`(?im)\bsub\s*-?\s*total\b\s*:?\s*[$€£]?\s*([\d,]+(?:\.\d{1,2})?)`)
	reTax           = regexp.MustCompile(`(?im)\b(?:tax|vat|gst)\b(?:\s*\([^)]*\))?\s*:?\s*[$€£]?\s*([\d,]+(?:\.\d{1,2})?)`)
	reTotal         = regexp.MustCompile(`(?im)(?:\btotal\b(?:\s+amount)?(?:\s+due)?|\bamount\s+due\b|\bbalance\s+due\b|\bgrand\s+total\b)\s*:?\s*[$€£]?\s*([\d,]+(?:\.\d{1,2})?)`)
	reCurrencyCode  = regexp.MustCompile(`\b(USD|EUR|GBP|CAD|AUD|CHF|JPY|SEK|NOK|DKK)\b`)
)

func (l *Local) Extract(_ context.Context, text string) (*model.Invoice, error) {
	if strings.TrimSpace(text) == "" {
		return nil, eris.New("extract: empty document text")
	}

	inv := &model.Invoice{
		InvoiceNumber: firstGroup(reInvoiceNumber, text),
		InvoiceDate:   parseFoundDate(reInvoiceDate, text),
		DueDate:       parseFoundDate(reDueDate, text),
		SupplierName:  guessSupplier(text),
		Subtotal:      parseFoundAmount(reSubtotal, text),
		TaxAmount:     parseFoundAmount(reTax, text),
		TotalAmount:   parseFoundAmount(reTotal, text),
		Currency:      guessCurrency(text),
	}

	score := confidence(inv)
	inv.ConfidenceScore = &score

	return inv, nil
}

func firstGroup(re *regexp.Regexp, text string) *string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	s := strings.TrimSpace(m[1])
	if s == "" {
		return nil
	}
	return &s
}

func parseFoundDate(re *regexp.Regexp, text string) *time.Time {
	raw := firstGroup(re, text)
	if raw == nil {
		return nil
	}

	t, err := dateparse.ParseAny(strings.TrimSpace(*raw))
	if err != nil {
		return nil
	}

	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &day
}

func parseFoundAmount(re *regexp.Regexp, text string) *decimal.Decimal {
	raw := firstGroup(re, text)
	if raw == nil {
		return nil
	}

	d, err := decimal.NewFromString(strings.ReplaceAll(*raw, ",", ""))
	if err != nil {
		return nil
	}
	return &d
}

// guessSupplier takes the first non-empty line that is not an obvious
// label. Invoices almost always lead with the issuer's letterhead.
func guessSupplier(text string) *string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "invoice") || strings.HasPrefix(lower, "bill") ||
			strings.HasPrefix(lower, "date") || strings.HasPrefix(lower, "page") {
			continue
		}
		return &line
	}
	return nil
}

func guessCurrency(text string) *string {
	if m := reCurrencyCode.FindString(text); m != "" {
		return &m
	}

	switch {
	case strings.ContainsRune(text, '€'):
		return model.Ptr("EUR")
	case strings.ContainsRune(text, '£'):
		return model.Ptr("GBP")
	case strings.ContainsRune(text, '$'):
		return model.Ptr("USD")
	}
	return nil
}

// confidence is the fraction of canonical fields the heuristics filled.
func confidence(inv *model.Invoice) float64 {
	found := 0
	for _, name := range model.FieldNames {
		if inv.Value(name) != nil {
			found++
		}
	}
	return float64(found) / float64(len(model.FieldNames))
}
