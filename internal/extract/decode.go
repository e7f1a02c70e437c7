package extract

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/sells-group/docintel/internal/model"
)

// invoicePayload is the loose shape models actually return. Dates arrive
// in whatever format the invoice used, amounts as numbers or quoted
// strings; everything gets coerced into the strict model.Invoice.
type invoicePayload struct {
	InvoiceNumber   *string         `json:"invoice_number"`
	InvoiceDate     *string         `json:"invoice_date"`
	DueDate         *string         `json:"due_date"`
	SupplierName    *string         `json:"supplier_name"`
	SupplierAddress *string         `json:"supplier_address"`
	CustomerName    *string         `json:"customer_name"`
	Subtotal        json.RawMessage `json:"subtotal"`
	TaxAmount       json.RawMessage `json:"tax_amount"`
	TotalAmount     json.RawMessage `json:"total_amount"`
	Currency        *string         `json:"currency"`
	ConfidenceScore *float64        `json:"confidence_score"`
}

// DecodeInvoice parses a model response into an invoice. It tolerates
// markdown fences and prose around the JSON object, lenient date formats,
// and amounts quoted as strings. Unparseable individual fields become
// nil rather than failing the whole decode.
func DecodeInvoice(raw string) (*model.Invoice, error) {
	jsonText := extractJSONObject(raw)
	if jsonText == "" {
		return nil, eris.Errorf("extract: no JSON object in response: %.120s", raw)
	}

	var p invoicePayload
	if err := json.Unmarshal([]byte(jsonText), &p); err != nil {
		return nil, eris.Wrap(err, "extract: decode invoice JSON")
	}

	inv := &model.Invoice{
		InvoiceNumber:   cleanString(p.InvoiceNumber),
		InvoiceDate:     coerceDate(p.InvoiceDate),
		DueDate:         coerceDate(p.DueDate),
		SupplierName:    cleanString(p.SupplierName),
		SupplierAddress: cleanString(p.SupplierAddress),
		CustomerName:    cleanString(p.CustomerName),
		Subtotal:        coerceAmount(p.Subtotal),
		TaxAmount:       coerceAmount(p.TaxAmount),
		TotalAmount:     coerceAmount(p.TotalAmount),
		Currency:        coerceCurrency(p.Currency),
		ConfidenceScore: p.ConfidenceScore,
	}

	return inv, nil
}

// extractJSONObject returns the outermost {...} span in s, skipping any
// markdown fences or prose the model wrapped around it.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func cleanString(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	return &s
}

// coerceDate accepts ISO dates as well as the national formats invoices
// actually carry ("01/15/2024", "15 Jan 2024"). Midnight UTC, date only.
func coerceDate(p *string) *time.Time {
	s := cleanString(p)
	if s == nil {
		return nil
	}

	if t, err := time.Parse("2006-01-02", *s); err == nil {
		return &t
	}

	t, err := dateparse.ParseAny(*s)
	if err != nil {
		return nil
	}

	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &day
}

// coerceAmount parses a JSON number (or quoted amount string) into a
// decimal, stripping currency symbols and thousands separators first.
func coerceAmount(raw json.RawMessage) *decimal.Decimal {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil
	}

	if strings.HasPrefix(s, `"`) {
		var quoted string
		if err := json.Unmarshal(raw, &quoted); err != nil {
			return nil
		}
		s = quoted
	}

	s = strings.Map(func(r rune) rune {
		switch r {
		case '$', '€', '£', ',', ' ':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

// coerceCurrency validates against ISO 4217 and normalizes case. Codes
// the currency table does not know become nil.
func coerceCurrency(p *string) *string {
	s := cleanString(p)
	if s == nil {
		return nil
	}

	unit, err := currency.ParseISO(strings.ToUpper(*s))
	if err != nil {
		return nil
	}

	code := unit.String()
	return &code
}
