package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// isoDate is the wire format for date-valued fields.
const isoDate = "2006-01-02"

// invoiceWire mirrors Invoice with dates as ISO strings and money as JSON
// numbers, matching the provider and gold-dataset contract.
type invoiceWire struct {
	InvoiceNumber   *string          `json:"invoice_number"`
	InvoiceDate     *string          `json:"invoice_date"`
	DueDate         *string          `json:"due_date"`
	SupplierName    *string          `json:"supplier_name"`
	SupplierAddress *string          `json:"supplier_address"`
	CustomerName    *string          `json:"customer_name"`
	Subtotal        *decimal.Decimal `json:"subtotal"`
	TaxAmount       *decimal.Decimal `json:"tax_amount"`
	TotalAmount     *decimal.Decimal `json:"total_amount"`
	Currency        *string          `json:"currency"`
	ConfidenceScore *float64         `json:"confidence_score,omitempty"`
}

// MarshalJSON renders date fields as YYYY-MM-DD strings.
func (inv Invoice) MarshalJSON() ([]byte, error) {
	w := invoiceWire{
		InvoiceNumber:   inv.InvoiceNumber,
		InvoiceDate:     formatDate(inv.InvoiceDate),
		DueDate:         formatDate(inv.DueDate),
		SupplierName:    inv.SupplierName,
		SupplierAddress: inv.SupplierAddress,
		CustomerName:    inv.CustomerName,
		Subtotal:        inv.Subtotal,
		TaxAmount:       inv.TaxAmount,
		TotalAmount:     inv.TotalAmount,
		Currency:        inv.Currency,
		ConfidenceScore: inv.ConfidenceScore,
	}

	return json.Marshal(w)
}

// UnmarshalJSON accepts YYYY-MM-DD date strings (RFC 3339 tolerated for
// records written by older builds).
func (inv *Invoice) UnmarshalJSON(data []byte) error {
	var w invoiceWire
	if err := json.Unmarshal(data, &w); err != nil {
		return eris.Wrap(err, "model: unmarshal invoice")
	}

	invDate, err := parseDate(w.InvoiceDate)
	if err != nil {
		return err
	}
	dueDate, err := parseDate(w.DueDate)
	if err != nil {
		return err
	}

	*inv = Invoice{
		InvoiceNumber:   w.InvoiceNumber,
		InvoiceDate:     invDate,
		DueDate:         dueDate,
		SupplierName:    w.SupplierName,
		SupplierAddress: w.SupplierAddress,
		CustomerName:    w.CustomerName,
		Subtotal:        w.Subtotal,
		TaxAmount:       w.TaxAmount,
		TotalAmount:     w.TotalAmount,
		Currency:        w.Currency,
		ConfidenceScore: w.ConfidenceScore,
	}

	return nil
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(isoDate)
	return &s
}

func parseDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}

	if t, err := time.Parse(isoDate, *s); err == nil {
		return &t, nil
	}

	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil, eris.Errorf("model: invalid date %q", *s)
	}
	t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)

	return &t, nil
}
