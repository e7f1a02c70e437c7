// Package model defines the core domain models used throughout the pipeline.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Canonical invoice field names, in evaluation order. These are the wire
// names used by extraction providers, gold datasets, and reports alike.
const (
	FieldInvoiceNumber   = "invoice_number"
	FieldInvoiceDate     = "invoice_date"
	FieldDueDate         = "due_date"
	FieldSupplierName    = "supplier_name"
	FieldSupplierAddress = "supplier_address"
	FieldCustomerName    = "customer_name"
	FieldSubtotal        = "subtotal"
	FieldTaxAmount       = "tax_amount"
	FieldTotalAmount     = "total_amount"
	FieldCurrency        = "currency"
)

// FieldNames lists all canonical invoice fields in evaluation order.
// ConfidenceScore is deliberately absent: it describes the extraction,
// not the invoice, and is never matched against ground truth.
var FieldNames = []string{
	FieldInvoiceNumber,
	FieldInvoiceDate,
	FieldDueDate,
	FieldSupplierName,
	FieldSupplierAddress,
	FieldCustomerName,
	FieldSubtotal,
	FieldTaxAmount,
	FieldTotalAmount,
	FieldCurrency,
}

// Invoice is a structured invoice record extracted from a document.
// Every field is optional; a nil pointer means the extractor produced no
// value for it. A fully-nil invoice is valid and represents a total
// extraction failure.
type Invoice struct {
	InvoiceNumber   *string          `json:"invoice_number"`
	InvoiceDate     *time.Time       `json:"invoice_date"`
	DueDate         *time.Time       `json:"due_date"`
	SupplierName    *string          `json:"supplier_name"`
	SupplierAddress *string          `json:"supplier_address"`
	CustomerName    *string          `json:"customer_name"`
	Subtotal        *decimal.Decimal `json:"subtotal"`
	TaxAmount       *decimal.Decimal `json:"tax_amount"`
	TotalAmount     *decimal.Decimal `json:"total_amount"`
	Currency        *string          `json:"currency"`

	// ConfidenceScore is the extractor's own 0..1 estimate, when it
	// reports one.
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`
}

// Value returns the named field as an untyped value, or nil when the field
// is null or unknown. String fields come back as string, date fields as
// time.Time, and money fields as decimal.Decimal, so a nil check on the
// result is always sufficient.
func (inv *Invoice) Value(field string) any {
	if inv == nil {
		return nil
	}

	switch field {
	case FieldInvoiceNumber:
		return strValue(inv.InvoiceNumber)
	case FieldInvoiceDate:
		return timeValue(inv.InvoiceDate)
	case FieldDueDate:
		return timeValue(inv.DueDate)
	case FieldSupplierName:
		return strValue(inv.SupplierName)
	case FieldSupplierAddress:
		return strValue(inv.SupplierAddress)
	case FieldCustomerName:
		return strValue(inv.CustomerName)
	case FieldSubtotal:
		return decValue(inv.Subtotal)
	case FieldTaxAmount:
		return decValue(inv.TaxAmount)
	case FieldTotalAmount:
		return decValue(inv.TotalAmount)
	case FieldCurrency:
		return strValue(inv.Currency)
	default:
		return nil
	}
}

// Fields returns all canonical fields as a name -> value map. Null fields
// map to nil entries so every key is always present.
func (inv *Invoice) Fields() map[string]any {
	out := make(map[string]any, len(FieldNames))
	for _, name := range FieldNames {
		out[name] = inv.Value(name)
	}

	return out
}

func strValue(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func timeValue(p *time.Time) any {
	if p == nil {
		return nil
	}
	return *p
}

func decValue(p *decimal.Decimal) any {
	if p == nil {
		return nil
	}
	return *p
}

// Ptr returns a pointer to v. Convenience for building invoice literals.
func Ptr[T any](v T) *T {
	return &v
}

// Date builds a UTC midnight time.Time pointer for date-valued fields.
func Date(year int, month time.Month, day int) *time.Time {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &t
}

// Money builds a decimal pointer from a display string like "1234.56".
// Invalid input yields nil, matching an absent field.
func Money(s string) *decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}
