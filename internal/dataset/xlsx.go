package dataset

import (
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/docintel/internal/model"
)

// Non-canonical column names carried by external datasets, mapped to
// the canonical fields they mean. Checked before the fuzzy match.
var headerAliases = map[string]string{
	"invoice_no":    model.FieldInvoiceNumber,
	"invoice_id":    model.FieldInvoiceNumber,
	"inv_number":    model.FieldInvoiceNumber,
	"date":          model.FieldInvoiceDate,
	"vendor":        model.FieldSupplierName,
	"vendor_name":   model.FieldSupplierName,
	"supplier":      model.FieldSupplierName,
	"seller_name":   model.FieldSupplierName,
	"buyer_name":    model.FieldCustomerName,
	"customer":      model.FieldCustomerName,
	"client_name":   model.FieldCustomerName,
	"tax":           model.FieldTaxAmount,
	"vat":           model.FieldTaxAmount,
	"total":         model.FieldTotalAmount,
	"amount":        model.FieldTotalAmount,
	"net_amount":    model.FieldSubtotal,
	"gross_amount":  model.FieldTotalAmount,
	"currency_code": model.FieldCurrency,
}

// Extra columns a converted sheet may carry besides invoice fields.
const (
	colDocumentID = "document_id"
	colOCRText    = "ocr_text"
)

// canonicalField maps a sheet header to a canonical field name. Exact
// match on the normalized header wins, then the alias table, then the
// closest canonical name within levenshtein distance 2. Unmappable
// headers return ok=false and their column is ignored.
func canonicalField(header string) (string, bool) {
	h := normalizeHeader(header)
	if h == "" {
		return "", false
	}
	if h == colDocumentID || h == colOCRText {
		return h, true
	}
	for _, name := range model.FieldNames {
		if h == name {
			return name, true
		}
	}
	if name, ok := headerAliases[h]; ok {
		return name, true
	}

	best, bestDist := "", 3
	for _, name := range model.FieldNames {
		if d := levenshtein.ComputeDistance(h, name); d < bestDist {
			best, bestDist = name, d
		}
	}
	return best, best != ""
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, " ", "_")
	h = strings.ReplaceAll(h, "-", "_")
	return h
}

// ConvertXLSX reads an external XLSX dataset into gold samples. The
// first row must be a header row; columns that map to no canonical
// field are skipped. Dates must be ISO (2006-01-02) and amounts plain
// decimals; a cell that fails to parse leaves its field null.
func ConvertXLSX(path string) ([]GoldSample, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: open xlsx %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("dataset: xlsx %s has no sheets", path)
	}

	sheet := f.Sheets[0]
	if len(sheet.Rows) < 2 {
		return nil, eris.Errorf("dataset: xlsx %s has no data rows", path)
	}

	columns := mapHeaders(rowToStrings(sheet.Rows[0]))
	if len(columns) == 0 {
		return nil, eris.Errorf("dataset: xlsx %s has no recognizable columns", path)
	}

	samples := make([]GoldSample, 0, len(sheet.Rows)-1)
	for _, row := range sheet.Rows[1:] {
		cells := rowToStrings(row)
		if emptyRow(cells) {
			continue
		}
		samples = append(samples, buildSample(columns, cells))
	}

	return samples, nil
}

// mapHeaders resolves each column index to a canonical field name.
func mapHeaders(headers []string) map[int]string {
	columns := make(map[int]string)
	for i, h := range headers {
		if name, ok := canonicalField(h); ok {
			columns[i] = name
		}
	}
	return columns
}

func buildSample(columns map[int]string, cells []string) GoldSample {
	var sample GoldSample
	for i, name := range columns {
		if i >= len(cells) {
			continue
		}
		value := strings.TrimSpace(cells[i])
		if value == "" {
			continue
		}
		switch name {
		case colDocumentID:
			sample.DocumentID = value
		case colOCRText:
			sample.OCRText = value
		default:
			setField(&sample.Expected, name, value)
		}
	}
	return sample
}

func setField(inv *model.Invoice, name, value string) {
	switch name {
	case model.FieldInvoiceNumber:
		inv.InvoiceNumber = &value
	case model.FieldInvoiceDate:
		inv.InvoiceDate = parseISODate(value)
	case model.FieldDueDate:
		inv.DueDate = parseISODate(value)
	case model.FieldSupplierName:
		inv.SupplierName = &value
	case model.FieldSupplierAddress:
		inv.SupplierAddress = &value
	case model.FieldCustomerName:
		inv.CustomerName = &value
	case model.FieldSubtotal:
		inv.Subtotal = parseAmount(value)
	case model.FieldTaxAmount:
		inv.TaxAmount = parseAmount(value)
	case model.FieldTotalAmount:
		inv.TotalAmount = parseAmount(value)
	case model.FieldCurrency:
		upper := strings.ToUpper(value)
		inv.Currency = &upper
	}
}

func parseISODate(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}

func parseAmount(s string) *decimal.Decimal {
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimPrefix(s, "$")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

func emptyRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		cells[i] = cell.String()
	}
	return cells
}
