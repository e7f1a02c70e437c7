package dataset

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/docintel/internal/model"
)

func writeGoldFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gold.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadGold(t *testing.T) {
	path := writeGoldFile(t, `[
		{
			"document_id": "inv-001",
			"ocr_text": "Invoice INV-001\nTotal: $150.00",
			"expected": {
				"invoice_number": "INV-001",
				"invoice_date": "2026-01-15T00:00:00Z",
				"total_amount": "150.00",
				"currency": "USD"
			}
		},
		{
			"ocr_text": "illegible scan",
			"expected": {}
		}
	]`)

	samples, err := LoadGold(path)
	require.NoError(t, err)
	require.Len(t, samples, 2)

	assert.Equal(t, "inv-001", samples[0].DocumentID)
	assert.Contains(t, samples[0].OCRText, "INV-001")
	require.NotNil(t, samples[0].Expected.InvoiceNumber)
	assert.Equal(t, "INV-001", *samples[0].Expected.InvoiceNumber)
	require.NotNil(t, samples[0].Expected.TotalAmount)
	assert.True(t, samples[0].Expected.TotalAmount.Equal(*model.Money("150.00")))

	assert.Nil(t, samples[1].Expected.InvoiceNumber)
}

func TestLoadGold_Empty(t *testing.T) {
	path := writeGoldFile(t, `[]`)
	_, err := LoadGold(path)
	assert.ErrorContains(t, err, "no samples")
}

func TestLoadGold_Malformed(t *testing.T) {
	path := writeGoldFile(t, `{not json`)
	_, err := LoadGold(path)
	assert.ErrorContains(t, err, "parse gold file")
}

func TestLoadGold_MissingFile(t *testing.T) {
	_, err := LoadGold(filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorContains(t, err, "read gold file")
}

func TestSaveGold_RoundTrip(t *testing.T) {
	samples := []GoldSample{
		{
			DocumentID: "inv-001",
			OCRText:    "Invoice INV-001",
			Expected: model.Invoice{
				InvoiceNumber: model.Ptr("INV-001"),
				InvoiceDate:   model.Date(2026, time.January, 15),
				TotalAmount:   model.Money("150.00"),
			},
		},
	}
	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, SaveGold(path, samples))

	got, err := LoadGold(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "inv-001", got[0].DocumentID)
	require.NotNil(t, got[0].Expected.InvoiceDate)
	assert.Equal(t, 2026, got[0].Expected.InvoiceDate.Year())
}

func TestRecords_AssignsPositionalIDs(t *testing.T) {
	samples := []GoldSample{
		{DocumentID: "inv-001"},
		{OCRText: "no id"},
	}

	records := Records(samples)
	require.Len(t, records, 2)
	assert.Equal(t, "inv-001", records[0].DocumentID)
	assert.Equal(t, "sample-002", records[1].DocumentID)
}

func TestCanonicalField(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"invoice_number", model.FieldInvoiceNumber, true},
		{"Invoice Number", model.FieldInvoiceNumber, true},
		{"invoice-number", model.FieldInvoiceNumber, true},
		{"invoice_no", model.FieldInvoiceNumber, true},
		{"vendor", model.FieldSupplierName, true},
		{"VAT", model.FieldTaxAmount, true},
		// One typo away from a canonical name.
		{"invoce_number", model.FieldInvoiceNumber, true},
		{"curency", model.FieldCurrency, true},
		{"document_id", colDocumentID, true},
		{"ocr_text", colOCRText, true},
		{"line_items", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := canonicalField(tt.header)
		assert.Equal(t, tt.ok, ok, "header %q", tt.header)
		if tt.ok {
			assert.Equal(t, tt.want, got, "header %q", tt.header)
		}
	}
}

func createTestXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Invoices")
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sheet.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "dataset.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestConvertXLSX(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"document_id", "Invoice Number", "Date", "Vendor", "Total", "currency", "notes"},
		{"inv-001", "INV-001", "2026-01-15", "Acme Corp", "1,250.00", "usd", "ignored"},
		{"inv-002", "INV-002", "not-a-date", "Globex", "$99.95", "EUR", ""},
		{"", "", "", "", "", "", ""},
	})

	samples, err := ConvertXLSX(path)
	require.NoError(t, err)
	require.Len(t, samples, 2)

	first := samples[0]
	assert.Equal(t, "inv-001", first.DocumentID)
	require.NotNil(t, first.Expected.InvoiceNumber)
	assert.Equal(t, "INV-001", *first.Expected.InvoiceNumber)
	require.NotNil(t, first.Expected.InvoiceDate)
	assert.Equal(t, time.January, first.Expected.InvoiceDate.Month())
	require.NotNil(t, first.Expected.SupplierName)
	assert.Equal(t, "Acme Corp", *first.Expected.SupplierName)
	require.NotNil(t, first.Expected.TotalAmount)
	assert.True(t, first.Expected.TotalAmount.Equal(*model.Money("1250.00")))
	require.NotNil(t, first.Expected.Currency)
	assert.Equal(t, "USD", *first.Expected.Currency)

	// Unparseable date stays null, currency symbol stripped from amount.
	second := samples[1]
	assert.Nil(t, second.Expected.InvoiceDate)
	require.NotNil(t, second.Expected.TotalAmount)
	assert.True(t, second.Expected.TotalAmount.Equal(*model.Money("99.95")))
}

func TestConvertXLSX_NoRecognizableColumns(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"alpha", "beta"},
		{"1", "2"},
	})
	_, err := ConvertXLSX(path)
	assert.ErrorContains(t, err, "no recognizable columns")
}

func TestConvertXLSX_NoDataRows(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"invoice_number"},
	})
	_, err := ConvertXLSX(path)
	assert.ErrorContains(t, err, "no data rows")
}

func TestConvertCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.csv")
	csv := "invoice_no,supplier,total_amount,tax\nINV-100,Initech,500.00,40.00\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	samples, err := ConvertCSV(path)
	require.NoError(t, err)
	require.Len(t, samples, 1)

	s := samples[0]
	require.NotNil(t, s.Expected.InvoiceNumber)
	assert.Equal(t, "INV-100", *s.Expected.InvoiceNumber)
	require.NotNil(t, s.Expected.SupplierName)
	assert.Equal(t, "Initech", *s.Expected.SupplierName)
	require.NotNil(t, s.Expected.TaxAmount)
	assert.True(t, s.Expected.TaxAmount.Equal(*model.Money("40.00")))
}

func TestConvertCSV_HeaderOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.csv")
	require.NoError(t, os.WriteFile(path, []byte("invoice_number\n"), 0o644))

	_, err := ConvertCSV(path)
	assert.ErrorContains(t, err, "no data rows")
}
