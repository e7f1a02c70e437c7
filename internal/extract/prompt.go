package extract

import "strings"

// systemPrompt instructs the model to emit exactly the invoice schema.
// All LLM providers share it so results stay comparable across models.
const systemPrompt = `You are an invoice data extraction engine. Given the text of an invoice, extract the following fields and respond with a single JSON object, nothing else:

{
  "invoice_number": string or null,
  "invoice_date": "YYYY-MM-DD" or null,
  "due_date": "YYYY-MM-DD" or null,
  "supplier_name": string or null,
  "supplier_address": string or null,
  "customer_name": string or null,
  "subtotal": number or null,
  "tax_amount": number or null,
  "total_amount": number or null,
  "currency": ISO 4217 code or null,
  "confidence_score": number between 0 and 1
}

Rules:
- Use null for any field not present in the document. Never guess.
- Dates must be ISO format (YYYY-MM-DD).
- Amounts are plain numbers without currency symbols or thousands separators.
- currency is the three-letter ISO code (e.g. "USD", "EUR").
- confidence_score reflects how certain you are about the extraction overall.`

// defaultMaxPromptLen bounds the document text sent to a model when the
// config does not set one.
const defaultMaxPromptLen = 12000

// buildUserPrompt wraps the OCR text, truncating it to maxLen runes so a
// scanned 40-page attachment cannot blow the context window.
func buildUserPrompt(text string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = defaultMaxPromptLen
	}

	text = strings.TrimSpace(text)
	if runes := []rune(text); len(runes) > maxLen {
		text = string(runes[:maxLen]) + "\n[truncated]"
	}

	return "Extract the invoice fields from this document:\n\n" + text
}
