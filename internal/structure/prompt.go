package structure

import (
	"strconv"
	"strings"

	"github.com/joseph-ayodele/docparser/internal/invoice"
)

const exampleInput = `INVOICE #INV-2024-0056
Date: January 15, 2024   Due: February 15, 2024
From: Acme Corp, 123 Main St, NY 10001, Phone: 555-0100, billing@acme.com, VAT: US123456789
To: John Smith (CUST-042), 456 Oak Ave, LA 90001
1. Widget A (WA-100)  Qty 3 x 29.99 = 89.97
2. Widget B (WB-200)  Qty 1 x 49.99 = 49.99
Subtotal: 139.96  Tax 8%: 11.20  Total: 151.16
Payment: Bank transfer to ACC-1234`

const exampleOutput = `{
  "document": {
    "type": "invoice",
    "category": null,
    "subcategory": null,
    "locale": {"language": "en", "currency": "USD", "country": "US"},
    "identifiers": {"document_number": "INV-2024-0056", "reference_numbers": []},
    "dates": {"issue_date": "2024-01-15", "due_date": "2024-02-15", "payment_date": null, "time": null},
    "status": {"payment_status": null}
  },
  "parties": {
    "supplier": {
      "name": "Acme Corp",
      "address": "123 Main St, NY 10001",
      "email": "billing@acme.com",
      "phone": "555-0100",
      "website": null,
      "registrations": [{"type": "VAT", "value": "US123456789"}],
      "payment_details": ["Bank transfer to ACC-1234"]
    },
    "customer": {
      "name": "John Smith",
      "customer_id": "CUST-042",
      "address": "456 Oak Ave, LA 90001",
      "billing_address": null,
      "shipping_address": null,
      "company_registrations": []
    }
  },
  "line_items": [
    {"line_no": 1, "product_code": "WA-100", "description": "Widget A", "quantity": 3, "unit_measure": null, "unit_price": 29.99, "line_total": 89.97, "tax_rate": null, "tax_amount": null},
    {"line_no": 2, "product_code": "WB-200", "description": "Widget B", "quantity": 1, "unit_measure": null, "unit_price": 49.99, "line_total": 49.99, "tax_rate": null, "tax_amount": null}
  ],
  "totals": {"net_amount": 139.96, "tax_amount": 11.20, "gross_amount": 151.16, "tip_amount": null},
  "taxes": [{"code": null, "rate": 8, "base": 139.96, "amount": 11.20}],
  "extraction_metadata": {"fields": {}},
  "page_start": 1,
  "page_end": 1
}`

const fieldGuide = `FIELD MAPPING GUIDE (use these EXACT key names):
- document.identifiers.document_number: invoice/receipt/bill/order/PO number
- document.dates.issue_date: document date (YYYY-MM-DD)
- document.dates.due_date: payment due date (YYYY-MM-DD)
- document.locale.currency: 3-letter ISO code such as CHF, USD, EUR, GBP
- parties.supplier: the seller, vendor, store or company issuing the document
- parties.customer: the buyer or client receiving goods/services
- parties.supplier.registrations: VAT/tax IDs as [{"type":"VAT","value":"CHE-123"}]
- parties.supplier.payment_details: bank/payment info as ["string", ...]
- line_items: one object per product/service line with SEPARATE fields:
    description  = product/service name ONLY (not the whole line)
    quantity     = unit count or weight (a number like 1, 3, 0.5 kg, NEVER a tax rate)
    unit_price   = price for ONE unit
    line_total   = total for this line (copy from text, do NOT calculate)
    tax_rate     = VAT/tax PERCENTAGE for this line (e.g. 7.7), NOT a price
    tax_amount   = tax in currency for this line, NOT a product price
- totals.net_amount: subtotal before tax
- totals.tax_amount: total tax
- totals.gross_amount: final total including tax
- taxes: one entry per tax rate with rate, base, amount

CRITICAL WARNINGS:
- quantity is a COUNT (1, 2, 3, 0.5 kg). Tax rates like 2.5% or 7.7% are NOT quantities.
- tax_amount is a CURRENCY amount. A product price is NOT a tax_amount.
- Do NOT put the entire text line into "description". Split numbers into their own fields.
- Keep descriptions in their ORIGINAL language. Do NOT translate.
- A cashier/clerk name is NOT the customer name.
- Rounding adjustments go into totals, not as a line item.`

// PagePrompt asks the model to structure one page of extracted text.
func PagePrompt(text string, page int) string {
	n := strconv.Itoa(page)
	var b strings.Builder
	b.WriteString("You must extract structured data from document text into JSON.\n\n")
	b.WriteString("=== EXAMPLE ===\nINPUT TEXT:\n")
	b.WriteString(exampleInput)
	b.WriteString("\n\nOUTPUT JSON:\n")
	b.WriteString(exampleOutput)
	b.WriteString("\n=== END EXAMPLE ===\n\n")
	b.WriteString("Now extract from THIS text. Use the EXACT same JSON key names as the example.\n\n")
	b.WriteString("TEXT (page " + n + "):\n")
	b.WriteString(text)
	b.WriteString("\n\n")
	b.WriteString(fieldGuide)
	b.WriteString("\n\nRULES:\n")
	b.WriteString("- Output ONLY valid JSON: no markdown fences, no comments, no explanations\n")
	b.WriteString("- Use the EXACT key names shown in the template. Do NOT invent new keys\n")
	b.WriteString("- Copy numbers exactly as they appear in the text. Do NOT calculate or infer\n")
	b.WriteString("- If a value is missing, use null (or [] for arrays)\n")
	b.WriteString("- Dates as YYYY-MM-DD, currency as ISO 4217 (CHF, USD, EUR ...)\n")
	b.WriteString(`- registrations = [{"type":"...","value":"..."}], never plain strings` + "\n")
	b.WriteString("- page_start = " + n + ", page_end = " + n + "\n\n")
	b.WriteString("TEMPLATE (fill in every key):\n")
	b.WriteString(invoice.Template())
	b.WriteString("\n\nJSON:")
	return b.String()
}

// RepairPrompt asks the model to fix output that failed to parse or validate.
func RepairPrompt(broken, problem string, page int) string {
	n := strconv.Itoa(page)
	var b strings.Builder
	b.WriteString("The following JSON has errors. Fix it to match the template EXACTLY.\n\n")
	b.WriteString("ERROR: " + problem + "\n\n")
	b.WriteString("BROKEN JSON:\n")
	b.WriteString(broken)
	b.WriteString("\n\nTEMPLATE (every key must exist with correct types):\n")
	b.WriteString(invoice.Template())
	b.WriteString("\n\nFIX RULES:\n")
	b.WriteString("- Return ONLY valid JSON, no markdown, no comments\n")
	b.WriteString("- Use EXACTLY the key names in the template. Do NOT rename or add keys\n")
	b.WriteString(`- registrations = [{"type":"...","value":"..."}] (objects, not strings)` + "\n")
	b.WriteString(`- payment_details = ["..."] (strings)` + "\n")
	b.WriteString("- All numbers must be numeric (9.77), not strings\n")
	b.WriteString("- Missing values = null, missing arrays = []\n")
	b.WriteString("- page_start = " + n + ", page_end = " + n + "\n\n")
	b.WriteString("FIXED JSON:")
	return b.String()
}

// TranslatePrompt asks the model to translate string values only.
func TranslatePrompt(jsonText string) string {
	return `Translate ALL text values in this JSON to English.
Keep the JSON structure and keys EXACTLY the same.
Only translate the string VALUES to English.
If a value is already in English, keep it unchanged.
Keep numbers, null values, and arrays/objects structure intact.
Output ONLY the translated JSON, nothing else. No explanations, no markdown.

JSON TO TRANSLATE:
` + jsonText + `

TRANSLATED JSON:`
}
