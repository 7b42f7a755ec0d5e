// Package invoice holds the canonical structured schema produced for every
// page: the typed model, its JSON-Schema, and the two-phase decoder that turns
// a canonicalized generic tree into a validated Invoice.
package invoice

// Source locates an extracted value on the page.
type Source struct {
	PageID  *int  `json:"page_id"`
	Polygon []any `json:"polygon"`
}

type Locale struct {
	Language *string `json:"language"`
	Currency *string `json:"currency"`
	Country  *string `json:"country"`
}

type Identifiers struct {
	DocumentNumber   *string  `json:"document_number"`
	ReferenceNumbers []string `json:"reference_numbers"`
}

type Dates struct {
	IssueDate   *string `json:"issue_date"`
	DueDate     *string `json:"due_date"`
	PaymentDate *string `json:"payment_date"`
	Time        *string `json:"time"`
}

type Status struct {
	PaymentStatus *string `json:"payment_status"`
}

type DocumentInfo struct {
	Type        *string     `json:"type"`
	Category    *string     `json:"category"`
	Subcategory *string     `json:"subcategory"`
	Locale      Locale      `json:"locale"`
	Identifiers Identifiers `json:"identifiers"`
	Dates       Dates       `json:"dates"`
	Status      Status      `json:"status"`
}

type Registration struct {
	Type  *string `json:"type"`
	Value *string `json:"value"`
}

type Supplier struct {
	Name           *string        `json:"name"`
	Address        *string        `json:"address"`
	Email          *string        `json:"email"`
	Phone          *string        `json:"phone"`
	Website        *string        `json:"website"`
	Registrations  []Registration `json:"registrations"`
	PaymentDetails []string       `json:"payment_details"`
}

type Customer struct {
	Name                 *string  `json:"name"`
	CustomerID           *string  `json:"customer_id"`
	Address              *string  `json:"address"`
	BillingAddress       *string  `json:"billing_address"`
	ShippingAddress      *string  `json:"shipping_address"`
	CompanyRegistrations []string `json:"company_registrations"`
}

type Parties struct {
	Supplier Supplier `json:"supplier"`
	Customer Customer `json:"customer"`
}

type LineItem struct {
	LineNo      *int     `json:"line_no"`
	ProductCode *string  `json:"product_code"`
	Description *string  `json:"description"`
	Quantity    *float64 `json:"quantity"`
	UnitMeasure *string  `json:"unit_measure"`
	UnitPrice   *float64 `json:"unit_price"`
	LineTotal   *float64 `json:"line_total"`
	TaxRate     *float64 `json:"tax_rate"`
	TaxAmount   *float64 `json:"tax_amount"`
	Confidence  *float64 `json:"confidence"`
	Source      Source   `json:"source"`
}

type Totals struct {
	NetAmount   *float64 `json:"net_amount"`
	TaxAmount   *float64 `json:"tax_amount"`
	GrossAmount *float64 `json:"gross_amount"`
	TipAmount   *float64 `json:"tip_amount"`
}

type TaxEntry struct {
	Code       *string  `json:"code"`
	Rate       *float64 `json:"rate"`
	Base       *float64 `json:"base"`
	Amount     *float64 `json:"amount"`
	Confidence *float64 `json:"confidence"`
	Source     Source   `json:"source"`
}

type FieldMetadata struct {
	Value      any      `json:"value"`
	Confidence *float64 `json:"confidence"`
	Source     Source   `json:"source"`
}

type ExtractionMetadata struct {
	Fields map[string]FieldMetadata `json:"fields"`
}

// Invoice is the validated structured result for one page.
type Invoice struct {
	Document           DocumentInfo       `json:"document"`
	Parties            Parties            `json:"parties"`
	LineItems          []LineItem         `json:"line_items"`
	Totals             Totals             `json:"totals"`
	Taxes              []TaxEntry         `json:"taxes"`
	ExtractionMetadata ExtractionMetadata `json:"extraction_metadata"`
	PageStart          *int               `json:"page_start"`
	PageEnd            *int               `json:"page_end"`
}

// SetPageRange pins the invoice to a single page.
func (inv *Invoice) SetPageRange(page int) {
	start, end := page, page
	inv.PageStart = &start
	inv.PageEnd = &end
}

// normalize replaces nil collections with empty ones so every list key
// serializes as [] and every map as {}.
func (inv *Invoice) normalize() {
	if inv.Document.Identifiers.ReferenceNumbers == nil {
		inv.Document.Identifiers.ReferenceNumbers = []string{}
	}
	s := &inv.Parties.Supplier
	if s.Registrations == nil {
		s.Registrations = []Registration{}
	}
	if s.PaymentDetails == nil {
		s.PaymentDetails = []string{}
	}
	if inv.Parties.Customer.CompanyRegistrations == nil {
		inv.Parties.Customer.CompanyRegistrations = []string{}
	}
	if inv.LineItems == nil {
		inv.LineItems = []LineItem{}
	}
	for i := range inv.LineItems {
		inv.LineItems[i].Source.normalize()
	}
	if inv.Taxes == nil {
		inv.Taxes = []TaxEntry{}
	}
	for i := range inv.Taxes {
		inv.Taxes[i].Source.normalize()
	}
	if inv.ExtractionMetadata.Fields == nil {
		inv.ExtractionMetadata.Fields = map[string]FieldMetadata{}
	}
	for k, f := range inv.ExtractionMetadata.Fields {
		f.Source.normalize()
		inv.ExtractionMetadata.Fields[k] = f
	}
}

func (s *Source) normalize() {
	if s.Polygon == nil {
		s.Polygon = []any{}
	}
}

// KeyFields are the identifiers mirrored onto the invoices table for fast lookup.
type KeyFields struct {
	DocumentNumber   *string
	ReferenceNumbers []string
	IssueDate        *string
	SupplierName     *string
	CustomerName     *string
	GrossAmount      *float64
	Currency         *string
}

// KeyFields extracts the lookup identifiers.
func (inv *Invoice) KeyFields() KeyFields {
	refs := inv.Document.Identifiers.ReferenceNumbers
	if refs == nil {
		refs = []string{}
	}
	return KeyFields{
		DocumentNumber:   inv.Document.Identifiers.DocumentNumber,
		ReferenceNumbers: refs,
		IssueDate:        inv.Document.Dates.IssueDate,
		SupplierName:     inv.Parties.Supplier.Name,
		CustomerName:     inv.Parties.Customer.Name,
		GrossAmount:      inv.Totals.GrossAmount,
		Currency:         inv.Document.Locale.Currency,
	}
}
