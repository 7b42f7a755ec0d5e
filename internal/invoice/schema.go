package invoice

// BuildJSONSchema returns the canonical invoice JSON-Schema (draft 2020-12 subset) as a generic map.
// Every scalar is nullable, every collection must be present as its own type
// when given, and unknown keys are tolerated here; they are dropped by the
// typed decode that follows.
func BuildJSONSchema() map[string]any {
	source := object(map[string]any{
		"page_id": nullable("integer"),
		"polygon": map[string]any{"type": "array"},
	})

	document := object(map[string]any{
		"type":        nullable("string"),
		"category":    nullable("string"),
		"subcategory": nullable("string"),
		"locale": object(map[string]any{
			"language": nullable("string"),
			"currency": nullable("string"),
			"country":  nullable("string"),
		}),
		"identifiers": object(map[string]any{
			"document_number":   nullable("string"),
			"reference_numbers": arrayOf(map[string]any{"type": "string"}),
		}),
		"dates": object(map[string]any{
			"issue_date":   nullable("string"),
			"due_date":     nullable("string"),
			"payment_date": nullable("string"),
			"time":         nullable("string"),
		}),
		"status": object(map[string]any{
			"payment_status": nullable("string"),
		}),
	})

	parties := object(map[string]any{
		"supplier": object(map[string]any{
			"name":    nullable("string"),
			"address": nullable("string"),
			"email":   nullable("string"),
			"phone":   nullable("string"),
			"website": nullable("string"),
			"registrations": arrayOf(object(map[string]any{
				"type":  nullable("string"),
				"value": nullable("string"),
			})),
			"payment_details": arrayOf(map[string]any{"type": "string"}),
		}),
		"customer": object(map[string]any{
			"name":                  nullable("string"),
			"customer_id":           nullable("string"),
			"address":               nullable("string"),
			"billing_address":       nullable("string"),
			"shipping_address":      nullable("string"),
			"company_registrations": arrayOf(map[string]any{"type": "string"}),
		}),
	})

	lineItem := object(map[string]any{
		"line_no":      nullable("integer"),
		"product_code": nullable("string"),
		"description":  nullable("string"),
		"quantity":     decimalProp(),
		"unit_measure": nullable("string"),
		"unit_price":   decimalProp(),
		"line_total":   decimalProp(),
		"tax_rate":     decimalProp(),
		"tax_amount":   decimalProp(),
		"confidence":   decimalProp(),
		"source":       source,
	})

	totals := object(map[string]any{
		"net_amount":   decimalProp(),
		"tax_amount":   decimalProp(),
		"gross_amount": decimalProp(),
		"tip_amount":   decimalProp(),
	})

	tax := object(map[string]any{
		"code":       nullable("string"),
		"rate":       decimalProp(),
		"base":       decimalProp(),
		"amount":     decimalProp(),
		"confidence": decimalProp(),
		"source":     source,
	})

	fieldMeta := object(map[string]any{
		"value":      map[string]any{},
		"confidence": decimalProp(),
		"source":     source,
	})

	return object(map[string]any{
		"document":   document,
		"parties":    parties,
		"line_items": arrayOf(lineItem),
		"totals":     totals,
		"taxes":      arrayOf(tax),
		"extraction_metadata": object(map[string]any{
			"fields": map[string]any{
				"type":                 "object",
				"additionalProperties": fieldMeta,
			},
		}),
		"page_start": nullable("integer"),
		"page_end":   nullable("integer"),
	})
}

func object(props map[string]any) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
	}
}

func arrayOf(items map[string]any) map[string]any {
	return map[string]any{
		"type":  "array",
		"items": items,
	}
}

func nullable(typ string) map[string]any {
	return map[string]any{"type": []any{typ, "null"}}
}

func decimalProp() map[string]any {
	return nullable("number")
}
