package invoice

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docparser/internal/common"
)

func loadExample(t *testing.T) map[string]any {
	t.Helper()
	b, err := os.ReadFile("testdata/example.json")
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func TestDecodeExample(t *testing.T) {
	inv, err := Decode(loadExample(t), 3)
	require.NoError(t, err)

	assert.Equal(t, "INV-2024-0056", *inv.Document.Identifiers.DocumentNumber)
	assert.Equal(t, "Acme Corp", *inv.Parties.Supplier.Name)
	require.Len(t, inv.LineItems, 2)
	assert.Equal(t, 1, *inv.LineItems[0].LineNo)
	assert.InDelta(t, 3.0, *inv.LineItems[0].Quantity, 1e-9)
	assert.InDelta(t, 151.16, *inv.Totals.GrossAmount, 1e-9)
	require.Len(t, inv.Taxes, 1)
	assert.NotNil(t, inv.Taxes[0].Source.Polygon)
	assert.Equal(t, 3, *inv.PageStart)
	assert.Equal(t, 3, *inv.PageEnd)
}

func TestDecodeDropsUnknownKeys(t *testing.T) {
	m := loadExample(t)
	m["vendor_notes"] = "free text"

	inv, err := Decode(m, 1)
	require.NoError(t, err)

	out, err := ToMap(inv)
	require.NoError(t, err)
	assert.NotContains(t, out, "vendor_notes")
}

func TestValidateReportsLocations(t *testing.T) {
	m := loadExample(t)
	m["totals"].(map[string]any)["gross_amount"] = "a lot"
	m["line_items"].([]any)[0].(map[string]any)["quantity"] = []any{1.0}

	err := Validate(m)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrValidation))

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.LessOrEqual(t, len(ve.Issues), maxIssues)
	msg := err.Error()
	assert.Contains(t, msg, "totals.gross_amount")
	assert.Contains(t, msg, "line_items.0.quantity")
}

func TestValidateRejectsWrongCollectionType(t *testing.T) {
	m := loadExample(t)
	m["line_items"] = map[string]any{}

	err := Validate(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line_items")
}

func TestEmptyAndTemplate(t *testing.T) {
	empty := Empty()
	assert.NotNil(t, empty.LineItems)
	assert.NotNil(t, empty.Parties.Supplier.Registrations)
	assert.NotNil(t, empty.ExtractionMetadata.Fields)

	tmpl := Template()
	assert.True(t, strings.HasPrefix(tmpl, "{\n  \"document\": {"))
	assert.Contains(t, tmpl, `"line_items": []`)
	assert.Contains(t, tmpl, `"fields": {}`)
	assert.Contains(t, tmpl, `"page_end": null`)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(tmpl), &m))
	_, err := Decode(m, 0)
	require.NoError(t, err)
}

func TestDeclaredFields(t *testing.T) {
	fields := DeclaredFields()

	assert.True(t, fields[RootScope]["line_items"])
	assert.True(t, fields["line_items"]["quantity"])
	assert.False(t, fields["line_items"]["amount"])
	assert.True(t, fields["taxes"]["amount"])
	assert.True(t, fields["registrations"]["value"])
	assert.True(t, fields["fields"+MapValueSuffix]["value"])
	assert.True(t, fields["source"]["polygon"])
}

func TestKeyFields(t *testing.T) {
	inv, err := Decode(loadExample(t), 1)
	require.NoError(t, err)

	kf := inv.KeyFields()
	assert.Equal(t, "INV-2024-0056", *kf.DocumentNumber)
	assert.Equal(t, "2024-01-15", *kf.IssueDate)
	assert.Equal(t, "John Smith", *kf.CustomerName)
	assert.Equal(t, "USD", *kf.Currency)
	assert.Empty(t, kf.ReferenceNumbers)
}
