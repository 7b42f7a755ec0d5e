package structure

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docparser/internal/common"
	"github.com/joseph-ayodele/docparser/internal/repair"
)

type reply struct {
	text string
	err  error
}

// scriptedCompleter answers prompts from a fixed script and records them.
type scriptedCompleter struct {
	mu      sync.Mutex
	replies []reply
	prompts []string
}

func (f *scriptedCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if len(f.replies) == 0 {
		return "", errors.New("script exhausted")
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r.text, r.err
}

func newStage(t *testing.T, replies ...reply) (*Stage, *scriptedCompleter) {
	t.Helper()
	table, err := repair.DefaultTable()
	require.NoError(t, err)
	fake := &scriptedCompleter{replies: replies}
	return NewStage(fake, repair.NewCanonicalizer(table, nil), nil), fake
}

func TestStructurePageExample(t *testing.T) {
	stage, fake := newStage(t, reply{text: "Here is the JSON:\n```json\n" + exampleOutput + "\n```"})

	res := stage.StructurePage(context.Background(), exampleInput, 4)
	require.True(t, res.OK, "unexpected error: %v", res.Err)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Attempts)
	assert.Len(t, fake.prompts, 1)
	assert.Contains(t, fake.prompts[0], "TEXT (page 4):\n"+exampleInput)

	inv := res.Value
	assert.Equal(t, "INV-2024-0056", *inv.Document.Identifiers.DocumentNumber)
	assert.InDelta(t, 151.16, *inv.Totals.GrossAmount, 1e-9)
	assert.Len(t, inv.LineItems, 2)
	assert.Equal(t, 4, *inv.PageStart)
	assert.Equal(t, 4, *inv.PageEnd)
	assert.Equal(t, exampleOutput, res.Raw)
}

func TestStructurePageRepairsTruncatedOutput(t *testing.T) {
	repaired := "```json\n" + exampleOutput + "\n```"
	stage, fake := newStage(t,
		reply{text: `{"document": {"type": "invoice"},`},
		reply{text: repaired},
	)

	res := stage.StructurePage(context.Background(), "text", 1)
	require.True(t, res.OK, "unexpected error: %v", res.Err)
	assert.Equal(t, 2, res.Attempts)
	require.Len(t, fake.prompts, 2)
	assert.True(t, strings.HasPrefix(fake.prompts[1], "The following JSON has errors."))
	assert.Contains(t, fake.prompts[1], "ERROR: invalid JSON")
	assert.Contains(t, fake.prompts[1], `{"document": {"type": "invoice"}`)
	assert.Equal(t, repair.Cleanup(repaired), res.Raw)
}

func TestStructurePageRepairsValidationFailure(t *testing.T) {
	stage, fake := newStage(t,
		reply{text: `{"line_items": {"oops": 1}}`},
		reply{text: exampleOutput},
	)

	res := stage.StructurePage(context.Background(), "text", 2)
	require.True(t, res.OK)
	require.Len(t, fake.prompts, 2)
	assert.Contains(t, fake.prompts[1], "ERROR: line_items")
}

func TestStructurePageFailsAfterRepair(t *testing.T) {
	stage, fake := newStage(t,
		reply{text: "[1, 2]"},
		reply{text: "sorry, I cannot help"},
	)

	res := stage.StructurePage(context.Background(), "text", 3)
	assert.False(t, res.OK)
	assert.Nil(t, res.Value)
	assert.Equal(t, 2, res.Attempts)
	assert.Len(t, fake.prompts, 2)
	assert.Contains(t, fake.prompts[1], "ERROR: expected object, got array")

	require.Error(t, res.Err)
	assert.True(t, strings.HasPrefix(res.Err.Error(), "failed after repair: invalid JSON"))
	assert.True(t, errors.Is(res.Err, common.ErrUnrecoverableStage))
	assert.True(t, errors.Is(res.Err, common.ErrMalformedOutput))
	assert.Equal(t, "sorry, I cannot help", res.Raw)
}

func TestStructurePageKeepsFirstRawWhenRepairCallFails(t *testing.T) {
	stage, _ := newStage(t,
		reply{text: `{"document": [}`},
		reply{err: common.TransientError("ollama down", errors.New("connection refused"))},
	)

	res := stage.StructurePage(context.Background(), "text", 1)
	assert.False(t, res.OK)
	assert.Equal(t, `{"document": [}`, res.Raw)
	assert.True(t, common.IsTransient(res.Err))
}

func TestStructurePageRetriesOriginalPromptAfterCallError(t *testing.T) {
	stage, fake := newStage(t,
		reply{err: common.TransientError("timeout", errors.New("deadline exceeded"))},
		reply{text: exampleOutput},
	)

	res := stage.StructurePage(context.Background(), "text", 1)
	require.True(t, res.OK)
	require.Len(t, fake.prompts, 2)
	assert.Equal(t, fake.prompts[0], fake.prompts[1])
}

func TestStructurePageUnwrapsInvoiceEnvelope(t *testing.T) {
	stage, _ := newStage(t, reply{text: `{"invoices": [` + exampleOutput + `]}`})

	res := stage.StructurePage(context.Background(), "text", 1)
	require.True(t, res.OK, "unexpected error: %v", res.Err)
	assert.Equal(t, "Acme Corp", *res.Value.Parties.Supplier.Name)
}

func TestStructurePageCanonicalizesSynonyms(t *testing.T) {
	stage, _ := newStage(t, reply{text: `{
		"document": {"identifiers": {"invoice_number": "R-7"}},
		"line_items": [{"item_name": "Kaffee", "qty": "2", "price": "3,50", "total": "7.00"}],
		"totals": {"grand_total": "CHF 7.00"},
		"parties": {"supplier": {"vendor": "Café Central", "registrations": ["CHE-123.456.789 MWST"]}},
	}`})

	res := stage.StructurePage(context.Background(), "text", 1)
	require.True(t, res.OK, "unexpected error: %v", res.Err)

	inv := res.Value
	assert.Equal(t, "R-7", *inv.Document.Identifiers.DocumentNumber)
	require.Len(t, inv.LineItems, 1)
	assert.Equal(t, "Kaffee", *inv.LineItems[0].Description)
	assert.InDelta(t, 2.0, *inv.LineItems[0].Quantity, 1e-9)
	assert.InDelta(t, 350.0, *inv.LineItems[0].UnitPrice, 1e-9)
	assert.InDelta(t, 7.0, *inv.LineItems[0].LineTotal, 1e-9)
	assert.InDelta(t, 7.0, *inv.Totals.GrossAmount, 1e-9)
	assert.Equal(t, "Café Central", *inv.Parties.Supplier.Name)
	require.Len(t, inv.Parties.Supplier.Registrations, 1)
	assert.Equal(t, "VAT", *inv.Parties.Supplier.Registrations[0].Type)
}

func TestTranslateKeepsPageRange(t *testing.T) {
	stage, fake := newStage(t,
		reply{text: exampleOutput},
		reply{text: strings.Replace(exampleOutput, `"Widget A"`, `"Gadget A"`, 1)},
	)
	res := stage.StructurePage(context.Background(), "text", 6)
	require.True(t, res.OK)

	out, err := stage.Translate(context.Background(), res.Value)
	require.NoError(t, err)
	assert.Equal(t, "Gadget A", *out.LineItems[0].Description)
	assert.Equal(t, 6, *out.PageStart)
	assert.Equal(t, 6, *out.PageEnd)
	assert.True(t, strings.HasPrefix(fake.prompts[1], "Translate ALL text values in this JSON to English."))
}

func TestTranslateErrors(t *testing.T) {
	stage, _ := newStage(t,
		reply{text: exampleOutput},
		reply{text: "no json here"},
		reply{text: `{"line_items": "none"}`},
		reply{err: errors.New("boom")},
	)
	res := stage.StructurePage(context.Background(), "text", 1)
	require.True(t, res.OK)

	for i := 0; i < 3; i++ {
		_, err := stage.Translate(context.Background(), res.Value)
		assert.Error(t, err)
	}
}

func TestPromptsCarryTemplate(t *testing.T) {
	p := PagePrompt("hello", 3)
	assert.Contains(t, p, "page_start = 3, page_end = 3")
	assert.Contains(t, p, "TEMPLATE (fill in every key):\n{\n  \"document\"")
	assert.True(t, strings.HasSuffix(p, "JSON:"))

	r := RepairPrompt("{bad}", "line_items: expected array", 3)
	assert.Contains(t, r, "ERROR: line_items: expected array")
	assert.Contains(t, r, "BROKEN JSON:\n{bad}")
	assert.True(t, strings.HasSuffix(r, "FIXED JSON:"))
}
