package repair

import (
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/docparser/internal/invoice"
)

var reNonNumeric = regexp.MustCompile(`[^\d.\-]`)

// Canonicalizer rewrites a parsed model response into canonical shape.
// It is safe for concurrent use.
type Canonicalizer struct {
	table    *Table
	declared map[string]map[string]bool
	logger   *slog.Logger
}

// NewCanonicalizer builds a canonicalizer over table and the invoice schema's declared fields.
func NewCanonicalizer(table *Table, logger *slog.Logger) *Canonicalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Canonicalizer{
		table:    table,
		declared: invoice.DeclaredFields(),
		logger:   logger,
	}
}

// Canonicalize renames keys, normalizes registrations and coerces numbers, in that order.
// The input is not modified. Running it twice yields the same tree.
func (c *Canonicalizer) Canonicalize(data map[string]any) map[string]any {
	var renamed []string
	out := c.renameObject(data, invoice.RootScope, &renamed)
	fixRegistrations(out, c.table.VATTokens)
	c.coerceNumbers(out)
	if len(renamed) > 0 {
		c.logger.Debug("repair.canonicalize.renamed", "keys", renamed)
	}
	return out
}

// resolve follows the rename chain for key inside scope. It stops at a key
// the scope declares, at a key with no rename, or on a revisit.
func (c *Canonicalizer) resolve(key, scope string) string {
	fields, known := c.declared[scope]
	scoped := c.table.Scoped[scope]
	seen := map[string]bool{key: true}
	for {
		if known && fields[key] {
			return key
		}
		next, ok := scoped[key]
		if !ok {
			next, ok = c.table.Renames[key]
		}
		if !ok || seen[next] {
			return key
		}
		seen[next] = true
		key = next
	}
}

func (c *Canonicalizer) renameObject(obj map[string]any, scope string, renamed *[]string) map[string]any {
	out := make(map[string]any, len(obj))

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// keys that need no rename are placed first so a misnamed duplicate never displaces them
	var moved []string
	for _, k := range keys {
		if c.resolve(k, scope) == k {
			out[k] = c.renameValue(obj[k], k, renamed)
		} else {
			moved = append(moved, k)
		}
	}
	for _, k := range moved {
		target := c.resolve(k, scope)
		if existing, ok := out[target]; ok && existing != nil {
			continue
		}
		out[target] = c.renameValue(obj[k], target, renamed)
		*renamed = append(*renamed, k+"->"+target)
	}
	return out
}

// renameValue descends into v, whose parent field is key.
func (c *Canonicalizer) renameValue(v any, key string, renamed *[]string) any {
	switch t := v.(type) {
	case map[string]any:
		if _, keyed := c.declared[key+invoice.MapValueSuffix]; keyed {
			return c.renameKeyedMap(t, key+invoice.MapValueSuffix, renamed)
		}
		return c.renameObject(t, key, renamed)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = c.renameValue(item, key, renamed)
		}
		return out
	default:
		return v
	}
}

// renameKeyedMap keeps the map's own keys and canonicalizes each value in scope.
func (c *Canonicalizer) renameKeyedMap(m map[string]any, scope string, renamed *[]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if obj, ok := v.(map[string]any); ok {
			out[k] = c.renameObject(obj, scope, renamed)
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies nested maps and slices so the later passes never write into the input.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = cloneValue(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = cloneValue(child)
		}
		return out
	default:
		return v
	}
}

// fixRegistrations turns every "registrations" value into a list of {type, value} objects.
func fixRegistrations(v any, vatTokens []string) {
	switch t := v.(type) {
	case map[string]any:
		if regs, ok := t["registrations"]; ok {
			t["registrations"] = normalizeRegistrations(regs, vatTokens)
		}
		for _, child := range t {
			fixRegistrations(child, vatTokens)
		}
	case []any:
		for _, item := range t {
			fixRegistrations(item, vatTokens)
		}
	}
}

func normalizeRegistrations(v any, vatTokens []string) any {
	switch t := v.(type) {
	case map[string]any:
		if inner, ok := t["registration_details"]; ok {
			v = inner
		} else {
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			values := make([]any, 0, len(t))
			for _, k := range keys {
				values = append(values, t[k])
			}
			v = values
		}
	case string:
		v = []any{t}
	}

	items, ok := v.([]any)
	if !ok {
		return []any{}
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		switch it := item.(type) {
		case string:
			out = append(out, map[string]any{
				"type":  registrationType(it, vatTokens),
				"value": it,
			})
		case map[string]any:
			out = append(out, it)
		}
	}
	return out
}

func registrationType(s string, vatTokens []string) string {
	upper := strings.ToUpper(s)
	for _, tok := range vatTokens {
		if strings.Contains(upper, tok) {
			return "VAT"
		}
	}
	return "registration"
}

func (c *Canonicalizer) coerceNumbers(v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if c.table.NumericFields[k] {
				switch x := val.(type) {
				case []any:
					t[k] = firstNumber(x)
				case string:
					t[k] = c.parseNumber(k, x)
				}
				continue
			}
			c.coerceNumbers(val)
		}
	case []any:
		for _, item := range t {
			c.coerceNumbers(item)
		}
	}
}

func firstNumber(items []any) any {
	for _, item := range items {
		if f, ok := item.(float64); ok {
			return f
		}
	}
	return nil
}

// parseNumber reads a numeric-looking string such as "1'234.50" or "CHF 1,290.00".
// Unparsable input yields nil.
func (c *Canonicalizer) parseNumber(key, s string) any {
	cleaned := strings.NewReplacer(",", "", "'", "").Replace(s)
	cleaned = reNonNumeric.ReplaceAllString(cleaned, "")
	if cleaned == "" {
		return nil
	}
	if c.table.IntegerFields[key] {
		n, err := strconv.Atoi(cleaned)
		if err != nil {
			return nil
		}
		return float64(n)
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return f
}
