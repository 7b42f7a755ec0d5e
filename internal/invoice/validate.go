package invoice

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/docparser/internal/common"
)

// maxIssues caps the number of schema violations carried in an error summary.
const maxIssues = 5

// ValidationError summarizes schema violations as "location: message" entries.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Issues, "; ")
}

func (e *ValidationError) Unwrap() error {
	return common.ErrValidation
}

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled, compileErr = CompileSchema(BuildJSONSchema())
	})
	return compiled, compileErr
}

// CompileSchema compiles a schema expressed as a generic map.
func CompileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("invoice.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile("invoice.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// Validate is the untyped phase: it checks a generic tree against the canonical schema.
func Validate(data map[string]any) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(any(data)); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return &ValidationError{Issues: leafIssues(ve, maxIssues)}
		}
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

// Decode validates data in two phases and returns the typed invoice.
// Keys the schema does not declare are dropped by the typed decode.
// When page > 0 the page range is pinned to it.
func Decode(data map[string]any, page int) (*Invoice, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, &ValidationError{Issues: []string{"(root): " + err.Error()}}
	}
	var inv Invoice
	if err := json.Unmarshal(b, &inv); err != nil {
		return nil, &ValidationError{Issues: []string{typedIssue(err)}}
	}
	inv.normalize()
	if page > 0 {
		inv.SetPageRange(page)
	}
	return &inv, nil
}

// ToMap renders an invoice as a generic tree.
func ToMap(inv *Invoice) (map[string]any, error) {
	b, err := json.Marshal(inv)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func leafIssues(ve *jsonschema.ValidationError, limit int) []string {
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(out) >= limit {
			return
		}
		if len(e.Causes) == 0 {
			out = append(out, location(e.InstanceLocation)+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	if len(out) == 0 {
		out = append(out, "(root): "+ve.Message)
	}
	return out
}

// location turns a JSON pointer into a dotted path.
func location(pointer string) string {
	p := strings.Trim(pointer, "/")
	if p == "" {
		return "(root)"
	}
	p = strings.ReplaceAll(p, "~1", "/")
	p = strings.ReplaceAll(p, "~0", "~")
	return strings.ReplaceAll(p, "/", ".")
}

func typedIssue(err error) string {
	var te *json.UnmarshalTypeError
	if errors.As(err, &te) {
		field := te.Field
		if field == "" {
			field = "(root)"
		}
		return fmt.Sprintf("%s: expected %s, got %s", field, te.Type, te.Value)
	}
	return "(root): " + err.Error()
}
