package repair

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed renames.yaml
var defaultTableYAML []byte

// Table is the data driving canonicalization. It can grow new synonyms without
// any change to the transforms.
type Table struct {
	// Renames maps a wrong key to its canonical name.
	Renames map[string]string
	// Scoped maps a parent field name to renames applied only inside that object.
	Scoped        map[string]map[string]string
	NumericFields map[string]bool
	IntegerFields map[string]bool
	VATTokens     []string
}

type tableFile struct {
	Renames       map[string][]string            `yaml:"renames"`
	ScopedRenames map[string]map[string][]string `yaml:"scoped_renames"`
	NumericFields []string                       `yaml:"numeric_fields"`
	IntegerFields []string                       `yaml:"integer_fields"`
	VATTokens     []string                       `yaml:"vat_tokens"`
}

// DefaultTable parses the embedded table.
func DefaultTable() (*Table, error) {
	return LoadTable(defaultTableYAML)
}

// LoadTableFile reads a table from path.
func LoadTableFile(path string) (*Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rename table: %w", err)
	}
	return LoadTable(b)
}

// LoadTable parses a YAML rename table. Duplicate sources and rename cycles are rejected.
func LoadTable(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rename table: %w", err)
	}

	t := &Table{
		Renames:       map[string]string{},
		Scoped:        map[string]map[string]string{},
		NumericFields: toSet(f.NumericFields),
		IntegerFields: toSet(f.IntegerFields),
		VATTokens:     f.VATTokens,
	}
	if err := invert(f.Renames, t.Renames); err != nil {
		return nil, err
	}
	for scope, group := range f.ScopedRenames {
		m := map[string]string{}
		if err := invert(group, m); err != nil {
			return nil, fmt.Errorf("scope %q: %w", scope, err)
		}
		t.Scoped[scope] = m
	}
	for k := range t.IntegerFields {
		if !t.NumericFields[k] {
			return nil, fmt.Errorf("integer field %q is not listed as numeric", k)
		}
	}
	if err := checkCycles(t.Renames); err != nil {
		return nil, err
	}
	return t, nil
}

func invert(groups map[string][]string, out map[string]string) error {
	targets := make([]string, 0, len(groups))
	for target := range groups {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	for _, target := range targets {
		for _, src := range groups[target] {
			if prev, ok := out[src]; ok && prev != target {
				return fmt.Errorf("key %q maps to both %q and %q", src, prev, target)
			}
			if src == target {
				return fmt.Errorf("key %q maps to itself", src)
			}
			out[src] = target
		}
	}
	return nil
}

func checkCycles(renames map[string]string) error {
	for src := range renames {
		seen := map[string]bool{src: true}
		for k, ok := renames[src]; ok; k, ok = renames[k] {
			if seen[k] {
				return fmt.Errorf("rename cycle through %q", src)
			}
			seen[k] = true
		}
	}
	return nil
}

func toSet(keys []string) map[string]bool {
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		out[k] = true
	}
	return out
}
