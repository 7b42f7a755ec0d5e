package invoice

import (
	"encoding/json"
	"reflect"
	"strings"
	"sync"
)

// RootScope names the top-level object in DeclaredFields.
const RootScope = ""

// MapValueSuffix marks the scope of values held in a keyed map such as
// extraction_metadata.fields.
const MapValueSuffix = ".*"

// Empty returns an invoice with every scalar null and every collection empty.
func Empty() *Invoice {
	inv := &Invoice{}
	inv.normalize()
	return inv
}

// Template is the fill-in-every-key JSON skeleton shown to the model.
func Template() string {
	b, _ := json.MarshalIndent(Empty(), "", "  ")
	return string(b)
}

var (
	declaredOnce sync.Once
	declared     map[string]map[string]bool
)

// DeclaredFields maps the JSON name of each object-holding field to the set of
// keys its object declares. The root object is keyed by RootScope and values
// of keyed maps by the map field name plus MapValueSuffix.
func DeclaredFields() map[string]map[string]bool {
	declaredOnce.Do(func() {
		declared = map[string]map[string]bool{}
		collectFields(RootScope, reflect.TypeOf(Invoice{}), declared)
	})
	return declared
}

func collectFields(scope string, t reflect.Type, out map[string]map[string]bool) {
	if _, seen := out[scope]; seen {
		return
	}
	keys := map[string]bool{}
	out[scope] = keys
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := jsonName(f)
		if name == "" {
			continue
		}
		keys[name] = true

		ft := f.Type
		for ft.Kind() == reflect.Pointer || ft.Kind() == reflect.Slice {
			ft = ft.Elem()
		}
		switch ft.Kind() {
		case reflect.Struct:
			collectFields(name, ft, out)
		case reflect.Map:
			vt := ft.Elem()
			if vt.Kind() == reflect.Struct {
				collectFields(name+MapValueSuffix, vt, out)
			}
		}
	}
}

func jsonName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return f.Name
	}
	return name
}
