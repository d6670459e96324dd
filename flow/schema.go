package flow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a compiled JSON Schema used to validate step and workflow
// payloads. A nil *Schema accepts every value, so optional schemas
// (resume, suspend) can simply be left unset.
//
// Values are validated through a JSON round trip, so any Go value that
// marshals to JSON can be checked: maps, slices, structs with exported
// fields, and primitives.
type Schema struct {
	doc      string
	compiled *jsonschema.Schema
}

// CompileSchema compiles a JSON Schema document.
//
// Example:
//
//	in, err := flow.CompileSchema(`{
//	    "type": "object",
//	    "properties": {"a": {"type": "number"}, "b": {"type": "number"}},
//	    "required": ["a", "b"]
//	}`)
func CompileSchema(doc string) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return &Schema{doc: doc, compiled: compiled}, nil
}

// MustSchema is like CompileSchema but panics on error. Intended for
// schema literals in variable initializers.
func MustSchema(doc string) *Schema {
	s, err := CompileSchema(doc)
	if err != nil {
		panic(err)
	}
	return s
}

// Doc returns the source document the schema was compiled from.
func (s *Schema) Doc() string {
	if s == nil {
		return ""
	}
	return s.doc
}

// Validate checks a value against the schema. A nil schema accepts
// everything. The returned error lists each violation.
func (s *Schema) Validate(v any) error {
	if s == nil || s.compiled == nil {
		return nil
	}
	normalized, err := normalizeJSON(v)
	if err != nil {
		return err
	}
	return s.compiled.Validate(normalized)
}

// validationCauses flattens a jsonschema validation error into one
// message per violation, in document order.
func validationCauses(err error) []string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	return flattenCauses(ve)
}

func flattenCauses(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{fmt.Sprintf("%s: %s", loc, ve.Message)}
	}
	var out []string
	for _, cause := range ve.Causes {
		out = append(out, flattenCauses(cause)...)
	}
	return out
}

// normalizeJSON round-trips a value through encoding/json so schema
// validation sees the same shape a serialized payload would have.
func normalizeJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value is not JSON-serializable: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(data, &normalized); err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}
	return normalized, nil
}
