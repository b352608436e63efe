// Package schema models the structured type descriptors attached to state
// variable declarations. A schema is a flat list of named, typed fields;
// values are type-erased rows validated against the declared schema at the
// client boundary before any request is issued.
package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/statelet/statelet/pkg/errors"
)

// Type is a semantic field type
type Type string

const (
	TypeBoolean   Type = "boolean"
	TypeInt       Type = "int"
	TypeBigint    Type = "bigint"
	TypeFloat     Type = "float"
	TypeDouble    Type = "double"
	TypeString    Type = "string"
	TypeBinary    Type = "binary"
	TypeTimestamp Type = "timestamp"
)

// knownTypes maps accepted type names (lowercased) to their canonical Type
var knownTypes = map[string]Type{
	"boolean":   TypeBoolean,
	"bool":      TypeBoolean,
	"int":       TypeInt,
	"integer":   TypeInt,
	"bigint":    TypeBigint,
	"long":      TypeBigint,
	"float":     TypeFloat,
	"double":    TypeDouble,
	"string":    TypeString,
	"binary":    TypeBinary,
	"timestamp": TypeTimestamp,
}

// ParseType resolves a type name to its canonical Type
func ParseType(s string) (Type, error) {
	t, ok := knownTypes[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: unknown type %q", errors.ErrInvalidSchema, s)
	}
	return t, nil
}

// Field is one named, typed column of a schema
type Field struct {
	Name string `json:"name"`
	Type Type   `json:"type"`
}

// Schema describes the shape of the values held by one state variable
type Schema struct {
	Fields []Field `json:"fields"`
}

// Row is a type-erased structured value keyed by field name
type Row map[string]any

// New builds a schema from fields
func New(fields ...Field) *Schema {
	return &Schema{Fields: fields}
}

// Parse parses a DDL-style schema declaration such as
// "count BIGINT, name STRING". Declarations are a comma-separated list of
// "<name> <type>" pairs.
func Parse(ddl string) (*Schema, error) {
	ddl = strings.TrimSpace(ddl)
	if ddl == "" {
		return nil, fmt.Errorf("%w: empty declaration", errors.ErrInvalidSchema)
	}

	var fields []Field
	for _, part := range strings.Split(ddl, ",") {
		tokens := strings.Fields(part)
		if len(tokens) != 2 {
			return nil, fmt.Errorf("%w: malformed field %q", errors.ErrInvalidSchema, strings.TrimSpace(part))
		}
		typ, err := ParseType(tokens[1])
		if err != nil {
			return nil, err
		}
		fields = append(fields, Field{Name: tokens[0], Type: typ})
	}

	s := &Schema{Fields: fields}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// MustParse is Parse for statically known declarations; it panics on error
func MustParse(ddl string) *Schema {
	s, err := Parse(ddl)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks the schema itself for well-formedness: at least one field,
// unique non-empty names, known types.
func (s *Schema) Validate() error {
	if s == nil || len(s.Fields) == 0 {
		return fmt.Errorf("%w: schema has no fields", errors.ErrInvalidSchema)
	}

	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: field with empty name", errors.ErrInvalidSchema)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: duplicate field %q", errors.ErrInvalidSchema, f.Name)
		}
		seen[f.Name] = true

		if _, ok := knownTypes[string(f.Type)]; !ok {
			return fmt.Errorf("%w: field %q has unknown type %q", errors.ErrInvalidSchema, f.Name, f.Type)
		}
	}
	return nil
}

// Equal reports whether two schemas declare the same fields in the same order
func (s *Schema) Equal(other *Schema) bool {
	if s == nil || other == nil {
		return s == other
	}
	if len(s.Fields) != len(other.Fields) {
		return false
	}
	for i, f := range s.Fields {
		if f.Name != other.Fields[i].Name || f.Type != other.Fields[i].Type {
			return false
		}
	}
	return true
}

// String renders the schema back in DDL form
func (s *Schema) String() string {
	parts := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		parts = append(parts, f.Name+" "+strings.ToUpper(string(f.Type)))
	}
	return strings.Join(parts, ", ")
}

// ValidateRow checks a row against the schema. Fields not declared by the
// schema are rejected; declared fields may be absent or nil (treated as
// null). Values that survived a JSON round-trip are accepted in their
// decoded representation (numbers as float64, binary as base64 strings).
func (s *Schema) ValidateRow(row Row) error {
	if row == nil {
		return fmt.Errorf("%w: nil row", errors.ErrInvalidSchema)
	}

	byName := make(map[string]Type, len(s.Fields))
	for _, f := range s.Fields {
		byName[f.Name] = f.Type
	}

	for name, value := range row {
		typ, ok := byName[name]
		if !ok {
			return fmt.Errorf("%w: undeclared field %q", errors.ErrInvalidSchema, name)
		}
		if value == nil {
			continue
		}
		if !matchesType(typ, value) {
			return fmt.Errorf("%w: field %q: value %v (%T) is not a %s",
				errors.ErrInvalidSchema, name, value, value, typ)
		}
	}
	return nil
}

func matchesType(typ Type, value any) bool {
	switch typ {
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeInt, TypeBigint:
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			// JSON decodes all numbers to float64
			return v == float64(int64(v))
		default:
			return false
		}
	case TypeFloat, TypeDouble:
		switch value.(type) {
		case float32, float64, int, int32, int64:
			return true
		default:
			return false
		}
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeBinary:
		switch value.(type) {
		case []byte, string:
			// []byte marshals to a base64 string and decodes back as string
			return true
		default:
			return false
		}
	case TypeTimestamp:
		switch v := value.(type) {
		case time.Time:
			return true
		case string:
			_, err := time.Parse(time.RFC3339Nano, v)
			return err == nil
		default:
			return false
		}
	default:
		return false
	}
}
