package domain

import (
	"errors"
	"fmt"
)

// FieldType is the semantic type of a schema field. Only strings exist in this domain.
type FieldType string

const FieldTypeString FieldType = "string"

// Field is one column of the user record schema.
type Field struct {
	Name       string
	Type       FieldType
	Nullable   bool
	PrimaryKey bool
}

// Field names of the user record, in column order.
const (
	FieldID             = "id"
	FieldFirstName      = "first_name"
	FieldLastName       = "last_name"
	FieldGender         = "gender"
	FieldAddress        = "address"
	FieldPostCode       = "post_code"
	FieldEmail          = "email"
	FieldUsername       = "username"
	FieldRegisteredDate = "registered_date"
	FieldPhone          = "phone"
	FieldPicture        = "picture"
)

// Schema is an ordered, immutable list of fields. Build it with NewSchema or UserSchema.
type Schema struct {
	fields []Field
	index  map[string]int
	pk     string
	// strict rejects absent non-nullable fields. When false, absent non-key fields become null.
	strict bool
}

// NewSchema validates fields and returns a Schema. Exactly one field must be the primary key,
// and it must not be nullable.
func NewSchema(strict bool, fields ...Field) (*Schema, error) {
	if len(fields) == 0 {
		return nil, errors.New("schema: no fields")
	}
	s := &Schema{
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
		strict: strict,
	}
	copy(s.fields, fields)
	for i, f := range s.fields {
		if f.Name == "" {
			return nil, fmt.Errorf("schema: field %d has no name", i)
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate field %q", f.Name)
		}
		s.index[f.Name] = i
		if f.PrimaryKey {
			if s.pk != "" {
				return nil, fmt.Errorf("schema: second primary key %q", f.Name)
			}
			if f.Nullable {
				return nil, fmt.Errorf("schema: primary key %q must not be nullable", f.Name)
			}
			s.pk = f.Name
		}
	}
	if s.pk == "" {
		return nil, errors.New("schema: no primary key")
	}
	return s, nil
}

// UserSchema returns the eleven-field user schema keyed by id.
func UserSchema(strict bool) *Schema {
	names := []string{
		FieldID, FieldFirstName, FieldLastName, FieldGender, FieldAddress, FieldPostCode,
		FieldEmail, FieldUsername, FieldRegisteredDate, FieldPhone, FieldPicture,
	}
	fields := make([]Field, 0, len(names))
	for _, n := range names {
		fields = append(fields, Field{Name: n, Type: FieldTypeString, PrimaryKey: n == FieldID})
	}
	s, err := NewSchema(strict, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Fields returns a copy of the schema fields in column order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Names returns the field names in column order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Name
	}
	return out
}

// PrimaryKey returns the name of the primary key field.
func (s *Schema) PrimaryKey() string { return s.pk }

// Strict reports whether absent non-nullable fields are rejected.
func (s *Schema) Strict() bool { return s.strict }

// Has reports whether name is a schema field.
func (s *Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Validate builds a Record from raw field values. Keys not in the schema are ignored.
// A nil value means null. The primary key must be present and non-empty in every mode.
func (s *Schema) Validate(raw map[string]*string) (*Record, error) {
	if v := raw[s.pk]; v == nil || *v == "" {
		return nil, &SchemaViolation{Kind: ViolationEmptyPrimaryKey, Field: s.pk}
	}
	values := make(map[string]*string, len(s.fields))
	for _, f := range s.fields {
		v, present := raw[f.Name]
		if v == nil && !f.Nullable && (s.strict || f.PrimaryKey) {
			if present {
				return nil, &SchemaViolation{Kind: ViolationNullField, Field: f.Name}
			}
			return nil, &SchemaViolation{Kind: ViolationMissingField, Field: f.Name}
		}
		if v != nil {
			cp := *v
			v = &cp
		}
		values[f.Name] = v
	}
	return &Record{schema: s, values: values}, nil
}

// ViolationKind classifies a SchemaViolation.
type ViolationKind string

const (
	ViolationMissingField    ViolationKind = "missing_field"
	ViolationNullField       ViolationKind = "null_field"
	ViolationEmptyPrimaryKey ViolationKind = "empty_primary_key"
)

// SchemaViolation is returned by Schema.Validate.
type SchemaViolation struct {
	Kind  ViolationKind
	Field string
}

func (e *SchemaViolation) Error() string {
	switch e.Kind {
	case ViolationEmptyPrimaryKey:
		return fmt.Sprintf("schema violation: primary key %q is missing or empty", e.Field)
	case ViolationNullField:
		return fmt.Sprintf("schema violation: field %q must not be null", e.Field)
	default:
		return fmt.Sprintf("schema violation: required field %q is missing", e.Field)
	}
}

// Record is a validated user record. Values are nil where the field is null.
type Record struct {
	schema *Schema
	values map[string]*string
}

// ID returns the primary key value. Never empty for a Record built by Validate.
func (r *Record) ID() string {
	if v := r.values[r.schema.pk]; v != nil {
		return *v
	}
	return ""
}

// Get returns the value of field name and whether it is non-null.
func (r *Record) Get(name string) (string, bool) {
	v := r.values[name]
	if v == nil {
		return "", false
	}
	return *v, true
}

// Values returns the field values in schema column order, nil for null.
func (r *Record) Values() []*string {
	out := make([]*string, len(r.schema.fields))
	for i, f := range r.schema.fields {
		out[i] = r.values[f.Name]
	}
	return out
}

// Schema returns the schema the record was validated against.
func (r *Record) Schema() *Schema { return r.schema }
