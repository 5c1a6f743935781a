// Package decoder turns raw channel payloads into validated user records.
package decoder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"user-stream-ingestor/internal/user/domain"
)

// Kind classifies a DecodeError.
type Kind string

const (
	KindMalformedEncoding  Kind = "malformed_encoding"
	KindMalformedStructure Kind = "malformed_structure"
	KindSchemaViolation    Kind = "schema_violation"
)

// DecodeError is returned for any payload that cannot become a Record. It is never retryable.
type DecodeError struct {
	Kind Kind
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decoder decodes JSON user payloads against a schema.
type Decoder struct {
	schema *domain.Schema
}

// New returns a Decoder for schema.
func New(schema *domain.Schema) *Decoder {
	return &Decoder{schema: schema}
}

// Decode parses payload as a UTF-8 JSON object and validates it.
// A JSON string holding an encoded object is unwrapped once.
func (d *Decoder) Decode(payload []byte) (*domain.Record, error) {
	if !utf8.Valid(payload) {
		return nil, &DecodeError{Kind: KindMalformedEncoding, Err: errors.New("payload is not valid UTF-8")}
	}
	raw, err := parseObject(payload)
	if err != nil {
		var inner string
		if json.Unmarshal(payload, &inner) != nil {
			return nil, &DecodeError{Kind: KindMalformedStructure, Err: err}
		}
		if raw, err = parseObject([]byte(inner)); err != nil {
			return nil, &DecodeError{Kind: KindMalformedStructure, Err: err}
		}
	}
	fields := make(map[string]*string, len(raw))
	for name, value := range raw {
		if !d.schema.Has(name) {
			continue
		}
		s, err := scalarString(value)
		if err != nil {
			return nil, &DecodeError{Kind: KindMalformedStructure, Err: fmt.Errorf("field %q: %w", name, err)}
		}
		// Postgres text cannot hold NUL; such a record would fail every write attempt.
		if s != nil && strings.IndexByte(*s, 0) >= 0 {
			return nil, &DecodeError{Kind: KindMalformedEncoding, Err: fmt.Errorf("field %q contains a NUL character", name)}
		}
		fields[name] = s
	}
	rec, err := d.schema.Validate(fields)
	if err != nil {
		return nil, &DecodeError{Kind: KindSchemaViolation, Err: err}
	}
	return rec, nil
}

func parseObject(b []byte) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.New("payload is not a JSON object")
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// scalarString accepts JSON strings, numbers and booleans (rendered literally) and null.
func scalarString(v json.RawMessage) (*string, error) {
	t := bytes.TrimSpace(v)
	if len(t) == 0 {
		return nil, errors.New("empty value")
	}
	switch t[0] {
	case 'n':
		return nil, nil
	case '"':
		var s string
		if err := json.Unmarshal(t, &s); err != nil {
			return nil, err
		}
		return &s, nil
	case '{', '[':
		return nil, errors.New("nested value where a string was expected")
	default:
		s := string(t)
		return &s, nil
	}
}

// Excerpt returns at most n bytes of payload for logging, marking truncation.
func Excerpt(payload []byte, n int) string {
	if len(payload) <= n {
		return string(payload)
	}
	return string(payload[:n]) + "...(truncated)"
}
