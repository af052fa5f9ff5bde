package measurement

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// ValueKind tags the shape of a stored measurement value.
type ValueKind int

const (
	ValueInvalid ValueKind = iota
	ValueScalar
	ValueStructured
)

// Field is one numeric member of a structured value. Order follows the
// stored document.
type Field struct {
	Name  string
	Value float64
}

// Value is either a plain number or an ordered set of numeric fields
// (e.g. a systolic/diastolic pair). The zero Value is invalid and carries
// no usable reading.
type Value struct {
	kind   ValueKind
	scalar float64
	fields []Field
}

// Scalar builds a plain numeric value.
func Scalar(v float64) Value {
	if !finite(v) {
		return Value{}
	}
	return Value{kind: ValueScalar, scalar: v}
}

// Structured builds a structured value from the given fields. Non-finite
// fields are dropped.
func Structured(fields ...Field) Value {
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		if finite(f.Value) {
			out = append(out, f)
		}
	}
	return Value{kind: ValueStructured, fields: out}
}

func (v Value) Kind() ValueKind { return v.kind }

// Fields returns a copy of the structured fields.
func (v Value) Fields() []Field {
	out := make([]Field, len(v.fields))
	copy(out, v.fields)
	return out
}

// Field looks up a structured field by name.
func (v Value) Field(name string) (float64, bool) {
	for _, f := range v.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return 0, false
}

// ParseValue decodes a stored JSON document. Numbers become scalars and
// objects become structured values holding their numeric members in
// document order. Anything else is invalid; ParseValue never fails.
func ParseValue(raw []byte) Value {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return Value{}
	}

	switch t := tok.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}
		}
		return Scalar(f)
	case json.Delim:
		if t != '{' {
			return Value{}
		}
		var fields []Field
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return Value{}
			}
			key, ok := keyTok.(string)
			if !ok {
				return Value{}
			}
			var member interface{}
			if err := dec.Decode(&member); err != nil {
				return Value{}
			}
			n, ok := member.(json.Number)
			if !ok {
				continue
			}
			f, err := n.Float64()
			if err != nil {
				continue
			}
			fields = append(fields, Field{Name: key, Value: f})
		}
		return Structured(fields...)
	}
	return Value{}
}

// MarshalJSON writes scalars as numbers and structured values as objects
// with their original field order.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case ValueScalar:
		return []byte(strconv.FormatFloat(v.scalar, 'f', -1, 64)), nil
	case ValueStructured:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, f := range v.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(f.Name)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.WriteString(strconv.FormatFloat(f.Value, 'f', -1, 64))
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	*v = ParseValue(data)
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
