// Package domain defines the value types shared by the dialogue engine,
// the scheme catalog and the tools.
package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Field names a user profile attribute.
type Field string

// Profile fields understood by the scorer and the extractor.
const (
	FieldAge           Field = "age"
	FieldIncome        Field = "income"
	FieldGender        Field = "gender"
	FieldCasteCategory Field = "caste_category"
	FieldState         Field = "state"
	FieldIsFarmer      Field = "is_farmer"
	FieldIsBPL         Field = "is_bpl"
	FieldHasLand       Field = "has_land"
	FieldLandSize      Field = "land_size"
	FieldIsWidow       Field = "is_widow"
	FieldIsDisabled    Field = "is_disabled"
	FieldOccupation    Field = "occupation"
	FieldEducation     Field = "education"
	FieldFamilySize    Field = "family_size"
)

// Kind is the value type of a field.
type Kind string

const (
	KindNumeric     Kind = "numeric"
	KindBoolean     Kind = "boolean"
	KindCategorical Kind = "categorical"
)

var fieldKinds = map[Field]Kind{
	FieldAge:           KindNumeric,
	FieldIncome:        KindNumeric,
	FieldLandSize:      KindNumeric,
	FieldFamilySize:    KindNumeric,
	FieldIsFarmer:      KindBoolean,
	FieldIsBPL:         KindBoolean,
	FieldHasLand:       KindBoolean,
	FieldIsWidow:       KindBoolean,
	FieldIsDisabled:    KindBoolean,
	FieldGender:        KindCategorical,
	FieldCasteCategory: KindCategorical,
	FieldState:         KindCategorical,
	FieldOccupation:    KindCategorical,
	FieldEducation:     KindCategorical,
}

// KindOf returns the kind of a known field.
func KindOf(f Field) (Kind, bool) {
	k, ok := fieldKinds[f]
	return k, ok
}

// KnownField reports whether f is a recognised profile field.
func KnownField(f Field) bool {
	_, ok := fieldKinds[f]
	return ok
}

// Source records where a profile value came from.
type Source string

const (
	SourceExtracted     Source = "extracted"
	SourceUserConfirmed Source = "user_confirmed"
)

// Value is a typed profile value. Exactly one of Num, Bool or Text is
// meaningful, selected by Kind.
type Value struct {
	Kind Kind    `json:"kind"`
	Num  float64 `json:"num,omitempty"`
	Bool bool    `json:"bool,omitempty"`
	Text string  `json:"text,omitempty"`
}

// Number builds a numeric value.
func Number(n float64) Value { return Value{Kind: KindNumeric, Num: n} }

// Bool builds a boolean value.
func Bool(b bool) Value { return Value{Kind: KindBoolean, Bool: b} }

// Text builds a categorical value. Categorical values are compared
// case-insensitively, so they are stored lowercased and trimmed.
func Text(s string) Value {
	return Value{Kind: KindCategorical, Text: strings.ToLower(strings.TrimSpace(s))}
}

// Equal reports whether two values are identical.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNumeric:
		return v.Num == o.Num
	case KindBoolean:
		return v.Bool == o.Bool
	default:
		return v.Text == o.Text
	}
}

// Differs reports whether o differs from v by more than tolerance.
// Tolerance only applies to numeric values.
func (v Value) Differs(o Value, tolerance float64) bool {
	if v.Kind != o.Kind {
		return true
	}
	if v.Kind == KindNumeric {
		return math.Abs(v.Num-o.Num) > tolerance
	}
	return !v.Equal(o)
}

// Any returns the value as a plain Go value.
func (v Value) Any() any {
	switch v.Kind {
	case KindNumeric:
		return v.Num
	case KindBoolean:
		return v.Bool
	default:
		return v.Text
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindNumeric:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(v.Bool)
	default:
		return v.Text
	}
}

// Coerce converts a loosely typed value (as produced by JSON decoding or
// an extractor) into a Value of the field's kind.
func Coerce(f Field, raw any) (Value, error) {
	kind, ok := KindOf(f)
	if !ok {
		return Value{}, fmt.Errorf("unknown field %q", f)
	}
	switch kind {
	case KindNumeric:
		var n float64
		switch v := raw.(type) {
		case float64:
			n = v
		case float32:
			n = float64(v)
		case int:
			n = float64(v)
		case int64:
			n = float64(v)
		case string:
			parsed, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(v), ",", ""), 64)
			if err != nil {
				return Value{}, fmt.Errorf("field %s: parse number %q: %w", f, v, err)
			}
			n = parsed
		default:
			return Value{}, fmt.Errorf("field %s: cannot use %v (%T) as %s", f, raw, raw, kind)
		}
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return Value{}, fmt.Errorf("field %s: %v is not a finite number", f, raw)
		}
		// Every numeric field is a count or an amount.
		if n < 0 {
			return Value{}, fmt.Errorf("field %s: %v is negative", f, raw)
		}
		return Number(n), nil
	case KindBoolean:
		switch b := raw.(type) {
		case bool:
			return Bool(b), nil
		case string:
			switch strings.ToLower(strings.TrimSpace(b)) {
			case "true", "yes", "1":
				return Bool(true), nil
			case "false", "no", "0":
				return Bool(false), nil
			}
		}
	case KindCategorical:
		if s, ok := raw.(string); ok && strings.TrimSpace(s) != "" {
			return Text(s), nil
		}
	}
	return Value{}, fmt.Errorf("field %s: cannot use %v (%T) as %s", f, raw, raw, kind)
}
