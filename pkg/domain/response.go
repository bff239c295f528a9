package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// InputKind is the kind of value a node expects from the operator.
type InputKind string

const (
	InputText    InputKind = "text"
	InputNumber  InputKind = "number"
	InputBoolean InputKind = "boolean"
)

// ResponseValue is a tagged union: exactly one of text, number or boolean.
// The zero value is an empty text.
type ResponseValue struct {
	kind    InputKind
	text    string
	number  float64
	boolean bool
}

// TextValue builds a text response.
func TextValue(s string) ResponseValue {
	return ResponseValue{kind: InputText, text: s}
}

// NumberValue builds a numeric response.
func NumberValue(f float64) ResponseValue {
	return ResponseValue{kind: InputNumber, number: f}
}

// BoolValue builds a boolean response.
func BoolValue(b bool) ResponseValue {
	return ResponseValue{kind: InputBoolean, boolean: b}
}

// Kind returns the tag of the value.
func (v ResponseValue) Kind() InputKind {
	if v.kind == "" {
		return InputText
	}
	return v.kind
}

// Text returns the text payload and whether the value is a text.
func (v ResponseValue) Text() (string, bool) { return v.text, v.Kind() == InputText }

// Number returns the numeric payload and whether the value is a number.
func (v ResponseValue) Number() (float64, bool) { return v.number, v.kind == InputNumber }

// Bool returns the boolean payload and whether the value is a boolean.
func (v ResponseValue) Bool() (bool, bool) { return v.boolean, v.kind == InputBoolean }

// IsEmpty reports whether the value carries no answer (blank text).
func (v ResponseValue) IsEmpty() bool {
	return v.Kind() == InputText && strings.TrimSpace(v.text) == ""
}

// String is the canonical form compared against branch conditions.
func (v ResponseValue) String() string {
	switch v.Kind() {
	case InputNumber:
		return strconv.FormatFloat(v.number, 'f', -1, 64)
	case InputBoolean:
		return strconv.FormatBool(v.boolean)
	default:
		return v.text
	}
}

var (
	trueForms  = []string{"true", "yes", "y", "1"}
	falseForms = []string{"false", "no", "n", "0"}
)

// Forms lists the spellings a branch condition may use for the value. A boolean
// answers to every word Coerce accepts for it; other kinds have only String.
func (v ResponseValue) Forms() []string {
	if v.Kind() != InputBoolean {
		return []string{v.String()}
	}
	if v.boolean {
		return trueForms
	}
	return falseForms
}

// Coerce parses raw operator input into a value of the given kind.
func Coerce(kind InputKind, raw string) (ResponseValue, error) {
	clean := strings.TrimSpace(raw)
	switch kind {
	case InputNumber:
		f, err := strconv.ParseFloat(clean, 64)
		if err != nil {
			return ResponseValue{}, fmt.Errorf("%w: %q is not a number", ErrInputKind, raw)
		}
		return NumberValue(f), nil
	case InputBoolean:
		switch strings.ToLower(clean) {
		case "y", "yes", "true", "1":
			return BoolValue(true), nil
		case "n", "no", "false", "0":
			return BoolValue(false), nil
		}
		return ResponseValue{}, fmt.Errorf("%w: %q is not a yes/no answer", ErrInputKind, raw)
	case InputText, "":
		return TextValue(raw), nil
	}
	return ResponseValue{}, fmt.Errorf("%w: unknown input kind %q", ErrInputKind, kind)
}

// As converts the value to the given kind. Text is parsed, anything renders to text,
// and number/boolean never convert into each other.
func (v ResponseValue) As(kind InputKind) (ResponseValue, error) {
	if kind == "" {
		kind = InputText
	}
	if v.Kind() == kind {
		return v, nil
	}
	switch {
	case v.Kind() == InputText:
		return Coerce(kind, v.text)
	case kind == InputText:
		return TextValue(v.String()), nil
	}
	return ResponseValue{}, fmt.Errorf("%w: got %s, node expects %s", ErrInputKind, v.Kind(), kind)
}

type responseValueJSON struct {
	Kind  InputKind       `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the value as {"kind": ..., "value": ...}.
func (v ResponseValue) MarshalJSON() ([]byte, error) {
	var payload any
	switch v.Kind() {
	case InputNumber:
		payload = v.number
	case InputBoolean:
		payload = v.boolean
	default:
		payload = v.text
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(responseValueJSON{Kind: v.Kind(), Value: raw})
}

// UnmarshalJSON accepts the tagged form as well as a bare string, number or boolean.
func (v *ResponseValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("%w: response value is required", ErrValidation)
	}

	switch data[0] {
	case '{':
		var tagged responseValueJSON
		if err := json.Unmarshal(data, &tagged); err != nil {
			return err
		}
		return v.decodeTagged(tagged)
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = TextValue(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = BoolValue(b)
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("%w: unsupported response value %s", ErrValidation, data)
		}
		*v = NumberValue(f)
	}
	return nil
}

func (v *ResponseValue) decodeTagged(tagged responseValueJSON) error {
	if len(tagged.Value) == 0 {
		return fmt.Errorf("%w: response value is required", ErrValidation)
	}
	switch tagged.Kind {
	case InputText, "":
		var s string
		if err := json.Unmarshal(tagged.Value, &s); err != nil {
			return fmt.Errorf("%w: text value: %v", ErrValidation, err)
		}
		*v = TextValue(s)
	case InputNumber:
		var f float64
		if err := json.Unmarshal(tagged.Value, &f); err != nil {
			return fmt.Errorf("%w: number value: %v", ErrValidation, err)
		}
		*v = NumberValue(f)
	case InputBoolean:
		var b bool
		if err := json.Unmarshal(tagged.Value, &b); err != nil {
			return fmt.Errorf("%w: boolean value: %v", ErrValidation, err)
		}
		*v = BoolValue(b)
	default:
		return fmt.Errorf("%w: unknown value kind %q", ErrValidation, tagged.Kind)
	}
	return nil
}

// Response is one answered node in a session history.
type Response struct {
	NodeID string        `json:"nodeId"`
	Value  ResponseValue `json:"responseValue"`

	// ScoreApplied is the node's score at answer time.
	ScoreApplied int `json:"scoreApplied"`
}
