package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// Kind is the type of an action parameter.
type Kind string

// Kind constants.
const (
	KindBool          Kind = "Bool"
	KindU8            Kind = "U8"
	KindU16           Kind = "U16"
	KindU32           Kind = "U32"
	KindU64           Kind = "U64"
	KindF32           Kind = "F32"
	KindF64           Kind = "F64"
	KindRangeU64      Kind = "RangeU64"
	KindRangeF64      Kind = "RangeF64"
	KindCharsSequence Kind = "CharsSequence"
	KindByteStream    Kind = "ByteStream"
)

// Parameter is one named, typed argument of an action.
//
// Default holds a bool, uint64, float64 or string depending on Kind.
// Min and Max are nil when the kind has no declared bounds.
type Parameter struct {
	Name    string   `json:"name"`
	Kind    Kind     `json:"kind"`
	Default any      `json:"default,omitempty"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Step    float64  `json:"step,omitempty"`
}

// Value is a resolved argument: a parameter name with its coerced value.
type Value struct {
	Name  string
	Kind  Kind
	Value any
}

// Schema is the ordered parameter list of an action. The order is the one
// the device declared and is significant for path-encoded GET requests.
type Schema []Parameter

// Get returns the parameter called name.
func (s Schema) Get(name string) (Parameter, bool) {
	for _, p := range s {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// Resolve validates args against the schema and returns one Value per
// parameter in declared order. Missing arguments take their default.
// Unknown names, wrong types and out-of-bounds values are rejected with
// ErrInvalidParameter. ByteStream parameters are never sent and are skipped.
func (s Schema) Resolve(args map[string]any) ([]Value, error) {
	for name := range args {
		if _, ok := s.Get(name); !ok {
			return nil, fmt.Errorf("%w: unknown parameter %q", ErrInvalidParameter, name)
		}
	}

	values := make([]Value, 0, len(s))
	for _, p := range s {
		if p.Kind == KindByteStream {
			continue
		}
		raw, given := args[p.Name]
		if !given || raw == nil {
			if p.Default == nil {
				return nil, fmt.Errorf("%w: missing parameter %q", ErrInvalidParameter, p.Name)
			}
			values = append(values, Value{Name: p.Name, Kind: p.Kind, Value: p.Default})
			continue
		}
		v, err := p.Coerce(raw)
		if err != nil {
			return nil, err
		}
		values = append(values, Value{Name: p.Name, Kind: p.Kind, Value: v})
	}
	return values, nil
}

// Coerce converts raw to the parameter's Go representation and checks bounds.
func (p Parameter) Coerce(raw any) (any, error) {
	switch p.Kind {
	case KindBool:
		b, ok := toBool(raw)
		if !ok {
			return nil, p.typeError(raw)
		}
		return b, nil

	case KindU8, KindU16, KindU32, KindU64, KindRangeU64:
		n, ok := toUint(raw)
		if !ok {
			return nil, p.typeError(raw)
		}
		if n > kindMax(p.Kind) {
			return nil, fmt.Errorf("%w: %q value %d overflows %s", ErrInvalidParameter, p.Name, n, p.Kind)
		}
		if err := p.checkBounds(float64(n)); err != nil {
			return nil, err
		}
		return n, nil

	case KindF32, KindF64, KindRangeF64:
		f, ok := toFloat(raw)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, p.typeError(raw)
		}
		if p.Kind == KindF32 && math.Abs(f) > math.MaxFloat32 {
			return nil, fmt.Errorf("%w: %q value %v overflows F32", ErrInvalidParameter, p.Name, f)
		}
		if err := p.checkBounds(f); err != nil {
			return nil, err
		}
		return f, nil

	case KindCharsSequence:
		s, ok := raw.(string)
		if !ok {
			return nil, p.typeError(raw)
		}
		return s, nil
	}

	return nil, fmt.Errorf("%w: %q has unsupported kind %s", ErrInvalidParameter, p.Name, p.Kind)
}

func (p Parameter) typeError(raw any) error {
	return fmt.Errorf("%w: %q expects %s, got %T", ErrInvalidParameter, p.Name, p.Kind, raw)
}

func (p Parameter) checkBounds(v float64) error {
	if p.Min != nil && v < *p.Min {
		return fmt.Errorf("%w: %q value %v below minimum %v", ErrInvalidParameter, p.Name, v, *p.Min)
	}
	if p.Max != nil && v > *p.Max {
		return fmt.Errorf("%w: %q value %v above maximum %v", ErrInvalidParameter, p.Name, v, *p.Max)
	}
	return nil
}

func kindMax(k Kind) uint64 {
	switch k {
	case KindU8:
		return math.MaxUint8
	case KindU16:
		return math.MaxUint16
	case KindU32:
		return math.MaxUint32
	default:
		return math.MaxUint64
	}
}

// PathSegment renders a resolved value for use as a URL path segment.
func (v Value) PathSegment() string {
	switch x := v.Value.(type) {
	case bool:
		return strconv.FormatBool(x)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return url.PathEscape(x)
	}
	return url.PathEscape(fmt.Sprint(v.Value))
}

func toBool(raw any) (bool, bool) {
	switch x := raw.(type) {
	case bool:
		return x, true
	case string:
		b, err := strconv.ParseBool(x)
		return b, err == nil
	}
	return false, false
}

func toUint(raw any) (uint64, bool) {
	switch x := raw.(type) {
	case uint64:
		return x, true
	case uint:
		return uint64(x), true
	case uint8:
		return uint64(x), true
	case uint16:
		return uint64(x), true
	case uint32:
		return uint64(x), true
	case int:
		return uint64(x), x >= 0
	case int8:
		return uint64(x), x >= 0
	case int16:
		return uint64(x), x >= 0
	case int32:
		return uint64(x), x >= 0
	case int64:
		return uint64(x), x >= 0
	case float64:
		if x < 0 || x != math.Trunc(x) || x > math.MaxUint64 {
			return 0, false
		}
		return uint64(x), true
	case json.Number:
		n, err := strconv.ParseUint(x.String(), 10, 64)
		return n, err == nil
	case string:
		n, err := strconv.ParseUint(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func toFloat(raw any) (float64, bool) {
	switch x := raw.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	if n, ok := toUint(raw); ok {
		return float64(n), true
	}
	if i, ok := raw.(int); ok {
		return float64(i), true
	}
	if i, ok := raw.(int64); ok {
		return float64(i), true
	}
	return 0, false
}

// UnmarshalJSON decodes the descriptor form of a parameter map,
//
//	{"brightness": {"RangeU64": {"min": 0, "max": 255, "step": 1, "default": 128}},
//	 "on": {"Bool": {"default": false}}}
//
// keeping the object's key order.
func (s *Schema) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("%w: parameters must be an object", ErrInvalidDescriptor)
	}

	var out Schema
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)

		var body map[string]json.RawMessage
		if err := dec.Decode(&body); err != nil {
			return fmt.Errorf("%w: parameter %q: %w", ErrInvalidDescriptor, name, err)
		}
		if len(body) != 1 {
			return fmt.Errorf("%w: parameter %q must name exactly one kind", ErrInvalidDescriptor, name)
		}
		for kind, raw := range body {
			p, err := parseParameter(name, Kind(kind), raw)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*s = out
	return nil
}

type parameterBody struct {
	Default any          `json:"default"`
	Min     *json.Number `json:"min"`
	Max     *json.Number `json:"max"`
	Step    *json.Number `json:"step"`
}

func parseParameter(name string, kind Kind, raw json.RawMessage) (Parameter, error) {
	p := Parameter{Name: name, Kind: kind}

	var body parameterBody
	if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil {
			return p, fmt.Errorf("%w: parameter %q: %w", ErrInvalidDescriptor, name, err)
		}
	}

	var err error
	if p.Min, err = numberPtr(body.Min); err != nil {
		return p, fmt.Errorf("%w: parameter %q min: %w", ErrInvalidDescriptor, name, err)
	}
	if p.Max, err = numberPtr(body.Max); err != nil {
		return p, fmt.Errorf("%w: parameter %q max: %w", ErrInvalidDescriptor, name, err)
	}
	if step, err := numberPtr(body.Step); err != nil {
		return p, fmt.Errorf("%w: parameter %q step: %w", ErrInvalidDescriptor, name, err)
	} else if step != nil {
		p.Step = *step
	}

	switch kind {
	case KindBool, KindU8, KindU16, KindU32, KindU64, KindF32, KindF64, KindCharsSequence:
	case KindRangeU64, KindRangeF64:
		if p.Min == nil || p.Max == nil {
			return p, fmt.Errorf("%w: range parameter %q needs min and max", ErrInvalidDescriptor, name)
		}
		if *p.Min > *p.Max {
			return p, fmt.Errorf("%w: range parameter %q has min > max", ErrInvalidDescriptor, name)
		}
	case KindByteStream:
		return p, nil
	default:
		return p, fmt.Errorf("%w: parameter %q has unknown kind %q", ErrInvalidDescriptor, name, kind)
	}

	if body.Default != nil {
		// Bounds are not applied to defaults; devices own their defaults.
		unbounded := Parameter{Name: name, Kind: kind}
		def, err := unbounded.Coerce(body.Default)
		if err != nil {
			return p, fmt.Errorf("%w: parameter %q default: %w", ErrInvalidDescriptor, name, err)
		}
		p.Default = def
	}
	return p, nil
}

func numberPtr(n *json.Number) (*float64, error) {
	if n == nil {
		return nil, nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, err
	}
	return &f, nil
}
