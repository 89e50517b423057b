package props

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
)

// decodeResources incrementally parses a metadata document of the shape
// {"resources": {<path>: {<name>: <scalar>, ...}, ...}}.
//
// Unrecognized top-level fields are skipped for forward compatibility.
// Entries with an empty property map are dropped. Scalars decode as
// number -> float64, boolean -> bool, null -> nil, anything else -> string.
func decodeResources(r io.Reader) (map[string]map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}

	out := make(map[string]map[string]any)
	for dec.More() {
		key, err := nextName(dec)
		if err != nil {
			return nil, err
		}
		if key != "resources" {
			if err := skipValue(dec); err != nil {
				return nil, err
			}
			continue
		}

		if err := expectDelim(dec, '{'); err != nil {
			return nil, err
		}
		for dec.More() {
			path, err := nextName(dec)
			if err != nil {
				return nil, err
			}
			resProps, err := decodePropertyMap(dec)
			if err != nil {
				return nil, err
			}
			if len(resProps) > 0 {
				out[path] = resProps
			}
		}
		if err := expectDelim(dec, '}'); err != nil {
			return nil, err
		}
	}

	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}

	return out, nil
}

// decodePropertyMap parses a single {<name>: <scalar>} object.
func decodePropertyMap(dec *json.Decoder) (map[string]any, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}

	resProps := make(map[string]any)
	for dec.More() {
		name, err := nextName(dec)
		if err != nil {
			return nil, err
		}

		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch v := tok.(type) {
		case json.Number:
			f, err := v.Float64()
			if err != nil {
				return nil, fmt.Errorf("invalid number for property %q: %w", name, err)
			}
			resProps[name] = f
		case bool:
			resProps[name] = v
		case nil:
			resProps[name] = nil
		case string:
			resProps[name] = v
		default:
			return nil, fmt.Errorf("property %q is not a scalar", name)
		}
	}

	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return resProps, nil
}

// encodeScalar normalizes a value for serialization: null, numbers and
// booleans pass through, anything else is stringified.
func encodeScalar(v any) any {
	switch v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// scalarEqual compares two scalar values by value, treating all numeric
// types as equivalent.
func scalarEqual(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum || bNum {
		return aNum && bNum && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func nextName(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	name, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected object key, got %v", tok)
	}
	return name, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	d, ok := tok.(json.Delim)
	if !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

// skipValue consumes one JSON value of any shape.
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	d, ok := tok.(json.Delim)
	if !ok || (d != '{' && d != '[') {
		return nil
	}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}
