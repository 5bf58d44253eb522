package mb

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// DecodeError reports text that is not a valid payload.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "decode: " + e.Reason
}

// EncodeError reports a value outside the encodable domain.
type EncodeError struct {
	Reason string
}

func (e *EncodeError) Error() string {
	return "encode: " + e.Reason
}

// MaxDepth bounds how deeply sequences and mappings may nest in a payload.
const MaxDepth = 10000

// Decode parses payload text into a fresh value.
//
// The result is built only from nil, string, bool, int64, float64, []any and
// map[string]any. Integer literals keep full 64-bit precision and literals
// that overflow int64 are rejected rather than rounded. Mappings with a
// repeated key are rejected, as is nesting deeper than MaxDepth.
//
// Decode(Encode(v)) returns v for strings, bools, int64 values, sequences and
// mappings. Floats round-trip by value only: an integral float such as 3.0
// encodes as 3 and reads back as int64(3).
func Decode(text string) (any, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &DecodeError{Reason: "empty payload"}
	}

	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	value, err := decodeValue(dec, 0)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &DecodeError{Reason: "trailing data after value"}
	}
	return value, nil
}

// DecodeInto decodes text into a typed envelope.
func DecodeInto(text string, dst any) error {
	if strings.TrimSpace(text) == "" {
		return &DecodeError{Reason: "empty payload"}
	}
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return &DecodeError{Reason: err.Error()}
	}
	if _, err := dec.Token(); err != io.EOF {
		return &DecodeError{Reason: "trailing data after value"}
	}
	return nil
}

func decodeValue(dec *json.Decoder, depth int) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, syntaxError(err)
	}

	switch t := tok.(type) {
	case json.Delim:
		if depth >= MaxDepth {
			return nil, &DecodeError{Reason: "nesting too deep"}
		}
		switch t {
		case '{':
			return decodeObject(dec, depth+1)
		case '[':
			return decodeArray(dec, depth+1)
		default:
			return nil, &DecodeError{Reason: fmt.Sprintf("unexpected delimiter %q", t.String())}
		}
	case json.Number:
		return decodeNumber(t)
	case string:
		return t, nil
	case bool:
		return t, nil
	case nil:
		return nil, nil
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unsupported token %T", tok)}
	}
}

func decodeObject(dec *json.Decoder, depth int) (any, error) {
	out := map[string]any{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, syntaxError(err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, &DecodeError{Reason: "mapping key must be a string"}
		}
		if _, dup := out[key]; dup {
			return nil, &DecodeError{Reason: fmt.Sprintf("duplicate key %q", key)}
		}
		value, err := decodeValue(dec, depth)
		if err != nil {
			return nil, err
		}
		out[key] = value
	}
	if _, err := dec.Token(); err != nil {
		return nil, syntaxError(err)
	}
	return out, nil
}

func decodeArray(dec *json.Decoder, depth int) (any, error) {
	out := []any{}
	for dec.More() {
		value, err := decodeValue(dec, depth)
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	if _, err := dec.Token(); err != nil {
		return nil, syntaxError(err)
	}
	return out, nil
}

func decodeNumber(n json.Number) (any, error) {
	raw := n.String()
	if !strings.ContainsAny(raw, ".eE") {
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &DecodeError{Reason: fmt.Sprintf("integer %s overflows int64", raw)}
		}
		return i, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("number %s out of range", raw)}
	}
	return f, nil
}

func syntaxError(err error) error {
	if errors.Is(err, io.EOF) {
		return &DecodeError{Reason: "unexpected end of payload"}
	}
	return &DecodeError{Reason: err.Error()}
}

// Encode renders a value as payload text.
func Encode(v any) (string, error) {
	if err := checkEncodable(reflect.ValueOf(v)); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", &EncodeError{Reason: err.Error()}
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// checkEncodable walks dynamic containers so unsupported values fail with an
// EncodeError before any output is produced.
func checkEncodable(v reflect.Value) error {
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		return checkEncodable(v.Elem())
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return &EncodeError{Reason: "non-finite number"}
		}
		// encoding/json prints these without an exponent, which would read
		// back as an integer outside int64.
		if a := math.Abs(f); f == math.Trunc(f) && a >= math.MaxInt64 && a < 1e21 {
			return &EncodeError{Reason: "integral float outside int64 range"}
		}
	case reflect.Chan, reflect.Func, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return &EncodeError{Reason: fmt.Sprintf("unsupported type %s", v.Type())}
	case reflect.Map:
		switch v.Type().Key().Kind() {
		case reflect.String, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		default:
			return &EncodeError{Reason: fmt.Sprintf("unsupported mapping key %s", v.Type().Key())}
		}
		iter := v.MapRange()
		for iter.Next() {
			if err := checkEncodable(iter.Value()); err != nil {
				return err
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() || field.Tag.Get("json") == "-" {
				continue
			}
			if err := checkEncodable(v.Field(i)); err != nil {
				return err
			}
		}
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			if err := checkEncodable(v.Index(i)); err != nil {
				return err
			}
		}
	}
	return nil
}
