package models

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"

	"github.com/goccy/go-json"
)

// ErrTrailingData indicates that a JSON document contains more than one value
var ErrTrailingData = errors.New("unexpected data after JSON value")

// DecodeJSON parses one JSON value. Numbers are normalized: integral values
// become int64, everything else float64. Objects become map[string]any and
// arrays []any.
func DecodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode json: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, ErrTrailingData
	}

	return NormalizeJSON(v), nil
}

// NormalizeJSON converts json.Number values inside v (recursively) to int64
// when integral, float64 otherwise. Maps and slices are updated in place.
func NormalizeJSON(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(string(t), 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(string(t), 64); err == nil {
			return f
		}
		return string(t)
	case map[string]any:
		for k, inner := range t {
			t[k] = NormalizeJSON(inner)
		}
		return t
	case []any:
		for i, inner := range t {
			t[i] = NormalizeJSON(inner)
		}
		return t
	default:
		return v
	}
}

// ToInt64 converts any Go integer, json.Number or integral float to int64.
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return uintToInt64(uint64(n))
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return uintToInt64(n)
	case float32:
		return floatToInt64(float64(n))
	case float64:
		return floatToInt64(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return floatToInt64(f)
		}
	}
	return 0, false
}

func uintToInt64(u uint64) (int64, bool) {
	if u > math.MaxInt64 {
		return 0, false
	}
	return int64(u), true
}

func floatToInt64(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	// 2^63 is exactly representable, MaxInt64 is not
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// ToFloat64 converts any Go numeric type or json.Number to float64.
func ToFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	if i, ok := ToInt64(v); ok {
		return float64(i), true
	}
	if u, ok := v.(uint64); ok {
		return float64(u), true
	}
	if u, ok := v.(uint); ok {
		return float64(u), true
	}
	return 0, false
}

// IsNumber reports whether v holds a numeric value.
func IsNumber(v any) bool {
	_, ok := ToFloat64(v)
	return ok
}

// ValuesEqual compares two JSON-like values. Numbers are compared by value
// regardless of their Go type, so 4, int64(4) and 4.0 are all equal.
func ValuesEqual(a, b any) bool {
	if IsNumber(a) && IsNumber(b) {
		ai, aInt := ToInt64(a)
		bi, bInt := ToInt64(b)
		if aInt && bInt {
			return ai == bi
		}
		af, _ := ToFloat64(a)
		bf, _ := ToFloat64(b)
		return af == bf
	}

	switch at := a.(type) {
	case map[string]any:
		bt, ok := b.(map[string]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for k, av := range at {
			bv, ok := bt[k]
			if !ok || !ValuesEqual(av, bv) {
				return false
			}
		}
		return true
	case []any:
		bt, ok := b.([]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !ValuesEqual(at[i], bt[i]) {
				return false
			}
		}
		return true
	}

	return reflect.DeepEqual(a, b)
}
