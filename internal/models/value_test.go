package models

import (
	"math"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSON_NormalizesNumbers(t *testing.T) {
	v, err := DecodeJSON([]byte(`{"i": 4, "f": 1.5, "big": 1e3, "nested": [1, {"x": 2}]}`))
	require.NoError(t, err)

	obj, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(4), obj["i"])
	assert.Equal(t, 1.5, obj["f"])
	assert.Equal(t, float64(1000), obj["big"])
	assert.Equal(t, []any{int64(1), map[string]any{"x": int64(2)}}, obj["nested"])
}

func TestDecodeJSON_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"garbage", "{nope"},
		{"trailing value", `{} {}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJSON([]byte(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestToInt64(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   int64
		wantOK bool
	}{
		{"int", 5, 5, true},
		{"int32", int32(-3), -3, true},
		{"uint8", uint8(200), 200, true},
		{"integral float", 7.0, 7, true},
		{"fractional float", 7.5, 0, false},
		{"nan", math.NaN(), 0, false},
		{"huge uint64", uint64(math.MaxUint64), 0, false},
		{"json number", json.Number("12"), 12, true},
		{"string", "12", 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToInt64(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToFloat64(t *testing.T) {
	f, ok := ToFloat64(3)
	assert.True(t, ok)
	assert.Equal(t, 3.0, f)

	f, ok = ToFloat64(json.Number("2.25"))
	assert.True(t, ok)
	assert.Equal(t, 2.25, f)

	_, ok = ToFloat64(true)
	assert.False(t, ok)
}

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		name string
		a    any
		b    any
		want bool
	}{
		{"same string", "a", "a", true},
		{"different string", "a", "b", false},
		{"int and int64", 4, int64(4), true},
		{"int and float", 4, 4.0, true},
		{"int and fractional", 4, 4.5, false},
		{"number and string", 4, "4", false},
		{"nil and nil", nil, nil, true},
		{"nil and value", nil, "x", false},
		{"bool", true, true, true},
		{
			"nested maps with mixed numbers",
			map[string]any{"a": []any{1, 2.0}},
			map[string]any{"a": []any{int64(1), int64(2)}},
			true,
		},
		{
			"map size differs",
			map[string]any{"a": 1},
			map[string]any{"a": 1, "b": 2},
			false,
		},
		{"slice order matters", []any{1, 2}, []any{2, 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValuesEqual(tt.a, tt.b))
			assert.Equal(t, tt.want, ValuesEqual(tt.b, tt.a), "equality must be symmetric")
		})
	}
}
