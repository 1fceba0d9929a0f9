package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNativeRecord(t *testing.T) {
	rec, err := ParseNativeRecord([]byte(`{"username": "a", "count": 3}`))
	require.NoError(t, err)
	assert.Equal(t, NativeRecord{"username": "a", "count": int64(3)}, rec)

	_, err = ParseNativeRecord([]byte(`[1, 2]`))
	assert.ErrorIs(t, err, ErrNotJSONObject)

	_, err = ParseNativeRecord([]byte(`"str"`))
	assert.ErrorIs(t, err, ErrNotJSONObject)
}

func TestLocalRecord_EncodeDecode(t *testing.T) {
	rec := LocalRecord{
		"id":    "abcdefgh",
		"extra": map[string]any{"map": map[string]any{"k": "v"}, "tombs": []any{"x"}},
		"n":     int64(42),
	}

	data, err := rec.Encode()
	require.NoError(t, err)

	back, err := DecodeLocalRecord(data)
	require.NoError(t, err)
	assert.Equal(t, rec, back)
}

func TestLocalRecord_EncodeNil(t *testing.T) {
	var rec LocalRecord
	data, err := rec.Encode()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestRecord_Clone(t *testing.T) {
	orig := NativeRecord{"a": "1"}
	cp := orig.Clone()
	cp["a"] = "2"
	cp["b"] = "3"

	assert.Equal(t, NativeRecord{"a": "1"}, orig)

	local := LocalRecord{"a": "1"}
	lcp := local.Clone()
	delete(lcp, "a")
	assert.Len(t, local, 1)
}
