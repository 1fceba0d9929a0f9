package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/remerge/internal/mstime"
)

// buildOne builds a schema with an id field plus fd and returns fd's field.
func buildOne(t *testing.T, fd FieldDesc) *Field {
	t.Helper()
	d := Description{
		Name:    "test",
		Version: "1.0.0",
		Fields:  []FieldDesc{{Name: "id", Type: KindOwnGuid}, fd},
	}
	if fd.Type == KindRecordSet {
		d.FeaturesUsed = []string{"record_set"}
	}
	s, err := New(d)
	require.NoError(t, err)
	f, ok := s.Field(fd.Name)
	require.True(t, ok)
	return f
}

type validateCase struct {
	name    string
	input   any
	want    any
	wantErr error
}

func runValidate(t *testing.T, f *Field, tests []validateCase) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Validate(tt.input)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				var fe *FieldError
				require.ErrorAs(t, err, &fe)
				assert.Equal(t, f.Name, fe.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestField_Validate_Simple(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		runValidate(t, buildOne(t, FieldDesc{Name: "f", Type: KindText}), []validateCase{
			{"string", "hello", "hello", nil},
			{"null on optional", nil, nil, nil},
			{"number", 5, nil, ErrWrongFieldType},
		})
	})

	t.Run("required text rejects null", func(t *testing.T) {
		runValidate(t, buildOne(t, FieldDesc{Name: "f", Type: KindText, Required: true}), []validateCase{
			{"null", nil, nil, ErrWrongFieldType},
		})
	})

	t.Run("boolean", func(t *testing.T) {
		runValidate(t, buildOne(t, FieldDesc{Name: "f", Type: KindBoolean}), []validateCase{
			{"true", true, true, nil},
			{"string", "true", nil, ErrWrongFieldType},
		})
	})

	t.Run("untyped", func(t *testing.T) {
		runValidate(t, buildOne(t, FieldDesc{Name: "f", Type: KindUntyped}), []validateCase{
			{"anything", []any{1, "x"}, []any{1, "x"}, nil},
		})
	})

	t.Run("untyped_map", func(t *testing.T) {
		runValidate(t, buildOne(t, FieldDesc{Name: "f", Type: KindUntypedMap}), []validateCase{
			{"object", map[string]any{"a": 1}, map[string]any{"a": 1}, nil},
			{"array", []any{}, nil, ErrWrongFieldType},
		})
	})
}

func TestField_Validate_Guid(t *testing.T) {
	s, err := New(Description{Name: "c", Version: "1.0.0", Fields: []FieldDesc{{Name: "id", Type: KindOwnGuid}}})
	require.NoError(t, err)

	runValidate(t, s.OwnGuidField(), []validateCase{
		{"valid", "abcdefgh", "abcdefgh", nil},
		{"too short", "abc", nil, ErrInvalidGuid},
		{"too long", strings.Repeat("a", 65), nil, ErrInvalidGuid},
		{"comma", "abcd,efgh", nil, ErrInvalidGuid},
		{"control char", "abcd\tefgh", nil, ErrInvalidGuid},
		{"not a string", 12345678, nil, ErrWrongFieldType},
	})
}

func TestField_Validate_Numbers(t *testing.T) {
	t.Run("integer clamp", func(t *testing.T) {
		f := buildOne(t, FieldDesc{Name: "n", Type: KindInteger, Min: 0, Max: 10, IfOutOfBounds: OutOfBoundsClamp})
		runValidate(t, f, []validateCase{
			{"in range", 5, int64(5), nil},
			{"below", -3, int64(0), nil},
			{"above", 11, int64(10), nil},
			{"integral float", 4.0, int64(4), nil},
			{"fraction", 4.5, nil, ErrWrongFieldType},
			{"string", "4", nil, ErrWrongFieldType},
		})
	})

	t.Run("integer discard", func(t *testing.T) {
		f := buildOne(t, FieldDesc{Name: "n", Type: KindInteger, Min: 0, Max: 10, IfOutOfBounds: OutOfBoundsDiscard})
		runValidate(t, f, []validateCase{
			{"edge", 10, int64(10), nil},
			{"above", 11, nil, ErrOutOfBounds},
			{"below", -1, nil, ErrOutOfBounds},
		})
	})

	t.Run("real", func(t *testing.T) {
		f := buildOne(t, FieldDesc{Name: "r", Type: KindReal, Min: 0.5, IfOutOfBounds: OutOfBoundsClamp})
		runValidate(t, f, []validateCase{
			{"float", 1.25, 1.25, nil},
			{"int is a number", 2, 2.0, nil},
			{"clamped", 0.1, 0.5, nil},
			{"bool", true, nil, ErrWrongFieldType},
		})
	})

	t.Run("unbounded", func(t *testing.T) {
		f := buildOne(t, FieldDesc{Name: "r", Type: KindReal})
		runValidate(t, f, []validateCase{
			{"negative", -1e9, -1e9, nil},
		})
	})
}

func TestField_Validate_Timestamp(t *testing.T) {
	f := buildOne(t, FieldDesc{Name: "ts", Type: KindTimestamp})
	runValidate(t, f, []validateCase{
		{"recent", int64(1_600_000_000_000), int64(1_600_000_000_000), nil},
		{"earliest sane is rejected", int64(mstime.EarliestSane), nil, ErrOutOfBounds},
		{"just after earliest", int64(mstime.EarliestSane) + 1, int64(mstime.EarliestSane) + 1, nil},
		{"zero", 0, nil, ErrOutOfBounds},
		{"string", "2020-01-01", nil, ErrWrongFieldType},
	})
}

func TestField_Validate_URL(t *testing.T) {
	t.Run("plain url", func(t *testing.T) {
		f := buildOne(t, FieldDesc{Name: "u", Type: KindURL})
		runValidate(t, f, []validateCase{
			{"keeps path", "https://example.com/a?b=c#d", "https://example.com/a?b=c#d", nil},
			{"adds root path", "https://example.com", "https://example.com/", nil},
			{"lowercases host", "HTTPS://EXAMPLE.com/", "https://example.com/", nil},
			{"elides default port", "http://example.com:80/x", "http://example.com/x", nil},
			{"keeps other port", "http://example.com:8080/x", "http://example.com:8080/x", nil},
			{"opaque scheme", "mailto:someone@example.com", "mailto:someone@example.com", nil},
			{"relative", "/just/a/path", nil, ErrNotURL},
			{"no host", "https:///path", nil, ErrNotURL},
			{"not a string", 1, nil, ErrWrongFieldType},
		})
	})

	t.Run("origin", func(t *testing.T) {
		f := buildOne(t, FieldDesc{Name: "o", Type: KindURL, IsOrigin: true})
		runValidate(t, f, []validateCase{
			{"bare origin", "https://x.com", "https://x.com", nil},
			{"truncates path and query", "https://x.com/path?q=1", "https://x.com", nil},
			{"truncates fragment", "https://x.com/#frag", "https://x.com", nil},
			{"keeps non-default port", "https://x.com:8443/", "https://x.com:8443", nil},
			{"elides default port", "https://x.com:443", "https://x.com", nil},
			{"idna host", "https://bücher.example/", "https://xn--bcher-kva.example", nil},
			{"ipv6 host", "http://[::1]:8080/", "http://[::1]:8080", nil},
			{"credentials", "https://user:pw@x.com", nil, ErrURLWasNotOrigin},
			{"opaque", "data:text/plain,hi", nil, ErrOriginWasOpaque},
			{"file scheme", "file:///etc/hosts", nil, ErrOriginWasOpaque},
			{"garbage", "not a url", nil, ErrNotURL},
		})
	})
}

func TestField_Validate_RecordSet(t *testing.T) {
	f := buildOne(t, FieldDesc{Name: "set", Type: KindRecordSet, IDKey: "id"})
	runValidate(t, f, []validateCase{
		{"empty", []any{}, []any{}, nil},
		{
			"unique ids",
			[]any{map[string]any{"id": "a"}, map[string]any{"id": "b", "x": 1}},
			[]any{map[string]any{"id": "a"}, map[string]any{"id": "b", "x": 1}},
			nil,
		},
		{"repeated id", []any{map[string]any{"id": "a"}, map[string]any{"id": "a"}}, nil, ErrInvalidRecordSet},
		{"missing id", []any{map[string]any{"x": "a"}}, nil, ErrInvalidRecordSet},
		{"numeric id", []any{map[string]any{"id": 1}}, nil, ErrInvalidRecordSet},
		{"not an object", []any{"a"}, nil, ErrInvalidRecordSet},
		{"not an array", map[string]any{}, nil, ErrWrongFieldType},
	})
}

func TestField_Validate_DoesNotMutate(t *testing.T) {
	f := buildOne(t, FieldDesc{Name: "m", Type: KindUntypedMap})
	in := map[string]any{"a": 1}
	_, err := f.Validate(in)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1}, in)
}

func TestFieldType_Default(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		f := buildOne(t, FieldDesc{Name: "t", Type: KindText})
		_, ok := f.Type.Default()
		assert.False(t, ok)
	})

	t.Run("typed defaults", func(t *testing.T) {
		tests := []struct {
			name string
			fd   FieldDesc
			want any
		}{
			{"text", FieldDesc{Name: "t", Type: KindText, Default: "x"}, "x"},
			{"boolean", FieldDesc{Name: "b", Type: KindBoolean, Default: false}, false},
			{"integer from int", FieldDesc{Name: "i", Type: KindInteger, Default: 3}, int64(3)},
			{"real from int", FieldDesc{Name: "r", Type: KindReal, Default: 3}, 3.0},
			{"timestamp value", FieldDesc{Name: "ts", Type: KindTimestamp, Default: int64(1_600_000_000_000)}, int64(1_600_000_000_000)},
			{"url normalized", FieldDesc{Name: "u", Type: KindURL, Default: "https://EXAMPLE.com"}, "https://example.com/"},
			{"origin", FieldDesc{Name: "o", Type: KindURL, IsOrigin: true, Default: "https://example.com/"}, "https://example.com"},
			{"map", FieldDesc{Name: "m", Type: KindUntypedMap, Default: map[string]any{"k": "v"}}, map[string]any{"k": "v"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := buildOne(t, tt.fd)
				got, ok := f.Type.Default()
				require.True(t, ok)
				assert.Equal(t, tt.want, got)
			})
		}
	})

	t.Run("now", func(t *testing.T) {
		f := buildOne(t, FieldDesc{Name: "ts", Type: KindTimestamp, Default: "now"})
		before := int64(mstime.Now())
		got, ok := f.Type.Default()
		require.True(t, ok)
		assert.GreaterOrEqual(t, got.(int64), before)
	})

	t.Run("mutable defaults are copied", func(t *testing.T) {
		f := buildOne(t, FieldDesc{Name: "m", Type: KindUntypedMap, Default: map[string]any{"k": "v"}})
		first, _ := f.Type.Default()
		first.(map[string]any)["k"] = "changed"
		second, _ := f.Type.Default()
		assert.Equal(t, map[string]any{"k": "v"}, second)
	})

	t.Run("own_guid has no default", func(t *testing.T) {
		s, err := New(Description{Name: "c", Version: "1.0.0", Fields: []FieldDesc{{Name: "id", Type: KindOwnGuid}}})
		require.NoError(t, err)
		_, ok := s.OwnGuidField().Type.Default()
		assert.False(t, ok)
	})
}
