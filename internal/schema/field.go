package schema

import (
	"fmt"
	"math"

	"github.com/iudanet/remerge/internal/models"
	"github.com/iudanet/remerge/internal/mstime"
	"github.com/iudanet/remerge/internal/validation"
)

// CompositeInfo links the fields of a composite. For the root, Root equals
// the field's own index and Children lists the members; for a member, Root is
// the root's index and Children is empty.
type CompositeInfo struct {
	Root     int
	Children []int
}

// Field is a single validated field of a RecordSchema.
type Field struct {
	Name string
	// LocalName is the key the application uses; it equals Name unless
	// the field was renamed locally.
	LocalName        string
	Required         bool
	Deprecated       bool
	ChangePreference ChangePreference
	Composite        *CompositeInfo
	Type             FieldType
	Index            int
}

// IsCompositeRoot reports whether other fields are merged together with f.
func (f *Field) IsCompositeRoot() bool {
	return f.Composite != nil && f.Composite.Root == f.Index
}

// IsKind reports whether the field is of kind k.
func (f *Field) IsKind(k FieldKind) bool {
	return f.Type.Kind == k
}

// TimestampSemantic returns the semantic of a timestamp field, or "".
func (f *Field) TimestampSemantic() TimestampSemantic {
	if f.Type.Kind != KindTimestamp {
		return ""
	}
	return f.Type.Semantic
}

// FieldType holds the kind of a field together with the parameters that
// apply to that kind. Parameters of other kinds are zero.
type FieldType struct {
	Kind  FieldKind
	Merge Merge

	// url
	IsOrigin bool

	// real
	RealMin, RealMax *float64
	// integer
	IntMin, IntMax *int64
	// real, integer
	IfOutOfBounds IfOutOfBounds

	// timestamp
	Semantic   TimestampSemantic
	DefaultNow bool

	// own_guid
	Auto bool

	// untyped_map, record_set
	PreferDeletions bool

	// record_set
	IDKey string

	// typed default; nil when the field has none
	def any
}

// Default returns the default value of the field, if it has one. Mutable
// defaults are copied, so callers may modify the result. A timestamp
// defaulting to "now" resolves to the current time.
func (ft FieldType) Default() (any, bool) {
	switch ft.Kind {
	case KindOwnGuid:
		return nil, false
	case KindTimestamp:
		if ft.DefaultNow {
			return int64(mstime.Now()), true
		}
	case KindUntyped, KindUntypedMap, KindRecordSet:
		if ft.def == nil {
			return nil, false
		}
		return copyJSON(ft.def), true
	}
	if ft.def == nil {
		return nil, false
	}
	return ft.def, true
}

func copyJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = copyJSON(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = copyJSON(inner)
		}
		return out
	default:
		return v
	}
}

// Validate checks v against the field and returns the value to store, which
// may differ from v (clamped numbers, normalized urls, truncated origins,
// canonical number types). v itself is never modified.
func (f *Field) Validate(v any) (any, error) {
	if v == nil && !f.Required {
		return nil, nil
	}

	switch f.Type.Kind {
	case KindUntyped:
		return v, nil

	case KindOwnGuid:
		return f.validateGuid(v)

	case KindText:
		if _, ok := v.(string); !ok {
			return nil, f.wrongType(v)
		}
		return v, nil

	case KindBoolean:
		if _, ok := v.(bool); !ok {
			return nil, f.wrongType(v)
		}
		return v, nil

	case KindUntypedMap:
		if _, ok := v.(map[string]any); !ok {
			return nil, f.wrongType(v)
		}
		return v, nil

	case KindRecordSet:
		return f.validateRecordSet(v)

	case KindURL:
		return f.validateURL(v)

	case KindReal:
		n, ok := models.ToFloat64(v)
		if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, f.wrongType(v)
		}
		return validateNum(f, n, f.Type.RealMin, f.Type.RealMax)

	case KindInteger:
		n, ok := models.ToInt64(v)
		if !ok {
			return nil, f.wrongType(v)
		}
		return validateNum(f, n, f.Type.IntMin, f.Type.IntMax)

	case KindTimestamp:
		n, ok := models.ToInt64(v)
		if !ok {
			return nil, f.wrongType(v)
		}
		if !mstime.MsTime(n).IsSane() {
			return nil, fieldErrf(f.Name, ErrOutOfBounds, "timestamp %d is not after %d", n, int64(mstime.EarliestSane))
		}
		return n, nil
	}

	panic("bug: unhandled field kind " + string(f.Type.Kind))
}

func (f *Field) wrongType(v any) error {
	return fieldErrf(f.Name, ErrWrongFieldType, "expected %s, got %T", f.Type.Kind, v)
}

// validateGuid checks that v is a string usable as a record identifier.
func (f *Field) validateGuid(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, f.wrongType(v)
	}
	if err := validation.ValidateGuid(s); err != nil {
		return nil, fieldErrf(f.Name, ErrInvalidGuid, "%v", err)
	}
	return s, nil
}

func (f *Field) validateURL(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, f.wrongType(v)
	}
	p, err := parseURL(s)
	if err != nil {
		return nil, fieldErr(f.Name, err)
	}
	if !f.Type.IsOrigin {
		return p.String(), nil
	}
	origin, err := p.Origin()
	if err != nil {
		return nil, fieldErr(f.Name, err)
	}
	return origin, nil
}

func (f *Field) validateRecordSet(v any) (any, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, f.wrongType(v)
	}
	if err := checkRecordSetIDs(items, f.Type.IDKey); err != nil {
		return nil, fieldErr(f.Name, err)
	}
	return items, nil
}

func checkRecordSetIDs(items []any, idKey string) error {
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: entry %d is not an object", ErrInvalidRecordSet, i)
		}
		id, ok := obj[idKey].(string)
		if !ok {
			return fmt.Errorf("%w: entry %d has a missing or non-string %q", ErrInvalidRecordSet, i, idKey)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %q %q appears more than once", ErrInvalidRecordSet, idKey, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

type number interface {
	~int64 | ~float64
}

func validateNum[N number](f *Field, v N, lo, hi *N) (any, error) {
	clamped := v
	if lo != nil && clamped < *lo {
		clamped = *lo
	}
	if hi != nil && clamped > *hi {
		clamped = *hi
	}
	if clamped != v && f.Type.IfOutOfBounds != OutOfBoundsClamp {
		return nil, fieldErrf(f.Name, ErrOutOfBounds, "%v", v)
	}
	return clamped, nil
}
