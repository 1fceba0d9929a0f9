// Package bundle converts records between the shape the application uses
// (native) and the shape stored on disk (local).
package bundle

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/iudanet/remerge/internal/crdt"
	"github.com/iudanet/remerge/internal/models"
	"github.com/iudanet/remerge/internal/mstime"
	"github.com/iudanet/remerge/internal/schema"
)

var (
	// ErrMissingRequiredField indicates that a required field has no value
	// and no default
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrInvalidField indicates a value that is well-typed but not allowed
	// in its position
	ErrInvalidField = errors.New("invalid field")

	// ErrLocalToNative indicates a stored record that no longer satisfies the
	// native schema, usually after an incompatible schema change
	ErrLocalToNative = errors.New("failed to convert local record to native")
)

type reasonKind int

const (
	reasonCreation reasonKind = iota
	reasonUpdate
	reasonComparison
)

// ToLocalReason tells NativeToLocal why a record is being converted.
type ToLocalReason struct {
	kind reasonKind
	prev models.LocalRecord
}

// Creation is used for records about to be inserted.
func Creation() ToLocalReason {
	return ToLocalReason{kind: reasonCreation}
}

// Update is used for records that already exist; prev is the stored version,
// needed to merge untyped maps.
func Update(prev models.LocalRecord) ToLocalReason {
	return ToLocalReason{kind: reasonUpdate, prev: prev}
}

// Comparison is used for records that are only compared against stored
// records and never written.
func Comparison() ToLocalReason {
	return ToLocalReason{kind: reasonComparison}
}

func (r ToLocalReason) String() string {
	switch r.kind {
	case reasonCreation:
		return "creation"
	case reasonUpdate:
		return "update"
	default:
		return "comparison"
	}
}

// Bundle pairs the native schema (the one the application was built
// against) with the local schema (the newest one stored records satisfy).
type Bundle struct {
	collection string
	native     *schema.RecordSchema
	local      *schema.RecordSchema
	logger     *slog.Logger
}

// New creates a Bundle.
func New(collection string, native, local *schema.RecordSchema, logger *slog.Logger) *Bundle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bundle{
		collection: collection,
		native:     native,
		local:      local,
		logger:     logger,
	}
}

// CollectionName returns the name of the collection.
func (b *Bundle) CollectionName() string {
	return b.collection
}

// NativeSchema returns the schema the application uses.
func (b *Bundle) NativeSchema() *schema.RecordSchema {
	return b.native
}

// LocalSchema returns the schema stored records satisfy.
func (b *Bundle) LocalSchema() *schema.RecordSchema {
	return b.local
}

// NativeToLocal validates rec and converts it to a local record.
//
// On Creation an identifier is generated unless the record supplies one (a
// non-auto own_guid must be supplied), and semantic timestamps are set to
// now. On Update the identifier is mandatory, updated_at timestamps are set
// to now and untyped maps are merged against the previous record. On
// Comparison nothing is fabricated: the returned identifier is empty when
// the record has none, and timestamps are kept as given.
func (b *Bundle) NativeToLocal(rec models.NativeRecord, reason ToLocalReason) (string, models.LocalRecord, error) {
	id := uuid.NewString()
	seenGuid := false
	now := int64(mstime.Now())
	out := make(models.LocalRecord, len(b.local.Fields))

	for _, field := range b.local.Fields {
		nativeField, hasNative := b.native.Field(field.Name)
		nativeName := field.Name
		if hasNative {
			nativeName = nativeField.LocalName
		}

		isGuid := field.IsKind(schema.KindOwnGuid)
		isMap := field.IsKind(schema.KindUntypedMap)

		v, present := rec[nativeName]
		if !hasNative {
			present = false
		}
		if isGuid && v == nil {
			present = false
		}

		if present {
			fixed, err := field.Validate(v)
			if err != nil {
				return "", nil, err
			}

			switch {
			case isGuid:
				id = fixed.(string)
				seenGuid = true

			case field.TimestampSemantic() != "":
				if !nativeField.IsKind(schema.KindTimestamp) {
					return "", nil, &schema.FieldError{
						Field: nativeName,
						Err:   fmt.Errorf("%w: a value was provided for timestamp with %s semantic", ErrInvalidField, field.TimestampSemantic()),
					}
				}
				switch {
				case reason.kind == reasonCreation:
					fixed = now
				case reason.kind == reasonUpdate && field.TimestampSemantic() == schema.SemanticUpdatedAt:
					fixed = now
				}

			case isMap && fixed != nil:
				fixed, err = mapToLocal(field, fixed, reason)
				if err != nil {
					return "", nil, err
				}
			}

			out[field.Name] = fixed
			continue
		}

		if def, ok := field.Type.Default(); ok {
			if isMap {
				m, _ := def.(map[string]any)
				def = crdt.NewUntypedMap(m, nil, crdt.KeepEntry).LocalValue()
			}
			out[field.Name] = def
			continue
		}

		switch {
		case isGuid:
			switch reason.kind {
			case reasonUpdate:
				return "", nil, &schema.FieldError{
					Field: nativeName,
					Err:   fmt.Errorf("%w: no value provided in id field for update", ErrInvalidField),
				}
			case reasonCreation:
				out[field.Name] = id
			case reasonComparison:
				id = ""
			}

		case field.Required:
			return "", nil, &schema.FieldError{Field: nativeName, Err: ErrMissingRequiredField}
		}
	}

	if !seenGuid && reason.kind == reasonCreation {
		if err := b.requireAutoGuid(); err != nil {
			return "", nil, err
		}
	}

	return id, out, nil
}

func mapToLocal(field *schema.Field, native any, reason ToLocalReason) (any, error) {
	m, ok := native.(map[string]any)
	if !ok {
		return nil, &schema.FieldError{Field: field.Name, Err: schema.ErrWrongFieldType}
	}

	if reason.kind == reasonUpdate {
		if prev, ok := reason.prev[field.Name]; ok && prev != nil {
			local, err := crdt.UpdateLocalFromNative(prev, m)
			if err != nil {
				return nil, &schema.FieldError{Field: field.Name, Err: err}
			}
			return local, nil
		}
	}

	return crdt.UntypedMapFromNative(m).LocalValue(), nil
}

// requireAutoGuid fails unless one of the schemas generates identifiers.
func (b *Bundle) requireAutoGuid() error {
	var name string
	for _, s := range []*schema.RecordSchema{b.local, b.native} {
		f := s.OwnGuidField()
		if f.Type.Auto {
			return nil
		}
		name = f.LocalName
	}
	return &schema.FieldError{Field: name, Err: ErrMissingRequiredField}
}

// LocalToNative converts a stored record back to the application's shape.
// For every native field it uses, in order: the stored value, the native
// default, the local default (if the native schema accepts it unchanged).
// Optional fields satisfied by none of these are omitted; required ones
// fail with ErrLocalToNative.
func (b *Bundle) LocalToNative(rec models.LocalRecord) (models.NativeRecord, error) {
	out := make(models.NativeRecord, len(b.native.Fields))

	for _, nf := range b.native.Fields {
		if v, ok := rec[nf.Name]; ok {
			if nf.IsKind(schema.KindUntypedMap) && v != nil {
				m, err := crdt.UntypedMapFromLocal(v)
				if err != nil {
					return nil, fmt.Errorf("%w: field %q: %w", ErrLocalToNative, nf.LocalName, err)
				}
				v = m.Native()
			}
			out[nf.LocalName] = v
			continue
		}

		if def, ok := nf.Type.Default(); ok {
			out[nf.LocalName] = def
			continue
		}

		if lf, ok := b.local.Field(nf.Name); ok {
			if def, ok := lf.Type.Default(); ok {
				fixed, err := nf.Validate(def)
				if err != nil {
					return nil, fmt.Errorf("%w: newer schema default for field %q is not valid for the native schema: %w",
						ErrLocalToNative, nf.LocalName, err)
				}
				if models.ValuesEqual(fixed, def) {
					out[nf.LocalName] = def
					continue
				}
				b.logger.Error("newer schema default required fixups according to the native schema",
					slog.String("collection", b.collection),
					slog.String("field", nf.LocalName))
			}
		}

		if !nf.Required {
			continue
		}

		return nil, fmt.Errorf("%w: missing or invalid required field %q", ErrLocalToNative, nf.LocalName)
	}

	return out, nil
}
