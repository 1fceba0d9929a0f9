// Package remerge is an embedded record store driven by a declarative
// schema. Records are validated against the schema, stored in SQLite with
// causality metadata, and laid out so that a sync engine can reconcile them
// with other clients without per-collection merge code.
package remerge

import (
	"github.com/iudanet/remerge/internal/bundle"
	"github.com/iudanet/remerge/internal/crdt"
	"github.com/iudanet/remerge/internal/models"
	"github.com/iudanet/remerge/internal/schema"
	"github.com/iudanet/remerge/internal/storage"
)

type (
	// NativeRecord is a record in the shape the application uses: a JSON
	// object keyed by the local names of the fields.
	NativeRecord = models.NativeRecord

	// SchemaDescription is a parsed schema document.
	SchemaDescription = schema.Description
	// FieldDescription describes one field of a SchemaDescription.
	FieldDescription = schema.FieldDesc
	// FieldError wraps a validation error with the name of the offending field.
	FieldError = schema.FieldError

	FieldKind         = schema.FieldKind
	Merge             = schema.Merge
	IfOutOfBounds     = schema.IfOutOfBounds
	TimestampSemantic = schema.TimestampSemantic
	ChangePreference  = schema.ChangePreference

	// SyncStore is the part of the engine a sync client drives.
	SyncStore = storage.SyncStorage
	LocalRow  = models.LocalRow
	MirrorRow = models.MirrorRow
	VClock    = crdt.VClock
)

const (
	KindUntyped    = schema.KindUntyped
	KindText       = schema.KindText
	KindURL        = schema.KindURL
	KindReal       = schema.KindReal
	KindInteger    = schema.KindInteger
	KindTimestamp  = schema.KindTimestamp
	KindBoolean    = schema.KindBoolean
	KindOwnGuid    = schema.KindOwnGuid
	KindUntypedMap = schema.KindUntypedMap
	KindRecordSet  = schema.KindRecordSet

	MergeTakeNewest   = schema.MergeTakeNewest
	MergePreferRemote = schema.MergePreferRemote
	MergeDuplicate    = schema.MergeDuplicate
	MergeTakeMin      = schema.MergeTakeMin
	MergeTakeMax      = schema.MergeTakeMax
	MergeTakeSum      = schema.MergeTakeSum
	MergePreferFalse  = schema.MergePreferFalse
	MergePreferTrue   = schema.MergePreferTrue

	OutOfBoundsClamp   = schema.OutOfBoundsClamp
	OutOfBoundsDiscard = schema.OutOfBoundsDiscard

	SemanticCreatedAt = schema.SemanticCreatedAt
	SemanticUpdatedAt = schema.SemanticUpdatedAt
)

// Errors returned by the engine. Match them with errors.Is.
var (
	ErrNoSuchRecord                    = storage.ErrNoSuchRecord
	ErrIDNotUnique                     = storage.ErrIDNotUnique
	ErrDuplicate                       = storage.ErrDuplicate
	ErrSchemaNameMismatch              = storage.ErrSchemaNameMismatch
	ErrSchemaVersionWentBackwards      = storage.ErrSchemaVersionWentBackwards
	ErrSchemaChangedWithoutVersionBump = storage.ErrSchemaChangedWithoutVersionBump

	ErrMissingRequiredField = bundle.ErrMissingRequiredField
	ErrInvalidField         = bundle.ErrInvalidField
	ErrLocalToNative        = bundle.ErrLocalToNative

	ErrWrongFieldType   = schema.ErrWrongFieldType
	ErrOutOfBounds      = schema.ErrOutOfBounds
	ErrNotURL           = schema.ErrNotURL
	ErrURLWasNotOrigin  = schema.ErrURLWasNotOrigin
	ErrOriginWasOpaque  = schema.ErrOriginWasOpaque
	ErrInvalidGuid      = schema.ErrInvalidGuid
	ErrInvalidRecordSet = schema.ErrInvalidRecordSet

	ErrUntypedMapTombstoneCollision = crdt.ErrUntypedMapTombstoneCollision
)

// ParseNativeRecord decodes a JSON object into a NativeRecord. Integral
// numbers decode as int64, other numbers as float64.
func ParseNativeRecord(data []byte) (NativeRecord, error) {
	return models.ParseNativeRecord(data)
}

// ParseSchema decodes a JSON schema document.
func ParseSchema(data []byte) (SchemaDescription, error) {
	return schema.ParseDescription(data)
}
