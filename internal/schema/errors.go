package schema

import (
	"errors"
	"fmt"
)

// Record validation errors
var (
	// ErrWrongFieldType indicates a value of the wrong JSON type for its field
	ErrWrongFieldType = errors.New("wrong field type")

	// ErrOutOfBounds indicates a number outside its declared bounds, or a
	// timestamp earlier than the earliest sane time
	ErrOutOfBounds = errors.New("value out of bounds")

	// ErrNotURL indicates a string that is not an absolute URL
	ErrNotURL = errors.New("not a valid url")

	// ErrURLWasNotOrigin indicates that an origin field received a URL with credentials
	ErrURLWasNotOrigin = errors.New("url was not an origin")

	// ErrOriginWasOpaque indicates a URL whose scheme has no tuple origin
	ErrOriginWasOpaque = errors.New("origin was opaque")

	// ErrInvalidGuid indicates a malformed record identifier
	ErrInvalidGuid = errors.New("invalid guid")

	// ErrInvalidRecordSet indicates a record set with a non-object entry or a
	// missing, non-string or repeated id key
	ErrInvalidRecordSet = errors.New("invalid record set")
)

// Schema construction errors
var (
	ErrEmptySchemaName          = errors.New("schema name cannot be empty")
	ErrVersionParse             = errors.New("failed to parse schema version")
	ErrRequiredVersionParse     = errors.New("failed to parse required version")
	ErrRequiredVersionMismatch  = errors.New("required version does not match schema version")
	ErrUnknownFeature           = errors.New("unknown remerge feature")
	ErrUndeclaredFeature        = errors.New("feature used without being declared")
	ErrInvalidFieldName         = errors.New("invalid field name")
	ErrDuplicateField           = errors.New("duplicate field name")
	ErrUnknownFieldKind         = errors.New("unknown field type")
	ErrInapplicableOption       = errors.New("option does not apply to field type")
	ErrMultipleOwnGuid          = errors.New("multiple own_guid fields")
	ErrMultipleUpdatedAt        = errors.New("multiple updated_at timestamp fields")
	ErrMissingOwnGuid           = errors.New("schema has no own_guid field")
	ErrUnknownDedupeOnField     = errors.New("dedupe_on names an unknown field")
	ErrBadTypeInDedupeOn        = errors.New("field type cannot be used in dedupe_on")
	ErrDeprecatedDedupeOn       = errors.New("deprecated field cannot be used in dedupe_on")
	ErrPartialCompositeDedupeOn = errors.New("dedupe_on must contain every member of a composite or none")
	ErrDedupeOnWithDuplicate    = errors.New("duplicate merge cannot be used together with dedupe_on")
	ErrDeprecatedRequired       = errors.New("field cannot be both deprecated and required")
	ErrIllegalMerge             = errors.New("illegal merge strategy for field type")
	ErrTypeForbidsMerge         = errors.New("field type does not allow a merge strategy")
	ErrTypeNotComposite         = errors.New("field type cannot be a composite member")
	ErrCompositeMemberMerge     = errors.New("composite members cannot declare a merge strategy")
	ErrUnknownCompositeRoot     = errors.New("unknown composite root")
	ErrCompositeRecursion       = errors.New("composite root cannot be a composite member")
	ErrCompositeRootMerge       = errors.New("invalid merge strategy for composite root")
	ErrBadNumBounds             = errors.New("invalid numeric bounds")
	ErrMissingBoundsPolicy      = errors.New("numeric bounds require if_out_of_bounds")
	ErrTakeSumWithMax           = errors.New("take_sum merge cannot be combined with max")
	ErrBadNumDefault            = errors.New("default is outside numeric bounds")
	ErrUnknownSemantic          = errors.New("unknown timestamp semantic")
	ErrBadTimestampMerge        = errors.New("merge strategy conflicts with timestamp semantic")
	ErrDefaultTimestampTooOld   = errors.New("default timestamp is earlier than the earliest sane time")
	ErrBadDefault               = errors.New("invalid default value")
	ErrBadDefaultURL            = errors.New("default url is invalid")
	ErrBadDefaultOrigin         = errors.New("default url is not a bare origin")
	ErrBadRecordSetDefault      = errors.New("invalid record set default")
	ErrMissingIDKey             = errors.New("record_set requires id_key")
	ErrInvalidChangePreference  = errors.New("invalid change preference")
)

// FieldError attaches the name of the offending field to an error.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func fieldErr(field string, err error) error {
	return &FieldError{Field: field, Err: err}
}

func fieldErrf(field string, sentinel error, format string, args ...any) error {
	return &FieldError{Field: field, Err: fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...)}
}
