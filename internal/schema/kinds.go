package schema

// FieldKind is the closed set of field types a schema may declare.
type FieldKind string

const (
	KindUntyped    FieldKind = "untyped"
	KindText       FieldKind = "text"
	KindURL        FieldKind = "url"
	KindReal       FieldKind = "real"
	KindInteger    FieldKind = "integer"
	KindTimestamp  FieldKind = "timestamp"
	KindBoolean    FieldKind = "boolean"
	KindOwnGuid    FieldKind = "own_guid"
	KindUntypedMap FieldKind = "untyped_map"
	KindRecordSet  FieldKind = "record_set"
)

// Valid reports whether k is one of the known kinds.
func (k FieldKind) Valid() bool {
	switch k {
	case KindUntyped, KindText, KindURL, KindReal, KindInteger, KindTimestamp,
		KindBoolean, KindOwnGuid, KindUntypedMap, KindRecordSet:
		return true
	default:
		return false
	}
}

func (k FieldKind) String() string {
	return string(k)
}

// Merge is the conflict resolution strategy of a field.
type Merge string

const (
	MergeTakeNewest   Merge = "take_newest"
	MergePreferRemote Merge = "prefer_remote"
	MergeDuplicate    Merge = "duplicate"
	MergeTakeMin      Merge = "take_min"
	MergeTakeMax      Merge = "take_max"
	MergeTakeSum      Merge = "take_sum"
	MergePreferFalse  Merge = "prefer_false"
	MergePreferTrue   Merge = "prefer_true"

	// MergeCompositeMember is assigned to members of a composite; they are
	// merged together with their root. It cannot be declared.
	MergeCompositeMember Merge = "<composite member>"
)

// IfOutOfBounds selects what happens to a number outside [min, max].
type IfOutOfBounds string

const (
	OutOfBoundsClamp   IfOutOfBounds = "clamp"
	OutOfBoundsDiscard IfOutOfBounds = "discard"
)

// TimestampSemantic marks a timestamp field as maintained by the engine.
type TimestampSemantic string

const (
	SemanticCreatedAt TimestampSemantic = "created_at"
	SemanticUpdatedAt TimestampSemantic = "updated_at"
)

// RequiredMerge returns the only merge strategy allowed for the semantic.
func (s TimestampSemantic) RequiredMerge() Merge {
	switch s {
	case SemanticCreatedAt:
		return MergeTakeMin
	case SemanticUpdatedAt:
		return MergeTakeMax
	default:
		return ""
	}
}

// ChangePreference tells sync which side to prefer when one side of a
// change is missing the field.
type ChangePreference string

const (
	ChangePreferenceMissing ChangePreference = "missing"
	ChangePreferencePresent ChangePreference = "present"
)

// typeRestriction describes what a kind may participate in.
type typeRestriction struct {
	canDedupeOn          bool
	validCompositeMember bool
	forcesMergeStrategy  bool
}

func restrictionFor(k FieldKind) typeRestriction {
	switch k {
	case KindUntyped, KindText, KindURL, KindBoolean:
		return typeRestriction{canDedupeOn: true, validCompositeMember: true}
	case KindInteger, KindTimestamp, KindReal:
		return typeRestriction{validCompositeMember: true}
	default:
		// own_guid, untyped_map, record_set
		return typeRestriction{forcesMergeStrategy: true}
	}
}

// mergeAllowed reports whether m may be declared for a field of kind k.
func mergeAllowed(k FieldKind, m Merge) bool {
	switch m {
	case MergeTakeNewest, MergePreferRemote, MergeDuplicate:
		return !restrictionFor(k).forcesMergeStrategy
	case MergeTakeMin, MergeTakeMax:
		return k == KindReal || k == KindInteger || k == KindTimestamp
	case MergeTakeSum:
		return k == KindReal || k == KindInteger
	case MergePreferFalse, MergePreferTrue:
		return k == KindBoolean
	default:
		return false
	}
}
