package schema

import (
	"fmt"
	"slices"

	"github.com/Masterminds/semver/v3"
)

// featuresUnderstood lists the remerge features this engine implements.
var featuresUnderstood = []string{"record_set"}

// RecordSchema is the validated, indexed form of a Description. It is
// immutable after New returns.
type RecordSchema struct {
	Name            string
	Version         *semver.Version
	RequiredVersion *semver.Constraints
	Legacy          bool
	Fields          []*Field

	byName      map[string]int
	byLocalName map[string]int

	dedupeOn        []int
	compositeRoots  []int
	compositeFields []int
	updatedAt       int
	ownGuid         int

	desc Description
	text string
}

// Field returns the field with the given canonical name.
func (s *RecordSchema) Field(name string) (*Field, bool) {
	idx, ok := s.byName[name]
	if !ok {
		return nil, false
	}
	return s.Fields[idx], true
}

// FieldByLocalName returns the field the application knows as localName.
func (s *RecordSchema) FieldByLocalName(localName string) (*Field, bool) {
	idx, ok := s.byLocalName[localName]
	if !ok {
		return nil, false
	}
	return s.Fields[idx], true
}

// OwnGuidField returns the identifier field.
func (s *RecordSchema) OwnGuidField() *Field {
	return s.Fields[s.ownGuid]
}

// UpdatedAtField returns the timestamp field with the updated_at semantic.
func (s *RecordSchema) UpdatedAtField() (*Field, bool) {
	if s.updatedAt < 0 {
		return nil, false
	}
	return s.Fields[s.updatedAt], true
}

// DedupeOn returns the fields whose combined value must be unique.
func (s *RecordSchema) DedupeOn() []*Field {
	return s.pick(s.dedupeOn)
}

// CompositeRoots returns the roots of all composites.
func (s *RecordSchema) CompositeRoots() []*Field {
	return s.pick(s.compositeRoots)
}

// CompositeFields returns every field that is part of a composite.
func (s *RecordSchema) CompositeFields() []*Field {
	return s.pick(s.compositeFields)
}

func (s *RecordSchema) pick(idx []int) []*Field {
	out := make([]*Field, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.Fields[i])
	}
	return out
}

// Description returns the description the schema was built from, with the
// required version filled in.
func (s *RecordSchema) Description() Description {
	return s.desc
}

// Text returns the canonical serialized form of the schema. Implied values
// (local names, default merges, auto ids, bounds policies) are spelled out,
// so two schemas have equal text iff they mean the same.
func (s *RecordSchema) Text() string {
	return s.text
}

// New validates desc and builds a RecordSchema.
func New(desc Description) (*RecordSchema, error) {
	if desc.Name == "" {
		return nil, ErrEmptySchemaName
	}
	desc.Fields = slices.Clone(desc.Fields)
	desc.DedupeOn = slices.Clone(desc.DedupeOn)

	version, required, err := checkVersions(&desc)
	if err != nil {
		return nil, err
	}

	for _, feat := range desc.FeaturesUsed {
		if !slices.Contains(featuresUnderstood, feat) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFeature, feat)
		}
	}

	b := newBuilder(&desc)
	s := &RecordSchema{
		Name:            desc.Name,
		Version:         version,
		RequiredVersion: required,
		Legacy:          desc.Legacy,
		Fields:          make([]*Field, 0, len(desc.Fields)),
		byName:          make(map[string]int, len(desc.Fields)),
		byLocalName:     make(map[string]int, len(desc.Fields)),
		updatedAt:       -1,
		ownGuid:         -1,
	}

	for i := range desc.Fields {
		fd := &desc.Fields[i]
		if err := b.checkFieldName(fd, s); err != nil {
			return nil, err
		}

		f, err := b.buildField(fd, i)
		if err != nil {
			return nil, err
		}
		normalizeFieldDesc(fd, f)

		switch {
		case f.IsKind(KindOwnGuid):
			if s.ownGuid >= 0 {
				return nil, ErrMultipleOwnGuid
			}
			s.ownGuid = i
		case f.TimestampSemantic() == SemanticUpdatedAt:
			if s.updatedAt >= 0 {
				return nil, ErrMultipleUpdatedAt
			}
			s.updatedAt = i
		}

		if f.IsKind(KindRecordSet) && !slices.Contains(desc.FeaturesUsed, "record_set") {
			return nil, fmt.Errorf("%w: record_set", ErrUndeclaredFeature)
		}

		s.Fields = append(s.Fields, f)
		s.byName[f.Name] = i
		s.byLocalName[f.LocalName] = i
	}

	if s.ownGuid < 0 {
		return nil, ErrMissingOwnGuid
	}

	if err := b.checkDedupeOn(s); err != nil {
		return nil, err
	}

	for _, name := range desc.DedupeOn {
		s.dedupeOn = append(s.dedupeOn, s.byName[name])
	}
	for _, f := range s.Fields {
		if f.Composite == nil {
			continue
		}
		s.compositeFields = append(s.compositeFields, f.Index)
		if f.IsCompositeRoot() {
			s.compositeRoots = append(s.compositeRoots, f.Index)
		}
	}

	text, err := desc.Canonical()
	if err != nil {
		return nil, err
	}
	s.desc = desc
	s.text = string(text)

	return s, nil
}

// normalizeFieldDesc writes the implied values of f back into fd, so that
// descriptions with the same meaning have the same canonical text.
func normalizeFieldDesc(fd *FieldDesc, f *Field) {
	fd.LocalName = f.LocalName

	switch {
	case restrictionFor(f.Type.Kind).forcesMergeStrategy:
	case f.Type.Merge == MergeCompositeMember:
	default:
		fd.Merge = f.Type.Merge
	}

	switch f.Type.Kind {
	case KindOwnGuid:
		auto := f.Type.Auto
		fd.Auto = &auto
	case KindInteger, KindReal:
		fd.IfOutOfBounds = f.Type.IfOutOfBounds
		if f.Type.def != nil {
			fd.Default = f.Type.def
		}
	case KindText, KindBoolean, KindURL, KindTimestamp:
		if f.Type.def != nil {
			fd.Default = f.Type.def
		}
	}
}

func checkVersions(desc *Description) (*semver.Version, *semver.Constraints, error) {
	version, err := semver.StrictNewVersion(desc.Version)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %q: %v", ErrVersionParse, desc.Version, err)
	}

	if desc.RequiredVersion == "" {
		withoutBuild, err := version.SetMetadata("")
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrVersionParse, err)
		}
		desc.RequiredVersion = "^" + withoutBuild.String()
	}

	required, err := semver.NewConstraint(desc.RequiredVersion)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %q: %v", ErrRequiredVersionParse, desc.RequiredVersion, err)
	}
	if !required.Check(version) {
		return nil, nil, fmt.Errorf("%w: %s does not satisfy %s", ErrRequiredVersionMismatch, version, desc.RequiredVersion)
	}

	return version, required, nil
}
