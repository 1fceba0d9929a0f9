package schema

import (
	"fmt"
	"math"

	"github.com/iudanet/remerge/internal/models"
	"github.com/iudanet/remerge/internal/mstime"
	"github.com/iudanet/remerge/internal/validation"
)

// builder carries the schema-wide context needed while building fields.
type builder struct {
	desc           *Description
	dedupeOn       map[string]struct{}
	fieldIndex     map[string]int
	compositeRoots map[string][]int
}

func newBuilder(desc *Description) *builder {
	b := &builder{
		desc:           desc,
		dedupeOn:       make(map[string]struct{}, len(desc.DedupeOn)),
		fieldIndex:     make(map[string]int, len(desc.Fields)),
		compositeRoots: make(map[string][]int),
	}
	for _, name := range desc.DedupeOn {
		b.dedupeOn[name] = struct{}{}
	}
	for i, f := range desc.Fields {
		if _, dup := b.fieldIndex[f.Name]; !dup {
			b.fieldIndex[f.Name] = i
		}
		if f.CompositeRoot != "" {
			b.compositeRoots[f.CompositeRoot] = append(b.compositeRoots[f.CompositeRoot], i)
		}
	}
	return b
}

func (b *builder) inDedupeOn(name string) bool {
	_, ok := b.dedupeOn[name]
	return ok
}

func (b *builder) isCompositeRoot(name string) bool {
	_, ok := b.compositeRoots[name]
	return ok
}

// checkFieldName rejects invalid names and names clashing with a field
// already added to s.
func (b *builder) checkFieldName(fd *FieldDesc, s *RecordSchema) error {
	names := []string{fd.Name}
	if fd.LocalName != "" && fd.LocalName != fd.Name {
		names = append(names, fd.LocalName)
	}
	for _, n := range names {
		if _, ok := s.byName[n]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateField, n)
		}
		if _, ok := s.byLocalName[n]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateField, n)
		}
		if err := validation.ValidateFieldName(n); err != nil {
			return fieldErrf(fd.Name, ErrInvalidFieldName, "%v", err)
		}
	}
	return nil
}

func (b *builder) buildField(fd *FieldDesc, idx int) (*Field, error) {
	if !fd.Type.Valid() {
		return nil, fieldErrf(fd.Name, ErrUnknownFieldKind, "%q", fd.Type)
	}
	if err := checkApplicableOptions(fd); err != nil {
		return nil, fieldErr(fd.Name, err)
	}

	restriction := restrictionFor(fd.Type)
	if !restriction.canDedupeOn && b.inDedupeOn(fd.Name) {
		return nil, fieldErrf(fd.Name, ErrBadTypeInDedupeOn, "%s", fd.Type)
	}
	if restriction.forcesMergeStrategy && fd.Merge != "" {
		return nil, fieldErrf(fd.Name, ErrTypeForbidsMerge, "%s", fd.Type)
	}
	if !restriction.validCompositeMember && fd.CompositeRoot != "" {
		return nil, fieldErrf(fd.Name, ErrTypeNotComposite, "%s", fd.Type)
	}

	// timestamp semantics imply their merge
	merge := fd.Merge
	if merge == "" && fd.Type == KindTimestamp {
		merge = fd.Semantic.RequiredMerge()
	}

	var composite *CompositeInfo
	if fd.CompositeRoot != "" {
		if merge != "" {
			return nil, fieldErr(fd.Name, ErrCompositeMemberMerge)
		}
		rootIdx, ok := b.fieldIndex[fd.CompositeRoot]
		if !ok {
			return nil, fieldErrf(fd.Name, ErrUnknownCompositeRoot, "%q", fd.CompositeRoot)
		}
		composite = &CompositeInfo{Root: rootIdx}
	}

	if b.isCompositeRoot(fd.Name) {
		if fd.CompositeRoot != "" {
			return nil, fieldErr(fd.Name, ErrCompositeRecursion)
		}
		switch merge {
		case "", MergeTakeNewest, MergePreferRemote, MergeTakeMin, MergeTakeMax:
		default:
			return nil, fieldErrf(fd.Name, ErrCompositeRootMerge, "%s", merge)
		}
		composite = &CompositeInfo{Root: idx, Children: b.compositeRoots[fd.Name]}
	}

	switch {
	case restriction.forcesMergeStrategy:
		merge = ""
	case composite != nil && !composite.isRoot(idx):
		merge = MergeCompositeMember
	default:
		if merge == "" {
			merge = MergeTakeNewest
		}
		if !mergeAllowed(fd.Type, merge) {
			return nil, fieldErrf(fd.Name, ErrIllegalMerge, "%s for %s", merge, fd.Type)
		}
	}

	if merge == MergeDuplicate && len(b.desc.DedupeOn) > 0 {
		return nil, fieldErr(fd.Name, ErrDedupeOnWithDuplicate)
	}
	if fd.Deprecated && b.inDedupeOn(fd.Name) {
		return nil, fieldErr(fd.Name, ErrDeprecatedDedupeOn)
	}
	if fd.Deprecated && fd.Required {
		return nil, fieldErr(fd.Name, ErrDeprecatedRequired)
	}
	switch fd.ChangePreference {
	case "", ChangePreferenceMissing, ChangePreferencePresent:
	default:
		return nil, fieldErrf(fd.Name, ErrInvalidChangePreference, "%q", fd.ChangePreference)
	}

	ft, err := buildFieldType(fd, merge)
	if err != nil {
		return nil, fieldErr(fd.Name, err)
	}

	localName := fd.LocalName
	if localName == "" {
		localName = fd.Name
	}

	return &Field{
		Name:             fd.Name,
		LocalName:        localName,
		Required:         fd.Required,
		Deprecated:       fd.Deprecated,
		ChangePreference: fd.ChangePreference,
		Composite:        composite,
		Type:             ft,
		Index:            idx,
	}, nil
}

func (c *CompositeInfo) isRoot(idx int) bool {
	return c.Root == idx
}

func checkApplicableOptions(fd *FieldDesc) error {
	k := fd.Type
	numeric := k == KindReal || k == KindInteger
	checks := []struct {
		option string
		set    bool
		ok     bool
	}{
		{"is_origin", fd.IsOrigin, k == KindURL},
		{"min", fd.Min != nil, numeric},
		{"max", fd.Max != nil, numeric},
		{"if_out_of_bounds", fd.IfOutOfBounds != "", numeric},
		{"semantic", fd.Semantic != "", k == KindTimestamp},
		{"auto", fd.Auto != nil, k == KindOwnGuid},
		{"prefer_deletions", fd.PreferDeletions, k == KindUntypedMap || k == KindRecordSet},
		{"id_key", fd.IDKey != "", k == KindRecordSet},
		{"default", fd.Default != nil, k != KindOwnGuid},
	}
	for _, c := range checks {
		if c.set && !c.ok {
			return fmt.Errorf("%w: %s on %s", ErrInapplicableOption, c.option, k)
		}
	}
	return nil
}

// buildFieldType validates kind-specific options and the default.
func buildFieldType(fd *FieldDesc, merge Merge) (FieldType, error) {
	ft := FieldType{Kind: fd.Type, Merge: merge}

	switch fd.Type {
	case KindUntyped:
		ft.def = copyJSON(fd.Default)

	case KindText:
		if fd.Default != nil {
			s, ok := fd.Default.(string)
			if !ok {
				return ft, fmt.Errorf("%w: text default must be a string, got %T", ErrBadDefault, fd.Default)
			}
			ft.def = s
		}

	case KindBoolean:
		if fd.Default != nil {
			v, ok := fd.Default.(bool)
			if !ok {
				return ft, fmt.Errorf("%w: boolean default must be a bool, got %T", ErrBadDefault, fd.Default)
			}
			ft.def = v
		}

	case KindURL:
		ft.IsOrigin = fd.IsOrigin
		if fd.Default != nil {
			def, err := urlDefault(fd.Default, fd.IsOrigin)
			if err != nil {
				return ft, err
			}
			ft.def = def
		}

	case KindReal:
		if err := buildRealBounds(&ft, fd, merge); err != nil {
			return ft, err
		}

	case KindInteger:
		if err := buildIntBounds(&ft, fd, merge); err != nil {
			return ft, err
		}

	case KindTimestamp:
		if err := buildTimestamp(&ft, fd, merge); err != nil {
			return ft, err
		}

	case KindOwnGuid:
		ft.Auto = fd.Auto == nil || *fd.Auto

	case KindUntypedMap:
		ft.PreferDeletions = fd.PreferDeletions
		if fd.Default != nil {
			m, ok := fd.Default.(map[string]any)
			if !ok {
				return ft, fmt.Errorf("%w: untyped_map default must be an object, got %T", ErrBadDefault, fd.Default)
			}
			ft.def = copyJSON(m)
		}

	case KindRecordSet:
		ft.PreferDeletions = fd.PreferDeletions
		if fd.IDKey == "" {
			return ft, ErrMissingIDKey
		}
		ft.IDKey = fd.IDKey
		if fd.Default != nil {
			items, ok := recordSetItems(fd.Default)
			if !ok {
				return ft, fmt.Errorf("%w: must be an array of objects", ErrBadRecordSetDefault)
			}
			if err := checkRecordSetIDs(items, fd.IDKey); err != nil {
				return ft, fmt.Errorf("%w: %v", ErrBadRecordSetDefault, err)
			}
			ft.def = copyJSON(items)
		}
	}

	return ft, nil
}

func recordSetItems(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out, true
	default:
		return nil, false
	}
}

func urlDefault(v any, isOrigin bool) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: must be a string, got %T", ErrBadDefaultURL, v)
	}
	p, err := parseURL(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadDefaultURL, err)
	}
	if !isOrigin {
		return p.String(), nil
	}
	if !p.isBareOrigin() {
		return "", fmt.Errorf("%w: %q", ErrBadDefaultOrigin, s)
	}
	return p.Origin()
}

func checkBoundsPolicy(fd *FieldDesc, hasBounds bool) (IfOutOfBounds, error) {
	switch fd.IfOutOfBounds {
	case OutOfBoundsClamp, OutOfBoundsDiscard:
		return fd.IfOutOfBounds, nil
	case "":
		if hasBounds {
			return "", ErrMissingBoundsPolicy
		}
		return OutOfBoundsDiscard, nil
	default:
		return "", fmt.Errorf("%w: unknown if_out_of_bounds %q", ErrBadNumBounds, fd.IfOutOfBounds)
	}
}

func buildRealBounds(ft *FieldType, fd *FieldDesc, merge Merge) error {
	lo, err := optionalFloat(fd.Min)
	if err != nil {
		return err
	}
	hi, err := optionalFloat(fd.Max)
	if err != nil {
		return err
	}
	ft.IfOutOfBounds, err = checkBoundsPolicy(fd, lo != nil || hi != nil)
	if err != nil {
		return err
	}
	if lo != nil && hi != nil && *hi < *lo {
		return fmt.Errorf("%w: max %v < min %v", ErrBadNumBounds, *hi, *lo)
	}
	if hi != nil && merge == MergeTakeSum {
		return ErrTakeSumWithMax
	}
	ft.RealMin, ft.RealMax = lo, hi

	if fd.Default != nil {
		d, ok := models.ToFloat64(fd.Default)
		if !ok || math.IsNaN(d) || math.IsInf(d, 0) {
			return fmt.Errorf("%w: real default must be a finite number, got %v", ErrBadDefault, fd.Default)
		}
		if (lo != nil && d < *lo) || (hi != nil && d > *hi) {
			return fmt.Errorf("%w: %v", ErrBadNumDefault, d)
		}
		ft.def = d
	}
	return nil
}

func optionalFloat(v any) (*float64, error) {
	if v == nil {
		return nil, nil
	}
	f, ok := models.ToFloat64(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: %v is not a finite number", ErrBadNumBounds, v)
	}
	return &f, nil
}

func buildIntBounds(ft *FieldType, fd *FieldDesc, merge Merge) error {
	lo, err := optionalInt(fd.Min)
	if err != nil {
		return err
	}
	hi, err := optionalInt(fd.Max)
	if err != nil {
		return err
	}
	ft.IfOutOfBounds, err = checkBoundsPolicy(fd, lo != nil || hi != nil)
	if err != nil {
		return err
	}
	if lo != nil && hi != nil && *hi < *lo {
		return fmt.Errorf("%w: max %d < min %d", ErrBadNumBounds, *hi, *lo)
	}
	if hi != nil && merge == MergeTakeSum {
		return ErrTakeSumWithMax
	}
	ft.IntMin, ft.IntMax = lo, hi

	if fd.Default != nil {
		d, ok := models.ToInt64(fd.Default)
		if !ok {
			return fmt.Errorf("%w: integer default must be an integer, got %v", ErrBadDefault, fd.Default)
		}
		if (lo != nil && d < *lo) || (hi != nil && d > *hi) {
			return fmt.Errorf("%w: %d", ErrBadNumDefault, d)
		}
		ft.def = d
	}
	return nil
}

func optionalInt(v any) (*int64, error) {
	if v == nil {
		return nil, nil
	}
	i, ok := models.ToInt64(v)
	if !ok {
		return nil, fmt.Errorf("%w: %v is not an integer", ErrBadNumBounds, v)
	}
	return &i, nil
}

func buildTimestamp(ft *FieldType, fd *FieldDesc, merge Merge) error {
	switch fd.Semantic {
	case "":
	case SemanticCreatedAt, SemanticUpdatedAt:
		if want := fd.Semantic.RequiredMerge(); merge != want {
			return fmt.Errorf("%w: %s requires %s, got %s", ErrBadTimestampMerge, fd.Semantic, want, merge)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSemantic, fd.Semantic)
	}
	ft.Semantic = fd.Semantic

	if fd.Default == nil {
		return nil
	}
	if s, ok := fd.Default.(string); ok {
		if s != "now" {
			return fmt.Errorf("%w: timestamp default must be an integer or \"now\", got %q", ErrBadDefault, s)
		}
		ft.DefaultNow = true
		return nil
	}
	d, ok := models.ToInt64(fd.Default)
	if !ok {
		return fmt.Errorf("%w: timestamp default must be an integer or \"now\", got %v", ErrBadDefault, fd.Default)
	}
	if mstime.MsTime(d) < mstime.EarliestSane {
		return fmt.Errorf("%w: %d", ErrDefaultTimestampTooOld, d)
	}
	ft.def = d
	return nil
}

// checkDedupeOn verifies dedupe_on against the built fields.
func (b *builder) checkDedupeOn(s *RecordSchema) error {
	for _, name := range b.desc.DedupeOn {
		f, ok := s.Field(name)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownDedupeOnField, name)
		}
		if f.Composite == nil {
			continue
		}
		root := s.Fields[f.Composite.Root]
		if !b.inDedupeOn(root.Name) {
			return fmt.Errorf("%w: root %q", ErrPartialCompositeDedupeOn, root.Name)
		}
		for _, child := range root.Composite.Children {
			if !b.inDedupeOn(s.Fields[child].Name) {
				return fmt.Errorf("%w: member %q", ErrPartialCompositeDedupeOn, s.Fields[child].Name)
			}
		}
	}
	return nil
}
