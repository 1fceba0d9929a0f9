package schema

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/iudanet/remerge/internal/models"
)

// Description is an already-parsed schema description. Parsing the textual
// schema language into a Description is up to the caller; New validates it
// and builds the indexed RecordSchema.
type Description struct {
	Name            string      `json:"name"`
	Version         string      `json:"version"`
	RequiredVersion string      `json:"required_version,omitempty"`
	FeaturesUsed    []string    `json:"remerge_features_used,omitempty"`
	Legacy          bool        `json:"legacy,omitempty"`
	Fields          []FieldDesc `json:"fields"`
	DedupeOn        []string    `json:"dedupe_on,omitempty"`
}

// FieldDesc describes one field. Options that do not apply to Type must be
// left at their zero value.
type FieldDesc struct {
	Name             string           `json:"name"`
	LocalName        string           `json:"local_name,omitempty"`
	Type             FieldKind        `json:"type"`
	Required         bool             `json:"required,omitempty"`
	Deprecated       bool             `json:"deprecated,omitempty"`
	CompositeRoot    string           `json:"composite_root,omitempty"`
	Merge            Merge            `json:"merge,omitempty"`
	ChangePreference ChangePreference `json:"change_preference,omitempty"`

	// Default is the typed default. Timestamps also accept the string "now".
	Default any `json:"default,omitempty"`

	// url
	IsOrigin bool `json:"is_origin,omitempty"`

	// real, integer
	Min           any           `json:"min,omitempty"`
	Max           any           `json:"max,omitempty"`
	IfOutOfBounds IfOutOfBounds `json:"if_out_of_bounds,omitempty"`

	// timestamp
	Semantic TimestampSemantic `json:"semantic,omitempty"`

	// own_guid; nil means true
	Auto *bool `json:"auto,omitempty"`

	// untyped_map, record_set
	PreferDeletions bool `json:"prefer_deletions,omitempty"`

	// record_set
	IDKey string `json:"id_key,omitempty"`
}

// Canonical returns the canonical JSON form of d. Map keys are sorted, so
// equal descriptions always produce equal text.
func (d Description) Canonical() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema description: %w", err)
	}
	return data, nil
}

// ParseDescription decodes a description written by Canonical.
func ParseDescription(text []byte) (Description, error) {
	dec := json.NewDecoder(bytes.NewReader(text))
	dec.UseNumber()
	dec.DisallowUnknownFields()

	var d Description
	if err := dec.Decode(&d); err != nil {
		return Description{}, fmt.Errorf("failed to decode schema description: %w", err)
	}

	for i := range d.Fields {
		f := &d.Fields[i]
		f.Default = models.NormalizeJSON(f.Default)
		f.Min = models.NormalizeJSON(f.Min)
		f.Max = models.NormalizeJSON(f.Max)
	}

	return d, nil
}

// FromText parses and validates a stored schema.
func FromText(text string) (*RecordSchema, error) {
	d, err := ParseDescription([]byte(text))
	if err != nil {
		return nil, err
	}
	return New(d)
}
