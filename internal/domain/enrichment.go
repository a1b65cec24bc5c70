package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

const (
	AttrName       = "name"
	AttrNotes      = "notes"
	AttrCategoryID = "category_id"
	AttrMerchantID = "merchant_id"
	AttrKind       = "kind"
)

const (
	SourceUser   = "user"
	SourceImport = "import"
	SourceRule   = "rule"
	SourceAI     = "ai"
)

// SourcePriority ranks who may overwrite an enriched attribute. Any source
// not listed is a provider sync.
func SourcePriority(source string) int {
	switch source {
	case SourceUser:
		return 100
	case SourceImport:
		return 80
	case SourceRule:
		return 60
	case SourceAI:
		return 20
	default:
		return 40
	}
}

type Provenance struct {
	Value     string    `json:"value"`
	Source    string    `json:"source"`
	Locked    bool      `json:"locked,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Enrichments records, per attribute, which source last set it.
type Enrichments map[string]Provenance

// CanWrite reports whether source may set attr.
func (en Enrichments) CanWrite(attr, source string) bool {
	cur, ok := en[attr]
	if !ok {
		return true
	}
	if cur.Locked && source != SourceUser {
		return false
	}
	return SourcePriority(source) >= SourcePriority(cur.Source)
}

// Apply records value for attr when source is allowed to write it and
// reports whether the caller should assign the value.
func (en Enrichments) Apply(attr, value, source string, now time.Time) bool {
	if !en.CanWrite(attr, source) {
		return false
	}
	locked := en[attr].Locked
	en[attr] = Provenance{Value: value, Source: source, Locked: locked, UpdatedAt: now}
	return true
}

// Source returns the source that last set attr, or "" when unset.
func (en Enrichments) Source(attr string) string {
	return en[attr].Source
}

func (en Enrichments) Value() (driver.Value, error) {
	if en == nil {
		return "{}", nil
	}
	b, err := json.Marshal(en)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (en *Enrichments) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*en = Enrichments{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("Enrichments.Scan: unsupported type %T", src)
	}
	out := Enrichments{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("Enrichments.Scan: %w", err)
	}
	*en = out
	return nil
}
