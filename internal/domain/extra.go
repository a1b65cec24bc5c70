package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
)

const (
	PostedMatchKey = "potential_posted_match"
	// SupersededIDsKey lists, inside a source's bag, the pending keys a
	// posted transaction replaced.
	SupersededIDsKey = "superseded_external_ids"
)

// Extra is the provider metadata bag stored on a transaction, keyed by
// provider name at the top level.
type Extra map[string]any

// IsPending reports whether source flagged the record as pending.
func (x Extra) IsPending(source string) bool {
	bag, ok := x[source].(map[string]any)
	if !ok {
		return false
	}
	pending, _ := bag["pending"].(bool)
	return pending
}

// SupersededIDs returns the pending keys of source this row replaced.
func (x Extra) SupersededIDs(source string) []string {
	bag, _ := x[source].(map[string]any)
	var ids []string
	switch v := bag[SupersededIDsKey].(type) {
	case []any:
		for _, id := range v {
			if s, ok := id.(string); ok {
				ids = append(ids, s)
			}
		}
	case []string:
		ids = append(ids, v...)
	}
	return ids
}

// Supersede returns a copy of x recording that the row no longer answers to
// externalID under source.
func (x Extra) Supersede(source, externalID string) Extra {
	ids := x.SupersededIDs(source)
	if slices.Contains(ids, externalID) {
		return x.Merge(nil)
	}
	list := make([]any, 0, len(ids)+1)
	for _, id := range ids {
		list = append(list, id)
	}
	list = append(list, externalID)
	return x.Merge(Extra{source: map[string]any{SupersededIDsKey: list}})
}

// Merge deep-merges other into a copy of x. Nested maps are merged key by
// key; other values replace. Keys absent from other are kept.
func (x Extra) Merge(other Extra) Extra {
	out := make(Extra, len(x)+len(other))
	for k, v := range x {
		out[k] = v
	}
	for k, v := range other {
		out[k] = mergeValue(out[k], v)
	}
	return out
}

func mergeValue(dst, src any) any {
	dm, dok := dst.(map[string]any)
	sm, sok := src.(map[string]any)
	if !dok || !sok {
		return src
	}
	out := make(map[string]any, len(dm)+len(sm))
	for k, v := range dm {
		out[k] = v
	}
	for k, v := range sm {
		out[k] = mergeValue(out[k], v)
	}
	return out
}

func (x Extra) Value() (driver.Value, error) {
	if x == nil {
		return "{}", nil
	}
	b, err := json.Marshal(x)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (x *Extra) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*x = Extra{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("Extra.Scan: unsupported type %T", src)
	}
	out := Extra{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("Extra.Scan: %w", err)
	}
	*x = out
	return nil
}
