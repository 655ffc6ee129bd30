package nostr

import (
	"encoding/json"
	"fmt"
)

// filterWire mirrors Filter's declared fields for JSON decoding; the
// `#<X>` single-letter tag clauses aren't fixed field names, so
// they're recovered from the raw object below instead.
type filterWire struct {
	IDs     []string `json:"ids,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	Since   *int64   `json:"since,omitempty"`
	Until   *int64   `json:"until,omitempty"`
	Limit   *int     `json:"limit,omitempty"`
}

// UnmarshalJSON decodes a filter object, recovering both its fixed
// clauses and any `#<letter>` tag clauses (e.g. "#e", "#p").
func (f *Filter) UnmarshalJSON(data []byte) error {
	var w filterWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	tags := make(map[string][]string)
	for key, val := range raw {
		if len(key) != 2 || key[0] != '#' {
			continue
		}
		var values []string
		if err := json.Unmarshal(val, &values); err != nil {
			return fmt.Errorf("tag filter %q: %w", key, err)
		}
		tags[key[1:]] = values
	}

	*f = Filter{
		IDs:     w.IDs,
		Authors: w.Authors,
		Kinds:   w.Kinds,
		Since:   w.Since,
		Until:   w.Until,
		Limit:   w.Limit,
	}
	if len(tags) > 0 {
		f.Tags = tags
	}
	return nil
}

// MarshalJSON encodes a filter, re-expanding its `#<letter>` tag
// clauses alongside the fixed fields.
func (f Filter) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	if len(f.IDs) > 0 {
		out["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		out["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		out["kinds"] = f.Kinds
	}
	if f.Since != nil {
		out["since"] = *f.Since
	}
	if f.Until != nil {
		out["until"] = *f.Until
	}
	if f.Limit != nil {
		out["limit"] = *f.Limit
	}
	for name, values := range f.Tags {
		out["#"+name] = values
	}
	return json.Marshal(out)
}
