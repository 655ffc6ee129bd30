package nostr

import "strings"

// Filter is a conjunctive predicate over events: every non-zero field
// must match for Matches to return true. A Filter with every field
// left zero-valued matches every event.
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	Since   *int64
	Until   *int64
	Limit   *int
	// Tags holds the `#<letter>` clauses, keyed by the single-letter
	// tag name without its leading '#' (e.g. "e", "p").
	Tags map[string][]string
}

// Matches reports whether event satisfies every clause f declares.
// Matches is pure and independent of storage.
func Matches(f *Filter, e *Event) bool {
	if len(f.IDs) > 0 && !anyPrefix(f.IDs, e.ID) {
		return false
	}
	if len(f.Authors) > 0 && !anyPrefix(f.Authors, e.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, e.Kind) {
		return false
	}
	if f.Since != nil && e.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && e.CreatedAt > *f.Until {
		return false
	}
	for name, values := range f.Tags {
		if !eventHasTagValue(e, name, values) {
			return false
		}
	}
	return true
}

// MatchesAny reports whether any of filters matches event — a
// subscription's filters are a disjunction.
func MatchesAny(filters []Filter, e *Event) bool {
	for i := range filters {
		if Matches(&filters[i], e) {
			return true
		}
	}
	return false
}

func anyPrefix(prefixes []string, value string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(value, p) {
			return true
		}
	}
	return false
}

func containsInt(set []int, v int) bool {
	for _, x := range set {
		if x == v {
			return true
		}
	}
	return false
}

func eventHasTagValue(e *Event, name string, values []string) bool {
	for _, tag := range e.Tags {
		if tag.Name() != name {
			continue
		}
		v := tag.Value()
		for _, want := range values {
			if v == want {
				return true
			}
		}
	}
	return false
}
