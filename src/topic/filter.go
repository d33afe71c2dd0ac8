package topic

import "sort"

// Filter is a set of topic prefixes. The zero value is an empty filter
// that matches nothing.
type Filter []Topic

// NewFilter builds a normalized filter from the given topics.
func NewFilter(topics ...Topic) Filter {
	f := Filter{}
	for _, t := range topics {
		f = f.Add(t)
	}
	return f
}

// Matches reports whether some element of the filter is a slash-aligned
// prefix of t.
func (f Filter) Matches(t Topic) bool {
	for _, p := range f {
		if PrefixOf(p, t) {
			return true
		}
	}
	return false
}

// Contains reports whether the filter holds t verbatim.
func (f Filter) Contains(t Topic) bool {
	for _, p := range f {
		if p == t {
			return true
		}
	}
	return false
}

// Add returns a filter extended by t. Adding an existing entry is a
// no-op.
func (f Filter) Add(t Topic) Filter {
	if !t.IsValid() || f.Contains(t) {
		return f
	}
	out := make(Filter, len(f), len(f)+1)
	copy(out, f)
	out = append(out, t)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Union returns the set union of two filters.
func Union(f1, f2 Filter) Filter {
	out := f1
	for _, t := range f2 {
		out = out.Add(t)
	}
	return out
}

// Difference returns the entries of f1 that are not in f2.
func Difference(f1, f2 Filter) Filter {
	out := Filter{}
	for _, t := range f1 {
		if !f2.Contains(t) {
			out = append(out, t)
		}
	}
	return out
}

// Equal reports whether two filters hold the same entries.
func (f Filter) Equal(other Filter) bool {
	if len(f) != len(other) {
		return false
	}
	for _, t := range f {
		if !other.Contains(t) {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the filter.
func (f Filter) Clone() Filter {
	out := make(Filter, len(f))
	copy(out, f)
	return out
}
