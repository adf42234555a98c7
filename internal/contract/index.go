package contract

import "slices"

// IndexProperty is one ordered property of a composite index.
type IndexProperty struct {
	Name      string
	Ascending bool
}

// Index is a composite index declared on a document type. Indexes are fixed
// once the contract is created.
type Index struct {
	Name       string
	Properties []IndexProperty
	Unique     bool
}

// IndexQuery is the field usage a query needs an index to serve.
type IndexQuery struct {
	// Equal lists fields pinned by equality clauses, in any order.
	Equal []string
	// In is the field of the in-clause, if any.
	In string
	// Range is the field of the range clause, if any.
	Range string
	// OrderBy lists order-by fields in precedence order.
	OrderBy []string
}

// PropertyNames returns the index property names in order.
func (idx Index) PropertyNames() []string {
	out := make([]string, len(idx.Properties))
	for i, p := range idx.Properties {
		out[i] = p.Name
	}
	return out
}

// Property returns the index property named name.
func (idx Index) Property(name string) (IndexProperty, bool) {
	for _, p := range idx.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return IndexProperty{}, false
}

// Matches reports whether the index can serve q and, if so, how many trailing
// index properties remain unused.
//
// The equality fields must occupy the leading properties. The in field comes
// next, then the range field, then any order-by field not already covered, in
// that order and contiguously. The in field must sit on the last or the
// second-to-last property. Order-by fields outside the equality prefix must
// appear in increasing index position.
func (idx Index) Matches(q IndexQuery) (int, bool) {
	props := idx.PropertyNames()
	n := len(q.Equal)
	if n > len(props) {
		return 0, false
	}
	equal := make(map[string]bool, n)
	for _, f := range q.Equal {
		equal[f] = true
	}
	for _, p := range props[:n] {
		if !equal[p] {
			return 0, false
		}
	}

	covered := make(map[string]bool, len(props))
	for f := range equal {
		covered[f] = true
	}
	var seq []string
	push := func(f string) {
		if f != "" && !covered[f] {
			covered[f] = true
			seq = append(seq, f)
		}
	}
	push(q.In)
	push(q.Range)
	for _, f := range q.OrderBy {
		push(f)
	}
	if n+len(seq) > len(props) {
		return 0, false
	}
	for i, f := range seq {
		if props[n+i] != f {
			return 0, false
		}
	}

	if q.In != "" {
		// CRITICAL: an in-clause can only fan out over the last two levels
		pos := slices.Index(props, q.In)
		if pos < len(props)-2 {
			return 0, false
		}
	}

	last := -1
	for _, f := range q.OrderBy {
		if equal[f] {
			continue
		}
		pos := slices.Index(props, f)
		if pos < last {
			return 0, false
		}
		last = pos
	}
	return len(props) - n - len(seq), true
}

// IndexForTypes returns the declared index that serves q with the smallest
// difference. An exact match wins immediately; ties keep declaration order.
func (dt *DocumentType) IndexForTypes(q IndexQuery) (*Index, int, bool) {
	var best *Index
	bestDiff := 0
	for i := range dt.Indexes {
		diff, ok := dt.Indexes[i].Matches(q)
		if !ok {
			continue
		}
		if diff == 0 {
			return &dt.Indexes[i], 0, true
		}
		if best == nil || diff < bestDiff {
			best, bestDiff = &dt.Indexes[i], diff
		}
	}
	return best, bestDiff, best != nil
}
