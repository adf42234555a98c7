package pathquery

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
)

// ErrMergeUnsupported is returned when path queries cannot be combined into
// one traversal.
var ErrMergeUnsupported = errors.New("path queries cannot be merged")

// Merge combines path queries into one whose traversal visits the union of
// their results. Paths are split at their common prefix; each diverging
// segment becomes a key with a conditional branch carrying the rest of the
// original path and its query.
//
// The merged limit is the sum of the inputs' limits, or nil when any input is
// unbounded. Inputs with an offset are rejected.
func Merge(pqs ...PathQuery) (PathQuery, error) {
	switch len(pqs) {
	case 0:
		return PathQuery{}, fmt.Errorf("%w: nothing to merge", ErrMergeUnsupported)
	case 1:
		return pqs[0], nil
	}

	var limit *uint16
	total := 0
	bounded := true
	for _, pq := range pqs {
		if pq.Query.Offset != nil && *pq.Query.Offset != 0 {
			return PathQuery{}, fmt.Errorf("%w: offsets are not mergeable", ErrMergeUnsupported)
		}
		if pq.Query.Limit == nil {
			bounded = false
			continue
		}
		total += int(*pq.Query.Limit)
	}
	if bounded {
		if total > int(^uint16(0)) {
			total = int(^uint16(0))
		}
		limit = Uint16(uint16(total))
	}

	merged, err := mergeRelative(pqs)
	if err != nil {
		return PathQuery{}, err
	}
	merged.Query.Limit = limit
	return merged, nil
}

func mergeRelative(pqs []PathQuery) (PathQuery, error) {
	if len(pqs) == 1 {
		return PathQuery{Path: clonePath(pqs[0].Path), Query: SizedQuery{Query: pqs[0].Query.Query}}, nil
	}
	common := commonPrefix(pqs)

	allEqual := true
	for _, pq := range pqs {
		if len(pq.Path) != len(common) {
			allEqual = false
		}
	}
	if allEqual {
		q, err := unionQueries(pqs)
		if err != nil {
			return PathQuery{}, err
		}
		return PathQuery{Path: clonePath(common), Query: SizedQuery{Query: q}}, nil
	}

	type group struct {
		seg []byte
		pqs []PathQuery
	}
	var groups []*group
	for _, pq := range pqs {
		if len(pq.Path) == len(common) {
			return PathQuery{}, fmt.Errorf("%w: path %s is a prefix of another path", ErrMergeUnsupported, renderPath(pq.Path))
		}
		seg := pq.Path[len(common)]
		rest := PathQuery{Path: pq.Path[len(common)+1:], Query: pq.Query}
		idx := slices.IndexFunc(groups, func(g *group) bool { return bytes.Equal(g.seg, seg) })
		if idx < 0 {
			groups = append(groups, &group{seg: seg, pqs: []PathQuery{rest}})
			continue
		}
		groups[idx].pqs = append(groups[idx].pqs, rest)
	}

	q := New()
	for _, g := range groups {
		sub, err := mergeRelative(g.pqs)
		if err != nil {
			return PathQuery{}, err
		}
		q.InsertKey(g.seg)
		q.AddConditionalSubquery(Key(g.seg), sub.Path, sub.Query.Query)
	}
	return PathQuery{Path: clonePath(common), Query: SizedQuery{Query: q}}, nil
}

func unionQueries(pqs []PathQuery) (*Query, error) {
	out := NewWithDirection(pqs[0].Query.Query.LeftToRight)
	for _, pq := range pqs {
		q := pq.Query.Query
		if q.HasSubquery() {
			return nil, fmt.Errorf("%w: identical paths with subqueries", ErrMergeUnsupported)
		}
		for _, it := range q.Items {
			out.InsertItem(it)
		}
	}
	return out, nil
}

func commonPrefix(pqs []PathQuery) [][]byte {
	prefix := pqs[0].Path
	for _, pq := range pqs[1:] {
		n := 0
		for n < len(prefix) && n < len(pq.Path) && bytes.Equal(prefix[n], pq.Path[n]) {
			n++
		}
		prefix = prefix[:n]
	}
	return prefix
}
