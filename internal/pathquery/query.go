package pathquery

import (
	"fmt"
	"slices"
	"strings"
)

// SubqueryBranch says what to do beneath a matched key: descend through Path
// and then either run Subquery on the reached layer or, when Subquery is nil,
// fetch the last Path segment as a key. A branch with neither set returns the
// matched element itself.
type SubqueryBranch struct {
	Path     [][]byte
	Subquery *Query
}

// IsEmpty reports whether the branch does nothing.
func (b SubqueryBranch) IsEmpty() bool { return len(b.Path) == 0 && b.Subquery == nil }

// ConditionalBranch overrides the default branch for keys matched by Item.
type ConditionalBranch struct {
	Item   QueryItem
	Branch SubqueryBranch
}

// Query selects keys in one layer and optionally recurses beneath them.
//
// Items are kept sorted by lower bound. LeftToRight controls iteration
// direction in this layer only; nested subqueries carry their own direction.
type Query struct {
	Items       []QueryItem
	LeftToRight bool
	Default     SubqueryBranch
	Conditional []ConditionalBranch
}

// New returns an empty ascending query.
func New() *Query { return &Query{LeftToRight: true} }

// NewWithDirection returns an empty query iterating in the given direction.
func NewWithDirection(leftToRight bool) *Query { return &Query{LeftToRight: leftToRight} }

// InsertItem adds an item, keeping Items sorted and skipping exact duplicates.
func (q *Query) InsertItem(it QueryItem) {
	for _, existing := range q.Items {
		if existing.Equal(it) {
			return
		}
	}
	idx, _ := slices.BinarySearchFunc(q.Items, it, func(a, b QueryItem) int {
		if c := compareLower(a, b); c != 0 {
			return c
		}
		return -1
	})
	q.Items = slices.Insert(q.Items, idx, it)
}

// InsertKey adds a single-key item.
func (q *Query) InsertKey(k []byte) { q.InsertItem(Key(k)) }

// InsertKeys adds one single-key item per key.
func (q *Query) InsertKeys(keys [][]byte) {
	for _, k := range keys {
		q.InsertKey(k)
	}
}

// InsertAll adds a full-range item.
func (q *Query) InsertAll() { q.InsertItem(RangeFull()) }

// InsertRangeFrom adds start <= k.
func (q *Query) InsertRangeFrom(start []byte) { q.InsertItem(RangeFrom(start)) }

// InsertRangeAfter adds start < k.
func (q *Query) InsertRangeAfter(start []byte) { q.InsertItem(RangeAfter(start)) }

// InsertRangeTo adds k < end.
func (q *Query) InsertRangeTo(end []byte) { q.InsertItem(RangeTo(end)) }

// InsertRangeToInclusive adds k <= end.
func (q *Query) InsertRangeToInclusive(end []byte) { q.InsertItem(RangeToInclusive(end)) }

// SetSubquery runs sub beneath every matched key without a conditional
// override.
func (q *Query) SetSubquery(sub *Query) { q.Default.Subquery = sub }

// SetSubqueryKey makes the default branch descend into key before running
// the subquery (or fetch key when there is no subquery).
func (q *Query) SetSubqueryKey(key []byte) { q.Default.Path = [][]byte{clone(key)} }

// SetSubqueryPath replaces the default branch path.
func (q *Query) SetSubqueryPath(path [][]byte) { q.Default.Path = clonePath(path) }

// AddConditionalSubquery overrides the default branch for keys matched by item.
func (q *Query) AddConditionalSubquery(item QueryItem, path [][]byte, sub *Query) {
	q.Conditional = append(q.Conditional, ConditionalBranch{
		Item:   item,
		Branch: SubqueryBranch{Path: clonePath(path), Subquery: sub},
	})
}

// BranchFor returns the branch to apply beneath key. The first conditional
// branch whose item contains key wins.
func (q *Query) BranchFor(key []byte) SubqueryBranch {
	for _, c := range q.Conditional {
		if c.Item.Contains(key) {
			return c.Branch
		}
	}
	return q.Default
}

// HasSubquery reports whether any branch recurses.
func (q *Query) HasSubquery() bool {
	if !q.Default.IsEmpty() {
		return true
	}
	for _, c := range q.Conditional {
		if !c.Branch.IsEmpty() {
			return true
		}
	}
	return false
}

// Matches reports whether key is selected by any item.
func (q *Query) Matches(key []byte) bool {
	for _, it := range q.Items {
		if it.Contains(key) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (q *Query) Clone() *Query {
	if q == nil {
		return nil
	}
	out := &Query{
		Items:       slices.Clone(q.Items),
		LeftToRight: q.LeftToRight,
		Default:     cloneBranch(q.Default),
	}
	for _, c := range q.Conditional {
		out.Conditional = append(out.Conditional, ConditionalBranch{Item: c.Item, Branch: cloneBranch(c.Branch)})
	}
	return out
}

func cloneBranch(b SubqueryBranch) SubqueryBranch {
	return SubqueryBranch{Path: clonePath(b.Path), Subquery: b.Subquery.Clone()}
}

func clonePath(path [][]byte) [][]byte {
	if path == nil {
		return nil
	}
	out := make([][]byte, len(path))
	for i, seg := range path {
		out[i] = clone(seg)
	}
	return out
}

// SizedQuery bounds a query's results. A nil Limit means unbounded.
// Offset results are skipped after filtering and before the limit applies.
type SizedQuery struct {
	Query  *Query
	Limit  *uint16
	Offset *uint16
}

// PathQuery is a query rooted at a tree path.
type PathQuery struct {
	Path  [][]byte
	Query SizedQuery
}

// NewPathQuery builds a PathQuery.
func NewPathQuery(path [][]byte, q *Query, limit, offset *uint16) PathQuery {
	return PathQuery{Path: clonePath(path), Query: SizedQuery{Query: q, Limit: limit, Offset: offset}}
}

// NewSingleKey selects exactly one key at path.
func NewSingleKey(path [][]byte, key []byte) PathQuery {
	q := New()
	q.InsertKey(key)
	return NewPathQuery(path, q, nil, nil)
}

// Uint16 returns a pointer to v, for Limit and Offset literals.
func Uint16(v uint16) *uint16 { return &v }

// String renders the path query for logs and golden files.
func (pq PathQuery) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "path: %s\n", renderPath(pq.Path))
	if pq.Query.Limit != nil {
		fmt.Fprintf(&b, "limit: %d\n", *pq.Query.Limit)
	}
	if pq.Query.Offset != nil {
		fmt.Fprintf(&b, "offset: %d\n", *pq.Query.Offset)
	}
	writeQuery(&b, pq.Query.Query, 0)
	return b.String()
}

// String renders the query tree.
func (q *Query) String() string {
	var b strings.Builder
	writeQuery(&b, q, 0)
	return b.String()
}

func writeQuery(b *strings.Builder, q *Query, depth int) {
	indent := strings.Repeat("  ", depth)
	if q == nil {
		fmt.Fprintf(b, "%squery: <nil>\n", indent)
		return
	}
	dir := "asc"
	if !q.LeftToRight {
		dir = "desc"
	}
	items := make([]string, len(q.Items))
	for i, it := range q.Items {
		items[i] = it.String()
	}
	fmt.Fprintf(b, "%squery %s [%s]\n", indent, dir, strings.Join(items, ", "))
	if !q.Default.IsEmpty() {
		writeBranch(b, "default", q.Default, depth+1)
	}
	for _, c := range q.Conditional {
		writeBranch(b, "if "+c.Item.String(), c.Branch, depth+1)
	}
}

func writeBranch(b *strings.Builder, label string, br SubqueryBranch, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(b, "%s%s -> %s\n", indent, label, renderPath(br.Path))
	if br.Subquery != nil {
		writeQuery(b, br.Subquery, depth+1)
	}
}

func renderPath(path [][]byte) string {
	segs := make([]string, len(path))
	for i, seg := range path {
		segs[i] = hexOrText(seg)
	}
	return "[" + strings.Join(segs, ", ") + "]"
}
