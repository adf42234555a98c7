package pathquery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryItemContains(t *testing.T) {
	b := []byte("b")
	d := []byte("d")

	tests := []struct {
		name string
		item QueryItem
		in   []string
		out  []string
	}{
		{"key", Key(b), []string{"b"}, []string{"a", "bb"}},
		{"range", Range(b, d), []string{"b", "c"}, []string{"a", "d"}},
		{"range inclusive", RangeInclusive(b, d), []string{"b", "d"}, []string{"e"}},
		{"range full", RangeFull(), []string{"", "zzz"}, nil},
		{"range from", RangeFrom(b), []string{"b", "z"}, []string{"a"}},
		{"range after", RangeAfter(b), []string{"ba", "c"}, []string{"b"}},
		{"range to", RangeTo(d), []string{"a", "c"}, []string{"d"}},
		{"range to inclusive", RangeToInclusive(d), []string{"d"}, []string{"e"}},
		{"range after to", RangeAfterTo(b, d), []string{"c"}, []string{"b", "d"}},
		{"range after to inclusive", RangeAfterToInclusive(b, d), []string{"d"}, []string{"b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range tt.in {
				assert.True(t, tt.item.Contains([]byte(k)), "%s should contain %q", tt.item, k)
			}
			for _, k := range tt.out {
				assert.False(t, tt.item.Contains([]byte(k)), "%s should not contain %q", tt.item, k)
			}
		})
	}
}

func TestQueryItemIntersect(t *testing.T) {
	b, c, d := []byte("b"), []byte("c"), []byte("d")

	tests := []struct {
		name  string
		a, b  QueryItem
		want  QueryItem
		empty bool
	}{
		{"full with from", RangeFull(), RangeFrom(c), RangeFrom(c), false},
		{"range with after", RangeInclusive(b, d), RangeAfter(c), RangeAfterToInclusive(c, d), false},
		{"range with to", Range(b, d), RangeToInclusive(c), RangeInclusive(b, c), false},
		{"touching inclusive bounds", RangeFrom(c), RangeToInclusive(c), Key(c), false},
		{"touching exclusive bound", RangeAfter(c), RangeToInclusive(c), QueryItem{}, true},
		{"disjoint", Range(b, c), RangeFrom(d), QueryItem{}, true},
		{"key inside", Key(c), RangeFrom(b), Key(c), false},
		{"key outside", Key(b), RangeAfter(b), QueryItem{}, true},
		{"exclusive wins at same key", RangeFrom(c), RangeAfter(c), RangeAfter(c), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.a.Intersect(tt.b)
			assert.Equal(t, !tt.empty, ok)
			if !tt.empty {
				assert.True(t, tt.want.Equal(got), "got %s, want %s", got, tt.want)
			}
			swapped, ok := tt.b.Intersect(tt.a)
			assert.Equal(t, !tt.empty, ok)
			if !tt.empty {
				assert.True(t, got.Equal(swapped), "intersection is symmetric")
			}
		})
	}
}

func TestInsertItemKeepsOrderAndDedups(t *testing.T) {
	q := New()
	q.InsertKey([]byte("c"))
	q.InsertKey([]byte("a"))
	q.InsertKey([]byte("b"))
	q.InsertKey([]byte("a"))

	require.Len(t, q.Items, 3)
	assert.Equal(t, []byte("a"), q.Items[0].Start)
	assert.Equal(t, []byte("b"), q.Items[1].Start)
	assert.Equal(t, []byte("c"), q.Items[2].Start)
}

func TestBranchForPrefersConditional(t *testing.T) {
	inner := New()
	inner.InsertAll()

	q := New()
	q.InsertAll()
	q.SetSubqueryKey([]byte{0})
	q.AddConditionalSubquery(Key([]byte("x")), [][]byte{{1}}, inner)

	assert.Equal(t, [][]byte{{1}}, q.BranchFor([]byte("x")).Path)
	assert.Same(t, inner, q.BranchFor([]byte("x")).Subquery)
	assert.Equal(t, [][]byte{{0}}, q.BranchFor([]byte("y")).Path)
	assert.True(t, q.HasSubquery())
}

func TestCloneIsDeep(t *testing.T) {
	sub := New()
	sub.InsertKey([]byte("k"))
	q := New()
	q.InsertAll()
	q.SetSubquery(sub)

	c := q.Clone()
	c.Default.Subquery.InsertKey([]byte("other"))

	assert.Len(t, q.Default.Subquery.Items, 1)
	assert.Len(t, c.Default.Subquery.Items, 2)
}

func TestMergeDivergingPaths(t *testing.T) {
	main := NewPathQuery([][]byte{{64}, []byte("c"), []byte("idx")}, func() *Query {
		q := New()
		q.InsertAll()
		return q
	}(), Uint16(10), nil)
	start := NewSingleKey([][]byte{{64}, []byte("c"), {0}}, []byte("doc"))
	start.Query.Limit = Uint16(1)

	merged, err := Merge(start, main)
	require.NoError(t, err)

	assert.Equal(t, [][]byte{{64}, []byte("c")}, merged.Path)
	require.NotNil(t, merged.Query.Limit)
	assert.Equal(t, uint16(11), *merged.Query.Limit)

	q := merged.Query.Query
	require.Len(t, q.Items, 2)
	assert.True(t, q.Matches([]byte{0}))
	assert.True(t, q.Matches([]byte("idx")))

	br := q.BranchFor([]byte{0})
	assert.Empty(t, br.Path)
	require.NotNil(t, br.Subquery)
	assert.True(t, br.Subquery.Matches([]byte("doc")))
}

func TestMergeIdenticalPathsUnionsKeys(t *testing.T) {
	a := NewSingleKey([][]byte{[]byte("p")}, []byte("a"))
	b := NewSingleKey([][]byte{[]byte("p")}, []byte("b"))

	merged, err := Merge(a, b)
	require.NoError(t, err)
	assert.Nil(t, merged.Query.Limit)
	assert.Len(t, merged.Query.Query.Items, 2)
}

func TestMergeRejectsPrefixPaths(t *testing.T) {
	a := NewSingleKey([][]byte{[]byte("p")}, []byte("a"))
	b := NewSingleKey([][]byte{[]byte("p"), []byte("q")}, []byte("b"))

	_, err := Merge(a, b)
	require.ErrorIs(t, err, ErrMergeUnsupported)
}

func TestMergeRejectsOffsets(t *testing.T) {
	a := NewSingleKey([][]byte{[]byte("p")}, []byte("a"))
	b := NewSingleKey([][]byte{[]byte("r")}, []byte("b"))
	b.Query.Offset = Uint16(2)

	_, err := Merge(a, b)
	require.ErrorIs(t, err, ErrMergeUnsupported)
}

func TestPathQueryString(t *testing.T) {
	sub := NewWithDirection(false)
	sub.InsertAll()
	q := New()
	q.InsertRangeAfter([]byte("m"))
	q.SetSubqueryKey([]byte{0})
	q.SetSubquery(sub)

	got := NewPathQuery([][]byte{[]byte("doc")}, q, Uint16(5), nil).String()
	want := "path: [\"doc\"]\n" +
		"limit: 5\n" +
		"query asc [RangeAfter(\"m\")]\n" +
		"  default -> [0x00]\n" +
		"    query desc [RangeFull]\n"
	assert.Equal(t, want, got)
}
