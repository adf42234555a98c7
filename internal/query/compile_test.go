package query

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docgrove/internal/contract"
	"github.com/roach88/docgrove/internal/grove"
	"github.com/roach88/docgrove/internal/pathquery"
	"github.com/roach88/docgrove/internal/testutil"
	"github.com/roach88/docgrove/internal/value"
)

func (f *fixture) compile(t *testing.T, q *DocumentQuery) pathquery.PathQuery {
	t.Helper()
	var pq pathquery.PathQuery
	require.NoError(t, f.db.View(context.Background(), func(tx *grove.Tx) error {
		var err error
		pq, _, err = q.ConstructPathQueryWithStore(context.Background(), tx)
		return err
	}))
	return pq
}

func TestCompileGolden(t *testing.T) {
	f := seedPeople(t)
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	tests := []struct {
		name  string
		dt    func() *contract.DocumentType
		query map[string]any
	}{
		{
			name:  "primary_key_full_scan",
			query: map[string]any{},
		},
		{
			name: "primary_key_in_after_cursor",
			query: map[string]any{
				"where":      []any{[]any{"$id", "in", []any{personID(3), personID(5), personID(7)}}},
				"orderBy":    []any{[]any{"$id", "desc"}},
				"startAfter": personID(5),
			},
		},
		{
			name: "primary_key_block_time",
			dt:   func() *contract.DocumentType { return f.handle },
			query: map[string]any{
				"where":     []any{[]any{"$id", "==", testutil.RepeatedID(9)}},
				"blockTime": 5000,
			},
		},
		{
			name: "index_start_after",
			query: map[string]any{
				"orderBy":    []any{[]any{"firstName", "asc"}},
				"startAfter": personID(4),
			},
		},
		{
			name:  "index_unique_nulls",
			dt:    func() *contract.DocumentType { return f.handle },
			query: map[string]any{"orderBy": []any{[]any{"label", "desc"}}},
		},
		{
			name: "index_equality_then_range",
			query: map[string]any{
				"where":   []any{[]any{"lastName", "==", "Smith"}, []any{"firstName", ">=", "B"}},
				"orderBy": []any{[]any{"firstName", "asc"}},
			},
		},
		{
			name: "index_equality_then_order",
			query: map[string]any{
				"where":   []any{[]any{"lastName", "==", "Smith"}},
				"orderBy": []any{[]any{"firstName", "desc"}},
			},
		},
		{
			name: "index_in",
			query: map[string]any{
				"where":   []any{[]any{"firstName", "in", []any{"Eve", "Bob"}}},
				"orderBy": []any{[]any{"firstName", "desc"}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dt := f.person
			if tt.dt != nil {
				dt = tt.dt()
			}
			pq := f.compile(t, f.query(t, dt, tt.query))
			g.Assert(t, tt.name, []byte(pq.String()))
		})
	}
}

func TestCompileUniqueStartAtWithoutStore(t *testing.T) {
	f := seedPeople(t)
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	id := testutil.RepeatedID(0x41)
	q := f.query(t, f.handle, map[string]any{
		"orderBy": []any{[]any{"label", "desc"}},
		"startAt": id,
	})
	doc := &contract.Document{
		ID:         id,
		OwnerID:    testutil.OwnerID,
		Revision:   1,
		Properties: value.Map{"label": value.String("m"), "owner": testutil.MemberA},
	}
	require.NoError(t, doc.Normalize(f.handle))

	pq, err := q.ConstructPathQuery(doc)
	require.NoError(t, err)
	g.Assert(t, "index_unique_start_at", []byte(pq.String()))
}

func TestCursorOutsideEqualityPrefix(t *testing.T) {
	f := seedPeople(t)
	base := map[string]any{
		"where":   []any{[]any{"lastName", "==", "Smith"}, []any{"firstName", ">", "A"}},
		"orderBy": []any{[]any{"firstName", "asc"}},
	}
	withCursor := func(i int) map[string]any {
		m := map[string]any{"startAfter": personID(i)}
		for k, v := range base {
			m[k] = v
		}
		return m
	}

	// Jones sorts before Smith, so the cursor precedes every result.
	assert.Equal(t, []string{"Alice", "Carol", "Eve", "Grace", "Ivan"}, f.names(t, f.query(t, f.person, withCursor(1))))

	past := map[string]any{
		"where":      []any{[]any{"lastName", "==", "Jones"}, []any{"firstName", ">", "A"}},
		"orderBy":    []any{[]any{"lastName", "asc"}, []any{"firstName", "asc"}},
		"startAfter": personID(0),
	}
	// Smith sorts after Jones, so nothing follows the cursor.
	pq := f.compile(t, f.query(t, f.person, past))
	assert.Empty(t, pq.Query.Query.Items)
	assert.Empty(t, f.names(t, f.query(t, f.person, past)))
}

func TestWhereClauseToPathQuery(t *testing.T) {
	f := seedPeople(t)

	tests := []struct {
		clause WhereClause
		want   string
	}{
		{WhereClause{Field: "firstName", Operator: Equal, Value: value.String("Eve")}, `Key("Eve")`},
		{WhereClause{Field: "firstName", Operator: GreaterThan, Value: value.String("Eve")}, `RangeAfter("Eve")`},
		{WhereClause{Field: "firstName", Operator: GreaterThanOrEquals, Value: value.String("Eve")}, `RangeFrom("Eve")`},
		{WhereClause{Field: "firstName", Operator: LessThan, Value: value.String("Eve")}, `RangeAfterTo("", "Eve")`},
		{WhereClause{Field: "firstName", Operator: LessThanOrEquals, Value: value.String("Eve")}, `RangeAfterToInclusive("", "Eve")`},
		{WhereClause{Field: "firstName", Operator: StartsWith, Value: value.String("Ev")}, `Range("Ev", "Ew")`},
		{WhereClause{Field: "firstName", Operator: Between, Value: value.Array{value.String("B"), value.String("D")}}, `RangeInclusive("B", "D")`},
		{WhereClause{Field: "firstName", Operator: BetweenExcludeBounds, Value: value.Array{value.String("B"), value.String("D")}}, `RangeAfterTo("B", "D")`},
		{WhereClause{Field: "firstName", Operator: BetweenExcludeLeft, Value: value.Array{value.String("B"), value.String("D")}}, `RangeAfterToInclusive("B", "D")`},
		{WhereClause{Field: "firstName", Operator: BetweenExcludeRight, Value: value.Array{value.String("B"), value.String("D")}}, `Range("B", "D")`},
	}
	for _, tt := range tests {
		t.Run(tt.clause.Operator.String(), func(t *testing.T) {
			q, err := tt.clause.ToPathQuery(f.person, true)
			require.NoError(t, err)
			require.Len(t, q.Items, 1)
			assert.Equal(t, tt.want, q.Items[0].String())
		})
	}

	in := WhereClause{Field: "firstName", Operator: In, Value: value.Array{value.String("Eve"), value.String("Bob")}}
	q, err := in.ToPathQuery(f.person, false)
	require.NoError(t, err)
	assert.False(t, q.LeftToRight)
	assert.Equal(t, "query desc [Key(\"Bob\"), Key(\"Eve\")]\n", q.String())
}

func TestPrefixEnd(t *testing.T) {
	end, ok := prefixEnd([]byte("ab"))
	require.True(t, ok)
	assert.Equal(t, []byte("ac"), end)

	end, ok = prefixEnd([]byte{0x61, 0xff})
	require.True(t, ok)
	assert.Equal(t, []byte{0x62}, end)

	_, ok = prefixEnd([]byte{0xff, 0xff})
	assert.False(t, ok)
}
