package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docgrove/internal/value"
)

func TestParseWhereOperator(t *testing.T) {
	tests := map[string]WhereOperator{
		"==":                   Equal,
		"=":                    Equal,
		">":                    GreaterThan,
		">=":                   GreaterThanOrEquals,
		"<":                    LessThan,
		"<=":                   LessThanOrEquals,
		"between":              Between,
		"Between":              Between,
		"betweenExcludeBounds": BetweenExcludeBounds,
		"between_exclude_left": BetweenExcludeLeft,
		"betweenexcluderight":  BetweenExcludeRight,
		"in":                   In,
		"In":                   In,
		"startsWith":           StartsWith,
		"starts_with":          StartsWith,
	}
	for s, want := range tests {
		got, ok := ParseWhereOperator(s)
		require.True(t, ok, s)
		assert.Equal(t, want, got, s)

		// the canonical spelling parses back to itself
		again, ok := ParseWhereOperator(got.String())
		require.True(t, ok)
		assert.Equal(t, got, again)
	}

	_, ok := ParseWhereOperator("like")
	assert.False(t, ok)
}

func TestFlip(t *testing.T) {
	pairs := [][2]WhereOperator{
		{Equal, Equal},
		{GreaterThan, LessThan},
		{GreaterThanOrEquals, LessThanOrEquals},
		{LessThan, GreaterThan},
		{LessThanOrEquals, GreaterThanOrEquals},
	}
	for _, p := range pairs {
		got, err := p[0].Flip()
		require.NoError(t, err)
		assert.Equal(t, p[1], got)
	}

	for _, op := range []WhereOperator{In, StartsWith, Between, BetweenExcludeLeft} {
		_, err := op.Flip()
		assert.True(t, HasCode(err, ErrCodeInvalidWhereClauseOrder), "%s", op)
	}
}

func TestWhereClauseFromComponents(t *testing.T) {
	wc, err := WhereClauseFromComponents(value.Array{value.String("age"), value.String(">="), value.Int(3)})
	require.NoError(t, err)
	assert.Equal(t, WhereClause{Field: "age", Operator: GreaterThanOrEquals, Value: value.Int(3)}, wc)
	assert.Equal(t, value.Array{value.String("age"), value.String(">="), value.Int(3)}, wc.Components())

	tests := []struct {
		name  string
		parts value.Array
		code  ErrorCode
	}{
		{"too short", value.Array{value.String("age"), value.String(">")}, ErrCodeInvalidFormatWhereClause},
		{"field not text", value.Array{value.Int(1), value.String(">"), value.Int(3)}, ErrCodeInvalidFormatWhereClause},
		{"operator not text", value.Array{value.String("age"), value.Int(1), value.Int(3)}, ErrCodeInvalidWhereClause},
		{"unknown operator", value.Array{value.String("age"), value.String("!="), value.Int(3)}, ErrCodeInvalidWhereClause},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := WhereClauseFromComponents(tt.parts)
			assert.True(t, HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestInValues(t *testing.T) {
	wc := WhereClause{Field: "age", Operator: In, Value: value.Array{value.Int(9), value.Int(3), value.Int(5)}}
	vals, err := wc.InValues(100)
	require.NoError(t, err)
	assert.Equal(t, value.Array{value.Int(3), value.Int(5), value.Int(9)}, vals)

	tests := []struct {
		name string
		v    value.Value
		max  int
	}{
		{"not an array", value.Int(3), 100},
		{"empty", value.Array{}, 100},
		{"too many", value.Array{value.Int(1), value.Int(2), value.Int(3)}, 2},
		{"duplicates", value.Array{value.Int(1), value.Int(2), value.Int(1)}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := WhereClause{Field: "age", Operator: In, Value: tt.v}.InValues(tt.max)
			assert.True(t, HasCode(err, ErrCodeInvalidInClause), "got %v", err)
		})
	}
}

func clause(field string, op WhereOperator, v any) WhereClause {
	val, err := value.FromGo(v)
	if err != nil {
		panic(err)
	}
	return WhereClause{Field: field, Operator: op, Value: val}
}

func TestExtractFromClauses(t *testing.T) {
	t.Run("partitions by role", func(t *testing.T) {
		ic, err := ExtractFromClauses([]WhereClause{
			clause("lastName", Equal, "Smith"),
			clause("age", In, []any{3, 4}),
			clause("firstName", GreaterThan, "B"),
		}, 100)
		require.NoError(t, err)
		assert.Contains(t, ic.Equal, "lastName")
		require.NotNil(t, ic.In)
		assert.Equal(t, "age", ic.In.Field)
		require.NotNil(t, ic.Range)
		assert.Equal(t, GreaterThan, ic.Range.Operator)
		assert.False(t, ic.IsForPrimaryKey())
		assert.Len(t, ic.Clauses(), 3)
	})

	t.Run("groups two bounds into between", func(t *testing.T) {
		tests := []struct {
			lo, hi WhereOperator
			want   WhereOperator
		}{
			{GreaterThanOrEquals, LessThanOrEquals, Between},
			{GreaterThan, LessThan, BetweenExcludeBounds},
			{GreaterThan, LessThanOrEquals, BetweenExcludeLeft},
			{GreaterThanOrEquals, LessThan, BetweenExcludeRight},
		}
		for _, tt := range tests {
			// bound order in the input does not matter
			ic, err := ExtractFromClauses([]WhereClause{clause("age", tt.hi, 40), clause("age", tt.lo, 20)}, 100)
			require.NoError(t, err)
			require.NotNil(t, ic.Range)
			assert.Equal(t, tt.want, ic.Range.Operator)
			assert.Equal(t, value.Array{value.Int(20), value.Int(40)}, ic.Range.Value)
		}
	})

	t.Run("equal bounds only for inclusive between", func(t *testing.T) {
		_, err := ExtractFromClauses([]WhereClause{clause("age", GreaterThanOrEquals, 5), clause("age", LessThanOrEquals, 5)}, 100)
		assert.NoError(t, err)
		_, err = ExtractFromClauses([]WhereClause{clause("age", GreaterThan, 5), clause("age", LessThanOrEquals, 5)}, 100)
		assert.True(t, HasCode(err, ErrCodeInvalidBetweenClause), "got %v", err)
	})

	t.Run("primary key", func(t *testing.T) {
		ic, err := ExtractFromClauses([]WhereClause{clause("$id", Equal, value.Identifier{1})}, 100)
		require.NoError(t, err)
		assert.True(t, ic.IsForPrimaryKey())
		assert.NotNil(t, ic.PrimaryKeyEqual)

		ic, err = ExtractFromClauses([]WhereClause{clause("$id", In, []any{value.Identifier{1}, value.Identifier{2}})}, 100)
		require.NoError(t, err)
		assert.NotNil(t, ic.PrimaryKeyIn)
		assert.Nil(t, ic.In)
	})

	errs := []struct {
		name    string
		clauses []WhereClause
		code    ErrorCode
	}{
		{
			name:    "duplicate equality",
			clauses: []WhereClause{clause("age", Equal, 1), clause("age", Equal, 2)},
			code:    ErrCodeDuplicateNonGroupableClause,
		},
		{
			name:    "two in clauses",
			clauses: []WhereClause{clause("age", In, []any{1}), clause("firstName", In, []any{"a"})},
			code:    ErrCodeMultipleInClauses,
		},
		{
			name:    "in and equality on one field",
			clauses: []WhereClause{clause("age", In, []any{1, 2}), clause("age", Equal, 3)},
			code:    ErrCodeDuplicateNonGroupableClause,
		},
		{
			name:    "range on an equality field",
			clauses: []WhereClause{clause("age", Equal, 1), clause("age", GreaterThan, 0)},
			code:    ErrCodeDuplicateNonGroupableClause,
		},
		{
			name:    "two lower bounds",
			clauses: []WhereClause{clause("age", GreaterThan, 1), clause("age", GreaterThanOrEquals, 2)},
			code:    ErrCodeRangeClausesNotGroupable,
		},
		{
			name:    "bounds on different fields",
			clauses: []WhereClause{clause("age", GreaterThan, 1), clause("firstName", LessThan, "x")},
			code:    ErrCodeRangeClausesNotGroupable,
		},
		{
			name:    "three bounds",
			clauses: []WhereClause{clause("age", GreaterThan, 1), clause("age", LessThan, 9), clause("age", LessThan, 8)},
			code:    ErrCodeMultipleRangeClauses,
		},
		{
			name:    "starts with mixed with a bound",
			clauses: []WhereClause{clause("firstName", StartsWith, "A"), clause("firstName", GreaterThan, "B")},
			code:    ErrCodeRangeClausesNotGroupable,
		},
		{
			name:    "two starts with",
			clauses: []WhereClause{clause("firstName", StartsWith, "A"), clause("lastName", StartsWith, "B")},
			code:    ErrCodeMultipleRangeClauses,
		},
		{
			name:    "empty starts with",
			clauses: []WhereClause{clause("firstName", StartsWith, "")},
			code:    ErrCodeInvalidStartsWithClause,
		},
		{
			name:    "between out of order",
			clauses: []WhereClause{clause("age", Between, []any{9, 1})},
			code:    ErrCodeInvalidBetweenClause,
		},
		{
			name:    "between with one bound",
			clauses: []WhereClause{clause("age", Between, []any{9})},
			code:    ErrCodeInvalidBetweenClause,
		},
		{
			name:    "in over the limit",
			clauses: []WhereClause{clause("age", In, []any{1, 2, 3})},
			code:    ErrCodeInvalidInClause,
		},
		{
			name:    "primary key with another clause",
			clauses: []WhereClause{clause("$id", Equal, value.Identifier{1}), clause("age", Equal, 1)},
			code:    ErrCodeInvalidWhereClause,
		},
	}
	for _, tt := range errs {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractFromClauses(tt.clauses, 2)
			assert.True(t, HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestOrderBy(t *testing.T) {
	ob := NewOrderBy(
		OrderClause{Field: "a", Ascending: true},
		OrderClause{Field: "b", Ascending: false},
		OrderClause{Field: "a", Ascending: false},
	)
	assert.Equal(t, []string{"a", "b"}, ob.Fields())
	a, ok := ob.Get("a")
	require.True(t, ok)
	assert.False(t, a.Ascending)
	assert.False(t, ob.OnlyPrimaryKey())
	assert.True(t, NewOrderBy().OnlyPrimaryKey())
	assert.True(t, NewOrderBy(OrderClause{Field: "$id"}).OnlyPrimaryKey())

	oc, err := OrderClauseFromComponents(value.Array{value.String("age"), value.String("desc")})
	require.NoError(t, err)
	assert.Equal(t, OrderClause{Field: "age"}, oc)
	assert.Equal(t, value.Array{value.String("age"), value.String("desc")}, oc.Components())

	_, err = OrderClauseFromComponents(value.Array{value.String("age"), value.String("down")})
	assert.True(t, HasCode(err, ErrCodeInvalidOrderByProperties))
	_, err = OrderClauseFromComponents(value.Array{value.String("age")})
	assert.True(t, HasCode(err, ErrCodeInvalidOrderByProperties))
}
