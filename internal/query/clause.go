package query

import (
	"slices"

	"github.com/roach88/docgrove/internal/contract"
	"github.com/roach88/docgrove/internal/value"
)

// WhereClause is one filter predicate: field, operator, value.
type WhereClause struct {
	Field    string
	Operator WhereOperator
	Value    value.Value
}

// WhereClauseFromComponents parses a [field, operator, value] triple.
func WhereClauseFromComponents(components value.Array) (WhereClause, error) {
	if len(components) != 3 {
		return WhereClause{}, syntaxErr(ErrCodeInvalidFormatWhereClause, "where clauses must have exactly 3 components, got %d", len(components))
	}
	field, ok := components[0].(value.String)
	if !ok {
		return WhereClause{}, syntaxErr(ErrCodeInvalidFormatWhereClause, "first component of a where clause must be a field name")
	}
	opName, ok := components[1].(value.String)
	if !ok {
		return WhereClause{}, syntaxErr(ErrCodeInvalidWhereClause, "second component of a where clause must be an operator")
	}
	op, ok := ParseWhereOperator(string(opName))
	if !ok {
		return WhereClause{}, syntaxErr(ErrCodeInvalidWhereClause, "unknown operator %q", opName)
	}
	return WhereClause{Field: string(field), Operator: op, Value: components[2]}, nil
}

// Components renders the clause back into its wire triple.
func (c WhereClause) Components() value.Array {
	return value.Array{value.String(c.Field), value.String(c.Operator.String()), c.Value}
}

// InValues returns the values of an in clause sorted ascending. The value
// must be a non-empty array of at most max distinct values.
func (c WhereClause) InValues(max int) (value.Array, error) {
	arr, ok := c.Value.(value.Array)
	if !ok {
		return nil, syntaxErr(ErrCodeInvalidInClause, "when using in operator you must provide an array of values")
	}
	if len(arr) == 0 {
		return nil, syntaxErr(ErrCodeInvalidInClause, "in clause must have at least 1 value")
	}
	if len(arr) > max {
		return nil, syntaxErr(ErrCodeInvalidInClause, "in clause must have at most %d values", max)
	}
	sorted := slices.Clone(arr)
	value.SortValues(sorted)
	for i := 1; i < len(sorted); i++ {
		if value.Equal(sorted[i-1], sorted[i]) {
			return nil, syntaxErr(ErrCodeInvalidInClause, "there should be no duplicate values for in query")
		}
	}
	return sorted, nil
}

// betweenBounds splits a between clause value into its two bounds.
func (c WhereClause) betweenBounds() (value.Value, value.Value, error) {
	arr, ok := c.Value.(value.Array)
	if !ok || len(arr) != 2 {
		return nil, nil, syntaxErr(ErrCodeInvalidBetweenClause, "when using between operator you must provide a tuple array with 2 values")
	}
	return arr[0], arr[1], nil
}

// LessThan reports whether c's value sorts before other's, or equals it when
// allowEqual is set.
func (c WhereClause) LessThan(other WhereClause, allowEqual bool) (bool, error) {
	cmp, err := value.Compare(c.Value, other.Value)
	if err != nil {
		return false, syntaxErr(ErrCodeInvalidWhereClause, "clauses on %q are not comparable: %v", c.Field, err)
	}
	return cmp < 0 || (allowEqual && cmp == 0), nil
}

// validateBetween checks that the bounds are ordered.
func (c WhereClause) validateBetween() error {
	lo, hi, err := c.betweenBounds()
	if err != nil {
		return err
	}
	cmp, err := value.Compare(lo, hi)
	if err != nil {
		return syntaxErr(ErrCodeInvalidBetweenClause, "between bounds on %q are not comparable: %v", c.Field, err)
	}
	if cmp > 0 || (cmp == 0 && c.Operator != Between) {
		return syntaxErr(ErrCodeInvalidBetweenClause, "lower bounds must be under upper bounds")
	}
	return nil
}

// normalize coerces the clause value to the canonical Value for the field's
// declared type.
func (c WhereClause) normalize(dt *contract.DocumentType) (WhereClause, error) {
	typ, ok := dt.FieldType(c.Field)
	if !ok {
		return c, syntaxErr(ErrCodeInvalidWhereClause, "field %q is not defined on document type %q", c.Field, dt.Name)
	}
	norm := func(v value.Value) (value.Value, error) {
		out, err := dt.NormalizeValue(c.Field, v)
		if err != nil {
			return nil, syntaxErr(ErrCodeInvalidWhereClause, "%v", err)
		}
		return out, nil
	}
	switch {
	case c.Operator == In || c.Operator.isBetween():
		arr, ok := c.Value.(value.Array)
		if !ok {
			// InValues and betweenBounds report the shape error.
			return c, nil
		}
		out := make(value.Array, len(arr))
		for i, v := range arr {
			nv, err := norm(v)
			if err != nil {
				return c, err
			}
			out[i] = nv
		}
		c.Value = out
	case c.Operator == StartsWith:
		if typ != contract.TypeString {
			return c, syntaxErr(ErrCodeInvalidStartsWithClause, "startsWith requires a string field, %q is %s", c.Field, typ)
		}
		if _, ok := c.Value.(value.String); !ok {
			return c, syntaxErr(ErrCodeInvalidStartsWithClause, "startsWith takes text")
		}
		nv, err := norm(c.Value)
		if err != nil {
			return c, err
		}
		c.Value = nv
	default:
		nv, err := norm(c.Value)
		if err != nil {
			return c, err
		}
		c.Value = nv
	}
	return c, nil
}

// InternalClauses partitions a flat clause list by the role each clause
// plays during compilation.
type InternalClauses struct {
	PrimaryKeyEqual *WhereClause
	PrimaryKeyIn    *WhereClause
	In              *WhereClause
	Range           *WhereClause
	Equal           map[string]WhereClause
}

// ExtractFromClauses validates and partitions clauses. In clauses may carry
// at most maxInValues values.
func ExtractFromClauses(clauses []WhereClause, maxInValues int) (InternalClauses, error) {
	var (
		ic   InternalClauses
		rest []WhereClause
	)
	for i := range clauses {
		c := clauses[i]
		if c.Operator == In {
			if _, err := c.InValues(maxInValues); err != nil {
				return InternalClauses{}, err
			}
		}
		if c.Field != contract.FieldID || (c.Operator != Equal && c.Operator != In) {
			rest = append(rest, c)
			continue
		}
		switch c.Operator {
		case Equal:
			if ic.PrimaryKeyEqual != nil {
				return InternalClauses{}, syntaxErr(ErrCodeDuplicateNonGroupableClause, "there should only be one equal clause for the primary key")
			}
			ic.PrimaryKeyEqual = &c
		case In:
			if ic.PrimaryKeyIn != nil {
				return InternalClauses{}, syntaxErr(ErrCodeMultipleInClauses, "there should only be one in clause for the primary key")
			}
			ic.PrimaryKeyIn = &c
		}
	}

	equal, rangeClause, inClause, err := groupClauses(rest)
	if err != nil {
		return InternalClauses{}, err
	}
	ic.Equal = equal
	ic.Range = rangeClause
	ic.In = inClause
	if !ic.Verify() {
		return InternalClauses{}, syntaxErr(ErrCodeInvalidWhereClause, "primary key clauses cannot be combined with other clauses")
	}
	return ic, nil
}

// Verify reports whether the partition is consistent: a primary key clause
// excludes every other clause.
func (ic InternalClauses) Verify() bool {
	if ic.PrimaryKeyEqual != nil {
		return ic.PrimaryKeyIn == nil && ic.In == nil && ic.Range == nil && len(ic.Equal) == 0
	}
	if ic.PrimaryKeyIn != nil {
		return ic.In == nil && ic.Range == nil && len(ic.Equal) == 0
	}
	return true
}

// IsForPrimaryKey reports whether a primary key clause is present.
func (ic InternalClauses) IsForPrimaryKey() bool {
	return ic.PrimaryKeyEqual != nil || ic.PrimaryKeyIn != nil
}

// IsEmpty reports whether no clause is present.
func (ic InternalClauses) IsEmpty() bool {
	return !ic.IsForPrimaryKey() && ic.In == nil && ic.Range == nil && len(ic.Equal) == 0
}

// Clauses flattens the partition back into a clause list in a stable order.
func (ic InternalClauses) Clauses() []WhereClause {
	var out []WhereClause
	for _, c := range []*WhereClause{ic.PrimaryKeyEqual, ic.PrimaryKeyIn, ic.In, ic.Range} {
		if c != nil {
			out = append(out, *c)
		}
	}
	fields := make([]string, 0, len(ic.Equal))
	for f := range ic.Equal {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	for _, f := range fields {
		out = append(out, ic.Equal[f])
	}
	return out
}

func groupClauses(clauses []WhereClause) (map[string]WhereClause, *WhereClause, *WhereClause, error) {
	equal := make(map[string]WhereClause)
	var (
		inClause    *WhereClause
		groupable   []WhereClause
		ungroupable []WhereClause
	)
	for i := range clauses {
		c := clauses[i]
		switch {
		case c.Operator == Equal:
			if _, dup := equal[c.Field]; dup {
				return nil, nil, nil, syntaxErr(ErrCodeDuplicateNonGroupableClause, "duplicate equality clauses on %q", c.Field)
			}
			equal[c.Field] = c
		case c.Operator == In:
			if inClause != nil {
				return nil, nil, nil, syntaxErr(ErrCodeMultipleInClauses, "there should only be one in clause")
			}
			inClause = &c
		case c.Operator.IsGroupable():
			groupable = append(groupable, c)
		default:
			ungroupable = append(ungroupable, c)
		}
	}
	if inClause != nil {
		if _, clash := equal[inClause.Field]; clash {
			return nil, nil, nil, syntaxErr(ErrCodeDuplicateNonGroupableClause, "cannot have an in clause and an equality clause on %q", inClause.Field)
		}
	}
	pinned := func(field string) bool {
		_, eq := equal[field]
		return eq || (inClause != nil && inClause.Field == field)
	}

	var rangeClause *WhereClause
	switch len(groupable) {
	case 0:
	case 1:
		if len(ungroupable) > 0 {
			return nil, nil, nil, syntaxErr(ErrCodeRangeClausesNotGroupable, "startsWith and between clauses cannot be combined with other range clauses")
		}
		c := groupable[0]
		if pinned(c.Field) {
			return nil, nil, nil, syntaxErr(ErrCodeDuplicateNonGroupableClause, "range clause on %q cannot share a field with an equality or in clause", c.Field)
		}
		rangeClause = &c
	case 2:
		if len(ungroupable) > 0 {
			return nil, nil, nil, syntaxErr(ErrCodeRangeClausesNotGroupable, "startsWith and between clauses cannot be combined with other range clauses")
		}
		c, err := combineRange(groupable[0], groupable[1])
		if err != nil {
			return nil, nil, nil, err
		}
		if pinned(c.Field) {
			return nil, nil, nil, syntaxErr(ErrCodeDuplicateNonGroupableClause, "range clause on %q cannot share a field with an equality or in clause", c.Field)
		}
		rangeClause = &c
	default:
		return nil, nil, nil, syntaxErr(ErrCodeMultipleRangeClauses, "there can only be at most 2 range clauses that must be on the same field")
	}

	switch len(ungroupable) {
	case 0:
	case 1:
		c := ungroupable[0]
		if pinned(c.Field) {
			return nil, nil, nil, syntaxErr(ErrCodeDuplicateNonGroupableClause, "range clause on %q cannot share a field with an equality or in clause", c.Field)
		}
		if c.Operator == StartsWith {
			if s, ok := c.Value.(value.String); !ok || s == "" {
				return nil, nil, nil, syntaxErr(ErrCodeInvalidStartsWithClause, "starts with can not start with an empty string")
			}
		} else if err := c.validateBetween(); err != nil {
			return nil, nil, nil, err
		}
		rangeClause = &c
	default:
		return nil, nil, nil, syntaxErr(ErrCodeMultipleRangeClauses, "there can only be one non groupable range clause")
	}
	return equal, rangeClause, inClause, nil
}

// combineRange merges a lower and an upper bound on the same field into a
// between clause.
func combineRange(a, b WhereClause) (WhereClause, error) {
	if a.Field != b.Field {
		return WhereClause{}, syntaxErr(ErrCodeRangeClausesNotGroupable, "range clauses must be on the same field")
	}
	lower, upper := a, b
	if lower.Operator.isUpperBound() {
		lower, upper = b, a
	}
	if !lower.Operator.isLowerBound() || !upper.Operator.isUpperBound() {
		return WhereClause{}, syntaxErr(ErrCodeRangeClausesNotGroupable, "lower and upper bounds must be passed if providing 2 ranges")
	}

	var op WhereOperator
	switch {
	case lower.Operator == GreaterThanOrEquals && upper.Operator == LessThanOrEquals:
		op = Between
	case lower.Operator == GreaterThanOrEquals:
		op = BetweenExcludeRight
	case upper.Operator == LessThanOrEquals:
		op = BetweenExcludeLeft
	default:
		op = BetweenExcludeBounds
	}
	ok, err := lower.LessThan(upper, op == Between)
	if err != nil {
		return WhereClause{}, err
	}
	if !ok {
		return WhereClause{}, syntaxErr(ErrCodeInvalidBetweenClause, "lower bounds must be under upper bounds")
	}
	return WhereClause{Field: lower.Field, Operator: op, Value: value.Array{lower.Value, upper.Value}}, nil
}

// OrderClause sorts by one field.
type OrderClause struct {
	Field     string
	Ascending bool
}

// OrderClauseFromComponents parses a [field, "asc"|"desc"] pair.
func OrderClauseFromComponents(components value.Array) (OrderClause, error) {
	if len(components) != 2 {
		return OrderClause{}, syntaxErr(ErrCodeInvalidOrderByProperties, "order clauses must have exactly 2 components")
	}
	field, ok := components[0].(value.String)
	if !ok {
		return OrderClause{}, syntaxErr(ErrCodeInvalidOrderByProperties, "first component of an order clause must be a field name")
	}
	dir, _ := components[1].(value.String)
	switch dir {
	case "asc":
		return OrderClause{Field: string(field), Ascending: true}, nil
	case "desc":
		return OrderClause{Field: string(field), Ascending: false}, nil
	}
	return OrderClause{}, syntaxErr(ErrCodeInvalidOrderByProperties, "order direction must be asc or desc")
}

// Components renders the clause back into its wire pair.
func (o OrderClause) Components() value.Array {
	dir := "asc"
	if !o.Ascending {
		dir = "desc"
	}
	return value.Array{value.String(o.Field), value.String(dir)}
}

// OrderBy is an insertion-ordered set of order clauses keyed by field.
// Earlier clauses take precedence.
type OrderBy struct {
	clauses []OrderClause
}

// NewOrderBy builds an OrderBy. A repeated field replaces the earlier
// direction but keeps its position.
func NewOrderBy(clauses ...OrderClause) OrderBy {
	var ob OrderBy
	for _, c := range clauses {
		ob.Set(c)
	}
	return ob
}

// Set adds or replaces the clause for c.Field.
func (ob *OrderBy) Set(c OrderClause) {
	for i := range ob.clauses {
		if ob.clauses[i].Field == c.Field {
			ob.clauses[i] = c
			return
		}
	}
	ob.clauses = append(ob.clauses, c)
}

// Get returns the clause for field.
func (ob OrderBy) Get(field string) (OrderClause, bool) {
	for _, c := range ob.clauses {
		if c.Field == field {
			return c, true
		}
	}
	return OrderClause{}, false
}

// Len returns the number of clauses.
func (ob OrderBy) Len() int { return len(ob.clauses) }

// Clauses returns the clauses in precedence order.
func (ob OrderBy) Clauses() []OrderClause { return slices.Clone(ob.clauses) }

// Fields returns the ordered field names.
func (ob OrderBy) Fields() []string {
	out := make([]string, len(ob.clauses))
	for i, c := range ob.clauses {
		out[i] = c.Field
	}
	return out
}

// OnlyPrimaryKey reports whether the clauses are empty or sort by $id alone.
func (ob OrderBy) OnlyPrimaryKey() bool {
	return len(ob.clauses) == 0 || (len(ob.clauses) == 1 && ob.clauses[0].Field == contract.FieldID)
}
