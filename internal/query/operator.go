package query

import "fmt"

// WhereOperator is the comparison a where clause applies.
type WhereOperator uint8

const (
	Equal WhereOperator = iota
	GreaterThan
	GreaterThanOrEquals
	LessThan
	LessThanOrEquals
	Between
	BetweenExcludeBounds
	BetweenExcludeLeft
	BetweenExcludeRight
	In
	StartsWith
)

var operatorNames = [...]string{
	Equal:                "=",
	GreaterThan:          ">",
	GreaterThanOrEquals:  ">=",
	LessThan:             "<",
	LessThanOrEquals:     "<=",
	Between:              "between",
	BetweenExcludeBounds: "betweenExcludeBounds",
	BetweenExcludeLeft:   "betweenExcludeLeft",
	BetweenExcludeRight:  "betweenExcludeRight",
	In:                   "in",
	StartsWith:           "startsWith",
}

// String returns the canonical wire spelling.
func (op WhereOperator) String() string {
	if int(op) < len(operatorNames) {
		return operatorNames[op]
	}
	return fmt.Sprintf("WhereOperator(%d)", op)
}

// ParseWhereOperator accepts the canonical spelling and the common
// alternatives (==, In, StartsWith, starts_with, between_exclude_left, ...).
func ParseWhereOperator(s string) (WhereOperator, bool) {
	switch s {
	case "=", "==":
		return Equal, true
	case ">":
		return GreaterThan, true
	case ">=":
		return GreaterThanOrEquals, true
	case "<":
		return LessThan, true
	case "<=":
		return LessThanOrEquals, true
	case "Between", "between":
		return Between, true
	case "BetweenExcludeBounds", "betweenExcludeBounds", "betweenexcludebounds", "between_exclude_bounds":
		return BetweenExcludeBounds, true
	case "BetweenExcludeLeft", "betweenExcludeLeft", "betweenexcludeleft", "between_exclude_left":
		return BetweenExcludeLeft, true
	case "BetweenExcludeRight", "betweenExcludeRight", "betweenexcluderight", "between_exclude_right":
		return BetweenExcludeRight, true
	case "In", "in":
		return In, true
	case "StartsWith", "startsWith", "startswith", "starts_with":
		return StartsWith, true
	}
	return 0, false
}

// Flip mirrors the operator for a comparison written value-first, so that
// `5 < age` becomes `age > 5`. Only the scalar comparisons can be flipped.
func (op WhereOperator) Flip() (WhereOperator, error) {
	switch op {
	case Equal:
		return Equal, nil
	case GreaterThan:
		return LessThan, nil
	case GreaterThanOrEquals:
		return LessThanOrEquals, nil
	case LessThan:
		return GreaterThan, nil
	case LessThanOrEquals:
		return GreaterThanOrEquals, nil
	}
	return op, syntaxErr(ErrCodeInvalidWhereClauseOrder, "%s clause must have the field on the left", op)
}

// IsRange reports whether the operator selects more than one key. In counts
// as a range: it fans out over several index values.
func (op WhereOperator) IsRange() bool { return op != Equal }

// IsGroupable reports whether two clauses with this operator on the same
// field may be combined into one between clause.
func (op WhereOperator) IsGroupable() bool {
	switch op {
	case GreaterThan, GreaterThanOrEquals, LessThan, LessThanOrEquals:
		return true
	}
	return false
}

func (op WhereOperator) isBetween() bool {
	switch op {
	case Between, BetweenExcludeBounds, BetweenExcludeLeft, BetweenExcludeRight:
		return true
	}
	return false
}

func (op WhereOperator) isLowerBound() bool {
	return op == GreaterThan || op == GreaterThanOrEquals
}

func (op WhereOperator) isUpperBound() bool {
	return op == LessThan || op == LessThanOrEquals
}
