package query

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/roach88/docgrove/internal/contract"
	"github.com/roach88/docgrove/internal/value"
)

// FromSQL parses a SELECT statement into a query against c. The table is the
// document type; system fields are written with their $ prefix, for example
//
//	SELECT * FROM person WHERE $ownerId = '8qbH...' AND firstName LIKE 'Al%'
//	ORDER BY firstName ASC LIMIT 10
func FromSQL(sql string, c *contract.DataContract, cfg Config) (*DocumentQuery, error) {
	stmt, err := sqlparser.Parse(quoteSystemFields(sql))
	if err != nil {
		return nil, syntaxErr(ErrCodeInvalidSQL, "%v", err)
	}
	sel, ok := stmt.(*sqlparser.Select)
	if !ok {
		return nil, syntaxErr(ErrCodeInvalidSQL, "only SELECT statements are supported")
	}
	if sel.Distinct != "" || len(sel.GroupBy) > 0 || sel.Having != nil {
		return nil, syntaxErr(ErrCodeUnsupported, "DISTINCT, GROUP BY and HAVING are not supported")
	}
	for _, se := range sel.SelectExprs {
		if _, star := se.(*sqlparser.StarExpr); !star {
			return nil, syntaxErr(ErrCodeUnsupported, "only SELECT * is supported, got %s", sqlparser.String(se))
		}
	}

	dt, err := documentTypeFromSQL(sel.From, c)
	if err != nil {
		return nil, err
	}
	cfg = cfg.orDefault()
	q := New(c, dt, cfg)

	if sel.Limit != nil {
		if sel.Limit.Rowcount != nil {
			n, err := sqlInt(sel.Limit.Rowcount)
			if err != nil || n <= 0 || n > int64(cfg.MaxLimit) {
				return nil, syntaxErr(ErrCodeInvalidLimit, "limit should be a integer from 1 to %d", cfg.MaxLimit)
			}
			limit := uint16(n)
			q.Limit = &limit
		}
		if sel.Limit.Offset != nil {
			n, err := sqlInt(sel.Limit.Offset)
			if err != nil || n < 0 || n > 0xffff {
				return nil, syntaxErr(ErrCodeInvalidOffset, "offset must be an integer from 0 to 65535")
			}
			offset := uint16(n)
			q.Offset = &offset
		}
	}

	if sel.Where != nil {
		var clauses []WhereClause
		if err := collectClauses(sel.Where.Expr, dt, &clauses); err != nil {
			return nil, err
		}
		if err := q.setClauses(clauses); err != nil {
			return nil, err
		}
	}

	for _, o := range sel.OrderBy {
		col, ok := o.Expr.(*sqlparser.ColName)
		if !ok {
			return nil, syntaxErr(ErrCodeInvalidOrderByProperties, "order by %s must name a field", sqlparser.String(o.Expr))
		}
		field := col.Name.String()
		if _, known := dt.FieldType(field); !known {
			return nil, syntaxErr(ErrCodeInvalidOrderByProperties, "field %q is not defined on document type %q", field, dt.Name)
		}
		q.OrderBy.Set(OrderClause{Field: field, Ascending: o.Direction != sqlparser.DescScr})
	}
	return q, nil
}

func documentTypeFromSQL(from sqlparser.TableExprs, c *contract.DataContract) (*contract.DocumentType, error) {
	if len(from) != 1 {
		return nil, syntaxErr(ErrCodeInvalidSQL, "query must select from exactly one document type")
	}
	aliased, ok := from[0].(*sqlparser.AliasedTableExpr)
	if !ok {
		return nil, syntaxErr(ErrCodeUnsupported, "joins are not supported")
	}
	table, ok := aliased.Expr.(sqlparser.TableName)
	if !ok {
		return nil, syntaxErr(ErrCodeUnsupported, "subqueries are not supported")
	}
	name := table.Name.String()
	dt, ok := c.DocumentType(name)
	if !ok {
		return nil, syntaxErr(ErrCodeDocumentTypeNotFound, "document type %q not found", name)
	}
	return dt, nil
}

// collectClauses flattens a conjunction of comparisons into where clauses.
func collectClauses(expr sqlparser.Expr, dt *contract.DocumentType, out *[]WhereClause) error {
	switch e := expr.(type) {
	case *sqlparser.AndExpr:
		if err := collectClauses(e.Left, dt, out); err != nil {
			return err
		}
		return collectClauses(e.Right, dt, out)
	case *sqlparser.ParenExpr:
		return collectClauses(e.Expr, dt, out)
	case *sqlparser.ComparisonExpr:
		wc, err := comparisonClause(e, dt)
		if err != nil {
			return err
		}
		*out = append(*out, wc)
		return nil
	case *sqlparser.RangeCond:
		if e.Operator != sqlparser.BetweenStr {
			return syntaxErr(ErrCodeUnsupported, "%s is not supported", sqlparser.String(e))
		}
		col, ok := e.Left.(*sqlparser.ColName)
		if !ok {
			return syntaxErr(ErrCodeInvalidWhereClause, "BETWEEN must apply to a field")
		}
		field := col.Name.String()
		lo, err := sqlValue(e.From, field, dt)
		if err != nil {
			return err
		}
		hi, err := sqlValue(e.To, field, dt)
		if err != nil {
			return err
		}
		*out = append(*out, WhereClause{Field: field, Operator: Between, Value: value.Array{lo, hi}})
		return nil
	}
	return syntaxErr(ErrCodeUnsupported, "%s is not supported, clauses may only be joined with AND", sqlparser.String(expr))
}

func comparisonClause(e *sqlparser.ComparisonExpr, dt *contract.DocumentType) (WhereClause, error) {
	var op WhereOperator
	switch e.Operator {
	case sqlparser.EqualStr:
		op = Equal
	case sqlparser.LessThanStr:
		op = LessThan
	case sqlparser.GreaterThanStr:
		op = GreaterThan
	case sqlparser.LessEqualStr:
		op = LessThanOrEquals
	case sqlparser.GreaterEqualStr:
		op = GreaterThanOrEquals
	case sqlparser.InStr:
		op = In
	case sqlparser.LikeStr:
		op = StartsWith
	default:
		return WhereClause{}, syntaxErr(ErrCodeUnsupported, "operator %q is not supported", e.Operator)
	}

	left, right := e.Left, e.Right
	col, ok := left.(*sqlparser.ColName)
	if !ok {
		// value on the left: 5 < age reads as age > 5
		col, ok = right.(*sqlparser.ColName)
		if !ok {
			return WhereClause{}, syntaxErr(ErrCodeInvalidWhereClause, "%s must compare a field with a value", sqlparser.String(e))
		}
		flipped, err := op.Flip()
		if err != nil {
			return WhereClause{}, err
		}
		op, right = flipped, left
	}
	field := col.Name.String()

	switch op {
	case In:
		tuple, ok := right.(sqlparser.ValTuple)
		if !ok {
			return WhereClause{}, syntaxErr(ErrCodeInvalidInClause, "IN takes a list of values")
		}
		vals := make(value.Array, 0, len(tuple))
		for _, item := range tuple {
			v, err := sqlValue(item, field, dt)
			if err != nil {
				return WhereClause{}, err
			}
			vals = append(vals, v)
		}
		return WhereClause{Field: field, Operator: In, Value: vals}, nil
	case StartsWith:
		lit, ok := right.(*sqlparser.SQLVal)
		if !ok || lit.Type != sqlparser.StrVal {
			return WhereClause{}, syntaxErr(ErrCodeInvalidStartsWithClause, "LIKE takes a text pattern")
		}
		pattern := string(lit.Val)
		prefix, found := strings.CutSuffix(pattern, "%")
		if !found || strings.ContainsAny(prefix, "%_") {
			return WhereClause{}, syntaxErr(ErrCodeInvalidStartsWithClause, "LIKE only supports a prefix followed by a single trailing %%")
		}
		return WhereClause{Field: field, Operator: StartsWith, Value: value.String(prefix)}, nil
	}
	v, err := sqlValue(right, field, dt)
	if err != nil {
		return WhereClause{}, err
	}
	return WhereClause{Field: field, Operator: op, Value: v}, nil
}

// sqlValue converts a literal into a Value suited to field's type.
// Normalization later turns base58 text into identifiers.
func sqlValue(expr sqlparser.Expr, field string, dt *contract.DocumentType) (value.Value, error) {
	switch e := expr.(type) {
	case *sqlparser.NullVal:
		return value.Null{}, nil
	case sqlparser.BoolVal:
		return value.Bool(e), nil
	case *sqlparser.ParenExpr:
		return sqlValue(e.Expr, field, dt)
	case *sqlparser.SQLVal:
		switch e.Type {
		case sqlparser.StrVal:
			return value.String(e.Val), nil
		case sqlparser.IntVal:
			n, err := strconv.ParseInt(string(e.Val), 10, 64)
			if err != nil {
				return nil, syntaxErr(ErrCodeInvalidWhereClause, "integer %s out of range", e.Val)
			}
			return value.Int(n), nil
		case sqlparser.HexVal:
			b, err := hex.DecodeString(string(e.Val))
			if err != nil {
				return nil, syntaxErr(ErrCodeInvalidWhereClause, "bad hex literal: %v", err)
			}
			return value.Bytes(b), nil
		case sqlparser.FloatVal:
			return nil, syntaxErr(ErrCodeInvalidWhereClause, "floats are not supported, got %s on %q", e.Val, field)
		}
	}
	return nil, syntaxErr(ErrCodeInvalidWhereClause, "%s is not a literal value", sqlparser.String(expr))
}

func sqlInt(expr sqlparser.Expr) (int64, error) {
	lit, ok := expr.(*sqlparser.SQLVal)
	if !ok || lit.Type != sqlparser.IntVal {
		return 0, syntaxErr(ErrCodeInvalidSQL, "%s is not an integer", sqlparser.String(expr))
	}
	return strconv.ParseInt(string(lit.Val), 10, 64)
}

// quoteSystemFields backquotes $-prefixed identifiers outside literals so
// the parser accepts them as column names.
func quoteSystemFields(sql string) string {
	var (
		b     strings.Builder
		quote byte
	)
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
			b.WriteByte(ch)
		case ch == '\'' || ch == '"' || ch == '`':
			quote = ch
			b.WriteByte(ch)
		case ch == '$':
			j := i + 1
			for j < len(sql) && isIdentByte(sql[j]) {
				j++
			}
			b.WriteByte('`')
			b.WriteString(sql[i:j])
			b.WriteByte('`')
			i = j - 1
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

func isIdentByte(ch byte) bool {
	return ch == '_' || ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') || ('0' <= ch && ch <= '9')
}
