package query

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/docgrove/internal/contract"
	"github.com/roach88/docgrove/internal/documents"
	"github.com/roach88/docgrove/internal/grove"
	"github.com/roach88/docgrove/internal/metrics"
	"github.com/roach88/docgrove/internal/pathquery"
)

const (
	regimePrimaryKey = "primary_key"
	regimeIndex      = "index"
)

// ConstructPathQueryWithStore loads the cursor document, if any, and
// compiles the query. The cursor document is returned so callers can prove
// or verify it alongside the results.
func (q *DocumentQuery) ConstructPathQueryWithStore(ctx context.Context, tx *grove.Tx) (pq pathquery.PathQuery, startDoc *contract.Document, err error) {
	_, span := metrics.StartSpan(ctx, "query.compile",
		attribute.String("document_type", q.DocumentType.Name),
		attribute.Bool("start_at", q.StartAt != nil))
	defer func() { metrics.EndSpan(span, err) }()

	if q.StartAt != nil {
		startDoc, err = documents.Fetch(tx, q.DocumentType, *q.StartAt)
		if errors.Is(err, documents.ErrDocumentNotFound) {
			word := "startAt"
			if !q.StartAtIncluded {
				word = "startAfter"
			}
			return pathquery.PathQuery{}, nil, syntaxErr(ErrCodeStartDocumentNotFound, "%s document not found", word)
		}
		if err != nil {
			return pathquery.PathQuery{}, nil, err
		}
	}
	pq, err = q.ConstructPathQuery(startDoc)
	if err != nil {
		return pathquery.PathQuery{}, nil, err
	}
	return pq, startDoc, nil
}

// ConstructPathQuery compiles the query. startDoc must be the document named
// by StartAt, or nil when the query has no cursor.
func (q *DocumentQuery) ConstructPathQuery(startDoc *contract.Document) (pathquery.PathQuery, error) {
	switch {
	case q.StartAt == nil && startDoc != nil:
		return pathquery.PathQuery{}, syntaxErr(ErrCodeInvalidStartCondition, "start document given for a query without a cursor")
	case q.StartAt != nil && startDoc == nil:
		return pathquery.PathQuery{}, syntaxErr(ErrCodeInvalidStartCondition, "cursor %s has no start document", q.StartAt)
	case startDoc != nil && startDoc.ID != *q.StartAt:
		return pathquery.PathQuery{}, syntaxErr(ErrCodeInvalidStartCondition, "start document %s does not match cursor %s", startDoc.ID, q.StartAt)
	}
	if q.IsForPrimaryKey() {
		pq, err := q.primaryKeyPathQuery(startDoc)
		if err == nil {
			metrics.RecordQueryCompiled(regimePrimaryKey)
		}
		return pq, err
	}
	pq, err := q.indexPathQuery(startDoc)
	if err == nil {
		metrics.RecordQueryCompiled(regimeIndex)
	}
	return pq, err
}

// primaryKeyDirection returns the traversal direction of a primary key
// query. Only $id may be ordered on.
func (q *DocumentQuery) primaryKeyDirection() (bool, error) {
	for _, f := range q.OrderBy.Fields() {
		if f != contract.FieldID {
			return false, syntaxErr(ErrCodeInvalidOrderByProperties, "order by %q is not allowed on a primary key query", f)
		}
	}
	if oc, ok := q.OrderBy.Get(contract.FieldID); ok {
		return oc.Ascending, nil
	}
	return true, nil
}

func (q *DocumentQuery) primaryKeyPathQuery(startDoc *contract.Document) (pathquery.PathQuery, error) {
	dt := q.DocumentType
	var cursor []byte
	if startDoc != nil {
		cursor = startDoc.ID.Bytes()
	}
	afterCursor := func(key []byte, leftToRight bool) bool {
		if cursor == nil {
			return true
		}
		c := bytes.Compare(key, cursor)
		return (leftToRight && c > 0) || (!leftToRight && c < 0) || (q.StartAtIncluded && c == 0)
	}

	if eq := q.Clauses.PrimaryKeyEqual; eq != nil {
		key, err := keyFor(dt, eq.Field, eq.Value)
		if err != nil {
			return pathquery.PathQuery{}, err
		}
		pq := pathquery.New()
		if afterCursor(key, true) {
			pq.InsertKey(key)
		}
		if dt.KeepsHistory {
			if q.BlockTimeMs != nil {
				sub := pathquery.NewWithDirection(false)
				sub.InsertItem(pathquery.RangeAfterToInclusive(terminalKey, contract.EncodeU64(*q.BlockTimeMs)))
				pq.SetSubquery(sub)
			} else {
				pq.SetSubqueryKey(terminalKey)
			}
		}
		return pathquery.NewPathQuery(dt.PrimaryKeyPath(), pq, pathquery.Uint16(1), q.Offset), nil
	}

	leftToRight, err := q.primaryKeyDirection()
	if err != nil {
		return pathquery.PathQuery{}, err
	}
	if dt.KeepsHistory && q.BlockTimeMs != nil {
		return pathquery.PathQuery{}, syntaxErr(ErrCodeUnsupported, "blockTime is only supported with an equality clause on $id")
	}
	pq := pathquery.NewWithDirection(leftToRight)
	if in := q.Clauses.PrimaryKeyIn; in != nil {
		vals, err := in.InValues(q.Config().MaxInValues)
		if err != nil {
			return pathquery.PathQuery{}, err
		}
		for _, v := range vals {
			key, err := keyFor(dt, in.Field, v)
			if err != nil {
				return pathquery.PathQuery{}, err
			}
			// out-of-cursor values are dropped, not rejected
			if afterCursor(key, leftToRight) {
				pq.InsertKey(key)
			}
		}
	} else if cursor != nil {
		pq.InsertItem(halfLine(cursor, leftToRight, q.StartAtIncluded))
	} else {
		pq.InsertAll()
	}
	if dt.KeepsHistory {
		pq.SetSubqueryKey(terminalKey)
	}
	return pathquery.NewPathQuery(dt.PrimaryKeyPath(), pq, q.Limit, q.Offset), nil
}

// indexLevel is one index property compiled into a query layer.
type indexLevel struct {
	prop      contract.IndexProperty
	items     []pathquery.QueryItem
	ascending bool
	cursor    []byte
}

// indexCompiler builds the nested queries of an index path query, one layer
// per level, right to left.
type indexCompiler struct {
	levels       []indexLevel
	unique       bool
	included     bool
	withCursor   bool
	cursorID     []byte
	idsAscending bool
}

func (q *DocumentQuery) indexPathQuery(startDoc *contract.Document) (pathquery.PathQuery, error) {
	dt := q.DocumentType
	if dt.KeepsHistory && q.BlockTimeMs != nil {
		return pathquery.PathQuery{}, syntaxErr(ErrCodeUnsupported, "blockTime is only supported with an equality clause on $id")
	}
	idx, err := q.FindBestIndex()
	if err != nil {
		return pathquery.PathQuery{}, err
	}
	props := idx.Properties
	if len(props) == 0 {
		return pathquery.PathQuery{}, &CorruptedError{Message: fmt.Sprintf("index %q has no properties", idx.Name)}
	}

	nEq := len(q.Clauses.Equal)
	pathEq := nEq
	if q.Clauses.In == nil && q.Clauses.Range == nil && nEq > 0 {
		// the last equality becomes the first query layer
		pathEq = nEq - 1
	}

	c := &indexCompiler{
		unique:     idx.Unique,
		included:   q.StartAtIncluded,
		withCursor: startDoc != nil,
	}
	if startDoc != nil {
		c.cursorID = startDoc.ID.Bytes()
	}

	path := dt.DocumentTypePath()
	nullSeen := false
	for _, p := range props[:pathEq] {
		key, err := keyFor(dt, p.Name, q.Clauses.Equal[p.Name].Value)
		if err != nil {
			return pathquery.PathQuery{}, err
		}
		if len(key) == 0 {
			nullSeen = true
		}
		path = append(path, []byte(p.Name), key)

		if !c.withCursor {
			continue
		}
		cv, err := cursorValue(startDoc, dt, p.Name)
		if err != nil {
			return pathquery.PathQuery{}, err
		}
		cmp := bytes.Compare(cv, key)
		if cmp == 0 {
			continue
		}
		if (cmp < 0) == q.direction(p) {
			// the cursor sorts before every result
			c.withCursor = false
			continue
		}
		// the cursor sorts after every result
		return pathquery.NewPathQuery(append(path, []byte(props[pathEq].Name)), pathquery.New(), q.Limit, q.Offset), nil
	}
	path = append(path, []byte(props[pathEq].Name))

	for _, p := range props[pathEq:] {
		lv := indexLevel{prop: p, ascending: q.direction(p)}
		switch {
		case q.Clauses.In != nil && q.Clauses.In.Field == p.Name:
			if _, ok := q.OrderBy.Get(p.Name); !ok {
				return pathquery.PathQuery{}, syntaxErr(ErrCodeMissingOrderByForRange, "query must have an orderBy field for the in field %q", p.Name)
			}
			lv.items, err = q.Clauses.In.queryItems(dt)
		case q.Clauses.Range != nil && q.Clauses.Range.Field == p.Name:
			if _, ok := q.OrderBy.Get(p.Name); !ok {
				return pathquery.PathQuery{}, syntaxErr(ErrCodeMissingOrderByForRange, "query must have an orderBy field for the range field %q", p.Name)
			}
			lv.items, err = q.Clauses.Range.queryItems(dt)
		default:
			if eq, ok := q.Clauses.Equal[p.Name]; ok {
				lv.items, err = eq.queryItems(dt)
			} else {
				lv.items = []pathquery.QueryItem{pathquery.RangeFull()}
			}
		}
		if err != nil {
			return pathquery.PathQuery{}, err
		}
		if c.withCursor {
			if lv.cursor, err = cursorValue(startDoc, dt, p.Name); err != nil {
				return pathquery.PathQuery{}, err
			}
		}
		c.levels = append(c.levels, lv)
	}

	c.idsAscending = c.levels[len(c.levels)-1].ascending
	if oc, ok := q.OrderBy.Get(contract.FieldID); ok {
		c.idsAscending = oc.Ascending
	}
	return pathquery.NewPathQuery(path, c.build(0, c.withCursor, nullSeen), q.Limit, q.Offset), nil
}

// direction is the traversal direction of an index property: the order-by
// direction when the query names one, the declared direction otherwise.
func (q *DocumentQuery) direction(p contract.IndexProperty) bool {
	if oc, ok := q.OrderBy.Get(p.Name); ok {
		return oc.Ascending
	}
	return p.Ascending
}

// cursorValue returns the index key of field on the cursor document. A
// missing value is the empty (null) key.
func cursorValue(doc *contract.Document, dt *contract.DocumentType, field string) ([]byte, error) {
	raw, ok, err := doc.RawForField(field, dt)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []byte{}, nil
	}
	return raw, nil
}

// build returns the query for level i. withCursor means every level above
// matched the cursor document's key, so this level resumes from the
// cursor's value. nullSeen means a null key was taken above, which turns a
// unique index's terminal into an id tree.
func (c *indexCompiler) build(i int, withCursor, nullSeen bool) *pathquery.Query {
	lv := c.levels[i]
	q := pathquery.NewWithDirection(lv.ascending)
	last := i == len(c.levels)-1
	uniqueTerminal := withCursor && last && c.unique && !nullSeen && len(lv.cursor) > 0

	if withCursor {
		// CRITICAL: on a unique terminal the cursor key holds only the cursor
		// document, so inclusion is decided here instead of in the id layer.
		half := halfLine(lv.cursor, lv.ascending, !uniqueTerminal || c.included)
		for _, it := range lv.items {
			if cut, ok := it.Intersect(half); ok {
				q.InsertItem(cut)
			}
		}
	} else {
		for _, it := range lv.items {
			q.InsertItem(it)
		}
	}

	q.Default = c.branch(i, false, nullSeen)
	cursorOnNull := withCursor && len(lv.cursor) == 0
	if withCursor && !uniqueTerminal && q.Matches(lv.cursor) {
		br := c.branch(i, true, nullSeen || cursorOnNull)
		q.AddConditionalSubquery(pathquery.Key(lv.cursor), br.Path, br.Subquery)
	}
	if c.unique && !nullSeen && !cursorOnNull && q.Matches([]byte{}) {
		br := c.branch(i, false, true)
		q.AddConditionalSubquery(pathquery.Key([]byte{}), br.Path, br.Subquery)
	}
	return q
}

// branch is what runs beneath a key matched at level i.
func (c *indexCompiler) branch(i int, withCursor, nullSeen bool) pathquery.SubqueryBranch {
	if i < len(c.levels)-1 {
		return pathquery.SubqueryBranch{
			Path:     [][]byte{[]byte(c.levels[i+1].prop.Name)},
			Subquery: c.build(i+1, withCursor, nullSeen),
		}
	}
	if c.unique && !nullSeen {
		// fetch the reference stored at the terminal key
		return pathquery.SubqueryBranch{Path: [][]byte{terminalKey}}
	}
	return pathquery.SubqueryBranch{Path: [][]byte{terminalKey}, Subquery: c.idQuery(withCursor)}
}

// idQuery walks the terminal id tree of a non-unique entry.
func (c *indexCompiler) idQuery(withCursor bool) *pathquery.Query {
	q := pathquery.NewWithDirection(c.idsAscending)
	if withCursor {
		q.InsertItem(halfLine(c.cursorID, c.idsAscending, c.included))
	} else {
		q.InsertAll()
	}
	return q
}

// halfLine selects the keys at or beyond key in the traversal direction.
func halfLine(key []byte, ascending, inclusive bool) pathquery.QueryItem {
	switch {
	case ascending && inclusive:
		return pathquery.RangeFrom(key)
	case ascending:
		return pathquery.RangeAfter(key)
	case inclusive:
		return pathquery.RangeToInclusive(key)
	}
	return pathquery.RangeTo(key)
}

// prefixEnd returns the smallest key greater than every key starting with
// prefix. It reports false when no such key exists.
func prefixEnd(prefix []byte) ([]byte, bool) {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1], true
		}
	}
	return nil, false
}

// ToPathQuery compiles the clause alone into a single layer query over the
// serialized values of its field. It is library surface for callers that
// read a single index layer; the compiler itself builds layers through
// queryItems.
func (c WhereClause) ToPathQuery(dt *contract.DocumentType, leftToRight bool) (*pathquery.Query, error) {
	items, err := c.queryItems(dt)
	if err != nil {
		return nil, err
	}
	q := pathquery.NewWithDirection(leftToRight)
	for _, it := range items {
		q.InsertItem(it)
	}
	return q, nil
}

// queryItems maps the clause onto the key ranges it selects. Null
// serializes to the empty key, so upper-bounded ranges start after it.
func (c WhereClause) queryItems(dt *contract.DocumentType) ([]pathquery.QueryItem, error) {
	single := func() ([]byte, error) { return keyFor(dt, c.Field, c.Value) }
	bounds := func() ([]byte, []byte, error) {
		lo, hi, err := c.betweenBounds()
		if err != nil {
			return nil, nil, err
		}
		l, err := keyFor(dt, c.Field, lo)
		if err != nil {
			return nil, nil, err
		}
		h, err := keyFor(dt, c.Field, hi)
		if err != nil {
			return nil, nil, err
		}
		return l, h, nil
	}

	switch c.Operator {
	case In:
		vals, err := c.InValues(math.MaxInt)
		if err != nil {
			return nil, err
		}
		items := make([]pathquery.QueryItem, 0, len(vals))
		for _, v := range vals {
			k, err := keyFor(dt, c.Field, v)
			if err != nil {
				return nil, err
			}
			items = append(items, pathquery.Key(k))
		}
		return items, nil
	case Between, BetweenExcludeBounds, BetweenExcludeLeft, BetweenExcludeRight:
		lo, hi, err := bounds()
		if err != nil {
			return nil, err
		}
		switch c.Operator {
		case Between:
			return []pathquery.QueryItem{pathquery.RangeInclusive(lo, hi)}, nil
		case BetweenExcludeBounds:
			return []pathquery.QueryItem{pathquery.RangeAfterTo(lo, hi)}, nil
		case BetweenExcludeLeft:
			return []pathquery.QueryItem{pathquery.RangeAfterToInclusive(lo, hi)}, nil
		}
		return []pathquery.QueryItem{pathquery.Range(lo, hi)}, nil
	}

	k, err := single()
	if err != nil {
		return nil, err
	}
	switch c.Operator {
	case Equal:
		return []pathquery.QueryItem{pathquery.Key(k)}, nil
	case GreaterThan:
		return []pathquery.QueryItem{pathquery.RangeAfter(k)}, nil
	case GreaterThanOrEquals:
		return []pathquery.QueryItem{pathquery.RangeFrom(k)}, nil
	case LessThan:
		return []pathquery.QueryItem{pathquery.RangeAfterTo([]byte{}, k)}, nil
	case LessThanOrEquals:
		return []pathquery.QueryItem{pathquery.RangeAfterToInclusive([]byte{}, k)}, nil
	case StartsWith:
		if end, ok := prefixEnd(k); ok {
			return []pathquery.QueryItem{pathquery.Range(k, end)}, nil
		}
		return []pathquery.QueryItem{pathquery.RangeFrom(k)}, nil
	}
	return nil, syntaxErr(ErrCodeInvalidWhereClause, "operator %s cannot be compiled", c.Operator)
}
