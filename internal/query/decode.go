package query

import (
	"math"

	"github.com/roach88/docgrove/internal/contract"
	"github.com/roach88/docgrove/internal/value"
)

// Query map keys.
const (
	keyContractID   = "contract_id"
	keyDocumentType = "document_type_name"
	keyWhere        = "where"
	keyOrderBy      = "orderBy"
	keyLimit        = "limit"
	keyOffset       = "offset"
	keyStartAt      = "startAt"
	keyStartAfter   = "startAfter"
	keyBlockTime    = "blockTime"
)

// FromCBOR decodes a CBOR query map. The document type comes from the map's
// document_type_name.
func FromCBOR(data []byte, c *contract.DataContract, cfg Config) (*DocumentQuery, error) {
	v, err := value.DecodeCBOR(data)
	if err != nil {
		return nil, syntaxErr(ErrCodeUnsupported, "query is not valid cbor: %v", err)
	}
	m, ok := v.(value.Map)
	if !ok {
		return nil, syntaxErr(ErrCodeUnsupported, "query must be a map, got %s", value.Kind(v))
	}
	return FromValue(m, c, nil, cfg)
}

// FromValue decodes a query map against c. When dt is nil the map must name
// the document type; when both are given they must agree.
func FromValue(m value.Map, c *contract.DataContract, dt *contract.DocumentType, cfg Config) (*DocumentQuery, error) {
	rest := make(value.Map, len(m))
	for k, v := range m {
		rest[k] = v
	}
	take := func(key string) (value.Value, bool) {
		v, ok := rest[key]
		delete(rest, key)
		return v, ok && !value.IsNull(v)
	}

	if v, ok := take(keyContractID); ok {
		id, err := value.IdentifierFromValue(v)
		if err != nil || id != c.ID {
			return nil, syntaxErr(ErrCodeInvalidContractID, "query is for a different contract")
		}
	}
	if v, ok := take(keyDocumentType); ok {
		name, isStr := v.(value.String)
		if !isStr {
			return nil, syntaxErr(ErrCodeInvalidDocumentType, "document type name must be text")
		}
		switch {
		case dt == nil:
			found, exists := c.DocumentType(string(name))
			if !exists {
				return nil, syntaxErr(ErrCodeDocumentTypeNotFound, "document type %q not found", name)
			}
			dt = found
		case dt.Name != string(name):
			return nil, syntaxErr(ErrCodeInvalidDocumentType, "query is for document type %q, not %q", name, dt.Name)
		}
	}
	if dt == nil {
		return nil, syntaxErr(ErrCodeInvalidDocumentType, "query does not name a document type")
	}

	cfg = cfg.orDefault()
	q := New(c, dt, cfg)

	if v, ok := take(keyLimit); ok {
		limit, err := decodeLimit(v, cfg)
		if err != nil {
			return nil, err
		}
		q.Limit = &limit
	}
	if v, ok := take(keyOffset); ok {
		n, isInt := v.(value.Int)
		if !isInt || n < 0 || n > math.MaxUint16 {
			return nil, syntaxErr(ErrCodeInvalidOffset, "offset must be an integer from 0 to %d", math.MaxUint16)
		}
		offset := uint16(n)
		q.Offset = &offset
	}
	if v, ok := take(keyBlockTime); ok {
		n, isInt := v.(value.Int)
		if !isInt || n < 0 {
			return nil, syntaxErr(ErrCodeInvalidBlockTime, "blockTime must be a non-negative integer")
		}
		ms := uint64(n)
		q.BlockTimeMs = &ms
	}

	where, _ := take(keyWhere)
	orderBy, _ := take(keyOrderBy)
	startAt, hasStartAt := take(keyStartAt)
	startAfter, hasStartAfter := take(keyStartAfter)
	if hasStartAt && hasStartAfter {
		return nil, syntaxErr(ErrCodeDuplicateStartConditions, "only one of startAt or startAfter should be provided")
	}
	if len(rest) > 0 {
		return nil, syntaxErr(ErrCodeUnsupported, "unsupported query keys: %v", rest.SortedKeys())
	}

	if err := q.applyWhere(where); err != nil {
		return nil, err
	}
	if err := q.applyOrderBy(orderBy); err != nil {
		return nil, err
	}
	switch {
	case hasStartAt:
		if err := q.applyStart(startAt, true); err != nil {
			return nil, err
		}
	case hasStartAfter:
		if err := q.applyStart(startAfter, false); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// FromDecomposedValues builds a query from already separated parts, as the
// query command does from its flags. It has no offset; callers set Offset
// afterwards.
func FromDecomposedValues(where, orderBy value.Value, limit *uint16, startAt *value.Identifier, startAtIncluded bool, blockTimeMs *uint64, c *contract.DataContract, dt *contract.DocumentType, cfg Config) (*DocumentQuery, error) {
	cfg = cfg.orDefault()
	q := New(c, dt, cfg)
	if limit != nil {
		l, err := decodeLimit(value.Int(*limit), cfg)
		if err != nil {
			return nil, err
		}
		q.Limit = &l
	}
	if err := q.applyWhere(where); err != nil {
		return nil, err
	}
	if err := q.applyOrderBy(orderBy); err != nil {
		return nil, err
	}
	if startAt != nil {
		id := *startAt
		q.StartAt = &id
		q.StartAtIncluded = startAtIncluded
	}
	q.BlockTimeMs = blockTimeMs
	return q, nil
}

func decodeLimit(v value.Value, cfg Config) (uint16, error) {
	n, ok := v.(value.Int)
	if !ok || n <= 0 || n > value.Int(cfg.MaxLimit) {
		return 0, syntaxErr(ErrCodeInvalidLimit, "limit should be a integer from 1 to %d", cfg.MaxLimit)
	}
	return uint16(n), nil
}

func (q *DocumentQuery) applyWhere(v value.Value) error {
	if v == nil || value.IsNull(v) {
		return nil
	}
	arr, ok := v.(value.Array)
	if !ok {
		return syntaxErr(ErrCodeInvalidFormatWhereClause, "where clause must be an array")
	}
	clauses := make([]WhereClause, 0, len(arr))
	for _, raw := range arr {
		parts, ok := raw.(value.Array)
		if !ok {
			return syntaxErr(ErrCodeInvalidFormatWhereClause, "where clause must be an array")
		}
		wc, err := WhereClauseFromComponents(parts)
		if err != nil {
			return err
		}
		clauses = append(clauses, wc)
	}
	return q.setClauses(clauses)
}

// setClauses normalizes clauses against the document type and partitions
// them.
func (q *DocumentQuery) setClauses(clauses []WhereClause) error {
	normalized := make([]WhereClause, len(clauses))
	for i, wc := range clauses {
		nc, err := wc.normalize(q.DocumentType)
		if err != nil {
			return err
		}
		normalized[i] = nc
	}
	ic, err := ExtractFromClauses(normalized, q.Config().MaxInValues)
	if err != nil {
		return err
	}
	q.Clauses = ic
	return nil
}

func (q *DocumentQuery) applyOrderBy(v value.Value) error {
	if v == nil || value.IsNull(v) {
		return nil
	}
	arr, ok := v.(value.Array)
	if !ok {
		return syntaxErr(ErrCodeInvalidOrderByProperties, "order clauses must be an array")
	}
	var ob OrderBy
	for _, raw := range arr {
		parts, ok := raw.(value.Array)
		if !ok {
			return syntaxErr(ErrCodeInvalidOrderByProperties, "order clause must be an array")
		}
		oc, err := OrderClauseFromComponents(parts)
		if err != nil {
			return err
		}
		if _, known := q.DocumentType.FieldType(oc.Field); !known {
			return syntaxErr(ErrCodeInvalidOrderByProperties, "field %q is not defined on document type %q", oc.Field, q.DocumentType.Name)
		}
		ob.Set(oc)
	}
	q.OrderBy = ob
	return nil
}

func (q *DocumentQuery) applyStart(v value.Value, included bool) error {
	id, err := value.IdentifierFromValue(v)
	if err != nil {
		return syntaxErr(ErrCodeInvalidStartCondition, "start condition must be a 32 byte identifier: %v", err)
	}
	q.StartAt = &id
	q.StartAtIncluded = included
	return nil
}

// ToValue renders q as a query map that FromValue decodes back to an
// equivalent query.
func (q *DocumentQuery) ToValue() value.Map {
	m := value.Map{
		keyContractID:   q.Contract.ID,
		keyDocumentType: value.String(q.DocumentType.Name),
	}
	if clauses := q.Clauses.Clauses(); len(clauses) > 0 {
		where := make(value.Array, len(clauses))
		for i, c := range clauses {
			where[i] = c.Components()
		}
		m[keyWhere] = where
	}
	if q.OrderBy.Len() > 0 {
		order := make(value.Array, 0, q.OrderBy.Len())
		for _, oc := range q.OrderBy.Clauses() {
			order = append(order, oc.Components())
		}
		m[keyOrderBy] = order
	}
	if q.Limit != nil {
		m[keyLimit] = value.Int(*q.Limit)
	}
	if q.Offset != nil {
		m[keyOffset] = value.Int(*q.Offset)
	}
	if q.StartAt != nil {
		if q.StartAtIncluded {
			m[keyStartAt] = *q.StartAt
		} else {
			m[keyStartAfter] = *q.StartAt
		}
	}
	if q.BlockTimeMs != nil {
		m[keyBlockTime] = value.Int(*q.BlockTimeMs)
	}
	return m
}

// ToCBOR serializes q as a CBOR query map.
func (q *DocumentQuery) ToCBOR() ([]byte, error) {
	return value.EncodeCBOR(q.ToValue())
}
