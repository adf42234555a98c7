// Package query compiles declarative document queries into grove path
// queries and executes them, with or without a proof.
//
// A query is first decoded (FromValue, FromCBOR, FromSQL) into a
// DocumentQuery whose clauses are partitioned into InternalClauses. Queries
// on the primary key compile to a single layer under the document type's
// primary key tree. Every other query selects the closest declared index
// and compiles to one nested subquery level per index property, with
// conditional branches carrying the start-at cursor down the index.
package query

import (
	"slices"

	"github.com/roach88/docgrove/internal/contract"
	"github.com/roach88/docgrove/internal/value"
)

// terminalKey is the key of the latest revision beneath a history-keeping
// document and of the terminal entry of every index chain.
var terminalKey = []byte{0}

// Config carries the compilation limits.
type Config struct {
	// DefaultLimit applies when a query names no limit.
	DefaultLimit uint16
	// MaxLimit is the largest limit a query may name.
	MaxLimit uint16
	// MaxIndexDifference is the number of unused trailing index properties
	// tolerated when matching an index.
	MaxIndexDifference int
	// MaxInValues bounds the values of an in clause.
	MaxInValues int
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		DefaultLimit:       100,
		MaxLimit:           100,
		MaxIndexDifference: 3,
		MaxInValues:        100,
	}
}

func (c Config) orDefault() Config {
	d := DefaultConfig()
	if c.DefaultLimit == 0 {
		c.DefaultLimit = d.DefaultLimit
	}
	if c.MaxLimit == 0 {
		c.MaxLimit = d.MaxLimit
	}
	if c.MaxIndexDifference == 0 {
		c.MaxIndexDifference = d.MaxIndexDifference
	}
	if c.MaxInValues == 0 {
		c.MaxInValues = d.MaxInValues
	}
	return c
}

// DocumentQuery is a decoded query bound to a contract and document type.
// It is built once per request and only read afterwards.
type DocumentQuery struct {
	Contract     *contract.DataContract
	DocumentType *contract.DocumentType
	Clauses      InternalClauses
	Offset       *uint16
	Limit        *uint16
	OrderBy      OrderBy
	// StartAt is the cursor document id; StartAtIncluded distinguishes
	// startAt from startAfter.
	StartAt         *value.Identifier
	StartAtIncluded bool
	// BlockTimeMs selects the latest revision at or before the given time
	// for history-keeping document types.
	BlockTimeMs *uint64

	cfg Config
}

// New returns a query selecting every document of dt in id order, limited
// to the configured default.
func New(c *contract.DataContract, dt *contract.DocumentType, cfg Config) *DocumentQuery {
	cfg = cfg.orDefault()
	limit := cfg.DefaultLimit
	return &DocumentQuery{
		Contract:     c,
		DocumentType: dt,
		Limit:        &limit,
		cfg:          cfg,
	}
}

// Config returns the limits the query was built with.
func (q *DocumentQuery) Config() Config { return q.cfg.orDefault() }

// IsForPrimaryKey reports whether the query compiles against the primary
// key tree rather than an index: it has a primary key clause, or no clause
// and no ordering other than by $id.
func (q *DocumentQuery) IsForPrimaryKey() bool {
	return q.Clauses.IsForPrimaryKey() || (q.Clauses.IsEmpty() && q.OrderBy.OnlyPrimaryKey())
}

// indexQuery describes the field usage FindBestIndex matches against.
func (q *DocumentQuery) indexQuery() contract.IndexQuery {
	iq := contract.IndexQuery{}
	for f := range q.Clauses.Equal {
		iq.Equal = append(iq.Equal, f)
	}
	slices.Sort(iq.Equal)
	if q.Clauses.In != nil {
		iq.In = q.Clauses.In.Field
	}
	if q.Clauses.Range != nil {
		iq.Range = q.Clauses.Range.Field
	}
	fields := q.OrderBy.Fields()
	// A trailing $id orders documents within the terminal id layer and is
	// never an index property.
	if n := len(fields); n > 0 && fields[n-1] == contract.FieldID {
		fields = fields[:n-1]
	}
	iq.OrderBy = fields
	return iq
}

// FindBestIndex picks the declared index closest to the query's clauses and
// ordering.
func (q *DocumentQuery) FindBestIndex() (*contract.Index, error) {
	dt := q.DocumentType
	if len(dt.Indexes) == 0 {
		return nil, syntaxErr(ErrCodeQueryOnTypeWithNoIndexes, "document type %q has no indexes", dt.Name)
	}
	idx, diff, ok := dt.IndexForTypes(q.indexQuery())
	if !ok {
		return nil, syntaxErr(ErrCodeWhereClauseOnNonIndexed, "query must be for valid indexes")
	}
	if diff > q.Config().MaxIndexDifference {
		return nil, syntaxErr(ErrCodeQueryTooFarFromIndex, "query must better match an existing index (difference %d)", diff)
	}
	return idx, nil
}

// StartAtPathAndKey returns where the cursor document is stored, for the
// single-key query that proves it.
func (q *DocumentQuery) StartAtPathAndKey() ([][]byte, []byte, bool) {
	if q.StartAt == nil {
		return nil, nil, false
	}
	dt := q.DocumentType
	if dt.KeepsHistory {
		return append(dt.PrimaryKeyPath(), q.StartAt.Bytes()), terminalKey, true
	}
	return dt.PrimaryKeyPath(), q.StartAt.Bytes(), true
}

// keyFor serializes a clause value into its tree key.
func keyFor(dt *contract.DocumentType, field string, v value.Value) ([]byte, error) {
	key, err := dt.SerializeValueForKey(field, v)
	if err != nil {
		return nil, syntaxErr(ErrCodeInvalidKeyValue, "%v", err)
	}
	return key, nil
}
