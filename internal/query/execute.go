package query

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/docgrove/internal/contract"
	"github.com/roach88/docgrove/internal/grove"
	"github.com/roach88/docgrove/internal/metrics"
	"github.com/roach88/docgrove/internal/pathquery"
)

// Outcome is the result of an executed query.
type Outcome struct {
	// Items holds the serialized documents in result order.
	Items [][]byte
	// Skipped counts documents passed over by the offset.
	Skipped uint16
	// Cost is the store work the query performed.
	Cost grove.Cost
}

// Documents decodes the result items as documents of dt.
func (o *Outcome) Documents(dt *contract.DocumentType) ([]*contract.Document, error) {
	out := make([]*contract.Document, 0, len(o.Items))
	for _, data := range o.Items {
		doc, err := contract.UnmarshalDocument(data, dt)
		if err != nil {
			return nil, &CorruptedError{Message: fmt.Sprintf("query result is not a %s document: %v", dt.Name, err)}
		}
		out = append(out, doc)
	}
	return out, nil
}

// Executor runs document queries against a grove transaction.
type Executor struct {
	logger *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// NewExecutor creates an Executor.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute compiles and runs q. A query over a subtree that was never
// populated returns an empty result rather than an error.
func (e *Executor) Execute(ctx context.Context, tx *grove.Tx, q *DocumentQuery) (out *Outcome, err error) {
	ctx, span := metrics.StartSpan(ctx, "query.execute",
		attribute.String("document_type", q.DocumentType.Name),
		attribute.Bool("proved", false))
	defer func() { metrics.EndSpan(span, err) }()

	before := tx.Cost()
	pq, _, err := q.ConstructPathQueryWithStore(ctx, tx)
	if err != nil {
		return nil, err
	}
	out = &Outcome{}
	res, err := tx.Query(pq)
	switch {
	case grove.IsAbsence(err):
		e.logger.Debug("query path absent, returning empty result",
			"document_type", q.DocumentType.Name,
			"path_depth", len(pq.Path))
	case err != nil:
		return nil, err
	default:
		out.Items = res.Values()
		out.Skipped = res.Skipped
	}
	out.Cost = tx.Cost().Sub(before)

	metrics.RecordQueryExecuted(false, len(out.Items))
	e.logger.Debug("query executed",
		"document_type", q.DocumentType.Name,
		"results", len(out.Items),
		"skipped", out.Skipped,
		"seeks", out.Cost.Seeks)
	return out, nil
}

// ExecuteWithProof compiles q and proves it. When q has a cursor the proof
// also covers the cursor document, so a verifier can check the position the
// results resume from.
func (e *Executor) ExecuteWithProof(ctx context.Context, tx *grove.Tx, q *DocumentQuery) (proof []byte, cost grove.Cost, err error) {
	ctx, span := metrics.StartSpan(ctx, "query.prove",
		attribute.String("document_type", q.DocumentType.Name),
		attribute.Bool("proved", true))
	defer func() { metrics.EndSpan(span, err) }()

	before := tx.Cost()
	pq, _, err := q.ConstructPathQueryWithStore(ctx, tx)
	if err != nil {
		return nil, grove.Cost{}, err
	}
	plan, err := planProof(q, pq)
	if err != nil {
		return nil, grove.Cost{}, err
	}
	proof, err = tx.Prove(plan.queries...)
	if err != nil {
		return nil, grove.Cost{}, err
	}
	cost = tx.Cost().Sub(before)

	metrics.RecordQueryExecuted(true, 0)
	metrics.RecordProofSize(len(proof))
	e.logger.Debug("query proved",
		"document_type", q.DocumentType.Name,
		"proof_bytes", len(proof),
		"with_cursor", plan.cursorKey != nil,
		"merged", plan.merged)
	return proof, cost, nil
}

// proofPlan is the set of path queries a proof of a document query covers.
type proofPlan struct {
	queries []pathquery.PathQuery
	// merged is set when the cursor query was folded into queries[0].
	merged bool
	// limit is the document query's own limit, restored after verification
	// of a merged query.
	limit *uint16

	cursorPath [][]byte
	cursorKey  []byte
	// cursorInResults is set when the cursor document is also one of the
	// main query's own results.
	cursorInResults bool
}

// planProof merges the cursor's single-key query into pq with the limit
// bumped by one. The cursor always sorts first in the merged traversal, so
// the extra slot is the one it takes. Queries Merge cannot combine (an offset,
// or a primary-key lookup on a history-keeping type) are proved as a second
// traversal instead.
func planProof(q *DocumentQuery, pq pathquery.PathQuery) (proofPlan, error) {
	plan := proofPlan{queries: []pathquery.PathQuery{pq}, limit: pq.Query.Limit}
	path, key, ok := q.StartAtPathAndKey()
	if !ok {
		return plan, nil
	}
	plan.cursorPath, plan.cursorKey = path, key
	plan.cursorInResults = samePath(pq.Path, path) && pq.Query.Query != nil && pq.Query.Query.Matches(key)

	cursor := pathquery.NewSingleKey(path, key)
	merged, err := pathquery.Merge(pq, cursor)
	switch {
	case errors.Is(err, pathquery.ErrMergeUnsupported):
		plan.queries = append(plan.queries, cursor)
		return plan, nil
	case err != nil:
		return proofPlan{}, err
	}
	merged.Query.Limit = nil
	if pq.Query.Limit != nil && *pq.Query.Limit < math.MaxUint16 {
		merged.Query.Limit = pathquery.Uint16(*pq.Query.Limit + 1)
	}
	plan.queries = []pathquery.PathQuery{merged}
	plan.merged = true
	return plan, nil
}

// VerifyProof checks a proof produced by ExecuteWithProof. startDoc is the
// cursor document the verifier expects, or nil when q has no cursor. It
// returns the root hash the proof commits to and the proven documents; the
// caller compares the root hash with a trusted one.
func VerifyProof(proof []byte, q *DocumentQuery, startDoc *contract.Document) ([32]byte, [][]byte, error) {
	pq, err := q.ConstructPathQuery(startDoc)
	if err != nil {
		return [32]byte{}, nil, err
	}
	plan, err := planProof(q, pq)
	if err != nil {
		return [32]byte{}, nil, err
	}
	root, res, err := grove.VerifyPathQuery(proof, plan.queries[0])
	if err != nil {
		return [32]byte{}, nil, err
	}
	if startDoc == nil {
		return root, res.Values(), nil
	}

	if !plan.merged {
		cursorRoot, cursorRes, err := grove.VerifyPathQuery(proof, plan.queries[1])
		if err != nil {
			return [32]byte{}, nil, err
		}
		if cursorRoot != root {
			return [32]byte{}, nil, fmt.Errorf("%w: cursor proven against a different root", grove.ErrInvalidProof)
		}
		if len(cursorRes.Items) != 1 {
			return [32]byte{}, nil, fmt.Errorf("%w: cursor document %s is not proven", grove.ErrInvalidProof, startDoc.ID)
		}
		if err := checkCursor(cursorRes.Items[0].Value, q, startDoc); err != nil {
			return [32]byte{}, nil, err
		}
		return root, res.Values(), nil
	}

	items, cursor, ok := plan.split(res.Items)
	if !ok {
		return [32]byte{}, nil, fmt.Errorf("%w: cursor document %s is not proven", grove.ErrInvalidProof, startDoc.ID)
	}
	if err := checkCursor(cursor, q, startDoc); err != nil {
		return [32]byte{}, nil, err
	}
	return root, items, nil
}

// split separates the cursor document from a merged result and cuts the rest
// back to the document query's limit.
func (p proofPlan) split(items []grove.ResultItem) ([][]byte, []byte, bool) {
	var (
		out    [][]byte
		cursor []byte
		found  bool
	)
	for _, it := range items {
		if !found && samePath(it.Path, p.cursorPath) && bytes.Equal(it.Key, p.cursorKey) {
			cursor, found = it.Value, true
			if !p.cursorInResults {
				continue
			}
		}
		out = append(out, it.Value)
	}
	if p.limit != nil && len(out) > int(*p.limit) {
		out = out[:*p.limit]
	}
	return out, cursor, found
}

func samePath(a, b [][]byte) bool {
	return slices.EqualFunc(a, b, bytes.Equal)
}

func checkCursor(data []byte, q *DocumentQuery, startDoc *contract.Document) error {
	proven, err := contract.UnmarshalDocument(data, q.DocumentType)
	if err != nil {
		return fmt.Errorf("%w: cursor document: %v", grove.ErrInvalidProof, err)
	}
	want, err := contract.MarshalDocument(startDoc)
	if err != nil {
		return err
	}
	got, err := contract.MarshalDocument(proven)
	if err != nil {
		return err
	}
	if !bytes.Equal(want, got) {
		return fmt.Errorf("%w: cursor document %s differs from the proven one", grove.ErrInvalidProof, startDoc.ID)
	}
	return nil
}
