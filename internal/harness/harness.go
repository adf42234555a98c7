package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/docgrove/internal/contract"
	"github.com/roach88/docgrove/internal/documents"
	"github.com/roach88/docgrove/internal/grove"
	"github.com/roach88/docgrove/internal/kv"
	"github.com/roach88/docgrove/internal/query"
	"github.com/roach88/docgrove/internal/testutil"
	"github.com/roach88/docgrove/internal/token"
	"github.com/roach88/docgrove/internal/value"
)

// Harness is the scenario execution engine. It owns a fresh grove and the
// alias tables that map scenario names to identities, documents and group
// actions.
type Harness struct {
	db        *grove.DB
	contract  *contract.DataContract
	processor *token.Processor
	executor  *query.Executor
	writer    *documents.Writer
	clock     *testutil.BlockClock
	cfg       query.Config
	logger    *slog.Logger

	identities map[string]value.Identifier
	docs       map[string]value.Identifier
	docAliases map[value.Identifier]string
	refs       map[string]groupRef
}

// groupRef locates a group action created by a scenario proposal.
type groupRef struct {
	id       value.Identifier
	position uint16
}

// Option configures a scenario run.
type Option func(*Harness)

// WithLogger sets the logger. Runs are silent by default.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// WithQueryConfig sets the query limits.
func WithQueryConfig(cfg query.Config) Option {
	return func(h *Harness) {
		h.cfg = cfg
	}
}

// Block times start at 1000ms and advance 1000ms per document or batch.
const (
	clockStart = 1_000
	clockStep  = 1_000
)

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory grove. Expectation mismatches and
// failed assertions are recorded in the result; an error means the scenario
// could not be executed at all.
func Run(ctx context.Context, s *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		clock:      testutil.NewBlockClock(clockStart, clockStep),
		cfg:        query.DefaultConfig(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		identities: make(map[string]value.Identifier),
		docs:       make(map[string]value.Identifier),
		docAliases: make(map[value.Identifier]string),
		refs:       make(map[string]groupRef),
	}
	for _, opt := range opts {
		opt(h)
	}

	src, err := os.ReadFile(s.Contract)
	if err != nil {
		return nil, fmt.Errorf("failed to read contract: %w", err)
	}
	contracts, err := contract.LoadCUEString(string(src))
	if err != nil {
		return nil, fmt.Errorf("failed to load contract: %w", err)
	}
	if len(contracts) != 1 {
		return nil, fmt.Errorf("contract file must declare exactly one contract, found %d", len(contracts))
	}
	h.contract = contracts[0]

	h.db = grove.Open(kv.NewMemory(), grove.WithLogger(h.logger))
	defer h.db.Close()
	h.processor = token.NewProcessor(h.db, token.WithLogger(h.logger))
	h.executor = query.NewExecutor(query.WithLogger(h.logger))
	h.writer = documents.NewWriter(documents.WithLogger(h.logger))

	if err := h.setup(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to set up scenario: %w", err)
	}

	result := NewResult(s.Name)
	h.logger.Info("running scenario",
		"scenario", s.Name,
		"run_id", result.RunID.String(),
		"steps", len(s.Steps))

	for _, step := range s.Steps {
		var err error
		if step.Query != nil {
			err = h.runQuery(ctx, step.Name, step.Query, result)
		} else {
			err = h.runToken(ctx, step.Name, step.Token, result)
		}
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", step.Name, err)
		}
	}

	if err := h.evaluateAssertions(ctx, s.Assertions, result); err != nil {
		return nil, fmt.Errorf("failed to evaluate assertions: %w", err)
	}

	err = h.db.View(ctx, func(tx *grove.Tx) error {
		root, rerr := tx.RootHash()
		result.RootHash = root
		return rerr
	})
	if err != nil {
		return nil, err
	}

	h.logger.Info("scenario finished",
		"scenario", s.Name,
		"run_id", result.RunID.String(),
		"pass", result.Pass,
		"errors", len(result.Errors))
	return result, nil
}

// RunAll loads and runs the scenario files with at most workers running at
// once. Results are returned in path order.
func RunAll(ctx context.Context, paths []string, workers int, opts ...Option) ([]*Result, error) {
	results := make([]*Result, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, path := range paths {
		g.Go(func() error {
			s, err := LoadScenario(path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			r, err := Run(ctx, s, opts...)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// setup registers the contract and identities and inserts the seed
// documents.
func (h *Harness) setup(ctx context.Context, s *Scenario) error {
	aliases := make([]string, 0, len(s.Identities))
	for alias := range s.Identities {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	ids := []value.Identifier{h.contract.OwnerID}
	for _, alias := range aliases {
		id, err := value.ParseIdentifier(s.Identities[alias])
		if err != nil {
			return fmt.Errorf("identity %q: %w", alias, err)
		}
		h.identities[alias] = id
		ids = append(ids, id)
	}
	if err := h.processor.RegisterIdentities(ctx, ids...); err != nil {
		return err
	}
	if err := h.processor.RegisterContract(ctx, h.contract); err != nil {
		return err
	}

	gen := testutil.NewIDGenerator(s.Name)
	return h.db.Update(ctx, func(tx *grove.Tx) error {
		for i, spec := range s.Documents {
			dt, ok := h.contract.DocumentType(spec.Type)
			if !ok {
				return fmt.Errorf("documents[%d]: unknown document type %q", i, spec.Type)
			}
			resolved, err := h.resolve(spec.Properties)
			if err != nil {
				return fmt.Errorf("documents[%d]: %w", i, err)
			}
			props, err := value.FromGo(resolved)
			if err != nil {
				return fmt.Errorf("documents[%d]: %w", i, err)
			}
			m, _ := props.(value.Map)
			at := h.clock.Next()
			doc := &contract.Document{
				ID:         gen.Generate(),
				OwnerID:    h.identities[spec.Owner],
				Revision:   1,
				CreatedAt:  at,
				UpdatedAt:  at,
				Properties: m,
			}
			if err := h.writer.Insert(tx, dt, doc); err != nil {
				return fmt.Errorf("documents[%d] %s: %w", i, spec.ID, err)
			}
			h.docs[spec.ID] = doc.ID
			h.docAliases[doc.ID] = spec.ID
		}
		return nil
	})
}

// resolve replaces "@alias" strings with the identity or document they
// name, recursing into maps and slices.
func (h *Harness) resolve(v any) (any, error) {
	switch val := v.(type) {
	case string:
		alias, ok := strings.CutPrefix(val, "@")
		if !ok {
			return val, nil
		}
		if id, ok := h.identities[alias]; ok {
			return id, nil
		}
		if id, ok := h.docs[alias]; ok {
			return id, nil
		}
		return nil, fmt.Errorf("unknown alias %q", val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			r, err := h.resolve(elem)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			r, err := h.resolve(elem)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}
	return v, nil
}

// resolveValue resolves aliases and converts the result to a value.
func (h *Harness) resolveValue(v any) (value.Value, error) {
	r, err := h.resolve(v)
	if err != nil {
		return nil, err
	}
	return value.FromGo(r)
}

// runQuery compiles and runs one query step and checks its expectation.
func (h *Harness) runQuery(ctx context.Context, name string, qs *QueryStep, r *Result) error {
	ev := TraceEvent{Step: name, Kind: KindQuery, Status: "ok"}

	var ids []value.Identifier
	q, err := h.compileQuery(qs)
	if err == nil {
		err = h.db.View(ctx, func(tx *grove.Tx) error {
			var qerr error
			if qs.Prove {
				ids, qerr = h.provedIDs(ctx, tx, q)
				ev.Proved = qerr == nil
			} else {
				ids, qerr = h.executedIDs(ctx, tx, q)
			}
			return qerr
		})
	}

	if err != nil {
		ev.Status = "error"
		if code, ok := query.CodeOf(err); ok {
			ev.Code = string(code)
		}
		r.AddTrace(ev)
		switch {
		case qs.ExpectError == "":
			r.AddErrorf("step %q: unexpected query error: %v", name, err)
		case qs.ExpectError != ev.Code:
			r.AddErrorf("step %q: expected error %s, got %v", name, qs.ExpectError, err)
		}
		return nil
	}

	for _, id := range ids {
		alias, ok := h.docAliases[id]
		if !ok {
			alias = id.String()
		}
		ev.IDs = append(ev.IDs, alias)
	}
	r.AddTrace(ev)

	if qs.ExpectError != "" {
		r.AddErrorf("step %q: expected error %s, query succeeded", name, qs.ExpectError)
		return nil
	}
	if qs.ExpectIDs != nil && !slices.Equal(ev.IDs, qs.ExpectIDs) {
		r.AddErrorf("step %q: expected documents %v, got %v", name, qs.ExpectIDs, ev.IDs)
	}
	return nil
}

// compileQuery builds the query of a step from SQL or from its map form.
func (h *Harness) compileQuery(qs *QueryStep) (*query.DocumentQuery, error) {
	if qs.SQL != "" {
		return query.FromSQL(qs.SQL, h.contract, h.cfg)
	}

	m := value.Map{"document_type_name": value.String(qs.Type)}
	if qs.Where != nil {
		v, err := h.resolveValue(qs.Where)
		if err != nil {
			return nil, err
		}
		m["where"] = v
	}
	if qs.OrderBy != nil {
		v, err := h.resolveValue(qs.OrderBy)
		if err != nil {
			return nil, err
		}
		m["orderBy"] = v
	}
	if qs.Limit != nil {
		m["limit"] = value.Int(*qs.Limit)
	}
	if qs.Offset != nil {
		m["offset"] = value.Int(*qs.Offset)
	}
	if qs.StartAt != "" {
		m["startAt"] = h.docs[qs.StartAt]
	}
	if qs.StartAfter != "" {
		m["startAfter"] = h.docs[qs.StartAfter]
	}
	return query.FromValue(m, h.contract, nil, h.cfg)
}

func (h *Harness) executedIDs(ctx context.Context, tx *grove.Tx, q *query.DocumentQuery) ([]value.Identifier, error) {
	out, err := h.executor.Execute(ctx, tx, q)
	if err != nil {
		return nil, err
	}
	docs, err := out.Documents(q.DocumentType)
	if err != nil {
		return nil, err
	}
	return documentIDs(docs), nil
}

// provedIDs proves q, verifies the proof against the transaction's root hash
// and returns the proven documents.
func (h *Harness) provedIDs(ctx context.Context, tx *grove.Tx, q *query.DocumentQuery) ([]value.Identifier, error) {
	proof, _, err := h.executor.ExecuteWithProof(ctx, tx, q)
	if err != nil {
		return nil, err
	}
	_, startDoc, err := q.ConstructPathQueryWithStore(ctx, tx)
	if err != nil {
		return nil, err
	}
	root, items, err := query.VerifyProof(proof, q, startDoc)
	if err != nil {
		return nil, fmt.Errorf("verify proof: %w", err)
	}
	want, err := tx.RootHash()
	if err != nil {
		return nil, err
	}
	if root != want {
		return nil, fmt.Errorf("proof commits to root %x, grove root is %x", root, want)
	}
	out := &query.Outcome{Items: items}
	docs, err := out.Documents(q.DocumentType)
	if err != nil {
		return nil, err
	}
	return documentIDs(docs), nil
}

func documentIDs(docs []*contract.Document) []value.Identifier {
	ids := make([]value.Identifier, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids
}

// runToken submits one token step as a single-transition batch and checks
// its outcome against the step's expectation.
func (h *Harness) runToken(ctx context.Context, name string, ts *TokenStep, r *Result) error {
	m, err := h.transitionMap(ts)
	if err != nil {
		return err
	}
	t, err := token.ParseTransition(m)
	if err != nil {
		return err
	}

	blockTime := ts.BlockTime
	if blockTime == 0 {
		blockTime = h.clock.Next()
	} else {
		h.clock.Set(blockTime)
	}
	o := h.processor.Apply(ctx, token.Batch{BlockTimeMs: blockTime, Transitions: []token.Transition{t}})[0]

	ev := TraceEvent{
		Step:   name,
		Kind:   KindToken,
		Status: string(o.Status),
		Action: o.Kind.String(),
	}
	if ce, ok := o.Denial(); ok {
		ev.Code = string(ce.Code)
	}
	r.AddTrace(ev)

	if ts.Ref != "" && o.Group != nil {
		h.refs[ts.Ref] = groupRef{id: o.Group.ID, position: o.Group.GroupPosition}
	}

	status, code, _ := parseExpect(ts.Expect)
	if ev.Status != status || (code != "" && ev.Code != code) {
		got := ev.Status
		if ev.Code != "" {
			got += ":" + ev.Code
		}
		if o.Err != nil && ev.Code == "" {
			got += " (" + o.Err.Error() + ")"
		}
		r.AddErrorf("step %q: expected %s, got %s", name, ts.Expect, got)
	}
	return nil
}

// transitionMap renders a token step in the transition map form.
func (h *Harness) transitionMap(ts *TokenStep) (value.Map, error) {
	action, err := h.resolveValue(ts.Action)
	if err != nil {
		return nil, fmt.Errorf("action: %w", err)
	}
	m := value.Map{
		"owner":         h.identities[ts.Owner],
		"nonce":         value.Int(ts.Nonce),
		"contractId":    h.contract.ID,
		"tokenPosition": value.Int(ts.TokenPosition),
		"action":        action,
	}
	if g := ts.Group; g != nil {
		gm := value.Map{
			"position": value.Int(g.Position),
			"proposer": value.Bool(g.Proposer),
		}
		if !g.Proposer {
			ref, ok := h.refs[g.Action]
			if !ok {
				return nil, fmt.Errorf("group action %q was never created", g.Action)
			}
			gm["actionId"] = ref.id
		}
		m["group"] = gm
	}
	return m, nil
}
