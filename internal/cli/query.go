package cli

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/docgrove/internal/contract"
	"github.com/roach88/docgrove/internal/grove"
	"github.com/roach88/docgrove/internal/query"
	"github.com/roach88/docgrove/internal/token"
	"github.com/roach88/docgrove/internal/value"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Contract   string
	Type       string
	Where      string
	OrderBy    string
	Limit      int
	Offset     int
	StartAt    string
	StartAfter string
	SQL        string
	CBORPath   string
	Prove      bool
}

// QueryResult is the output of the query command.
type QueryResult struct {
	DocumentType string           `json:"document_type"`
	Documents    []map[string]any `json:"documents"`
	Skipped      uint16           `json:"skipped,omitempty"`
	Fee          uint64           `json:"fee"`
	Proof        string           `json:"proof,omitempty"`
	RootHash     string           `json:"root_hash,omitempty"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <contracts-dir>",
		Short: "Run a document query",
		Long: `Run a document query against the store. The query is given as flags
(--type with optional --where, --order-by, --limit and cursors), as SQL
(--sql) or as a CBOR-encoded query map (--cbor).

With --prove the query is answered by a proof, which is verified against
the store's root hash before the documents are printed.

Example:
  docgrove query --db ./grove.db ./contracts --type listing \
    --where '[["price", ">", 40]]' --order-by '[["price", "asc"]]'
  docgrove query --db ./grove.db ./contracts --sql "SELECT * FROM listing WHERE price >= 80 ORDER BY price DESC" --prove`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Contract, "contract", "", "contract id when the directory declares several")
	cmd.Flags().StringVarP(&opts.Type, "type", "t", "", "document type name")
	cmd.Flags().StringVar(&opts.Where, "where", "", "where clauses as a JSON array")
	cmd.Flags().StringVar(&opts.OrderBy, "order-by", "", "order clauses as a JSON array")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of documents (default from config)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "documents to skip")
	cmd.Flags().StringVar(&opts.StartAt, "start-at", "", "start at this document id (inclusive)")
	cmd.Flags().StringVar(&opts.StartAfter, "start-after", "", "start after this document id")
	cmd.Flags().StringVar(&opts.SQL, "sql", "", "query as a SQL SELECT")
	cmd.Flags().StringVar(&opts.CBORPath, "cbor", "", "file holding a CBOR-encoded query map")
	cmd.Flags().BoolVar(&opts.Prove, "prove", false, "answer with a verified proof")
	cmd.MarkFlagsMutuallyExclusive("sql", "cbor", "type")
	cmd.MarkFlagsMutuallyExclusive("start-at", "start-after")

	return cmd
}

func runQuery(opts *QueryOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := commandContext(cmd)

	contracts, err := loadContracts(dir)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeContract, "failed to load contracts", err)
	}
	c, err := pickContract(contracts, opts.Contract)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeContract, "failed to select contract", err)
	}

	sess, err := openSession(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open store", err)
	}
	defer sess.Close()

	processor := token.NewProcessor(sess.db, token.WithLogger(sess.logger))
	if _, _, err := sess.ensureContract(ctx, processor, c); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeContract, "failed to register contract", err)
	}

	q, err := buildQuery(opts, c, sess.cfg.QueryConfig())
	if err != nil {
		return queryFailure(formatter, "invalid query", err)
	}
	formatter.VerboseLog("Querying %s", q.DocumentType.Name)

	executor := query.NewExecutor(query.WithLogger(sess.logger))
	result := QueryResult{DocumentType: q.DocumentType.Name}
	err = sess.db.View(ctx, func(tx *grove.Tx) error {
		if opts.Prove {
			return proveQuery(ctx, tx, executor, q, &result)
		}
		out, err := executor.Execute(ctx, tx, q)
		if err != nil {
			return err
		}
		docs, err := out.Documents(q.DocumentType)
		if err != nil {
			return err
		}
		result.Documents = displayDocuments(docs)
		result.Skipped = out.Skipped
		result.Fee = out.Cost.Fee()
		return nil
	})
	if err != nil {
		return queryFailure(formatter, "query failed", err)
	}

	return formatter.Success(result, func(w io.Writer) {
		for _, doc := range result.Documents {
			line, _ := value.MarshalCanonical(doc)
			fmt.Fprintf(w, "%s\n", line)
		}
		fmt.Fprintf(w, "%d %s document(s), fee %d\n", len(result.Documents), result.DocumentType, result.Fee)
		if result.RootHash != "" {
			fmt.Fprintf(w, "✓ Proof verified against root %s\n", result.RootHash)
		}
	})
}

// proveQuery answers q with a proof, verifies it against the transaction's
// root hash and fills result from the proven items.
func proveQuery(ctx context.Context, tx *grove.Tx, executor *query.Executor, q *query.DocumentQuery, result *QueryResult) error {
	proof, cost, err := executor.ExecuteWithProof(ctx, tx, q)
	if err != nil {
		return err
	}
	_, startDoc, err := q.ConstructPathQueryWithStore(ctx, tx)
	if err != nil {
		return err
	}
	root, items, err := query.VerifyProof(proof, q, startDoc)
	if err != nil {
		return &proofError{err: err}
	}
	want, err := tx.RootHash()
	if err != nil {
		return err
	}
	if root != want {
		return &proofError{err: fmt.Errorf("proof commits to root %x, store root is %x", root, want)}
	}
	out := &query.Outcome{Items: items}
	docs, err := out.Documents(q.DocumentType)
	if err != nil {
		return err
	}
	result.Documents = displayDocuments(docs)
	result.Fee = cost.Fee()
	result.Proof = hex.EncodeToString(proof)
	result.RootHash = hex.EncodeToString(root[:])
	return nil
}

type proofError struct{ err error }

func (e *proofError) Error() string { return "proof verification failed: " + e.err.Error() }
func (e *proofError) Unwrap() error { return e.err }

// buildQuery decodes the query from whichever input form the flags give.
func buildQuery(opts *QueryOptions, c *contract.DataContract, cfg query.Config) (*query.DocumentQuery, error) {
	switch {
	case opts.SQL != "":
		return query.FromSQL(opts.SQL, c, cfg)
	case opts.CBORPath != "":
		data, err := os.ReadFile(opts.CBORPath)
		if err != nil {
			return nil, err
		}
		return query.FromCBOR(data, c, cfg)
	case opts.Type == "":
		return nil, fmt.Errorf("one of --type, --sql or --cbor is required")
	}

	dt, ok := c.DocumentType(opts.Type)
	if !ok {
		return nil, &query.SyntaxError{Code: query.ErrCodeDocumentTypeNotFound, Message: fmt.Sprintf("document type %q not found", opts.Type)}
	}
	var where, orderBy value.Value
	for key, flag := range map[string]struct {
		raw string
		out *value.Value
	}{"where": {opts.Where, &where}, "orderBy": {opts.OrderBy, &orderBy}} {
		if flag.raw == "" {
			continue
		}
		v, err := decodeJSON(flag.raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		*flag.out = v
	}

	var limit *uint16
	if opts.Limit > 0 {
		if opts.Limit > math.MaxUint16 {
			return nil, &query.SyntaxError{Code: query.ErrCodeInvalidLimit, Message: fmt.Sprintf("limit %d is out of range", opts.Limit)}
		}
		l := uint16(opts.Limit)
		limit = &l
	}

	var (
		startAt  *value.Identifier
		included bool
	)
	for key, raw := range map[string]string{"startAt": opts.StartAt, "startAfter": opts.StartAfter} {
		if raw == "" {
			continue
		}
		id, err := value.ParseIdentifier(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		startAt, included = &id, key == "startAt"
	}

	q, err := query.FromDecomposedValues(where, orderBy, limit, startAt, included, nil, c, dt, cfg)
	if err != nil {
		return nil, err
	}
	if opts.Offset > 0 {
		if opts.Offset > math.MaxUint16 {
			return nil, &query.SyntaxError{Code: query.ErrCodeInvalidOffset, Message: fmt.Sprintf("offset %d is out of range", opts.Offset)}
		}
		offset := uint16(opts.Offset)
		q.Offset = &offset
	}
	return q, nil
}

// decodeJSON parses a JSON flag into a Value. Numbers keep integer
// precision.
func decodeJSON(raw string) (value.Value, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return value.FromGo(v)
}

func displayDocuments(docs []*contract.Document) []map[string]any {
	out := make([]map[string]any, len(docs))
	for i, doc := range docs {
		out[i], _ = value.ToDisplay(doc.ToValue()).(map[string]any)
	}
	return out
}

// queryFailure reports a query error under its syntax code when it has one.
func queryFailure(formatter *OutputFormatter, message string, err error) error {
	code := ErrCodeQuery
	if qc, ok := query.CodeOf(err); ok {
		code = string(qc)
	}
	var pe *proofError
	if errors.As(err, &pe) {
		code = ErrCodeProof
	}
	return formatter.Fail(ExitCommandError, code, message, err)
}
