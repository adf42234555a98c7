package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/docgrove/internal/contract"
	"github.com/roach88/docgrove/internal/documents"
	"github.com/roach88/docgrove/internal/grove"
	"github.com/roach88/docgrove/internal/token"
	"github.com/roach88/docgrove/internal/value"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	Contract  string
	BlockTime uint64
}

// DocumentsFile is the YAML input of the load command.
//
//	documents:
//	  - type: listing
//	    owner: CktRuQ2mttgRGkXJtyksdKHjUdc2C4TgDzyB98oEzy8
//	    properties: {title: lamp, price: 30}
type DocumentsFile struct {
	Documents []DocumentEntry `yaml:"documents"`
}

// DocumentEntry is one document to insert. A missing id is generated.
type DocumentEntry struct {
	Type       string         `yaml:"type"`
	ID         string         `yaml:"id"`
	Owner      string         `yaml:"owner"`
	Properties map[string]any `yaml:"properties"`
}

// LoadResult is the output of the load command.
type LoadResult struct {
	Contract   string   `json:"contract"`
	Registered bool     `json:"registered"`
	Documents  []string `json:"documents"`
	RootHash   string   `json:"root_hash"`
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load <contracts-dir> [documents.yaml]",
		Short: "Register a contract and insert documents",
		Long: `Register a contract from a CUE directory and optionally insert the
documents listed in a YAML file. A contract already stored at the same or a
higher version is left unchanged.

Example:
  docgrove load --db ./grove.db ./contracts
  docgrove load --db ./grove.db ./contracts listings.yaml --block-time 1700000000000`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			docsPath := ""
			if len(args) == 2 {
				docsPath = args[1]
			}
			return runLoad(opts, args[0], docsPath, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Contract, "contract", "", "contract id when the directory declares several")
	cmd.Flags().Uint64Var(&opts.BlockTime, "block-time", 0, "document creation time in ms (default: now)")

	return cmd
}

func runLoad(opts *LoadOptions, dir, docsPath string, cmd *cobra.Command) error {
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

	var entries []DocumentEntry
	if docsPath != "" {
		entries, err = readDocuments(docsPath)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeInput, "failed to read documents", err)
		}
	}

	sess, err := openSession(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open store", err)
	}
	defer sess.Close()

	processor := token.NewProcessor(sess.db, token.WithLogger(sess.logger))
	stored, registered, err := sess.ensureContract(ctx, processor, c)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeContract, "failed to register contract", err)
	}

	blockTime := opts.BlockTime
	if blockTime == 0 {
		blockTime = uint64(time.Now().UnixMilli())
	}
	ids, root, err := insertDocuments(ctx, sess, stored, entries, blockTime)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "failed to insert documents", err)
	}
	sess.logger.Info("documents loaded", "contract", stored.ID.String(), "count", len(ids))

	result := LoadResult{
		Contract:   stored.ID.String(),
		Registered: registered,
		Documents:  ids,
		RootHash:   hex.EncodeToString(root[:]),
	}
	return formatter.Success(result, func(w io.Writer) {
		state := "already stored"
		if result.Registered {
			state = "registered"
		}
		fmt.Fprintf(w, "Contract %s %s\n", result.Contract, state)
		for _, id := range result.Documents {
			fmt.Fprintf(w, "  + %s\n", id)
		}
		fmt.Fprintf(w, "Inserted %d document(s)\n", len(result.Documents))
		fmt.Fprintf(w, "Root hash: %s\n", result.RootHash)
	})
}

func readDocuments(path string) ([]DocumentEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f DocumentsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, e := range f.Documents {
		if e.Type == "" {
			return nil, fmt.Errorf("documents[%d]: type is required", i)
		}
		if e.Owner == "" {
			return nil, fmt.Errorf("documents[%d]: owner is required", i)
		}
	}
	return f.Documents, nil
}

// insertDocuments writes the entries in one transaction and returns their
// ids and the new root hash.
func insertDocuments(ctx context.Context, sess *session, c *contract.DataContract, entries []DocumentEntry, blockTime uint64) ([]string, [32]byte, error) {
	writer := documents.NewWriter(documents.WithLogger(sess.logger))
	ids := make([]string, 0, len(entries))
	var root [32]byte

	err := sess.db.Update(ctx, func(tx *grove.Tx) error {
		for i, e := range entries {
			doc, dt, err := buildDocument(c, e, blockTime)
			if err != nil {
				return fmt.Errorf("documents[%d]: %w", i, err)
			}
			if err := writer.Insert(tx, dt, doc); err != nil {
				return fmt.Errorf("documents[%d] %s: %w", i, doc.ID, err)
			}
			ids = append(ids, doc.ID.String())
		}
		var err error
		root, err = tx.RootHash()
		return err
	})
	if err != nil {
		return nil, root, err
	}
	return ids, root, nil
}

func buildDocument(c *contract.DataContract, e DocumentEntry, blockTime uint64) (*contract.Document, *contract.DocumentType, error) {
	dt, ok := c.DocumentType(e.Type)
	if !ok {
		return nil, nil, fmt.Errorf("unknown document type %q", e.Type)
	}
	owner, err := value.ParseIdentifier(e.Owner)
	if err != nil {
		return nil, nil, fmt.Errorf("owner: %w", err)
	}
	id, err := documentID(e.ID, owner)
	if err != nil {
		return nil, nil, err
	}
	props, err := value.FromGo(e.Properties)
	if err != nil {
		return nil, nil, fmt.Errorf("properties: %w", err)
	}
	m, _ := props.(value.Map)
	if m == nil {
		m = value.Map{}
	}
	return &contract.Document{
		ID:         id,
		OwnerID:    owner,
		Revision:   1,
		CreatedAt:  blockTime,
		UpdatedAt:  blockTime,
		Properties: m,
	}, dt, nil
}

// documentID parses s, or derives a fresh id from the owner and a random
// UUID when s is empty.
func documentID(s string, owner value.Identifier) (value.Identifier, error) {
	if s != "" {
		id, err := value.ParseIdentifier(s)
		if err != nil {
			return value.Identifier{}, fmt.Errorf("id: %w", err)
		}
		return id, nil
	}
	entropy := uuid.New()
	return value.HashIdentifier("docgrove/document", owner.Bytes(), entropy[:]), nil
}

// commandContext returns the command's context, or Background when the
// command runs outside ExecuteContext.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
