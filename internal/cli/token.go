package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/docgrove/internal/contract"
	"github.com/roach88/docgrove/internal/token"
	"github.com/roach88/docgrove/internal/value"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	Contract string
}

// TransitionsFile is the YAML input of the token command. Transitions use
// the map form of a token transition; contractId defaults to the selected
// contract.
//
//	block_time: 6000
//	identities: [CktRuQ2mttgRGkXJtyksdKHjUdc2C4TgDzyB98oEzy8]
//	transitions:
//	  - owner: CktRuQ2mttgRGkXJtyksdKHjUdc2C4TgDzyB98oEzy8
//	    nonce: 1
//	    group: {position: 0, proposer: true}
//	    action: {type: mint, amount: 1000}
type TransitionsFile struct {
	BlockTime   uint64           `yaml:"block_time"`
	Identities  []string         `yaml:"identities"`
	Transitions []map[string]any `yaml:"transitions"`
}

// OutcomeView is the printable form of one transition outcome.
type OutcomeView struct {
	Index       int    `json:"index"`
	Action      string `json:"action"`
	Status      string `json:"status"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
	GroupAction string `json:"group_action,omitempty"`
	Power       uint64 `json:"power,omitempty"`
	Amount      uint64 `json:"amount,omitempty"`
	Recipient   string `json:"recipient,omitempty"`
	Fee         uint64 `json:"fee"`
}

// TokenResult is the output of the token command.
type TokenResult struct {
	BlockTime uint64        `json:"block_time"`
	Outcomes  []OutcomeView `json:"outcomes"`
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token <contracts-dir> <transitions.yaml>",
		Short: "Apply a batch of token transitions",
		Long: `Apply the token transitions in a YAML file as one block. Each transition
is authorized and applied on its own; a denied transition does not stop the
rest of the batch. The listed identities are registered first.

Exits 1 when any transition is denied or fails.

Example:
  docgrove token --db ./grove.db ./contracts block.yaml`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Contract, "contract", "", "contract id when the directory declares several")

	return cmd
}

func runToken(opts *TokenOptions, dir, path string, cmd *cobra.Command) error {
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
	file, identities, err := readTransitions(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "failed to read transitions", err)
	}
	batch, err := buildBatch(file, c)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "invalid transition", err)
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
	if err := processor.RegisterIdentities(ctx, identities...); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to register identities", err)
	}

	outcomes := processor.Apply(ctx, batch)
	result := TokenResult{BlockTime: batch.BlockTimeMs, Outcomes: make([]OutcomeView, len(outcomes))}
	rejected := 0
	for i, o := range outcomes {
		result.Outcomes[i] = viewOutcome(o)
		if o.Status == token.StatusDenied || o.Status == token.StatusFailed {
			rejected++
		}
	}

	if err := formatter.Success(result, func(w io.Writer) {
		for _, v := range result.Outcomes {
			line := fmt.Sprintf("[%d] %s %s", v.Index, v.Action, v.Status)
			if v.Code != "" {
				line += " " + v.Code
			}
			if v.GroupAction != "" {
				line += fmt.Sprintf(" (group action %s, power %d)", v.GroupAction, v.Power)
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintf(w, "%d transition(s), %d rejected\n", len(result.Outcomes), rejected)
	}); err != nil {
		return err
	}
	if rejected > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d transition(s) rejected", rejected))
	}
	return nil
}

func readTransitions(path string) (*TransitionsFile, []value.Identifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var f TransitionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(f.Transitions) == 0 {
		return nil, nil, fmt.Errorf("%s: no transitions", path)
	}
	ids := make([]value.Identifier, 0, len(f.Identities))
	for i, s := range f.Identities {
		id, err := value.ParseIdentifier(s)
		if err != nil {
			return nil, nil, fmt.Errorf("identities[%d]: %w", i, err)
		}
		ids = append(ids, id)
	}
	return &f, ids, nil
}

// buildBatch parses the transitions of f. A zero block time means now.
func buildBatch(f *TransitionsFile, c *contract.DataContract) (token.Batch, error) {
	batch := token.Batch{BlockTimeMs: f.BlockTime}
	if batch.BlockTimeMs == 0 {
		batch.BlockTimeMs = uint64(time.Now().UnixMilli())
	}
	for i, raw := range f.Transitions {
		if _, ok := raw["contractId"]; !ok {
			raw["contractId"] = c.ID.String()
		}
		v, err := value.FromGo(raw)
		if err != nil {
			return batch, fmt.Errorf("transitions[%d]: %w", i, err)
		}
		m, _ := v.(value.Map)
		t, err := token.ParseTransition(m)
		if err != nil {
			return batch, fmt.Errorf("transitions[%d]: %w", i, err)
		}
		batch.Transitions = append(batch.Transitions, t)
	}
	return batch, nil
}

func viewOutcome(o token.Outcome) OutcomeView {
	v := OutcomeView{
		Index:  o.Index,
		Action: o.Kind.String(),
		Status: string(o.Status),
		Amount: o.Result.Amount,
		Fee:    o.Cost.Fee(),
	}
	if ce, ok := o.Denial(); ok {
		v.Code = string(ce.Code)
		v.Message = ce.Message
	} else if o.Err != nil {
		v.Message = o.Err.Error()
	}
	if o.Group != nil {
		v.GroupAction = o.Group.ID.String()
		v.Power = o.Group.Power
	}
	if o.Result.Recipient != nil {
		v.Recipient = o.Result.Recipient.String()
	}
	return v
}
