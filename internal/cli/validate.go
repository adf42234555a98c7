package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/docgrove/internal/contract"
)

// ContractSummary describes one valid contract.
type ContractSummary struct {
	ID            string   `json:"id"`
	Owner         string   `json:"owner"`
	Version       uint32   `json:"version"`
	DocumentTypes []string `json:"document_types"`
	Groups        int      `json:"groups"`
	Tokens        int      `json:"tokens"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Contracts []ContractSummary `json:"contracts,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <contracts-dir>",
		Short: "Validate contract definitions",
		Long: `Load the CUE contracts in a directory and check them without touching
a store: document types and indices, groups, token rules and supply
bounds.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	contracts, err := contract.LoadCUE(dir)
	if err != nil {
		var loadErr *contract.LoadError
		if !errors.As(err, &loadErr) {
			_ = formatter.Error(contract.ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to load contracts", err)
		}
		_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
		// invalid definitions fail validation; everything else is a command error
		exit := ExitCommandError
		if loadErr.Code == contract.ErrCodeInvalid {
			exit = ExitFailure
		}
		return NewExitError(exit, fmt.Sprintf("%s: %s", loadErr.Code, loadErr.Message))
	}
	if len(contracts) == 0 {
		_ = formatter.Error(ErrCodeInvalidSpec, "no contracts found", nil)
		return NewExitError(ExitFailure, "validation failed: no contracts found")
	}

	result := ValidationResult{Valid: true}
	for _, c := range contracts {
		formatter.VerboseLog("Validated contract %s (version %d)", c.ID, c.Version)
		result.Contracts = append(result.Contracts, summarize(c))
	}

	return formatter.Success(result, func(w io.Writer) {
		for _, s := range result.Contracts {
			fmt.Fprintf(w, "✓ %s v%d: %d document type(s), %d group(s), %d token(s)\n",
				s.ID, s.Version, len(s.DocumentTypes), s.Groups, s.Tokens)
		}
	})
}

func summarize(c *contract.DataContract) ContractSummary {
	names := c.DocumentTypeNames()
	sort.Strings(names)
	return ContractSummary{
		ID:            c.ID.String(),
		Owner:         c.OwnerID.String(),
		Version:       c.Version,
		DocumentTypes: names,
		Groups:        len(c.Groups),
		Tokens:        len(c.Tokens),
	}
}
