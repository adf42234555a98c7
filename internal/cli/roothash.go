package cli

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/docgrove/internal/grove"
)

// NewRootHashCommand creates the root-hash command.
func NewRootHashCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "root-hash",
		Short: "Print the store's root hash",
		Long: `Print the root hash of the grove. Two stores holding the same contracts,
documents and token state report the same hash.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			sess, err := openSession(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open store", err)
			}
			defer sess.Close()

			var root [32]byte
			err = sess.db.View(commandContext(cmd), func(tx *grove.Tx) error {
				var rerr error
				root, rerr = tx.RootHash()
				return rerr
			})
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read root hash", err)
			}
			hash := hex.EncodeToString(root[:])
			return formatter.Success(map[string]string{"root_hash": hash}, func(w io.Writer) {
				fmt.Fprintln(w, hash)
			})
		},
	}
}
