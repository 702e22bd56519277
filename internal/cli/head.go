package cli

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/reprisedb/go-reprise"
)

// HeadResult is the output of the head command.
type HeadResult struct {
	Revision   int64  `json:"revision"`
	Hash       string `json:"hash"`
	Checkpoint int64  `json:"checkpoint"`
}

// NewHeadCommand creates the head command.
func NewHeadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "head",
		Short: "Print the head revision and chain hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			e, err := rootOpts.env()
			if err != nil {
				return err
			}

			store, _, err := e.openStore(cmd.Context())
			if err != nil {
				return err
			}

			defer func() { err = multierr.Append(err, store.Close()) }()

			res := HeadResult{Revision: store.Head(), Hash: hex.EncodeToString(store.HeadHash()), Checkpoint: 0}

			cp, ok, err := store.Journal().LoadCheckpoint(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load checkpoint: %w", err)
			}

			if ok {
				res.Checkpoint = cp.Revision
			}

			return rootOpts.printer(cmd).print(res, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "revision:   %d\nhash:       %s\ncheckpoint: %d\n",
					res.Revision, res.Hash, res.Checkpoint)

				return err //nolint:wrapcheck
			})
		},
	}
}

// VerifyResult is the output of the verify-chain command.
type VerifyResult struct {
	Verified int64 `json:"verified"`
}

// NewVerifyChainCommand creates the verify-chain command.
func NewVerifyChainCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-chain",
		Short: "Recompute the audit chain of the journal",
		Long: `Recompute the audit chain over every journaled commit, starting from the
checkpoint when the journal prefix was dropped. Fails on the first broken link.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			e, err := rootOpts.env()
			if err != nil {
				return err
			}

			store, h, err := e.openStore(cmd.Context())
			if err != nil {
				return err
			}

			defer func() { err = multierr.Append(err, store.Close()) }()

			head, err := reprise.VerifyJournal(cmd.Context(), store, h)
			if err != nil {
				return err //nolint:wrapcheck
			}

			return rootOpts.printer(cmd).print(VerifyResult{Verified: head}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "chain verified through revision %d\n", head)
				return err //nolint:wrapcheck
			})
		},
	}
}
