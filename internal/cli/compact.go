package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/reprisedb/go-reprise/revstore"
)

// CompactResult is the output of the compact command.
type CompactResult struct {
	Policy  string `json:"policy"`
	Removed int    `json:"removed"`
}

// NewCompactCommand creates the compact command.
func NewCompactCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		keep  int
		since int64
	)

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Drop archived history from the live store",
		Long: `Compact the live store down to the retention policy, never below the
revisions verified archives cover, then checkpoint it and drop the archived
journal prefix.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			var policy revstore.Policy

			switch {
			case cmd.Flags().Changed("keep") && cmd.Flags().Changed("since"):
				return errors.New("--keep and --since are mutually exclusive")
			case cmd.Flags().Changed("since"):
				policy = revstore.KeepSince(since)
			default:
				policy = revstore.KeepLastN(keep)
			}

			if err := policy.Validate(); err != nil {
				return err //nolint:wrapcheck
			}

			e, err := rootOpts.env()
			if err != nil {
				return err
			}

			db, err := e.openDB(cmd.Context())
			if err != nil {
				return err
			}

			defer func() { err = multierr.Append(err, db.Close()) }()

			stats, err := db.CompactAfterArchive(cmd.Context(), policy)
			if err != nil {
				return err //nolint:wrapcheck
			}

			res := CompactResult{Policy: policy.String(), Removed: stats.Removed}

			return rootOpts.printer(cmd).print(res, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "removed %d versions (%s)\n", res.Removed, res.Policy)
				return err //nolint:wrapcheck
			})
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 1, "versions to keep per key")
	cmd.Flags().Int64Var(&since, "since", 0, "keep every version from this revision on")

	return cmd
}
