package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/reprisedb/go-reprise"
	"github.com/reprisedb/go-reprise/archive"
)

// ArchiveResult describes one archive file.
type ArchiveResult struct {
	ID      string `json:"id"`
	File    string `json:"file"`
	From    int64  `json:"from"`
	To      int64  `json:"to"`
	Count   int    `json:"count"`
	Codec   string `json:"codec"`
	TipHash string `json:"tip_hash"`
	Signer  string `json:"signer,omitempty"`
}

func archiveResult(d archive.Descriptor) ArchiveResult {
	return ArchiveResult{
		ID:      d.ID,
		File:    d.File,
		From:    d.From,
		To:      d.To,
		Count:   d.Count,
		Codec:   string(d.Codec),
		TipHash: d.TipHash.String(),
		Signer:  d.Signer,
	}
}

func printArchives(w io.Writer, results []ArchiveResult) error {
	for _, r := range results {
		if _, err := fmt.Fprintf(w, "%s\t%d..%d\t%d commits\t%s\n", r.File, r.From, r.To, r.Count, r.TipHash); err != nil {
			return err //nolint:wrapcheck
		}
	}

	return nil
}

// NewArchiveCommand creates the archive command group.
func NewArchiveCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Create, list, verify and restore archives",
	}

	cmd.AddCommand(newArchiveCreateCommand(rootOpts))
	cmd.AddCommand(newArchiveListCommand(rootOpts))
	cmd.AddCommand(newArchiveVerifyCommand(rootOpts))
	cmd.AddCommand(newArchiveRestoreCommand(rootOpts))

	return cmd
}

func newArchiveCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var from, to int64

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Stream a revision range into a new archive",
		Long: `Stream the commits --from..--to into a new verified archive file.
Without --from the archive continues the archived history; without --to it
ends at the head.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			e, err := rootOpts.env()
			if err != nil {
				return err
			}

			db, err := e.openDB(cmd.Context())
			if err != nil {
				return err
			}

			defer func() { err = multierr.Append(err, db.Close()) }()

			if to == 0 {
				to = db.Head()
			}

			d, err := db.Archive(cmd.Context(), from, to)
			if err != nil {
				return err //nolint:wrapcheck
			}

			res := archiveResult(d)

			return rootOpts.printer(cmd).print(res, func(w io.Writer) error {
				return printArchives(w, []ArchiveResult{res})
			})
		},
	}

	cmd.Flags().Int64Var(&from, "from", 0, "first revision to archive")
	cmd.Flags().Int64Var(&to, "to", 0, "last revision to archive")

	return cmd
}

func newArchiveListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the archives of the manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := rootOpts.env()
			if err != nil {
				return err
			}

			archives, err := reprise.OpenArchives(e.cfg, e.logger)
			if err != nil {
				return err //nolint:wrapcheck
			}

			results := make([]ArchiveResult, 0)
			for _, d := range archives.List() {
				results = append(results, archiveResult(d))
			}

			return rootOpts.printer(cmd).print(results, func(w io.Writer) error {
				return printArchives(w, results)
			})
		},
	}
}

// resolve makes archive file arguments relative to the archive directory.
func resolve(dir string, files []string) []string {
	out := make([]string, 0, len(files))

	for _, f := range files {
		if !filepath.IsAbs(f) {
			f = filepath.Join(dir, f)
		}

		out = append(out, f)
	}

	return out
}

func newArchiveVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>...",
		Short: "Verify archive files",
		Long: `Check the chain, tip hash and signature of every archive file. Relative
paths are resolved against the archive directory.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.env()
			if err != nil {
				return err
			}

			archives, err := reprise.OpenArchives(e.cfg, e.logger)
			if err != nil {
				return err //nolint:wrapcheck
			}

			results := make([]ArchiveResult, 0, len(args))

			for _, path := range resolve(archives.Dir(), args) {
				d, err := archives.Verify(cmd.Context(), path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}

				results = append(results, archiveResult(d))
			}

			return rootOpts.printer(cmd).print(results, func(w io.Writer) error {
				return printArchives(w, results)
			})
		},
	}
}

// RestoreResult is the output of the archive restore command.
type RestoreResult struct {
	Head int64 `json:"head"`
}

func newArchiveRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <file>...",
		Short: "Replay archives into the configured journal",
		Long: `Verify the archive files and replay them, oldest first, into the journal
of the configuration. Commits the journal already holds are checked, not
applied twice.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			e, err := rootOpts.env()
			if err != nil {
				return err
			}

			archives, err := reprise.OpenArchives(e.cfg, e.logger)
			if err != nil {
				return err //nolint:wrapcheck
			}

			store, _, err := e.openStore(cmd.Context())
			if err != nil {
				return err
			}

			defer func() { err = multierr.Append(err, store.Close()) }()

			head, err := archives.Restore(cmd.Context(), resolve(archives.Dir(), args), store)
			if err != nil {
				return err //nolint:wrapcheck
			}

			return rootOpts.printer(cmd).print(RestoreResult{Head: head}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "restored through revision %d\n", head)
				return err //nolint:wrapcheck
			})
		},
	}
}
