// Package cli implements the reprise operator commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/reprisedb/go-reprise"
	"github.com/reprisedb/go-reprise/config"
	"github.com/reprisedb/go-reprise/hasher"
	"github.com/reprisedb/go-reprise/internal/logging"
	"github.com/reprisedb/go-reprise/revstore"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"} //nolint:gochecknoglobals

// NewRootCommand creates the root command of the reprise CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{ConfigPath: "", Format: "text"}

	cmd := &cobra.Command{
		Use:   "reprise",
		Short: "Operate a reprise revision store",
		Long: `Inspect, verify, archive and compact the data directory of a reprise node.

Commands that change the data directory must not run while the node is up.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}

			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to the YAML configuration")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewHeadCommand(opts))
	cmd.AddCommand(NewVerifyChainCommand(opts))
	cmd.AddCommand(NewArchiveCommand(opts))
	cmd.AddCommand(NewCompactCommand(opts))

	return cmd
}

func (o *RootOptions) config() (config.Config, error) {
	if o.ConfigPath == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}

	return config.Load(o.ConfigPath) //nolint:wrapcheck
}

// env is what a command runs with.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

func (o *RootOptions) env() (env, error) {
	cfg, err := o.config()
	if err != nil {
		return env{}, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return env{}, err //nolint:wrapcheck
	}

	return env{cfg: cfg, logger: logger}, nil
}

// openStore opens the journal and the revision store over it, without
// assuming coordinatorship.
func (e env) openStore(ctx context.Context) (*revstore.Store, hasher.Hasher, error) {
	h, err := hasher.ByName(e.cfg.Node.Hasher)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck
	}

	j, err := reprise.OpenJournal(ctx, e.cfg.Journal, e.logger)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck
	}

	store, err := revstore.Open(ctx, j, revstore.WithHasher(h), revstore.WithLogger(e.logger))
	if err != nil {
		return nil, nil, multierr.Append(err, j.Close())
	}

	return store, h, nil
}

// openDB opens the node for maintenance, taking coordinatorship.
func (e env) openDB(ctx context.Context) (*reprise.DB, error) {
	return reprise.Open(ctx, e.cfg, reprise.WithLogger(e.logger)) //nolint:wrapcheck
}

// printer writes command results as text lines or one JSON document.
type printer struct {
	format string
	w      io.Writer
}

func (o *RootOptions) printer(cmd *cobra.Command) printer {
	return printer{format: o.Format, w: cmd.OutOrStdout()}
}

func (p printer) print(v any, text func(w io.Writer) error) error {
	if p.format == "json" {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")

		return enc.Encode(v) //nolint:wrapcheck
	}

	return text(p.w)
}
