package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/diamondctl/internal/diamond"
	"github.com/roach88/diamondctl/internal/ir"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Database is the SQLite file holding deployed state and the step ledger.
	Database string

	// Name, Network and ChainID identify the deployment target.
	Name    string
	Network string
	ChainID uint64
}

// Target returns the deployment target named by the global flags.
func (o *RootOptions) Target() diamond.Target {
	return diamond.Target{Name: o.Name, Network: o.Network, ChainID: o.ChainID}
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the diamondctl CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "diamondctl",
		Short:   "diamondctl - ERC-2535 diamond deployments",
		Version: ir.ToolVersion,
		Long: `Deploy and upgrade ERC-2535 diamonds from a declarative facet configuration.

Each run deploys the facet versions the configuration asks for, reconciles
which facet owns every selector, submits a single diamondCut and records the
result, so rerunning an unchanged configuration does nothing.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			configureLogging(cmd.ErrOrStderr(), opts.Verbose)
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "diamondctl.db", "path to SQLite database")
	cmd.PersistentFlags().StringVar(&opts.Name, "name", "diamond", "deployment name")
	cmd.PersistentFlags().StringVar(&opts.Network, "network", "local", "network name")
	cmd.PersistentFlags().Uint64Var(&opts.ChainID, "chain-id", 31337, "chain id")

	// Add subcommands
	cmd.AddCommand(NewDeployCommand(opts))
	cmd.AddCommand(NewPlanCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewStepsCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// configureLogging installs the default slog handler. Logs always go to the
// diagnostic writer so JSON output on stdout stays parseable.
func configureLogging(w io.Writer, verbose bool) {
	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
