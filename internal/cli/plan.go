package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/diamondctl/internal/artifact"
	"github.com/roach88/diamondctl/internal/config"
	"github.com/roach88/diamondctl/internal/engine"
	"github.com/roach88/diamondctl/internal/store"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions
	Config    string
	Artifacts string

	// RunIDs allows overriding the run id generator (for testing).
	RunIDs engine.RunIDGenerator
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	return newPlanCommand(&PlanOptions{RootOptions: rootOpts})
}

func newPlanCommand(opts *PlanOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the cut a deploy would submit",
		Long: `Reconcile the configuration against recorded state without deploying.

Contracts that would be deployed get placeholder addresses derived from their
name and version, so the same configuration always prints the same plan.
Nothing is written to the database.

Example:
  diamondctl plan --config deploy.yaml --artifacts out`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "deploy config (.yaml, .yml or .cue)")
	cmd.Flags().StringVar(&opts.Artifacts, "artifacts", "out", "forge out directory")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runPlan(opts *PlanOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	target, err := checkTarget(opts.RootOptions)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	st, closeStore, err := openStore(opts.RootOptions)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return err
	}
	defer closeStore()

	repo, err := store.NewRepository(st, target, store.ConfigLoader(config.FileLoader(opts.Config)), store.WithDryRun(true))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create repository", err)
	}
	preview, err := engine.NewPreview(engine.StrategyConfig{Artifacts: artifact.NewFoundry(opts.Artifacts)})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to create preview", err)
	}

	var orchOpts []engine.Option
	if opts.RunIDs != nil {
		orchOpts = append(orchOpts, engine.WithRunIDGenerator(opts.RunIDs))
	}
	orch, err := engine.New(repo, preview, orchOpts...)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to create orchestrator", err)
	}

	res, runErr := orch.Run(ctx)
	if runErr != nil {
		_ = formatter.RunError(runErr, res)
		_, exit := classifyRunError(runErr)
		return WrapExitError(exit, "plan failed", runErr)
	}

	return formatter.Render(res, res.RunID, func(w io.Writer) {
		writeResult(w, res)
	})
}
