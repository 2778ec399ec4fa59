package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/roach88/diamondctl/internal/artifact"
	"github.com/roach88/diamondctl/internal/config"
	"github.com/roach88/diamondctl/internal/engine"
	"github.com/roach88/diamondctl/internal/store"
)

// Strategy names accepted by --strategy.
const (
	StrategyLocal  = "local"
	StrategyRemote = "remote"
)

// DeployOptions holds flags for the deploy command.
type DeployOptions struct {
	*RootOptions
	Config    string
	Artifacts string
	Strategy  string
	Backend   string
	DryRun    bool

	// Remote strategy.
	Wait         bool
	PollInitial  time.Duration
	PollMax      time.Duration
	PollAttempts int
	NoJitter     bool

	// SimPendingPolls keeps simulated remote requests pending for this many
	// status checks.
	SimPendingPolls int

	// MetricsFile receives the pipeline metrics in Prometheus text format.
	MetricsFile string

	// RunIDs allows overriding the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.RunIDGenerator

	// Now allows overriding the step ledger clock (for testing).
	Now func() time.Time
}

// NewDeployCommand creates the deploy command.
func NewDeployCommand(rootOpts *RootOptions) *cobra.Command {
	return newDeployCommand(&DeployOptions{RootOptions: rootOpts})
}

func newDeployCommand(opts *DeployOptions) *cobra.Command {
	def := engine.DefaultPollPolicy()

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy or upgrade the diamond",
		Long: `Run the deployment pipeline against the configured backend.

The pipeline deploys the proxy on first run, deploys every facet whose
configured version is ahead of the recorded one, reconciles selector
ownership, submits one diamondCut with the protocol initializer and records
the new state. Callbacks declared by newly deployed facet versions run last.

With --strategy remote every deployment and the cut are submitted as steps and
tracked in the step ledger; a run stopped by a pending step resumes where it
left off when rerun.

Example:
  diamondctl deploy --config deploy.yaml --artifacts out
  diamondctl deploy --config deploy.cue --artifacts out --strategy remote --wait`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "deploy config (.yaml, .yml or .cue)")
	cmd.Flags().StringVar(&opts.Artifacts, "artifacts", "out", "forge out directory")
	cmd.Flags().StringVar(&opts.Strategy, "strategy", StrategyLocal, "execution strategy (local|remote)")
	cmd.Flags().StringVar(&opts.Backend, "backend", BackendSim, "chain backend (sim)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "run the pipeline without saving deployed state")
	cmd.Flags().BoolVar(&opts.Wait, "wait", false, "remote: poll the cut proposal until it executes")
	cmd.Flags().DurationVar(&opts.PollInitial, "poll-initial", def.InitialDelay, "remote: delay before the first status check")
	cmd.Flags().DurationVar(&opts.PollMax, "poll-max", def.MaxDelay, "remote: maximum delay between status checks")
	cmd.Flags().IntVar(&opts.PollAttempts, "poll-attempts", def.MaxAttempts, "remote: status checks per step before giving up")
	cmd.Flags().BoolVar(&opts.NoJitter, "no-jitter", false, "remote: disable poll jitter")
	cmd.Flags().IntVar(&opts.SimPendingPolls, "sim-pending-polls", 0, "sim: status checks a remote request stays pending")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write pipeline metrics to this file")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runDeploy(opts *DeployOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if !slices.Contains([]string{StrategyLocal, StrategyRemote}, opts.Strategy) {
		return usageError(formatter, fmt.Sprintf("invalid strategy %q: must be %s or %s", opts.Strategy, StrategyLocal, StrategyRemote))
	}
	if !slices.Contains(ValidBackends, opts.Backend) {
		return usageError(formatter, fmt.Sprintf("invalid backend %q: must be one of %v", opts.Backend, ValidBackends))
	}
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

	repo, err := store.NewRepository(st, target, store.ConfigLoader(config.FileLoader(opts.Config)), store.WithDryRun(opts.DryRun))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create repository", err)
	}

	chain, err := newSimBackend(ctx, st, target, opts.SimPendingPolls)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to start backend", err)
	}

	scfg := engine.StrategyConfig{
		Artifacts: artifact.NewFoundry(opts.Artifacts),
		Callbacks: builtinCallbacks(chain),
	}

	var strategy engine.Strategy
	switch opts.Strategy {
	case StrategyLocal:
		strategy, err = engine.NewLocal(chain, scfg)
	case StrategyRemote:
		remoteOpts := []engine.RemoteOption{
			engine.WithPoller(engine.NewPoller(engine.PollPolicy{
				InitialDelay: opts.PollInitial,
				MaxDelay:     opts.PollMax,
				MaxAttempts:  opts.PollAttempts,
				Jitter:       !opts.NoJitter,
			})),
			engine.WithWaitForExecution(opts.Wait),
		}
		if opts.Now != nil {
			remoteOpts = append(remoteOpts, engine.WithClock(opts.Now))
		}
		ledger := st
		if opts.DryRun {
			var closeLedger func()
			if ledger, closeLedger, err = dryRunLedger(); err != nil {
				return WrapExitError(ExitCommandError, "failed to open dry-run ledger", err)
			}
			defer closeLedger()
		}
		strategy, err = engine.NewRemote(chain, ledger, scfg, remoteOpts...)
	}
	if err != nil {
		return usageError(formatter, err.Error())
	}

	reg := prometheus.NewRegistry()
	metrics, err := engine.NewMetrics(reg)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to register metrics", err)
	}

	orchOpts := []engine.Option{
		engine.WithMiddleware(
			engine.Logging(slog.Default()),
			engine.Tracing(otel.Tracer("github.com/roach88/diamondctl")),
			metrics.Middleware(),
		),
	}
	if opts.RunIDs != nil {
		orchOpts = append(orchOpts, engine.WithRunIDGenerator(opts.RunIDs))
	}
	orch, err := engine.New(repo, strategy, orchOpts...)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to create orchestrator", err)
	}

	formatter.VerboseLog("Deploying %s with strategy %s (dry run: %t)", target.DeploymentID(), opts.Strategy, opts.DryRun)
	res, runErr := orch.Run(ctx)

	if !opts.DryRun {
		if err := saveSimBackend(ctx, st, target, chain); err != nil {
			_ = formatter.Error(ErrCodeStore, err.Error(), nil)
			return WrapExitError(ExitFailure, "failed to save backend state", err)
		}
	}

	if opts.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.MetricsFile, reg); err != nil {
			slog.Error("failed to write metrics", "path", opts.MetricsFile, "error", err)
		}
	}

	if runErr != nil {
		_ = formatter.RunError(runErr, res)
		_, exit := classifyRunError(runErr)
		return WrapExitError(exit, "deployment did not complete", runErr)
	}

	return formatter.Render(res, res.RunID, func(w io.Writer) {
		writeResult(w, res)
	})
}

// usageError reports an invalid flag combination.
func usageError(formatter *OutputFormatter, message string) error {
	_ = formatter.Error(ErrCodeUsage, message, nil)
	return NewExitError(ExitCommandError, message)
}
