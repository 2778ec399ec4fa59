package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/diamondctl/internal/diamond"
	"github.com/roach88/diamondctl/internal/engine"
	"github.com/roach88/diamondctl/internal/sim"
	"github.com/roach88/diamondctl/internal/store"
)

// BackendSim is the in-process simulated chain.
const BackendSim = "sim"

// ValidBackends lists the --backend values.
var ValidBackends = []string{BackendSim}

// openStore opens the database named by --db. The returned func closes it and
// logs a close failure.
func openStore(opts *RootOptions) (*store.Store, func(), error) {
	if opts.Database == "" {
		return nil, nil, NewExitError(ExitCommandError, "--db is required")
	}
	slog.Debug("opening database", "path", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}, nil
}

// checkTarget rejects an incomplete --name/--network pair before any work.
func checkTarget(opts *RootOptions) (diamond.Target, error) {
	target := opts.Target()
	if err := target.Validate(); err != nil {
		return diamond.Target{}, WrapExitError(ExitCommandError, "invalid deployment target", err)
	}
	return target, nil
}

// signalContext derives a context cancelled on SIGINT or SIGTERM.
// Uses the command's context if available (for testing).
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Warn("received signal, stopping after the current step", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan) // Prevent signal handler leak
		cancel()
	}
}

// newSimBackend creates a simulated chain for target. The state saved by the
// previous run is loaded when present, pending requests included; otherwise
// the chain is rebuilt from the recorded deployment so a new process
// continues where the previous run stopped.
func newSimBackend(ctx context.Context, st *store.Store, target diamond.Target, pendingPolls int) (*sim.Chain, error) {
	var opts []sim.Option
	if pendingPolls > 0 {
		opts = append(opts, sim.WithPendingPolls(pendingPolls))
	}
	chain := sim.New(opts...)

	snap, found, err := st.LoadBackendState(ctx, target.DeploymentID())
	if err != nil {
		return nil, err
	}
	if found {
		if err := chain.Load(snap); err != nil {
			return nil, err
		}
		slog.Debug("simulated chain loaded", "deployment", target.DeploymentID())
		return chain, nil
	}

	data, found, err := st.LoadDeployedDiamondData(ctx, target.DeploymentID())
	if err != nil {
		return nil, fmt.Errorf("load deployed state: %w", err)
	}
	if found {
		if err := chain.Restore(data); err != nil {
			return nil, err
		}
		slog.Debug("simulated chain restored",
			"deployment", target.DeploymentID(),
			"diamond", data.DiamondAddress,
			"facets", len(data.DeployedFacets),
		)
	}
	return chain, nil
}

// saveSimBackend stores the chain for the next run. It runs even when ctx
// was cancelled by a signal, since submitted requests must not be lost.
func saveSimBackend(ctx context.Context, st *store.Store, target diamond.Target, chain *sim.Chain) error {
	snap, err := chain.Snapshot()
	if err != nil {
		return err
	}
	return st.SaveBackendState(context.WithoutCancel(ctx), target.DeploymentID(), snap)
}

// dryRunLedger is a throwaway step ledger, so a dry run never records steps
// for submissions that are discarded with the simulated chain.
func dryRunLedger() (*store.Store, func(), error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, nil, err
	}
	return st, func() { _ = st.Close() }, nil
}

// builtinCallbacks are the callback ids a configuration can name when
// deploying from the command line.
//
//	verifyRouting  every selector recorded for the facet routes to its address
func builtinCallbacks(chain *sim.Chain) engine.Callbacks {
	cb := engine.Callbacks{}
	cb.Register("verifyRouting", func(_ context.Context, facet string, d *diamond.Diamond) error {
		rec, ok := d.DeployedFacet(facet)
		if !ok {
			return fmt.Errorf("facet %s has no live selectors", facet)
		}
		table := chain.Table(d.Address())
		for _, sel := range rec.Selectors {
			if got := table[sel]; got != rec.Address {
				return fmt.Errorf("selector %s routes to %s, want %s", sel, orNone(got), rec.Address)
			}
		}
		slog.Info("routing verified", "facet", facet, "selectors", len(rec.Selectors))
		return nil
	})
	return cb
}
