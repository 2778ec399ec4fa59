package engine

import "context"

// Phase names one step of the fixed pipeline.
type Phase string

const (
	PhaseEntryPoint Phase = "entry_point"
	PhaseFacets     Phase = "facets"
	PhaseRegistry   Phase = "registry"
	PhaseCut        Phase = "cut"
	PhaseCallbacks  Phase = "callbacks"
)

// Phases returns the pipeline phases in execution order.
func Phases() []Phase {
	return []Phase{PhaseEntryPoint, PhaseFacets, PhaseRegistry, PhaseCut, PhaseCallbacks}
}

// Strategy implements the core logic of each phase. Local, Remote and
// Preview differ only here; ordering and failure handling live in the
// Orchestrator.
type Strategy interface {
	Name() string
	DeployEntryPoint(ctx context.Context, run *Run) error
	DeployFacets(ctx context.Context, run *Run) error
	ReconcileRegistry(ctx context.Context, run *Run) error
	ExecuteCut(ctx context.Context, run *Run) error
	RunCallbacks(ctx context.Context, run *Run) error
}

// PhaseFunc is the core logic of one phase.
type PhaseFunc func(ctx context.Context, run *Run) error

// Middleware wraps a phase. It may act before and after calling next, or
// skip next entirely.
type Middleware func(phase Phase, next PhaseFunc) PhaseFunc

// HookFunc runs before or after a phase.
type HookFunc func(ctx context.Context, phase Phase, run *Run) error

// Hooks builds a middleware from optional pre- and post-hooks. The post-hook
// only runs when the phase succeeded. A hook error aborts the run.
func Hooks(before, after HookFunc) Middleware {
	return func(phase Phase, next PhaseFunc) PhaseFunc {
		return func(ctx context.Context, run *Run) error {
			if before != nil {
				if err := before(ctx, phase, run); err != nil {
					return err
				}
			}
			if err := next(ctx, run); err != nil {
				return err
			}
			if after != nil {
				return after(ctx, phase, run)
			}
			return nil
		}
	}
}

// chain wraps core so that mws[0] is the outermost middleware.
func chain(phase Phase, core PhaseFunc, mws []Middleware) PhaseFunc {
	fn := core
	for i := len(mws) - 1; i >= 0; i-- {
		fn = mws[i](phase, fn)
	}
	return fn
}

// phaseFunc binds the strategy method for phase.
func phaseFunc(s Strategy, phase Phase) PhaseFunc {
	switch phase {
	case PhaseEntryPoint:
		return s.DeployEntryPoint
	case PhaseFacets:
		return s.DeployFacets
	case PhaseRegistry:
		return s.ReconcileRegistry
	case PhaseCut:
		return s.ExecuteCut
	case PhaseCallbacks:
		return s.RunCallbacks
	default:
		return nil
	}
}
