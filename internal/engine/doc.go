// Package engine runs the five-phase deployment pipeline for one diamond.
//
// PIPELINE:
//
// An Orchestrator drives a fixed, strictly sequential sequence of phases
// against one deployment id:
//
//  1. entry_point - deploy the cut facet and the proxy (first deploy only)
//  2. facets      - deploy every configured facet whose target version is
//     ahead of the recorded one, as a candidate
//  3. registry    - reconcile candidates into the selector registry
//  4. cut         - compute, validate and submit one atomic diamondCut with
//     the protocol initializer, then persist the rebuilt state exactly once
//  5. callbacks   - run post-deploy callbacks for facets deployed in this run
//
// Each phase is one method on Strategy. Local submits directly through an
// Executor; Remote submits requests to a Broker and polls them, recording
// every submittable unit in a StepLedger so an interrupted run resumes
// without resubmitting executed steps. Preview plans a cut without touching
// a chain.
//
// Cross-cutting behavior (logging, tracing, metrics, hooks) wraps each phase
// as Middleware instead of overriding strategy methods.
//
// FAILURE:
//
// Any phase error aborts the run. State is persisted only at the end of the
// cut phase, so a failure before it leaves prior state untouched; rerunning
// is the recovery mechanism. Callback errors abort the run but the confirmed
// cut is not reverted.
//
// CONCURRENCY:
//
// One Orchestrator.Run per deployment id at a time. Runs for different ids
// share nothing and may run concurrently. There is no internal lock for
// same-id runs; callers serialize them.
package engine
