package harness

import "github.com/roach88/diamondctl/internal/ir"

// Trace event types.
const (
	EventDeploy   = "deploy"
	EventCut      = "cut"
	EventInit     = "init"
	EventPersist  = "persist"
	EventCallback = "callback"
	EventError    = "error"
)

// TraceEvent is one observable outcome of a run. Only the fields relevant
// to the event type are set.
type TraceEvent struct {
	Type string `json:"type"`
	Run  int    `json:"run"`
	Seq  int64  `json:"seq"`

	Facet     string        `json:"facet,omitempty"`
	Version   int           `json:"version,omitempty"`
	Action    ir.Action     `json:"action,omitempty"`
	Selectors []ir.Selector `json:"selectors,omitempty"`
	Calldata  string        `json:"calldata,omitempty"`

	Facets          int    `json:"facets,omitempty"`
	ProtocolVersion int    `json:"protocol_version,omitempty"`
	Callback        string `json:"callback,omitempty"`
	Phase           string `json:"phase,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every run ended as expected and all assertions match.
	Pass bool `json:"pass"`

	// Trace contains deployments, cut records and persists in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the persisted deployment state after the last run.
	State ir.DeployedDiamondData `json:"state"`

	// Routes maps every routed selector to the name of the contract it
	// dispatches to on chain.
	Routes map[ir.Selector]string `json:"routes"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Routes: map[ir.Selector]string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addEvent(e TraceEvent) {
	e.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, e)
}
