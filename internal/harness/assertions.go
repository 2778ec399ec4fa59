package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/diamondctl/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] run %d %s\n", event.Seq, event.Run, describeEvent(event))
		}
	}
	return buf.String()
}

func describeEvent(e TraceEvent) string {
	switch e.Type {
	case EventDeploy:
		return fmt.Sprintf("deploy %s v%d", e.Facet, e.Version)
	case EventCut:
		return fmt.Sprintf("cut %s %s %v", e.Action, e.Facet, e.Selectors)
	case EventInit:
		return "init " + e.Calldata
	case EventPersist:
		return fmt.Sprintf("persist %d facets, protocol v%d", e.Facets, e.ProtocolVersion)
	case EventCallback:
		return fmt.Sprintf("callback %s for %s", e.Callback, e.Facet)
	case EventError:
		return "error in " + e.Phase
	}
	return e.Type
}

// assertRoutes checks that a selector dispatches to the named contract.
func assertRoutes(result *Result, a Assertion) error {
	sel := ir.MustParseSelector(a.Selector)
	got, ok := result.Routes[sel]
	if ok && got == a.Facet {
		return nil
	}
	actual := "unrouted"
	if ok {
		actual = "routed to " + got
	}
	return &AssertionError{
		Type:     AssertRoutes,
		Expected: fmt.Sprintf("%s routed to %s", sel, a.Facet),
		Actual:   actual,
	}
}

// assertUnrouted checks that a selector is not in the dispatch table.
func assertUnrouted(result *Result, a Assertion) error {
	sel := ir.MustParseSelector(a.Selector)
	got, ok := result.Routes[sel]
	if !ok {
		return nil
	}
	return &AssertionError{
		Type:     AssertUnrouted,
		Expected: fmt.Sprintf("%s unrouted", sel),
		Actual:   "routed to " + got,
	}
}

// assertFacetVersion checks the persisted version of a facet.
func assertFacetVersion(result *Result, a Assertion) error {
	rec, ok := result.State.DeployedFacets[a.Facet]
	if ok && rec.Version == a.Version {
		return nil
	}
	actual := "not deployed"
	if ok {
		actual = fmt.Sprintf("version %d", rec.Version)
	}
	return &AssertionError{
		Type:     AssertFacetVersion,
		Expected: fmt.Sprintf("%s at version %d", a.Facet, a.Version),
		Actual:   actual,
	}
}

// assertFacetAbsent checks that the persisted state has no record for a facet.
func assertFacetAbsent(result *Result, a Assertion) error {
	rec, ok := result.State.DeployedFacets[a.Facet]
	if !ok {
		return nil
	}
	return &AssertionError{
		Type:     AssertFacetAbsent,
		Expected: a.Facet + " not deployed",
		Actual:   fmt.Sprintf("version %d with %d selectors", rec.Version, len(rec.Selectors)),
	}
}

// assertProtocolVersion checks the persisted protocol version.
func assertProtocolVersion(result *Result, a Assertion) error {
	if result.State.ProtocolVersion == a.Version {
		return nil
	}
	return &AssertionError{
		Type:     AssertProtocolVersion,
		Expected: fmt.Sprintf("protocol version %d", a.Version),
		Actual:   fmt.Sprintf("protocol version %d", result.State.ProtocolVersion),
	}
}

// assertTraceContains checks that some event matches the assertion.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if matchEvent(event, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describeMatch(a),
		Actual:   "no matching event",
		Trace:    trace,
	}
}

// assertTraceCount checks that exactly Count events match the assertion.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if matchEvent(event, a) {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%s exactly %d times", describeMatch(a), a.Count),
		Actual:   fmt.Sprintf("%d times", count),
		Trace:    trace,
	}
}

// matchEvent compares the fields the assertion sets.
func matchEvent(e TraceEvent, a Assertion) bool {
	if e.Type != a.Event {
		return false
	}
	if a.Facet != "" && e.Facet != a.Facet {
		return false
	}
	if a.Action != "" && !strings.EqualFold(string(e.Action), a.Action) {
		return false
	}
	if a.Version != 0 && e.Version != a.Version {
		return false
	}
	if a.Selector != "" {
		sel := ir.MustParseSelector(a.Selector)
		found := false
		for _, s := range e.Selectors {
			if s == sel {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func describeMatch(a Assertion) string {
	parts := []string{a.Event}
	if a.Action != "" {
		parts = append(parts, a.Action)
	}
	if a.Facet != "" {
		parts = append(parts, a.Facet)
	}
	if a.Version != 0 {
		parts = append(parts, fmt.Sprintf("v%d", a.Version))
	}
	if a.Selector != "" {
		parts = append(parts, a.Selector)
	}
	return strings.Join(parts, " ")
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertRoutes:
			err = assertRoutes(result, assertion)
		case AssertUnrouted:
			err = assertUnrouted(result, assertion)
		case AssertFacetVersion:
			err = assertFacetVersion(result, assertion)
		case AssertFacetAbsent:
			err = assertFacetAbsent(result, assertion)
		case AssertProtocolVersion:
			err = assertProtocolVersion(result, assertion)
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
