package config

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/diamondctl/internal/ir"
)

// Validation error codes (E200-E299)
const (
	ErrFacetNameEmpty      = "E201" // facet name is empty
	ErrFacetNoVersions     = "E202" // facet declares no versions
	ErrNegativeVersion     = "E203" // version number below zero
	ErrInitFacetMissing    = "E204" // protocolInitFacet is not a configured facet
	ErrIncludeExcludeClash = "E205" // selector both included and excluded
	ErrDuplicateSelector   = "E206" // selector listed twice
	ErrIncludeConflict     = "E207" // selector force-included by two facets at one priority
	ErrEmptyCallback       = "E208" // callback id is empty
)

// ValidationError is a semantic config error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks rules the schema cannot express.
// Returns all errors found (does not fail-fast), in facet order.
func Validate(cfg ir.DeployConfig) []ValidationError {
	var errs []ValidationError

	if cfg.ProtocolInitFacet != "" {
		if _, ok := cfg.Facets[cfg.ProtocolInitFacet]; !ok {
			errs = append(errs, ValidationError{
				Field:   "protocolInitFacet",
				Message: fmt.Sprintf("facet %q is not configured", cfg.ProtocolInitFacet),
				Code:    ErrInitFacetMissing,
			})
		}
	}

	// selector -> facet force-including it at each priority
	included := map[int]map[ir.Selector]string{}

	for _, name := range cfg.FacetNames() {
		fc := cfg.Facets[name]
		field := "facets." + name

		if name == "" {
			errs = append(errs, ValidationError{Field: "facets", Message: "facet name is required", Code: ErrFacetNameEmpty})
		}
		if len(fc.Versions) == 0 {
			errs = append(errs, ValidationError{Field: field + ".versions", Message: "at least one version is required", Code: ErrFacetNoVersions})
			continue
		}

		for _, version := range slices.Sorted(maps.Keys(fc.Versions)) {
			spec := fc.Versions[version]
			vfield := fmt.Sprintf("%s.versions.%d", field, version)
			if version < 0 {
				errs = append(errs, ValidationError{Field: vfield, Message: "version must not be negative", Code: ErrNegativeVersion})
			}
			errs = append(errs, validateVersion(vfield, spec)...)
		}

		_, target, _ := fc.TargetVersion()
		for _, sel := range target.DeployInclude {
			owners, ok := included[fc.Priority]
			if !ok {
				owners = map[ir.Selector]string{}
				included[fc.Priority] = owners
			}
			if other, clash := owners[sel]; clash && other != name {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("selector %s is force-included by %s and %s at priority %d", sel, other, name, fc.Priority),
					Code:    ErrIncludeConflict,
				})
				continue
			}
			owners[sel] = name
		}
	}

	return errs
}

func validateVersion(field string, spec ir.VersionSpec) []ValidationError {
	var errs []ValidationError

	for i, id := range spec.Callbacks {
		if id == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s.callbacks[%d]", field, i),
				Message: "callback id is required",
				Code:    ErrEmptyCallback,
			})
		}
	}

	excluded := map[ir.Selector]bool{}
	for _, sel := range spec.DeployExclude {
		if excluded[sel] {
			errs = append(errs, ValidationError{
				Field:   field + ".deployExclude",
				Message: fmt.Sprintf("selector %s listed twice", sel),
				Code:    ErrDuplicateSelector,
			})
		}
		excluded[sel] = true
	}

	seen := map[ir.Selector]bool{}
	for _, sel := range spec.DeployInclude {
		if seen[sel] {
			errs = append(errs, ValidationError{
				Field:   field + ".deployInclude",
				Message: fmt.Sprintf("selector %s listed twice", sel),
				Code:    ErrDuplicateSelector,
			})
		}
		seen[sel] = true
		if excluded[sel] {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("selector %s is both included and excluded", sel),
				Code:    ErrIncludeExcludeClash,
			})
		}
	}

	return errs
}
