package cut

import (
	"errors"
	"fmt"
)

// ValidationError represents an inconsistent state detected before a cut.
// No cut is ever submitted once a ValidationError has been returned.
type ValidationError struct {
	// Code identifies the error category.
	Code ValidationErrorCode

	// Message is a human-readable description.
	Message string

	// FacetName identifies the affected facet, when there is one.
	FacetName string

	// Details contains additional context.
	Details map[string]string
}

// ValidationErrorCode categorizes validation errors.
type ValidationErrorCode string

const (
	// ErrCodeOrphanedSelector indicates one facet would be live at two addresses.
	ErrCodeOrphanedSelector ValidationErrorCode = "ORPHANED_SELECTOR"

	// ErrCodeMissingInitTarget indicates an initializer has no address to call.
	ErrCodeMissingInitTarget ValidationErrorCode = "MISSING_INIT_TARGET"
)

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.FacetName != "" {
		return fmt.Sprintf("%s: %s (facet=%s)", e.Code, e.Message, e.FacetName)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsValidationError returns true if err wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NewOrphanError creates a ValidationError for a facet live at two addresses.
func NewOrphanError(facet, first, second string) *ValidationError {
	return &ValidationError{
		Code:      ErrCodeOrphanedSelector,
		Message:   "facet has live selectors at two different addresses",
		FacetName: facet,
		Details: map[string]string{
			"first_address":  first,
			"second_address": second,
		},
	}
}

// NewMissingInitTargetError creates a ValidationError for an initializer
// whose facet has neither a candidate nor a deployed address.
func NewMissingInitTargetError(facet, function string) *ValidationError {
	return &ValidationError{
		Code:      ErrCodeMissingInitTarget,
		Message:   fmt.Sprintf("initializer %q has no target address", function),
		FacetName: facet,
		Details: map[string]string{
			"function": function,
		},
	}
}
