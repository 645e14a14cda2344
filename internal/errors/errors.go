// Package errors provides structured error types for waymark.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for waymark.
const (
	// Store errors
	CodeWorkflowNotFound  Code = "WORKFLOW_NOT_FOUND"
	CodeMilestoneNotFound Code = "MILESTONE_NOT_FOUND"
	CodeMetadataInvalid   Code = "METADATA_INVALID"
	CodeStoreConstraint   Code = "STORE_CONSTRAINT"

	// Config errors
	CodeConfigInvalid Code = "CONFIG_INVALID"
)

// WaymarkError is the structured error type for waymark.
type WaymarkError struct {
	Code  Code
	What  string
	Why   string
	Fix   string
	Cause error
}

// Error implements the error interface.
func (e *WaymarkError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *WaymarkError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *WaymarkError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// Is reports whether target is a WaymarkError with the same code.
func (e *WaymarkError) Is(target error) bool {
	t, ok := target.(*WaymarkError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *WaymarkError) WithCause(err error) *WaymarkError {
	return &WaymarkError{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Fix:   e.Fix,
		Cause: err,
	}
}

// --- Error constructors ---

// ErrWorkflowNotFound returns an error when a workflow doesn't exist.
func ErrWorkflowNotFound(id string) *WaymarkError {
	return &WaymarkError{
		Code: CodeWorkflowNotFound,
		What: fmt.Sprintf("workflow %s not found", id),
		Why:  "No workflow with this ID exists in the store",
		Fix:  "Create the workflow first with 'waymark new', or check 'waymark status' for known workflows",
	}
}

// ErrMilestoneNotFound returns an error when a milestone doesn't exist.
func ErrMilestoneNotFound(id string) *WaymarkError {
	return &WaymarkError{
		Code: CodeMilestoneNotFound,
		What: fmt.Sprintf("milestone %s not found", id),
		Why:  "No milestone with this ID exists in the store",
		Fix:  "Create the milestone first with 'waymark milestone new'",
	}
}

// ErrMetadataInvalid returns an error when metadata cannot be serialized.
func ErrMetadataInvalid(action string, cause error) *WaymarkError {
	return &WaymarkError{
		Code:  CodeMetadataInvalid,
		What:  fmt.Sprintf("metadata for %q cannot be encoded", action),
		Why:   "Metadata must round-trip through JSON to be stored",
		Fix:   "Remove non-serializable values (channels, funcs, cycles) from the metadata map",
		Cause: cause,
	}
}

// ErrStoreConstraint wraps a low-level constraint violation with context.
func ErrStoreConstraint(what, fix string, cause error) *WaymarkError {
	return &WaymarkError{
		Code:  CodeStoreConstraint,
		What:  what,
		Why:   "The store rejected the write because a referenced row does not exist",
		Fix:   fix,
		Cause: cause,
	}
}

// ErrConfigInvalid returns an error for invalid configuration.
func ErrConfigInvalid(field, reason string) *WaymarkError {
	return &WaymarkError{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration: %s", field),
		Why:  reason,
		Fix:  "Check .waymark/config.yaml and fix the invalid field",
	}
}

// AsWaymarkError attempts to convert an error to a WaymarkError.
// Returns nil if the error is not a WaymarkError.
func AsWaymarkError(err error) *WaymarkError {
	var werr *WaymarkError
	if stderrors.As(err, &werr) {
		return werr
	}
	return nil
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	werr := AsWaymarkError(err)
	return werr != nil && werr.Code == code
}

// Wrap wraps a generic error into a WaymarkError with unknown code.
func Wrap(err error, what string) *WaymarkError {
	return &WaymarkError{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}
