package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error types for classifying lifecycle failures

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeAmbiguous     ErrorType = "ambiguous"
	ErrorTypeAlreadyLoaded ErrorType = "already_loaded"
	ErrorTypeNotLoaded     ErrorType = "not_loaded"
	ErrorTypeHookFailure   ErrorType = "hook_failure"
	ErrorTypeProtected     ErrorType = "protected"
	ErrorTypeConflict      ErrorType = "conflict"
	ErrorTypeDiscovery     ErrorType = "discovery"
	ErrorTypeIO            ErrorType = "io"
	ErrorTypeProcess       ErrorType = "process"
	ErrorTypeInternal      ErrorType = "internal"
	ErrorTypeCancelled     ErrorType = "cancelled"
)

const (
	contextKeyUnit       = "unit"
	contextKeyCandidates = "candidates"
	contextKeyProtected  = "protected"
	contextKeyRaw        = "raw"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

// NewAmbiguousError reports a raw name that matched several units.
// The candidate list is sorted and kept verbatim for display.
func NewAmbiguousError(raw string, candidates []string) *DomainError {
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	return NewDomainError(ErrorTypeAmbiguous,
		fmt.Sprintf("%q matches %d units: %s", raw, len(sorted), strings.Join(sorted, ", ")), nil).
		WithContext(contextKeyRaw, raw).
		WithContext(contextKeyCandidates, sorted)
}

// Lifecycle errors

func NewAlreadyLoadedError(unit string) *DomainError {
	return NewDomainError(ErrorTypeAlreadyLoaded, "unit is already loaded", nil).WithContext(contextKeyUnit, unit)
}

func NewNotLoadedError(unit string) *DomainError {
	return NewDomainError(ErrorTypeNotLoaded, "unit is not loaded", nil).WithContext(contextKeyUnit, unit)
}

// NewHookError wraps a failure raised by a unit's own setup or teardown code.
func NewHookError(verb string, unit string, cause error) *DomainError {
	return NewDomainError(ErrorTypeHookFailure, fmt.Sprintf("failed to %s %s", verb, unit), cause).
		WithContext(contextKeyUnit, unit).
		WithContext("verb", verb)
}

func NewProtectedError(names []string) *DomainError {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return NewDomainError(ErrorTypeProtected,
		fmt.Sprintf("may not be unloaded: %s", strings.Join(sorted, ", ")), nil).
		WithContext(contextKeyProtected, sorted)
}

func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

func NewDiscoveryError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeDiscovery, message, cause)
}

// System errors
func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

// Error checking helpers
func isType(err error, errorType ErrorType) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == errorType
}

func IsValidationError(err error) bool    { return isType(err, ErrorTypeValidation) }
func IsNotFoundError(err error) bool      { return isType(err, ErrorTypeNotFound) }
func IsAmbiguousError(err error) bool     { return isType(err, ErrorTypeAmbiguous) }
func IsAlreadyLoadedError(err error) bool { return isType(err, ErrorTypeAlreadyLoaded) }
func IsNotLoadedError(err error) bool     { return isType(err, ErrorTypeNotLoaded) }
func IsHookError(err error) bool          { return isType(err, ErrorTypeHookFailure) }
func IsProtectedError(err error) bool     { return isType(err, ErrorTypeProtected) }
func IsConflictError(err error) bool      { return isType(err, ErrorTypeConflict) }
func IsDiscoveryError(err error) bool     { return isType(err, ErrorTypeDiscovery) }
func IsIOError(err error) bool            { return isType(err, ErrorTypeIO) }
func IsProcessError(err error) bool       { return isType(err, ErrorTypeProcess) }
func IsInternalError(err error) bool      { return isType(err, ErrorTypeInternal) }
func IsCancelledError(err error) bool     { return isType(err, ErrorTypeCancelled) }

// Candidates returns the sorted candidate names carried by an ambiguous-name error.
func Candidates(err error) []string {
	return stringsFromContext(err, ErrorTypeAmbiguous, contextKeyCandidates)
}

// ProtectedNames returns the names carried by a protected-unit error.
func ProtectedNames(err error) []string {
	return stringsFromContext(err, ErrorTypeProtected, contextKeyProtected)
}

func stringsFromContext(err error, errorType ErrorType, key string) []string {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Type != errorType {
		return nil
	}
	values, _ := domainErr.Context[key].([]string)
	return values
}

// RawName returns the user input carried by a not-found or ambiguous-name error.
func RawName(err error) string {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return ""
	}
	raw, _ := domainErr.Context[contextKeyRaw].(string)
	return raw
}

// HookCause returns the innermost error raised by a unit hook, so that its
// original message can be shown without the wrapping context.
func HookCause(err error) error {
	var domainErr *DomainError
	if errors.As(err, &domainErr) && domainErr.Type == ErrorTypeHookFailure && domainErr.Cause != nil {
		return domainErr.Cause
	}
	return err
}

// Error aggregation for bulk operations
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(e.Errors), e.Errors[0])
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// NewErrorCollection creates a new error collection
func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}
