// Package apperrors defines the error taxonomy shared by the engine.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies errors for handling decisions.
type Kind string

const (
	KindNotFound        Kind = "not_found"        // Required record missing
	KindValidation      Kind = "validation"       // Malformed input
	KindConflict        Kind = "conflict"         // Record not in the state the operation requires
	KindExternalService Kind = "external_service" // Research / image / provider failure
	KindLLM             Kind = "llm"              // LLM generation failure
	KindStorage         Kind = "storage"          // Blob storage failure
	KindWorkflow        Kind = "workflow"         // Unclassified pipeline failure
)

var statusByKind = map[Kind]int{
	KindNotFound:        http.StatusNotFound,
	KindValidation:      http.StatusUnprocessableEntity,
	KindConflict:        http.StatusConflict,
	KindExternalService: http.StatusBadGateway,
	KindLLM:             http.StatusBadGateway,
	KindStorage:         http.StatusServiceUnavailable,
	KindWorkflow:        http.StatusInternalServerError,
}

// Error is a categorized engine error. Error() yields the message that is
// shown to users and persisted on failed runs.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Details map[string]interface{}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same kind. An LLM error also matches the
// external service kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind == t.Kind {
		return true
	}
	return e.Kind == KindLLM && t.Kind == KindExternalService
}

// HTTPStatus maps the kind to a response status.
func (e *Error) HTTPStatus() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// WithDetail adds contextual information.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Sentinels usable with errors.Is.
var (
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrValidation      = &Error{Kind: KindValidation}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrExternalService = &Error{Kind: KindExternalService}
	ErrLLM             = &Error{Kind: KindLLM}
	ErrStorage         = &Error{Kind: KindStorage}
	ErrWorkflow        = &Error{Kind: KindWorkflow}
)

// NotFound reports a missing record of the given resource.
func NotFound(resource, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s not found: %s", resource, id)}
}

// Validation reports malformed input.
func Validation(message string, cause error) *Error {
	return &Error{Kind: KindValidation, Message: message, Cause: cause}
}

// Conflict reports a state transition that no longer applies.
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// ExternalService reports a failure of a remote capability.
func ExternalService(service string, cause error) *Error {
	return &Error{Kind: KindExternalService, Message: service + " request failed", Cause: cause}
}

// LLM reports a generation failure of the named provider.
func LLM(provider string, cause error) *Error {
	return &Error{Kind: KindLLM, Message: provider + " generation failed", Cause: cause}
}

// Storage reports a blob storage failure.
func Storage(message string, cause error) *Error {
	return &Error{Kind: KindStorage, Message: message, Cause: cause}
}

// Workflow reports a pipeline failure not otherwise classified.
func Workflow(message string, cause error) *Error {
	return &Error{Kind: KindWorkflow, Message: message, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindWorkflow when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindWorkflow
}
