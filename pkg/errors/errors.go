// Package errors defines the closed set of typed errors returned by recall.
// Every failure that reaches the HTTP layer is mapped to one of these kinds.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error is a typed service error carrying the HTTP status it maps to.
// Message is safe to show to clients; the wrapped cause is for logs only.
type Error struct {
	StatusCode int    `json:"status_code"`
	Kind       string `json:"error"`
	Message    string `json:"detail"`
	Retryable  bool   `json:"-"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s (code=%d): %v", e.Kind, e.Message, e.StatusCode, e.cause)
	}
	return fmt.Sprintf("[%s] %s (code=%d)", e.Kind, e.Message, e.StatusCode)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *Error) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Wrap returns a copy of e that records cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.cause = cause
	return &cp
}

// Error kinds.
const (
	KindInvalidQuery             = "invalid_query"
	KindValidation               = "validation_error"
	KindTokenBudgetExceeded      = "token_budget_exceeded"
	KindUnauthorized             = "unauthorized"
	KindNotFound                 = "not_found"
	KindRateLimited              = "rate_limited"
	KindStore                    = "store_error"
	KindMissingTable             = "missing_table"
	KindEmbedding                = "embedding_error"
	KindModelLoad                = "model_load_error"
	KindConfig                   = "config_error"
	KindSearch                   = "search_error"
	KindUpdate                   = "update_error"
	KindDelete                   = "delete_error"
	KindInternal                 = "internal_error"
	KindLLM                      = "llm_error"
	KindSummarization            = "summarization_error"
	KindSummarizationUnavailable = "summarization_unavailable"
)

func newError(status int, kind, message string, retryable bool) *Error {
	return &Error{StatusCode: status, Kind: kind, Message: message, Retryable: retryable}
}

// NewInvalidQueryError creates an invalid query error (400).
func NewInvalidQueryError(message string) *Error {
	return newError(http.StatusBadRequest, KindInvalidQuery, message, false)
}

// NewValidationError creates a request validation error (400).
func NewValidationError(message string) *Error {
	return newError(http.StatusBadRequest, KindValidation, message, false)
}

// NewTokenBudgetError creates a token budget exceeded error (400).
func NewTokenBudgetError(message string) *Error {
	return newError(http.StatusBadRequest, KindTokenBudgetExceeded, message, false)
}

// NewUnauthorizedError creates an authentication error (401).
func NewUnauthorizedError(message string) *Error {
	return newError(http.StatusUnauthorized, KindUnauthorized, message, false)
}

// NewNotFoundError creates a not found error (404).
func NewNotFoundError(message string) *Error {
	return newError(http.StatusNotFound, KindNotFound, message, false)
}

// NewRateLimitError creates a rate limit error (429).
func NewRateLimitError(message string) *Error {
	return newError(http.StatusTooManyRequests, KindRateLimited, message, true)
}

// NewStoreError creates a storage error (500). Storage failures are usually transient.
func NewStoreError(message string) *Error {
	return newError(http.StatusInternalServerError, KindStore, message, true)
}

// NewMissingTableError creates a missing table error (500).
func NewMissingTableError(message string) *Error {
	return newError(http.StatusInternalServerError, KindMissingTable, message, false)
}

// NewEmbeddingError creates an embedding failure error (500).
func NewEmbeddingError(message string) *Error {
	return newError(http.StatusInternalServerError, KindEmbedding, message, true)
}

// NewModelLoadError creates a model load error (500).
func NewModelLoadError(message string) *Error {
	return newError(http.StatusInternalServerError, KindModelLoad, message, false)
}

// NewConfigError creates a configuration error (500).
func NewConfigError(message string) *Error {
	return newError(http.StatusInternalServerError, KindConfig, message, false)
}

// NewSearchError creates a search failure error (500).
func NewSearchError(message string) *Error {
	return newError(http.StatusInternalServerError, KindSearch, message, true)
}

// NewUpdateError creates an update failure error (500).
func NewUpdateError(message string) *Error {
	return newError(http.StatusInternalServerError, KindUpdate, message, true)
}

// NewDeleteError creates a delete failure error (500).
func NewDeleteError(message string) *Error {
	return newError(http.StatusInternalServerError, KindDelete, message, true)
}

// NewInternalError creates an internal server error (500).
func NewInternalError(message string) *Error {
	return newError(http.StatusInternalServerError, KindInternal, message, false)
}

// NewLLMError creates an upstream language model error (502).
func NewLLMError(message string) *Error {
	return newError(http.StatusBadGateway, KindLLM, message, true)
}

// NewSummarizationError creates a summarization failure error (502).
func NewSummarizationError(message string) *Error {
	return newError(http.StatusBadGateway, KindSummarization, message, true)
}

// NewSummarizationUnavailableError creates a summarizer unreachable error (503).
func NewSummarizationUnavailableError(message string) *Error {
	return newError(http.StatusServiceUnavailable, KindSummarizationUnavailable, message, true)
}

// As reports whether err is or wraps an *Error and returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Ensure returns err unchanged when it already carries a typed error,
// otherwise it wraps err in the error produced by fallback.
func Ensure(err error, fallback func(string) *Error, message string) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	return fallback(message).Wrap(err)
}

// IsRetryable reports whether the request that produced err may be retried.
func IsRetryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable
	}
	return false
}
