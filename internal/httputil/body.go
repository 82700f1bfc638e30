// Package httputil provides helpers for reading requests and writing JSON
// responses safely.
package httputil

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	llmerrors "github.com/blueberrycongee/recall/pkg/errors"
)

// DefaultMaxBodyBytes caps request bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 10 * 1024 * 1024

var ErrBodyTooLarge = errors.New("body too large")

// ReadLimitedBody reads up to maxBytes from reader and returns ErrBodyTooLarge when exceeded.
func ReadLimitedBody(reader io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}

	limited := io.LimitReader(reader, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return body, err
	}
	if int64(len(body)) > maxBytes {
		return body[:int(maxBytes)], ErrBodyTooLarge
	}
	return body, nil
}

// DecodeJSON reads r's body into v. An empty body leaves v untouched.
// Failures are returned as validation errors.
func DecodeJSON(r *http.Request, maxBytes int64, v any) error {
	body, err := ReadLimitedBody(r.Body, maxBytes)
	if errors.Is(err, ErrBodyTooLarge) {
		return llmerrors.NewValidationError("request body too large")
	}
	if err != nil {
		return llmerrors.NewValidationError("failed to read request body").Wrap(err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return llmerrors.NewValidationError("invalid JSON: " + err.Error()).Wrap(err)
	}
	return nil
}
