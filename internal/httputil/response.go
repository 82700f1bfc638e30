package httputil

import (
	"net/http"

	"github.com/goccy/go-json"

	llmerrors "github.com/blueberrycongee/recall/pkg/errors"
)

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the {"error", "detail", "status_code"} envelope for err.
// Untyped errors are reported as internal_error without their text.
func WriteError(w http.ResponseWriter, err error) {
	e, ok := llmerrors.As(err)
	if !ok {
		e = llmerrors.NewInternalError("internal server error")
	}
	if e.Kind == llmerrors.KindRateLimited {
		w.Header().Set("Retry-After", "60")
	}
	WriteJSON(w, e.HTTPStatusCode(), e)
}
