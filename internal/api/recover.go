package api

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/blueberrycongee/recall/internal/httputil"
	"github.com/blueberrycongee/recall/internal/observability"
	llmerrors "github.com/blueberrycongee/recall/pkg/errors"
)

// Recover turns handler panics into an internal_error envelope. The stack
// is logged and never written to the client.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("handler panic",
					"request_id", observability.RequestIDFromContext(r.Context()),
					"path", r.URL.Path,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				httputil.WriteError(w, llmerrors.NewInternalError("internal server error"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
