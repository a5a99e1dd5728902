package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/coldcrate/fridgevision/internal/api/response"
)

// Recovery converts handler panics into a 500 with the standard error
// envelope instead of a dropped connection, so a crash while booking an
// upload or serving an inventory read stays inside the JSON contract.
// http.ErrAbortHandler is re-raised; it is the sanctioned way to abort a
// response mid-write.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				slog.Error("panic recovered",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				response.Error(w, http.StatusInternalServerError,
					"INTERNAL_ERROR", "An unexpected error occurred", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
