package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/josh-kwaku/ledger-sync/internal/handler"
	"github.com/josh-kwaku/ledger-sync/internal/logging"
)

// OpsAuth admits requests that present token as a bearer token. It guards
// the operator routes that change transfer state.
func OpsAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				handler.RespondAppError(w, handler.ErrMissingToken, nil)
				return
			}

			presented, found := strings.CutPrefix(header, "Bearer ")
			if !found || presented == "" || token == "" ||
				subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				logging.FromContext(r.Context()).Warn("rejected operator request", "path", r.URL.Path)
				handler.RespondAppError(w, handler.ErrInvalidToken, nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
