package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/creativemri/internal/tokens"
)

func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !validBearer(r, token) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// StreamAuth accepts either the bearer token or a stream token issued for the
// job named by the {id} route parameter, passed as ?token=. EventSource
// clients cannot set headers.
func StreamAuth(token string, streams *tokens.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if validBearer(r, token) {
				next.ServeHTTP(w, r)
				return
			}
			if streams != nil && streams.Valid(r.URL.Query().Get("token"), chi.URLParam(r, "id")) {
				next.ServeHTTP(w, r)
				return
			}
			httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer or stream token")
		})
	}
}

func validBearer(r *http.Request, token string) bool {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	return strings.HasPrefix(auth, prefix) && subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) == 1
}
