/**
 * @description
 * This file contains custom middleware for the HTTP router. The settlement
 * service only talks to trusted chat front-ends, so authentication is a
 * shared internal API key rather than end-user credentials.
 *
 * @dependencies
 * - net/http: Standard Go library.
 */

package api

import (
	"net/http"
)

// InternalAuthMiddleware validates the internal API key for server-to-server
// calls. An empty required key disables the check, for local development.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-Internal-API-Key")
			if provided == "" || provided != requiredKey {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
