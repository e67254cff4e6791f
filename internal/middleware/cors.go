// internal/middleware/cors.go
//
// Permissive CORS for the management API.  The desktop management tool
// calls /api from arbitrary origins, so the API tree answers preflights and
// stamps Access-Control-Allow-Origin on every response.  Administrative
// authentication is explicitly out of scope, which is why a wildcard origin
// is acceptable here.
package middleware

import "net/http"

// CORS answers OPTIONS preflights and adds permissive CORS headers.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
