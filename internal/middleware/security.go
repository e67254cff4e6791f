// Package middleware holds small, composable HTTP wrappers.
package middleware

import "net/http"

// Security stamps defensive defaults before the handler runs, so they are on
// the wire even when the handler writes its response early.  Values placed by
// outer middleware are preserved; handlers may still overwrite the defaults.
func Security(next http.Handler) http.Handler {
	const (
		nosniff = "nosniff"
		xfo     = "DENY"
		refer   = "strict-origin-when-cross-origin"
	)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if h.Get("X-Content-Type-Options") == "" {
			h.Set("X-Content-Type-Options", nosniff)
		}
		if h.Get("X-Frame-Options") == "" {
			h.Set("X-Frame-Options", xfo)
		}
		if h.Get("Referrer-Policy") == "" {
			h.Set("Referrer-Policy", refer)
		}
		next.ServeHTTP(w, r)
	})
}
