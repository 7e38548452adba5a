package main

import (
	"crypto/subtle"
	"net/http"
)

// apiKeyMiddleware requires the configured key in the X-API-Key header.
// Without a configured key the API is open.
func (rm *RouteManager) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rm.apiKey == "" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(rm.apiKey)) != 1 {
			http.Error(w, "Invalid or missing API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
