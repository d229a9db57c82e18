package middleware

import (
	"net/http"
)

// LimitBodySize caps request bodies at maxSize bytes. Oversized bodies
// surface as an http.MaxBytesError when the handler reads them; a maxSize
// of zero or less disables the cap.
func LimitBodySize(maxSize int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxSize > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxSize)
			}

			next.ServeHTTP(w, r)
		})
	}
}
