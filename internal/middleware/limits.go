package middleware

import (
	"mime"
	"net/http"

	"github.com/rs/zerolog/log"
)

// MaxRequestSize is the default body limit: chat payloads and observation lists stay small.
const MaxRequestSize = 1 << 20

// RequestSizeLimit rejects bodies over maxBytes up front when the length is declared,
// and caps streamed bodies otherwise.
func RequestSizeLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				log.Warn().
					Int64("content_length", r.ContentLength).
					Int64("max_size", maxBytes).
					Str("request_id", r.Header.Get("X-Request-ID")).
					Msg("request body too large")
				writeJSONError(w, http.StatusRequestEntityTooLarge, "invalid_input", "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// RequireJSON rejects non-empty request bodies that are not declared as JSON.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength == 0 || r.Method == http.MethodGet || r.Method == http.MethodDelete {
			next.ServeHTTP(w, r)
			return
		}
		ct := r.Header.Get("Content-Type")
		if ct == "" {
			next.ServeHTTP(w, r)
			return
		}
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
			writeJSONError(w, http.StatusUnsupportedMediaType, "invalid_input", "content type must be application/json")
			return
		}
		next.ServeHTTP(w, r)
	})
}
