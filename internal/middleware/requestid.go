package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

const maxRequestIDLen = 64

// RequestID ensures every request carries an X-Request-ID, echoed on the response.
// Caller-supplied ids are kept only when short and printable; otherwise a time-ordered
// UUID replaces them so log lines sort by arrival. An inbound X-User-ID is dropped:
// only the authenticators may set it.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del("X-User-ID")
		id := r.Header.Get("X-Request-ID")
		if !validRequestID(id) {
			id = newRequestID()
			r.Header.Set("X-Request-ID", id)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func newRequestID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}
