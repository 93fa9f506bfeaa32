package middleware

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"admission-gateway/internal/service"

	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims extends RegisteredClaims with application-specific fields.
type CustomClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// NewJWTMiddleware returns a middleware that validates JWT tokens signed with HMAC.
// It checks the signing method, the token expiration and issuer (`iss`).
func NewJWTMiddleware(secret []byte, expectedIssuer string) func(http.Handler) http.Handler {
	return bearerMiddleware(func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, expectedIssuer, "")
}

// bearerMiddleware authenticates `Authorization: Bearer` tokens verified with keyFunc and
// stores the principal (`sub` + `role`) in the request context. Requests that already
// carry a principal, e.g. from an API key, pass through untouched.
func bearerMiddleware(keyFunc jwt.Keyfunc, expectedIssuer, expectedAudience string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := PrincipalFrom(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" {
				writeUnauthorized(w, "missing Authorization header")
				return
			}
			parts := strings.Fields(auth)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeUnauthorized(w, "invalid Authorization header format")
				return
			}

			var claims CustomClaims
			token, err := jwt.ParseWithClaims(parts[1], &claims, keyFunc)
			if err != nil {
				writeUnauthorized(w, "invalid token: "+err.Error())
				return
			}
			if !token.Valid {
				writeUnauthorized(w, "invalid token")
				return
			}

			if claims.ExpiresAt == nil || time.Now().After(claims.ExpiresAt.Time) {
				writeUnauthorized(w, "token is expired")
				return
			}
			if expectedIssuer != "" && claims.Issuer != expectedIssuer {
				writeUnauthorized(w, "invalid token issuer")
				return
			}
			if expectedAudience != "" && !slices.Contains(claims.Audience, expectedAudience) {
				writeUnauthorized(w, "invalid token audience")
				return
			}
			if claims.Subject == "" {
				writeUnauthorized(w, "token missing sub claim")
				return
			}
			role := service.RoleStandard
			if claims.Role != "" {
				if role, err = service.ParseRole(claims.Role); err != nil {
					writeUnauthorized(w, "invalid role claim")
					return
				}
			}

			p := service.Principal{ID: claims.Subject, Role: role}
			r.Header.Set("X-User-ID", p.ID)
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
