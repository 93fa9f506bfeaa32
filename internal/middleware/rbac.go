package middleware

import (
	"net/http"
	"strings"

	"admission-gateway/internal/service"

	"github.com/rs/zerolog/log"
)

// RBACMiddleware restricts which path prefixes each role may reach. It is a
// coarse route gate; per-resource ownership is decided by the gateway's guard.
type RBACMiddleware struct {
	rolePermissions map[service.Role][]string
}

func NewRBACMiddleware(rolePermissions map[service.Role][]string) *RBACMiddleware {
	if rolePermissions == nil {
		rolePermissions = make(map[service.Role][]string)
	}
	return &RBACMiddleware{
		rolePermissions: rolePermissions,
	}
}

func (rm *RBACMiddleware) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				writeUnauthorized(w, "authentication required")
				return
			}

			if !rm.hasAccessToPath(p.Role, r.URL.Path) {
				log.Info().
					Str("principal", p.ID).
					Str("role", string(p.Role)).
					Str("path", r.URL.Path).
					Msg("rbac denied")
				writeJSONError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rm *RBACMiddleware) hasAccessToPath(role service.Role, path string) bool {
	for _, perm := range rm.rolePermissions[role] {
		if matchPath(perm, path) {
			return true
		}
	}
	return false
}

// matchPath checks if a permission pattern matches a path.
// /admin/* matches /admin/quotas but not /admin.
func matchPath(pattern, path string) bool {
	if pattern == path {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		return strings.HasPrefix(path, prefix+"/")
	}
	return false
}

// RequireRole only admits principals holding role.
func RequireRole(role service.Role) func(http.Handler) http.Handler {
	return NewRBACMiddleware(map[service.Role][]string{role: {"/*"}}).Handler()
}

// DefaultRolePermissions lets every authenticated principal reach the user
// routes and reserves the admin surface for ADMIN.
func DefaultRolePermissions() map[service.Role][]string {
	return map[service.Role][]string{
		service.RoleAdmin: {
			"/admin/*",
			"/users/*",
		},
		service.RoleStandard: {
			"/users/*",
		},
	}
}
