package service

import (
	"fmt"
	"strings"
)

// Role is the coarse privilege level of a principal.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleStandard Role = "STANDARD"
)

// ParseRole maps a claim or config value to a Role. "user" is accepted as STANDARD.
func ParseRole(s string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ADMIN":
		return RoleAdmin, nil
	case "STANDARD", "USER":
		return RoleStandard, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Principal is the identity making a request. It is supplied per request by the
// authentication layer and passed explicitly to every check.
type Principal struct {
	ID   string
	Role Role
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}
