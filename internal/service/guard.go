package service

// ReasonOwnResourcesOnly is the denial reason for every ownership violation.
const ReasonOwnResourcesOnly = "principal may only access own resources"

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Guard decides whether a principal may act on a target user's resources. The rule is
// the same for every operation: admins may act on anyone, everyone else only on
// themselves.
type Guard struct{}

// Authorize evaluates the ownership rule. It is pure and safe for concurrent use.
func (Guard) Authorize(actor Principal, targetUserID string) Decision {
	if actor.IsAdmin() {
		return Decision{Allowed: true}
	}
	if actor.ID != "" && actor.ID == targetUserID {
		return Decision{Allowed: true}
	}
	return Decision{Allowed: false, Reason: ReasonOwnResourcesOnly}
}

// Check is Authorize returning a Forbidden error on denial.
func (g Guard) Check(actor Principal, targetUserID string) error {
	d := g.Authorize(actor, targetUserID)
	if d.Allowed {
		return nil
	}
	return NewError(KindForbidden, d.Reason)
}
