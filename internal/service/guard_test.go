package service

import "testing"

func TestGuardAuthorize(t *testing.T) {
	var g Guard
	u1 := Principal{ID: "u1", Role: RoleStandard}
	admin := Principal{ID: "admin1", Role: RoleAdmin}

	tests := []struct {
		name   string
		actor  Principal
		target string
		want   bool
	}{
		{"standard on self", u1, "u1", true},
		{"standard on other", u1, "u2", false},
		{"admin on other", admin, "u2", true},
		{"admin on self", admin, "admin1", true},
		{"admin on empty target", admin, "", true},
		{"anonymous on empty target", Principal{Role: RoleStandard}, "", false},
		{"unknown role on other", Principal{ID: "u1"}, "u2", false},
	}

	for _, tt := range tests {
		d := g.Authorize(tt.actor, tt.target)
		if d.Allowed != tt.want {
			t.Errorf("%s: expected allowed=%v, got %v", tt.name, tt.want, d.Allowed)
		}
		if !d.Allowed && d.Reason != ReasonOwnResourcesOnly {
			t.Errorf("%s: unexpected reason %q", tt.name, d.Reason)
		}
	}
}

func TestGuardCheckReturnsForbidden(t *testing.T) {
	var g Guard
	err := g.Check(Principal{ID: "u1", Role: RoleStandard}, "u2")
	if KindOf(err) != KindForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err.Error() != ReasonOwnResourcesOnly {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if err := g.Check(Principal{ID: "u1", Role: RoleStandard}, "u1"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"ADMIN", RoleAdmin, false},
		{"admin", RoleAdmin, false},
		{"STANDARD", RoleStandard, false},
		{" user ", RoleStandard, false},
		{"operator", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRole(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseRole(%q) = %q, %v", tt.in, got, err)
		}
	}
}
