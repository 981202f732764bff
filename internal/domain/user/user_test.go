package user

import (
	"database/sql"
	"testing"
)

func TestIsMeOrInRoles(t *testing.T) {
	owner := &User{ID: "owner"}
	stranger := &User{ID: "stranger", Roles: []string{RoleMember}}
	supporter := &User{ID: "support", Roles: []string{RoleMember, RoleSupporter}}
	elevated := []string{RoleAdmin, RoleSupporter}

	tests := []struct {
		name  string
		owner *User
		actor *User
		want  bool
	}{
		{"owner", owner, owner, true},
		{"same id, other instance", owner, &User{ID: "owner"}, true},
		{"stranger", owner, stranger, false},
		{"supporter", owner, supporter, true},
		{"no actor", owner, nil, false},
		{"unknown owner, stranger", nil, stranger, false},
		{"unknown owner, supporter", nil, supporter, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMeOrInRoles(tt.owner, tt.actor, elevated); got != tt.want {
				t.Errorf("IsMeOrInRoles = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDisplayName(t *testing.T) {
	u := &User{FirstName: "Ada"}
	if got := u.DisplayName(); got != "Ada" {
		t.Errorf("DisplayName() = %q", got)
	}
	u.LastName = sql.NullString{String: "Lovelace", Valid: true}
	if got := u.DisplayName(); got != "Ada Lovelace" {
		t.Errorf("DisplayName() = %q", got)
	}
}

func TestHasRoleOnNilUser(t *testing.T) {
	var u *User
	if u.HasRole(RoleMember) || u.HasAnyRole([]string{RoleMember}) {
		t.Error("nil user should hold no roles")
	}
}
