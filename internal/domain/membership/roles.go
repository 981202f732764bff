// internal/domain/membership/roles.go
package membership

import (
	"context"

	"access_grant_service/internal/domain/grant"
	"access_grant_service/internal/domain/user"
)

// RoleService owns the member role and the memberships that justify it.
// The grant lifecycle only asks for changes and reads back whether one happened.
type RoleService interface {
	// AddMemberRole grants the member role to u on behalf of g.
	// It reports whether the role was actually added.
	AddMemberRole(ctx context.Context, g *grant.Grant, u *user.User) (bool, error)

	// RemoveMemberRole removes the member role from u unless it is still
	// justified by an active membership or another active grant found
	// through lookup. It reports whether the role was actually removed.
	RemoveMemberRole(ctx context.Context, g *grant.Grant, u *user.User, lookup grant.RecipientLookup) (bool, error)

	// HasActiveMembership reports whether u has access from any source,
	// a membership or an active grant.
	HasActiveMembership(ctx context.Context, u *user.User) (bool, error)
}
