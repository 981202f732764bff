// internal/domain/grant/grant.go
package grant

import (
	"database/sql"
	"errors"
	"time"
)

var ErrGrantNotFound = errors.New("access grant not found")

// Grant is a time-bounded access entitlement from a grantee to whoever owns
// Email. Corresponds to the 'access_grants' table.
type Grant struct {
	ID            string
	CampaignID    string
	GranteeUserID string
	Email         string // as entered by the grantee, before matching

	BeginAt time.Time // computed once at creation
	EndAt   time.Time

	RecipientUserID sql.NullString // set once an account with Email exists

	RevokedAt     sql.NullTime // terminal, set by the grantee or an admin
	InvalidatedAt sql.NullTime // terminal, set by the system
	FollowupAt    sql.NullTime // set once a follow-up went out for an invalidated grant

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive reports whether the grant entitles its recipient at now.
func (g *Grant) IsActive(now time.Time) bool {
	return !now.Before(g.BeginAt) && now.Before(g.EndAt) &&
		!g.RevokedAt.Valid && !g.InvalidatedAt.Valid
}

// IsExpired reports whether the window has closed. Expiry is never stored;
// it is derived from EndAt.
func (g *Grant) IsExpired(now time.Time) bool {
	return !now.Before(g.EndAt)
}

// IsAssigned reports whether a recipient account was matched.
func (g *Grant) IsAssigned() bool {
	return g.RecipientUserID.Valid && g.RecipientUserID.String != ""
}

// IsTerminal reports whether the grant was revoked or invalidated.
func (g *Grant) IsTerminal() bool {
	return g.RevokedAt.Valid || g.InvalidatedAt.Valid
}

// GranteeFilter widens the grantee view beyond currently active grants.
// Each flag independently drops the active window and its own terminal
// marker from the filter.
type GranteeFilter struct {
	WithRevoked     bool
	WithInvalidated bool
}

// Matches applies the filter in memory, mirroring the SQL predicate.
func (f GranteeFilter) Matches(g *Grant, now time.Time) bool {
	if !f.WithRevoked && !f.WithInvalidated {
		if now.Before(g.BeginAt) || !now.Before(g.EndAt) {
			return false
		}
	}
	if !f.WithRevoked && g.RevokedAt.Valid {
		return false
	}
	if !f.WithInvalidated && g.InvalidatedAt.Valid {
		return false
	}
	return true
}
