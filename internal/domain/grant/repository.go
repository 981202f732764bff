package grant

import (
	"context"
	"time"
)

// Repository persists grants and their events.
//
// The transition methods (Revoke, Invalidate, MarkFollowedUp, SetRecipient)
// are single conditional updates: the null-guard is evaluated by the store at
// write time, and the event is appended in the same transaction only when a
// row was affected. A false result with a nil error means another caller got
// there first.
type Repository interface {
	// Create inserts the grant and its creation event atomically.
	Create(ctx context.Context, g *Grant, ev *Event) error
	GetByID(ctx context.Context, id string) (*Grant, error)

	// SetRecipient assigns recipientUserID unless it is already assigned to that user.
	SetRecipient(ctx context.Context, id, recipientUserID string, at time.Time, ev *Event) (bool, error)
	// Revoke sets revoked_at where both revoked_at and invalidated_at are null.
	Revoke(ctx context.Context, id string, at time.Time, ev *Event) (bool, error)
	// Invalidate sets invalidated_at where it is null.
	Invalidate(ctx context.Context, id string, at time.Time, ev *Event) (bool, error)
	// MarkFollowedUp sets followup_at where it is null and the grant is invalidated.
	MarkFollowedUp(ctx context.Context, id string, at time.Time, ev *Event) (bool, error)

	FindUnassigned(ctx context.Context, now time.Time) ([]*Grant, error)
	FindUnassignedByEmail(ctx context.Context, email string, now time.Time) ([]*Grant, error)
	FindByGrantee(ctx context.Context, granteeUserID, campaignID string, filter GranteeFilter, now time.Time) ([]*Grant, error)
	FindByRecipient(ctx context.Context, recipientUserID string, withPast bool, now time.Time) ([]*Grant, error)
	FindActiveByEmail(ctx context.Context, campaignID, email string, now time.Time) ([]*Grant, error)
	FindExpired(ctx context.Context, now time.Time) ([]*Grant, error)
	FindRevokedNotInvalidated(ctx context.Context) ([]*Grant, error)
	FindFollowupDue(ctx context.Context, campaignID string, invalidatedBefore time.Time) ([]*Grant, error)

	ListEvents(ctx context.Context, grantID string) ([]*Event, error)
}

// RecipientLookup lists a recipient's grants. It is handed to the role
// service so that it can tell whether a role is still justified by another
// grant before removing it.
type RecipientLookup func(ctx context.Context, recipientUserID string, withPast bool) ([]*Grant, error)
