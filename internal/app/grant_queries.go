package app

import (
	"context"
	"fmt"

	"access_grant_service/internal/domain/campaign"
	"access_grant_service/internal/domain/grant"
	"access_grant_service/internal/infra/clock"
)

// GrantQueries answers read-only questions about grants. "Now" is always
// taken from the clock at the time of the call.
type GrantQueries struct {
	grants grant.Repository
	clock  clock.Clock
}

func NewGrantQueries(grants grant.Repository, clk clock.Clock) *GrantQueries {
	if clk == nil {
		clk = clock.Real()
	}
	return &GrantQueries{grants: grants, clock: clk}
}

// Unassigned lists active, valid grants that have no recipient yet.
func (q *GrantQueries) Unassigned(ctx context.Context) ([]*grant.Grant, error) {
	grants, err := q.grants.FindUnassigned(ctx, q.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to find unassigned grants: %w", err)
	}
	return grants, nil
}

// UnassignedByEmail is Unassigned restricted to one address.
func (q *GrantQueries) UnassignedByEmail(ctx context.Context, email string) ([]*grant.Grant, error) {
	grants, err := q.grants.FindUnassignedByEmail(ctx, email, q.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to find unassigned grants for %s: %w", email, err)
	}
	return grants, nil
}

// ByGrantee lists what a grantee handed out in a campaign. With an empty
// filter only active, unrevoked, valid grants are returned; each flag of
// the filter drops the time window and its own null check.
func (q *GrantQueries) ByGrantee(ctx context.Context, granteeUserID, campaignID string, filter grant.GranteeFilter) ([]*grant.Grant, error) {
	grants, err := q.grants.FindByGrantee(ctx, granteeUserID, campaignID, filter, q.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to find grants of grantee %s: %w", granteeUserID, err)
	}
	return grants, nil
}

// ByRecipient lists the valid grants a user received that have started.
// Unless withPast is set, grants whose period is over are left out.
func (q *GrantQueries) ByRecipient(ctx context.Context, recipientUserID string, withPast bool) ([]*grant.Grant, error) {
	grants, err := q.grants.FindByRecipient(ctx, recipientUserID, withPast, q.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to find grants of recipient %s: %w", recipientUserID, err)
	}
	return grants, nil
}

// Expired lists grants whose period ended but that are not invalidated yet.
func (q *GrantQueries) Expired(ctx context.Context) ([]*grant.Grant, error) {
	grants, err := q.grants.FindExpired(ctx, q.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to find expired grants: %w", err)
	}
	return grants, nil
}

// RevokedNotInvalidated lists revoked grants still waiting for invalidation.
func (q *GrantQueries) RevokedNotInvalidated(ctx context.Context) ([]*grant.Grant, error) {
	grants, err := q.grants.FindRevokedNotInvalidated(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find revoked grants: %w", err)
	}
	return grants, nil
}

// FollowupDue lists grants of c that were invalidated longer ago than the
// campaign's follow-up delay and have not been followed up.
func (q *GrantQueries) FollowupDue(ctx context.Context, c *campaign.Campaign) ([]*grant.Grant, error) {
	cutoff := c.EmailFollowup.SubtractFrom(q.clock.Now())
	grants, err := q.grants.FindFollowupDue(ctx, c.ID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to find grants due for follow-up in campaign %s: %w", c.Name, err)
	}
	return grants, nil
}

// Grant loads a single grant.
func (q *GrantQueries) Grant(ctx context.Context, id string) (*grant.Grant, error) {
	g, err := q.grants.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load grant %s: %w", id, err)
	}
	return g, nil
}
