package app

import (
	"context"
	"errors"
	"fmt"

	"access_grant_service/internal/domain/grant"
	"access_grant_service/internal/domain/user"
)

// ErrAdminNotAuthorized is returned when a chat other than the configured
// admin chat issues an admin command.
var ErrAdminNotAuthorized = fmt.Errorf("performing user is not authorized as an admin")

// AdminService backs the support commands of the Telegram bot. Every call
// is checked against the admin chat, and changes are made on behalf of the
// configured admin account so that the usual role check applies.
type AdminService struct {
	grants          *GrantService
	queries         *GrantQueries
	users           user.Repository
	adminTelegramID int64
	adminUserID     string
}

func NewAdminService(gs *GrantService, q *GrantQueries, users user.Repository, adminTelegramID int64, adminUserID string) *AdminService {
	return &AdminService{
		grants:          gs,
		queries:         q,
		users:           users,
		adminTelegramID: adminTelegramID,
		adminUserID:     adminUserID,
	}
}

func (s *AdminService) actingAdmin(ctx context.Context, performingTelegramID int64) (*user.User, error) {
	if performingTelegramID != s.adminTelegramID {
		return nil, ErrAdminNotAuthorized
	}
	admin, err := s.users.GetByID(ctx, s.adminUserID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return nil, ErrAdminNotAuthorized
		}
		return nil, fmt.Errorf("failed to load admin account: %w", err)
	}
	return admin, nil
}

// RevokeGrant revokes a grant as the admin account.
func (s *AdminService) RevokeGrant(ctx context.Context, performingTelegramID int64, grantID string) (bool, error) {
	admin, err := s.actingAdmin(ctx, performingTelegramID)
	if err != nil {
		return false, err
	}
	return s.grants.Revoke(ctx, grantID, admin, nil)
}

// InvalidateGrant invalidates a grant right away with reason.
func (s *AdminService) InvalidateGrant(ctx context.Context, performingTelegramID int64, grantID, reason string) (bool, error) {
	if _, err := s.actingAdmin(ctx, performingTelegramID); err != nil {
		return false, err
	}
	g, err := s.queries.Grant(ctx, grantID)
	if err != nil {
		return false, err
	}
	return s.grants.Invalidate(ctx, g, reason)
}

// Unassigned lists open grants, optionally for a single address.
func (s *AdminService) Unassigned(ctx context.Context, performingTelegramID int64, email string) ([]*grant.Grant, error) {
	if _, err := s.actingAdmin(ctx, performingTelegramID); err != nil {
		return nil, err
	}
	if email == "" {
		return s.queries.Unassigned(ctx)
	}
	return s.queries.UnassignedByEmail(ctx, email)
}

// GrantsOf lists the grants received by the account registered under email.
func (s *AdminService) GrantsOf(ctx context.Context, performingTelegramID int64, email string, withPast bool) (*user.User, []*grant.Grant, error) {
	if _, err := s.actingAdmin(ctx, performingTelegramID); err != nil {
		return nil, nil, err
	}
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, nil, err
	}
	grants, err := s.queries.ByRecipient(ctx, u.ID, withPast)
	if err != nil {
		return nil, nil, err
	}
	return u, grants, nil
}

// Events returns the audit log of a grant.
func (s *AdminService) Events(ctx context.Context, performingTelegramID int64, grantID string) ([]*grant.Event, error) {
	if _, err := s.actingAdmin(ctx, performingTelegramID); err != nil {
		return nil, err
	}
	return s.grants.Events(ctx, grantID)
}
