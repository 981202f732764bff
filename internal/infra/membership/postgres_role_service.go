// Package membership keeps the member role of a user in line with the
// memberships and grants that entitle it.
package membership

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"access_grant_service/internal/domain/grant"
	"access_grant_service/internal/domain/user"
	"access_grant_service/internal/infra/clock"
)

// PostgresRoleService stores roles in the users.roles array. Both role
// updates are guarded so that concurrent callers change a user at most once.
type PostgresRoleService struct {
	db     *sql.DB
	role   string
	clock  clock.Clock
	logger *logrus.Entry
}

func NewPostgresRoleService(db *sql.DB, role string, clk clock.Clock, logger *logrus.Entry) *PostgresRoleService {
	if role == "" {
		role = user.RoleMember
	}
	return &PostgresRoleService{db: db, role: role, clock: clk, logger: logger.WithField("component", "role_service")}
}

func (s *PostgresRoleService) AddMemberRole(ctx context.Context, g *grant.Grant, u *user.User) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET roles = array_append(roles, $2), updated_at = NOW()
               WHERE id = $1 AND NOT ($2 = ANY(roles))`, u.ID, s.role)
	if err != nil {
		return false, fmt.Errorf("error adding role %s to user %s: %w", s.role, u.ID, err)
	}
	changed, err := affected(res)
	if err != nil {
		return false, err
	}
	if changed && !u.HasRole(s.role) {
		u.Roles = append(u.Roles, s.role)
	}
	s.logger.WithFields(logrus.Fields{"user_id": u.ID, "grant_id": g.ID, "changed": changed}).Debug("member role added")
	return changed, nil
}

func (s *PostgresRoleService) RemoveMemberRole(ctx context.Context, g *grant.Grant, u *user.User, lookup grant.RecipientLookup) (bool, error) {
	paid, err := s.hasPaidMembership(ctx, u.ID)
	if err != nil {
		return false, err
	}
	if paid {
		return false, nil
	}

	others, err := lookup(ctx, u.ID, false)
	if err != nil {
		return false, fmt.Errorf("error looking up other grants of user %s: %w", u.ID, err)
	}
	now := s.clock.Now()
	for _, other := range others {
		if other.ID != g.ID && other.IsActive(now) {
			s.logger.WithFields(logrus.Fields{"user_id": u.ID, "grant_id": g.ID, "kept_by": other.ID}).Debug("member role still justified")
			return false, nil
		}
	}

	res, err := s.db.ExecContext(ctx, `UPDATE users SET roles = array_remove(roles, $2), updated_at = NOW()
               WHERE id = $1 AND $2 = ANY(roles)`, u.ID, s.role)
	if err != nil {
		return false, fmt.Errorf("error removing role %s from user %s: %w", s.role, u.ID, err)
	}
	changed, err := affected(res)
	if err != nil {
		return false, err
	}
	if changed {
		u.Roles = slices.DeleteFunc(u.Roles, func(r string) bool { return r == s.role })
	}
	return changed, nil
}

func (s *PostgresRoleService) HasActiveMembership(ctx context.Context, u *user.User) (bool, error) {
	var active bool
	err := s.db.QueryRowContext(ctx, `SELECT
               EXISTS (SELECT 1 FROM memberships
                       WHERE user_id = $1 AND begin_at <= $2 AND (end_at IS NULL OR end_at > $2) AND canceled_at IS NULL)
               OR EXISTS (SELECT 1 FROM access_grants
                       WHERE recipient_user_id = $1 AND begin_at <= $2 AND end_at > $2
                         AND revoked_at IS NULL AND invalidated_at IS NULL)`, u.ID, s.clock.Now()).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("error checking memberships of user %s: %w", u.ID, err)
	}
	return active, nil
}

func (s *PostgresRoleService) hasPaidMembership(ctx context.Context, userID string) (bool, error) {
	var paid bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM memberships
               WHERE user_id = $1 AND begin_at <= $2 AND (end_at IS NULL OR end_at > $2) AND canceled_at IS NULL)`,
		userID, s.clock.Now()).Scan(&paid)
	if err != nil {
		return false, fmt.Errorf("error checking paid membership of user %s: %w", userID, err)
	}
	return paid, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error checking affected rows: %w", err)
	}
	return n > 0, nil
}
