package database

import (
	"fmt"
	"strings"
	"time"

	"access_grant_service/internal/domain/grant"
)

// whereBuilder accumulates AND-ed conditions with numbered placeholders.
type whereBuilder struct {
	conds []string
	args  []any
}

// arg registers v and returns its placeholder.
func (w *whereBuilder) arg(v any) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *whereBuilder) add(cond string) {
	w.conds = append(w.conds, cond)
}

func (w *whereBuilder) String() string {
	if len(w.conds) == 0 {
		return "TRUE"
	}
	return strings.Join(w.conds, " AND ")
}

// granteeWhere builds the predicate behind FindByGrantee. With an empty
// filter it selects grants inside their window that are neither revoked nor
// invalidated. WithRevoked or WithInvalidated each drop the window and
// their own null check.
func granteeWhere(granteeUserID, campaignID string, filter grant.GranteeFilter, now time.Time) (string, []any) {
	w := &whereBuilder{}
	w.add("grantee_user_id = " + w.arg(granteeUserID))
	w.add("campaign_id = " + w.arg(campaignID))
	if !filter.WithRevoked && !filter.WithInvalidated {
		p := w.arg(now)
		w.add("begin_at <= " + p)
		w.add("end_at > " + p)
	}
	if !filter.WithRevoked {
		w.add("revoked_at IS NULL")
	}
	if !filter.WithInvalidated {
		w.add("invalidated_at IS NULL")
	}
	return w.String(), w.args
}

// recipientWhere selects grants of a recipient that have begun and are not
// invalidated. Unless withPast is set, the window must still be open.
func recipientWhere(recipientUserID string, withPast bool, now time.Time) (string, []any) {
	w := &whereBuilder{}
	w.add("recipient_user_id = " + w.arg(recipientUserID))
	p := w.arg(now)
	w.add("begin_at <= " + p)
	if !withPast {
		w.add("end_at > " + p)
	}
	w.add("invalidated_at IS NULL")
	return w.String(), w.args
}

// unassignedWhere selects open grants without a recipient, optionally for
// one address. Revoked grants are left out even before the revoked sweep
// invalidates them.
func unassignedWhere(email string, now time.Time) (string, []any) {
	w := &whereBuilder{}
	w.add("recipient_user_id IS NULL")
	if email != "" {
		w.add("email = " + w.arg(email))
	}
	p := w.arg(now)
	w.add("begin_at <= " + p)
	w.add("end_at > " + p)
	w.add("revoked_at IS NULL")
	w.add("invalidated_at IS NULL")
	return w.String(), w.args
}
