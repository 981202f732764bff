package database

import (
	"testing"
	"time"

	"access_grant_service/internal/domain/grant"
)

func TestGranteeWhere(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		filter   grant.GranteeFilter
		want     string
		wantArgs int
	}{
		{
			"active only", grant.GranteeFilter{},
			"grantee_user_id = $1 AND campaign_id = $2 AND begin_at <= $3 AND end_at > $3 AND revoked_at IS NULL AND invalidated_at IS NULL",
			3,
		},
		{
			"with revoked", grant.GranteeFilter{WithRevoked: true},
			"grantee_user_id = $1 AND campaign_id = $2 AND invalidated_at IS NULL",
			2,
		},
		{
			"with invalidated", grant.GranteeFilter{WithInvalidated: true},
			"grantee_user_id = $1 AND campaign_id = $2 AND revoked_at IS NULL",
			2,
		},
		{
			"everything", grant.GranteeFilter{WithRevoked: true, WithInvalidated: true},
			"grantee_user_id = $1 AND campaign_id = $2",
			2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := granteeWhere("u-1", "c-1", tt.filter, now)
			if where != tt.want {
				t.Errorf("where = %q\nwant    %q", where, tt.want)
			}
			if len(args) != tt.wantArgs {
				t.Errorf("args = %v, want %d", args, tt.wantArgs)
			}
		})
	}
}

func TestRecipientWhere(t *testing.T) {
	now := time.Now()

	where, args := recipientWhere("u-1", false, now)
	if want := "recipient_user_id = $1 AND begin_at <= $2 AND end_at > $2 AND revoked_at IS NULL AND invalidated_at IS NULL"; where != want {
		t.Errorf("current where = %q, want %q", where, want)
	}
	if len(args) != 2 {
		t.Errorf("current args = %v", args)
	}

	where, _ = recipientWhere("u-1", true, now)
	if want := "recipient_user_id = $1 AND begin_at <= $2 AND invalidated_at IS NULL"; where != want {
		t.Errorf("past where = %q, want %q", where, want)
	}
}

func TestUnassignedWhere(t *testing.T) {
	now := time.Now()

	where, args := unassignedWhere("", now)
	if want := "recipient_user_id IS NULL AND begin_at <= $1 AND end_at > $1 AND revoked_at IS NULL AND invalidated_at IS NULL"; where != want {
		t.Errorf("where = %q, want %q", where, want)
	}
	if len(args) != 1 {
		t.Errorf("args = %v", args)
	}

	where, args = unassignedWhere("a@example.com", now)
	if want := "recipient_user_id IS NULL AND email = $1 AND begin_at <= $2 AND end_at > $2 AND revoked_at IS NULL AND invalidated_at IS NULL"; where != want {
		t.Errorf("by email where = %q, want %q", where, want)
	}
	if args[0] != "a@example.com" {
		t.Errorf("first arg = %v, want the email", args[0])
	}
}

func TestEmptyWhereIsTrue(t *testing.T) {
	if got := (&whereBuilder{}).String(); got != "TRUE" {
		t.Errorf("String() = %q, want TRUE", got)
	}
}
