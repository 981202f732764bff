package app

import (
	"context"
	"testing"

	"access_grant_service/internal/domain/grant"
)

func TestByGranteeFilters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	active := h.create(t, "open", "a@example.com")
	revoked := h.create(t, "open", "b@example.com")
	invalidated := h.create(t, "open", "c@example.com")
	if _, err := h.svc.Revoke(ctx, revoked.ID, h.grantee, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.Invalidate(ctx, invalidated, grant.ReasonExpired); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		filter grant.GranteeFilter
		want   []string
	}{
		{"active only", grant.GranteeFilter{}, []string{active.ID}},
		{"with revoked", grant.GranteeFilter{WithRevoked: true}, []string{active.ID, revoked.ID}},
		{"with invalidated", grant.GranteeFilter{WithInvalidated: true}, []string{active.ID, invalidated.ID}},
		{"everything", grant.GranteeFilter{WithRevoked: true, WithInvalidated: true}, []string{active.ID, revoked.ID, invalidated.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.queries.ByGrantee(ctx, h.grantee.ID, "open", tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ByGrantee() = %d grants, want %d", len(got), len(tt.want))
			}
			found := map[string]bool{}
			for _, g := range got {
				found[g.ID] = true
			}
			for _, id := range tt.want {
				if !found[id] {
					t.Errorf("ByGrantee() misses %s", id)
				}
			}
		})
	}
}

func TestByRecipientWithPast(t *testing.T) {
	h := newHarness(t)
	h.signUp()
	ctx := context.Background()
	h.create(t, "members", h.recipient.Email)
	h.create(t, "open", h.recipient.Email)
	h.clock.Advance(40 * day)

	current, err := h.queries.ByRecipient(ctx, h.recipient.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	all, err := h.queries.ByRecipient(ctx, h.recipient.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(current) != 1 || len(all) != 2 {
		t.Errorf("ByRecipient() = %d current, %d with past; want 1 and 2", len(current), len(all))
	}
}

func TestUnassignedExcludesInvalidated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	keep := h.create(t, "open", "a@example.com")
	drop := h.create(t, "open", "b@example.com")
	if _, err := h.svc.Invalidate(ctx, drop, grant.ReasonRevoked); err != nil {
		t.Fatal(err)
	}

	got, err := h.queries.Unassigned(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != keep.ID {
		t.Errorf("Unassigned() = %v, want [%s]", got, keep.ID)
	}
}
