package constraint

import (
	"context"
	"fmt"
	"math"
	"strings"

	"access_grant_service/internal/domain/grant"
)

// Names of the built-in constraints.
const (
	NameRequireRole         = "requireRole"
	NameNotSelf             = "notSelf"
	NamePerGranteeLimit     = "perGranteeLimit"
	NameRecipientNotGranted = "recipientNotGranted"
	NameCampaignRunning     = "campaignRunning"
	NameExpression          = "expression"
)

// NewDefaultRegistry returns a registry holding every built-in constraint.
func NewDefaultRegistry() (*Registry, error) {
	expr, err := NewExpression()
	if err != nil {
		return nil, err
	}

	r := NewRegistry()
	for name, c := range map[string]Constraint{
		NameRequireRole:         Func(requireRole),
		NameNotSelf:             Func(notSelf),
		NamePerGranteeLimit:     Func(perGranteeLimit),
		NameRecipientNotGranted: Func(recipientNotGranted),
		NameCampaignRunning:     Func(campaignRunning),
		NameExpression:          expr,
	} {
		if err := r.Register(name, c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// requireRole: {"role": "member"}. The grantee must hold role.
func requireRole(_ context.Context, c Context, _ Store) (bool, error) {
	role, err := stringSetting(c.Settings, "role")
	if err != nil {
		return false, err
	}
	return c.Grantee.HasRole(role), nil
}

// notSelf: grantees cannot grant to their own address.
func notSelf(_ context.Context, c Context, _ Store) (bool, error) {
	if c.Grantee == nil {
		return false, nil
	}
	return !strings.EqualFold(strings.TrimSpace(c.Grantee.Email), strings.TrimSpace(c.Email)), nil
}

// perGranteeLimit: {"grants": 5}. Caps the active grants a grantee holds in the campaign.
func perGranteeLimit(ctx context.Context, c Context, store Store) (bool, error) {
	limit, err := intSetting(c.Settings, "grants")
	if err != nil {
		return false, err
	}
	if c.Grantee == nil {
		return false, nil
	}
	active, err := store.FindByGrantee(ctx, c.Grantee.ID, c.Campaign.ID, grant.GranteeFilter{}, c.Now)
	if err != nil {
		return false, err
	}
	return len(active) < limit, nil
}

// recipientNotGranted: the address holds no active grant in this campaign yet.
func recipientNotGranted(ctx context.Context, c Context, store Store) (bool, error) {
	active, err := store.FindActiveByEmail(ctx, c.Campaign.ID, c.Email, c.Now)
	if err != nil {
		return false, err
	}
	return len(active) == 0, nil
}

// campaignRunning: the campaign's own availability window contains now.
func campaignRunning(_ context.Context, c Context, _ Store) (bool, error) {
	return c.Campaign.IsRunning(c.Now), nil
}

func stringSetting(settings map[string]any, key string) (string, error) {
	v, ok := settings[key]
	if !ok {
		return "", fmt.Errorf("setting %q is required", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("setting %q must be a non-empty string", key)
	}
	return s, nil
}

func intSetting(settings map[string]any, key string) (int, error) {
	v, ok := settings[key]
	if !ok {
		return 0, fmt.Errorf("setting %q is required", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("setting %q must be a whole number", key)
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("setting %q must be a number", key)
}
