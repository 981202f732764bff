// Package constraint holds the eligibility policies a campaign can require
// before a grant is issued, the registry resolving them by name, and the
// evaluator running a campaign's list.
package constraint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"access_grant_service/internal/domain/campaign"
	"access_grant_service/internal/domain/grant"
	"access_grant_service/internal/domain/user"
)

// Context is what a constraint sees about the grant being requested.
type Context struct {
	Settings map[string]any
	Grantee  *user.User
	Email    string
	Campaign *campaign.Campaign
	Now      time.Time
}

// Store is the read access constraints get to existing grants.
type Store interface {
	FindByGrantee(ctx context.Context, granteeUserID, campaignID string, filter grant.GranteeFilter, now time.Time) ([]*grant.Grant, error)
	FindActiveByEmail(ctx context.Context, campaignID, email string, now time.Time) ([]*grant.Grant, error)
}

// Constraint is one eligibility policy.
type Constraint interface {
	IsGrantable(ctx context.Context, c Context, store Store) (bool, error)
}

// Func adapts a function to Constraint.
type Func func(ctx context.Context, c Context, store Store) (bool, error)

func (f Func) IsGrantable(ctx context.Context, c Context, store Store) (bool, error) {
	return f(ctx, c, store)
}

// ErrEmptyPeriod means a campaign would issue grants that end as they begin.
var ErrEmptyPeriod = errors.New("campaign has no grant period")

// UnknownConstraintError means a campaign names a constraint nobody registered.
// It is a configuration error, not a policy failure.
type UnknownConstraintError struct {
	Name string
}

func (e *UnknownConstraintError) Error() string {
	return fmt.Sprintf("unable to evaluate constraint %q: not registered", e.Name)
}

// Registry maps constraint names to implementations. It is filled at
// startup and read concurrently afterwards.
type Registry struct {
	constraints map[string]Constraint
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constraints: map[string]Constraint{}}
}

// Register adds c under name. Names are unique.
func (r *Registry) Register(name string, c Constraint) error {
	if name == "" || c == nil {
		return fmt.Errorf("register constraint: name and implementation are required")
	}
	if _, exists := r.constraints[name]; exists {
		return fmt.Errorf("register constraint: %q already registered", name)
	}
	r.constraints[name] = c
	return nil
}

// Lookup resolves name.
func (r *Registry) Lookup(name string) (Constraint, error) {
	c, ok := r.constraints[name]
	if !ok {
		return nil, &UnknownConstraintError{Name: name}
	}
	return c, nil
}

// Names lists the registered names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.constraints))
	for name := range r.constraints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that c has a grant period and that every constraint of
// c resolves.
func (r *Registry) Validate(c *campaign.Campaign) error {
	if c.PeriodInterval.IsZero() {
		return fmt.Errorf("campaign %s: %w", c.ID, ErrEmptyPeriod)
	}
	for _, spec := range c.Constraints {
		if _, err := r.Lookup(spec.Name); err != nil {
			return fmt.Errorf("campaign %s: %w", c.ID, err)
		}
	}
	return nil
}
