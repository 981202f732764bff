package constraint

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"access_grant_service/internal/domain/campaign"
	"access_grant_service/internal/domain/user"
)

// Translator renders a localized message. It never affects control flow.
type Translator interface {
	T(key string, params map[string]any) string
}

// Violation is a failed constraint and its rendered message.
type Violation struct {
	Constraint string
	Message    string
}

// Evaluator runs a campaign's constraints against a grant request.
type Evaluator struct {
	registry *Registry
	store    Store
	logger   *logrus.Entry
}

func NewEvaluator(registry *Registry, store Store, logger *logrus.Entry) *Evaluator {
	return &Evaluator{registry: registry, store: store, logger: logger}
}

// MessageKey is the catalog key of the violation message for constraint name.
func MessageKey(name string) string {
	return fmt.Sprintf("api/access/constraint/%s/error", name)
}

// Evaluate checks every constraint of c, without short-circuiting, and
// returns the violations in campaign order. Constraints run concurrently.
// An unregistered name fails before anything is evaluated.
func (e *Evaluator) Evaluate(ctx context.Context, grantee *user.User, c *campaign.Campaign, email string, t Translator, now time.Time) ([]Violation, error) {
	resolved := make([]Constraint, len(c.Constraints))
	for i, spec := range c.Constraints {
		impl, err := e.registry.Lookup(spec.Name)
		if err != nil {
			return nil, err
		}
		resolved[i] = impl
	}

	valid := make([]bool, len(resolved))
	g, gctx := errgroup.WithContext(ctx)
	for i := range resolved {
		spec := c.Constraints[i]
		g.Go(func() error {
			ok, err := resolved[i].IsGrantable(gctx, Context{
				Settings: spec.Settings,
				Grantee:  grantee,
				Email:    email,
				Campaign: c,
				Now:      now,
			}, e.store)
			if err != nil {
				return fmt.Errorf("constraint %q: %w", spec.Name, err)
			}
			valid[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var violations []Violation
	for i, spec := range c.Constraints {
		e.logger.WithFields(logrus.Fields{
			"campaign":   c.Name,
			"constraint": spec.Name,
			"settings":   spec.Settings,
			"valid":      valid[i],
		}).Debug("constraint evaluated")

		if valid[i] {
			continue
		}
		params := make(map[string]any, len(spec.Settings)+1)
		for k, v := range spec.Settings {
			params[k] = v
		}
		params["email"] = email
		violations = append(violations, Violation{
			Constraint: spec.Name,
			Message:    t.T(MessageKey(spec.Name), params),
		})
	}
	return violations, nil
}
