package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"access_grant_service/internal/app/constraint"
	"access_grant_service/internal/domain/campaign"
	"access_grant_service/internal/domain/grant"
	"access_grant_service/internal/domain/mail"
	"access_grant_service/internal/domain/membership"
	"access_grant_service/internal/domain/push"
	"access_grant_service/internal/domain/user"
	"access_grant_service/internal/infra/clock"
	"access_grant_service/internal/infra/metrics"
)

// Transition names used for logging and metrics.
const (
	TransitionCreate     = "create"
	TransitionMatch      = "match"
	TransitionRevoke     = "revoke"
	TransitionInvalidate = "invalidate"
	TransitionFollowUp   = "followup"
)

// Side-effect steps, as reported by the side effect failure counter.
const (
	stepPublish     = "publish_event"
	stepOnboarding  = "mail_onboarding"
	stepExpiredMail = "mail_expired"
	stepFollowup    = "mail_followup"
	stepSubscribe   = "enforce_subscriptions"
	stepAddRole     = "add_member_role"
	stepRemoveRole  = "remove_member_role"
	stepMembership  = "membership_lookup"
	stepPush        = "push_match"
	stepMatch       = "match_after_create"
	stepLoadUsers   = "load_users"
)

// GrantServiceDeps wires the collaborators of GrantService.
type GrantServiceDeps struct {
	Grants    grant.Repository
	Campaigns campaign.Repository
	Users     user.Repository
	Roles     membership.RoleService
	Mailer    mail.Mailer
	Push      push.Publisher
	Events    grant.EventPublisher
	Evaluator *constraint.Evaluator
	// Translator renders messages produced outside a request, such as
	// push notifications sent by the sweeps.
	Translator    constraint.Translator
	Clock         clock.Clock
	ElevatedRoles []string
	Metrics       *metrics.Metrics
	Logger        *logrus.Entry
}

// GrantService drives grants through their lifecycle. Every transition is
// one conditional write in the repository; the side effects that follow a
// committed write are best effort and never undo it.
type GrantService struct {
	grants        grant.Repository
	campaigns     campaign.Repository
	users         user.Repository
	roles         membership.RoleService
	mailer        mail.Mailer
	push          push.Publisher
	events        grant.EventPublisher
	evaluator     *constraint.Evaluator
	translator    constraint.Translator
	clock         clock.Clock
	elevatedRoles []string
	metrics       *metrics.Metrics
	logger        *logrus.Entry
	newID         func() string
}

func NewGrantService(d GrantServiceDeps) *GrantService {
	events := d.Events
	if events == nil {
		events = grant.NopPublisher{}
	}
	pusher := d.Push
	if pusher == nil {
		pusher = push.Disabled{Reason: "no push channel"}
	}
	clk := d.Clock
	if clk == nil {
		clk = clock.Real()
	}
	translator := d.Translator
	if translator == nil {
		translator = keyTranslator{}
	}
	elevated := d.ElevatedRoles
	if len(elevated) == 0 {
		elevated = []string{user.RoleAdmin, user.RoleSupporter}
	}
	return &GrantService{
		grants:        d.Grants,
		campaigns:     d.Campaigns,
		users:         d.Users,
		roles:         d.Roles,
		mailer:        d.Mailer,
		push:          pusher,
		events:        events,
		evaluator:     d.Evaluator,
		translator:    translator,
		clock:         clk,
		elevatedRoles: elevated,
		metrics:       d.Metrics,
		logger:        d.Logger.WithField("component", "grant_service"),
		newID:         uuid.NewString,
	}
}

// Create grants access to email on behalf of grantee. The campaign's
// constraints are evaluated first; if any fails nothing is written and a
// *ConstraintViolationError is returned. On success the grant and its
// "grant" event are committed together, then the grantee is mailed and the
// grant is matched against an existing account.
func (s *GrantService) Create(ctx context.Context, grantee *user.User, campaignID, email string, t constraint.Translator) (*grant.Grant, error) {
	if t == nil {
		t = s.translator
	}
	log := s.logger.WithFields(logrus.Fields{"transition": TransitionCreate, "campaign_id": campaignID})

	if !validEmail(email) {
		s.metrics.Transition(TransitionCreate, metrics.OutcomeDenied)
		return nil, &LocalizedError{Err: ErrInvalidEmail, Message: t.T("api/access/grant/email/error", map[string]any{"email": email})}
	}

	c, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		if errors.Is(err, campaign.ErrCampaignNotFound) {
			s.metrics.Transition(TransitionCreate, metrics.OutcomeDenied)
			return nil, &LocalizedError{Err: ErrCampaignNotFound, Message: t.T("api/access/grant/campaign/error", map[string]any{"campaignId": campaignID})}
		}
		s.metrics.Transition(TransitionCreate, metrics.OutcomeError)
		return nil, fmt.Errorf("failed to load campaign %s: %w", campaignID, err)
	}

	now := s.clock.Now()
	endAt := c.PeriodInterval.AddTo(now)
	if !endAt.After(now) {
		s.metrics.Transition(TransitionCreate, metrics.OutcomeError)
		return nil, fmt.Errorf("campaign %s issues grants ending at %s: %w", c.Name, endAt.Format(time.RFC3339), ErrEmptyPeriod)
	}
	violations, err := s.evaluator.Evaluate(ctx, grantee, c, email, t, now)
	if err != nil {
		s.metrics.Transition(TransitionCreate, metrics.OutcomeError)
		return nil, fmt.Errorf("failed to evaluate constraints of campaign %s: %w", c.Name, err)
	}
	if len(violations) > 0 {
		names := make([]string, 0, len(violations))
		for _, v := range violations {
			s.metrics.ConstraintViolation(v.Constraint)
			names = append(names, v.Constraint)
		}
		s.metrics.Transition(TransitionCreate, metrics.OutcomeDenied)
		log.WithField("violations", strings.Join(names, ",")).Info("grant request rejected by constraints")
		return nil, &ConstraintViolationError{Message: violations[0].Message, Violations: violations}
	}

	g := &grant.Grant{
		ID:            s.newID(),
		CampaignID:    c.ID,
		GranteeUserID: grantee.ID,
		Email:         email,
		BeginAt:       now,
		EndAt:         endAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	ev := s.newEvent(g.ID, grant.EventGrant, now, map[string]any{
		"granteeUserId": grantee.ID,
		"email":         email,
	})
	if err := s.grants.Create(ctx, g, ev); err != nil {
		s.metrics.Transition(TransitionCreate, metrics.OutcomeError)
		return nil, fmt.Errorf("failed to create grant: %w", err)
	}
	s.metrics.Transition(TransitionCreate, metrics.OutcomeApplied)
	log = log.WithField("grant_id", g.ID)
	log.WithField("end_at", g.EndAt).Info("grant created")

	s.publish(ctx, log, g, ev)
	if err := s.mailer.SendRecipientOnboarding(ctx, grantee, c, g); err != nil {
		s.sideEffectFailed(log, stepOnboarding, err)
	}
	if err := s.Match(ctx, g); err != nil {
		s.sideEffectFailed(log, stepMatch, err)
	}
	return g, nil
}

// Match links g to the account registered under its email, if there is one.
// Matching an already matched grant again changes nothing and records no
// event; the member role is still re-applied since adding it is idempotent.
// Revoked and invalidated grants are never matched.
func (s *GrantService) Match(ctx context.Context, g *grant.Grant) error {
	log := s.logger.WithFields(logrus.Fields{"transition": TransitionMatch, "grant_id": g.ID})
	if g.IsTerminal() {
		s.metrics.Transition(TransitionMatch, metrics.OutcomeNoop)
		log.Debug("grant revoked or invalidated, not matched")
		return nil
	}

	recipient, err := s.users.GetByEmail(ctx, g.Email)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			s.metrics.Transition(TransitionMatch, metrics.OutcomeNoop)
			log.Debug("no account for grant email yet")
			return nil
		}
		s.metrics.Transition(TransitionMatch, metrics.OutcomeError)
		return fmt.Errorf("failed to look up recipient of grant %s: %w", g.ID, err)
	}

	now := s.clock.Now()
	ev := s.newEvent(g.ID, grant.EventMatch, now, map[string]any{"recipientUserId": recipient.ID})
	changed, err := s.grants.SetRecipient(ctx, g.ID, recipient.ID, now, ev)
	if err != nil {
		s.metrics.Transition(TransitionMatch, metrics.OutcomeError)
		return fmt.Errorf("failed to assign recipient to grant %s: %w", g.ID, err)
	}
	if !changed {
		// The guard also refuses grants that turned terminal after g was read.
		current, err := s.grants.GetByID(ctx, g.ID)
		if err != nil {
			s.metrics.Transition(TransitionMatch, metrics.OutcomeError)
			return fmt.Errorf("failed to reload grant %s: %w", g.ID, err)
		}
		if current.IsTerminal() {
			*g = *current
			s.metrics.Transition(TransitionMatch, metrics.OutcomeNoop)
			log.Debug("grant revoked or invalidated meanwhile, not matched")
			return nil
		}
	}
	g.RecipientUserID = sql.NullString{String: recipient.ID, Valid: true}
	log = log.WithField("recipient_user_id", recipient.ID)

	if changed {
		g.UpdatedAt = now
		s.metrics.Transition(TransitionMatch, metrics.OutcomeApplied)
		log.Info("grant matched")
		s.publish(ctx, log, g, ev)
	} else {
		s.metrics.Transition(TransitionMatch, metrics.OutcomeNoop)
	}

	roleAdded, err := s.roles.AddMemberRole(ctx, g, recipient)
	if err != nil {
		s.sideEffectFailed(log, stepAddRole, err)
	} else if roleAdded {
		log.Info("member role added")
		if err := s.mailer.EnforceSubscriptions(ctx, recipient.ID); err != nil {
			s.sideEffectFailed(log, stepSubscribe, err)
		}
	}

	if changed && recipient.TelegramChatID.Valid {
		s.pushMatched(ctx, log, g, recipient)
	}
	return nil
}

// MatchByEmail matches every open grant addressed to email. It is run when
// an account is created or changes its address.
func (s *GrantService) MatchByEmail(ctx context.Context, email string) (int, error) {
	grants, err := s.grants.FindUnassignedByEmail(ctx, email, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to find unassigned grants for %s: %w", email, err)
	}
	var errs []error
	for _, g := range grants {
		if err := s.Match(ctx, g); err != nil {
			errs = append(errs, err)
		}
	}
	return len(grants), errors.Join(errs...)
}

// Revoke ends a grant early. Only the grantee or a holder of an elevated
// role may revoke. A grant that is already revoked or invalidated is left
// alone and false is returned.
func (s *GrantService) Revoke(ctx context.Context, grantID string, actor *user.User, t constraint.Translator) (bool, error) {
	if t == nil {
		t = s.translator
	}
	log := s.logger.WithFields(logrus.Fields{"transition": TransitionRevoke, "grant_id": grantID})

	g, err := s.grants.GetByID(ctx, grantID)
	if err != nil {
		if errors.Is(err, grant.ErrGrantNotFound) {
			return false, &LocalizedError{Err: ErrGrantNotFound, Message: t.T("api/access/grant/notFound", map[string]any{"grantId": grantID})}
		}
		s.metrics.Transition(TransitionRevoke, metrics.OutcomeError)
		return false, fmt.Errorf("failed to load grant %s: %w", grantID, err)
	}

	grantee, err := s.users.GetByID(ctx, g.GranteeUserID)
	if err != nil && !errors.Is(err, user.ErrUserNotFound) {
		s.metrics.Transition(TransitionRevoke, metrics.OutcomeError)
		return false, fmt.Errorf("failed to load grantee of grant %s: %w", grantID, err)
	}
	if !user.IsMeOrInRoles(grantee, actor, s.elevatedRoles) {
		s.metrics.Transition(TransitionRevoke, metrics.OutcomeDenied)
		return false, &LocalizedError{Err: ErrNotAuthorized, Message: t.T("api/access/revoke/role/error", nil)}
	}

	evType := grant.EventRevokedAdmin
	if grantee != nil && grantee.ID == actor.ID {
		evType = grant.EventRevokedUser
	}
	now := s.clock.Now()
	ev := s.newEvent(g.ID, evType, now, map[string]any{"actorUserId": actor.ID})
	changed, err := s.grants.Revoke(ctx, g.ID, now, ev)
	if err != nil {
		s.metrics.Transition(TransitionRevoke, metrics.OutcomeError)
		return false, fmt.Errorf("failed to revoke grant %s: %w", grantID, err)
	}
	if !changed {
		s.metrics.Transition(TransitionRevoke, metrics.OutcomeNoop)
		log.Debug("grant already revoked or invalidated")
		return false, nil
	}
	g.RevokedAt = sql.NullTime{Time: now, Valid: true}
	g.UpdatedAt = now
	s.metrics.Transition(TransitionRevoke, metrics.OutcomeApplied)
	log.WithFields(logrus.Fields{"event": evType, "actor_user_id": actor.ID}).Info("grant revoked")
	s.publish(ctx, log, g, ev)
	return true, nil
}

// Invalidate closes a grant for good with reason. Only the first
// invalidation counts; later calls return false and do nothing. When the
// grant had a recipient, the member role is withdrawn unless something
// else still justifies it, and the grantee is told if the recipient is
// left without access.
func (s *GrantService) Invalidate(ctx context.Context, g *grant.Grant, reason string) (bool, error) {
	if strings.TrimSpace(reason) == "" {
		return false, ErrInvalidReason
	}
	log := s.logger.WithFields(logrus.Fields{"transition": TransitionInvalidate, "grant_id": g.ID, "reason": reason})

	now := s.clock.Now()
	ev := s.newEvent(g.ID, grant.InvalidatedEvent(reason), now, nil)
	changed, err := s.grants.Invalidate(ctx, g.ID, now, ev)
	if err != nil {
		s.metrics.Transition(TransitionInvalidate, metrics.OutcomeError)
		return false, fmt.Errorf("failed to invalidate grant %s: %w", g.ID, err)
	}
	if !changed {
		s.metrics.Transition(TransitionInvalidate, metrics.OutcomeNoop)
		log.Debug("grant already invalidated")
		return false, nil
	}
	g.InvalidatedAt = sql.NullTime{Time: now, Valid: true}
	g.UpdatedAt = now
	s.metrics.Transition(TransitionInvalidate, metrics.OutcomeApplied)
	log.Info("grant invalidated")
	s.publish(ctx, log, g, ev)

	if !g.IsAssigned() {
		return true, nil
	}
	recipient, err := s.users.GetByID(ctx, g.RecipientUserID.String)
	if err != nil {
		s.sideEffectFailed(log, stepLoadUsers, err)
		return true, nil
	}

	roleRemoved, err := s.roles.RemoveMemberRole(ctx, g, recipient, s.recipientLookup)
	if err != nil {
		s.sideEffectFailed(log, stepRemoveRole, err)
	} else if roleRemoved {
		log.WithField("recipient_user_id", recipient.ID).Info("member role removed")
		if err := s.mailer.EnforceSubscriptions(ctx, recipient.ID); err != nil {
			s.sideEffectFailed(log, stepSubscribe, err)
		}
	}

	s.notifyGrantee(ctx, log, g, recipient, stepExpiredMail, s.mailer.SendRecipientExpired)
	return true, nil
}

// FollowUp marks g as followed up and, if that write took effect, reminds
// the grantee about a recipient who still has no access. It returns false
// when another run already followed up on g.
func (s *GrantService) FollowUp(ctx context.Context, c *campaign.Campaign, g *grant.Grant) (bool, error) {
	log := s.logger.WithFields(logrus.Fields{"transition": TransitionFollowUp, "grant_id": g.ID, "campaign": c.Name})

	now := s.clock.Now()
	ev := s.newEvent(g.ID, grant.EventFollowup, now, nil)
	changed, err := s.grants.MarkFollowedUp(ctx, g.ID, now, ev)
	if err != nil {
		s.metrics.Transition(TransitionFollowUp, metrics.OutcomeError)
		return false, fmt.Errorf("failed to mark grant %s followed up: %w", g.ID, err)
	}
	if !changed {
		s.metrics.Transition(TransitionFollowUp, metrics.OutcomeNoop)
		return false, nil
	}
	g.FollowupAt = sql.NullTime{Time: now, Valid: true}
	g.UpdatedAt = now
	s.metrics.Transition(TransitionFollowUp, metrics.OutcomeApplied)
	log.Info("grant followed up")
	s.publish(ctx, log, g, ev)

	if !g.IsAssigned() {
		return true, nil
	}
	recipient, err := s.users.GetByID(ctx, g.RecipientUserID.String)
	if err != nil {
		s.sideEffectFailed(log, stepLoadUsers, err)
		return true, nil
	}
	s.notifyGranteeWith(ctx, log, c, g, recipient, stepFollowup, s.mailer.SendRecipientFollowup)
	return true, nil
}

// Events returns the audit log of a grant, oldest first.
func (s *GrantService) Events(ctx context.Context, grantID string) ([]*grant.Event, error) {
	events, err := s.grants.ListEvents(ctx, grantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events of grant %s: %w", grantID, err)
	}
	return events, nil
}

type granteeMail func(ctx context.Context, grantee *user.User, c *campaign.Campaign, recipient *user.User, g *grant.Grant) error

// notifyGrantee loads the campaign and hands over to notifyGranteeWith.
func (s *GrantService) notifyGrantee(ctx context.Context, log *logrus.Entry, g *grant.Grant, recipient *user.User, step string, send granteeMail) {
	c, err := s.campaigns.GetByID(ctx, g.CampaignID)
	if err != nil {
		s.sideEffectFailed(log, step, err)
		return
	}
	s.notifyGranteeWith(ctx, log, c, g, recipient, step, send)
}

// notifyGranteeWith mails the grantee unless the recipient still has
// access through a membership or another grant.
func (s *GrantService) notifyGranteeWith(ctx context.Context, log *logrus.Entry, c *campaign.Campaign, g *grant.Grant, recipient *user.User, step string, send granteeMail) {
	hasAccess, err := s.roles.HasActiveMembership(ctx, recipient)
	if err != nil {
		s.sideEffectFailed(log, stepMembership, err)
		return
	}
	if hasAccess {
		log.Debug("recipient still has access, grantee not notified")
		return
	}
	grantee, err := s.users.GetByID(ctx, g.GranteeUserID)
	if err != nil {
		s.sideEffectFailed(log, stepLoadUsers, err)
		return
	}
	if err := send(ctx, grantee, c, recipient, g); err != nil {
		s.sideEffectFailed(log, step, err)
	}
}

func (s *GrantService) pushMatched(ctx context.Context, log *logrus.Entry, g *grant.Grant, recipient *user.User) {
	params := map[string]any{"name": recipient.DisplayName(), "endAt": g.EndAt}
	msg := push.Message{
		ChatID: recipient.TelegramChatID.Int64,
		Title:  s.translator.T("api/access/push/match/title", params),
		Body:   s.translator.T("api/access/push/match/body", params),
		Type:   string(grant.EventMatch),
	}
	if err := s.push.Publish(ctx, msg); err != nil {
		if errors.Is(err, push.ErrNotConfigured) {
			log.Debug("push disabled, match notification dropped")
			return
		}
		s.sideEffectFailed(log, stepPush, err)
	}
}

func (s *GrantService) recipientLookup(ctx context.Context, recipientUserID string, withPast bool) ([]*grant.Grant, error) {
	return s.grants.FindByRecipient(ctx, recipientUserID, withPast, s.clock.Now())
}

func (s *GrantService) publish(ctx context.Context, log *logrus.Entry, g *grant.Grant, ev *grant.Event) {
	if err := s.events.Publish(ctx, g, ev); err != nil {
		s.sideEffectFailed(log, stepPublish, err)
	}
}

func (s *GrantService) sideEffectFailed(log *logrus.Entry, step string, err error) {
	s.metrics.SideEffectFailed(step)
	log.WithError(err).WithField("step", step).Warn("post-commit step failed")
}

func (s *GrantService) newEvent(grantID string, t grant.EventType, at time.Time, meta map[string]any) *grant.Event {
	return &grant.Event{
		ID:        s.newID(),
		GrantID:   grantID,
		Type:      t,
		Metadata:  meta,
		CreatedAt: at,
	}
}

// keyTranslator renders the bare catalog key.
type keyTranslator struct{}

func (keyTranslator) T(key string, _ map[string]any) string { return key }
