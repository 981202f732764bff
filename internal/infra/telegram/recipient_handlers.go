// internal/infra/telegram/recipient_handlers.go
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"access_grant_service/internal/app"
	"access_grant_service/internal/app/constraint"
	"access_grant_service/internal/domain/grant"
	"access_grant_service/internal/domain/user"
	"access_grant_service/internal/infra/clock"
)

const (
	revokeCallbackPrefix = "revoke_"
	msgUnlinked          = "This chat is not linked to an account."
	msgInternal          = "Something went wrong, please try again later."
	usageGrant           = "Invalid format. Use: /grant <CampaignID> <email>"
	usageGiven           = "Invalid format. Use: /given <CampaignID> [revoked] [invalidated]"
)

// GrantCommands is the part of the grant service a linked chat can drive.
type GrantCommands interface {
	Create(ctx context.Context, grantee *user.User, campaignID, email string, t constraint.Translator) (*grant.Grant, error)
	Revoke(ctx context.Context, grantID string, actor *user.User, t constraint.Translator) (bool, error)
}

// GrantLister reads the grants a user gave or received.
type GrantLister interface {
	ByRecipient(ctx context.Context, recipientUserID string, withPast bool) ([]*grant.Grant, error)
	ByGrantee(ctx context.Context, granteeUserID, campaignID string, filter grant.GranteeFilter) ([]*grant.Grant, error)
}

type userHandlers struct {
	ctx        context.Context
	grants     GrantCommands
	queries    GrantLister
	users      user.Repository
	translator constraint.Translator
	clock      clock.Clock
	logger     *logrus.Entry
}

// RegisterUserHandlers lets users with a linked chat hand out grants, look
// at the grants they gave or received and revoke the ones they handed out.
func RegisterUserHandlers(ctx context.Context, b *telebot.Bot, grants GrantCommands, queries GrantLister, users user.Repository,
	t constraint.Translator, clk clock.Clock, baseLogger *logrus.Entry) {
	h := &userHandlers{ctx: ctx, grants: grants, queries: queries, users: users, translator: t, clock: clk, logger: baseLogger}
	b.Handle("/grant", h.grant)
	b.Handle("/my_grants", h.myGrants)
	b.Handle("/given", h.given)
	b.Handle(telebot.OnCallback, h.revokeCallback)
}

// linkedUser resolves the account behind the chat. A nil user means the
// reply was already sent and its error should be returned as is.
func (h *userHandlers) linkedUser(c telebot.Context, log *logrus.Entry) (*user.User, error) {
	u, err := h.users.GetByTelegramChatID(h.ctx, c.Sender().ID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return nil, c.Send(msgUnlinked)
		}
		log.WithError(err).Error("Error looking up linked account")
		return nil, c.Send(msgInternal)
	}
	return u, nil
}

func (h *userHandlers) grant(c telebot.Context) error {
	log := h.logger.WithFields(logrus.Fields{"handler": "/grant", "sender_id": c.Sender().ID})
	u, err := h.linkedUser(c, log)
	if u == nil {
		return err
	}
	campaignID, email, ok := parseGrantArgs(c.Args())
	if !ok {
		return c.Send(usageGrant)
	}
	log = log.WithField("campaign_id", campaignID)

	g, err := h.grants.Create(h.ctx, u, campaignID, email, h.translator)
	if err != nil {
		var violation *app.ConstraintViolationError
		var localized *app.LocalizedError
		switch {
		case errors.As(err, &violation):
			messages := make([]string, 0, len(violation.Violations))
			for _, v := range violation.Violations {
				messages = append(messages, v.Message)
			}
			if len(messages) == 0 {
				messages = append(messages, violation.Message)
			}
			return c.Send(strings.Join(messages, "\n"))
		case errors.As(err, &localized):
			return c.Send(localized.Message)
		}
		log.WithError(err).Error("Failed to create grant")
		return c.Send(msgInternal)
	}
	log.WithField("grant_id", g.ID).Info("Grant created from chat")
	return c.Send(fmt.Sprintf("Access for %s granted until %s.", g.Email, g.EndAt.Format("2006-01-02")))
}

func (h *userHandlers) myGrants(c telebot.Context) error {
	log := h.logger.WithFields(logrus.Fields{"handler": "/my_grants", "sender_id": c.Sender().ID})
	u, err := h.linkedUser(c, log)
	if u == nil {
		return err
	}
	withPast := len(c.Args()) > 0 && strings.ToLower(c.Args()[0]) == "all"
	received, err := h.queries.ByRecipient(h.ctx, u.ID, withPast)
	if err != nil {
		log.WithError(err).Error("Failed to list received grants")
		return c.Send(msgInternal)
	}
	if len(received) == 0 {
		return c.Send("You hold no grants.")
	}
	return c.Send(formatGrantList("Your grants", received, h.clock.Now()))
}

func (h *userHandlers) given(c telebot.Context) error {
	log := h.logger.WithFields(logrus.Fields{"handler": "/given", "sender_id": c.Sender().ID})
	u, err := h.linkedUser(c, log)
	if u == nil {
		return err
	}
	campaignID, filter, err := parseGivenArgs(c.Args())
	if err != nil {
		return c.Send(err.Error())
	}
	given, err := h.queries.ByGrantee(h.ctx, u.ID, campaignID, filter)
	if err != nil {
		log.WithError(err).Error("Failed to list given grants")
		return c.Send(msgInternal)
	}
	if len(given) == 0 {
		return c.Send("No grants in this campaign match.")
	}

	now := h.clock.Now()
	for _, g := range given {
		opts := &telebot.SendOptions{}
		if !g.IsTerminal() {
			markup := &telebot.ReplyMarkup{}
			markup.Inline(markup.Row(markup.Data("Revoke", revokeCallbackPrefix+g.ID)))
			opts.ReplyMarkup = markup
		}
		if err := c.Send(formatGrant(g, now), opts); err != nil {
			return err
		}
	}
	return nil
}

func (h *userHandlers) revokeCallback(c telebot.Context) error {
	grantID, ok := revokeCallbackGrantID(c.Callback().Data)
	if !ok {
		h.logger.WithField("data", c.Callback().Data).Warn("Unhandled callback data")
		return c.Respond(&telebot.CallbackResponse{Text: "Unknown action."})
	}
	log := h.logger.WithFields(logrus.Fields{"handler": "revoke_callback", "sender_id": c.Sender().ID, "grant_id": grantID})

	u, err := h.users.GetByTelegramChatID(h.ctx, c.Sender().ID)
	if err != nil {
		log.WithError(err).Warn("Callback from unlinked chat")
		return c.Respond(&telebot.CallbackResponse{Text: msgUnlinked})
	}
	changed, err := h.grants.Revoke(h.ctx, grantID, u, h.translator)
	if err != nil {
		var localized *app.LocalizedError
		if errors.As(err, &localized) {
			return c.Respond(&telebot.CallbackResponse{Text: localized.Message})
		}
		log.WithError(err).Error("Error revoking grant")
		return c.Respond(&telebot.CallbackResponse{Text: "Something went wrong."})
	}
	if !changed {
		return c.Respond(&telebot.CallbackResponse{Text: "Already revoked."})
	}
	log.Info("Grant revoked by its grantee")
	return c.Respond(&telebot.CallbackResponse{Text: "Grant revoked."})
}

// parseGrantArgs expects: <CampaignID> <email>
func parseGrantArgs(args []string) (campaignID, email string, ok bool) {
	if len(args) != 2 {
		return "", "", false
	}
	return args[0], args[1], true
}

// parseGivenArgs expects: <CampaignID> [revoked] [invalidated]
func parseGivenArgs(args []string) (string, grant.GranteeFilter, error) {
	var filter grant.GranteeFilter
	if len(args) < 1 || len(args) > 3 {
		return "", filter, errors.New(usageGiven)
	}
	for _, flag := range args[1:] {
		switch strings.ToLower(flag) {
		case "revoked":
			filter.WithRevoked = true
		case "invalidated":
			filter.WithInvalidated = true
		default:
			return "", filter, fmt.Errorf("Unknown flag %q. Use revoked and/or invalidated.", flag)
		}
	}
	return args[0], filter, nil
}

// revokeCallbackGrantID extracts the grant id of a Revoke button.
// Inline buttons arrive as "\f<unique>"; TrimSpace drops the \f.
func revokeCallbackGrantID(data string) (string, bool) {
	data = strings.TrimSpace(data)
	if !strings.HasPrefix(data, revokeCallbackPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(data, revokeCallbackPrefix)
	return id, id != ""
}
