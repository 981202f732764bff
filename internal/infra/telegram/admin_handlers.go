package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"access_grant_service/internal/app"
	"access_grant_service/internal/domain/grant"
	"access_grant_service/internal/domain/user"
	"access_grant_service/internal/infra/clock"
)

const msgUnauthorized = "Error: you are not allowed to run this command."

// AdminCommands are the support operations behind the admin chat.
type AdminCommands interface {
	RevokeGrant(ctx context.Context, performingTelegramID int64, grantID string) (bool, error)
	InvalidateGrant(ctx context.Context, performingTelegramID int64, grantID, reason string) (bool, error)
	Unassigned(ctx context.Context, performingTelegramID int64, email string) ([]*grant.Grant, error)
	GrantsOf(ctx context.Context, performingTelegramID int64, email string, withPast bool) (*user.User, []*grant.Grant, error)
	Events(ctx context.Context, performingTelegramID int64, grantID string) ([]*grant.Event, error)
}

type adminHandlers struct {
	ctx             context.Context
	admin           AdminCommands
	adminTelegramID int64
	clock           clock.Clock
	logger          *logrus.Entry
}

// RegisterAdminHandlers registers handlers for admin commands.
// It requires the bot instance, admin service, and the configured admin Telegram ID.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, adminService AdminCommands, adminTelegramID int64, clk clock.Clock, baseLogger *logrus.Entry) {
	h := &adminHandlers{ctx: ctx, admin: adminService, adminTelegramID: adminTelegramID, clock: clk, logger: baseLogger}
	b.Handle("/revoke", h.revoke)
	b.Handle("/invalidate", h.invalidate)
	b.Handle("/unassigned", h.unassigned)
	b.Handle("/grants_of", h.grantsOf)
	b.Handle("/events", h.events)
}

// authorized logs the command and reports whether it came from the admin chat.
func (h *adminHandlers) authorized(c telebot.Context, command string) (*logrus.Entry, bool) {
	handlerLogger := h.logger.WithFields(logrus.Fields{
		"handler":   command,
		"sender_id": c.Sender().ID,
	})
	handlerLogger.Info("Command received")
	if c.Sender().ID != h.adminTelegramID {
		handlerLogger.Warn("Unauthorized access attempt")
		return handlerLogger, false
	}
	return handlerLogger, true
}

func (h *adminHandlers) revoke(c telebot.Context) error {
	handlerLogger, ok := h.authorized(c, "/revoke")
	if !ok {
		return c.Send(msgUnauthorized)
	}

	args := c.Args()
	// Expected format: /revoke <GrantID>
	if len(args) != 1 {
		return c.Send("Invalid format. Use: /revoke <GrantID>")
	}
	grantID := args[0]
	handlerLogger = handlerLogger.WithField("grant_id", grantID)

	changed, err := h.admin.RevokeGrant(h.ctx, c.Sender().ID, grantID)
	if err != nil {
		return c.Send(adminError(handlerLogger, "revoke grant", err))
	}
	if !changed {
		handlerLogger.Info("Grant was already revoked or invalidated")
		return c.Send(fmt.Sprintf("Grant %s was already revoked or invalidated.", grantID))
	}
	handlerLogger.Info("Grant revoked")
	return c.Send(fmt.Sprintf("Grant %s revoked. The recipient loses access with the next revocation sweep.", grantID))
}

func (h *adminHandlers) invalidate(c telebot.Context) error {
	handlerLogger, ok := h.authorized(c, "/invalidate")
	if !ok {
		return c.Send(msgUnauthorized)
	}

	grantID, reason, ok := parseInvalidateArgs(c.Args())
	if !ok {
		return c.Send("Invalid format. Use: /invalidate <GrantID> <reason>")
	}
	handlerLogger = handlerLogger.WithFields(logrus.Fields{"grant_id": grantID, "reason": reason})

	changed, err := h.admin.InvalidateGrant(h.ctx, c.Sender().ID, grantID, reason)
	if err != nil {
		return c.Send(adminError(handlerLogger, "invalidate grant", err))
	}
	if !changed {
		return c.Send(fmt.Sprintf("Grant %s was already invalidated.", grantID))
	}
	handlerLogger.Info("Grant invalidated")
	return c.Send(fmt.Sprintf("Grant %s invalidated (%s).", grantID, reason))
}

func (h *adminHandlers) unassigned(c telebot.Context) error {
	handlerLogger, ok := h.authorized(c, "/unassigned")
	if !ok {
		return c.Send(msgUnauthorized)
	}

	var email string
	if args := c.Args(); len(args) > 0 {
		email = args[0]
	}
	grants, err := h.admin.Unassigned(h.ctx, c.Sender().ID, email)
	if err != nil {
		return c.Send(adminError(handlerLogger, "list unassigned grants", err))
	}
	if len(grants) == 0 {
		return c.Send("No unassigned grants.")
	}
	handlerLogger.WithField("grants_count", len(grants)).Info("Listed unassigned grants")
	return c.Send(formatGrantList("Unassigned grants", grants, h.clock.Now()))
}

func (h *adminHandlers) grantsOf(c telebot.Context) error {
	handlerLogger, ok := h.authorized(c, "/grants_of")
	if !ok {
		return c.Send(msgUnauthorized)
	}

	args := c.Args()
	// Expected format: /grants_of <email> [all]
	if len(args) < 1 || len(args) > 2 {
		return c.Send("Invalid format. Use: /grants_of <email> [all]")
	}
	withPast := len(args) == 2 && strings.ToLower(args[1]) == "all"

	u, grants, err := h.admin.GrantsOf(h.ctx, c.Sender().ID, args[0], withPast)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return c.Send(fmt.Sprintf("No account registered with %s.", args[0]))
		}
		return c.Send(adminError(handlerLogger, "list grants of recipient", err))
	}
	if len(grants) == 0 {
		return c.Send(fmt.Sprintf("%s holds no grants.", u.DisplayName()))
	}
	return c.Send(formatGrantList("Grants of "+u.DisplayName(), grants, h.clock.Now()))
}

func (h *adminHandlers) events(c telebot.Context) error {
	handlerLogger, ok := h.authorized(c, "/events")
	if !ok {
		return c.Send(msgUnauthorized)
	}

	args := c.Args()
	if len(args) != 1 {
		return c.Send("Invalid format. Use: /events <GrantID>")
	}
	events, err := h.admin.Events(h.ctx, c.Sender().ID, args[0])
	if err != nil {
		return c.Send(adminError(handlerLogger, "list grant events", err))
	}
	if len(events) == 0 {
		return c.Send("No events recorded for this grant.")
	}
	var response strings.Builder
	response.WriteString(fmt.Sprintf("--- Events of %s ---\n", args[0]))
	for _, ev := range events {
		response.WriteString(fmt.Sprintf("%s  %s\n", ev.CreatedAt.Format(time.RFC3339), ev.Type))
	}
	return c.Send(response.String())
}

// parseInvalidateArgs expects: <GrantID> <reason>. Reasons are lower-cased
// so that the event type stays canonical.
func parseInvalidateArgs(args []string) (grantID, reason string, ok bool) {
	if len(args) != 2 {
		return "", "", false
	}
	return args[0], strings.ToLower(args[1]), true
}

// adminError logs err and returns the reply for the admin chat.
func adminError(log *logrus.Entry, action string, err error) string {
	logWithError := log.WithError(err)
	switch {
	case errors.Is(err, app.ErrAdminNotAuthorized), errors.Is(err, app.ErrNotAuthorized):
		logWithError.Warn("Admin not authorized (service level)")
		return msgUnauthorized
	case errors.Is(err, grant.ErrGrantNotFound):
		logWithError.Warn("Grant not found")
		return "Grant not found."
	case errors.Is(err, app.ErrInvalidReason):
		return "Error: a reason is required."
	default:
		logWithError.Errorf("Failed to %s", action)
		return fmt.Sprintf("Failed to %s: %s", action, err.Error())
	}
}

func formatGrantList(title string, grants []*grant.Grant, now time.Time) string {
	var response strings.Builder
	response.WriteString(fmt.Sprintf("--- %s ---\n", title))
	for _, g := range grants {
		response.WriteString(formatGrant(g, now))
		response.WriteString("\n")
	}
	return response.String()
}

func formatGrant(g *grant.Grant, now time.Time) string {
	return fmt.Sprintf("%s  %s  %s..%s  %s", g.ID, g.Email,
		g.BeginAt.Format("2006-01-02"), g.EndAt.Format("2006-01-02"), grantState(g, now))
}

func grantState(g *grant.Grant, now time.Time) string {
	switch {
	case g.InvalidatedAt.Valid && g.FollowupAt.Valid:
		return "invalidated, followed up"
	case g.InvalidatedAt.Valid:
		return "invalidated"
	case g.RevokedAt.Valid:
		return "revoked"
	case g.IsExpired(now):
		return "expired"
	case now.Before(g.BeginAt):
		return "pending"
	case g.IsAssigned():
		return "active"
	default:
		return "active, unassigned"
	}
}
