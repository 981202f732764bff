// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"access_grant_service/internal/domain/user"
	"access_grant_service/internal/infra/config"
)

func RegisterBotCommands(
	ctx context.Context,
	b *telebot.Bot,
	cfg *config.AppConfig, // For AdminTelegramID
	users user.Repository,
	baseLogger *logrus.Entry, // For contextual logging
) {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")

	b.Handle("/start", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/start").WithField("sender_id", senderID)
		logCtx.Info("Processing /start command")

		if senderID == cfg.AdminTelegramID {
			logCtx.Info("User identified as Admin")
			return c.Send(fmt.Sprintf("Hello %s! Use /help for the list of support commands.", c.Sender().FirstName))
		}

		u, err := users.GetByTelegramChatID(ctx, senderID)
		if err == nil {
			logCtx.WithField("user_id", u.ID).Info("User identified by linked chat")
			return c.Send(fmt.Sprintf("Hello %s! You will be notified here when someone gives you access.", u.FirstName))
		} else if !errors.Is(err, user.ErrUserNotFound) {
			logCtx.WithError(err).Error("Error looking up user for /start command")
			return c.Send("Something went wrong, please try again later.")
		}

		logCtx.Info("User is unknown")
		return c.Send("Hello! Link this chat in your account settings to receive access notifications.")
	})

	b.Handle("/help", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/help").WithField("sender_id", senderID)
		logCtx.Info("Processing /help command")

		if senderID == cfg.AdminTelegramID {
			var helpText strings.Builder
			helpText.WriteString("Support commands:\n\n")
			helpText.WriteString("`/revoke <GrantID>`\n - Revoke a grant.\n\n")
			helpText.WriteString("`/invalidate <GrantID> <reason>`\n - Invalidate a grant right away.\n\n")
			helpText.WriteString("`/unassigned [email]`\n - Grants still waiting for their recipient.\n\n")
			helpText.WriteString("`/grants_of <email> [all]`\n - Grants received by an account.\n\n")
			helpText.WriteString("`/events <GrantID>`\n - Audit log of a grant.")
			return c.Send(helpText.String(), &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
		}

		return c.Send("`/grant <CampaignID> <email>` - give access to someone\n"+
			"`/my_grants [all]` - grants you received\n"+
			"`/given <CampaignID> [revoked] [invalidated]` - grants you gave, with a button to revoke them",
			&telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
	})
}
