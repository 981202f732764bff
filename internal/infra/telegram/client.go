// internal/infra/telegram/client.go
package telegram

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/telebot.v3"

	"access_grant_service/internal/domain/push"
)

// sender is the part of *telebot.Bot used for outgoing messages.
type sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// TelebotAdapter delivers push messages as Telegram chat messages.
type TelebotAdapter struct {
	bot sender
}

func NewTelebotAdapter(b *telebot.Bot) *TelebotAdapter {
	return &TelebotAdapter{bot: b}
}

// SendMessage sends a text message to the specified recipient.
func (tba *TelebotAdapter) SendMessage(recipientChatID int64, text string, options *telebot.SendOptions) error {
	if options == nil {
		options = &telebot.SendOptions{}
	}

	recipient := &telebot.User{ID: recipientChatID} // private chats share the user's ID
	_, err := tba.bot.Send(recipient, text, options)
	return err
}

// Publish implements push.Publisher.
func (tba *TelebotAdapter) Publish(ctx context.Context, msg push.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.ChatID == 0 {
		return fmt.Errorf("push message %q has no chat", msg.Type)
	}
	if err := tba.SendMessage(msg.ChatID, formatPush(msg), &telebot.SendOptions{DisableWebPagePreview: true}); err != nil {
		return fmt.Errorf("failed to send push to chat %d: %w", msg.ChatID, err)
	}
	return nil
}

func formatPush(msg push.Message) string {
	var b strings.Builder
	b.WriteString(msg.Title)
	if msg.Body != "" {
		b.WriteString("\n\n")
		b.WriteString(msg.Body)
	}
	if msg.URL != "" {
		b.WriteString("\n")
		b.WriteString(msg.URL)
	}
	return b.String()
}
