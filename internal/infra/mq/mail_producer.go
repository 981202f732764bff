package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"access_grant_service/internal/domain/campaign"
	"access_grant_service/internal/domain/grant"
	"access_grant_service/internal/domain/user"
)

// Mail command types understood by the mail worker.
const (
	MailRecipientOnboarding = "access.recipient.onboarding"
	MailRecipientExpired    = "access.recipient.expired"
	MailRecipientFollowup   = "access.recipient.followup"
	MailEnforceSubscription = "subscriptions.enforce"
)

// MailCommand is the message consumed by the mail worker, which owns
// templates and delivery.
type MailCommand struct {
	Type            string    `json:"type"`
	To              string    `json:"to,omitempty"`
	UserID          string    `json:"userId"`
	GrantID         string    `json:"grantId,omitempty"`
	CampaignID      string    `json:"campaignId,omitempty"`
	CampaignName    string    `json:"campaignName,omitempty"`
	RecipientUserID string    `json:"recipientUserId,omitempty"`
	RecipientEmail  string    `json:"recipientEmail,omitempty"`
	EndAt           time.Time `json:"endAt,omitzero"`
}

// KafkaMailer hands mails to the mail worker through a topic.
type KafkaMailer struct {
	writer messageWriter
}

func NewKafkaMailer(writer messageWriter) *KafkaMailer {
	return &KafkaMailer{writer: writer}
}

func (m *KafkaMailer) SendRecipientOnboarding(ctx context.Context, grantee *user.User, c *campaign.Campaign, g *grant.Grant) error {
	return m.send(ctx, grantMail(MailRecipientOnboarding, grantee, c, nil, g))
}

func (m *KafkaMailer) SendRecipientExpired(ctx context.Context, grantee *user.User, c *campaign.Campaign, recipient *user.User, g *grant.Grant) error {
	return m.send(ctx, grantMail(MailRecipientExpired, grantee, c, recipient, g))
}

func (m *KafkaMailer) SendRecipientFollowup(ctx context.Context, grantee *user.User, c *campaign.Campaign, recipient *user.User, g *grant.Grant) error {
	return m.send(ctx, grantMail(MailRecipientFollowup, grantee, c, recipient, g))
}

func (m *KafkaMailer) EnforceSubscriptions(ctx context.Context, userID string) error {
	return m.send(ctx, MailCommand{Type: MailEnforceSubscription, UserID: userID})
}

// Close closes the underlying writer.
func (m *KafkaMailer) Close() error {
	return m.writer.Close()
}

func (m *KafkaMailer) send(ctx context.Context, cmd MailCommand) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal %s mail: %w", cmd.Type, err)
	}
	return produce(ctx, m.writer, cmd.UserID, body)
}

func grantMail(typ string, grantee *user.User, c *campaign.Campaign, recipient *user.User, g *grant.Grant) MailCommand {
	cmd := MailCommand{
		Type:           typ,
		To:             grantee.Email,
		UserID:         grantee.ID,
		GrantID:        g.ID,
		CampaignID:     c.ID,
		CampaignName:   c.Name,
		RecipientEmail: g.Email,
		EndAt:          g.EndAt,
	}
	if recipient != nil {
		cmd.RecipientUserID = recipient.ID
		cmd.RecipientEmail = recipient.Email
	}
	return cmd
}

// LogMailer only logs. It is used when no broker is configured.
type LogMailer struct {
	Logger *logrus.Entry
}

func (m LogMailer) SendRecipientOnboarding(_ context.Context, grantee *user.User, c *campaign.Campaign, g *grant.Grant) error {
	m.log(grantMail(MailRecipientOnboarding, grantee, c, nil, g))
	return nil
}

func (m LogMailer) SendRecipientExpired(_ context.Context, grantee *user.User, c *campaign.Campaign, recipient *user.User, g *grant.Grant) error {
	m.log(grantMail(MailRecipientExpired, grantee, c, recipient, g))
	return nil
}

func (m LogMailer) SendRecipientFollowup(_ context.Context, grantee *user.User, c *campaign.Campaign, recipient *user.User, g *grant.Grant) error {
	m.log(grantMail(MailRecipientFollowup, grantee, c, recipient, g))
	return nil
}

func (m LogMailer) EnforceSubscriptions(_ context.Context, userID string) error {
	m.log(MailCommand{Type: MailEnforceSubscription, UserID: userID})
	return nil
}

func (m LogMailer) log(cmd MailCommand) {
	m.Logger.WithFields(logrus.Fields{
		"mail":     cmd.Type,
		"user_id":  cmd.UserID,
		"grant_id": cmd.GrantID,
	}).Info("mail not sent, no broker configured")
}
