package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"access_grant_service/internal/domain/grant"
)

// GrantEventMessage is the payload published for every committed event.
type GrantEventMessage struct {
	EventID         string         `json:"eventId"`
	Type            string         `json:"type"`
	GrantID         string         `json:"grantId"`
	CampaignID      string         `json:"campaignId"`
	GranteeUserID   string         `json:"granteeUserId"`
	RecipientUserID string         `json:"recipientUserId,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// KafkaEventPublisher streams grant events keyed by grant id.
type KafkaEventPublisher struct {
	writer messageWriter
}

func NewKafkaEventPublisher(writer messageWriter) *KafkaEventPublisher {
	return &KafkaEventPublisher{writer: writer}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, g *grant.Grant, ev *grant.Event) error {
	msg := GrantEventMessage{
		EventID:       ev.ID,
		Type:          string(ev.Type),
		GrantID:       g.ID,
		CampaignID:    g.CampaignID,
		GranteeUserID: g.GranteeUserID,
		Metadata:      ev.Metadata,
		CreatedAt:     ev.CreatedAt,
	}
	if g.RecipientUserID.Valid {
		msg.RecipientUserID = g.RecipientUserID.String
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal grant event: %w", err)
	}
	return produce(ctx, p.writer, g.ID, body, kafka.Header{Key: "event-type", Value: []byte(ev.Type)})
}

func (p *KafkaEventPublisher) Close() error {
	return p.writer.Close()
}
