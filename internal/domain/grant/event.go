package grant

import (
	"context"
	"strings"
	"time"
)

// EventType names a lifecycle transition recorded in the audit log.
type EventType string

const (
	EventGrant        EventType = "grant"
	EventMatch        EventType = "match"
	EventRevokedAdmin EventType = "revoked.admin"
	EventRevokedUser  EventType = "revoked.user"
	EventFollowup     EventType = "followup"

	invalidatedPrefix = "invalidated."
)

// Invalidation reasons used by the sweeps.
const (
	ReasonExpired = "expired"
	ReasonRevoked = "revoked"
)

// InvalidatedEvent returns the event type for an invalidation with reason.
func InvalidatedEvent(reason string) EventType {
	return EventType(invalidatedPrefix + reason)
}

// IsInvalidation reports whether t is an invalidated.<reason> event.
func (t EventType) IsInvalidation() bool {
	return strings.HasPrefix(string(t), invalidatedPrefix)
}

// IsRevocation reports whether t is a revoked.* event.
func (t EventType) IsRevocation() bool {
	return t == EventRevokedAdmin || t == EventRevokedUser
}

// Event is an append-only audit record. Never updated or deleted.
// Corresponds to the 'access_events' table.
type Event struct {
	ID        string
	GrantID   string
	Type      EventType
	Metadata  map[string]any
	CreatedAt time.Time
}

// EventPublisher forwards committed events to downstream consumers.
// Publishing happens after the transaction and is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, g *Grant, ev *Event) error
}

// NopPublisher is used when no event stream is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *Grant, *Event) error { return nil }
