// internal/domain/push/publisher.go
package push

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by publishers that have no backing channel.
var ErrNotConfigured = errors.New("push publisher is not configured")

// Message is a short notification for a single user.
type Message struct {
	ChatID int64
	Title  string
	Body   string
	URL    string
	Type   string
}

// Publisher delivers push messages.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Disabled is the publisher used when push delivery is switched off.
// It drops every message and reports why.
type Disabled struct {
	Reason string
}

func (d Disabled) Publish(ctx context.Context, msg Message) error {
	return ErrNotConfigured
}
