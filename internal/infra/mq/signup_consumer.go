package mq

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SignupMessage announces a new account or a changed email address.
type SignupMessage struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// EmailMatcher matches open grants to the account owning email.
type EmailMatcher interface {
	MatchByEmail(ctx context.Context, email string) (int, error)
}

// SignupConsumer matches grants as soon as their recipient signs up,
// instead of waiting for the next matching sweep.
type SignupConsumer struct {
	reader  messageReader
	matcher EmailMatcher
	logger  *logrus.Entry
	retry   time.Duration
	wg      sync.WaitGroup
}

func NewSignupConsumer(reader messageReader, matcher EmailMatcher, logger *logrus.Entry) *SignupConsumer {
	return &SignupConsumer{
		reader:  reader,
		matcher: matcher,
		logger:  logger.WithField("component", "signup_consumer"),
		retry:   time.Second,
	}
}

// Start consumes until ctx is cancelled.
func (c *SignupConsumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.logger.Info("signup consumer started")
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.Info("signup consumer shutting down")
					return
				}
				c.logger.WithError(err).Error("could not fetch signup message, retrying")
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.retry):
				}
				continue
			}

			c.handle(ctx, msg.Value)

			if err := c.reader.CommitMessages(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.WithError(err).Error("failed to commit signup message")
			}
		}
	}()
}

// Stop waits for the consume loop to end and closes the reader. Cancel
// the context given to Start first.
func (c *SignupConsumer) Stop() error {
	c.wg.Wait()
	return c.reader.Close()
}

// handle never fails the message: unmatched grants are picked up again by
// the matching sweep.
func (c *SignupConsumer) handle(ctx context.Context, value []byte) {
	var m SignupMessage
	if err := json.Unmarshal(value, &m); err != nil {
		c.logger.WithError(err).Warn("skipping malformed signup message")
		return
	}
	email := strings.TrimSpace(m.Email)
	if email == "" {
		c.logger.WithField("user_id", m.UserID).Warn("skipping signup message without email")
		return
	}
	n, err := c.matcher.MatchByEmail(ctx, email)
	log := c.logger.WithFields(logrus.Fields{"user_id": m.UserID, "grants": n})
	if err != nil {
		log.WithError(err).Error("matching grants after signup failed")
		return
	}
	if n > 0 {
		log.Info("grants matched after signup")
	}
}
