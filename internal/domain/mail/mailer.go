// internal/domain/mail/mailer.go
package mail

import (
	"context"

	"access_grant_service/internal/domain/campaign"
	"access_grant_service/internal/domain/grant"
	"access_grant_service/internal/domain/user"
)

// Mailer sends the transactional mails of the grant lifecycle. Calls are
// fire-and-forget from the lifecycle's point of view: a failure is logged
// by the caller and never undoes a state change.
type Mailer interface {
	// SendRecipientOnboarding confirms a new grant to its grantee.
	SendRecipientOnboarding(ctx context.Context, grantee *user.User, c *campaign.Campaign, g *grant.Grant) error
	// SendRecipientExpired tells the grantee the recipient lost access.
	SendRecipientExpired(ctx context.Context, grantee *user.User, c *campaign.Campaign, recipient *user.User, g *grant.Grant) error
	// SendRecipientFollowup reminds the grantee some time after invalidation.
	SendRecipientFollowup(ctx context.Context, grantee *user.User, c *campaign.Campaign, recipient *user.User, g *grant.Grant) error
	// EnforceSubscriptions re-applies the newsletter subscriptions that
	// depend on the member role.
	EnforceSubscriptions(ctx context.Context, userID string) error
}
