package campaign

import (
	"context"
	"errors"
)

// Repository reads campaigns. Campaigns are administered elsewhere and are
// read-only to the grant lifecycle.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Campaign, error)
	// ListWithFollowup returns campaigns that configure a follow-up delay.
	ListWithFollowup(ctx context.Context) ([]*Campaign, error)
}

var ErrCampaignNotFound = errors.New("access campaign not found")
