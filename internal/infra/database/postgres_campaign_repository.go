package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"access_grant_service/internal/domain/campaign"
)

type PostgresCampaignRepository struct {
	db *sql.DB
}

func NewPostgresCampaignRepository(db *sql.DB) *PostgresCampaignRepository {
	return &PostgresCampaignRepository{db: db}
}

const campaignColumns = `id, name, constraints, period_interval, email_followup, begin_at, end_at, created_at, updated_at`

func scanCampaign(row rowScanner) (*campaign.Campaign, error) {
	c := &campaign.Campaign{}
	var constraints, period, followup []byte
	if err := row.Scan(&c.ID, &c.Name, &constraints, &period, &followup, &c.BeginAt, &c.EndAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(constraints, &c.Constraints); err != nil {
		return nil, fmt.Errorf("campaign %s: invalid constraints: %w", c.Name, err)
	}
	if err := json.Unmarshal(period, &c.PeriodInterval); err != nil {
		return nil, fmt.Errorf("campaign %s: invalid period interval: %w", c.Name, err)
	}
	if len(followup) > 0 {
		if err := json.Unmarshal(followup, &c.EmailFollowup); err != nil {
			return nil, fmt.Errorf("campaign %s: invalid follow-up interval: %w", c.Name, err)
		}
	}
	return c, nil
}

func (r *PostgresCampaignRepository) GetByID(ctx context.Context, id string) (*campaign.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM access_campaigns WHERE id = $1`
	c, err := scanCampaign(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, campaign.ErrCampaignNotFound
		}
		return nil, fmt.Errorf("error getting campaign by ID: %w", err)
	}
	return c, nil
}

// List returns every campaign.
func (r *PostgresCampaignRepository) List(ctx context.Context) ([]*campaign.Campaign, error) {
	return r.list(ctx, `SELECT `+campaignColumns+` FROM access_campaigns ORDER BY name`, false)
}

// ListWithFollowup skips campaigns whose follow-up interval is unset or empty.
func (r *PostgresCampaignRepository) ListWithFollowup(ctx context.Context) ([]*campaign.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM access_campaigns
               WHERE email_followup IS NOT NULL AND email_followup::text NOT IN ('null', '{}')
               ORDER BY name`
	return r.list(ctx, query, true)
}

func (r *PostgresCampaignRepository) list(ctx context.Context, query string, followupOnly bool) ([]*campaign.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*campaign.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning campaign: %w", err)
		}
		if followupOnly && c.EmailFollowup.IsZero() {
			continue
		}
		campaigns = append(campaigns, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating campaign rows: %w", err)
	}
	return campaigns, nil
}
