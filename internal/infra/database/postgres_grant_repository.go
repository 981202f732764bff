package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"access_grant_service/internal/domain/grant"
)

type PostgresGrantRepository struct {
	db *sql.DB
}

func NewPostgresGrantRepository(db *sql.DB) *PostgresGrantRepository {
	return &PostgresGrantRepository{db: db}
}

const grantColumns = `id, campaign_id, grantee_user_id, email, begin_at, end_at, recipient_user_id,
               revoked_at, invalidated_at, followup_at, created_at, updated_at`

func scanGrant(row rowScanner) (*grant.Grant, error) {
	g := &grant.Grant{}
	err := row.Scan(&g.ID, &g.CampaignID, &g.GranteeUserID, &g.Email, &g.BeginAt, &g.EndAt, &g.RecipientUserID,
		&g.RevokedAt, &g.InvalidatedAt, &g.FollowupAt, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Create inserts the grant and its creation event in one transaction.
func (r *PostgresGrantRepository) Create(ctx context.Context, g *grant.Grant, ev *grant.Event) error {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for grant create: %w", err)
	}
	defer txn.Rollback() // Rollback if not committed

	query := `INSERT INTO access_grants (id, campaign_id, grantee_user_id, email, begin_at, end_at, recipient_user_id, created_at, updated_at)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = txn.ExecContext(ctx, query, g.ID, g.CampaignID, g.GranteeUserID, g.Email, g.BeginAt, g.EndAt, g.RecipientUserID, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating grant: %w", err)
	}
	if err := insertEvent(ctx, txn, ev); err != nil {
		return err
	}
	return txn.Commit()
}

func (r *PostgresGrantRepository) GetByID(ctx context.Context, id string) (*grant.Grant, error) {
	query := `SELECT ` + grantColumns + ` FROM access_grants WHERE id = $1`
	g, err := scanGrant(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, grant.ErrGrantNotFound
		}
		return nil, fmt.Errorf("error getting grant by ID: %w", err)
	}
	return g, nil
}

func (r *PostgresGrantRepository) SetRecipient(ctx context.Context, id, recipientUserID string, at time.Time, ev *grant.Event) (bool, error) {
	return r.guardedUpdate(ctx, `UPDATE access_grants SET recipient_user_id = $2, updated_at = $3
               WHERE id = $1 AND recipient_user_id IS DISTINCT FROM $2
               AND revoked_at IS NULL AND invalidated_at IS NULL`, ev, id, recipientUserID, at)
}

func (r *PostgresGrantRepository) Revoke(ctx context.Context, id string, at time.Time, ev *grant.Event) (bool, error) {
	return r.guardedUpdate(ctx, `UPDATE access_grants SET revoked_at = $2, updated_at = $2
               WHERE id = $1 AND revoked_at IS NULL AND invalidated_at IS NULL`, ev, id, at)
}

func (r *PostgresGrantRepository) Invalidate(ctx context.Context, id string, at time.Time, ev *grant.Event) (bool, error) {
	return r.guardedUpdate(ctx, `UPDATE access_grants SET invalidated_at = $2, updated_at = $2
               WHERE id = $1 AND invalidated_at IS NULL`, ev, id, at)
}

func (r *PostgresGrantRepository) MarkFollowedUp(ctx context.Context, id string, at time.Time, ev *grant.Event) (bool, error) {
	return r.guardedUpdate(ctx, `UPDATE access_grants SET followup_at = $2, updated_at = $2
               WHERE id = $1 AND followup_at IS NULL AND invalidated_at IS NOT NULL`, ev, id, at)
}

// guardedUpdate runs a single conditional UPDATE and, if it touched a row,
// appends ev in the same transaction. Zero affected rows is not an error.
func (r *PostgresGrantRepository) guardedUpdate(ctx context.Context, query string, ev *grant.Event, args ...any) (bool, error) {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer txn.Rollback()

	res, err := txn.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("error updating grant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error checking affected rows: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if err := insertEvent(ctx, txn, ev); err != nil {
		return false, err
	}
	if err := txn.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit grant update: %w", err)
	}
	return true, nil
}

func insertEvent(ctx context.Context, txn *sql.Tx, ev *grant.Event) error {
	meta := ev.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("error encoding event metadata: %w", err)
	}
	_, err = txn.ExecContext(ctx, `INSERT INTO access_events (id, grant_id, type, metadata, created_at) VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.GrantID, string(ev.Type), string(metaJSON), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("error appending %s event: %w", ev.Type, err)
	}
	return nil
}

func (r *PostgresGrantRepository) list(ctx context.Context, where string, args ...any) ([]*grant.Grant, error) {
	query := `SELECT ` + grantColumns + ` FROM access_grants WHERE ` + where + ` ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying grants: %w", err)
	}
	defer rows.Close()

	var grants []*grant.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning grant: %w", err)
		}
		grants = append(grants, g)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating grant rows: %w", err)
	}
	return grants, nil
}

func (r *PostgresGrantRepository) FindUnassigned(ctx context.Context, now time.Time) ([]*grant.Grant, error) {
	where, args := unassignedWhere("", now)
	return r.list(ctx, where, args...)
}

func (r *PostgresGrantRepository) FindUnassignedByEmail(ctx context.Context, email string, now time.Time) ([]*grant.Grant, error) {
	where, args := unassignedWhere(email, now)
	return r.list(ctx, where, args...)
}

func (r *PostgresGrantRepository) FindByGrantee(ctx context.Context, granteeUserID, campaignID string, filter grant.GranteeFilter, now time.Time) ([]*grant.Grant, error) {
	where, args := granteeWhere(granteeUserID, campaignID, filter, now)
	return r.list(ctx, where, args...)
}

func (r *PostgresGrantRepository) FindByRecipient(ctx context.Context, recipientUserID string, withPast bool, now time.Time) ([]*grant.Grant, error) {
	where, args := recipientWhere(recipientUserID, withPast, now)
	return r.list(ctx, where, args...)
}

func (r *PostgresGrantRepository) FindActiveByEmail(ctx context.Context, campaignID, email string, now time.Time) ([]*grant.Grant, error) {
	return r.list(ctx, `campaign_id = $1 AND email = $2 AND begin_at <= $3 AND end_at > $3
               AND revoked_at IS NULL AND invalidated_at IS NULL`, campaignID, email, now)
}

func (r *PostgresGrantRepository) FindExpired(ctx context.Context, now time.Time) ([]*grant.Grant, error) {
	return r.list(ctx, `end_at < $1 AND invalidated_at IS NULL`, now)
}

func (r *PostgresGrantRepository) FindRevokedNotInvalidated(ctx context.Context) ([]*grant.Grant, error) {
	return r.list(ctx, `revoked_at IS NOT NULL AND invalidated_at IS NULL`)
}

func (r *PostgresGrantRepository) FindFollowupDue(ctx context.Context, campaignID string, invalidatedBefore time.Time) ([]*grant.Grant, error) {
	return r.list(ctx, `campaign_id = $1 AND invalidated_at < $2 AND followup_at IS NULL`, campaignID, invalidatedBefore)
}

func (r *PostgresGrantRepository) ListEvents(ctx context.Context, grantID string) ([]*grant.Event, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, grant_id, type, metadata, created_at FROM access_events
               WHERE grant_id = $1 ORDER BY created_at, id`, grantID)
	if err != nil {
		return nil, fmt.Errorf("error querying events: %w", err)
	}
	defer rows.Close()

	var events []*grant.Event
	for rows.Next() {
		ev := &grant.Event{}
		var evType string
		var meta []byte
		if err := rows.Scan(&ev.ID, &ev.GrantID, &evType, &meta, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning event: %w", err)
		}
		ev.Type = grant.EventType(evType)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("error decoding event metadata: %w", err)
			}
		}
		events = append(events, ev)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return events, nil
}
