// internal/domain/campaign/campaign.go
package campaign

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Campaign configures a family of grants: who may grant, for how long, and
// when grantees get a follow-up after a grant was invalidated.
// Corresponds to the 'access_campaigns' table.
type Campaign struct {
	ID             string
	Name           string
	Constraints    []ConstraintSpec // evaluated in this order
	PeriodInterval Interval         // length of each grant, e.g. {"years": 1}
	EmailFollowup  Interval         // delay after invalidation before the follow-up mail
	BeginAt        sql.NullTime     // optional availability window of the campaign itself
	EndAt          sql.NullTime
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsRunning reports whether the campaign accepts grants at now.
func (c *Campaign) IsRunning(now time.Time) bool {
	if c.BeginAt.Valid && now.Before(c.BeginAt.Time) {
		return false
	}
	if c.EndAt.Valid && !now.Before(c.EndAt.Time) {
		return false
	}
	return true
}

// ConstraintSpec names a registered constraint and carries its settings.
// Stored as a single-key JSON object: {"requireRole": {"role": "member"}}.
type ConstraintSpec struct {
	Name     string
	Settings map[string]any
}

func (cs *ConstraintSpec) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode constraint: %w", err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("constraint must have exactly one name, got %d", len(raw))
	}
	for name, body := range raw {
		cs.Name = name
		cs.Settings = map[string]any{}
		if len(bytes.TrimSpace(body)) == 0 || bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
			continue
		}
		if err := json.Unmarshal(body, &cs.Settings); err != nil {
			return fmt.Errorf("decode settings of constraint %q: %w", name, err)
		}
	}
	return nil
}

func (cs ConstraintSpec) MarshalJSON() ([]byte, error) {
	settings := cs.Settings
	if settings == nil {
		settings = map[string]any{}
	}
	return json.Marshal(map[string]any{cs.Name: settings})
}
