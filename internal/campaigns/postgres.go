package campaigns

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresRepo implements Repository on relational tables.
//
// Schema:
//
//	CREATE TABLE campaigns (
//	    id              TEXT PRIMARY KEY,
//	    workspace_id    TEXT NOT NULL,
//	    name            TEXT NOT NULL,
//	    status          TEXT NOT NULL,
//	    scheduled_day   INT NOT NULL,
//	    scheduled_hour  INT NOT NULL,
//	    has_active_test BOOLEAN NOT NULL,
//	    created_at      TIMESTAMPTZ NOT NULL,
//	    updated_at      TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX campaigns_workspace_idx ON campaigns (workspace_id, status);
//
//	CREATE TABLE metric_snapshots (
//	    id           TEXT PRIMARY KEY,
//	    workspace_id TEXT NOT NULL,
//	    campaign_id  TEXT NOT NULL,
//	    sent         INT NOT NULL,
//	    opens        INT NOT NULL,
//	    clicks       INT NOT NULL,
//	    sent_at      TIMESTAMPTZ NOT NULL,
//	    captured_at  TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX metric_snapshots_campaign_idx ON metric_snapshots (workspace_id, campaign_id, sent_at DESC);
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) GetCampaign(ctx context.Context, workspaceID, campaignID string) (Campaign, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, name, status, scheduled_day, scheduled_hour, has_active_test, created_at, updated_at
		FROM campaigns
		WHERE workspace_id = $1 AND id = $2`,
		workspaceID, campaignID)
	return scanCampaign(row)
}

func (r *PostgresRepo) UpsertCampaign(ctx context.Context, c Campaign) error {
	if c.WorkspaceID == "" || c.ID == "" {
		return errors.New("campaigns: workspace_id and id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, workspace_id, name, status, scheduled_day, scheduled_hour, has_active_test, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id)
		DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			scheduled_day = EXCLUDED.scheduled_day,
			scheduled_hour = EXCLUDED.scheduled_hour,
			has_active_test = EXCLUDED.has_active_test,
			updated_at = EXCLUDED.updated_at
		WHERE campaigns.workspace_id = EXCLUDED.workspace_id`,
		c.ID, c.WorkspaceID, c.Name, string(c.Status), c.ScheduledDay, c.ScheduledHour, c.HasActiveTest, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *PostgresRepo) ListActiveCampaigns(ctx context.Context, workspaceID string) ([]Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workspace_id, name, status, scheduled_day, scheduled_hour, has_active_test, created_at, updated_at
		FROM campaigns
		WHERE workspace_id = $1 AND status = $2
		ORDER BY id`,
		workspaceID, string(StatusActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) RecentSnapshots(ctx context.Context, workspaceID, campaignID string, limit int) ([]MetricSnapshot, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workspace_id, campaign_id, sent, opens, clicks, sent_at, captured_at
		FROM metric_snapshots
		WHERE workspace_id = $1 AND campaign_id = $2
		ORDER BY sent_at DESC
		LIMIT $3`,
		workspaceID, campaignID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MetricSnapshot
	for rows.Next() {
		var s MetricSnapshot
		if err := rows.Scan(&s.ID, &s.WorkspaceID, &s.CampaignID, &s.Sent, &s.Opens, &s.Clicks, &s.SentAt, &s.CapturedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) AppendSnapshot(ctx context.Context, s MetricSnapshot) error {
	if s.WorkspaceID == "" || s.CampaignID == "" {
		return errors.New("campaigns: workspace_id and campaign_id required")
	}
	// Insert only; snapshots are immutable.
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO metric_snapshots (id, workspace_id, campaign_id, sent, opens, clicks, sent_at, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.WorkspaceID, s.CampaignID, s.Sent, s.Opens, s.Clicks, s.SentAt, s.CapturedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (Campaign, error) {
	var c Campaign
	var status string
	err := row.Scan(&c.ID, &c.WorkspaceID, &c.Name, &status, &c.ScheduledDay, &c.ScheduledHour, &c.HasActiveTest, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		return Campaign{}, err
	}
	c.Status = Status(status)
	return c, nil
}
