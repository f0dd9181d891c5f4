package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo persists audit records in an insert-only table.
//
// Schema:
//
//	CREATE TABLE audit_records (
//	    id            TEXT PRIMARY KEY,
//	    workspace_id  TEXT NOT NULL,
//	    actor         TEXT NOT NULL,
//	    actor_user_id TEXT,
//	    action_type   TEXT NOT NULL,
//	    description   TEXT,
//	    detail        JSONB,
//	    simulated     BOOLEAN NOT NULL,
//	    approved      BOOLEAN NOT NULL,
//	    campaign_id   TEXT,
//	    lead_id       TEXT,
//	    decision_id   TEXT,
//	    created_at    TIMESTAMPTZ NOT NULL
//	);
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, rec Record) error {
	detail := rec.Detail
	if detail == "" {
		detail = "{}"
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_records
			(id, workspace_id, actor, actor_user_id, action_type, description,
			 detail, simulated, approved, campaign_id, lead_id, decision_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		rec.ID, rec.WorkspaceID, string(rec.Actor), rec.ActorUserID, rec.ActionType,
		rec.Description, detail, rec.Simulated, rec.Approved,
		rec.CampaignID, rec.LeadID, rec.DecisionID, rec.CreatedAt)
	return err
}

func (r *PostgresRepo) List(ctx context.Context, workspaceID string, limit int) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workspace_id, actor, actor_user_id, action_type, description,
		       detail, simulated, approved, campaign_id, lead_id, decision_id, created_at
		FROM audit_records
		WHERE workspace_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		workspaceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var actor string
		if err := rows.Scan(&rec.ID, &rec.WorkspaceID, &actor, &rec.ActorUserID,
			&rec.ActionType, &rec.Description, &rec.Detail, &rec.Simulated,
			&rec.Approved, &rec.CampaignID, &rec.LeadID, &rec.DecisionID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Actor = Actor(actor)
		out = append(out, rec)
	}
	return out, rows.Err()
}
