package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"autopilot-platform/pkg/utils"
)

// Postgres implements Store on a single JSONB table.
//
// Schema:
//
//	CREATE TABLE documents (
//	    workspace_id TEXT NOT NULL,
//	    collection   TEXT NOT NULL,
//	    key          TEXT NOT NULL,
//	    version      BIGINT NOT NULL,
//	    data         JSONB NOT NULL,
//	    updated_at   TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (workspace_id, collection, key)
//	);
type Postgres struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, clock: time.Now}
}

func (p *Postgres) Get(ctx context.Context, workspaceID, collection, key string) (Document, error) {
	if err := validateKey(workspaceID, collection, key); err != nil {
		return Document{}, err
	}
	row := p.db.QueryRowContext(ctx, `
		SELECT version, data, updated_at
		FROM documents
		WHERE workspace_id = $1 AND collection = $2 AND key = $3`,
		workspaceID, collection, key)

	d := Document{WorkspaceID: workspaceID, Collection: collection, Key: key}
	var data []byte
	if err := row.Scan(&d.Version, &data, &d.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	d.Data = data
	return d, nil
}

func (p *Postgres) Put(ctx context.Context, workspaceID, collection, key string, data any) (Document, error) {
	if err := validateKey(workspaceID, collection, key); err != nil {
		return Document{}, err
	}
	body, err := marshalBody(data)
	if err != nil {
		return Document{}, err
	}
	now := p.clock().UTC()

	row := p.db.QueryRowContext(ctx, `
		INSERT INTO documents (workspace_id, collection, key, version, data, updated_at)
		VALUES ($1, $2, $3, 1, $4, $5)
		ON CONFLICT (workspace_id, collection, key)
		DO UPDATE SET version = documents.version + 1, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
		RETURNING version`,
		workspaceID, collection, key, []byte(body), now)

	d := Document{WorkspaceID: workspaceID, Collection: collection, Key: key, Data: body, UpdatedAt: now}
	if err := row.Scan(&d.Version); err != nil {
		return Document{}, err
	}
	return d, nil
}

func (p *Postgres) UpdateConditional(ctx context.Context, workspaceID, collection, key string, expectedVersion int64, data any) (Document, error) {
	if err := validateKey(workspaceID, collection, key); err != nil {
		return Document{}, err
	}
	body, err := marshalBody(data)
	if err != nil {
		return Document{}, err
	}
	now := p.clock().UTC()

	out := Document{WorkspaceID: workspaceID, Collection: collection, Key: key, Data: body, UpdatedAt: now}
	err = utils.WithTx(ctx, p.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		var current int64
		row := tx.QueryRowContext(ctx, `
			SELECT version FROM documents
			WHERE workspace_id = $1 AND collection = $2 AND key = $3
			FOR UPDATE`,
			workspaceID, collection, key)
		if err := row.Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if current != expectedVersion {
			return ErrConflict
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE documents
			SET version = version + 1, data = $4, updated_at = $5
			WHERE workspace_id = $1 AND collection = $2 AND key = $3`,
			workspaceID, collection, key, []byte(body), now)
		if err != nil {
			return err
		}
		out.Version = current + 1
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	return out, nil
}

func (p *Postgres) Increment(ctx context.Context, workspaceID, collection, key, field string, delta int64) (int64, error) {
	if err := validateKey(workspaceID, collection, key); err != nil {
		return 0, err
	}
	if field == "" {
		return 0, ErrInvalidArgument
	}
	now := p.clock().UTC()

	// jsonb_set on a text path; the document is created when missing so
	// counters never require a prior Put.
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO documents (workspace_id, collection, key, version, data, updated_at)
		VALUES ($1, $2, $3, 1, jsonb_build_object($4::text, $5::bigint), $6)
		ON CONFLICT (workspace_id, collection, key)
		DO UPDATE SET
			version = documents.version + 1,
			data = jsonb_set(
				documents.data,
				ARRAY[$4::text],
				to_jsonb(COALESCE((documents.data ->> $4)::bigint, 0) + $5::bigint)
			),
			updated_at = $6
		RETURNING (data ->> $4)::bigint`,
		workspaceID, collection, key, field, delta, now)

	var out int64
	if err := row.Scan(&out); err != nil {
		return 0, err
	}
	return out, nil
}

func (p *Postgres) List(ctx context.Context, workspaceID, collection string) ([]Document, error) {
	if workspaceID == "" || collection == "" {
		return nil, ErrInvalidArgument
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT key, version, data, updated_at
		FROM documents
		WHERE workspace_id = $1 AND collection = $2
		ORDER BY key`,
		workspaceID, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		d := Document{WorkspaceID: workspaceID, Collection: collection}
		var data []byte
		if err := rows.Scan(&d.Key, &d.Version, &data, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.Data = data
		out = append(out, d)
	}
	return out, rows.Err()
}
