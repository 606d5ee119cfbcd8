package persist

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/db"
	"github.com/sells-group/prospect-cli/internal/model"
)

const postgresMigration = `
CREATE TABLE IF NOT EXISTS lead_backups (
	account_id TEXT NOT NULL,
	lead_id    TEXT NOT NULL,
	data       JSONB NOT NULL,
	synthetic  BOOLEAN NOT NULL DEFAULT false,
	saved_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (account_id, lead_id)
);

CREATE INDEX IF NOT EXISTS idx_lead_backups_saved_at ON lead_backups(account_id, saved_at DESC);

CREATE TABLE IF NOT EXISTS search_contexts (
	account_id TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	saved_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

var leadBackupUpsert = db.UpsertConfig{
	Table:        "lead_backups",
	Columns:      []string{"account_id", "lead_id", "data", "synthetic", "saved_at"},
	ConflictKeys: []string{"account_id", "lead_id"},
}

// PostgresRemote stores backups in Postgres: one row per lead plus the
// latest search context per account.
type PostgresRemote struct {
	pool    db.Pool
	nowFunc func() time.Time
}

// NewPostgresRemote wraps an open pool.
func NewPostgresRemote(pool db.Pool) *PostgresRemote {
	return &PostgresRemote{pool: pool, nowFunc: time.Now}
}

// Migrate creates the backup tables.
func (p *PostgresRemote) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (p *PostgresRemote) Save(ctx context.Context, account string, leads []model.Lead, sc *model.SearchContext) error {
	now := p.nowFunc().UTC()

	rows := make([][]any, 0, len(leads))
	for _, l := range leads {
		data, err := json.Marshal(l)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal lead %s", l.ID)
		}
		rows = append(rows, []any{account, l.ID, data, l.Synthetic, now})
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if sc != nil {
		data, err := json.Marshal(sc)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal search context")
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO search_contexts (account_id, data, saved_at) VALUES ($1, $2, $3)
			 ON CONFLICT (account_id) DO UPDATE SET data = EXCLUDED.data, saved_at = EXCLUDED.saved_at`,
			account, data, now,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: upsert search context")
		}
	}

	if _, err := db.BulkUpsert(ctx, tx, leadBackupUpsert, rows); err != nil {
		return eris.Wrap(err, "postgres: upsert leads")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit save")
}

func (p *PostgresRemote) Fetch(ctx context.Context, account string, limit int) (*RemoteSnapshot, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := p.pool.Query(ctx,
		`SELECT data, saved_at FROM lead_backups WHERE account_id = $1 ORDER BY saved_at DESC, lead_id LIMIT $2`,
		account, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: fetch leads")
	}
	defer rows.Close()

	snap := &RemoteSnapshot{}
	for rows.Next() {
		var (
			data    []byte
			savedAt time.Time
		)
		if err := rows.Scan(&data, &savedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		var l model.Lead
		if err := json.Unmarshal(data, &l); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal lead")
		}
		snap.Leads = append(snap.Leads, l)
		if savedAt.After(snap.SavedAt) {
			snap.SavedAt = savedAt
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate leads")
	}

	var ctxData []byte
	err = p.pool.QueryRow(ctx,
		`SELECT data FROM search_contexts WHERE account_id = $1`, account,
	).Scan(&ctxData)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, eris.Wrap(err, "postgres: fetch search context")
	default:
		var sc model.SearchContext
		if err := json.Unmarshal(ctxData, &sc); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal search context")
		}
		snap.Context = &sc
	}

	if len(snap.Leads) == 0 && snap.Context == nil {
		return nil, nil
	}
	return snap, nil
}

func (p *PostgresRemote) Delete(ctx context.Context, account string, criteria DeleteCriteria) error {
	if criteria.All {
		tx, err := p.pool.Begin(ctx)
		if err != nil {
			return eris.Wrap(err, "postgres: begin delete")
		}
		defer tx.Rollback(ctx) //nolint:errcheck

		if _, err := tx.Exec(ctx, `DELETE FROM lead_backups WHERE account_id = $1`, account); err != nil {
			return eris.Wrap(err, "postgres: delete leads")
		}
		if _, err := tx.Exec(ctx, `DELETE FROM search_contexts WHERE account_id = $1`, account); err != nil {
			return eris.Wrap(err, "postgres: delete search context")
		}
		return eris.Wrap(tx.Commit(ctx), "postgres: commit delete")
	}

	if len(criteria.IDs) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx,
		`DELETE FROM lead_backups WHERE account_id = $1 AND lead_id = ANY($2)`,
		account, criteria.IDs,
	)
	return eris.Wrap(err, "postgres: delete leads by id")
}
