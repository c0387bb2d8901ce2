package postgres

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS evaluations (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	result     JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS evaluations_status_idx ON evaluations (status, updated_at);
CREATE INDEX IF NOT EXISTS evaluations_created_idx ON evaluations (created_at);
`

// EnsureSchema creates the evaluations table and its indexes if they do not
// exist yet. The worker runs it once at startup.
func EnsureSchema(ctx context.Context, pool PgxPool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("op=schema.ensure: %w", err)
	}
	return nil
}
