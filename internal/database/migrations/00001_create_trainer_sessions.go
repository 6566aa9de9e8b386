package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreateTrainerSessions, downCreateTrainerSessions)
}

func upCreateTrainerSessions(ctx context.Context, tx *sql.Tx) error {
	query := `
		CREATE TABLE IF NOT EXISTS trainer_sessions (
			id UUID PRIMARY KEY,
			trainer_id TEXT NOT NULL,
			session_date TIMESTAMP WITH TIME ZONE NOT NULL,
			start_time TIMESTAMP WITH TIME ZONE NOT NULL,
			last_active_at TIMESTAMP WITH TIME ZONE NOT NULL,
			end_time TIMESTAMP WITH TIME ZONE,
			status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'completed', 'auto_closed')),
			duration_ms BIGINT,
			ip_address TEXT,
			device TEXT,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_trainer_sessions_one_active
			ON trainer_sessions (trainer_id, session_date) WHERE status = 'active';

		CREATE INDEX IF NOT EXISTS idx_trainer_sessions_stale
			ON trainer_sessions (session_date) WHERE status = 'active';

		CREATE INDEX IF NOT EXISTS idx_trainer_sessions_history
			ON trainer_sessions (trainer_id, start_time DESC);
	`

	_, err := tx.ExecContext(ctx, query)
	return err
}

func downCreateTrainerSessions(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS trainer_sessions;`)
	return err
}
