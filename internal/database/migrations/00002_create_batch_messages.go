package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreateBatchMessages, downCreateBatchMessages)
}

func upCreateBatchMessages(ctx context.Context, tx *sql.Tx) error {
	query := `
		CREATE TABLE IF NOT EXISTS batch_messages (
			id UUID PRIMARY KEY,
			batch_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			sender_model TEXT NOT NULL CHECK (sender_model IN ('Student', 'Trainer', 'Admin')),
			sender_name TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT 'text' CHECK (type IN ('text', 'image', 'video', 'audio', 'file')),
			file_url TEXT,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT clock_timestamp(),
			CHECK (type = 'text' OR file_url IS NOT NULL)
		);

		CREATE INDEX IF NOT EXISTS idx_batch_messages_batch_created
			ON batch_messages (batch_id, created_at DESC, id DESC);
	`

	_, err := tx.ExecContext(ctx, query)
	return err
}

func downCreateBatchMessages(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS batch_messages;`)
	return err
}
