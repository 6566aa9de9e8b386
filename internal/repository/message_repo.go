package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taranggg/lms-sub000/internal/models"
)

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func (r *MessageRepo) Create(ctx context.Context, m *models.Message) error {
	m.ID = uuid.New()

	query := `INSERT INTO batch_messages (id, batch_id, sender_id, sender_model, sender_name, content, type, file_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		m.ID, m.BatchID, m.SenderID, m.SenderModel, m.SenderName, m.Content, m.Type, m.FileURL,
	).Scan(&m.CreatedAt)
}

// ListByBatch returns one page of a batch's messages newest first, plus the batch total.
func (r *MessageRepo) ListByBatch(ctx context.Context, batchID string, limit, offset int) ([]*models.Message, int, error) {
	var total int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM batch_messages WHERE batch_id = $1", batchID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	query := `SELECT id, batch_id, sender_id, sender_model, sender_name, content, type, file_url, created_at
		FROM batch_messages WHERE batch_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, batchID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m := &models.Message{}
		if err := rows.Scan(
			&m.ID, &m.BatchID, &m.SenderID, &m.SenderModel, &m.SenderName,
			&m.Content, &m.Type, &m.FileURL, &m.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		messages = append(messages, m)
	}
	return messages, total, rows.Err()
}
