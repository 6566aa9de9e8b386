package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taranggg/lms-sub000/internal/models"
)

// ErrNotFound is returned when a lookup or conditional update matches no row.
var ErrNotFound = errors.New("not found")

const sessionColumns = `id, trainer_id, session_date, start_time, last_active_at, end_time,
	status, duration_ms, ip_address, device, created_at, updated_at`

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

func scanSession(row pgx.Row, extra ...any) (*models.TrainerSession, error) {
	s := &models.TrainerSession{}
	dest := []any{
		&s.ID, &s.TrainerID, &s.Date, &s.StartTime, &s.LastActiveAt, &s.EndTime,
		&s.Status, &s.DurationMs, &s.IPAddress, &s.Device, &s.CreatedAt, &s.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// ResumeOrCreate inserts an active session for (trainer, day) or, when one
// already exists, advances its last_active_at. The partial unique index
// idx_trainer_sessions_one_active makes this a single atomic step.
func (r *SessionRepo) ResumeOrCreate(ctx context.Context, s *models.TrainerSession) (*models.TrainerSession, bool, error) {
	query := `
		INSERT INTO trainer_sessions (id, trainer_id, session_date, start_time, last_active_at, status, ip_address, device)
		VALUES ($1, $2, $3, $4, $4, 'active', $5, $6)
		ON CONFLICT (trainer_id, session_date) WHERE status = 'active'
		DO UPDATE SET
			last_active_at = GREATEST(trainer_sessions.last_active_at, EXCLUDED.last_active_at),
			updated_at = NOW()
		RETURNING ` + sessionColumns + `, (xmax <> 0) AS resumed`

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	var resumed bool
	stored, err := scanSession(r.pool.QueryRow(ctx, query,
		s.ID, s.TrainerID, s.Date, s.StartTime, s.IPAddress, s.Device,
	), &resumed)
	if err != nil {
		return nil, false, err
	}
	return stored, resumed, nil
}

func (r *SessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.TrainerSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM trainer_sessions WHERE id = $1`
	return scanSession(r.pool.QueryRow(ctx, query, id))
}

func (r *SessionRepo) FindActive(ctx context.Context, trainerID string, day time.Time) (*models.TrainerSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM trainer_sessions
		WHERE trainer_id = $1 AND session_date = $2 AND status = 'active'`
	return scanSession(r.pool.QueryRow(ctx, query, trainerID, day))
}

// Touch advances last_active_at on an active session. It never moves it backwards.
func (r *SessionRepo) Touch(ctx context.Context, id uuid.UUID, at time.Time) (*models.TrainerSession, error) {
	query := `
		UPDATE trainer_sessions
		SET last_active_at = GREATEST(last_active_at, $2), updated_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING ` + sessionColumns
	return scanSession(r.pool.QueryRow(ctx, query, id, at))
}

// Complete ends an active session cleanly at the given time.
func (r *SessionRepo) Complete(ctx context.Context, id uuid.UUID, at time.Time) (*models.TrainerSession, error) {
	query := `
		UPDATE trainer_sessions
		SET status = 'completed',
			end_time = $2,
			duration_ms = GREATEST(0, FLOOR(EXTRACT(EPOCH FROM ($2 - start_time)) * 1000))::BIGINT,
			updated_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING ` + sessionColumns
	return scanSession(r.pool.QueryRow(ctx, query, id, at))
}

// AutoClose force-ends an active session at its last recorded activity.
func (r *SessionRepo) AutoClose(ctx context.Context, id uuid.UUID) (*models.TrainerSession, error) {
	query := `
		UPDATE trainer_sessions
		SET status = 'auto_closed',
			end_time = last_active_at,
			duration_ms = GREATEST(0, FLOOR(EXTRACT(EPOCH FROM (last_active_at - start_time)) * 1000))::BIGINT,
			updated_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING ` + sessionColumns
	return scanSession(r.pool.QueryRow(ctx, query, id))
}

// ListStale returns active sessions whose day is before the given day.
func (r *SessionRepo) ListStale(ctx context.Context, today time.Time) ([]*models.TrainerSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM trainer_sessions
		WHERE status = 'active' AND session_date < $1
		ORDER BY session_date, start_time`
	return r.list(ctx, query, today)
}

func (r *SessionRepo) List(ctx context.Context, filter models.SessionFilter) ([]*models.TrainerSession, error) {
	var args []interface{}
	where := "WHERE TRUE"

	if filter.TrainerID != "" {
		args = append(args, filter.TrainerID)
		where += fmt.Sprintf(" AND trainer_id = $%d", len(args))
	}
	if filter.StartDate != nil {
		args = append(args, *filter.StartDate)
		where += fmt.Sprintf(" AND session_date >= $%d", len(args))
	}
	if filter.EndDate != nil {
		args = append(args, *filter.EndDate)
		where += fmt.Sprintf(" AND session_date <= $%d", len(args))
	}

	query := `SELECT ` + sessionColumns + ` FROM trainer_sessions ` + where + ` ORDER BY start_time DESC`
	return r.list(ctx, query, args...)
}

func (r *SessionRepo) list(ctx context.Context, query string, args ...interface{}) ([]*models.TrainerSession, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.TrainerSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
