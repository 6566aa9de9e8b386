package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/taranggg/lms-sub000/internal/metrics"
	"github.com/taranggg/lms-sub000/internal/models"
	"github.com/taranggg/lms-sub000/internal/repository"
)

var tracer = otel.Tracer("github.com/taranggg/lms-sub000/internal/services")

// SessionStore is the persistence the session lifecycle runs on.
// Complete, Touch and AutoClose only match rows that are still active and
// report repository.ErrNotFound otherwise.
type SessionStore interface {
	ResumeOrCreate(ctx context.Context, s *models.TrainerSession) (*models.TrainerSession, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.TrainerSession, error)
	FindActive(ctx context.Context, trainerID string, day time.Time) (*models.TrainerSession, error)
	Touch(ctx context.Context, id uuid.UUID, at time.Time) (*models.TrainerSession, error)
	Complete(ctx context.Context, id uuid.UUID, at time.Time) (*models.TrainerSession, error)
	AutoClose(ctx context.Context, id uuid.UUID) (*models.TrainerSession, error)
	ListStale(ctx context.Context, today time.Time) ([]*models.TrainerSession, error)
	List(ctx context.Context, filter models.SessionFilter) ([]*models.TrainerSession, error)
}

type SessionManager struct {
	store  SessionStore
	events EventPublisher
	loc    *time.Location
	now    func() time.Time
}

func NewSessionManager(store SessionStore, events EventPublisher, loc *time.Location) *SessionManager {
	if events == nil {
		events = NoopPublisher{}
	}
	if loc == nil {
		loc = time.Local
	}
	return &SessionManager{
		store:  store,
		events: events,
		loc:    loc,
		now:    time.Now,
	}
}

// DayOf returns local midnight of the calendar day containing t.
func (m *SessionManager) DayOf(t time.Time) time.Time {
	y, mo, d := t.In(m.loc).Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, m.loc)
}

func (m *SessionManager) Today() time.Time {
	return m.DayOf(m.now())
}

// Join resumes the trainer's active session for today or starts a new one.
func (m *SessionManager) Join(ctx context.Context, trainerID string, meta models.ClientMeta) (*models.TrainerSession, bool, error) {
	ctx, span := tracer.Start(ctx, "SessionManager.Join", trace.WithAttributes(attribute.String("trainer.id", trainerID)))
	defer span.End()

	trainerID = strings.TrimSpace(trainerID)
	if trainerID == "" {
		return nil, false, &ValidationError{Fields: map[string]string{"trainerId": "is required"}}
	}

	now := m.now()
	candidate := &models.TrainerSession{
		TrainerID:    trainerID,
		Date:         m.DayOf(now),
		StartTime:    now,
		LastActiveAt: now,
		Status:       models.SessionActive,
		IPAddress:    optional(meta.IPAddress),
		Device:       optional(meta.Device),
	}

	session, resumed, err := m.store.ResumeOrCreate(ctx, candidate)
	if err != nil {
		return nil, false, m.storeFailure(ctx, span, "resume or create session", err)
	}

	subject, transition := SubjectSessionStarted, "started"
	if resumed {
		subject, transition = SubjectSessionResumed, "resumed"
	}
	m.transitioned(ctx, subject, transition, session)

	span.SetAttributes(attribute.String("session.id", session.ID.String()), attribute.Bool("session.resumed", resumed))
	return session, resumed, nil
}

// Heartbeat advances lastActiveAt on an active session.
func (m *SessionManager) Heartbeat(ctx context.Context, id uuid.UUID) (*models.TrainerSession, error) {
	session, err := m.store.Touch(ctx, id, m.now())
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, m.storeFailure(ctx, nil, "heartbeat session", err)
	}

	existing, err := m.store.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Message: "Session not found"}
	}
	if err != nil {
		return nil, m.storeFailure(ctx, nil, "load session", err)
	}
	return existing, &ConflictError{Message: "Session is no longer active"}
}

// HeartbeatTrainer heartbeats the trainer's active session for today. It never creates one.
func (m *SessionManager) HeartbeatTrainer(ctx context.Context, trainerID string) (*models.TrainerSession, error) {
	session, err := m.store.FindActive(ctx, trainerID, m.Today())
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Message: "No active session for trainer today"}
	}
	if err != nil {
		return nil, m.storeFailure(ctx, nil, "find active session", err)
	}
	return m.Heartbeat(ctx, session.ID)
}

// End completes an active session. Ending an already terminal session
// returns it unchanged.
func (m *SessionManager) End(ctx context.Context, id uuid.UUID) (*models.TrainerSession, error) {
	ctx, span := tracer.Start(ctx, "SessionManager.End", trace.WithAttributes(attribute.String("session.id", id.String())))
	defer span.End()

	session, err := m.store.Complete(ctx, id, m.now())
	if err == nil {
		m.transitioned(ctx, SubjectSessionEnded, "completed", session)
		return session, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, m.storeFailure(ctx, span, "complete session", err)
	}

	existing, err := m.store.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Message: "Session not found"}
	}
	if err != nil {
		return nil, m.storeFailure(ctx, span, "load session", err)
	}
	return existing, nil
}

// AutoClose force-ends a still active session at its last activity.
// It reports false when the session had already left the active state.
func (m *SessionManager) AutoClose(ctx context.Context, id uuid.UUID) (*models.TrainerSession, bool, error) {
	session, err := m.store.AutoClose(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &StoreError{Op: "auto-close session", Err: err}
	}

	m.transitioned(ctx, SubjectSessionAutoClosed, "auto_closed", session)
	return session, true, nil
}

// ListStale returns active sessions that belong to a day before today.
func (m *SessionManager) ListStale(ctx context.Context) ([]*models.TrainerSession, error) {
	sessions, err := m.store.ListStale(ctx, m.Today())
	if err != nil {
		return nil, &StoreError{Op: "list stale sessions", Err: err}
	}
	return sessions, nil
}

// History lists sessions newest first. Date bounds are inclusive calendar days.
func (m *SessionManager) History(ctx context.Context, filter models.SessionFilter) ([]*models.TrainerSession, error) {
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return nil, &ValidationError{Fields: map[string]string{"endDate": "must not be before startDate"}}
	}

	sessions, err := m.store.List(ctx, filter)
	if err != nil {
		return nil, m.storeFailure(ctx, nil, "list sessions", err)
	}
	if sessions == nil {
		sessions = []*models.TrainerSession{}
	}
	return sessions, nil
}

func (m *SessionManager) transitioned(ctx context.Context, subject, transition string, s *models.TrainerSession) {
	metrics.SessionTransitions.WithLabelValues(transition).Inc()
	slog.InfoContext(ctx, "Session "+transition, "session_id", s.ID, "trainer_id", s.TrainerID, "date", s.Date.Format("2006-01-02"))

	if err := m.events.PublishSession(ctx, subject, s); err != nil {
		slog.WarnContext(ctx, "Failed to publish presence event", "subject", subject, "session_id", s.ID, "error", err)
	}
}

func (m *SessionManager) storeFailure(ctx context.Context, span trace.Span, op string, err error) error {
	slog.ErrorContext(ctx, "Session store failure", "op", op, "error", err)
	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op)
	}
	return &StoreError{Op: op, Err: err}
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
