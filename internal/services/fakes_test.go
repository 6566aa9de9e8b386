package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taranggg/lms-sub000/internal/models"
	"github.com/taranggg/lms-sub000/internal/repository"
)

var errStoreDown = errors.New("connection refused")

// memSessionStore mirrors the Postgres semantics: one active row per
// (trainer, day) and conditional updates on the active state.
type memSessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.TrainerSession

	failAutoClose map[uuid.UUID]bool
	err           error
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{
		sessions:      make(map[uuid.UUID]*models.TrainerSession),
		failAutoClose: make(map[uuid.UUID]bool),
	}
}

func clone(s *models.TrainerSession) *models.TrainerSession {
	c := *s
	return &c
}

func (m *memSessionStore) ResumeOrCreate(_ context.Context, s *models.TrainerSession) (*models.TrainerSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}

	for _, existing := range m.sessions {
		if existing.TrainerID == s.TrainerID && existing.Date.Equal(s.Date) && existing.IsActive() {
			if s.LastActiveAt.After(existing.LastActiveAt) {
				existing.LastActiveAt = s.LastActiveAt
			}
			return clone(existing), true, nil
		}
	}

	stored := clone(s)
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	stored.Status = models.SessionActive
	stored.LastActiveAt = stored.StartTime
	stored.CreatedAt = stored.StartTime
	m.sessions[stored.ID] = stored
	return clone(stored), false, nil
}

func (m *memSessionStore) GetByID(_ context.Context, id uuid.UUID) (*models.TrainerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(s), nil
}

func (m *memSessionStore) FindActive(_ context.Context, trainerID string, day time.Time) (*models.TrainerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, s := range m.sessions {
		if s.TrainerID == trainerID && s.Date.Equal(day) && s.IsActive() {
			return clone(s), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memSessionStore) Touch(_ context.Context, id uuid.UUID, at time.Time) (*models.TrainerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.sessions[id]
	if !ok || !s.IsActive() {
		return nil, repository.ErrNotFound
	}
	if at.After(s.LastActiveAt) {
		s.LastActiveAt = at
	}
	return clone(s), nil
}

func (m *memSessionStore) Complete(_ context.Context, id uuid.UUID, at time.Time) (*models.TrainerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.sessions[id]
	if !ok || !s.IsActive() {
		return nil, repository.ErrNotFound
	}
	terminate(s, models.SessionCompleted, at)
	return clone(s), nil
}

func (m *memSessionStore) AutoClose(_ context.Context, id uuid.UUID) (*models.TrainerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.failAutoClose[id] {
		return nil, errStoreDown
	}
	s, ok := m.sessions[id]
	if !ok || !s.IsActive() {
		return nil, repository.ErrNotFound
	}
	terminate(s, models.SessionAutoClosed, s.LastActiveAt)
	return clone(s), nil
}

func terminate(s *models.TrainerSession, status models.SessionStatus, end time.Time) {
	d := end.Sub(s.StartTime).Milliseconds()
	if d < 0 {
		d = 0
	}
	s.Status = status
	s.EndTime = &end
	s.DurationMs = &d
}

func (m *memSessionStore) ListStale(_ context.Context, today time.Time) ([]*models.TrainerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.TrainerSession
	for _, s := range m.sessions {
		if s.IsActive() && s.Date.Before(today) {
			out = append(out, clone(s))
		}
	}
	return out, nil
}

func (m *memSessionStore) List(_ context.Context, f models.SessionFilter) ([]*models.TrainerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.TrainerSession
	for _, s := range m.sessions {
		if f.TrainerID != "" && s.TrainerID != f.TrainerID {
			continue
		}
		if f.StartDate != nil && s.Date.Before(*f.StartDate) {
			continue
		}
		if f.EndDate != nil && s.Date.After(*f.EndDate) {
			continue
		}
		out = append(out, clone(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func (m *memSessionStore) activeCount(trainerID string, day time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.TrainerID == trainerID && s.Date.Equal(day) && s.IsActive() {
			n++
		}
	}
	return n
}

// put seeds a session directly, bypassing the lifecycle.
func (m *memSessionStore) put(s *models.TrainerSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = clone(s)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *recordingPublisher) PublishSession(_ context.Context, subject string, _ *models.TrainerSession) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) Subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.subjects...)
}
