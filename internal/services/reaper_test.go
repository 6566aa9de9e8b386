package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/taranggg/lms-sub000/internal/models"
)

func TestSessionReaper_DayBoundaryScenario(t *testing.T) {
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	m, _, clock, pub := newTestManager(t, day)
	ctx := context.Background()

	s, _, err := m.Join(ctx, "trainer-1", models.ClientMeta{})
	require.NoError(t, err)

	clock.Set(day.Add(5 * time.Minute))
	_, err = m.Heartbeat(ctx, s.ID)
	require.NoError(t, err)
	clock.Set(day.Add(10 * time.Minute))
	_, err = m.Heartbeat(ctx, s.ID)
	require.NoError(t, err)

	reaper := NewSessionReaper(m, nil, time.Hour)

	// Still day D: nothing is stale.
	clock.Set(day.Add(14 * time.Hour))
	result, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, result.Scanned)

	clock.Set(time.Date(2026, 3, 3, 0, 5, 0, 0, time.UTC))
	result, err = reaper.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Closed)

	stored, err := m.End(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionAutoClosed, stored.Status)
	require.Equal(t, day.Add(10*time.Minute), *stored.EndTime)
	require.Equal(t, (10 * time.Minute).Milliseconds(), *stored.DurationMs)
	require.Equal(t, stored.EndTime.Sub(stored.StartTime).Milliseconds(), *stored.DurationMs)
	require.Contains(t, pub.Subjects(), SubjectSessionAutoClosed)
}

func TestSessionReaper_SweepIsIdempotent(t *testing.T) {
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	m, _, clock, _ := newTestManager(t, day)
	ctx := context.Background()

	for _, trainer := range []string{"t-1", "t-2", "t-3"} {
		_, _, err := m.Join(ctx, trainer, models.ClientMeta{})
		require.NoError(t, err)
	}

	clock.Set(day.AddDate(0, 0, 1))
	reaper := NewSessionReaper(m, nil, time.Hour)

	first, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, first.Closed)

	second, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, second.Scanned)
	require.Zero(t, second.Closed)
}

func TestSessionReaper_ContinuesPastFailures(t *testing.T) {
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	m, store, clock, _ := newTestManager(t, day)
	ctx := context.Background()

	bad, _, err := m.Join(ctx, "t-bad", models.ClientMeta{})
	require.NoError(t, err)
	good, _, err := m.Join(ctx, "t-good", models.ClientMeta{})
	require.NoError(t, err)
	store.failAutoClose[bad.ID] = true

	clock.Set(day.AddDate(0, 0, 1))
	result, err := NewSessionReaper(m, nil, time.Hour).Sweep(ctx)

	var partial *PartialSweepError
	require.ErrorAs(t, err, &partial)
	require.Equal(t, []uuid.UUID{bad.ID}, partial.Failed)
	require.Equal(t, 1, result.Closed)

	closed, err := store.GetByID(ctx, good.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionAutoClosed, closed.Status)

	stillActive, err := store.GetByID(ctx, bad.ID)
	require.NoError(t, err)
	require.True(t, stillActive.IsActive())
}

func TestSessionReaper_SkipsSessionEndedMidSweep(t *testing.T) {
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	m, store, clock, _ := newTestManager(t, day)
	ctx := context.Background()

	s, _, err := m.Join(ctx, "t-1", models.ClientMeta{})
	require.NoError(t, err)
	clock.Set(day.AddDate(0, 0, 1))

	// The row is listed as stale, then ended before the reaper reaches it.
	racing := &endBeforeAutoClose{memSessionStore: store, manager: m}
	m.store = racing

	result, err := NewSessionReaper(m, nil, time.Hour).Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Skipped)

	stored, err := store.GetByID(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionCompleted, stored.Status)
}

type endBeforeAutoClose struct {
	*memSessionStore
	manager *SessionManager
}

func (e *endBeforeAutoClose) AutoClose(ctx context.Context, id uuid.UUID) (*models.TrainerSession, error) {
	if _, err := e.memSessionStore.Complete(ctx, id, e.manager.now()); err != nil {
		return nil, err
	}
	return e.memSessionStore.AutoClose(ctx, id)
}

func TestSessionReaper_ListFailure(t *testing.T) {
	m, store, _, _ := newTestManager(t, time.Now())
	store.err = errStoreDown

	_, err := NewSessionReaper(m, nil, time.Hour).Sweep(context.Background())

	var serr *StoreError
	require.ErrorAs(t, err, &serr)
}

type stubLocker struct {
	acquired bool
	err      error
	calls    int
	released int
}

func (l *stubLocker) TryLock(context.Context) (func(), bool, error) {
	l.calls++
	if l.err != nil || !l.acquired {
		return nil, false, l.err
	}
	return func() { l.released++ }, true, nil
}

func TestSessionReaper_RunOnceHonoursLock(t *testing.T) {
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name       string
		locker     *stubLocker
		wantStatus models.SessionStatus
	}{
		{name: "held elsewhere", locker: &stubLocker{acquired: false}, wantStatus: models.SessionActive},
		{name: "lock error", locker: &stubLocker{err: errors.New("redis down")}, wantStatus: models.SessionActive},
		{name: "acquired", locker: &stubLocker{acquired: true}, wantStatus: models.SessionAutoClosed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, store, clock, _ := newTestManager(t, day)
			s, _, err := m.Join(context.Background(), "t-1", models.ClientMeta{})
			require.NoError(t, err)
			clock.Set(day.AddDate(0, 0, 1))

			NewSessionReaper(m, tc.locker, time.Hour).runOnce()

			stored, err := store.GetByID(context.Background(), s.ID)
			require.NoError(t, err)
			require.Equal(t, tc.wantStatus, stored.Status)
			require.Equal(t, 1, tc.locker.calls)
			if tc.locker.acquired {
				require.Equal(t, 1, tc.locker.released)
			}
		})
	}
}

func TestSessionReaper_StartSweepsImmediatelyAndStops(t *testing.T) {
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	m, store, clock, _ := newTestManager(t, day)
	s, _, err := m.Join(context.Background(), "t-1", models.ClientMeta{})
	require.NoError(t, err)
	clock.Set(day.AddDate(0, 0, 1))

	reaper := NewSessionReaper(m, nil, time.Hour)
	reaper.Start()

	require.Eventually(t, func() bool {
		stored, err := store.GetByID(context.Background(), s.ID)
		return err == nil && stored.Status == models.SessionAutoClosed
	}, time.Second, 10*time.Millisecond)

	reaper.Stop()
	reaper.Stop()
}
