package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taranggg/lms-sub000/internal/metrics"
)

const sweepTimeout = 5 * time.Minute

// SweepLocker lets a single process own a reaper pass.
type SweepLocker interface {
	TryLock(ctx context.Context) (release func(), acquired bool, err error)
}

type SweepResult struct {
	Scanned int
	Closed  int
	Skipped int
	Failed  []uuid.UUID
}

// SessionReaper auto-closes active sessions left over from previous days.
type SessionReaper struct {
	sessions *SessionManager
	locker   SweepLocker
	interval time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewSessionReaper(sessions *SessionManager, locker SweepLocker, interval time.Duration) *SessionReaper {
	return &SessionReaper{
		sessions: sessions,
		locker:   locker,
		interval: interval,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (r *SessionReaper) Start() {
	go r.loop()
	slog.Info("Session reaper started", "interval", r.interval.String())
}

// Stop halts the loop and waits for an in-flight pass to finish. Safe to call more than once.
func (r *SessionReaper) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
	<-r.done
}

func (r *SessionReaper) loop() {
	defer close(r.done)

	// Run on startup as well as by interval.
	r.runOnce()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.runOnce()
		}
	}
}

func (r *SessionReaper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if r.locker != nil {
		release, acquired, err := r.locker.TryLock(ctx)
		if err != nil {
			metrics.ReaperSweeps.WithLabelValues("lock_error").Inc()
			slog.Warn("reaper: failed to acquire sweep lock, skipping pass", "error", err)
			return
		}
		if !acquired {
			metrics.ReaperSweeps.WithLabelValues("locked").Inc()
			slog.Debug("reaper: sweep lock held elsewhere, skipping pass")
			return
		}
		defer release()
	}

	result, err := r.Sweep(ctx)
	var partial *PartialSweepError
	switch {
	case errors.As(err, &partial):
		metrics.ReaperSweeps.WithLabelValues("partial").Inc()
		slog.Warn("reaper: pass finished with failures",
			"scanned", result.Scanned, "closed", result.Closed, "failed", len(partial.Failed))
	case err != nil:
		metrics.ReaperSweeps.WithLabelValues("error").Inc()
		slog.Error("reaper: pass failed", "error", err)
	default:
		metrics.ReaperSweeps.WithLabelValues("ok").Inc()
		if result.Closed > 0 {
			slog.Info("reaper: pass finished", "scanned", result.Scanned, "closed", result.Closed, "skipped", result.Skipped)
		}
	}
}

// Sweep closes every stale active session independently. Sessions that fail
// are reported in a *PartialSweepError after the rest have been processed.
func (r *SessionReaper) Sweep(ctx context.Context) (SweepResult, error) {
	ctx, span := tracer.Start(ctx, "SessionReaper.Sweep")
	defer span.End()

	var result SweepResult

	stale, err := r.sessions.ListStale(ctx)
	if err != nil {
		return result, err
	}
	result.Scanned = len(stale)

	for _, s := range stale {
		_, closed, err := r.sessions.AutoClose(ctx, s.ID)
		if err != nil {
			slog.ErrorContext(ctx, "reaper: failed to auto-close session", "session_id", s.ID, "trainer_id", s.TrainerID, "error", err)
			metrics.ReaperFailures.Inc()
			result.Failed = append(result.Failed, s.ID)
			continue
		}
		if !closed {
			result.Skipped++
			continue
		}
		metrics.ReaperClosed.Inc()
		result.Closed++
	}

	if len(result.Failed) > 0 {
		return result, &PartialSweepError{Failed: result.Failed}
	}
	return result, nil
}
