package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"

	"github.com/taranggg/lms-sub000/internal/models"
)

const (
	SubjectSessionStarted    = "presence.session.started"
	SubjectSessionResumed    = "presence.session.resumed"
	SubjectSessionEnded      = "presence.session.ended"
	SubjectSessionAutoClosed = "presence.session.auto_closed"
)

// EventPublisher fans presence transitions out to other services.
type EventPublisher interface {
	PublishSession(ctx context.Context, subject string, s *models.TrainerSession) error
	Close()
}

type SessionEvent struct {
	EventType    string     `json:"eventType"`
	SessionID    string     `json:"sessionId"`
	TrainerID    string     `json:"trainerId"`
	Date         string     `json:"date"`
	Status       string     `json:"status"`
	StartTime    time.Time  `json:"startTime"`
	LastActiveAt time.Time  `json:"lastActiveAt"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	DurationMs   *int64     `json:"durationMs,omitempty"`
}

func newSessionEvent(subject string, s *models.TrainerSession) SessionEvent {
	return SessionEvent{
		EventType:    subject,
		SessionID:    s.ID.String(),
		TrainerID:    s.TrainerID,
		Date:         s.Date.Format("2006-01-02"),
		Status:       string(s.Status),
		StartTime:    s.StartTime,
		LastActiveAt: s.LastActiveAt,
		EndTime:      s.EndTime,
		DurationMs:   s.DurationMs,
	}
}

type NatsPublisher struct {
	conn *nats.Conn
}

// NewEventPublisher connects to NATS, or returns a publisher that drops
// everything when natsURL is empty.
func NewEventPublisher(natsURL string) (EventPublisher, error) {
	if natsURL == "" {
		return NoopPublisher{}, nil
	}

	opts := natsOptions()

	var nc *nats.Conn
	connect := func() error {
		var err error
		nc, err = nats.Connect(natsURL, opts...)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(connect, b); err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NatsPublisher{conn: nc}, nil
}

func natsOptions() []nats.Option {
	return []nats.Option{
		nats.Name("presence-chat"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	}
}

func (p *NatsPublisher) PublishSession(ctx context.Context, subject string, s *models.TrainerSession) error {
	payload, err := json.Marshal(newSessionEvent(subject, s))
	if err != nil {
		return err
	}

	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	slog.DebugContext(ctx, "Published presence event", "subject", subject, "session_id", s.ID)
	return nil
}

func (p *NatsPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

type NoopPublisher struct{}

func (NoopPublisher) PublishSession(context.Context, string, *models.TrainerSession) error {
	return nil
}

func (NoopPublisher) Close() {}
