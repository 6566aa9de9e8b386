package models

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionCompleted  SessionStatus = "completed"
	SessionAutoClosed SessionStatus = "auto_closed"
)

// TrainerSession is one trainer's presence window for one calendar day.
// At most one row per (TrainerID, Date) may be active.
type TrainerSession struct {
	ID           uuid.UUID     `json:"id"`
	TrainerID    string        `json:"trainerId"`
	Date         time.Time     `json:"date"`
	StartTime    time.Time     `json:"startTime"`
	LastActiveAt time.Time     `json:"lastActiveAt"`
	EndTime      *time.Time    `json:"endTime,omitempty"`
	Status       SessionStatus `json:"status"`
	DurationMs   *int64        `json:"duration,omitempty"`
	IPAddress    *string       `json:"ipAddress,omitempty"`
	Device       *string       `json:"device,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

func (s *TrainerSession) IsActive() bool {
	return s.Status == SessionActive
}

// ClientMeta is best-effort provenance captured when a session is joined.
type ClientMeta struct {
	IPAddress string
	Device    string
}

// SessionFilter narrows a history query. Zero values mean "no bound".
type SessionFilter struct {
	TrainerID string
	StartDate *time.Time
	EndDate   *time.Time
}
