package models

import "encoding/json"

// Realtime event names.
const (
	EventJoinSession    = "join_session"
	EventJoinChat       = "join_chat"
	EventSendMessage    = "send_message"
	EventHeartbeat      = "heartbeat"
	EventReceiveMessage = "receive_message"
	EventSessionJoined  = "session_joined"
	EventChatJoined     = "chat_joined"
	EventMessageError   = "message_error"
	EventError          = "error"
)

// Event is the realtime wire envelope in both directions.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinSessionPayload struct {
	TrainerID string `json:"trainerId" validate:"required,max=128"`
}

type HeartbeatPayload struct {
	TrainerID string `json:"trainerId" validate:"required,max=128"`
}

type JoinChatPayload struct {
	BatchID string          `json:"batchId" validate:"required,max=128"`
	User    json.RawMessage `json:"user,omitempty"`
}

type SessionJoinedEvent struct {
	SessionID           string `json:"sessionId"`
	Resumed             bool   `json:"resumed"`
	HeartbeatIntervalMs int64  `json:"heartbeatIntervalMs"`
}

type ChatJoinedEvent struct {
	BatchID string `json:"batchId"`
	Room    string `json:"room"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
