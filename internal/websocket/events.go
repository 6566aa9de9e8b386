package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/taranggg/lms-sub000/internal/models"
	"github.com/taranggg/lms-sub000/internal/services"
)

type SessionLifecycle interface {
	Join(ctx context.Context, trainerID string, meta models.ClientMeta) (*models.TrainerSession, bool, error)
	Heartbeat(ctx context.Context, id uuid.UUID) (*models.TrainerSession, error)
	HeartbeatTrainer(ctx context.Context, trainerID string) (*models.TrainerSession, error)
}

type MessageSender interface {
	Send(ctx context.Context, req models.SendMessageRequest) (*models.Message, error)
}

type eventHandlers struct {
	hub               *Hub
	sessions          SessionLifecycle
	chat              MessageSender
	validate          *validator.Validate
	heartbeatInterval time.Duration
}

// RegisterEventHandlers wires the realtime protocol onto the hub.
func RegisterEventHandlers(h *Hub, sessions SessionLifecycle, chat MessageSender, validate *validator.Validate, heartbeatInterval time.Duration) {
	eh := &eventHandlers{
		hub:               h,
		sessions:          sessions,
		chat:              chat,
		validate:          validate,
		heartbeatInterval: heartbeatInterval,
	}

	h.On(models.EventJoinSession, eh.joinSession)
	h.On(models.EventHeartbeat, eh.heartbeat)
	h.On(models.EventJoinChat, eh.joinChat)
	h.On(models.EventSendMessage, eh.sendMessage)
}

func (eh *eventHandlers) joinSession(ctx context.Context, c *Client, data json.RawMessage) error {
	var p models.JoinSessionPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if p.TrainerID == "" {
		p.TrainerID = c.UserID
	}
	if err := services.Validate(eh.validate, &p); err != nil {
		return err
	}

	session, resumed, err := eh.sessions.Join(ctx, p.TrainerID, models.ClientMeta{
		IPAddress: c.RemoteAddr,
		Device:    c.UserAgent,
	})
	if err != nil {
		return err
	}

	eh.hub.BindSession(c, session.ID)
	c.Emit(models.EventSessionJoined, models.SessionJoinedEvent{
		SessionID:           session.ID.String(),
		Resumed:             resumed,
		HeartbeatIntervalMs: eh.heartbeatInterval.Milliseconds(),
	})
	return nil
}

// heartbeat prefers the session bound by join_session and otherwise
// re-resolves the trainer's active session for today.
func (eh *eventHandlers) heartbeat(ctx context.Context, c *Client, data json.RawMessage) error {
	var p models.HeartbeatPayload
	if err := decode(data, &p); err != nil {
		return err
	}

	if sessionID, ok := eh.hub.SessionFor(c); ok {
		_, err := eh.sessions.Heartbeat(ctx, sessionID)
		var conflict *services.ConflictError
		var notFound *services.NotFoundError
		if errors.As(err, &conflict) || errors.As(err, &notFound) {
			eh.hub.UnbindSession(c)
		}
		return err
	}

	if p.TrainerID == "" {
		p.TrainerID = c.UserID
	}
	if err := services.Validate(eh.validate, &p); err != nil {
		return err
	}
	_, err := eh.sessions.HeartbeatTrainer(ctx, p.TrainerID)
	return err
}

func (eh *eventHandlers) joinChat(_ context.Context, c *Client, data json.RawMessage) error {
	var p models.JoinChatPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := services.Validate(eh.validate, &p); err != nil {
		return err
	}

	room := services.RoomForBatch(p.BatchID)
	eh.hub.JoinRoom(c, room)
	c.Emit(models.EventChatJoined, models.ChatJoinedEvent{BatchID: p.BatchID, Room: room})
	return nil
}

// sendMessage reports failures as message_error so the sender can tell a
// lost message from a rejected event.
func (eh *eventHandlers) sendMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var req models.SendMessageRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	if _, err := eh.chat.Send(ctx, req); err != nil {
		c.Emit(models.EventMessageError, errorEventFor(err))
	}
	return nil
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &services.ValidationError{Fields: map[string]string{"data": "malformed payload"}}
	}
	return nil
}

func errorEventFor(err error) models.ErrorEvent {
	var (
		validationErr *services.ValidationError
		notFoundErr   *services.NotFoundError
		conflictErr   *services.ConflictError
		storeErr      *services.StoreError
	)
	switch {
	case errors.As(err, &validationErr):
		return models.ErrorEvent{Code: "VALIDATION_ERROR", Message: validationErr.Error()}
	case errors.As(err, &notFoundErr):
		return models.ErrorEvent{Code: "NOT_FOUND", Message: notFoundErr.Message}
	case errors.As(err, &conflictErr):
		return models.ErrorEvent{Code: "CONFLICT", Message: conflictErr.Message}
	case errors.As(err, &storeErr):
		return models.ErrorEvent{Code: "STORE_ERROR", Message: "Failed to save, please retry"}
	default:
		return models.ErrorEvent{Code: "INTERNAL_ERROR", Message: "Internal error"}
	}
}
