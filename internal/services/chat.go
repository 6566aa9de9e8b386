package services

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/taranggg/lms-sub000/internal/metrics"
	"github.com/taranggg/lms-sub000/internal/models"
)

const (
	DefaultHistoryPage  = 1
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

type MessageStore interface {
	Create(ctx context.Context, m *models.Message) error
	// ListByBatch returns one page newest first together with the batch total.
	ListByBatch(ctx context.Context, batchID string, limit, offset int) ([]*models.Message, int, error)
}

// Broadcaster delivers an event to every member of a room and reports how many were reached.
type Broadcaster interface {
	EmitToRoom(room, event string, payload interface{}) int
}

func RoomForBatch(batchID string) string {
	return "batch_" + batchID
}

type ChatService struct {
	store    MessageStore
	hub      Broadcaster
	validate *validator.Validate
	rooms    roomLocks
}

func NewChatService(store MessageStore, hub Broadcaster, validate *validator.Validate) *ChatService {
	if validate == nil {
		validate = NewValidator()
	}
	return &ChatService{
		store:    store,
		hub:      hub,
		validate: validate,
		rooms:    roomLocks{locks: make(map[string]*roomLock)},
	}
}

// Send persists a message and then broadcasts it to the batch room,
// sender included. Nothing is broadcast when the write fails.
func (c *ChatService) Send(ctx context.Context, req models.SendMessageRequest) (*models.Message, error) {
	ctx, span := tracer.Start(ctx, "ChatService.Send")
	defer span.End()

	req.BatchID = strings.TrimSpace(req.BatchID)
	req.SenderID = strings.TrimSpace(req.SenderID)
	req.SenderName = strings.TrimSpace(req.SenderName)
	req.FileURL = strings.TrimSpace(req.FileURL)
	if req.Type == "" {
		req.Type = models.MessageText
	}

	if err := Validate(c.validate, &req); err != nil {
		metrics.MessageFailures.Inc()
		return nil, err
	}

	msg := &models.Message{
		BatchID:     req.BatchID,
		SenderID:    req.SenderID,
		SenderModel: req.SenderModel,
		SenderName:  req.SenderName,
		Content:     req.Content,
		Type:        req.Type,
	}
	if req.FileURL != "" {
		msg.FileURL = &req.FileURL
	}

	room := RoomForBatch(msg.BatchID)
	unlock := c.rooms.lock(room)
	defer unlock()

	if err := c.store.Create(ctx, msg); err != nil {
		metrics.MessageFailures.Inc()
		slog.ErrorContext(ctx, "Failed to persist chat message", "batch_id", msg.BatchID, "sender_id", msg.SenderID, "error", err)
		span.RecordError(err)
		return nil, &StoreError{Op: "persist message", Err: err}
	}

	recipients := c.hub.EmitToRoom(room, models.EventReceiveMessage, msg)
	metrics.MessagesSent.WithLabelValues(string(msg.Type)).Inc()
	slog.DebugContext(ctx, "Message delivered", "message_id", msg.ID, "room", room, "recipients", recipients)

	return msg, nil
}

// History returns one page of a batch's messages ordered oldest to newest.
// Page 1 holds the most recent messages.
func (c *ChatService) History(ctx context.Context, batchID string, page, limit int) (*models.MessagePage, error) {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return nil, &ValidationError{Fields: map[string]string{"batchId": "is required"}}
	}
	if page < 1 {
		page = DefaultHistoryPage
	}
	if limit < 1 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	messages, total, err := c.store.ListByBatch(ctx, batchID, limit, (page-1)*limit)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load chat history", "batch_id", batchID, "error", err)
		return nil, &StoreError{Op: "list messages", Err: err}
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	if messages == nil {
		messages = []*models.Message{}
	}

	return &models.MessagePage{
		Data: messages,
		Pagination: models.Pagination{
			Total:      total,
			Page:       page,
			Limit:      limit,
			TotalPages: (total + limit - 1) / limit,
		},
	}, nil
}

// roomLocks serializes persist+broadcast per room and forgets idle rooms.
type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	sync.Mutex
	refs int
}

func (r *roomLocks) lock(room string) func() {
	r.mu.Lock()
	l, ok := r.locks[room]
	if !ok {
		l = &roomLock{}
		r.locks[room] = l
	}
	l.refs++
	r.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, room)
		}
		r.mu.Unlock()
	}
}
