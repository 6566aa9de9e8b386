package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/taranggg/lms-sub000/internal/models"
)

type ChatHistory interface {
	History(ctx context.Context, batchID string, page, limit int) (*models.MessagePage, error)
}

type ChatHandler struct {
	chat ChatHistory
}

func NewChatHandler(chat ChatHistory) *ChatHandler {
	return &ChatHandler{chat: chat}
}

// Messages returns one page of a batch's history, oldest first within the page.
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchId")

	page, ok := queryInt(w, r, "page")
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}

	result, err := h.chat.History(r.Context(), batchID, page, limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// queryInt reads an optional integer query param. Absent means 0, which
// the service replaces with its default.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		validationFailed(w, r, name, "must be an integer")
		return 0, false
	}
	return n, true
}
