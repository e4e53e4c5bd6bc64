package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/chatdesk/internal/middleware"
	"github.com/capitalize-ai/chatdesk/internal/model"
	"github.com/capitalize-ai/chatdesk/internal/store"
	"github.com/capitalize-ai/chatdesk/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	store  *store.Store
	logger *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(s *store.Store, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		store:  s,
		logger: log,
	}
}

// Create handles POST /api/v1/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !authorize(w, middleware.GetUserID(ctx), h.store) {
		return
	}

	var req model.CreateConversationRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	id, err := h.store.CreateConversation(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotAuthenticated) {
			writeError(w, http.StatusServiceUnavailable, "no identity bound")
			return
		}
		h.logger.Error("failed to create conversation")
		writeError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}

	if req.Title != "" {
		if err := middleware.ValidateTitle(req.Title); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.store.RenameConversation(ctx, id, req.Title); err != nil {
			h.logger.Error("failed to apply initial title")
			writeError(w, http.StatusInternalServerError, "failed to create conversation")
			return
		}
	}

	// A fresh conversation becomes the open one, mirroring new-chat behavior.
	h.store.SetActive(id)

	conv, _ := h.store.Conversation(id)
	writeJSON(w, http.StatusCreated, conv)
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, middleware.GetUserID(r.Context()), h.store) {
		return
	}

	convs := h.store.Snapshot()
	writeJSON(w, http.StatusOK, &model.ListConversationsResponse{
		Conversations: convs,
		Total:         len(convs),
	})
}

// Get handles GET /api/v1/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, middleware.GetUserID(r.Context()), h.store) {
		return
	}

	id := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, ok := h.store.Conversation(id)
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Update handles PUT /api/v1/conversations/{id} (rename)
func (h *ConversationHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !authorize(w, middleware.GetUserID(ctx), h.store) {
		return
	}

	id := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.RenameConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.RenameConversation(ctx, id, req.Title); err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	conv, _ := h.store.Conversation(id)
	writeJSON(w, http.StatusOK, conv)
}

// Delete handles DELETE /api/v1/conversations/{id}
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !authorize(w, middleware.GetUserID(ctx), h.store) {
		return
	}

	id := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.DeleteConversation(ctx, id); err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Activate handles POST /api/v1/conversations/{id}/activate
func (h *ConversationHandler) Activate(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, middleware.GetUserID(r.Context()), h.store) {
		return
	}

	id := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.SetActive(id); err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Active handles GET /api/v1/conversations/active
func (h *ConversationHandler) Active(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, middleware.GetUserID(r.Context()), h.store) {
		return
	}

	conv := h.store.ActiveConversation()
	if conv == nil {
		writeError(w, http.StatusNotFound, "no active conversation")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}
