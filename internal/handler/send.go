package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/chatdesk/internal/middleware"
	"github.com/capitalize-ai/chatdesk/internal/model"
	"github.com/capitalize-ai/chatdesk/internal/store"
	"github.com/capitalize-ai/chatdesk/pkg/logger"
	"github.com/capitalize-ai/chatdesk/pkg/metrics"
)

// SendHandler streams assistant replies over SSE.
type SendHandler struct {
	store        *store.Store
	logger       *logger.Logger
	defaultModel string
}

// NewSendHandler creates a new send handler.
func NewSendHandler(s *store.Store, log *logger.Logger, defaultModel string) *SendHandler {
	return &SendHandler{
		store:        s,
		logger:       log,
		defaultModel: defaultModel,
	}
}

// Send handles POST /api/v1/conversations/{id}/send
//
// The conversation is opened (activated), the user message is appended, and
// the assistant reply streams back as SSE `token` events while the store
// fills the placeholder message. The terminal event is `message_complete`
// plus `done` on success, or `error` on stream failure (the placeholder then
// holds the fixed error reply).
func (h *SendHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !authorize(w, middleware.GetUserID(ctx), h.store) {
		return
	}

	id := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.store.IsBusy() {
		writeError(w, http.StatusConflict, "a reply is already being generated")
		return
	}

	if err := h.store.SetActive(id); err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	modelName := req.Model
	if modelName == "" {
		modelName = h.defaultModel
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	assistantMsg, err := h.store.SendUserMessage(ctx, req.Content, modelName,
		func(fragment string, index int) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			return sendSSEEvent(w, flusher, "token", &model.TokenEvent{
				Token: fragment,
				Index: index,
			})
		},
	)

	if err != nil {
		code := "stream_error"
		switch {
		case errors.Is(err, store.ErrBusy):
			code = "busy"
		case errors.Is(err, store.ErrNotAuthenticated):
			code = "not_authenticated"
		}
		sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
			Code:    code,
			Message: err.Error(),
		})
		return
	}

	sendSSEEvent(w, flusher, "message_complete", &model.MessageCompleteEvent{
		Message: assistantMsg,
	})
	sendSSEEvent(w, flusher, "done", map[string]bool{"success": true})
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
