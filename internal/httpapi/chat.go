package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ragnote/ragcore/internal/pipeline"
	"github.com/ragnote/ragcore/internal/ratelimit"
	"github.com/ragnote/ragcore/internal/sessionval"
	"github.com/ragnote/ragcore/internal/store"
)

// ChatHandler serves the /chat endpoints.
type ChatHandler struct {
	pipeline  *pipeline.Pipeline
	store     *store.Store
	validator *sessionval.Validator
	limiter   *ratelimit.Limiter
	logger    *zap.Logger
}

// NewChatHandler constructs the handler.
func NewChatHandler(p *pipeline.Pipeline, st *store.Store, validator *sessionval.Validator,
	limiter *ratelimit.Limiter, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{pipeline: p, store: st, validator: validator, limiter: limiter, logger: logger}
}

// RegisterRoutes registers the protected chat endpoints.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /chat/message", h.handleMessage)
	mux.HandleFunc("GET /chat/conversations", h.handleList)
	mux.HandleFunc("DELETE /chat/conversations/{id}", h.handleDelete)
	mux.HandleFunc("PATCH /chat/conversations/{id}", h.handleRename)
	mux.HandleFunc("GET /chat/conversations/{id}/health", h.handleHealth)
	mux.HandleFunc("POST /chat/conversations/cleanup-expired", h.handleCleanup)
}

func (h *ChatHandler) handleMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req struct {
		Content        string `json:"content"`
		ConversationID string `json:"conversationId"`
		SystemPrompt   string `json:"systemPrompt"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	resp, err := h.pipeline.Chat(r.Context(), &pipeline.ChatRequest{
		UserID:         id.UserID,
		Username:       id.Username,
		ConversationID: req.ConversationID,
		Content:        req.Content,
		SystemPrompt:   req.SystemPrompt,
	})
	if err != nil {
		writeError(w, h.logger, err, h.limiter.RetryAfter(id.Username, "chat"))
		return
	}

	out := map[string]interface{}{
		"success":            true,
		"response":           resp.Response,
		"conversationId":     resp.ConversationID,
		"suggestedQuestions": resp.SuggestedQuestions,
	}
	if resp.Title != "" {
		out["title"] = resp.Title
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ChatHandler) handleList(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	convs, err := h.store.ListConversations(r.Context(), id.UserID)
	if err != nil {
		writeError(w, h.logger, err, 0)
		return
	}

	out := make([]map[string]interface{}, 0, len(convs))
	for _, c := range convs {
		count, err := h.store.CountMessages(r.Context(), c.ID)
		if err != nil {
			writeError(w, h.logger, err, 0)
			return
		}
		out = append(out, map[string]interface{}{
			"id":           c.ID,
			"title":        c.Title,
			"createdAt":    c.CreatedAt,
			"updatedAt":    c.UpdatedAt,
			"messageCount": count,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// owned loads the conversation and confirms ownership without requiring
// it to be active.
func (h *ChatHandler) owned(w http.ResponseWriter, r *http.Request, userID int64) (*store.Conversation, bool) {
	conv, err := h.store.GetConversation(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, sessionval.ErrNotFound, 0)
		return nil, false
	}
	if conv.UserID != userID {
		writeError(w, h.logger, sessionval.ErrNotFound, 0)
		return nil, false
	}
	return conv, true
}

func (h *ChatHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	conv, ok := h.owned(w, r, id.UserID)
	if !ok {
		return
	}
	if err := h.store.DeleteConversation(r.Context(), conv.ID); err != nil {
		writeError(w, h.logger, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *ChatHandler) handleRename(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	conv, ok := h.owned(w, r, id.UserID)
	if !ok {
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Title == "" {
		writeDetail(w, http.StatusBadRequest, "Title is required")
		return
	}
	if err := h.store.UpdateConversationTitle(r.Context(), conv.ID, req.Title); err != nil {
		writeError(w, h.logger, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *ChatHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	health, err := h.validator.CheckHealth(r.Context(), r.PathValue("id"), id.UserID)
	if err != nil {
		writeError(w, h.logger, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"health": health})
}

func (h *ChatHandler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	report, err := h.validator.CleanupUser(r.Context(), id.UserID)
	if err != nil {
		writeError(w, h.logger, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
