package httpapi

import (
	"io"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ragnote/ragcore/internal/configstore"
	"github.com/ragnote/ragcore/internal/pipeline"
	"github.com/ragnote/ragcore/internal/ratelimit"
	"github.com/ragnote/ragcore/internal/store"
)

// maxUploadBytes bounds multipart uploads.
const maxUploadBytes = 50 << 20

// DocumentsHandler serves document upload and lifecycle endpoints.
type DocumentsHandler struct {
	pipeline *pipeline.Pipeline
	store    *store.Store
	configs  *configstore.Store
	limiter  *ratelimit.Limiter
	uploads  string
	logger   *zap.Logger
}

// NewDocumentsHandler constructs the handler. uploads is the scratch
// directory for in-flight files.
func NewDocumentsHandler(p *pipeline.Pipeline, st *store.Store, configs *configstore.Store,
	limiter *ratelimit.Limiter, uploads string, logger *zap.Logger) *DocumentsHandler {
	return &DocumentsHandler{
		pipeline: p,
		store:    st,
		configs:  configs,
		limiter:  limiter,
		uploads:  uploads,
		logger:   logger,
	}
}

// RegisterRoutes registers the protected document endpoints.
func (h *DocumentsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /documents/upload", h.handleUpload)
	mux.HandleFunc("GET /documents/status", h.handleStatus)
	mux.HandleFunc("POST /documents/clear", h.handleClear)
}

func (h *DocumentsHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		writeDetail(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	tmp, err := os.CreateTemp(h.uploads, "upload-*.pdf")
	if err != nil {
		writeError(w, h.logger, err, 0)
		return
	}
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		writeError(w, h.logger, err, 0)
		return
	}
	tmp.Close()

	result, err := h.pipeline.Ingest(r.Context(), &pipeline.IngestRequest{
		UserID:         id.UserID,
		Username:       id.Username,
		ConversationID: conversationID,
		Filename:       filepath.Base(header.Filename),
		TempPath:       tmp.Name(),
	})
	if err != nil {
		writeError(w, h.logger, err, h.limiter.RetryAfter(id.Username, "upload"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"filename":        result.Filename,
		"conversation_id": result.ConversationID,
		"chunk_count":     result.ChunkCount,
	})
}

func (h *DocumentsHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	conversationID := r.URL.Query().Get("conversation_id")

	loaded := false
	if conversationID != "" {
		if session, ok := h.configs.GetSession(conversationID); ok {
			loaded = session.DocumentsLoaded
		} else if conv, err := h.store.GetConversation(r.Context(), conversationID); err == nil && conv.UserID == id.UserID {
			loaded = conv.DocumentsLoaded
		}
	} else {
		docs, err := h.store.ListDocuments(r.Context(), id.UserID, "")
		if err == nil && len(docs) > 0 {
			loaded = true
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"documents_loaded": loaded})
}

func (h *DocumentsHandler) handleClear(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if err := h.pipeline.ClearDocuments(r.Context(), id.UserID); err != nil {
		writeError(w, h.logger, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
