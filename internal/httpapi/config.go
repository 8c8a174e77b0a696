package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ragnote/ragcore/internal/configstore"
	"github.com/ragnote/ragcore/internal/embeddings"
	"github.com/ragnote/ragcore/internal/llm"
	"github.com/ragnote/ragcore/internal/ratelimit"
	"github.com/ragnote/ragcore/internal/store"
)

const providerTestTimeout = 10 * time.Second

// redactedKey replaces stored secrets in GET responses.
const redactedKey = "***"

// ConfigHandler serves per-user provider configuration.
type ConfigHandler struct {
	configs   *configstore.Store
	store     *store.Store
	encryptor *configstore.Encryptor
	limiter   *ratelimit.Limiter
	embedder  *embeddings.Service
	llm       *llm.Client
	logger    *zap.Logger
}

// NewConfigHandler constructs the handler. encryptor may be nil in
// development; snapshots are then stored unencrypted.
func NewConfigHandler(configs *configstore.Store, st *store.Store, encryptor *configstore.Encryptor,
	limiter *ratelimit.Limiter, embedder *embeddings.Service, chat *llm.Client, logger *zap.Logger) *ConfigHandler {
	return &ConfigHandler{
		configs:   configs,
		store:     st,
		encryptor: encryptor,
		limiter:   limiter,
		embedder:  embedder,
		llm:       chat,
		logger:    logger,
	}
}

// RegisterRoutes registers the /config endpoints.
func (h *ConfigHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /config", h.handleSave)
	mux.HandleFunc("GET /config", h.handleGet)
	mux.HandleFunc("POST /config/test", h.handleTest)
}

type configRequest struct {
	APIKey         string `json:"apiKey"`
	BaseURL        string `json:"baseUrl"`
	Model          string `json:"model"`
	EmbeddingKey   string `json:"embeddingApiKey"`
	EmbeddingURL   string `json:"embeddingBaseUrl"`
	EmbeddingModel string `json:"embeddingModel"`
	WebSearchKey   string `json:"webSearchApiKey"`
}

func (h *ConfigHandler) handleSave(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if err := h.limiter.Allow(id.Username, "config_update"); err != nil {
		writeError(w, h.logger, err, h.limiter.RetryAfter(id.Username, "config_update"))
		return
	}

	var req configRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.APIKey == "" && req.BaseURL == "" && req.EmbeddingKey == "" {
		writeDetail(w, http.StatusBadRequest, "No configuration values provided")
		return
	}

	cfg := configstore.UserConfig{
		LLMBaseURL:       req.BaseURL,
		LLMAPIKey:        req.APIKey,
		LLMModel:         req.Model,
		EmbeddingBaseURL: req.EmbeddingURL,
		EmbeddingAPIKey:  req.EmbeddingKey,
		EmbeddingModel:   req.EmbeddingModel,
		WebSearchAPIKey:  req.WebSearchKey,
		UpdatedAt:        time.Now(),
	}
	h.configs.SetConfig(id.UserID, cfg)

	if err := h.persistSnapshot(r.Context(), id.UserID, cfg); err != nil {
		h.logger.Warn("Config snapshot persistence failed", zap.Int64("user_id", id.UserID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// persistSnapshot stores the (encrypted) config so it survives restarts.
func (h *ConfigHandler) persistSnapshot(ctx context.Context, userID int64, cfg configstore.UserConfig) error {
	toStore := cfg
	if h.encryptor != nil {
		var err error
		toStore, err = h.encryptor.EncryptConfig(cfg)
		if err != nil {
			return err
		}
	}
	raw, err := json.Marshal(toStore)
	if err != nil {
		return err
	}
	return h.store.SaveConfigSnapshot(ctx, userID, string(raw))
}

func (h *ConfigHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	cfg, err := h.configs.GetConfig(id.UserID)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"configured": false})
		return
	}
	resp := map[string]interface{}{
		"configured":     true,
		"baseUrl":        cfg.LLMBaseURL,
		"model":          cfg.LLMModel,
		"embeddingModel": cfg.EmbeddingModel,
	}
	if cfg.LLMAPIKey != "" {
		resp["apiKey"] = redactedKey
	}
	if cfg.EmbeddingAPIKey != "" {
		resp["embeddingApiKey"] = redactedKey
	}
	if cfg.WebSearchAPIKey != "" {
		resp["webSearchApiKey"] = redactedKey
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTest probes each configured provider with a short deadline and
// reports per-provider status.
func (h *ConfigHandler) handleTest(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	embedder := h.embedder
	chat := h.llm
	if cfg, err := h.configs.GetConfig(id.UserID); err == nil {
		embedder = embedder.WithOverrides(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel)
		chat = chat.WithOverrides(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
	}

	ctx, cancel := context.WithTimeout(r.Context(), providerTestTimeout)
	defer cancel()

	status := map[string]string{}
	if !embedder.Configured() {
		status["embedding"] = "not configured"
	} else if _, err := embedder.Embed(ctx, "connection test"); err != nil {
		status["embedding"] = "failed"
	} else {
		status["embedding"] = "ok"
	}
	if !chat.Configured() {
		status["llm"] = "not configured"
	} else if _, err := chat.Chat(ctx, []llm.Message{{Role: "user", Content: "ping"}}, llm.Options{MaxTokens: 5}); err != nil {
		status["llm"] = "failed"
	} else {
		status["llm"] = "ok"
	}
	writeJSON(w, http.StatusOK, status)
}
