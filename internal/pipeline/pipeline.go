// Package pipeline orchestrates the chat/retrieval and document ingest
// flows across the rate limiter, session validator, caches, vector
// stores, and the provider clients.
package pipeline

import (
	"errors"

	"go.uber.org/zap"

	"github.com/ragnote/ragcore/internal/chunker"
	"github.com/ragnote/ragcore/internal/configstore"
	"github.com/ragnote/ragcore/internal/embeddings"
	"github.com/ragnote/ragcore/internal/llm"
	"github.com/ragnote/ragcore/internal/memory"
	"github.com/ragnote/ragcore/internal/rerank"
	"github.com/ragnote/ragcore/internal/semcache"
	"github.com/ragnote/ragcore/internal/sessionval"
	"github.com/ragnote/ragcore/internal/store"
	"github.com/ragnote/ragcore/internal/vectorstore"
	"github.com/ragnote/ragcore/internal/websearch"
)

// Retrieval tuning.
const (
	searchTopK   = 10
	contextTopN  = 5
	defaultTitle = "New Conversation"

	// twoLevelThreshold is the per-conversation chunk count above which
	// retrieval funnels through document summaries first.
	twoLevelThreshold = 1000
)

// ErrIngest reports a document that could not be processed.
var ErrIngest = errors.New("document ingest failed")

// ValidationError carries a client-facing input problem.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Limiter is the rate-limit gate the pipelines consult.
type Limiter interface {
	Allow(user, operation string) error
}

// Pipeline wires the retrieval and ingest flows.
type Pipeline struct {
	limiter   Limiter
	validator *sessionval.Validator
	store     *store.Store
	configs   *configstore.Store
	vectors   *vectorstore.Manager
	embedder  *embeddings.Service
	llm       *llm.Client
	semcache  *semcache.Cache
	websearch *websearch.Client
	reranker  *rerank.Client
	memory    *memory.Store
	chunker   *chunker.Chunker
	logger    *zap.Logger
}

// Deps collects the pipeline collaborators.
type Deps struct {
	Limiter   Limiter
	Validator *sessionval.Validator
	Store     *store.Store
	Configs   *configstore.Store
	Vectors   *vectorstore.Manager
	Embedder  *embeddings.Service
	LLM       *llm.Client
	SemCache  *semcache.Cache
	WebSearch *websearch.Client
	Reranker  *rerank.Client
	Memory    *memory.Store
	Chunker   *chunker.Chunker
}

// New wires a pipeline. SemCache, WebSearch, Reranker, and Memory may
// be nil; the corresponding steps are skipped.
func New(deps Deps, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		limiter:   deps.Limiter,
		validator: deps.Validator,
		store:     deps.Store,
		configs:   deps.Configs,
		vectors:   deps.Vectors,
		embedder:  deps.Embedder,
		llm:       deps.LLM,
		semcache:  deps.SemCache,
		websearch: deps.WebSearch,
		reranker:  deps.Reranker,
		memory:    deps.Memory,
		chunker:   deps.Chunker,
		logger:    logger,
	}
}

// providers resolves the per-user embedding and chat clients. Saved user
// configuration overrides the process-wide providers; a user with neither
// gets ErrConfigMissing.
func (p *Pipeline) providers(userID int64) (*embeddings.Service, *llm.Client, error) {
	embedder := p.embedder
	chat := p.llm
	if cfg, err := p.configs.GetConfig(userID); err == nil {
		embedder = embedder.WithOverrides(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel)
		chat = chat.WithOverrides(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
	}
	if !embedder.Configured() || !chat.Configured() {
		return nil, nil, configstore.ErrConfigMissing
	}
	return embedder, chat, nil
}
