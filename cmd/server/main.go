// Command server runs the RAG conversation service: HTTP API, relational
// store, per-conversation vector indexes, and the provider clients.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ragnote/ragcore/internal/auth"
	"github.com/ragnote/ragcore/internal/chunker"
	"github.com/ragnote/ragcore/internal/config"
	"github.com/ragnote/ragcore/internal/configstore"
	"github.com/ragnote/ragcore/internal/db"
	"github.com/ragnote/ragcore/internal/embeddings"
	"github.com/ragnote/ragcore/internal/httpapi"
	"github.com/ragnote/ragcore/internal/llm"
	"github.com/ragnote/ragcore/internal/memory"
	"github.com/ragnote/ragcore/internal/pipeline"
	"github.com/ragnote/ragcore/internal/querycache"
	"github.com/ragnote/ragcore/internal/ratelimit"
	"github.com/ragnote/ragcore/internal/rerank"
	"github.com/ragnote/ragcore/internal/semcache"
	"github.com/ragnote/ragcore/internal/sessionval"
	"github.com/ragnote/ragcore/internal/store"
	"github.com/ragnote/ragcore/internal/vectorstore"
	"github.com/ragnote/ragcore/internal/websearch"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := buildLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := db.NewClient(&cfg.Database, logger)
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unreachable, falling back to in-memory caches", zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	// nil rdb selects the in-process LRU backend
	st := store.New(client, querycache.New(rdb, logger), logger)

	var encryptor *configstore.Encryptor
	if cfg.Auth.MasterKey != "" {
		encryptor, err = configstore.NewEncryptor(cfg.Auth.MasterKey)
		if err != nil {
			return fmt.Errorf("master key: %w", err)
		}
	} else {
		logger.Warn("MASTER_ENCRYPTION_KEY not set, provider keys are stored unencrypted")
	}

	configs := configstore.New(cfg.Auth.CodeTTL, logger)
	if err := restoreConfigs(ctx, st, configs, encryptor, logger); err != nil {
		logger.Warn("Config snapshot restore failed", zap.Error(err))
	}

	limiter := ratelimit.New(logger)
	validator := sessionval.New(st, cfg.Session.ExpiryDays, logger)
	go validator.Run(ctx, cfg.Session.CleanupInterval)

	vectors, err := vectorstore.NewManager(cfg.Database.VectorDataDir, logger)
	if err != nil {
		return fmt.Errorf("vector store: %w", err)
	}
	defer vectors.Close()

	embedder := embeddings.New(embeddings.Config{
		BaseURL:   cfg.Embeddings.BaseURL,
		APIKey:    cfg.Embeddings.APIKey,
		Model:     cfg.Embeddings.Model,
		Timeout:   cfg.Embeddings.Timeout,
		CacheSize: cfg.Embeddings.CacheSize,
		BatchSize: cfg.Embeddings.BatchSize,
	}, logger)

	chat := llm.New(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Timeout:     cfg.LLM.Timeout,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		RatePerSec:  cfg.LLM.RatePerSec,
	}, logger)

	search := websearch.New(websearch.Config{
		BaseURL:    cfg.WebSearch.BaseURL,
		APIKey:     cfg.WebSearch.APIKey,
		Timeout:    cfg.WebSearch.Timeout,
		MaxResults: cfg.WebSearch.MaxResults,
	}, logger)

	var reranker *rerank.Client
	if cfg.Reranker.Enabled {
		reranker = rerank.New(rerank.Config{
			BaseURL: cfg.Reranker.BaseURL,
			APIKey:  cfg.Reranker.APIKey,
			Model:   cfg.Reranker.Model,
			Timeout: cfg.Reranker.Timeout,
		}, logger)
		go reranker.Init(ctx)
	}

	cache := semcache.New(semcache.Config{
		Threshold: cfg.Vector.CacheSimThreshold,
		TTL:       cfg.Vector.SemanticCacheTTL,
		MaxSize:   cfg.Vector.SemanticCacheMax,
	}, rdb, logger)

	p := pipeline.New(pipeline.Deps{
		Limiter:   limiter,
		Validator: validator,
		Store:     st,
		Configs:   configs,
		Vectors:   vectors,
		Embedder:  embedder,
		LLM:       chat,
		SemCache:  cache,
		WebSearch: search,
		Reranker:  reranker,
		Memory:    memory.New(client, logger),
		Chunker: chunker.New(chunker.Config{
			ChunkSize:    cfg.Vector.ChunkSize,
			Overlap:      cfg.Vector.ChunkOverlap,
			MinChunkSize: cfg.Vector.MinChunkSize,
			MaxChunkSize: cfg.Vector.MaxChunkSize,
		}, logger),
	}, logger)

	mailer := auth.NewSMTPMailer(auth.SMTPConfig{
		Host:     cfg.Email.Host,
		Port:     cfg.Email.Port,
		Sender:   cfg.Email.From,
		Password: cfg.Email.Password,
	}, logger)
	authSvc := auth.NewService(auth.Config{
		JWTSecret:    cfg.Auth.JWTSecret,
		AccessExpiry: cfg.Auth.AccessTokenExpiry,
		HashWorkers:  cfg.Auth.BcryptWorkers,
	}, st, configs, mailerOrNil(mailer), logger)

	uploads, err := os.MkdirTemp("", "ragcore-uploads-")
	if err != nil {
		return fmt.Errorf("uploads dir: %w", err)
	}
	defer os.RemoveAll(uploads)

	server := httpapi.NewServer(fmt.Sprintf(":%d", cfg.Service.Port), auth.NewMiddleware(authSvc.JWT()), httpapi.Handlers{
		Auth:      httpapi.NewAuthHandler(authSvc, st, limiter, logger),
		Config:    httpapi.NewConfigHandler(configs, st, encryptor, limiter, embedder, chat, logger),
		Chat:      httpapi.NewChatHandler(p, st, validator, limiter, logger),
		Documents: httpapi.NewDocumentsHandler(p, st, configs, limiter, uploads, logger),
		Limiter:   limiter,
		Health:    healthHandler(client, rdb),
	}, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.GracefulTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// restoreConfigs replays persisted provider config snapshots into the
// runtime store so user settings survive restarts.
func restoreConfigs(ctx context.Context, st *store.Store, configs *configstore.Store,
	encryptor *configstore.Encryptor, logger *zap.Logger) error {
	snapshots, err := st.ListConfigSnapshots(ctx)
	if err != nil {
		return err
	}
	restored := 0
	for userID, raw := range snapshots {
		var cfg configstore.UserConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			logger.Warn("Skipping unreadable config snapshot", zap.Int64("user_id", userID), zap.Error(err))
			continue
		}
		if encryptor != nil {
			if cfg, err = encryptor.DecryptConfig(cfg); err != nil {
				logger.Warn("Skipping undecryptable config snapshot", zap.Int64("user_id", userID), zap.Error(err))
				continue
			}
		}
		configs.SetConfig(userID, cfg)
		restored++
	}
	if restored > 0 {
		logger.Info("Restored provider configs", zap.Int("count", restored))
	}
	return nil
}

// healthHandler reports overall status plus per-backend detail.
func healthHandler(client *db.Client, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := "ok"
		database := "ok"
		if err := client.Ping(ctx); err != nil {
			status, database = "degraded", "unreachable"
		}
		cacheBackend := "memory"
		if rdb != nil {
			cacheBackend = "redis"
			if err := rdb.Ping(ctx).Err(); err != nil {
				cacheBackend = "redis (unreachable)"
			}
		}
		code := http.StatusOK
		if status != "ok" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{
			"status":   status,
			"database": database,
			"cache":    cacheBackend,
		})
	}
}

// mailerOrNil keeps the service's nil-mailer dev mode when SMTP is not
// configured. A typed nil would defeat the nil check.
func mailerOrNil(m *auth.SMTPMailer) auth.Mailer {
	if m == nil {
		return nil
	}
	return m
}

func buildLogger() (*zap.Logger, error) {
	if os.Getenv("ENV") == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
