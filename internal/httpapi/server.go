package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ragnote/ragcore/internal/auth"
	"github.com/ragnote/ragcore/internal/ratelimit"
)

// quotaOperations are reported by GET /rate-limit/quota.
var quotaOperations = []string{"chat", "upload", "search", "config_update", "api_default"}

// Server assembles the HTTP surface.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// Handlers collects the route groups. Health may be nil; the endpoint
// then reports a bare ok.
type Handlers struct {
	Auth      *AuthHandler
	Config    *ConfigHandler
	Chat      *ChatHandler
	Documents *DocumentsHandler
	Limiter   *ratelimit.Limiter
	Health    http.HandlerFunc
}

// NewServer builds the router: public auth endpoints, token-protected
// application endpoints, and the operational endpoints.
func NewServer(addr string, middleware *auth.Middleware, h Handlers, logger *zap.Logger) *Server {
	protected := http.NewServeMux()
	h.Auth.RegisterProtectedRoutes(protected)
	h.Config.RegisterRoutes(protected)
	h.Chat.RegisterRoutes(protected)
	h.Documents.RegisterRoutes(protected)
	protected.HandleFunc("GET /rate-limit/quota", func(w http.ResponseWriter, r *http.Request) {
		id, ok := identity(w, r)
		if !ok {
			return
		}
		quotas := make(map[string]ratelimit.Quota, len(quotaOperations))
		for _, op := range quotaOperations {
			quotas[op] = h.Limiter.GetQuota(id.Username, op)
		}
		writeJSON(w, http.StatusOK, quotas)
	})

	mux := http.NewServeMux()
	h.Auth.RegisterRoutes(mux)
	health := h.Health
	if health == nil {
		health = func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		}
	}
	mux.HandleFunc("GET /health", health)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/", middleware.Handler(protected))

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           requestLogger(logger, mux),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// requestLogger logs one line per request.
func requestLogger(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("Request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(started)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Handler exposes the assembled router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
