package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest metrics
	DocumentsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ragcore_documents_ingested_total",
			Help: "Total number of documents ingested",
		},
	)

	ChunksIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ragcore_chunks_ingested_total",
			Help: "Total number of chunks written to vector stores",
		},
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ragcore_ingest_duration_seconds",
			Help:    "Document ingest duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	// Retrieval metrics
	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragcore_vector_searches_total",
			Help: "Total number of vector searches",
		},
		[]string{"index", "status"},
	)

	VectorSearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragcore_vector_search_duration_seconds",
			Help:    "Vector search duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"index"},
	)

	ChatRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragcore_chat_requests_total",
			Help: "Total chat requests by outcome",
		},
		[]string{"status"},
	)

	ChatDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ragcore_chat_duration_seconds",
			Help:    "End-to-end chat request duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragcore_embedding_requests_total",
			Help: "Total embedding lookups by cache status",
		},
		[]string{"status"},
	)

	EmbeddingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ragcore_embedding_duration_seconds",
			Help:    "Remote embedding call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Semantic cache metrics
	SemanticCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ragcore_semantic_cache_hits_total",
			Help: "Total semantic cache hits",
		},
	)

	SemanticCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ragcore_semantic_cache_misses_total",
			Help: "Total semantic cache misses",
		},
	)

	SemanticCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ragcore_semantic_cache_size",
			Help: "Number of entries in the semantic cache",
		},
	)

	// Query-result cache metrics
	QueryCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragcore_query_cache_hits_total",
			Help: "Query-result cache hits by key prefix",
		},
		[]string{"prefix"},
	)

	QueryCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragcore_query_cache_misses_total",
			Help: "Query-result cache misses by key prefix",
		},
		[]string{"prefix"},
	)

	// Rate limiting metrics
	RateLimitDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragcore_rate_limit_denials_total",
			Help: "Total rate limit denials by operation",
		},
		[]string{"operation"},
	)

	BlacklistedUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ragcore_blacklisted_users",
			Help: "Number of currently blacklisted users",
		},
	)

	// Provider metrics
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragcore_provider_calls_total",
			Help: "Outbound provider calls by provider and status",
		},
		[]string{"provider", "status"},
	)

	ProviderRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragcore_provider_retries_total",
			Help: "Retries of outbound provider calls",
		},
		[]string{"provider"},
	)

	// Session metrics
	ConversationsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ragcore_conversations_expired_total",
			Help: "Conversations deleted by expiry cleanup",
		},
	)

	ActiveConversations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ragcore_active_conversations",
			Help: "Conversations touched within the expiry window",
		},
	)
)
