// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the umbrella configuration object handed to every component.
type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Events         EventsConfig
	Ingest         IngestConfig
	Snooze         SnoozeConfig
	Classifier     ClassifierConfig
	Search         SearchConfig
	Vector         VectorConfig
	Reindex        ReindexConfig
	Orchestration  OrchestrationConfig
	Attachments    AttachmentsConfig
	SessionRouting SessionRoutingConfig
}

// ServerConfig holds HTTP surface settings.
type ServerConfig struct {
	Port        string
	Token       string
	CORSOrigins []string
	TrustProxy  bool
}

// TokenConfigured reports whether a shared write secret is set.
func (s ServerConfig) TokenConfigured() bool { return s.Token != "" }

// DatabaseConfig holds the persistence target.
type DatabaseConfig struct {
	URL string
}

// EventsConfig sizes the in-process event hub.
type EventsConfig struct {
	BufferSize      int
	SubscriberQueue int
}

// IngestConfig tunes the ingest path and queue worker.
type IngestConfig struct {
	QueueMode    bool
	PollInterval time.Duration
	BatchSize    int
}

// SnoozeConfig tunes the snooze revival worker.
type SnoozeConfig struct {
	PollInterval time.Duration
}

// ClassifierConfig tunes the session classifier.
type ClassifierConfig struct {
	Interval           time.Duration
	MaxAttempts        int
	WindowSize         int
	LookbackLogs       int
	TopicSimThreshold  float64
	TaskSimThreshold   float64
	LockPath           string
	LLMBaseURL         string
	LLMToken           string
	LLMModel           string
	LLMTimeout         time.Duration
	EmbedModel         string
	GateAuditPath      string
}

// SearchConfig tunes hybrid search.
type SearchConfig struct {
	GateWait    time.Duration
	RerankBlend float64
}

// VectorConfig selects the vector backends.
type VectorConfig struct {
	DBPath           string
	QdrantURL        string
	QdrantCollection string
	QdrantAPIKey     string
	QdrantDim        int
	QdrantTimeout    time.Duration
}

// ReindexConfig locates the append-only reindex queue and paces the
// reconcile pass.
type ReindexConfig struct {
	QueuePath           string
	MaintenanceInterval time.Duration
}

// OrchestrationConfig tunes the run tracker.
type OrchestrationConfig struct {
	TickInterval   time.Duration
	StallThreshold time.Duration
	ChatGatewayURL string
}

// AttachmentsConfig bounds attachment metadata.
type AttachmentsConfig struct {
	Dir      string
	MaxBytes int64
}

// SessionRoutingConfig bounds per-session routing memory.
type SessionRoutingConfig struct {
	MaxItems int
}

// FromEnv builds a Config from the process environment, applying documented
// defaults for everything unset.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        envStr("HTTP_PORT", "8340"),
			Token:       os.Getenv("TOKEN"),
			CORSOrigins: splitCSV(os.Getenv("CORS_ORIGINS")),
			TrustProxy:  envBool("TRUST_PROXY", false),
		},
		Database: DatabaseConfig{
			URL: envStr("DB_URL", "postgres://localhost:5432/clawboard?sslmode=disable"),
		},
		Events: EventsConfig{
			BufferSize:      envInt("EVENT_BUFFER", 500),
			SubscriberQueue: envInt("EVENT_SUBSCRIBER_QUEUE", 500),
		},
		Ingest: IngestConfig{
			QueueMode:    strings.EqualFold(os.Getenv("INGEST_MODE"), "queue"),
			PollInterval: envSeconds("QUEUE_POLL_SECONDS", 1500*time.Millisecond),
			BatchSize:    envInt("QUEUE_BATCH", 25),
		},
		Snooze: SnoozeConfig{
			PollInterval: envSeconds("SNOOZE_POLL_SECONDS", 15*time.Second),
		},
		Classifier: ClassifierConfig{
			Interval:          envSeconds("CLASSIFIER_INTERVAL_SECONDS", 10*time.Second),
			MaxAttempts:       envInt("CLASSIFIER_MAX_ATTEMPTS", 3),
			WindowSize:        envInt("CLASSIFIER_WINDOW_SIZE", 50),
			LookbackLogs:      envInt("CLASSIFIER_LOOKBACK_LOGS", 80),
			TopicSimThreshold: envFloat("TOPIC_SIM_THRESHOLD", 0.78),
			TaskSimThreshold:  envFloat("TASK_SIM_THRESHOLD", 0.74),
			LockPath:          envStr("LOCK_PATH", "clawboard-classifier.lock"),
			LLMBaseURL:        os.Getenv("LLM_BASE_URL"),
			LLMToken:          os.Getenv("LLM_TOKEN"),
			LLMModel:          envStr("LLM_MODEL", "gpt-4o-mini"),
			LLMTimeout:        envSeconds("LLM_TIMEOUT_SECONDS", 75*time.Second),
			EmbedModel:        envStr("EMBED_MODEL", "text-embedding-3-small"),
			GateAuditPath:     envStr("GATE_AUDIT_PATH", "clawboard-gate-audit.jsonl"),
		},
		Search: SearchConfig{
			GateWait:    150 * time.Millisecond,
			RerankBlend: envFloat("RERANK_BLEND", 0.5),
		},
		Vector: VectorConfig{
			DBPath:           envStr("VECTOR_DB_PATH", "clawboard-vectors.db"),
			QdrantURL:        os.Getenv("QDRANT_URL"),
			QdrantCollection: envStr("QDRANT_COLLECTION", "clawboard"),
			QdrantAPIKey:     os.Getenv("QDRANT_API_KEY"),
			QdrantDim:        envInt("QDRANT_DIM", 1536),
			QdrantTimeout:    envSeconds("QDRANT_TIMEOUT", 12*time.Second),
		},
		Reindex: ReindexConfig{
			QueuePath:           envStr("REINDEX_QUEUE_PATH", "clawboard-reindex.jsonl"),
			MaintenanceInterval: envSeconds("REINDEX_MAINTENANCE_SECONDS", time.Hour),
		},
		Orchestration: OrchestrationConfig{
			TickInterval:   envSeconds("ORCHESTRATION_TICK_SECONDS", 20*time.Second),
			StallThreshold: envSeconds("ORCHESTRATION_STALL_SECONDS", 10*time.Minute),
			ChatGatewayURL: os.Getenv("OPENCLAW_GATEWAY_URL"),
		},
		Attachments: AttachmentsConfig{
			Dir:      envStr("ATTACHMENTS_DIR", "attachments"),
			MaxBytes: envInt64("ATTACHMENT_MAX_BYTES", 25<<20),
		},
		SessionRouting: SessionRoutingConfig{
			MaxItems: envInt("SESSION_ROUTING_MAX_ITEMS", 8),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Events.BufferSize < 1 {
		return fmt.Errorf("EVENT_BUFFER must be at least 1, got %d", c.Events.BufferSize)
	}
	if c.Events.SubscriberQueue > c.Events.BufferSize {
		// Subscriber queues never retain more than the replay ring can serve.
		c.Events.SubscriberQueue = c.Events.BufferSize
	}
	if c.Classifier.MaxAttempts < 1 {
		return fmt.Errorf("CLASSIFIER_MAX_ATTEMPTS must be at least 1, got %d", c.Classifier.MaxAttempts)
	}
	if c.Search.RerankBlend < 0 || c.Search.RerankBlend > 1 {
		return fmt.Errorf("RERANK_BLEND must be in [0,1], got %v", c.Search.RerankBlend)
	}
	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// envSeconds reads a duration expressed in (possibly fractional) seconds.
func envSeconds(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return time.Duration(f * float64(time.Second))
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
