package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment
// variables. It is immutable after Load() returns.
type Config struct {
	Port             int
	Environment      string
	DatabaseURL      string
	DatabaseMaxConns int
	RedisURL         string

	GCPProject          string
	GCPRegion           string
	VertexAILocation    string
	VertexAIModel       string
	EmbeddingLocation   string
	EmbeddingModel      string
	EmbeddingDimensions int
	GCSBucketName       string
	GCSSignedURLExpiry  string

	JWTSecret        string
	JWTExpiry        time.Duration
	CORSAllowOrigins []string

	OpenAIDefaultBaseURL      string
	SiliconFlowDefaultBaseURL string
	ZhipuDefaultBaseURL       string
	ModelScopeDefaultBaseURL  string

	WebSearchBaseURL string
	WebSearchAPIKey  string

	MCPServerCommand string
	MCPServerArgs    []string

	NodeID            string
	NodeRole          string
	NodeHost          string
	NodePort          int
	NodeRegion        string
	NodeCapabilities  []string
	NodeMaxConcurrent int

	SchedulerTickInterval  time.Duration
	TaskTimeoutDefaultSecs int
	HeartbeatInterval      time.Duration
	HeartbeatGrace         time.Duration

	ConfidenceThreshold float64
	SelfRAGMaxIter      int
	ChunkSizeTokens     int
	ChunkOverlapPercent int
	PromptsDir          string

	InternalAuthSecret      string
	CredentialEncryptionKey string
}

// Load reads configuration from environment variables.
// Required variables (DATABASE_URL, GOOGLE_CLOUD_PROJECT, REDIS_URL,
// JWT_SECRET) cause an error if missing. Optional variables use sensible
// defaults.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config.Load: DATABASE_URL is required")
	}

	gcpProject := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if gcpProject == "" {
		return nil, fmt.Errorf("config.Load: GOOGLE_CLOUD_PROJECT is required")
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, fmt.Errorf("config.Load: REDIS_URL is required")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("config.Load: JWT_SECRET is required")
	}

	cfg := &Config{
		Port:             envInt("PORT", 8080),
		Environment:      envStr("ENVIRONMENT", "development"),
		DatabaseURL:      dbURL,
		DatabaseMaxConns: envInt("DATABASE_MAX_CONNS", 25),
		RedisURL:         redisURL,

		GCPProject:          gcpProject,
		GCPRegion:           envStr("GCP_REGION", "us-east4"),
		VertexAILocation:    envStr("VERTEX_AI_LOCATION", "global"),
		VertexAIModel:       envStr("VERTEX_AI_MODEL", "gemini-3-pro-preview"),
		EmbeddingLocation:   envStr("VERTEX_AI_EMBEDDING_LOCATION", envStr("GCP_REGION", "us-east4")),
		EmbeddingModel:      envStr("VERTEX_AI_EMBEDDING_MODEL", "text-embedding-004"),
		EmbeddingDimensions: envInt("EMBEDDING_DIMENSIONS", 768),
		GCSBucketName:       envStr("GCS_BUCKET_NAME", ""),
		GCSSignedURLExpiry:  envStr("GCS_SIGNED_URL_EXPIRY", "15m"),

		JWTSecret:        jwtSecret,
		JWTExpiry:        envDuration("JWT_EXPIRY", 24*time.Hour),
		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{"http://localhost:3000"}),

		OpenAIDefaultBaseURL:      envStr("OPENAI_DEFAULT_BASE_URL", "https://api.openai.com/v1"),
		SiliconFlowDefaultBaseURL: envStr("SILICONFLOW_DEFAULT_BASE_URL", "https://api.siliconflow.cn/v1"),
		ZhipuDefaultBaseURL:       envStr("ZHIPU_DEFAULT_BASE_URL", "https://open.bigmodel.cn/api/paas/v4"),
		ModelScopeDefaultBaseURL:  envStr("MODELSCOPE_DEFAULT_BASE_URL", "https://api-inference.modelscope.cn/v1"),

		WebSearchBaseURL: envStr("WEB_SEARCH_BASE_URL", ""),
		WebSearchAPIKey:  envStr("WEB_SEARCH_API_KEY", ""),

		MCPServerCommand: envStr("MCP_SERVER_COMMAND", ""),
		MCPServerArgs:    envList("MCP_SERVER_ARGS", nil),

		NodeID:            envStr("NODE_ID", ""),
		NodeRole:          envStr("NODE_ROLE", "hybrid"),
		NodeHost:          envStr("NODE_HOST", "localhost"),
		NodePort:          envInt("NODE_PORT", 8081),
		NodeRegion:        envStr("NODE_REGION", envStr("GCP_REGION", "us-east4")),
		NodeCapabilities:  envList("NODE_CAPABILITIES", []string{"ingest_document"}),
		NodeMaxConcurrent: envInt("NODE_MAX_CONCURRENT", 4),

		SchedulerTickInterval:  envDuration("SCHEDULER_TICK_INTERVAL", 5*time.Second),
		TaskTimeoutDefaultSecs: envInt("TASK_TIMEOUT_DEFAULT_SECONDS", 300),
		HeartbeatInterval:      envDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		HeartbeatGrace:         envDuration("HEARTBEAT_GRACE", 2*time.Minute),

		ConfidenceThreshold: envFloat("RERANK_CONFIDENCE_THRESHOLD", 0.60),
		SelfRAGMaxIter:      envInt("AGENT_MAX_ITERATIONS", 4),
		ChunkSizeTokens:     envInt("CHUNK_SIZE_TOKENS", 768),
		ChunkOverlapPercent: envInt("CHUNK_OVERLAP_PERCENT", 20),
		PromptsDir:          envStr("PROMPTS_DIR", "./internal/service/prompts"),

		InternalAuthSecret:      envStr("INTERNAL_AUTH_SECRET", ""),
		CredentialEncryptionKey: envStr("CREDENTIAL_ENCRYPTION_KEY", ""),
	}

	if cfg.Environment != "development" && cfg.InternalAuthSecret == "" {
		return nil, fmt.Errorf("config.Load: INTERNAL_AUTH_SECRET is required in %s environment", cfg.Environment)
	}
	if cfg.Environment != "development" && cfg.CredentialEncryptionKey == "" {
		return nil, fmt.Errorf("config.Load: CREDENTIAL_ENCRYPTION_KEY is required in %s environment", cfg.Environment)
	}

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// envList reads a comma-separated env var into a slice, trimming whitespace
// around each element and dropping empty ones. Returns fallback when the
// variable is unset.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
