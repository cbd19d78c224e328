package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agent-matrix/matrix-hub-sub001/internal/models"
)

// Config holds all application configuration
type Config struct {
	Port        string
	DatabaseURL string // sqlite path, e.g. "matrixhub.db"
	RedisURL    string

	// Admin API gate
	AdminToken   string // static bearer token for admin routes
	JWTSecretKey string // HS256 secret; also used to mint gateway tokens

	// Catalog remotes
	RemotesFile     string   // JSON seed file with initial index URLs
	Remotes         []string // from MATRIX_REMOTES (comma-separated)
	IngestInterval  int      // minutes between scheduled ingest cycles; <=0 disables
	IngestCron      string   // optional cron expression overriding the interval
	IngestWorkers   int      // bounded concurrency per remote batch
	IngestRateLimit float64  // manifest fetches per second per remote

	// Policy
	AllowedLicenses     []string // empty = allow all
	RequireMCPArtifacts bool     // reject mcp_server manifests with no artifacts

	// Search
	SearchWeights  models.SearchWeights
	SearchCacheTTL time.Duration
	RAGTopChunks   int

	// Embedding
	EmbedderURL   string // Ollama-compatible /api/embed endpoint; empty disables vectors
	EmbedderModel string
	ChunkTokens   int
	ChunkOverlap  int

	// MCP gateway (registrar)
	GatewayURL     string
	GatewayToken   string // static fallback token
	GatewayTimeout time.Duration
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	weights := models.DefaultSearchWeights()
	weights.Semantic = getFloatEnv("SEARCH_W_SEMANTIC", weights.Semantic)
	weights.Lexical = getFloatEnv("SEARCH_W_LEXICAL", weights.Lexical)
	weights.Quality = getFloatEnv("SEARCH_W_QUALITY", weights.Quality)
	weights.Recency = getFloatEnv("SEARCH_W_RECENCY", weights.Recency)

	return &Config{
		Port:        getEnv("PORT", "7300"),
		DatabaseURL: getEnv("DATABASE_URL", "matrixhub.db"),
		RedisURL:    getEnv("REDIS_URL", ""),

		AdminToken:   getEnv("ADMIN_TOKEN", ""),
		JWTSecretKey: getEnv("JWT_SECRET_KEY", ""),

		RemotesFile:     getEnv("MATRIX_REMOTES_FILE", ""),
		Remotes:         getListEnv("MATRIX_REMOTES"),
		IngestInterval:  getIntEnv("INGEST_INTERVAL_MIN", 15),
		IngestCron:      getEnv("INGEST_CRON", ""),
		IngestWorkers:   getIntEnv("INGEST_WORKERS", 4),
		IngestRateLimit: getFloatEnv("INGEST_RATE_LIMIT", 5.0),

		AllowedLicenses:     getListEnv("ALLOWED_LICENSES"),
		RequireMCPArtifacts: getBoolEnv("REQUIRE_MCP_ARTIFACTS", false),

		SearchWeights:  weights,
		SearchCacheTTL: time.Duration(getIntEnv("SEARCH_CACHE_TTL_SECS", 30)) * time.Second,
		RAGTopChunks:   getIntEnv("SEARCH_RAG_TOP_CHUNKS", 3),

		EmbedderURL:   getEnv("EMBEDDER_URL", ""),
		EmbedderModel: getEnv("EMBEDDER_MODEL", "nomic-embed-text"),
		ChunkTokens:   getIntEnv("CHUNK_MAX_TOKENS", 400),
		ChunkOverlap:  getIntEnv("CHUNK_OVERLAP_TOKENS", 48),

		GatewayURL:     getEnv("MCP_GATEWAY_URL", ""),
		GatewayToken:   getEnv("MCP_GATEWAY_TOKEN", ""),
		GatewayTimeout: time.Duration(getIntEnv("MCP_GATEWAY_TIMEOUT_SECS", 15)) * time.Second,
	}
}

// RemotesSeed is the shape of the remotes seed file.
type RemotesSeed struct {
	Remotes []RemoteSeed `json:"remotes"`
}

// RemoteSeed is one entry of the remotes seed file.
type RemoteSeed struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// LoadRemotes loads the remotes seed file (JSON)
func LoadRemotes(filePath string) (*RemotesSeed, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read remotes file: %w", err)
	}

	var seed RemotesSeed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse remotes JSON: %w", err)
	}

	return &seed, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
