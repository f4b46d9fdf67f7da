package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	RedisURL    string

	// Notifications
	KafkaBrokers []string
	KafkaTopic   string

	// Gating capabilities
	RoleServiceURL string
	RPCEndpoints   map[int64]string // chainId -> RPC URL

	// Content replication
	BlobReplicaURL string

	// Protocol caps
	MaxConnectionsPerDID int
	MaxMembersPublic     int
	MaxMembersPrivate    int

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		Env:                  getEnv("ENV", "development"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisURL:             os.Getenv("REDIS_URL"),
		KafkaTopic:           getEnv("KAFKA_TOPIC", "wmesh.notifications"),
		RoleServiceURL:       os.Getenv("ROLE_SERVICE_URL"),
		BlobReplicaURL:       os.Getenv("BLOB_REPLICA_URL"),
		RPCEndpoints:         parseRPCEndpoints(os.Getenv("RPC_ENDPOINTS")),
		MaxConnectionsPerDID: getEnvInt("MAX_CONNECTIONS_PER_DID", 10),
		MaxMembersPublic:     getEnvInt("MAX_MEMBERS_PUBLIC", 25000),
		MaxMembersPrivate:    getEnvInt("MAX_MEMBERS_PRIVATE", 5000),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	// In production, require database and redis URLs
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
		if cfg.RedisURL == "" {
			panic("REDIS_URL is required in production")
		}
	}

	return cfg
}

// parseRPCEndpoints parses the comma-separated chainId=url list.
func parseRPCEndpoints(raw string) map[int64]string {
	endpoints := make(map[int64]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		chainID, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil || chainID <= 0 {
			continue
		}
		endpoints[chainID] = strings.TrimSpace(parts[1])
	}
	return endpoints
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}
