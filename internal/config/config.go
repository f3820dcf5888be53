package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the static, environment-sourced configuration for a single
// replica process: node identity, transport, storage, and the optional
// ambient Postgres handle used for logging and dynamic strategy tuning.
type Config struct {
	// Replica identity
	NodeID        int
	Port          int
	Offline       bool
	ConsensusName string

	// Ledger storage (one SQLite file per replica)
	DBPath string

	// Ambient Postgres (logging + config.Manager); optional
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (optional price cache)
	RedisAddr string

	// CoinGecko extraction
	CoinGeckoBaseURL string
	MaxExtractRetries int

	// Logging
	LogLevel string
}

// Load reads .env (if present) then builds Config from the environment,
// falling back to sensible defaults for local/offline runs.
func Load() (*Config, error) {
	_ = godotenv.Load()

	nodeID := getEnvInt("NODE_ID", 0)
	port := getEnvInt("PORT", 8000+nodeID)

	return &Config{
		NodeID:        nodeID,
		Port:          port,
		Offline:       getEnvBool("OFFLINE", false),
		ConsensusName: getEnv("CONSENSUS", "pbft"),

		DBPath: getEnv("LEDGER_DB_PATH", "blockchain_node_"+strconv.Itoa(nodeID)+".db"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "marketledger"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisAddr: getEnv("REDIS_ADDR", ""),

		CoinGeckoBaseURL:  getEnv("COINGECKO_BASE_URL", "https://api.coingecko.com/api/v3/simple/price"),
		MaxExtractRetries: getEnvInt("MAX_EXTRACT_RETRIES", 3),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}, nil
}

// DBDSN builds the Postgres DSN for the ambient logging/config database.
func (c *Config) DBDSN() string {
	return "host=" + c.DBHost + " port=" + c.DBPort + " user=" + c.DBUser + " dbname=" + c.DBName + " password=" + c.DBPassword + " sslmode=" + c.DBSSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
