package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

const defaultMaxImageBytes = 5 << 20

type Config struct {
	Addr           string
	AllowedOrigin  string
	StorageBackend string
	DataDir        string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string
	DatabaseURL    string
	SeedDemo       bool
	MaxImageBytes  int64
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	maxImage, err := strconv.ParseInt(getEnv("MAX_IMAGE_BYTES", strconv.Itoa(defaultMaxImageBytes)), 10, 64)
	if err != nil || maxImage < 1 {
		maxImage = defaultMaxImageBytes
	}
	seed, err := strconv.ParseBool(getEnv("SEED_DEMO_CATALOG", "true"))
	if err != nil {
		seed = true
	}

	return Config{
		Addr:           getEnv("HTTP_ADDR", "127.0.0.1:8080"),
		AllowedOrigin:  getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		StorageBackend: strings.ToLower(strings.TrimSpace(getEnv("STORAGE_BACKEND", BackendFile))),
		DataDir:        getEnv("DATA_DIR", "./data"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        redisDB,
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "wingscafe:"),
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SeedDemo:       seed,
		MaxImageBytes:  maxImage,
	}
}

// Validate checks that the selected backend has what it needs to connect.
func (c Config) Validate() error {
	switch c.StorageBackend {
	case BackendFile:
		if strings.TrimSpace(c.DataDir) == "" {
			return fmt.Errorf("DATA_DIR is required for the file backend")
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	return nil
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
