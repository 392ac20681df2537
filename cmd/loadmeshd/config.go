package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultAddr          = "127.0.0.1:8090"
	defaultRedisAddr     = "127.0.0.1:6379"
	defaultGeneration    = "dev"
	defaultTargetURL     = ""
	defaultConcurrency   = 64
	defaultClockDriftURL = ""
)

// Config is loadmeshd's runtime configuration, loaded from environment
// variables with flag overrides, grounded in the teacher's
// cmd/ratelord-d/config.go env-then-flag overlay pattern.
type Config struct {
	DBPath        string
	Addr          string
	RedisAddr     string
	Generation    string
	TargetURL     string
	Concurrency   int
	ClockDriftURL string
}

// LoadConfig resolves loadmeshd's configuration from the environment, then
// args (typically os.Args[1:]), matching the teacher's overlay precedence:
// flags win over environment, environment wins over built-in defaults.
func LoadConfig(args []string) (Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get cwd: %w", err)
	}

	defaultDBPath := filepath.Join(cwd, "loadmesh.db")

	dbPath := envOrDefault("LOADMESH_DB_PATH", defaultDBPath)
	addr := addrFromEnv(defaultAddr)
	redisAddr := envOrDefault("LOADMESH_REDIS_ADDR", defaultRedisAddr)
	generation := envOrDefault("LOADMESH_GENERATION", defaultGeneration)
	targetURL := envOrDefault("LOADMESH_TARGET_URL", defaultTargetURL)
	clockDriftURL := envOrDefault("LOADMESH_CLOCK_DRIFT_URL", defaultClockDriftURL)
	concurrency := defaultConcurrency
	if v := os.Getenv("LOADMESH_CONCURRENCY"); v != "" {
		parsed, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOADMESH_CONCURRENCY: %w", err)
		}
		concurrency = parsed
	}

	flagSet := flag.NewFlagSet("loadmeshd", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagDB := flagSet.String("db", dbPath, "path to SQLite audit database")
	flagAddr := flagSet.String("addr", addr, "HTTP listen address")
	flagRedis := flagSet.String("redis-addr", redisAddr, "Redis address for mesh coordination")
	flagGeneration := flagSet.String("generation", generation, "deployment generation identifier")
	flagTarget := flagSet.String("target", targetURL, "HTTP target URL virtual users request")
	flagConcurrency := flagSet.Int("concurrency", concurrency, "max concurrent virtual users per leaf script")
	flagClockDrift := flagSet.String("clock-drift-url", clockDriftURL, "external URL to probe for clock drift at startup (disabled if empty)")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
			return Config{}, err
		}
		return Config{}, err
	}

	config := Config{
		DBPath:        resolvePath(*flagDB, cwd),
		Addr:          strings.TrimSpace(*flagAddr),
		RedisAddr:     strings.TrimSpace(*flagRedis),
		Generation:    strings.TrimSpace(*flagGeneration),
		TargetURL:     strings.TrimSpace(*flagTarget),
		Concurrency:   *flagConcurrency,
		ClockDriftURL: strings.TrimSpace(*flagClockDrift),
	}

	if config.Addr == "" {
		return Config{}, errors.New("addr cannot be empty")
	}
	if config.Generation == "" {
		return Config{}, errors.New("generation cannot be empty")
	}
	if config.Concurrency <= 0 {
		return Config{}, errors.New("concurrency must be positive")
	}

	return config, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func addrFromEnv(fallback string) string {
	if value := os.Getenv("LOADMESH_ADDR"); value != "" {
		return value
	}
	if port := os.Getenv("LOADMESH_PORT"); port != "" {
		return fmt.Sprintf("127.0.0.1:%s", port)
	}
	return fallback
}

func resolvePath(path string, cwd string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(cwd, trimmed)
}

func parsePositiveInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("value %q is not positive", s)
	}
	return n, nil
}
