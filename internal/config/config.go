package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"departureboard/internal/domain"
	"departureboard/pkg/mvgapi"
	"departureboard/pkg/mvv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel        slog.Level
	HTTPAddr        string        `validate:"required"`
	ReadTimeout     time.Duration `validate:"gt=0"`
	WriteTimeout    time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`

	MVGAPIBaseURL     string   `validate:"required,url"`
	MVGTransportTypes []string `validate:"dive,oneof=UBAHN REGIONAL_BUS BUS TRAM SBAHN BAHN"`
	MVVAPIBaseURL     string   `validate:"omitempty,url"`
	MVVEnabled        bool

	Board           domain.StopConfig `validate:"-"`
	RefreshInterval time.Duration     `validate:"gt=0"`
	PageTimeout     time.Duration     `validate:"gt=0"`
	MaxPages        int               `validate:"gte=1"`
	FutureGuard     time.Duration     `validate:"gte=0"`
	LinesCacheTTL   time.Duration     `validate:"gt=0"`

	RedisEnabled  bool
	RedisAddr     string `validate:"required_if=RedisEnabled true"`
	RedisPassword string
	RedisDB       int `validate:"gte=0"`

	RedisConnectTimeout time.Duration `validate:"gt=0"`

	RateLimitPerWindow int           `validate:"gte=1"`
	RateLimitWindow    time.Duration `validate:"gt=0"`
	RateLimitWhitelist []string
}

// Load reads the configuration from the environment. When BOARD_FILE is
// set the board is read from that YAML file first and the STOP_ID,
// MIN_COUNT, INCLUDE_FILTERS and EXCLUDE_FILTERS variables override it.
func Load() (*Config, error) {
	board, err := loadBoard(os.Getenv("BOARD_FILE"))
	if err != nil {
		return nil, err
	}
	board.StopID = getEnv("STOP_ID", board.StopID)
	board.MinCount = getIntEnv("MIN_COUNT", board.MinCount)
	if v := os.Getenv("INCLUDE_FILTERS"); v != "" {
		board.Include = domain.ParseLineDests(v)
	}
	if v := os.Getenv("EXCLUDE_FILTERS"); v != "" {
		board.Exclude = domain.ParseLineDests(v)
	}

	transportTypes := getCSVEnv("MVG_TRANSPORT_TYPES")
	if transportTypes == nil {
		transportTypes = mvgapi.DefaultTransportTypes
	}

	cfg := &Config{
		LogLevel:        getLogLevelEnv("LOG_LEVEL", slog.LevelInfo),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		ReadTimeout:     getDurationEnv("READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getDurationEnv("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),

		MVGAPIBaseURL:     getEnv("MVG_API_URL", mvgapi.DefaultBaseURL),
		MVGTransportTypes: transportTypes,
		MVVAPIBaseURL:     getEnv("MVV_API_URL", mvv.DefaultBaseURL),
		MVVEnabled:        getBoolEnv("MVV_ENABLED", true),

		Board:           board,
		RefreshInterval: getDurationEnv("REFRESH_INTERVAL", time.Minute),
		PageTimeout:     getDurationEnv("PAGE_TIMEOUT", 15*time.Second),
		MaxPages:        getIntEnv("MAX_PAGES", 20),
		FutureGuard:     getDurationEnv("FUTURE_GUARD", 10*time.Second),
		LinesCacheTTL:   getDurationEnv("LINES_CACHE_TTL", 2*time.Minute),

		RedisEnabled:  getBoolEnv("REDIS_ENABLED", false),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		RedisConnectTimeout: getDurationEnv("REDIS_CONNECT_TIMEOUT", 10*time.Second),

		RateLimitPerWindow: getIntEnv("RATE_LIMIT_PER_WINDOW", 120),
		RateLimitWindow:    getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitWhitelist: getCSVEnv("RATE_LIMIT_WHITELIST"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the config and, when a stop is configured, the board
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Board.StopID != "" {
		if err := ValidateBoard(c.Board); err != nil {
			return err
		}
	}
	return nil
}

// ValidateBoard checks a stop configuration supplied at runtime or from a
// board file.
func ValidateBoard(b domain.StopConfig) error {
	if err := validate.Struct(b); err != nil {
		return fmt.Errorf("invalid board: %w", err)
	}
	return nil
}

func loadBoard(path string) (domain.StopConfig, error) {
	board := domain.StopConfig{MinCount: 5}
	if path == "" {
		return board, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return board, fmt.Errorf("opening board file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&board); err != nil {
		return board, fmt.Errorf("decoding board file %s: %w", path, err)
	}
	return board, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getLogLevelEnv(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return defaultVal
	}
}

func getCSVEnv(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			result = append(result, t)
		}
	}
	return result
}
