package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Pending sheet backends.
const (
	PendingBackendFile  = "file"
	PendingBackendRedis = "redis"
)

// Config holds all client configuration.
type Config struct {
	ServerURL   string        `validate:"required,url"`
	LogLevel    string        `validate:"required,oneof=trace debug info warn error fatal panic"`
	LogFormat   string        `validate:"required,oneof=pretty json"`
	LogFile     string        `validate:"omitempty"`
	ExamDir     string        `validate:"required"`
	BackupDir   string        `validate:"required"`
	ReviewDir   string        `validate:"required"`
	PaperKey    byte          `validate:"required"`
	AckTimeout  time.Duration `validate:"gt=0"`
	DialTimeout time.Duration `validate:"gt=0"`
	// WriteTimeout bounds a single message write to the server.
	WriteTimeout time.Duration `validate:"gt=0"`
	TimerTick    time.Duration `validate:"gt=0"`
	// PendingBackend selects where undelivered answer sheets are kept.
	PendingBackend string `validate:"required,oneof=file redis"`
	RedisURL       string `validate:"required_if=PendingBackend redis"`
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // .env is optional

	return &Config{
		ServerURL:      getEnv("SERVER_URL", "ws://localhost:8080/ws/v1/client"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "pretty"),
		LogFile:        expandHome(getEnv("LOG_FILE", "")),
		ExamDir:        expandHome(getEnv("EXAM_DIR", "~/.config/.exam")),
		BackupDir:      expandHome(getEnv("BACKUP_DIR", "~/.config/.ans_sheet")),
		ReviewDir:      expandHome(getEnv("REVIEW_DIR", ".")),
		PaperKey:       getEnvByte("PAPER_KEY", 'X'),
		AckTimeout:     time.Duration(getEnvInt("ACK_TIMEOUT_SECONDS", 10)) * time.Second,
		DialTimeout:    time.Duration(getEnvInt("DIAL_TIMEOUT_SECONDS", 5)) * time.Second,
		WriteTimeout:   time.Duration(getEnvInt("WRITE_TIMEOUT_SECONDS", 10)) * time.Second,
		TimerTick:      time.Duration(getEnvInt("TIMER_TICK_MS", 1000)) * time.Millisecond,
		PendingBackend: strings.ToLower(getEnv("PENDING_BACKEND", PendingBackendFile)),
		RedisURL:       getEnv("REDIS_URL", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
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

// getEnvByte reads a single-character value. Anything else falls back.
func getEnvByte(key string, fallback byte) byte {
	v := os.Getenv(key)
	if len(v) != 1 {
		return fallback
	}
	return v[0]
}

// expandHome resolves a leading "~/" against the user's home directory.
// The path is returned untouched if the home directory is unknown.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
