package common

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	LLM      LLMConfig
	Extract  ExtractConfig
	PDF      PDFConfig
	Storage  StorageConfig
	Queue    QueueConfig
	Events   EventsConfig
	Log      LogConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // sqlite or postgres
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr        string
	GRPCAddr        string
	FrontendOrigins []string
}

// LLMConfig holds the completion provider endpoint and model selection.
type LLMConfig struct {
	Provider         string // ollama or openai
	BaseURL          string
	OpenAIBaseURL    string
	APIKey           string
	VisionModel      string
	StructuringModel string
	Temperature      float32
	Timeout          time.Duration
}

// ExtractConfig holds the vision retry budget.
type ExtractConfig struct {
	MaxAttempts int
	MinLength   int
}

// PDFConfig holds rasterizer settings.
type PDFConfig struct {
	Pdftoppm string
	DPI      int
	MaxPages int
}

// StorageConfig holds artifact and upload settings.
type StorageConfig struct {
	DataDir         string
	MaxUploadMB     int
	InboxDir        string
	InboxTranslate  bool
	RenameTablePath string
}

// QueueConfig holds worker pool settings.
type QueueConfig struct {
	Workers    int
	Size       int
	JobTimeout time.Duration
}

// EventsConfig holds progress stream settings.
type EventsConfig struct {
	KeepaliveInterval time.Duration
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

// MaxUploadBytes returns the upload limit in bytes.
func (s StorageConfig) MaxUploadBytes() int64 {
	return int64(s.MaxUploadMB) * 1024 * 1024
}

// LoadConfig loads configuration from environment variables.
// A .env file in the working directory is read first when present; real
// environment variables win over it.
func LoadConfig() *Config {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")
	return &Config{
		Database: DatabaseConfig{
			Driver:           strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
			DSN:              getEnv("DB_URL", "file:"+filepath.Join(dataDir, "app.db")+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			HTTPAddr:        getEnv("HTTP_ADDR", ":8000"),
			GRPCAddr:        getEnv("GRPC_ADDR", ":8081"),
			FrontendOrigins: getEnvAsList("FRONTEND_ORIGINS"),
		},
		LLM: LLMConfig{
			Provider:         strings.ToLower(getEnv("LLM_PROVIDER", "ollama")),
			BaseURL:          getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			APIKey:           getEnv("OPENAI_API_KEY", ""),
			VisionModel:      getEnv("VISION_MODEL", "qwen3-vl:235b-cloud"),
			StructuringModel: getEnv("STRUCTURING_MODEL", "qwen3-vl:235b-cloud"),
			Temperature:      getEnvAsFloat32("LLM_TEMPERATURE", 0.0),
			Timeout:          getEnvAsDuration("LLM_TIMEOUT", 600*time.Second),
		},
		Extract: ExtractConfig{
			MaxAttempts: getEnvAsInt("EXTRACT_MAX_ATTEMPTS", 3),
			MinLength:   getEnvAsInt("EXTRACT_MIN_LENGTH", 10),
		},
		PDF: PDFConfig{
			Pdftoppm: getEnv("PDFTOPPM_BIN", "pdftoppm"),
			DPI:      getEnvAsInt("PDF_DPI", 300),
			MaxPages: getEnvAsInt("PDF_MAX_PAGES", 0),
		},
		Storage: StorageConfig{
			DataDir:         dataDir,
			MaxUploadMB:     getEnvAsInt("MAX_UPLOAD_MB", 100),
			InboxDir:        getEnv("INBOX_DIR", ""),
			InboxTranslate:  getEnvAsBool("INBOX_TRANSLATE", true),
			RenameTablePath: getEnv("RENAME_TABLE_PATH", ""),
		},
		Queue: QueueConfig{
			Workers:    getEnvAsInt("QUEUE_WORKERS", 4),
			Size:       getEnvAsInt("QUEUE_SIZE", 256),
			JobTimeout: getEnvAsDuration("JOB_TIMEOUT", 2*time.Hour),
		},
		Events: EventsConfig{
			KeepaliveInterval: getEnvAsDuration("KEEPALIVE_INTERVAL", 30*time.Second),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be sqlite or postgres", ErrInvalidInput)
	}
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	switch c.LLM.Provider {
	case "ollama":
		if c.LLM.BaseURL == "" {
			return NewAppError("CONFIG_ERROR", "OLLAMA_BASE_URL is required", ErrInvalidInput)
		}
	case "openai":
		if c.LLM.APIKey == "" {
			return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required when LLM_PROVIDER=openai", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", "LLM_PROVIDER must be ollama or openai", ErrInvalidInput)
	}
	if c.LLM.VisionModel == "" || c.LLM.StructuringModel == "" {
		return NewAppError("CONFIG_ERROR", "VISION_MODEL and STRUCTURING_MODEL are required", ErrInvalidInput)
	}
	if c.Extract.MaxAttempts < 1 {
		return NewAppError("CONFIG_ERROR", "EXTRACT_MAX_ATTEMPTS must be at least 1", ErrInvalidInput)
	}
	if c.Storage.DataDir == "" {
		return NewAppError("CONFIG_ERROR", "DATA_DIR is required", ErrInvalidInput)
	}
	if c.Storage.MaxUploadMB <= 0 {
		return NewAppError("CONFIG_ERROR", "MAX_UPLOAD_MB must be positive", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	return nil
}
