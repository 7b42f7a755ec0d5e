package openai

import (
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// Config for an OpenAI-compatible chat/completions endpoint.
type Config struct {
	APIKey           string // if empty, falls back to env OPENAI_API_KEY
	BaseURL          string // default https://api.openai.com/v1
	VisionModel      string // e.g., "gpt-4o-mini"
	StructuringModel string
	Temperature      float32 // 0..2
	Timeout          time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.VisionModel == "" {
		cfg.VisionModel = "gpt-4o-mini"
	}
	if cfg.StructuringModel == "" {
		cfg.StructuringModel = cfg.VisionModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logger,
	}
}
