package ollama

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Config for the Ollama client.
type Config struct {
	BaseURL          string // default http://localhost:11434
	VisionModel      string
	StructuringModel string
	Temperature      float32
	Timeout          time.Duration // per request
}

// Client talks to a local or remote Ollama server over /api/generate.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.StructuringModel == "" {
		cfg.StructuringModel = cfg.VisionModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 600 * time.Second
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
