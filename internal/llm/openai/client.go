package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docparser/internal/common"
	"github.com/joseph-ayodele/docparser/internal/llm"
)

var _ llm.Client = (*Client)(nil)

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Extract sends the page image as a data URL alongside the prompt.
func (c *Client) Extract(ctx context.Context, imagePath, prompt string) (string, error) {
	dataURL, err := readAsDataURL(imagePath)
	if err != nil {
		return "", fmt.Errorf("read page image: %w", err)
	}
	content := []map[string]any{
		{"type": "text", "text": prompt},
		{"type": "image_url", "image_url": map[string]any{"url": dataURL}},
	}
	return c.chat(ctx, c.cfg.VisionModel, content)
}

// Complete sends a text-only prompt.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.chat(ctx, c.cfg.StructuringModel, prompt)
}

// Health lists models, which needs a valid key and a reachable endpoint.
func (c *Client) Health(ctx context.Context) error {
	_, _, err := llm.GetJSON(ctx, c.httpClient, c.cfg.BaseURL+"/models", c.headers(), c.log)
	return err
}

func (c *Client) chat(ctx context.Context, model string, content any) (string, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("llm.chat.start",
		"req_id", rid,
		"model", model,
		"temp", c.cfg.Temperature,
	)

	body := map[string]any{
		"model":       model,
		"temperature": c.cfg.Temperature,
		"messages": []map[string]any{
			{"role": "user", "content": content},
		},
	}
	raw, _, err := llm.SendJSON(ctx, c.httpClient, c.cfg.BaseURL+"/chat/completions", body, c.headers(), c.log)
	if err != nil {
		c.log.Error("llm.chat.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", err
	}

	var cc chatResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Error("llm.chat.decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
		)
		return "", common.TransientError("decode chat response", err)
	}
	if len(cc.Choices) == 0 {
		return "", common.TransientError("no choices in chat response", fmt.Errorf("empty choices"))
	}

	out := strings.TrimSpace(cc.Choices[0].Message.Content)
	c.log.Info("llm.chat.ok",
		"req_id", rid,
		"response_len", len(out),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func (c *Client) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
}

func readAsDataURL(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	mt := mime.TypeByExtension("." + ext)
	if mt == "" {
		switch ext {
		case "jpg", "jpeg":
			mt = "image/jpeg"
		case "png":
			mt = "image/png"
		default:
			mt = "application/octet-stream"
		}
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(b), nil
}
