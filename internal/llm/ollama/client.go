package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joseph-ayodele/docparser/internal/common"
	"github.com/joseph-ayodele/docparser/internal/llm"
)

var _ llm.Client = (*Client)(nil)

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Images  []string       `json:"images,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Extract sends the page image at imagePath to the vision model.
func (c *Client) Extract(ctx context.Context, imagePath, prompt string) (string, error) {
	img, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("read page image: %w", err)
	}
	return c.generate(ctx, c.cfg.VisionModel, prompt, []string{base64.StdEncoding.EncodeToString(img)})
}

// Complete sends a text prompt to the structuring model.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, c.cfg.StructuringModel, prompt, nil)
}

func (c *Client) generate(ctx context.Context, model, prompt string, images []string) (string, error) {
	start := time.Now()
	c.log.Info("llm.generate.start",
		"model", model,
		"prompt_len", len(prompt),
		"images", len(images),
	)

	body := generateRequest{
		Model:   model,
		Prompt:  prompt,
		Images:  images,
		Stream:  false,
		Options: map[string]any{"temperature": c.cfg.Temperature},
	}
	raw, _, err := llm.SendJSON(ctx, c.httpClient, c.cfg.BaseURL+"/api/generate", body, nil, c.log)
	if err != nil {
		c.log.Error("llm.generate.http_error", "model", model, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return "", err
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", common.TransientError("decode ollama response", err)
	}
	if out.Error != "" {
		return "", common.TransientError("ollama error", fmt.Errorf("%s", out.Error))
	}

	c.log.Info("llm.generate.ok",
		"model", model,
		"response_len", len(out.Response),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out.Response, nil
}

// ListModels returns the names of the models the server has pulled.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	raw, _, err := llm.GetJSON(ctx, c.httpClient, c.cfg.BaseURL+"/api/tags", nil, c.log)
	if err != nil {
		return nil, err
	}
	var tags tagsResponse
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Health checks that the server answers /api/tags.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.ListModels(ctx)
	return err
}

// HasModel reports whether model (with or without a ":tag" suffix) is available.
func (c *Client) HasModel(ctx context.Context, model string) (bool, error) {
	names, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(names, func(n string) bool {
		return n == model || strings.TrimSuffix(n, ":latest") == model
	}), nil
}
