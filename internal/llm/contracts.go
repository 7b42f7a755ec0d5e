// Package llm holds the completion collaborator contracts and the shared HTTP
// plumbing used by the provider clients.
package llm

import "context"

// VisionCompleter reads a page image and returns the model's text.
type VisionCompleter interface {
	Extract(ctx context.Context, imagePath, prompt string) (string, error)
}

// TextCompleter returns the model's completion for a text prompt.
type TextCompleter interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// HealthChecker reports whether the provider is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Client is a provider that serves every collaborator role.
type Client interface {
	VisionCompleter
	TextCompleter
	HealthChecker
}
