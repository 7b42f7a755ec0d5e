// Package extract reads the text off a page image with a vision model.
package extract

import "context"

// Prompt is the instruction sent with every page image.
const Prompt = "Extract ALL text from this document image exactly as it appears."

// TextExtractor turns one page image into text.
type TextExtractor interface {
	ExtractPage(ctx context.Context, imagePath string) (Result, error)
}

type Result struct {
	Text      string
	ElapsedMs int64
	Attempts  int
}

// Config is the retry budget.
type Config struct {
	MaxAttempts int // default 3
	MinLength   int // default 10, measured on trimmed text
}
