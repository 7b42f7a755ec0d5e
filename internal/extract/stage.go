package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joseph-ayodele/docparser/internal/common"
	"github.com/joseph-ayodele/docparser/internal/llm"
)

var _ TextExtractor = (*Stage)(nil)

// Stage retries the vision model until the text is long enough or the budget runs out.
type Stage struct {
	Vision llm.VisionCompleter
	Cfg    Config
	Logger *slog.Logger
}

func NewStage(vision llm.VisionCompleter, cfg Config, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = 10
	}
	return &Stage{Vision: vision, Cfg: cfg, Logger: logger}
}

// ExtractPage returns the first attempt of at least MinLength characters.
// Once the budget is spent it returns the longest non-empty attempt, and fails
// only when every attempt came back empty or errored.
func (s *Stage) ExtractPage(ctx context.Context, imagePath string) (Result, error) {
	start := time.Now()
	log := common.LoggerFrom(ctx, s.Logger).With("image", imagePath)

	var best string
	var errs []error
	attempts := 0
	for attempts < s.Cfg.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return Result{Text: best, Attempts: attempts, ElapsedMs: time.Since(start).Milliseconds()}, err
		}
		attempts++

		out, err := s.Vision.Extract(ctx, imagePath, Prompt)
		if err != nil {
			log.Warn("extract.attempt.error", "attempt", attempts, "error", err)
			errs = append(errs, err)
			continue
		}

		text := strings.TrimSpace(out)
		n := utf8.RuneCountInString(text)
		if n > utf8.RuneCountInString(best) {
			best = text
		}
		if n >= s.Cfg.MinLength {
			log.Info("extract.page.ok",
				"attempts", attempts,
				"text_length", n,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return Result{Text: text, Attempts: attempts, ElapsedMs: time.Since(start).Milliseconds()}, nil
		}
		log.Warn("extract.attempt.short", "attempt", attempts, "text_length", n, "min_length", s.Cfg.MinLength)
	}

	elapsed := time.Since(start).Milliseconds()
	if best != "" {
		log.Warn("extract.page.best_effort", "attempts", attempts, "text_length", utf8.RuneCountInString(best), "elapsed_ms", elapsed)
		return Result{Text: best, Attempts: attempts, ElapsedMs: elapsed}, nil
	}

	log.Error("extract.page.failed", "attempts", attempts, "elapsed_ms", elapsed)
	cause := errors.Join(errs...)
	if cause == nil {
		cause = errors.New("model returned no text")
	}
	return Result{Attempts: attempts, ElapsedMs: elapsed}, fmt.Errorf("text extraction failed after %d attempts: %w",
		attempts, errors.Join(common.ErrUnrecoverableStage, cause))
}
