// Package structure turns one page of extracted text into a validated
// invoice, running a single repair round trip when the first answer is unusable.
package structure

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/docparser/internal/common"
	"github.com/joseph-ayodele/docparser/internal/invoice"
	"github.com/joseph-ayodele/docparser/internal/llm"
	"github.com/joseph-ayodele/docparser/internal/repair"
)

// maxAttempts is the first answer plus one repair.
const maxAttempts = 2

// Result is the outcome of structuring one page.
type Result struct {
	OK        bool
	Value     *invoice.Invoice
	Err       error
	Raw       string // cleaned text of the attempt that decided the result
	Attempts  int
	ElapsedMs int64
}

// FailedError is returned when both attempts failed.
type FailedError struct {
	Cause error
}

func (e *FailedError) Error() string {
	return "failed after repair: " + e.Cause.Error()
}

func (e *FailedError) Unwrap() []error {
	return []error{common.ErrUnrecoverableStage, e.Cause}
}

type outputError struct {
	msg string
}

func (e *outputError) Error() string { return e.msg }

func (e *outputError) Unwrap() error { return common.ErrMalformedOutput }

// Stage structures page text through a text completion collaborator.
type Stage struct {
	llm   llm.TextCompleter
	canon *repair.Canonicalizer
	log   *slog.Logger
}

func NewStage(completer llm.TextCompleter, canon *repair.Canonicalizer, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{llm: completer, canon: canon, log: logger}
}

// StructurePage asks for the page's invoice, repairing once on failure.
func (s *Stage) StructurePage(ctx context.Context, text string, page int) Result {
	start := time.Now()
	log := common.LoggerFrom(ctx, s.log).With("page", page)

	prompt := PagePrompt(text, page)
	inv, raw, callFailed, err := s.attempt(ctx, prompt, page)
	if err == nil {
		log.Info("structure.page.ok", "attempts", 1, "elapsed_ms", time.Since(start).Milliseconds())
		return Result{OK: true, Value: inv, Raw: raw, Attempts: 1, ElapsedMs: time.Since(start).Milliseconds()}
	}
	if ctx.Err() != nil {
		return Result{Err: err, Raw: raw, Attempts: 1, ElapsedMs: time.Since(start).Milliseconds()}
	}

	log.Warn("structure.attempt.failed", "attempt", 1, "error", err)
	next := prompt
	if !callFailed {
		next = RepairPrompt(raw, err.Error(), page)
	}

	inv2, raw2, _, err2 := s.attempt(ctx, next, page)
	elapsed := time.Since(start).Milliseconds()
	if err2 == nil {
		log.Info("structure.page.repaired", "attempts", maxAttempts, "elapsed_ms", elapsed)
		return Result{OK: true, Value: inv2, Raw: raw2, Attempts: maxAttempts, ElapsedMs: elapsed}
	}

	if raw2 == "" {
		raw2 = raw
	}
	log.Error("structure.page.failed", "attempts", maxAttempts, "error", err2, "elapsed_ms", elapsed)
	return Result{
		Err:       &FailedError{Cause: err2},
		Raw:       raw2,
		Attempts:  maxAttempts,
		ElapsedMs: elapsed,
	}
}

// attempt runs one completion through cleanup, parse, canonicalization and
// validation. callFailed reports that the collaborator itself errored.
func (s *Stage) attempt(ctx context.Context, prompt string, page int) (inv *invoice.Invoice, raw string, callFailed bool, err error) {
	resp, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		return nil, "", true, err
	}

	raw = repair.Cleanup(resp)
	obj, err := parseObject(raw)
	if err != nil {
		return nil, raw, false, err
	}
	obj = unwrapInvoices(obj)

	canonical := s.canon.Canonicalize(obj)
	inv, err = invoice.Decode(canonical, page)
	if err != nil {
		return nil, raw, false, err
	}
	return inv, raw, false, nil
}

func parseObject(raw string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, &outputError{msg: "invalid JSON: " + err.Error()}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &outputError{msg: "expected object, got " + kindOf(v)}
	}
	return obj, nil
}

// unwrapInvoices takes the first entry when the model answered with the
// multi-invoice {"invoices": [...]} envelope instead of a single invoice.
func unwrapInvoices(obj map[string]any) map[string]any {
	if _, ok := obj["document"]; ok {
		return obj
	}
	list, ok := obj["invoices"].([]any)
	if !ok || len(list) == 0 {
		return obj
	}
	if first, ok := list[0].(map[string]any); ok {
		return first
	}
	return obj
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// Translate asks for an English rendition of inv's string values. The page
// range of inv is kept. Any error leaves the caller with the original.
func (s *Stage) Translate(ctx context.Context, inv *invoice.Invoice) (*invoice.Invoice, error) {
	b, err := json.MarshalIndent(inv, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode invoice: %w", err)
	}
	resp, err := s.llm.Complete(ctx, TranslatePrompt(string(b)))
	if err != nil {
		return nil, fmt.Errorf("translate: %w", err)
	}
	obj, err := parseObject(repair.Cleanup(resp))
	if err != nil {
		return nil, fmt.Errorf("translate: %w", err)
	}
	out, err := invoice.Decode(obj, 0)
	if err != nil {
		return nil, fmt.Errorf("translate: %w", err)
	}
	out.PageStart = copyInt(inv.PageStart)
	out.PageEnd = copyInt(inv.PageEnd)
	return out, nil
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
