package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/joseph-ayodele/docparser/internal/events"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed)
	dimColor  = color.New(color.Faint)
)

// progressPublisher renders a job's events for a person watching the terminal:
// a spinner until the page count is known, then one bar over the pages.
type progressPublisher struct {
	mu      sync.Mutex
	w       io.Writer
	animate bool
	logger  *slog.Logger

	spin  *spinner.Spinner
	bar   *progressbar.ProgressBar
	pages int
}

func newProgressPublisher(w io.Writer, animate bool, logger *slog.Logger) *progressPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &progressPublisher{w: w, animate: animate, logger: logger}
}

func (p *progressPublisher) Open(string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.animate {
		return
	}
	p.spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(p.w))
	p.spin.Suffix = " Queued"
	p.spin.Start()
}

func (p *progressPublisher) Close(string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endBar()
}

func (p *progressPublisher) Publish(_ string, ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch pl := ev.Payload.(type) {
	case events.Status:
		p.status(pl.Message)
	case events.PDFConverted:
		p.stopSpinner()
		p.line(dimColor, "%s", pl.Message)
		if pl.TotalPages > 0 {
			p.bar = newPageBar(p.w, pl.TotalPages)
		}
	case events.JSONFailed:
		p.line(warnColor, "⚠ page %d not structured: %s", pl.PageNumber, pl.Error)
	case events.PageDone:
		p.advance()
	case events.PageError:
		p.line(warnColor, "⚠ page %d failed: %s", pl.PageIndex+1, pl.Error)
		p.advance()
	case events.Done:
		p.endBar()
		p.line(okColor, "✓ %s", pl.Message)
	case events.Canceled:
		p.endBar()
		p.line(warnColor, "⚠ %s (%d page(s) processed)", pl.Message, pl.PagesProcessed)
	case events.Error:
		p.endBar()
		p.line(errColor, "✗ %s", pl.Error)
	}
}

func newPageBar(w io.Writer, total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("pages"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// status updates whichever indicator is live; without one it prints a line.
func (p *progressPublisher) status(msg string) {
	switch {
	case p.bar != nil:
		p.bar.Describe(msg)
	case p.spin != nil:
		p.spin.Lock()
		p.spin.Suffix = " " + msg
		p.spin.Unlock()
	default:
		p.line(dimColor, "%s", msg)
	}
}

func (p *progressPublisher) advance() {
	p.pages++
	if p.bar == nil {
		return
	}
	if err := p.bar.Set(p.pages); err != nil {
		p.logger.Debug("process.progress.render_failed", "error", err)
	}
}

// line prints one message on its own line, clearing a partially drawn bar first.
func (p *progressPublisher) line(c *color.Color, format string, args ...any) {
	if p.bar != nil {
		_ = p.bar.Clear()
	}
	if _, err := c.Fprintf(p.w, format+"\n", args...); err != nil {
		p.logger.Warn("process.progress.write_failed", "error", err)
	}
}

func (p *progressPublisher) stopSpinner() {
	if p.spin != nil {
		p.spin.Stop()
		p.spin = nil
	}
}

func (p *progressPublisher) endBar() {
	p.stopSpinner()
	if p.bar != nil {
		fmt.Fprintln(p.w)
		p.bar = nil
	}
}

// isTerminal reports whether f is a character device.
func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
