package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docparser/constants"
	"github.com/joseph-ayodele/docparser/internal/async"
	"github.com/joseph-ayodele/docparser/internal/events"
	"github.com/joseph-ayodele/docparser/internal/ingest"
)

var (
	processDB        string
	processTranslate bool
	processDumpText  bool
	processOut       string
	processSSE       bool
	processNoColor   bool
)

var processCmd = &cobra.Command{
	Use:   "process <pdf>",
	Short: "Process one PDF in the foreground and print its events",
	Long: `process runs a single PDF through the pipeline without the servers.
Progress is drawn on stderr; --sse prints the raw event stream to stdout
instead. By default the database is an in-memory SQLite instance; artifacts
still go to DATA_DIR.`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVar(&processDB, "db", "", "SQLite DSN (default: in-memory)")
	processCmd.Flags().BoolVar(&processTranslate, "translate", true, "translate structured invoices to English")
	processCmd.Flags().BoolVar(&processDumpText, "dump-text", false, "print the combined extracted text when done")
	processCmd.Flags().StringVarP(&processOut, "out", "o", "", "also export the invoices to this XLSX file")
	processCmd.Flags().BoolVar(&processSSE, "sse", false, "print events to stdout in event-stream framing")
	processCmd.Flags().BoolVar(&processNoColor, "no-color", false, "disable colored output")
}

// printPublisher writes every event to w instead of fanning it out.
type printPublisher struct {
	mu     sync.Mutex
	w      io.Writer
	logger *slog.Logger
}

func (p *printPublisher) Open(string)  {}
func (p *printPublisher) Close(string) {}

func (p *printPublisher) Publish(_ string, ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := events.WriteSSE(p.w, ev); err != nil && p.logger != nil {
		p.logger.Warn("process.event.write_failed", "event", ev.Type, "error", err)
	}
}

// heldJobs keeps enqueued jobs for the caller to run inline.
type heldJobs struct{ jobs []async.Job }

func (h *heldJobs) Enqueue(_ context.Context, job async.Job) error {
	h.jobs = append(h.jobs, job)
	return nil
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = processDB
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "file:" + uuid.NewString() + "?mode=memory&cache=shared&_pragma=foreign_keys(1)"
	}

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if processNoColor {
		color.NoColor = true
	}
	if processSSE {
		a.processor.Events = &printPublisher{w: cmd.OutOrStdout(), logger: logger}
	} else {
		stderr := cmd.ErrOrStderr()
		f, ok := stderr.(*os.File)
		a.processor.Events = newProgressPublisher(stderr, ok && isTerminal(f), logger)
	}

	held := &heldJobs{}
	usecase := ingest.NewUsecase(a.docs, a.jobs, a.store, held, cfg.Storage.MaxUploadBytes(), logger)
	res, err := usecase.IngestPath(ctx, args[0], processTranslate)
	if err != nil {
		return err
	}
	if res.Deduplicated {
		logger.Info("process.deduplicated", "document_id", res.DocumentID)
	}
	for _, job := range held.jobs {
		if err := a.processor.Process(ctx, job.JobID); err != nil {
			return err
		}
	}

	doc, err := a.docs.Get(ctx, res.DocumentID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if processDumpText && doc.PageCount != nil {
		fmt.Fprintln(out, a.store.CombinedText(doc.ID, *doc.PageCount))
	}
	if processOut != "" {
		if err := writeXLSX(ctx, a, doc.ID, processOut); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "document %s: %s (%d invoice(s))\n", doc.ID, doc.Status, doc.InvoiceCount)
	if doc.Status != constants.DocumentStatusDone {
		msg := string(doc.Status)
		if doc.ErrorMessage != nil {
			msg = *doc.ErrorMessage
		}
		return fmt.Errorf("processing did not complete: %s", msg)
	}
	return nil
}
