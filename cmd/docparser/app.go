package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/docparser/internal/artifacts"
	"github.com/joseph-ayodele/docparser/internal/common"
	"github.com/joseph-ayodele/docparser/internal/events"
	"github.com/joseph-ayodele/docparser/internal/export"
	"github.com/joseph-ayodele/docparser/internal/extract"
	"github.com/joseph-ayodele/docparser/internal/llm"
	"github.com/joseph-ayodele/docparser/internal/llm/ollama"
	"github.com/joseph-ayodele/docparser/internal/llm/openai"
	"github.com/joseph-ayodele/docparser/internal/pdf"
	"github.com/joseph-ayodele/docparser/internal/pipeline"
	"github.com/joseph-ayodele/docparser/internal/repair"
	repo "github.com/joseph-ayodele/docparser/internal/repository"
	"github.com/joseph-ayodele/docparser/internal/server"
	"github.com/joseph-ayodele/docparser/internal/structure"
)

// app holds the wired components shared by the commands.
type app struct {
	db        *repo.DB
	docs      repo.DocumentRepository
	pages     repo.PageRepository
	invoices  repo.InvoiceRepository
	jobs      repo.JobRepository
	store     *artifacts.Store
	hub       *events.Hub
	llm       llm.Client
	processor *pipeline.Processor
	export    *export.Service
}

func openApp(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*app, error) {
	db, err := server.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	store, err := artifacts.NewStore(cfg.Storage.DataDir, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open data dir: %w", err)
	}
	table, err := renameTable(cfg.Storage.RenameTablePath)
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &app{
		db:       db,
		docs:     repo.NewDocumentRepository(db, logger),
		pages:    repo.NewPageRepository(db, logger),
		invoices: repo.NewInvoiceRepository(db, logger),
		jobs:     repo.NewJobRepository(db, logger),
		store:    store,
		hub:      events.NewHub(cfg.Events.KeepaliveInterval, logger),
		llm:      newLLMClient(cfg.LLM, logger),
	}
	a.export = export.NewService(a.docs, a.invoices, logger)
	a.processor = pipeline.NewProcessor(pipeline.Deps{
		Documents: a.docs,
		Pages:     a.pages,
		Invoices:  a.invoices,
		Jobs:      a.jobs,
		Converter: pdf.NewConverter(pdf.Config{
			Pdftoppm: cfg.PDF.Pdftoppm,
			DPI:      cfg.PDF.DPI,
			MaxPages: cfg.PDF.MaxPages,
		}, nil, logger),
		Extractor: extract.NewStage(a.llm, extract.Config{
			MaxAttempts: cfg.Extract.MaxAttempts,
			MinLength:   cfg.Extract.MinLength,
		}, logger),
		Structure: structure.NewStage(a.llm, repair.NewCanonicalizer(table, logger), logger),
		Store:     store,
		Events:    a.hub,
	}, logger)
	return a, nil
}

func (a *app) Close() {
	a.db.Close()
}

// serverDeps are the collaborators of the HTTP and gRPC servers.
func (a *app) serverDeps(cfg *common.Config) server.Deps {
	return server.Deps{
		Documents:      a.docs,
		Pages:          a.pages,
		Invoices:       a.invoices,
		Jobs:           a.jobs,
		Store:          a.store,
		Control:        a.processor,
		Events:         a.hub,
		Export:         a.export,
		LLM:            a.llm,
		DB:             a.db,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes(),
		Keepalive:      cfg.Events.KeepaliveInterval,
		Origins:        cfg.Server.FrontendOrigins,
	}
}

func newLLMClient(c common.LLMConfig, logger *slog.Logger) llm.Client {
	if c.Provider == "openai" {
		return openai.NewClient(openai.Config{
			APIKey:           c.APIKey,
			BaseURL:          c.OpenAIBaseURL,
			VisionModel:      c.VisionModel,
			StructuringModel: c.StructuringModel,
			Temperature:      c.Temperature,
			Timeout:          c.Timeout,
		}, logger)
	}
	return ollama.NewClient(ollama.Config{
		BaseURL:          c.BaseURL,
		VisionModel:      c.VisionModel,
		StructuringModel: c.StructuringModel,
		Temperature:      c.Temperature,
		Timeout:          c.Timeout,
	}, logger)
}

func renameTable(path string) (*repair.Table, error) {
	if path == "" {
		return repair.DefaultTable()
	}
	t, err := repair.LoadTableFile(path)
	if err != nil {
		return nil, fmt.Errorf("load RENAME_TABLE_PATH: %w", err)
	}
	return t, nil
}
