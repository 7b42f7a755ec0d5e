package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/joseph-ayodele/docparser/internal/async"
	"github.com/joseph-ayodele/docparser/internal/ingest"
	"github.com/joseph-ayodele/docparser/internal/server"
)

const shutdownGrace = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and gRPC servers, the job workers and the inbox watcher",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := server.PingDB(ctx, a.db, logger, 5*time.Second); err != nil {
		return err
	}
	if err := a.llm.Health(ctx); err != nil {
		logger.Warn("llm.unreachable", "provider", cfg.LLM.Provider, "error", err)
	}

	queue := async.NewProcessorQueue(a.processor, logger,
		async.WithWorkers(cfg.Queue.Workers),
		async.WithQueueSize(cfg.Queue.Size),
		async.WithProcessTimeout(cfg.Queue.JobTimeout),
	)
	usecase := ingest.NewUsecase(a.docs, a.jobs, a.store, queue, cfg.Storage.MaxUploadBytes(), logger)
	resumed, err := usecase.Resume(ctx)
	if err != nil {
		logger.Error("queue.resume_failed", "error", err)
	} else if resumed > 0 {
		logger.Info("queue.resumed", "jobs", resumed)
	}

	deps := a.serverDeps(cfg)
	deps.Ingest = usecase

	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           server.NewHTTPServer(deps, logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		// event streams end with the process context
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	grpcSrv := server.NewGRPCServer(server.NewJobControlServer(deps, logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http.listen", "addr", cfg.Server.HTTPAddr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return err
		}
		g.Go(func() error {
			logger.Info("grpc.listen", "addr", cfg.Server.GRPCAddr)
			return grpcSrv.Serve(lis)
		})
	}
	if cfg.Storage.InboxDir != "" {
		g.Go(func() error {
			return ingest.Watch(gctx, ingest.WatchConfig{
				Roots:       []string{cfg.Storage.InboxDir},
				InitialScan: true,
				Translate:   cfg.Storage.InboxTranslate,
			}, usecase, logger)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "active_jobs", len(a.processor.Active()))
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			logger.Warn("http.shutdown", "error", err)
		}
		stopGRPC(sctx, grpcSrv)
		queue.Shutdown(sctx)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("stopped")
	return nil
}

// stopGRPC drains in-flight calls until ctx expires, then closes the rest.
func stopGRPC(ctx context.Context, gs *grpc.Server) {
	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		gs.Stop()
	}
}
