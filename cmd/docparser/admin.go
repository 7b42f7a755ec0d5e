package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docparser/internal/export"
	repo "github.com/joseph-ayodele/docparser/internal/repository"
	"github.com/joseph-ayodele/docparser/internal/server"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export <documentID>",
	Short: "Write a document's invoices to an XLSX workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := server.ConnectDB(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		out := exportOut
		if out == "" {
			out = "invoices_" + args[0] + ".xlsx"
		}
		svc := export.NewService(repo.NewDocumentRepository(db, logger), repo.NewInvoiceRepository(db, logger), logger)
		if err := writeXLSXWith(ctx, svc, args[0], out); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := server.ConnectDB(cmd.Context(), cfg.Database, logger)
		if err != nil {
			return err
		}
		db.Close()
		fmt.Fprintln(cmd.OutOrStdout(), "database migrated")
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the database and the completion provider",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		out := cmd.OutOrStdout()

		var failed []error
		db, err := server.ConnectDB(ctx, cfg.Database, logger)
		if err == nil {
			defer db.Close()
			err = server.PingDB(ctx, db, logger, 3*time.Second)
		}
		if err != nil {
			fmt.Fprintf(out, "DB health: FAIL (%v)\n", err)
			failed = append(failed, err)
		} else {
			fmt.Fprintln(out, "DB health: OK")
		}

		if err := newLLMClient(cfg.LLM, logger).Health(ctx); err != nil {
			fmt.Fprintf(out, "LLM health (%s): FAIL (%v)\n", cfg.LLM.Provider, err)
			failed = append(failed, err)
		} else {
			fmt.Fprintf(out, "LLM health (%s): OK\n", cfg.LLM.Provider)
		}
		return errors.Join(failed...)
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default invoices_<documentID>.xlsx)")
}

func writeXLSX(ctx context.Context, a *app, documentID, path string) error {
	return writeXLSXWith(ctx, a.export, documentID, path)
}

func writeXLSXWith(ctx context.Context, svc *export.Service, documentID, path string) error {
	b, err := svc.InvoicesXLSX(ctx, documentID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	logger.Info("export.written", "document_id", documentID, "path", path, "bytes", len(b))
	return nil
}
