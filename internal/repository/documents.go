package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docparser/constants"
	"github.com/joseph-ayodele/docparser/internal/entity"
)

// DocumentResult carries the final values written when a document finishes.
type DocumentResult struct {
	Status       constants.DocumentStatus
	InvoiceCount int
	ErrorMessage *string
	TotalTimeMs  int64
	JSONPath     *string
}

type DocumentRepository interface {
	Create(ctx context.Context, doc *entity.Document) error
	Get(ctx context.Context, id string) (*entity.Document, error)
	GetBySHA256(ctx context.Context, sum string) (*entity.Document, error)
	List(ctx context.Context, limit int) ([]*entity.Document, error)
	ListByStatus(ctx context.Context, status constants.DocumentStatus) ([]*entity.Document, error)
	SetStatus(ctx context.Context, id string, status constants.DocumentStatus) error
	SetPageCount(ctx context.Context, id string, n int) error
	Finish(ctx context.Context, id string, res DocumentResult) error
}

type documentRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewDocumentRepository(db *DB, logger *slog.Logger) DocumentRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &documentRepo{db: db, logger: logger}
}

var documentSelect = []string{
	"id", "original_filename", "stored_pdf_path", "sha256", "status", "page_count",
	"invoice_count", "translate_to_english", "error_message", "total_time_ms",
	"json_path", "created_at", "updated_at",
}

func (r *documentRepo) Create(ctx context.Context, doc *entity.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Status == "" {
		doc.Status = constants.DocumentStatusQueued
	}
	now := time.Now().UTC()
	doc.CreatedAt, doc.UpdatedAt = now, now

	q, args := r.db.builder().Insert(documentsTable).
		Columns(documentSelect...).
		Values(doc.ID, doc.OriginalFilename, doc.StoredPDFPath, doc.SHA256, string(doc.Status),
			nullable(doc.PageCount), doc.InvoiceCount, doc.TranslateToEnglish, nullable(doc.ErrorMessage),
			nullable(doc.TotalTimeMs), nullable(doc.JSONPath), now, now).
		Query()
	if _, err := r.db.exec(ctx, q, args); err != nil {
		r.logger.Error("failed to create document", "filename", doc.OriginalFilename, "error", err)
		return fmt.Errorf("create document: %w", err)
	}
	r.logger.Info("document created", "document_id", doc.ID, "filename", doc.OriginalFilename)
	return nil
}

func (r *documentRepo) Get(ctx context.Context, id string) (*entity.Document, error) {
	docs, err := r.find(ctx, entsql.EQ("id", id), 1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, notFound("document", id)
	}
	return docs[0], nil
}

func (r *documentRepo) GetBySHA256(ctx context.Context, sum string) (*entity.Document, error) {
	docs, err := r.find(ctx, entsql.EQ("sha256", sum), 1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, notFound("document with sha256", sum)
	}
	return docs[0], nil
}

func (r *documentRepo) List(ctx context.Context, limit int) ([]*entity.Document, error) {
	return r.find(ctx, nil, limit)
}

func (r *documentRepo) ListByStatus(ctx context.Context, status constants.DocumentStatus) ([]*entity.Document, error) {
	return r.find(ctx, entsql.EQ("status", string(status)), 0)
}

func (r *documentRepo) find(ctx context.Context, where *entsql.Predicate, limit int) ([]*entity.Document, error) {
	b := r.db.builder()
	sel := b.Select(documentSelect...).From(b.Table(documentsTable)).OrderBy(entsql.Desc("created_at"))
	if where != nil {
		sel.Where(where)
	}
	if limit > 0 {
		sel.Limit(limit)
	}
	rows, err := r.db.query(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []*entity.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDocument(s scanner) (*entity.Document, error) {
	var (
		d                    entity.Document
		status               string
		pageCount, totalTime sql.NullInt64
		errMsg, jsonPath     sql.NullString
	)
	err := s.Scan(&d.ID, &d.OriginalFilename, &d.StoredPDFPath, &d.SHA256, &status, &pageCount,
		&d.InvoiceCount, &d.TranslateToEnglish, &errMsg, &totalTime, &jsonPath, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	d.Status = constants.DocumentStatus(status)
	d.PageCount = intPtr(pageCount)
	d.TotalTimeMs = int64Ptr(totalTime)
	d.ErrorMessage = strPtr(errMsg)
	d.JSONPath = strPtr(jsonPath)
	return &d, nil
}

func (r *documentRepo) SetStatus(ctx context.Context, id string, status constants.DocumentStatus) error {
	ub := r.db.builder().Update(documentsTable).
		Set("status", string(status)).
		Set("updated_at", time.Now().UTC()).
		Where(entsql.EQ("id", id))
	if err := r.db.update(ctx, ub, "document", id); err != nil {
		return err
	}
	r.logger.Debug("document status updated", "document_id", id, "status", status)
	return nil
}

func (r *documentRepo) SetPageCount(ctx context.Context, id string, n int) error {
	ub := r.db.builder().Update(documentsTable).
		Set("page_count", n).
		Set("updated_at", time.Now().UTC()).
		Where(entsql.EQ("id", id))
	return r.db.update(ctx, ub, "document", id)
}

func (r *documentRepo) Finish(ctx context.Context, id string, res DocumentResult) error {
	if !res.Status.Terminal() {
		return fmt.Errorf("finish document %s: %q is not a terminal status", id, res.Status)
	}
	ub := r.db.builder().Update(documentsTable).
		Set("status", string(res.Status)).
		Set("invoice_count", res.InvoiceCount).
		Set("total_time_ms", res.TotalTimeMs).
		Set("updated_at", time.Now().UTC()).
		Where(entsql.EQ("id", id))
	if res.ErrorMessage != nil {
		ub.Set("error_message", *res.ErrorMessage)
	}
	if res.JSONPath != nil {
		ub.Set("json_path", *res.JSONPath)
	}
	if err := r.db.update(ctx, ub, "document", id); err != nil {
		r.logger.Error("failed to finish document", "document_id", id, "error", err)
		return err
	}
	r.logger.Info("document finished", "document_id", id, "status", res.Status, "invoices", res.InvoiceCount)
	return nil
}
