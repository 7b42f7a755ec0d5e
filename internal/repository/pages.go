package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docparser/constants"
	"github.com/joseph-ayodele/docparser/internal/entity"
)

// PageFailure carries what is recorded on a failed page.
type PageFailure struct {
	ErrorMessage string
	RawJSONPath  *string
	PageTimeMs   *int64
}

type PageRepository interface {
	CreatePending(ctx context.Context, documentID string, imagePaths []string) ([]*entity.Page, error)
	Get(ctx context.Context, documentID string, pageIndex int) (*entity.Page, error)
	ListByDocument(ctx context.Context, documentID string) ([]*entity.Page, error)
	MarkProcessing(ctx context.Context, id string) error
	SaveText(ctx context.Context, id, textPath, preview string) error
	MarkDone(ctx context.Context, id string, pageTimeMs int64) error
	MarkFailed(ctx context.Context, id string, f PageFailure) error
	CountByStatus(ctx context.Context, documentID string, status constants.PageStatus) (int, error)
}

type pageRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewPageRepository(db *DB, logger *slog.Logger) PageRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &pageRepo{db: db, logger: logger}
}

var pageSelect = []string{
	"id", "document_id", "page_index", "image_path", "extracted_text_path",
	"extracted_text_preview", "page_time_ms", "status", "raw_json_path", "error_message",
}

// CreatePending inserts one pending page per image in a single statement.
func (r *pageRepo) CreatePending(ctx context.Context, documentID string, imagePaths []string) ([]*entity.Page, error) {
	if len(imagePaths) == 0 {
		return nil, nil
	}
	ib := r.db.builder().Insert(pagesTable).Columns("id", "document_id", "page_index", "image_path", "status")
	pages := make([]*entity.Page, len(imagePaths))
	for i, img := range imagePaths {
		img := img
		pages[i] = &entity.Page{
			ID:         uuid.NewString(),
			DocumentID: documentID,
			PageIndex:  i,
			ImagePath:  &img,
			Status:     constants.PageStatusPending,
		}
		ib.Values(pages[i].ID, documentID, i, img, string(constants.PageStatusPending))
	}
	q, args := ib.Query()
	if _, err := r.db.exec(ctx, q, args); err != nil {
		r.logger.Error("failed to create pages", "document_id", documentID, "error", err)
		return nil, fmt.Errorf("create pages: %w", err)
	}
	r.logger.Debug("pages created", "document_id", documentID, "count", len(pages))
	return pages, nil
}

func (r *pageRepo) Get(ctx context.Context, documentID string, pageIndex int) (*entity.Page, error) {
	pages, err := r.find(ctx, entsql.And(entsql.EQ("document_id", documentID), entsql.EQ("page_index", pageIndex)))
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, notFound("page", fmt.Sprintf("%s/%d", documentID, pageIndex))
	}
	return pages[0], nil
}

func (r *pageRepo) ListByDocument(ctx context.Context, documentID string) ([]*entity.Page, error) {
	return r.find(ctx, entsql.EQ("document_id", documentID))
}

func (r *pageRepo) find(ctx context.Context, where *entsql.Predicate) ([]*entity.Page, error) {
	b := r.db.builder()
	sel := b.Select(pageSelect...).From(b.Table(pagesTable)).Where(where).OrderBy("page_index")
	rows, err := r.db.query(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer rows.Close()

	var out []*entity.Page
	for rows.Next() {
		var (
			p                             entity.Page
			status                        string
			image, textPath, preview, raw sql.NullString
			errMsg                        sql.NullString
			pageTime                      sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.PageIndex, &image, &textPath, &preview,
			&pageTime, &status, &raw, &errMsg); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		p.Status = constants.PageStatus(status)
		p.ImagePath = strPtr(image)
		p.ExtractedTextPath = strPtr(textPath)
		p.ExtractedTextPreview = strPtr(preview)
		p.PageTimeMs = int64Ptr(pageTime)
		p.RawJSONPath = strPtr(raw)
		p.ErrorMessage = strPtr(errMsg)
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (r *pageRepo) MarkProcessing(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, constants.PageStatusProcessing)
}

func (r *pageRepo) setStatus(ctx context.Context, id string, status constants.PageStatus) error {
	ub := r.db.builder().Update(pagesTable).Set("status", string(status)).Where(entsql.EQ("id", id))
	return r.db.update(ctx, ub, "page", id)
}

func (r *pageRepo) SaveText(ctx context.Context, id, textPath, preview string) error {
	ub := r.db.builder().Update(pagesTable).
		Set("extracted_text_path", textPath).
		Set("extracted_text_preview", preview).
		Where(entsql.EQ("id", id))
	return r.db.update(ctx, ub, "page", id)
}

func (r *pageRepo) MarkDone(ctx context.Context, id string, pageTimeMs int64) error {
	ub := r.db.builder().Update(pagesTable).
		Set("status", string(constants.PageStatusDone)).
		Set("page_time_ms", pageTimeMs).
		Where(entsql.EQ("id", id))
	return r.db.update(ctx, ub, "page", id)
}

func (r *pageRepo) MarkFailed(ctx context.Context, id string, f PageFailure) error {
	ub := r.db.builder().Update(pagesTable).
		Set("status", string(constants.PageStatusFailed)).
		Set("error_message", f.ErrorMessage).
		Where(entsql.EQ("id", id))
	if f.RawJSONPath != nil {
		ub.Set("raw_json_path", *f.RawJSONPath)
	}
	if f.PageTimeMs != nil {
		ub.Set("page_time_ms", *f.PageTimeMs)
	}
	if err := r.db.update(ctx, ub, "page", id); err != nil {
		return err
	}
	r.logger.Debug("page failed", "page_id", id, "error", f.ErrorMessage)
	return nil
}

func (r *pageRepo) CountByStatus(ctx context.Context, documentID string, status constants.PageStatus) (int, error) {
	return countPages(ctx, r.db, documentID, status)
}

func countPages(ctx context.Context, db *DB, documentID string, status constants.PageStatus) (int, error) {
	b := db.builder()
	sel := b.Select(entsql.Count("*")).From(b.Table(pagesTable)).
		Where(entsql.And(entsql.EQ("document_id", documentID), entsql.EQ("status", string(status))))
	rows, err := db.query(ctx, sel)
	if err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	defer rows.Close()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("scan page count: %w", err)
		}
	}
	return n, rows.Err()
}
