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

type JobRepository interface {
	Create(ctx context.Context, documentID string) (*entity.Job, error)
	Get(ctx context.Context, id string) (*entity.Job, error)
	GetByDocument(ctx context.Context, documentID string) (*entity.Job, error)
	Start(ctx context.Context, id string) error
	SetCurrentPage(ctx context.Context, id string, pageIndex int) error
	Finish(ctx context.Context, id string) error
	RequestCancel(ctx context.Context, id string) error
	IsCancelRequested(ctx context.Context, id string) (bool, error)
	Status(ctx context.Context, id string) (*entity.JobStatus, error)
}

type jobRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewJobRepository(db *DB, logger *slog.Logger) JobRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &jobRepo{db: db, logger: logger}
}

var jobSelect = []string{"id", "document_id", "cancel_requested", "current_page", "started_at", "finished_at", "created_at"}

func (r *jobRepo) Create(ctx context.Context, documentID string) (*entity.Job, error) {
	job := &entity.Job{ID: uuid.NewString(), DocumentID: documentID, CreatedAt: time.Now().UTC()}
	q, args := r.db.builder().Insert(jobsTable).
		Columns("id", "document_id", "cancel_requested", "created_at").
		Values(job.ID, documentID, false, job.CreatedAt).
		Query()
	if _, err := r.db.exec(ctx, q, args); err != nil {
		r.logger.Error("job create failed", "document_id", documentID, "err", err)
		return nil, fmt.Errorf("create job: %w", err)
	}
	r.logger.Info("job created", "job_id", job.ID, "document_id", documentID)
	return job, nil
}

func (r *jobRepo) Get(ctx context.Context, id string) (*entity.Job, error) {
	return r.one(ctx, entsql.EQ("id", id), "job", id)
}

func (r *jobRepo) GetByDocument(ctx context.Context, documentID string) (*entity.Job, error) {
	return r.one(ctx, entsql.EQ("document_id", documentID), "job for document", documentID)
}

func (r *jobRepo) one(ctx context.Context, where *entsql.Predicate, what, key string) (*entity.Job, error) {
	b := r.db.builder()
	rows, err := r.db.query(ctx, b.Select(jobSelect...).From(b.Table(jobsTable)).Where(where).Limit(1))
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, notFound(what, key)
	}
	var (
		j                 entity.Job
		current           sql.NullInt64
		started, finished sql.NullTime
	)
	if err := rows.Scan(&j.ID, &j.DocumentID, &j.CancelRequested, &current, &started, &finished, &j.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.CurrentPage = intPtr(current)
	j.StartedAt = timePtr(started)
	j.FinishedAt = timePtr(finished)
	return &j, nil
}

func (r *jobRepo) Start(ctx context.Context, id string) error {
	ub := r.db.builder().Update(jobsTable).Set("started_at", time.Now().UTC()).Where(entsql.EQ("id", id))
	return r.db.update(ctx, ub, "job", id)
}

func (r *jobRepo) SetCurrentPage(ctx context.Context, id string, pageIndex int) error {
	ub := r.db.builder().Update(jobsTable).Set("current_page", pageIndex).Where(entsql.EQ("id", id))
	return r.db.update(ctx, ub, "job", id)
}

func (r *jobRepo) Finish(ctx context.Context, id string) error {
	ub := r.db.builder().Update(jobsTable).Set("finished_at", time.Now().UTC()).Where(entsql.EQ("id", id))
	return r.db.update(ctx, ub, "job", id)
}

// RequestCancel sets the durable cancel flag. The flag is never cleared.
func (r *jobRepo) RequestCancel(ctx context.Context, id string) error {
	ub := r.db.builder().Update(jobsTable).Set("cancel_requested", true).Where(entsql.EQ("id", id))
	if err := r.db.update(ctx, ub, "job", id); err != nil {
		return err
	}
	r.logger.Info("job cancel requested", "job_id", id)
	return nil
}

func (r *jobRepo) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	j, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return j.CancelRequested, nil
}

// Status joins the job with its document and counts the pages that are done.
func (r *jobRepo) Status(ctx context.Context, id string) (*entity.JobStatus, error) {
	b := r.db.builder()
	j := b.Table(jobsTable).As("j")
	d := b.Table(documentsTable).As("d")
	sel := b.Select(
		j.C("id"), d.C("id"), d.C("status"), d.C("page_count"), j.C("current_page"),
		j.C("cancel_requested"), d.C("error_message"), d.C("original_filename"),
	).
		From(j).
		Join(d).On(j.C("document_id"), d.C("id")).
		Where(entsql.EQ(j.C("id"), id))

	rows, err := r.db.query(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("query job status: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, notFound("job", id)
	}
	var (
		st                 entity.JobStatus
		pageCount, current sql.NullInt64
		errMsg             sql.NullString
	)
	if err := rows.Scan(&st.JobID, &st.DocumentID, &st.Status, &pageCount, &current,
		&st.CancelRequested, &errMsg, &st.Filename); err != nil {
		return nil, fmt.Errorf("scan job status: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	st.PageCount = intPtr(pageCount)
	st.CurrentPage = intPtr(current)
	st.ErrorMessage = strPtr(errMsg)

	// the pool may hold a single connection, so the rows above are closed first
	st.PagesDone, err = countPages(ctx, r.db, st.DocumentID, constants.PageStatusDone)
	if err != nil {
		return nil, err
	}
	return &st, nil
}
