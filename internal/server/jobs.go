package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/joseph-ayodele/docparser/constants"
	"github.com/joseph-ayodele/docparser/internal/common"
	"github.com/joseph-ayodele/docparser/internal/entity"
	"github.com/joseph-ayodele/docparser/internal/events"
	"github.com/joseph-ayodele/docparser/internal/ingest"
	"github.com/joseph-ayodele/docparser/internal/utils"
)

// topicPoll is how often the stream looks for a queued job to go live.
const topicPoll = 250 * time.Millisecond

type uploadResponse struct {
	JobIDs   []string `json:"job_ids"`
	JobURLs  []string `json:"job_urls"`
	BatchURL string   `json:"batch_url"`
}

// upload handles POST /api/upload with multipart files[] and translate_to_english.
func (s *HTTPServer) upload(w http.ResponseWriter, r *http.Request) {
	log := common.LoggerFrom(r.Context(), s.logger)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, r, common.NewAppError("BAD_FORM", "expected multipart form with files[]", errors.Join(common.ErrInvalidInput, err)))
		return
	}
	files := r.MultipartForm.File["files[]"]
	if len(files) == 0 {
		files = r.MultipartForm.File["files"]
	}
	if len(files) == 0 {
		s.writeError(w, r, common.NewAppError("NO_FILES", "No files uploaded", common.ErrInvalidInput))
		return
	}
	translate, _ := strconv.ParseBool(r.FormValue("translate_to_english"))

	// reject the whole batch before storing anything
	for _, fh := range files {
		if common.NewValidator().Field("files[]", fh.Filename, common.Required, common.Extension(constants.IsAllowedExt)).HasErrors() {
			s.writeError(w, r, common.NewAppError("INVALID_FILE", "Only PDF files are allowed: "+fh.Filename, common.ErrInvalidInput))
			return
		}
		if s.MaxUploadBytes > 0 && common.NewValidator().Field("files[]", fh.Size, common.MaxBytes(s.MaxUploadBytes)).HasErrors() {
			msg := fmt.Sprintf("File too large (%s). Maximum size is %dMB", fh.Filename, s.MaxUploadBytes/(1024*1024))
			s.writeError(w, r, common.NewAppError("FILE_TOO_LARGE", msg, common.ErrInvalidInput))
			return
		}
	}

	resp := uploadResponse{JobIDs: []string{}, JobURLs: []string{}}
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			s.writeError(w, r, fmt.Errorf("open upload: %w", err))
			return
		}
		res, err := s.Ingest.Submit(r.Context(), ingest.Submission{Filename: fh.Filename, Body: f, Translate: translate})
		_ = f.Close()
		if err != nil {
			log.Warn("http.upload.rejected", "filename", fh.Filename, "error", err)
			s.writeError(w, r, err)
			return
		}
		resp.JobIDs = append(resp.JobIDs, res.JobID)
		resp.JobURLs = append(resp.JobURLs, "/api/jobs/"+res.JobID+"/events")
	}
	if len(resp.JobIDs) > 0 {
		resp.BatchURL = resp.JobURLs[0]
	}
	log.Info("http.upload.ok", "files", len(files), "translate", translate)
	writeJSON(w, http.StatusOK, resp)
}

// jobStatus handles GET /api/jobs/{jobID}/status.
func (s *HTTPServer) jobStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.Jobs.Status(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// cancelJob handles POST /api/jobs/{jobID}/cancel.
func (s *HTTPServer) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.Control.Cancel(r.Context(), jobID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancel_requested", "job_id": jobID})
}

// jobEvents handles GET /api/jobs/{jobID}/events. The stream opens with an
// initial snapshot, then relays live events until a terminal one. A job that
// already ended gets its terminal event from the stored state.
func (s *HTTPServer) jobEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobID")
	log := common.LoggerFrom(common.WithJobID(ctx, jobID), s.logger)

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, errors.New("streaming unsupported"))
		return
	}

	// subscribe before the snapshot so nothing published in between is lost
	stream, subErr := s.Events.Subscribe(ctx, jobID)
	st, err := s.Jobs.Status(ctx, jobID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(ev events.Event) bool {
		if err := events.WriteSSE(w, ev); err != nil {
			log.Debug("http.sse.write_failed", "error", err)
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(events.New(events.Initial{
		Status:      st.Status,
		PageCount:   st.PageCount,
		CurrentPage: st.CurrentPage,
		DocumentID:  st.DocumentID,
	})) {
		return
	}

	s.follow(ctx, log, jobID, st, stream, subErr, send)
}

// follow streams a job after its initial snapshot: live events until a
// terminal one, or the stored terminal state when the job already ended.
func (d *Deps) follow(ctx context.Context, log *slog.Logger, jobID string, st *entity.JobStatus, stream <-chan events.Event, subErr error, send func(events.Event) bool) {
	lastBeat := time.Now()
	var err error
	for {
		if constants.DocumentStatus(st.Status).Terminal() && subErr != nil {
			d.sendStoredTerminal(ctx, st, send)
			return
		}
		if subErr == nil {
			if relay(ctx, stream, send) {
				return
			}
			// topic closed without a terminal event; fall back to stored state
			if st, err = d.Jobs.Status(ctx, jobID); err != nil {
				return
			}
			d.sendStoredTerminal(ctx, st, send)
			return
		}
		if !errors.Is(subErr, events.ErrNoTopic) {
			log.Error("stream.subscribe_failed", "error", subErr)
			return
		}

		// queued and not yet picked up by a worker
		if !d.waitForTopic(ctx, &lastBeat, send) {
			return
		}
		stream, subErr = d.Events.Subscribe(ctx, jobID)
		if st, err = d.Jobs.Status(ctx, jobID); err != nil {
			return
		}
	}
}

// relay forwards live events and reports whether a terminal event was sent.
func relay(ctx context.Context, stream <-chan events.Event, send func(events.Event) bool) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case ev, ok := <-stream:
			if !ok {
				return ctx.Err() != nil
			}
			if !send(ev) {
				return true
			}
			if ev.Terminal() {
				return true
			}
		}
	}
}

// waitForTopic sleeps one poll interval, sending a keepalive when one is due.
func (d *Deps) waitForTopic(ctx context.Context, lastBeat *time.Time, send func(events.Event) bool) bool {
	timer := time.NewTimer(topicPoll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case now := <-timer.C:
		if now.Sub(*lastBeat) < d.Keepalive {
			return true
		}
		*lastBeat = now
		return send(events.NewKeepalive(now))
	}
}

func (d *Deps) sendStoredTerminal(ctx context.Context, st *entity.JobStatus, send func(events.Event) bool) {
	switch constants.DocumentStatus(st.Status) {
	case constants.DocumentStatusDone:
		ev := events.Done{Status: st.Status, DocumentID: st.DocumentID}
		if doc, err := d.Documents.Get(ctx, st.DocumentID); err == nil {
			ev.InvoiceCount = doc.InvoiceCount
			ev.Message = events.DoneMessage(doc.InvoiceCount)
			if doc.TotalTimeMs != nil {
				ev.TotalTimeMs = *doc.TotalTimeMs
			}
		}
		send(events.New(ev))
	case constants.DocumentStatusCanceled:
		send(events.New(events.Canceled{
			Status:         st.Status,
			DocumentID:     st.DocumentID,
			PagesProcessed: st.PagesDone,
			Message:        events.CanceledMessage,
		}))
	default:
		msg := utils.StrOrEmpty(st.ErrorMessage)
		if msg == "" {
			msg = "Unknown error"
		}
		send(events.New(events.Error{Status: st.Status, DocumentID: st.DocumentID, Error: msg}))
	}
}
