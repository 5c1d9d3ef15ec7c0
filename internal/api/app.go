package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/creativemri/internal/creative"
	"github.com/kalambet/creativemri/internal/progress"
	"github.com/kalambet/creativemri/internal/storage"
	"github.com/kalambet/creativemri/internal/tokens"
)

const maxRequestBodySize = 16 << 20 // 16MB

const defaultPollTimeout = 15 * time.Second

// Notifier wakes the job worker after a job is queued.
type Notifier interface {
	Notify()
}

type AppDeps struct {
	Store  *storage.Store
	Hub    *progress.Hub
	Tokens *tokens.Store
	Worker Notifier // optional; without it the worker picks jobs up on its next poll
	Token  string

	// PollTimeout bounds each wait on a live stream; an SSE keepalive or a
	// WebSocket ping is written when it elapses. Defaults to 15s.
	PollTimeout time.Duration
}

func (d AppDeps) pollTimeout() time.Duration {
	if d.PollTimeout > 0 {
		return d.PollTimeout
	}
	return defaultPollTimeout
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/batches", handleCreateBatch(deps))
		r.Get("/batches/{id}", handleGetBatch(deps))
		r.Post("/reports", handleCreateReport(deps))
		r.Get("/jobs", handleListJobs(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))
	})

	r.With(StreamAuth(deps.Token, deps.Tokens)).Get("/jobs/{id}/events", handleJobEvents(deps))
	r.With(StreamAuth(deps.Token, deps.Tokens)).Get("/jobs/{id}/ws", handleJobWS(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type batchRequest struct {
	Label string              `json:"label"`
	Ads   []creative.AdRecord `json:"ads"`
}

func handleCreateBatch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req batchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Ads) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "ads is required and must not be empty")
			return
		}

		body, err := json.Marshal(req.Ads)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to encode ads: %v", err)
			return
		}
		id, err := deps.Store.CreateBatch(storage.Batch{Label: req.Label, AdsJSON: string(body), AdCount: len(req.Ads)})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save batch: %v", err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{"id": id, "ads": len(req.Ads)})
	}
}

func handleGetBatch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := deps.Store.GetBatch(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "batch not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get batch: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"id":         b.ID,
			"label":      b.Label,
			"ad_count":   b.AdCount,
			"ads":        json.RawMessage(b.AdsJSON),
			"created_at": b.CreatedAt,
		})
	}
}

// ReportRequest is the body of POST /reports. Exactly one of BatchID or Ads
// supplies the ads.
type ReportRequest struct {
	Label              string                       `json:"label"`
	BatchID            string                       `json:"batch_id,omitempty"`
	Ads                []creative.AdRecord          `json:"ads,omitempty"`
	RedundancyClusters []creative.RedundancyCluster `json:"redundancy_clusters,omitempty"`
}

// errInvalidReport marks request problems that map to 400.
var errInvalidReport = errors.New("invalid report request")

// resolveRunRequest turns a report request into the run input, loading the
// referenced batch when one is named.
func resolveRunRequest(store *storage.Store, in ReportRequest) (creative.RunRequest, error) {
	run := creative.RunRequest{Label: in.Label, Ads: in.Ads, RedundancyClusters: in.RedundancyClusters}
	switch {
	case in.BatchID != "" && in.Ads != nil:
		return run, fmt.Errorf("%w: batch_id and ads are mutually exclusive", errInvalidReport)
	case in.BatchID != "":
		b, err := store.GetBatch(in.BatchID)
		if errors.Is(err, storage.ErrNotFound) {
			return run, fmt.Errorf("%w: batch %s not found", errInvalidReport, in.BatchID)
		}
		if err != nil {
			return run, fmt.Errorf("loading batch: %w", err)
		}
		if err := json.Unmarshal([]byte(b.AdsJSON), &run.Ads); err != nil {
			return run, fmt.Errorf("decoding batch %s: %w", b.ID, err)
		}
		if run.Label == "" {
			run.Label = b.Label
		}
	case in.Ads == nil:
		return run, fmt.Errorf("%w: one of batch_id or ads is required", errInvalidReport)
	}
	return run, nil
}

// enqueueRun stores a pending job for run under jobID and wakes the worker.
func enqueueRun(store *storage.Store, worker Notifier, jobID, batchID string, run creative.RunRequest) error {
	body, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encoding run request: %w", err)
	}
	if _, err := store.CreateJob(storage.Job{
		ID:            jobID,
		Label:         run.Label,
		BatchID:       batchID,
		RequestJSON:   string(body),
		ProgressTotal: len(run.Ads),
	}); err != nil {
		return err
	}
	if worker != nil {
		worker.Notify()
	}
	return nil
}

func handleCreateReport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var in ReportRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		run, err := resolveRunRequest(deps.Store, in)
		if errors.Is(err, errInvalidReport) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}

		jobID := uuid.New().String()
		stream, _ := strconv.ParseBool(r.URL.Query().Get("stream"))

		// Subscribe before the job exists so no event is missed.
		var ch *progress.Channel
		if stream {
			var unsub func()
			ch, unsub = deps.Hub.Subscribe(jobID)
			defer unsub()
		}

		if err := enqueueRun(deps.Store, deps.Worker, jobID, in.BatchID, run); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create job: %v", err)
			return
		}

		if stream {
			serveSSE(w, r, deps, ch, nil)
			return
		}

		resp := map[string]string{"job_id": jobID, "status": storage.StatusPending}
		if deps.Tokens != nil {
			resp["stream_token"] = deps.Tokens.Issue(jobID)
		}
		writeJSON(w, http.StatusAccepted, resp)
	}
}

type progressView struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// JobView is the wire shape of a job.
type JobView struct {
	ID        string          `json:"id"`
	Label     string          `json:"label"`
	BatchID   string          `json:"batch_id,omitempty"`
	Status    string          `json:"status"`
	Progress  progressView    `json:"progress"`
	Report    json.RawMessage `json:"report"`
	Error     *string         `json:"error"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func newJobView(j storage.Job) JobView {
	v := JobView{
		ID:        j.ID,
		Label:     j.Label,
		BatchID:   j.BatchID,
		Status:    j.Status,
		Progress:  progressView{Current: j.ProgressCurrent, Total: j.ProgressTotal, Message: j.ProgressMessage},
		Report:    json.RawMessage("null"),
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	if j.ReportJSON != "" {
		v.Report = json.RawMessage(j.ReportJSON)
	}
	if j.Error != "" {
		msg := j.Error
		v.Error = &msg
	}
	return v
}

func handleListJobs(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := storage.JobFilter{
			Status: r.URL.Query().Get("status"),
			Limit:  parseIntParam(r, "limit", 20, 100),
			Offset: parseIntParam(r, "offset", 0, 0),
		}
		jobs, err := deps.Store.ListJobs(f)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list jobs: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, jobSummaries(jobs))
	}
}

func handleGetJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Store.GetJob(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, newJobView(job))
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
