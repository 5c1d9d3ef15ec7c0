// Package runner executes report jobs off the request path. A Worker claims
// pending jobs from the store, runs the MRI pipeline, relays every progress
// tick to live subscribers and persists it, then attaches the finished report
// or records the failure.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/creativemri/internal/creative"
	"github.com/kalambet/creativemri/internal/pipeline"
	"github.com/kalambet/creativemri/internal/progress"
	"github.com/kalambet/creativemri/internal/report"
	"github.com/kalambet/creativemri/internal/storage"
)

// OrphanedMessage is recorded on jobs found running at startup.
const OrphanedMessage = "interrupted: worker restarted"

// JobStore abstracts the job state operations the worker needs.
type JobStore interface {
	ClaimNextJob() (*storage.Job, error)
	UpdateProgress(id string, current, total int, message string) error
	CompleteJob(id, reportJSON string) error
	FailJob(id, errMsg string) error
	FailOrphanedRunning(errMsg string) (int64, error)
}

// Analyzer runs the MRI stages for one request.
type Analyzer interface {
	Run(ctx context.Context, req creative.RunRequest, emit pipeline.EmitFunc) (*report.Report, error)
}

// Publisher delivers events to live subscribers of a job.
type Publisher interface {
	Publish(jobID string, ev progress.Event)
}

// Archiver stores a copy of a finished report.
type Archiver interface {
	PutReport(ctx context.Context, jobID string, rep *report.Report) error
}

// Worker processes report jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	analyzer Analyzer
	pub      Publisher
	archive  Archiver
	poll     time.Duration
	wake     chan struct{}
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms. pub may be nil.
func NewWorker(store JobStore, analyzer Analyzer, pub Publisher, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		analyzer: analyzer,
		pub:      pub,
		poll:     pollInterval,
		wake:     make(chan struct{}, 1),
		logger:   slog.Default(),
	}
}

// SetArchive enables archiving of finished reports.
func (w *Worker) SetArchive(a Archiver) {
	w.archive = a
}

// Notify wakes the poll loop early. It never blocks.
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// RecoverOrphans fails jobs left running by a previous process. Call it
// once before Run.
func (w *Worker) RecoverOrphans() (int64, error) {
	n, err := w.store.FailOrphanedRunning(OrphanedMessage)
	if err != nil {
		return 0, fmt.Errorf("failing orphaned jobs: %w", err)
	}
	if n > 0 {
		w.logger.Warn("failed orphaned running jobs", "count", n)
	}
	return n, nil
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob()
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	start := time.Now()
	rep, err := w.execute(ctx, job)
	if err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		w.fail(job.ID, err.Error())
		return true, nil
	}

	body, err := json.Marshal(rep)
	if err != nil {
		w.fail(job.ID, fmt.Sprintf("internal error: encoding report: %v", err))
		return true, nil
	}
	if err := w.store.CompleteJob(job.ID, string(body)); err != nil {
		w.logger.Error("saving report failed", "job_id", job.ID, "error", err)
		w.fail(job.ID, fmt.Sprintf("internal error: saving report: %v", err))
		return true, nil
	}
	w.publish(job.ID, progress.Event{Stage: progress.StageDone, Report: rep})
	w.logger.Info("job complete", "job_id", job.ID, "ads", rep.Meta.TotalAds, "duration_ms", time.Since(start).Milliseconds())

	if w.archive != nil {
		if err := w.archive.PutReport(ctx, job.ID, rep); err != nil {
			w.logger.Warn("archiving report failed", "job_id", job.ID, "error", err)
		}
	}
	return true, nil
}

// execute runs the pipeline for job. A panic anywhere on this goroutine
// becomes an "internal error" failure.
func (w *Worker) execute(ctx context.Context, job *storage.Job) (rep *report.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job panicked", "job_id", job.ID, "panic", r)
			rep, err = nil, fmt.Errorf("internal error: %v", r)
		}
	}()

	var req creative.RunRequest
	if err := json.Unmarshal([]byte(job.RequestJSON), &req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	w.relay(job.ID, progress.Event{Stage: progress.StageStarting, Current: 0, Total: len(req.Ads), Message: "starting"})
	return w.analyzer.Run(ctx, req, func(ev progress.Event) {
		w.relay(job.ID, ev)
	})
}

// relay forwards a tick to live subscribers first, then persists it.
func (w *Worker) relay(jobID string, ev progress.Event) {
	w.publish(jobID, ev)
	if err := w.store.UpdateProgress(jobID, ev.Current, ev.Total, ev.Message); err != nil {
		w.logger.Warn("persisting progress failed", "job_id", jobID, "stage", ev.Stage, "error", err)
	}
}

func (w *Worker) fail(jobID, msg string) {
	if err := w.store.FailJob(jobID, msg); err != nil {
		w.logger.Error("failed to mark job as failed", "job_id", jobID, "error", err)
	}
	w.publish(jobID, progress.Event{Error: msg})
}

func (w *Worker) publish(jobID string, ev progress.Event) {
	if w.pub != nil {
		w.pub.Publish(jobID, ev)
	}
}
