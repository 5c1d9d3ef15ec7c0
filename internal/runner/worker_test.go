package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/creativemri/internal/augment"
	"github.com/kalambet/creativemri/internal/classify"
	"github.com/kalambet/creativemri/internal/creative"
	"github.com/kalambet/creativemri/internal/llm"
	"github.com/kalambet/creativemri/internal/pipeline"
	"github.com/kalambet/creativemri/internal/progress"
	"github.com/kalambet/creativemri/internal/report"
	"github.com/kalambet/creativemri/internal/storage"
)

type failingModel struct{}

func (failingModel) Execute(context.Context, string, string, string) (llm.Result, error) {
	return llm.Result{}, errors.New("provider unavailable")
}

type panicAnalyzer struct{}

func (panicAnalyzer) Run(context.Context, creative.RunRequest, pipeline.EmitFunc) (*report.Report, error) {
	panic("malformed ad record")
}

type mockArchive struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (m *mockArchive) PutReport(_ context.Context, jobID string, _ *report.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, jobID)
	return m.err
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func enqueueRun(t *testing.T, store *storage.Store, id string, n int) {
	t.Helper()
	req := creative.RunRequest{Label: "test"}
	for i := 0; i < n; i++ {
		req.Ads = append(req.Ads, creative.AdRecord{
			ID:          fmt.Sprintf("ad-%d", i),
			Headline:    fmt.Sprintf("Get %d%% off your first box", 10+i),
			PrimaryText: "Fresh meals delivered weekly. Join thousands of happy customers today.",
		})
	}
	body, _ := json.Marshal(req)
	if _, err := store.CreateJob(storage.Job{ID: id, Label: req.Label, RequestJSON: string(body), ProgressTotal: n}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
}

func failingPipeline() *pipeline.Pipeline {
	return pipeline.New(classify.New(classify.DefaultCeilings), nil, augment.New(failingModel{}, augment.Options{}), nil)
}

func drain(t *testing.T, ch *progress.Channel) []progress.Event {
	t.Helper()
	var out []progress.Event
	for {
		ev, err := ch.Next(context.Background(), time.Second)
		if errors.Is(err, progress.ErrClosed) {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, ev)
	}
}

func TestWorker_CompletesWithFailingModel(t *testing.T) {
	store := openTestStore(t)
	enqueueRun(t, store, "job-1", 10)

	hub := progress.NewHub(256)
	ch, unsub := hub.Subscribe("job-1")
	defer unsub()
	arch := &mockArchive{}

	w := NewWorker(store, failingPipeline(), hub, 0)
	w.SetArchive(arch)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}

	job, err := store.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != storage.StatusComplete {
		t.Fatalf("status = %q, want complete (error %q)", job.Status, job.Error)
	}
	var rep report.Report
	if err := json.Unmarshal([]byte(job.ReportJSON), &rep); err != nil {
		t.Fatalf("decoding stored report: %v", err)
	}
	if rep.Meta.TotalAds != 10 {
		t.Errorf("total_ads = %d, want 10", rep.Meta.TotalAds)
	}
	for _, ad := range rep.Ads {
		if ad.LLM != nil {
			t.Errorf("ad %s: llm block present with failing model", ad.ID)
		}
	}

	events := drain(t, ch)
	if len(events) == 0 {
		t.Fatal("no events streamed")
	}
	if first := events[0]; first.Stage != progress.StageStarting || first.Current != 0 || first.Total != 10 || first.Message != "starting" {
		t.Errorf("first event = %+v", first)
	}
	last := events[len(events)-1]
	if last.Stage != progress.StageDone || last.Report == nil {
		t.Errorf("terminal event = %+v", last)
	}

	prev := -1
	var finalAug progress.Event
	for _, ev := range events {
		if ev.Stage != progress.StageAugment {
			continue
		}
		if ev.Current < prev {
			t.Fatalf("augment current went backwards: %d after %d", ev.Current, prev)
		}
		prev = ev.Current
		finalAug = ev
	}
	if finalAug.Current != finalAug.Total || finalAug.Total != 10 {
		t.Errorf("final augment tick = %d/%d, want 10/10", finalAug.Current, finalAug.Total)
	}

	if len(arch.keys) != 1 || arch.keys[0] != "job-1" {
		t.Errorf("archived = %v, want [job-1]", arch.keys)
	}
}

func TestWorker_PanicFailsJob(t *testing.T) {
	store := openTestStore(t)
	enqueueRun(t, store, "job-panic", 2)

	hub := progress.NewHub(16)
	ch, unsub := hub.Subscribe("job-panic")
	defer unsub()

	w := NewWorker(store, panicAnalyzer{}, hub, 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}

	job, err := store.GetJob("job-panic")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != storage.StatusFailed {
		t.Fatalf("status = %q, want failed", job.Status)
	}
	if len(job.Error) < len("internal error: ") || job.Error[:len("internal error: ")] != "internal error: " {
		t.Errorf("error = %q, want internal error prefix", job.Error)
	}
	if job.ReportJSON != "" {
		t.Error("failed job should have no report")
	}

	events := drain(t, ch)
	if last := events[len(events)-1]; last.Error != job.Error {
		t.Errorf("terminal event error = %q, want %q", last.Error, job.Error)
	}
}

// lockedStore refuses to save reports, as a busy database would.
type lockedStore struct {
	*storage.Store
}

func (lockedStore) CompleteJob(string, string) error {
	return errors.New("database is locked")
}

func TestWorker_CompleteFailureFailsJob(t *testing.T) {
	store := openTestStore(t)
	enqueueRun(t, store, "job-locked", 2)

	hub := progress.NewHub(64)
	ch, unsub := hub.Subscribe("job-locked")
	defer unsub()
	arch := &mockArchive{}

	w := NewWorker(lockedStore{store}, failingPipeline(), hub, 0)
	w.SetArchive(arch)
	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}

	job, err := store.GetJob("job-locked")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != storage.StatusFailed {
		t.Fatalf("status = %q, want failed", job.Status)
	}
	if want := "internal error: saving report: database is locked"; job.Error != want {
		t.Errorf("error = %q, want %q", job.Error, want)
	}

	events := drain(t, ch)
	if len(events) == 0 {
		t.Fatal("no events streamed")
	}
	last := events[len(events)-1]
	if last.Error != job.Error || last.Report != nil {
		t.Errorf("terminal event = %+v, want error %q", last, job.Error)
	}
	if len(arch.keys) != 0 {
		t.Errorf("archived %v for an unsaved report", arch.keys)
	}
}

func TestWorker_InvalidRequest(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.CreateJob(storage.Job{ID: "job-bad", RequestJSON: "{not json"}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	w := NewWorker(store, failingPipeline(), nil, 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	job, _ := store.GetJob("job-bad")
	if job.Status != storage.StatusFailed {
		t.Errorf("status = %q, want failed", job.Status)
	}
}

func TestWorker_ArchiveFailureDoesNotFailJob(t *testing.T) {
	store := openTestStore(t)
	enqueueRun(t, store, "job-arch", 1)

	w := NewWorker(store, failingPipeline(), nil, 0)
	w.SetArchive(&mockArchive{err: errors.New("bucket gone")})
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	job, _ := store.GetJob("job-arch")
	if job.Status != storage.StatusComplete {
		t.Errorf("status = %q, want complete", job.Status)
	}
}

func TestWorker_PersistsProgressWithoutSubscriber(t *testing.T) {
	store := openTestStore(t)
	enqueueRun(t, store, "job-poll", 3)

	w := NewWorker(store, failingPipeline(), progress.NewHub(4), 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	job, _ := store.GetJob("job-poll")
	if job.Status != storage.StatusComplete {
		t.Fatalf("status = %q, want complete", job.Status)
	}
	if job.ProgressCurrent != job.ProgressTotal || job.ProgressTotal != 1 {
		t.Errorf("last persisted progress = %d/%d, want synthesize 1/1", job.ProgressCurrent, job.ProgressTotal)
	}
}

func TestWorker_RunOnceEmptyQueue(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, failingPipeline(), nil, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if didWork {
		t.Error("RunOnce returned true on an empty queue")
	}
}

func TestWorker_RecoverOrphans(t *testing.T) {
	store := openTestStore(t)
	enqueueRun(t, store, "job-orphan", 1)
	if _, err := store.ClaimNextJob(); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	w := NewWorker(store, failingPipeline(), nil, 0)
	n, err := w.RecoverOrphans()
	if err != nil {
		t.Fatalf("RecoverOrphans: %v", err)
	}
	if n != 1 {
		t.Errorf("recovered %d, want 1", n)
	}
	job, _ := store.GetJob("job-orphan")
	if job.Status != storage.StatusFailed || job.Error != OrphanedMessage {
		t.Errorf("job = %s %q", job.Status, job.Error)
	}
}

func TestWorker_RunStopsOnCancelAndWakesOnNotify(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, failingPipeline(), nil, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	enqueueRun(t, store, "job-wake", 1)
	w.Notify()
	w.Notify()

	deadline := time.Now().Add(3 * time.Second)
	for {
		job, err := store.GetJob("job-wake")
		if err == nil && job.Finished() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job not processed after Notify")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
