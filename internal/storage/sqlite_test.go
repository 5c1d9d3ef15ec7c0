package storage

import (
	"errors"
	"fmt"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createJob(t *testing.T, s *Store, id string) string {
	t.Helper()
	got, err := s.CreateJob(Job{ID: id, Label: "label " + id, RequestJSON: `{"ads":[]}`, ProgressTotal: 3})
	if err != nil {
		t.Fatalf("CreateJob(%q): %v", id, err)
	}
	return got
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) == 0 || len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_report_jobs_status_created", "idx_report_jobs_created"} {
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count); err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestCreateAndGetJob(t *testing.T) {
	s := openTestStore(t)

	id, err := s.CreateJob(Job{Label: "spring", BatchID: "b1", RequestJSON: `{"label":"spring"}`, ProgressTotal: 7})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if id == "" {
		t.Fatal("CreateJob returned empty id")
	}

	got, err := s.GetJob(id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, StatusPending)
	}
	if got.Label != "spring" || got.BatchID != "b1" {
		t.Errorf("Label/BatchID = %q/%q", got.Label, got.BatchID)
	}
	if got.RequestJSON != `{"label":"spring"}` {
		t.Errorf("RequestJSON = %q", got.RequestJSON)
	}
	if got.ProgressTotal != 7 || got.ProgressCurrent != 0 {
		t.Errorf("progress = %d/%d, want 0/7", got.ProgressCurrent, got.ProgressTotal)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetJob("does-not-exist")
	if err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestClaimNextJob_Empty(t *testing.T) {
	s := openTestStore(t)

	got, err := s.ClaimNextJob()
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestClaimNextJob_OldestFirstAndSkipsRunning(t *testing.T) {
	s := openTestStore(t)
	createJob(t, s, "j-first")
	createJob(t, s, "j-second")

	first, err := s.ClaimNextJob()
	if err != nil || first == nil {
		t.Fatalf("ClaimNextJob first: %v %v", first, err)
	}
	if first.ID != "j-first" || first.Status != StatusRunning {
		t.Errorf("first = %s/%s, want j-first/running", first.ID, first.Status)
	}

	second, err := s.ClaimNextJob()
	if err != nil || second == nil {
		t.Fatalf("ClaimNextJob second: %v %v", second, err)
	}
	if second.ID != "j-second" {
		t.Errorf("second ID = %q, want j-second", second.ID)
	}

	none, err := s.ClaimNextJob()
	if err != nil {
		t.Fatalf("ClaimNextJob third: %v", err)
	}
	if none != nil {
		t.Errorf("expected empty queue, got %s", none.ID)
	}
}

func TestUpdateProgress(t *testing.T) {
	s := openTestStore(t)
	id := createJob(t, s, "j-progress")

	if err := s.UpdateProgress(id, 1, 3, "early"); err == nil {
		t.Error("UpdateProgress on pending job should fail")
	}

	if _, err := s.ClaimNextJob(); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.UpdateProgress(id, 2, 3, "augmented 2 of 3 ads"); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}

	got, err := s.GetJob(id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ProgressCurrent != 2 || got.ProgressTotal != 3 || got.ProgressMessage != "augmented 2 of 3 ads" {
		t.Errorf("progress = %d/%d %q", got.ProgressCurrent, got.ProgressTotal, got.ProgressMessage)
	}

	if err := s.UpdateProgress("missing", 1, 1, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing job: err = %v, want ErrNotFound", err)
	}
}

func TestCompleteJob_Terminal(t *testing.T) {
	s := openTestStore(t)
	id := createJob(t, s, "j-complete")
	if _, err := s.ClaimNextJob(); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	if err := s.CompleteJob(id, `{"meta":{"total_ads":3}}`); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	got, err := s.GetJob(id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != StatusComplete || !got.Finished() {
		t.Errorf("Status = %q, want complete", got.Status)
	}
	if got.ReportJSON != `{"meta":{"total_ads":3}}` {
		t.Errorf("ReportJSON = %q", got.ReportJSON)
	}

	if err := s.FailJob(id, "late"); !errors.Is(err, ErrJobFinished) {
		t.Errorf("FailJob after complete: err = %v, want ErrJobFinished", err)
	}
	if err := s.UpdateProgress(id, 1, 1, "late"); !errors.Is(err, ErrJobFinished) {
		t.Errorf("UpdateProgress after complete: err = %v, want ErrJobFinished", err)
	}
	if err := s.CompleteJob(id, "{}"); !errors.Is(err, ErrJobFinished) {
		t.Errorf("CompleteJob twice: err = %v, want ErrJobFinished", err)
	}
}

func TestFailJob(t *testing.T) {
	s := openTestStore(t)
	id := createJob(t, s, "j-fail")
	if _, err := s.ClaimNextJob(); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	if err := s.FailJob(id, "internal error: boom"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	got, err := s.GetJob(id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", got.Status)
	}
	if got.Error != "internal error: boom" {
		t.Errorf("Error = %q", got.Error)
	}
	if got.ReportJSON != "" {
		t.Errorf("failed job carries a report: %q", got.ReportJSON)
	}
	if err := s.CompleteJob(id, "{}"); !errors.Is(err, ErrJobFinished) {
		t.Errorf("CompleteJob after fail: err = %v, want ErrJobFinished", err)
	}
}

func TestListJobs(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		createJob(t, s, fmt.Sprintf("j-%02d", i))
	}
	if _, err := s.ClaimNextJob(); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	all, err := s.ListJobs(JobFilter{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("got %d jobs, want 5", len(all))
	}
	if all[0].ID != "j-04" {
		t.Errorf("first job = %q, want newest j-04", all[0].ID)
	}
	if all[0].RequestJSON != "" || all[0].ReportJSON != "" {
		t.Error("list should not carry request or report bodies")
	}

	running, err := s.ListJobs(JobFilter{Status: StatusRunning})
	if err != nil {
		t.Fatalf("ListJobs(running): %v", err)
	}
	if len(running) != 1 || running[0].ID != "j-00" {
		t.Errorf("running = %+v, want j-00", running)
	}

	page, err := s.ListJobs(JobFilter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("ListJobs(page): %v", err)
	}
	if len(page) != 2 || page[0].ID != "j-02" || page[1].ID != "j-01" {
		t.Errorf("page = %v", jobIDs(page))
	}
}

func jobIDs(jobs []Job) []string {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	return ids
}

func TestFailOrphanedRunning(t *testing.T) {
	s := openTestStore(t)
	createJob(t, s, "j-orphan")
	createJob(t, s, "j-queued")
	if _, err := s.ClaimNextJob(); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	n, err := s.FailOrphanedRunning("interrupted: worker restarted")
	if err != nil {
		t.Fatalf("FailOrphanedRunning: %v", err)
	}
	if n != 1 {
		t.Errorf("failed %d jobs, want 1", n)
	}

	orphan, _ := s.GetJob("j-orphan")
	if orphan.Status != StatusFailed || orphan.Error != "interrupted: worker restarted" {
		t.Errorf("orphan = %s %q", orphan.Status, orphan.Error)
	}
	queued, _ := s.GetJob("j-queued")
	if queued.Status != StatusPending {
		t.Errorf("queued job status = %q, want pending", queued.Status)
	}
}

func TestBatchRoundTrip(t *testing.T) {
	s := openTestStore(t)

	id, err := s.CreateBatch(Batch{Label: "q1", AdsJSON: `[{"id":"a"}]`, AdCount: 1})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	got, err := s.GetBatch(id)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got.Label != "q1" || got.AdsJSON != `[{"id":"a"}]` || got.AdCount != 1 {
		t.Errorf("batch = %+v", got)
	}

	if _, err := s.GetBatch("nope"); err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}
