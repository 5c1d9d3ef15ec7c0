package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/creativemri/internal/creative"
	"github.com/kalambet/creativemri/internal/progress"
	"github.com/kalambet/creativemri/internal/storage"
	"github.com/kalambet/creativemri/internal/tokens"
)

const testToken = "test-token-12345"

const adsJSON = `[
	{"id":"a1","headline":"Save 20% on fresh meal kits","primary_text":"Chef designed recipes delivered to your door every week."},
	{"id":"a2","headline":"Dinner in 15 minutes flat","primary_text":"No shopping and no stress. Try your first box free today."}
]`

type countingNotifier struct{ n atomic.Int32 }

func (c *countingNotifier) Notify() { c.n.Add(1) }

type testApp struct {
	handler http.Handler
	store   *storage.Store
	hub     *progress.Hub
	tokens  *tokens.Store
	worker  *countingNotifier
}

func setupApp(t *testing.T) *testApp {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	app := &testApp{
		store:  store,
		hub:    progress.NewHub(64),
		tokens: tokens.New(time.Minute),
		worker: &countingNotifier{},
	}
	app.handler = NewAppHandler(AppDeps{
		Store:       store,
		Hub:         app.hub,
		Tokens:      app.tokens,
		Worker:      app.worker,
		Token:       testToken,
		PollTimeout: 20 * time.Millisecond,
	})
	return app
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding body %q: %v", rr.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	app := setupApp(t)
	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestNoAuth(t *testing.T) {
	app := setupApp(t)
	for _, path := range []string{"/jobs", "/jobs/x", "/batches/x", "/jobs/x/events"} {
		rr := httptest.NewRecorder()
		app.handler.ServeHTTP(rr, authReq(http.MethodGet, path, "", ""))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", path, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, authReq(http.MethodGet, "/jobs", "", "wrong"))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rr.Code)
	}
	var body map[string]map[string]string
	decodeBody(t, rr, &body)
	if body["error"]["type"] != "authentication_error" {
		t.Errorf("error envelope = %v", body)
	}
}

func TestBatchRoundTrip(t *testing.T) {
	app := setupApp(t)

	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, authReq(http.MethodPost, "/batches", `{"label":"q2","ads":`+adsJSON+`}`, testToken))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var created struct {
		ID  string `json:"id"`
		Ads int    `json:"ads"`
	}
	decodeBody(t, rr, &created)
	if created.ID == "" || created.Ads != 2 {
		t.Fatalf("created = %+v", created)
	}

	rr = httptest.NewRecorder()
	app.handler.ServeHTTP(rr, authReq(http.MethodGet, "/batches/"+created.ID, "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	var got struct {
		Label string              `json:"label"`
		Ads   []creative.AdRecord `json:"ads"`
	}
	decodeBody(t, rr, &got)
	if got.Label != "q2" || len(got.Ads) != 2 || got.Ads[1].ID != "a2" {
		t.Errorf("batch = %+v", got)
	}

	rr = httptest.NewRecorder()
	app.handler.ServeHTTP(rr, authReq(http.MethodGet, "/batches/missing", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing batch: status = %d, want 404", rr.Code)
	}
}

func TestCreateBatch_Empty(t *testing.T) {
	app := setupApp(t)
	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, authReq(http.MethodPost, "/batches", `{"ads":[]}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestCreateReport_InlineAds(t *testing.T) {
	app := setupApp(t)

	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, authReq(http.MethodPost, "/reports", `{"label":"inline","ads":`+adsJSON+`}`, testToken))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	decodeBody(t, rr, &resp)
	if resp["status"] != "pending" || resp["job_id"] == "" || resp["stream_token"] == "" {
		t.Fatalf("response = %v", resp)
	}
	if app.worker.n.Load() != 1 {
		t.Errorf("worker notified %d times, want 1", app.worker.n.Load())
	}

	job, err := app.store.GetJob(resp["job_id"])
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != storage.StatusPending || job.Label != "inline" || job.ProgressTotal != 2 {
		t.Errorf("job = %+v", job)
	}
	var run creative.RunRequest
	if err := json.Unmarshal([]byte(job.RequestJSON), &run); err != nil {
		t.Fatalf("decoding stored request: %v", err)
	}
	if len(run.Ads) != 2 {
		t.Errorf("stored ads = %d, want 2", len(run.Ads))
	}
	if !app.tokens.Valid(resp["stream_token"], resp["job_id"]) {
		t.Error("stream token not registered for job")
	}
}

func TestCreateReport_FromBatch(t *testing.T) {
	app := setupApp(t)
	batchID, err := app.store.CreateBatch(storage.Batch{Label: "stored", AdsJSON: adsJSON, AdCount: 2})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, authReq(http.MethodPost, "/reports", `{"batch_id":"`+batchID+`"}`, testToken))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	decodeBody(t, rr, &resp)

	job, err := app.store.GetJob(resp["job_id"])
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.BatchID != batchID || job.Label != "stored" {
		t.Errorf("job batch/label = %q/%q", job.BatchID, job.Label)
	}
}

func TestCreateReport_BadRequests(t *testing.T) {
	app := setupApp(t)
	cases := map[string]string{
		"no source":   `{"label":"x"}`,
		"both":        `{"batch_id":"b","ads":[]}`,
		"bad batch":   `{"batch_id":"missing"}`,
		"bad json":    `{"ads":`,
		"wrong shape": `{"ads":"nope"}`,
	}
	for name, body := range cases {
		rr := httptest.NewRecorder()
		app.handler.ServeHTTP(rr, authReq(http.MethodPost, "/reports", body, testToken))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400; body = %s", name, rr.Code, rr.Body.String())
		}
	}
	if app.worker.n.Load() != 0 {
		t.Error("worker notified for rejected requests")
	}
}

func TestGetJob(t *testing.T) {
	app := setupApp(t)
	id, _ := app.store.CreateJob(storage.Job{Label: "l", RequestJSON: "{}", ProgressTotal: 4})

	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, authReq(http.MethodGet, "/jobs/"+id, "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var v map[string]any
	decodeBody(t, rr, &v)
	if v["status"] != "pending" || v["report"] != nil || v["error"] != nil {
		t.Errorf("job view = %v", v)
	}
	prog := v["progress"].(map[string]any)
	if prog["total"].(float64) != 4 {
		t.Errorf("progress = %v", prog)
	}

	if _, err := app.store.ClaimNextJob(); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := app.store.CompleteJob(id, `{"meta":{"total_ads":4}}`); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	rr = httptest.NewRecorder()
	app.handler.ServeHTTP(rr, authReq(http.MethodGet, "/jobs/"+id, "", testToken))
	decodeBody(t, rr, &v)
	if v["status"] != "complete" || v["report"] == nil {
		t.Errorf("completed job view = %v", v)
	}

	rr = httptest.NewRecorder()
	app.handler.ServeHTTP(rr, authReq(http.MethodGet, "/jobs/missing", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d, want 404", rr.Code)
	}
}

func TestListJobs_Filter(t *testing.T) {
	app := setupApp(t)
	for i := 0; i < 3; i++ {
		if _, err := app.store.CreateJob(storage.Job{RequestJSON: "{}"}); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}
	if _, err := app.store.ClaimNextJob(); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, authReq(http.MethodGet, "/jobs?status=pending&limit=10", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var views []JobView
	decodeBody(t, rr, &views)
	if len(views) != 2 {
		t.Errorf("pending jobs = %d, want 2", len(views))
	}

	rr = httptest.NewRecorder()
	app.handler.ServeHTTP(rr, authReq(http.MethodGet, "/jobs?status=complete", "", testToken))
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("empty list body = %q, want []", rr.Body.String())
	}
}

func TestParseIntParam(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?a=5&b=-1&c=x&d=500", nil)
	if got := parseIntParam(r, "a", 1, 100); got != 5 {
		t.Errorf("a = %d", got)
	}
	if got := parseIntParam(r, "b", 1, 100); got != 1 {
		t.Errorf("b = %d", got)
	}
	if got := parseIntParam(r, "c", 7, 100); got != 7 {
		t.Errorf("c = %d", got)
	}
	if got := parseIntParam(r, "d", 1, 100); got != 100 {
		t.Errorf("d = %d", got)
	}
	if got := parseIntParam(r, "missing", 3, 0); got != 3 {
		t.Errorf("missing = %d", got)
	}
}
