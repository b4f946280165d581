package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/Relay/internal/circuit"
	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/logwriter"
	"github.com/shaiso/Relay/internal/mq"
	"github.com/shaiso/Relay/internal/provider"
	"github.com/shaiso/Relay/internal/ratelimit"
	"github.com/shaiso/Relay/internal/repo"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeDB struct{ err error }

func (f fakeDB) Ping(context.Context) error { return f.err }

type fakeQueue struct {
	stats *mq.Stats
	err   error
}

func (f fakeQueue) Stats(context.Context) (*mq.Stats, error) { return f.stats, f.err }

type fakeClient struct{ stats provider.Stats }

func (f fakeClient) Stats() provider.Stats { return f.stats }

type fakeLogWriter struct{ stats logwriter.Stats }

func (f fakeLogWriter) Stats() logwriter.Stats { return f.stats }

type fakeRateLimits struct {
	reset []string
	err   error
}

func (f *fakeRateLimits) Stats(_ context.Context, pageID string) (ratelimit.Stats, error) {
	return ratelimit.Stats{PageID: pageID, Current: 3, Max: 50, Remaining: 47, WindowMS: 1000}, f.err
}

func (f *fakeRateLimits) Reset(_ context.Context, pageID string) error {
	f.reset = append(f.reset, pageID)
	return f.err
}

type fakeSummaries map[int64]*domain.RunSummary

func (f fakeSummaries) Summary(_ context.Context, kind domain.JobKind, id int64) (*domain.RunSummary, error) {
	s, ok := f[id]
	if !ok || s.Kind != kind {
		return nil, repo.ErrNotFound
	}
	return s, nil
}

type marked struct {
	kind domain.JobKind
	id   int64
}

type fakePurger struct{ marks []marked }

func (f *fakePurger) Mark(_ context.Context, kind domain.JobKind, id int64) error {
	f.marks = append(f.marks, marked{kind, id})
	return nil
}

func newServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	cfg.Now = func() time.Time { return testNow }
	mux := http.NewServeMux()
	NewHandler(cfg).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string) (int, json.RawMessage) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var env struct {
		Data  json.RawMessage `json:"data"`
		Error *ErrorDetail    `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("%s %s: decode body: %v", method, url, err)
	}
	if env.Error != nil {
		return resp.StatusCode, json.RawMessage(fmt.Sprintf("%q", env.Error.Code))
	}
	return resp.StatusCode, env.Data
}

func TestHealth(t *testing.T) {
	srv := newServer(t, Config{Service: "relay-api"})

	status, body := do(t, http.MethodGet, srv.URL+"/health")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var h HealthResponse
	if err := json.Unmarshal(body, &h); err != nil {
		t.Fatal(err)
	}
	if h.Status != "healthy" || h.Service != "relay-api" || !h.Timestamp.Equal(testNow) {
		t.Errorf("health = %+v", h)
	}
}

func TestHealthDetailed(t *testing.T) {
	ok := newServer(t, Config{DB: fakeDB{}})
	status, body := do(t, http.MethodGet, ok.URL+"/health/detailed")
	if status != http.StatusOK || !strings.Contains(string(body), `"connected"`) {
		t.Errorf("healthy db: status = %d body = %s", status, body)
	}

	down := newServer(t, Config{DB: fakeDB{err: errors.New("connection refused")}})
	status, body = do(t, http.MethodGet, down.URL+"/health/detailed")
	if status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", status)
	}
	var h HealthResponse
	if err := json.Unmarshal(body, &h); err != nil {
		t.Fatal(err)
	}
	if h.Status != "unhealthy" || h.Database != "disconnected" || h.Error == "" {
		t.Errorf("health = %+v", h)
	}
}

func TestRoutesOnlyForProvidedDependencies(t *testing.T) {
	srv := newServer(t, Config{})

	for _, path := range []string{
		"/health/detailed",
		"/stats/queue",
		"/stats/http-client",
		"/stats/circuit-breaker",
		"/stats/log-writer",
		"/stats/rate-limit/p1",
		"/api/v1/runs/1/summary",
	} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404 without dependency", path, resp.StatusCode)
		}
	}
}

func TestQueueStats(t *testing.T) {
	stats := &mq.Stats{
		Ready: mq.QueueStats{Name: mq.QueueReady, Messages: 42, Consumers: 3},
		DLQ:   mq.QueueStats{Name: mq.QueueDLQ, Messages: 1},
	}
	srv := newServer(t, Config{Queue: fakeQueue{stats: stats}})

	status, body := do(t, http.MethodGet, srv.URL+"/stats/queue")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var got mq.Stats
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got != *stats {
		t.Errorf("stats = %+v, want %+v", got, *stats)
	}
}

func TestQueueStats_Error(t *testing.T) {
	srv := newServer(t, Config{Queue: fakeQueue{err: mq.ErrNoChannel}})

	status, body := do(t, http.MethodGet, srv.URL+"/stats/queue")
	if status != http.StatusInternalServerError || string(body) != `"INTERNAL_ERROR"` {
		t.Errorf("status = %d body = %s", status, body)
	}
}

func TestCircuitBreaker(t *testing.T) {
	breaker := circuit.New(circuit.Config{Enabled: true, Threshold: 2, Timeout: time.Minute})
	breaker.RecordFailure("p1")
	breaker.RecordFailure("p1")
	srv := newServer(t, Config{Circuits: breaker})

	status, body := do(t, http.MethodGet, srv.URL+"/stats/circuit-breaker")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var got CircuitBreakerResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if !got.Enabled || got.Threshold != 2 || got.TimeoutMS != 60000 {
		t.Errorf("settings = %+v", got)
	}
	if len(got.Circuits) != 1 || !got.Circuits[0].IsOpen {
		t.Errorf("circuits = %+v", got.Circuits)
	}

	status, _ = do(t, http.MethodPost, srv.URL+"/circuit-breaker/reset/p1")
	if status != http.StatusOK {
		t.Errorf("reset status = %d", status)
	}
	if breaker.IsOpen("p1") {
		t.Error("circuit should be closed after reset")
	}

	status, body = do(t, http.MethodPost, srv.URL+"/circuit-breaker/reset/p1")
	if status != http.StatusNotFound || string(body) != `"NOT_FOUND"` {
		t.Errorf("second reset: status = %d body = %s", status, body)
	}
}

func TestRateLimit(t *testing.T) {
	limits := &fakeRateLimits{}
	srv := newServer(t, Config{RateLimits: limits})

	status, body := do(t, http.MethodGet, srv.URL+"/stats/rate-limit/p7")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var got ratelimit.Stats
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.PageID != "p7" || got.Remaining != 47 {
		t.Errorf("stats = %+v", got)
	}

	status, _ = do(t, http.MethodPost, srv.URL+"/rate-limit/reset/p7")
	if status != http.StatusOK {
		t.Errorf("reset status = %d", status)
	}
	if len(limits.reset) != 1 || limits.reset[0] != "p7" {
		t.Errorf("reset = %v", limits.reset)
	}
}

func TestPerformance(t *testing.T) {
	breaker := circuit.New(circuit.Config{Enabled: true, Threshold: 1})
	breaker.RecordFailure("p1")
	breaker.RecordFailure("p2")
	breaker.Reset("p2")

	srv := newServer(t, Config{
		Queue:     fakeQueue{err: mq.ErrNoChannel},
		Client:    fakeClient{stats: provider.Stats{TotalRequests: 10, Succeeded: 9, Failed: 1}},
		LogWriter: fakeLogWriter{stats: logwriter.Stats{BufferedLogs: 50, FillPercentage: 25}},
		Circuits:  breaker,
	})

	status, body := do(t, http.MethodGet, srv.URL+"/stats/performance")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var got PerformanceResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.Queue != nil || got.Errors["queue"] == "" {
		t.Errorf("queue failure should be reported, got %+v / %v", got.Queue, got.Errors)
	}
	if got.HTTPClient == nil || got.HTTPClient.TotalRequests != 10 {
		t.Errorf("http client = %+v", got.HTTPClient)
	}
	if got.LogWriter == nil || got.LogWriter.Buffered != 50 {
		t.Errorf("log writer = %+v", got.LogWriter)
	}
	if got.CircuitBreaker == nil || got.CircuitBreaker.OpenCircuits != 1 || got.CircuitBreaker.TotalCircuits != 1 {
		t.Errorf("circuit breaker = %+v", got.CircuitBreaker)
	}
}

func TestRunSummary(t *testing.T) {
	summaries := fakeSummaries{
		7: {ID: 7, Kind: domain.JobKindRun, Status: domain.RunStatusFinished,
			Counts: map[domain.LogStatus]int64{domain.LogStatusSent: 9, domain.LogStatusFailed: 1}, Total: 10},
		8: {ID: 8, Kind: domain.JobKindTrigger, Status: domain.RunStatusWaiting},
	}
	srv := newServer(t, Config{Summaries: summaries})

	status, body := do(t, http.MethodGet, srv.URL+"/api/v1/runs/7/summary")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var got domain.RunSummary
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.Total != 10 || got.Counts[domain.LogStatusSent] != 9 {
		t.Errorf("summary = %+v", got)
	}

	status, _ = do(t, http.MethodGet, srv.URL+"/api/v1/trigger-runs/8/summary")
	if status != http.StatusOK {
		t.Errorf("trigger summary status = %d", status)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/runs/8/summary", http.StatusNotFound},
		{"/api/v1/runs/99/summary", http.StatusNotFound},
		{"/api/v1/runs/abc/summary", http.StatusBadRequest},
		{"/api/v1/runs/0/summary", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if status, _ := do(t, http.MethodGet, srv.URL+tt.path); status != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, status, tt.want)
		}
	}
}

func TestPurgeJobs(t *testing.T) {
	purger := &fakePurger{}
	srv := newServer(t, Config{Purger: purger})

	if status, _ := do(t, http.MethodDelete, srv.URL+"/api/v1/admin/jobs/runs/5"); status != http.StatusOK {
		t.Errorf("purge run status = %d", status)
	}
	if status, _ := do(t, http.MethodDelete, srv.URL+"/api/v1/admin/jobs/trigger-runs/6"); status != http.StatusOK {
		t.Errorf("purge trigger run status = %d", status)
	}

	want := []marked{{domain.JobKindRun, 5}, {domain.JobKindTrigger, 6}}
	if len(purger.marks) != len(want) {
		t.Fatalf("marks = %v", purger.marks)
	}
	for i := range want {
		if purger.marks[i] != want[i] {
			t.Errorf("marks[%d] = %v, want %v", i, purger.marks[i], want[i])
		}
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(slog.New(slog.DiscardHandler))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
