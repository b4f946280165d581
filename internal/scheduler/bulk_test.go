package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/repo"
)

type bulkFixture struct {
	runs      *fakeRunStore
	flows     *fakeFlows
	subs      *fakeSubscribers
	publisher *fakePublisher
	proc      *BulkProcessor
}

func newBulkFixture(flowID uuid.UUID, graph string, pages fakePages, subs map[string][]string) *bulkFixture {
	f := &bulkFixture{
		runs:      &fakeRunStore{claimOK: true},
		flows:     &fakeFlows{graphs: map[uuid.UUID]string{flowID: graph}},
		subs:      &fakeSubscribers{byPage: subs},
		publisher: &fakePublisher{},
	}
	f.proc = NewBulkProcessor(BulkConfig{
		Runs:         f.runs,
		Flows:        f.flows,
		Pages:        pages,
		Subscribers:  f.subs,
		Publisher:    f.publisher,
		Engine:       testEngine(),
		PageSize:     2,
		MessageDelay: 2 * time.Second,
		Now:          fixedNow,
	})
	return f
}

func TestBulkProcessor_EnqueuesAndWaits(t *testing.T) {
	flowID := uuid.New()
	f := newBulkFixture(flowID, waitFlowJSON,
		fakePages{"p1": "tok1"},
		map[string][]string{"p1": users(3), "p2": users(5)},
	)
	f.runs.due = []domain.Run{{
		ID: 7, UserID: "owner", FlowID: flowID, Status: domain.RunStatusQueued,
		PageIDs: []string{"p1", "p2"},
	}}

	if err := f.proc.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}

	jobs := f.publisher.jobs()
	if len(jobs) != 3 {
		t.Fatalf("published %d jobs, want 3 (p2 has no credential)", len(jobs))
	}
	for i, job := range jobs {
		wantUser := users(3)[i]
		if job.UserID != wantUser || job.PageID != "p1" || job.AccessToken != "tok1" {
			t.Errorf("job %d = %+v", i, job)
		}
		if got := jobText(job); got != "Hi "+wantUser {
			t.Errorf("job %d text = %q, want placeholder substituted", i, got)
		}
		if job.Priority != domain.PriorityBulk || job.Kind != domain.JobKindRun || job.RunID != 7 {
			t.Errorf("job %d routing fields = %+v", i, job)
		}
		if job.Delay != 0 || job.MessageIndex != 0 {
			t.Errorf("first message should not be delayed, got %v", job.Delay)
		}
	}

	if f.subs.calls != 2 {
		t.Errorf("subscriber pages fetched = %d, want 2 (page size 2, 3 subscribers)", f.subs.calls)
	}

	if len(f.runs.saved) != 1 {
		t.Fatalf("SaveProgress calls = %d, want 1", len(f.runs.saved))
	}
	p := f.runs.saved[0].progress
	if p.Status != domain.RunStatusWaiting || p.NextStepID != "b" || p.LastStepID != "a" {
		t.Errorf("progress = %+v", p)
	}
	if p.NextStepAt == nil || !p.NextStepAt.Equal(testNow.Add(10*time.Minute)) {
		t.Errorf("NextStepAt = %v, want now+10m", p.NextStepAt)
	}
}

func TestBulkProcessor_ResumeFinishes(t *testing.T) {
	flowID := uuid.New()
	f := newBulkFixture(flowID, waitFlowJSON, fakePages{"p1": "tok"}, map[string][]string{"p1": {"u1"}})
	f.runs.due = []domain.Run{{
		ID: 1, FlowID: flowID, Status: domain.RunStatusWaiting,
		NextStepID: "b", PageIDs: []string{"p1"},
	}}

	if err := f.proc.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}

	jobs := f.publisher.jobs()
	if len(jobs) != 1 || jobText(jobs[0]) != "Bye" {
		t.Fatalf("jobs = %+v, want one Bye", jobs)
	}
	p := f.runs.saved[0].progress
	if p.Status != domain.RunStatusFinished || p.CompletedAt == nil {
		t.Errorf("progress = %+v, want finished with completed_at", p)
	}
	if p.NextStepAt != nil {
		t.Error("finished run must not carry next_step_at")
	}
}

func TestBulkProcessor_MessageDelaysKeepOrder(t *testing.T) {
	flowID := uuid.New()
	f := newBulkFixture(flowID, twoTextsFlowJSON, fakePages{"p1": "tok"}, map[string][]string{"p1": {"u1", "u2"}})
	f.runs.due = []domain.Run{{ID: 1, FlowID: flowID, Status: domain.RunStatusQueued, PageIDs: []string{"p1"}}}

	if err := f.proc.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}

	jobs := f.publisher.jobs()
	if len(jobs) != 4 {
		t.Fatalf("jobs = %d, want 4", len(jobs))
	}
	for _, job := range jobs {
		want := time.Duration(job.MessageIndex) * 2 * time.Second
		if job.Delay != want {
			t.Errorf("%s message %d delay = %v, want %v", job.UserID, job.MessageIndex, job.Delay, want)
		}
	}
	if jobText(jobs[0]) != "one" || jobText(jobs[1]) != "two" {
		t.Errorf("messages out of order: %q, %q", jobText(jobs[0]), jobText(jobs[1]))
	}
}

func TestBulkProcessor_PublishesInChunks(t *testing.T) {
	flowID := uuid.New()
	f := newBulkFixture(flowID, twoTextsFlowJSON, fakePages{"p1": "tok"}, map[string][]string{"p1": users(5)})
	f.proc.publishChunk = 4
	f.runs.due = []domain.Run{{ID: 1, FlowID: flowID, Status: domain.RunStatusQueued, PageIDs: []string{"p1"}}}

	if err := f.proc.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}

	if got := len(f.publisher.jobs()); got != 10 {
		t.Fatalf("jobs = %d, want 10", got)
	}
	if len(f.publisher.batches) != 3 {
		t.Errorf("batches = %d, want 3", len(f.publisher.batches))
	}
}

func TestBulkProcessor_LostClaimSkips(t *testing.T) {
	flowID := uuid.New()
	f := newBulkFixture(flowID, waitFlowJSON, fakePages{"p1": "tok"}, map[string][]string{"p1": {"u1"}})
	f.runs.claimOK = false
	f.runs.due = []domain.Run{{ID: 3, FlowID: flowID, Status: domain.RunStatusQueued, PageIDs: []string{"p1"}}}

	if err := f.proc.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}

	if f.flows.calls != 0 || len(f.publisher.jobs()) != 0 {
		t.Error("lost claim must not traverse or publish")
	}
	if len(f.runs.saved) != 0 || len(f.runs.failed) != 0 {
		t.Error("lost claim must not touch run state")
	}
}

func TestBulkProcessor_ClaimErrorDoesNotFail(t *testing.T) {
	flowID := uuid.New()
	f := newBulkFixture(flowID, waitFlowJSON, fakePages{}, nil)
	f.runs.claimErr = errors.New("connection reset")
	f.runs.due = []domain.Run{{ID: 3, FlowID: flowID, Status: domain.RunStatusQueued}}

	if err := f.proc.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}
	if len(f.runs.failed) != 0 {
		t.Error("claim error is retried next cycle, run must not be failed")
	}
}

func TestBulkProcessor_MissingFlowMarksFailed(t *testing.T) {
	f := newBulkFixture(uuid.New(), waitFlowJSON, fakePages{}, nil)
	f.runs.due = []domain.Run{{ID: 9, FlowID: uuid.New(), Status: domain.RunStatusQueued}}

	if err := f.proc.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}

	if len(f.runs.failed) != 1 || f.runs.failed[0].id != 9 {
		t.Fatalf("failed = %+v, want run 9", f.runs.failed)
	}
	var summary map[string]string
	if err := json.Unmarshal(f.runs.failed[0].details, &summary); err != nil {
		t.Fatalf("error summary is not JSON: %v", err)
	}
	if !strings.Contains(summary["error"], "not found") {
		t.Errorf("error summary = %q", summary["error"])
	}
	if len(f.runs.saved) != 0 {
		t.Error("failed run must not save progress")
	}
}

func TestBulkProcessor_InvalidFlowMarksFailed(t *testing.T) {
	flowID := uuid.New()
	f := newBulkFixture(flowID, `{"nodes":[{"id":"a","type":"text","data":{"text":"x"}}]}`, fakePages{}, nil)
	f.runs.due = []domain.Run{{ID: 2, FlowID: flowID, Status: domain.RunStatusQueued}}

	if err := f.proc.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}
	if len(f.runs.failed) != 1 {
		t.Fatalf("flow without start node should fail the run")
	}
}

func TestBulkProcessor_PublishErrorMarksFailed(t *testing.T) {
	flowID := uuid.New()
	f := newBulkFixture(flowID, waitFlowJSON, fakePages{"p1": "tok"}, map[string][]string{"p1": {"u1"}})
	f.publisher.err = errors.New("channel closed")
	f.runs.due = []domain.Run{{ID: 4, FlowID: flowID, Status: domain.RunStatusQueued, PageIDs: []string{"p1"}}}

	if err := f.proc.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}
	if len(f.runs.failed) != 1 || len(f.runs.saved) != 0 {
		t.Errorf("failed = %d, saved = %d", len(f.runs.failed), len(f.runs.saved))
	}
}

func TestBulkProcessor_StateChangedKeepsRun(t *testing.T) {
	flowID := uuid.New()
	f := newBulkFixture(flowID, waitFlowJSON, fakePages{"p1": "tok"}, map[string][]string{"p1": {"u1"}})
	f.runs.saveErr = repo.ErrInvalidState
	f.runs.due = []domain.Run{{ID: 4, FlowID: flowID, Status: domain.RunStatusQueued, PageIDs: []string{"p1"}}}

	if err := f.proc.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}
	if len(f.runs.failed) != 0 {
		t.Error("run cancelled concurrently must not be overwritten with failed")
	}
}

func TestBulkProcessor_WaitWithoutNextStepFinishes(t *testing.T) {
	flowID := uuid.New()
	f := newBulkFixture(flowID, waitFlowJSON, fakePages{"p1": "tok"}, map[string][]string{"p1": {"u1"}})
	f.runs.due = []domain.Run{{ID: 5, FlowID: flowID, Status: domain.RunStatusWaiting, PageIDs: []string{"p1"}}}

	if err := f.proc.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}

	if len(f.publisher.jobs()) != 0 {
		t.Error("flow must not restart from start node")
	}
	if len(f.runs.saved) != 1 || f.runs.saved[0].progress.Status != domain.RunStatusFinished {
		t.Errorf("saved = %+v, want finished", f.runs.saved)
	}
}

func TestBulkProcessor_DeactivationDuringEnqueueSkipsNobody(t *testing.T) {
	flowID := uuid.New()
	f := newBulkFixture(flowID, waitFlowJSON, fakePages{"p1": "tok"}, map[string][]string{"p1": users(6)})
	f.proc.publishChunk = 2
	// Воркер получает 551 на первого получателя каждой пачки.
	f.publisher.onPublish = func(jobs []domain.Job) {
		f.subs.deactivate(jobs[0].PageID, jobs[0].UserID)
	}
	f.runs.due = []domain.Run{{ID: 1, FlowID: flowID, Status: domain.RunStatusQueued, PageIDs: []string{"p1"}}}

	if err := f.proc.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}

	seen := make(map[string]int)
	for _, job := range f.publisher.jobs() {
		seen[job.UserID]++
	}
	for _, u := range users(6) {
		if seen[u] != 1 {
			t.Errorf("subscriber %s enqueued %d times, want 1", u, seen[u])
		}
	}
	if len(f.runs.saved) != 1 {
		t.Errorf("SaveProgress calls = %d, want 1", len(f.runs.saved))
	}
}

func TestBulkProcessor_ConcurrentCyclesClaimOnce(t *testing.T) {
	flowID := uuid.New()
	f := newBulkFixture(flowID, waitFlowJSON, fakePages{"p1": "tok"}, map[string][]string{"p1": {"u1", "u2"}})
	run := domain.Run{ID: 7, FlowID: flowID, Status: domain.RunStatusQueued, PageIDs: []string{"p1"}}
	f.runs.due = []domain.Run{run}
	f.runs.table = newStatusTable(map[int64]domain.RunStatus{run.ID: domain.RunStatusQueued})
	f.runs.listed = &sync.WaitGroup{}
	f.runs.listed.Add(2)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.proc.Cycle(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Cycle() error = %v", err)
		}
	}

	if len(f.runs.claims) != 2 {
		t.Fatalf("claim attempts = %d, want 2", len(f.runs.claims))
	}
	if len(f.runs.wins) != 1 {
		t.Fatalf("successful claims = %d, want exactly 1", len(f.runs.wins))
	}
	if len(f.publisher.batches) != 1 || len(f.publisher.jobs()) != 2 {
		t.Errorf("batches = %d, jobs = %d, want one batch of 2", len(f.publisher.batches), len(f.publisher.jobs()))
	}
	if len(f.runs.saved) != 1 || len(f.runs.failed) != 0 {
		t.Errorf("saved = %d, failed = %d, want 1 and 0", len(f.runs.saved), len(f.runs.failed))
	}
	if got := f.runs.table.status(run.ID); got != domain.RunStatusWaiting {
		t.Errorf("status = %s, want waiting", got)
	}
}

func TestBulkProcessor_ClaimUsesListedStatus(t *testing.T) {
	flowID := uuid.New()
	f := newBulkFixture(flowID, waitFlowJSON, fakePages{"p1": "tok"}, map[string][]string{"p1": {"u1"}})
	// Снимок ListDue устарел: run уже продвинут другим планировщиком.
	f.runs.due = []domain.Run{{ID: 8, FlowID: flowID, Status: domain.RunStatusQueued, PageIDs: []string{"p1"}}}
	f.runs.table = newStatusTable(map[int64]domain.RunStatus{8: domain.RunStatusWaiting})

	if err := f.proc.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}
	if len(f.runs.wins) != 0 || len(f.publisher.jobs()) != 0 || len(f.runs.saved) != 0 {
		t.Error("stale queued snapshot must not claim a waiting run")
	}
}
