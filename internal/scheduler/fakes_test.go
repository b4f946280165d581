package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/engine"
	"github.com/shaiso/Relay/internal/repo"
)

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func testEngine() *engine.Engine {
	return &engine.Engine{
		Now:  func() time.Time { return testNow },
		Rand: func() float64 { return 0 },
	}
}

func fixedNow() time.Time { return testNow }

const waitFlowJSON = `{
	"nodes": [
		{"id": "start", "type": "start"},
		{"id": "a", "type": "text", "data": {"text": "Hi {{USER_ID}}"}},
		{"id": "w", "type": "wait", "data": {"waitTime": 10, "waitUnit": "minutes"}},
		{"id": "b", "type": "text", "data": {"text": "Bye"}},
		{"id": "end", "type": "end"}
	],
	"connections": [
		{"from": "start", "to": "a"},
		{"from": "a", "to": "w"},
		{"from": "w", "to": "b"},
		{"from": "b", "to": "end"}
	]
}`

const twoTextsFlowJSON = `{
	"nodes": [
		{"id": "start", "type": "start"},
		{"id": "a", "type": "text", "data": {"text": "one"}},
		{"id": "b", "type": "text", "data": {"text": "two"}},
		{"id": "end", "type": "end"}
	],
	"connections": [
		{"from": "start", "to": "a"},
		{"from": "a", "to": "b"},
		{"from": "b", "to": "end"}
	]
}`

const emptyFlowJSON = `{
	"nodes": [{"id": "start", "type": "start"}],
	"connections": []
}`

type failedCall struct {
	id      int64
	details json.RawMessage
}

type savedCall struct {
	id       int64
	progress domain.Progress
}

// statusTable хранит статусы runs и захватывает их так же, как
// UPDATE ... WHERE id = $1 AND status = $2: успешен ровно один захват.
type statusTable struct {
	mu       sync.Mutex
	statuses map[int64]domain.RunStatus
}

func newStatusTable(statuses map[int64]domain.RunStatus) *statusTable {
	return &statusTable{statuses: statuses}
}

func (t *statusTable) claim(id int64, from domain.RunStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.statuses[id]; !ok || cur != from {
		return false
	}
	t.statuses[id] = domain.RunStatusRunning
	return true
}

func (t *statusTable) save(id int64, to domain.RunStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.statuses[id] != domain.RunStatusRunning {
		return repo.ErrInvalidState
	}
	t.statuses[id] = to
	return nil
}

func (t *statusTable) status(id int64) domain.RunStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statuses[id]
}

// listBarrier задерживает ListDue, пока все циклы не получат
// одинаковый снимок due runs.
func listBarrier(wg *sync.WaitGroup) {
	if wg != nil {
		wg.Done()
		wg.Wait()
	}
}

type fakeRunStore struct {
	due      []domain.Run
	claimOK  bool
	claimErr error
	saveErr  error

	// table, если задана, заменяет claimOK условным захватом.
	table  *statusTable
	listed *sync.WaitGroup

	mu     sync.Mutex
	claims []int64
	wins   []int64
	saved  []savedCall
	failed []failedCall
}

func (f *fakeRunStore) ListDue(_ context.Context, _ time.Time, _ int) ([]domain.Run, error) {
	listBarrier(f.listed)
	return f.due, nil
}

func (f *fakeRunStore) Claim(_ context.Context, id int64, from domain.RunStatus, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims = append(f.claims, id)
	if f.claimErr != nil {
		return false, f.claimErr
	}
	ok := f.claimOK
	if f.table != nil {
		ok = f.table.claim(id, from)
	}
	if ok {
		f.wins = append(f.wins, id)
	}
	return ok, nil
}

func (f *fakeRunStore) SaveProgress(_ context.Context, id int64, p domain.Progress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.table != nil {
		if err := f.table.save(id, p.Status); err != nil {
			return err
		}
	}
	f.saved = append(f.saved, savedCall{id, p})
	return nil
}

func (f *fakeRunStore) MarkFailed(_ context.Context, id int64, details json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, failedCall{id, details})
	return nil
}

type cancelCall struct {
	id     int64
	reason string
}

type fakeTriggerStore struct {
	due     []domain.TriggerRun
	claimOK bool
	saveErr error

	table  *statusTable
	listed *sync.WaitGroup

	mu        sync.Mutex
	wins      []int64
	saved     []savedCall
	failed    []failedCall
	cancelled []cancelCall
}

func (f *fakeTriggerStore) ListDue(_ context.Context, _ time.Time, _ int) ([]domain.TriggerRun, error) {
	listBarrier(f.listed)
	return f.due, nil
}

func (f *fakeTriggerStore) Claim(_ context.Context, id int64, from domain.RunStatus, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ok := f.claimOK
	if f.table != nil {
		ok = f.table.claim(id, from)
	}
	if ok {
		f.wins = append(f.wins, id)
	}
	return ok, nil
}

func (f *fakeTriggerStore) SaveProgress(_ context.Context, id int64, p domain.Progress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.table != nil {
		if err := f.table.save(id, p.Status); err != nil {
			return err
		}
	}
	f.saved = append(f.saved, savedCall{id, p})
	return nil
}

func (f *fakeTriggerStore) MarkFailed(_ context.Context, id int64, details json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, failedCall{id, details})
	return nil
}

func (f *fakeTriggerStore) Cancel(_ context.Context, id int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, cancelCall{id, reason})
	return nil
}

type fakeFlows struct {
	graphs map[uuid.UUID]string

	mu    sync.Mutex
	calls int
}

func (f *fakeFlows) GetByID(_ context.Context, id uuid.UUID) (*domain.FlowRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	g, ok := f.graphs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &domain.FlowRecord{ID: id, Graph: json.RawMessage(g), IsActive: true}, nil
}

// fakePages хранит токен по page id; отсутствующая страница — ErrNotFound.
type fakePages map[string]string

func (f fakePages) GetActive(_ context.Context, pageID, ownerUserID string, _ time.Time) (*domain.Page, error) {
	token, ok := f[pageID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &domain.Page{PageID: pageID, UserID: ownerUserID, AccessToken: token, IsActive: true}, nil
}

// fakeSubscribers — подписчики страниц с изменяемой активностью.
// ListActive ведёт себя как keyset выборка по user_id.
type fakeSubscribers struct {
	mu       sync.Mutex
	byPage   map[string][]string
	inactive map[string]bool // pageID/userID
	calls    int
}

func (f *fakeSubscribers) ListActive(_ context.Context, pageID, afterUserID string, limit int) ([]domain.Subscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	all := append([]string(nil), f.byPage[pageID]...)
	sort.Strings(all)

	var subs []domain.Subscriber
	for _, u := range all {
		if u <= afterUserID || f.inactive[pageID+"/"+u] {
			continue
		}
		subs = append(subs, domain.Subscriber{PageID: pageID, UserID: u})
		if len(subs) == limit {
			break
		}
	}
	return subs, nil
}

func (f *fakeSubscribers) deactivate(pageID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inactive == nil {
		f.inactive = make(map[string]bool)
	}
	f.inactive[pageID+"/"+userID] = true
}

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]domain.Job
	err     error

	// onPublish вызывается после приёма пачки, как воркер, который уже
	// начал доставлять jobs.
	onPublish func(jobs []domain.Job)
}

func (f *fakePublisher) PublishJobs(_ context.Context, jobs []domain.Job) error {
	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return f.err
	}
	batch := append([]domain.Job(nil), jobs...)
	f.batches = append(f.batches, batch)
	hook := f.onPublish
	f.mu.Unlock()

	if hook != nil {
		hook(batch)
	}
	return nil
}

func (f *fakePublisher) jobs() []domain.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []domain.Job
	for _, b := range f.batches {
		all = append(all, b...)
	}
	return all
}

func users(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("u%d", i+1)
	}
	return out
}

func jobText(job domain.Job) string {
	var doc struct {
		Message struct {
			Text string `json:"text"`
		} `json:"message"`
	}
	_ = json.Unmarshal(job.Message, &doc)
	return doc.Message.Text
}
