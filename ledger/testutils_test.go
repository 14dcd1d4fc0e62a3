package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cloudx-io/rentauction/clock"
	"github.com/cloudx-io/rentauction/core"
	"github.com/cloudx-io/rentauction/eventbus"
)

var (
	testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	landlord  = core.Principal{ID: "landlord_1", Role: core.RoleLandlord}
)

func tenant(id string) core.Principal {
	return core.Principal{ID: id, Role: core.RoleTenant, Wallet: "0x" + id}
}

// fakeTask is a scheduled close that only runs when the test fires it
type fakeTask struct {
	after   time.Duration
	f       func()
	stopped bool
}

func (t *fakeTask) Stop() bool {
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

type fakeScheduler struct {
	mu    sync.Mutex
	tasks []*fakeTask
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Stopper {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := &fakeTask{after: d, f: f}
	s.tasks = append(s.tasks, task)
	return task
}

func (s *fakeScheduler) last(t *testing.T) *fakeTask {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tasks) == 0 {
		t.Fatal("no close timer scheduled")
	}
	return s.tasks[len(s.tasks)-1]
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// fakeJournal records writes and can be told to fail
type fakeJournal struct {
	mu         sync.Mutex
	properties []core.Property
	bids       []core.Bid
	windows    []core.Window
	fail       error
}

func (j *fakeJournal) SaveProperty(_ context.Context, p core.Property) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail != nil {
		return j.fail
	}
	j.properties = append(j.properties, p)
	return nil
}

func (j *fakeJournal) AppendBid(_ context.Context, bid core.Bid, w core.Window) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail != nil {
		return j.fail
	}
	j.bids = append(j.bids, bid)
	j.windows = append(j.windows, w)
	return nil
}

func (j *fakeJournal) SaveWindow(_ context.Context, _ string, w core.Window) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail != nil {
		return j.fail
	}
	j.windows = append(j.windows, w)
	return nil
}

func (j *fakeJournal) setFail(err error) {
	j.mu.Lock()
	j.fail = err
	j.mu.Unlock()
}

var errJournalDown = errors.New("journal unavailable")

type testLedger struct {
	*Ledger
	clock     *clock.Manual
	scheduler *fakeScheduler
	journal   *fakeJournal
	bus       *eventbus.Bus
}

func newTestLedger(t *testing.T, opts ...Option) *testLedger {
	t.Helper()
	tl := &testLedger{
		clock:     clock.NewManual(testStart),
		scheduler: &fakeScheduler{},
		journal:   &fakeJournal{},
		bus:       eventbus.New(),
	}
	base := []Option{
		WithClock(tl.clock),
		WithScheduler(tl.scheduler),
		WithJournal(tl.journal),
		WithPublisher(tl.bus),
	}
	tl.Ledger = New(append(base, opts...)...)
	return tl
}

func (tl *testLedger) listProperty(t *testing.T, id string, basePrice string) core.Property {
	t.Helper()
	p, err := tl.Register(context.Background(), landlord, core.Property{
		ID:        id,
		Name:      "Apartment " + id,
		Address:   "Calle 10 #43-12",
		BasePrice: decimal.RequireFromString(basePrice),
		Currency:  core.CurrencyUSD,
	})
	if err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	return p
}

func (tl *testLedger) bid(id, propertyID, amount string) (core.Bid, error) {
	return tl.SubmitBid(context.Background(), propertyID, tenant(id), decimal.RequireFromString(amount), core.CurrencyUSD)
}

// closeRecorder captures close handler invocations
type closeRecorder struct {
	ch chan string
}

func newCloseRecorder(l *Ledger) *closeRecorder {
	r := &closeRecorder{ch: make(chan string, 16)}
	l.OnClose(func(propertyID string) { r.ch <- propertyID })
	return r
}

func (r *closeRecorder) wait(t *testing.T) string {
	t.Helper()
	select {
	case id := <-r.ch:
		return id
	case <-time.After(time.Second):
		t.Fatal("close handler was not called")
		return ""
	}
}

func (r *closeRecorder) none(t *testing.T) {
	t.Helper()
	select {
	case id := <-r.ch:
		t.Fatalf("unexpected close handler call for %s", id)
	case <-time.After(30 * time.Millisecond):
	}
}
