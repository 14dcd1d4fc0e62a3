// Package ledger is the authoritative record of properties, their bidding
// windows and accepted bids.
//
// Every property has its own critical section: bid acceptance, window
// transitions and the journal append for a property happen under one mutex,
// while different properties proceed in parallel.
package ledger

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/rentauction/clock"
	"github.com/cloudx-io/rentauction/core"
	"github.com/cloudx-io/rentauction/eventbus"
	"github.com/cloudx-io/rentauction/marketapi"
)

// Journal persists ledger mutations. Calls are made while the property is
// locked; a failed call leaves the in-memory state untouched.
type Journal interface {
	SaveProperty(ctx context.Context, property core.Property) error
	// AppendBid stores an accepted bid together with the window it leaves behind.
	AppendBid(ctx context.Context, bid core.Bid, window core.Window) error
	SaveWindow(ctx context.Context, propertyID string, window core.Window) error
}

// Publisher receives ledger events. It must not block.
type Publisher interface {
	Publish(topic, eventType string, payload any) eventbus.Event
}

// CloseHandler is invoked once, on its own goroutine, for every window that closes.
type CloseHandler func(propertyID string)

// Snapshot is a consistent copy of one property's state.
type Snapshot struct {
	Property core.Property
	Bids     []core.Bid
	Summary  core.BidSummary
}

type book struct {
	mu       sync.Mutex
	property core.Property
	bids     []core.Bid
	timer    Stopper
}

type Ledger struct {
	mu    sync.RWMutex
	books map[string]*book

	journal   Journal
	publisher Publisher
	scheduler Scheduler
	clock     clock.Clock
	duration  time.Duration
	policy    StartPolicy

	handlerMu sync.RWMutex
	onClose   CloseHandler
}

type Option func(*Ledger)

func WithJournal(j Journal) Option {
	return func(l *Ledger) { l.journal = j }
}

func WithPublisher(p Publisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

func WithScheduler(s Scheduler) Option {
	return func(l *Ledger) { l.scheduler = s }
}

func WithClock(c clock.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

func WithWindowDuration(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.duration = d
		}
	}
}

func WithStartPolicy(p StartPolicy) Option {
	return func(l *Ledger) { l.policy = p }
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		books:     make(map[string]*book),
		journal:   nopJournal{},
		publisher: nopPublisher{},
		scheduler: NewTimeScheduler(),
		clock:     clock.NewSystem(),
		duration:  DefaultWindowDuration,
		policy:    StartOnFirstBid,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OnClose sets the handler run after every window closure.
func (l *Ledger) OnClose(h CloseHandler) {
	l.handlerMu.Lock()
	l.onClose = h
	l.handlerMu.Unlock()
}

// Policy returns the configured window start policy.
func (l *Ledger) Policy() StartPolicy {
	return l.policy
}

// Register lists a new property owned by the calling landlord. The window starts UNOPENED.
func (l *Ledger) Register(ctx context.Context, owner core.Principal, property core.Property) (core.Property, error) {
	if owner.Role != core.RoleLandlord {
		return core.Property{}, fmt.Errorf("%w: only landlords can list properties", core.ErrForbidden)
	}
	if property.ID == "" {
		property.ID = uuid.New().String()
	}
	if property.Name == "" {
		return core.Property{}, fmt.Errorf("%w: property name is required", core.ErrValidation)
	}
	if !property.BasePrice.IsPositive() {
		return core.Property{}, fmt.Errorf("%w: base price must be positive, got %s", core.ErrValidation, property.BasePrice)
	}
	if !property.Currency.IsFiat() {
		return core.Property{}, fmt.Errorf("%w: property currency must be fiat, got %q", core.ErrValidation, property.Currency)
	}

	property.LandlordID = owner.ID
	property.BasePrice = core.RoundAmount(property.BasePrice)
	property.Window = core.Window{State: core.WindowUnopened}
	if property.ListedAt.IsZero() {
		property.ListedAt = l.clock.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.books[property.ID]; exists {
		return core.Property{}, fmt.Errorf("%w: %s", core.ErrPropertyExists, property.ID)
	}
	if err := l.journal.SaveProperty(ctx, property); err != nil {
		return core.Property{}, fmt.Errorf("failed to save property %s: %w", property.ID, err)
	}

	l.books[property.ID] = &book{property: property}
	log.Printf("INFO: Listed property %s (base price %s %s) for landlord %s",
		property.ID, property.BasePrice, property.Currency, property.LandlordID)
	return property, nil
}

// Restore rebuilds a property from persisted state at startup.
// An OPEN window past its deadline closes immediately, a CLOSED window with
// bids is handed to the close handler again and a window caught mid-settlement
// is marked FAILED.
func (l *Ledger) Restore(ctx context.Context, property core.Property, bids []core.Bid) error {
	b := &book{property: property, bids: slices.Clone(bids)}

	l.mu.Lock()
	if _, exists := l.books[property.ID]; exists {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", core.ErrPropertyExists, property.ID)
	}
	l.books[property.ID] = b
	l.mu.Unlock()

	b.mu.Lock()
	dispatch := false
	switch property.Window.State {
	case core.WindowOpen:
		remaining := property.Window.ClosesAt.Sub(l.clock.Now())
		if remaining <= 0 {
			dispatch = l.closeLocked(ctx, b)
		} else {
			l.scheduleCloseLocked(b, remaining)
		}
	case core.WindowClosed:
		dispatch = len(b.bids) > 0
	case core.WindowSettling:
		log.Printf("WARNING: Property %s was mid-settlement at shutdown, marking window FAILED", property.ID)
		l.setWindowLocked(ctx, b, core.Window{
			State:    core.WindowFailed,
			OpenedAt: property.Window.OpenedAt,
			ClosesAt: property.Window.ClosesAt,
		})
	}
	b.mu.Unlock()

	if dispatch {
		l.dispatchClose(property.ID)
	}
	return nil
}

// Activate opens the property's window explicitly.
func (l *Ledger) Activate(ctx context.Context, actor core.Principal, propertyID string) (core.Window, error) {
	b, err := l.book(propertyID)
	if err != nil {
		return core.Window{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := checkOwner(actor, b.property); err != nil {
		return core.Window{}, err
	}
	if b.property.Window.State != core.WindowUnopened {
		return core.Window{}, fmt.Errorf("%w: window of %s is already %s", core.ErrValidation, propertyID, b.property.Window.State)
	}

	window := l.openWindow()
	if err := l.journal.SaveWindow(ctx, propertyID, window); err != nil {
		return core.Window{}, fmt.Errorf("failed to save window for %s: %w", propertyID, err)
	}
	b.property.Window = window
	l.scheduleCloseLocked(b, l.duration)

	l.publisher.Publish(eventbus.TopicNotifications, marketapi.EventWindowOpened, windowEvent(b))
	log.Printf("INFO: Opened bidding window for %s until %s", propertyID, window.ClosesAt.Format(time.RFC3339))
	return window, nil
}

// SubmitBid validates and accepts a bid.
//
// A bid is accepted only while the window is OPEN (or UNOPENED under the
// first-bid policy, where it opens the window) and only if its amount strictly
// exceeds the highest accepted bid, or the base price when there is none.
func (l *Ledger) SubmitBid(ctx context.Context, propertyID string, bidder core.Principal, amount decimal.Decimal, currency core.Currency) (core.Bid, error) {
	if bidder.Role != core.RoleTenant {
		return core.Bid{}, fmt.Errorf("%w: only tenants can bid", core.ErrForbidden)
	}
	if !amount.IsPositive() {
		return core.Bid{}, fmt.Errorf("%w: bid amount must be positive, got %s", core.ErrValidation, amount)
	}
	if !currency.Valid() {
		return core.Bid{}, fmt.Errorf("%w: unsupported currency %q", core.ErrValidation, currency)
	}

	b, err := l.book(propertyID)
	if err != nil {
		return core.Bid{}, err
	}

	b.mu.Lock()
	closedNow := false
	bid, err := l.acceptLocked(ctx, b, bidder, amount, currency, &closedNow)
	b.mu.Unlock()

	if closedNow {
		l.dispatchClose(propertyID)
	}
	return bid, err
}

func (l *Ledger) acceptLocked(ctx context.Context, b *book, bidder core.Principal, amount decimal.Decimal, currency core.Currency, closedNow *bool) (core.Bid, error) {
	now := l.clock.Now()
	property := b.property

	if currency.IsFiat() && currency != property.Currency {
		return core.Bid{}, fmt.Errorf("%w: property %s is priced in %s, cannot pay in %s",
			core.ErrValidation, property.ID, property.Currency, currency)
	}

	window := property.Window
	switch window.State {
	case core.WindowUnopened:
		if l.policy != StartOnFirstBid {
			return core.Bid{}, fmt.Errorf("%w: window of %s has not been opened", core.ErrWindowClosed, property.ID)
		}
		window = core.Window{State: core.WindowOpen, OpenedAt: now, ClosesAt: now.Add(l.duration)}
	case core.WindowOpen:
		if !now.Before(window.ClosesAt) {
			// Deadline passed before the timer fired
			*closedNow = l.closeLocked(ctx, b)
			return core.Bid{}, fmt.Errorf("%w: window of %s closed at %s", core.ErrWindowClosed, property.ID, window.ClosesAt.Format(time.RFC3339))
		}
	default:
		return core.Bid{}, fmt.Errorf("%w: window of %s is %s", core.ErrWindowClosed, property.ID, window.State)
	}

	floor := core.CurrentFloor(property.BasePrice, b.bids)
	if !core.BidExceeds(amount, floor) {
		return core.Bid{}, fmt.Errorf("%w: %s does not exceed %s", core.ErrBidTooLow, core.RoundAmount(amount), floor)
	}

	bid := core.Bid{
		ID:         uuid.New().String(),
		PropertyID: property.ID,
		Bidder:     bidder.ID,
		Wallet:     bidder.Wallet,
		Amount:     core.RoundAmount(amount),
		Currency:   currency,
		Seq:        uint64(len(b.bids)) + 1,
		PlacedAt:   now,
	}

	if err := l.journal.AppendBid(ctx, bid, window); err != nil {
		return core.Bid{}, fmt.Errorf("failed to append bid to journal: %w", err)
	}

	opened := b.property.Window.State == core.WindowUnopened
	b.bids = append(b.bids, bid)
	b.property.Window = window
	if opened {
		l.scheduleCloseLocked(b, l.duration)
		log.Printf("INFO: First bid opened window for %s until %s", property.ID, window.ClosesAt.Format(time.RFC3339))
		l.publisher.Publish(eventbus.TopicNotifications, marketapi.EventWindowOpened, windowEvent(b))
	}

	l.publisher.Publish(eventbus.TopicAnalysis, marketapi.EventBidAccepted, marketapi.BidAcceptedEvent{
		PropertyID: bid.PropertyID,
		BidID:      bid.ID,
		Bidder:     bid.Bidder,
		Amount:     bid.Amount,
		Currency:   bid.Currency,
		Seq:        bid.Seq,
		PlacedAt:   bid.PlacedAt,
		ClosesAt:   window.ClosesAt,
	})
	l.publisher.Publish(eventbus.TopicNotifications, marketapi.EventBidNotification, marketapi.Notification{
		PropertyID: bid.PropertyID,
		Message:    fmt.Sprintf("New bid of %s %s on %s", bid.Amount.StringFixed(2), property.Currency, property.Name),
	})

	log.Printf("INFO: Accepted bid %s on %s: %s %s (seq %d)", bid.ID, bid.PropertyID, bid.Amount, bid.Currency, bid.Seq)
	return bid, nil
}

// Relist returns a window that closed without bids to UNOPENED. Never automatic.
func (l *Ledger) Relist(ctx context.Context, actor core.Principal, propertyID string) (core.Window, error) {
	b, err := l.book(propertyID)
	if err != nil {
		return core.Window{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := checkOwner(actor, b.property); err != nil {
		return core.Window{}, err
	}
	if b.property.Window.State != core.WindowClosed || len(b.bids) > 0 {
		return core.Window{}, fmt.Errorf("%w: only a closed window without bids can be relisted (state %s, %d bids)",
			core.ErrValidation, b.property.Window.State, len(b.bids))
	}

	window := core.Window{State: core.WindowUnopened}
	if err := l.journal.SaveWindow(ctx, propertyID, window); err != nil {
		return core.Window{}, fmt.Errorf("failed to save window for %s: %w", propertyID, err)
	}
	b.property.Window = window

	l.publisher.Publish(eventbus.TopicNotifications, marketapi.EventWindowRelisted, windowEvent(b))
	log.Printf("INFO: Relisted property %s", propertyID)
	return window, nil
}

// Snapshot returns a copy of the property's current state.
func (l *Ledger) Snapshot(propertyID string) (Snapshot, error) {
	b, err := l.book(propertyID)
	if err != nil {
		return Snapshot{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	bids := slices.Clone(b.bids)
	if bids == nil {
		bids = []core.Bid{}
	}
	return Snapshot{
		Property: b.property,
		Bids:     bids,
		Summary:  core.SummarizeBids(bids),
	}, nil
}

// Highest returns the highest accepted bid, if any.
func (l *Ledger) Highest(propertyID string) (core.Bid, bool, error) {
	snap, err := l.Snapshot(propertyID)
	if err != nil {
		return core.Bid{}, false, err
	}
	if snap.Summary.Winner == nil {
		return core.Bid{}, false, nil
	}
	return *snap.Summary.Winner, true, nil
}

// Properties returns every listed property, ordered by ID.
func (l *Ledger) Properties() []core.Property {
	l.mu.RLock()
	books := make([]*book, 0, len(l.books))
	for _, b := range l.books {
		books = append(books, b)
	}
	l.mu.RUnlock()

	out := make([]core.Property, 0, len(books))
	for _, b := range books {
		b.mu.Lock()
		out = append(out, b.property)
		b.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b core.Property) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Stop cancels every pending close timer.
func (l *Ledger) Stop() {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, b := range l.books {
		b.mu.Lock()
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
		b.mu.Unlock()
	}
}

func (l *Ledger) book(propertyID string) (*book, error) {
	l.mu.RLock()
	b, ok := l.books[propertyID]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrPropertyNotFound, propertyID)
	}
	return b, nil
}

func (l *Ledger) openWindow() core.Window {
	now := l.clock.Now()
	return core.Window{State: core.WindowOpen, OpenedAt: now, ClosesAt: now.Add(l.duration)}
}

// setWindowLocked applies a state transition that must happen even if the
// journal is unavailable. Persistence failures are logged.
func (l *Ledger) setWindowLocked(ctx context.Context, b *book, window core.Window) {
	if err := l.journal.SaveWindow(ctx, b.property.ID, window); err != nil {
		log.Printf("ERROR: Failed to persist %s window state for %s: %v", window.State, b.property.ID, err)
	}
	b.property.Window = window
}

func checkOwner(actor core.Principal, property core.Property) error {
	if actor.Role != core.RoleLandlord || actor.ID != property.LandlordID {
		return fmt.Errorf("%w: %s does not own property %s", core.ErrForbidden, actor.ID, property.ID)
	}
	return nil
}

func windowEvent(b *book) marketapi.WindowEvent {
	ev := marketapi.WindowEvent{
		PropertyID: b.property.ID,
		State:      b.property.Window.State,
		OpenedAt:   b.property.Window.OpenedAt,
		ClosesAt:   b.property.Window.ClosesAt,
		BidCount:   len(b.bids),
	}
	if len(b.bids) > 0 {
		ev.WinningBidID = b.bids[len(b.bids)-1].ID
	}
	return ev
}

type nopJournal struct{}

func (nopJournal) SaveProperty(context.Context, core.Property) error { return nil }

func (nopJournal) AppendBid(context.Context, core.Bid, core.Window) error { return nil }

func (nopJournal) SaveWindow(context.Context, string, core.Window) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(topic, eventType string, payload any) eventbus.Event {
	return eventbus.Event{Topic: topic, Type: eventType, Payload: payload}
}
