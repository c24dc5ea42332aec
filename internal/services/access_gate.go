package services

import (
	"context"
	"sync"
	"time"

	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/models"
	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/store"
	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/pkg/logging"
)

// AccessGateOptions configures an AccessGate.
type AccessGateOptions struct {
	// Clock override for tests. Defaults to time.Now.
	Now func() time.Time

	// OnError receives listener failures as a side-channel notification. The
	// gate never freezes silently on the last known state; after an error the
	// caller may call Resubscribe or tear the gate down.
	OnError func(error)
}

// AccessGate is the single place entitlement validity is derived. It follows
// the store's realtime feed for one user, never an orchestrator's in-flight
// belief, so a commit the feed has not echoed yet cannot produce a spurious
// unlock. It recomputes on every delivered state, on explicit re-check, and
// when the clock crosses the expiry instant.
//
// Feature surfaces only ever see the derived boolean.
type AccessGate struct {
	userID string
	store  store.EntitlementStore
	now    func() time.Time
	onErr  func(error)

	mu      sync.Mutex
	state   models.EntitlementState
	active  bool
	timer   *time.Timer
	cancel  store.CancelFunc
	subs    map[int]func(bool)
	nextSub int
	closed  bool
}

// NewAccessGate subscribes to the user's entitlement feed and starts deriving
// access. The store delivers the current state immediately, so the gate is
// primed before NewAccessGate returns control to the feed.
func NewAccessGate(ctx context.Context, st store.EntitlementStore, userID string, opts AccessGateOptions) (*AccessGate, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	g := &AccessGate{
		userID: userID,
		store:  st,
		now:    opts.Now,
		onErr:  opts.OnError,
		state:  models.DefaultEntitlement(),
		subs:   make(map[int]func(bool)),
	}
	if err := g.Resubscribe(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

// Resubscribe re-establishes the store subscription, e.g. after a listener
// error was reported through OnError.
func (g *AccessGate) Resubscribe(ctx context.Context) error {
	g.mu.Lock()
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	g.mu.Unlock()

	cancel, err := g.store.Listen(ctx, g.userID, g.onChange, g.onListenError)
	if err != nil {
		return err
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		cancel()
		return nil
	}
	g.cancel = cancel
	g.mu.Unlock()
	return nil
}

// Active reports whether the entitlement is valid right now. Always derived
// from the latest feed-delivered state and the current clock reading.
func (g *AccessGate) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return models.IsActive(g.state, g.now())
}

// Recheck forces a re-evaluation against the current clock and notifies
// subscribers if the derived value flipped.
func (g *AccessGate) Recheck() {
	g.mu.Lock()
	notify, value := g.recomputeLocked()
	g.mu.Unlock()
	if notify {
		g.fanOut(value)
	}
}

// Subscribe registers fn for access flips. fn is invoked once immediately
// with the current value, then on every change. The returned handle cancels
// delivery.
func (g *AccessGate) Subscribe(fn func(active bool)) store.CancelFunc {
	g.mu.Lock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = fn
	current := models.IsActive(g.state, g.now())
	g.mu.Unlock()

	fn(current)

	return func() {
		g.mu.Lock()
		delete(g.subs, id)
		g.mu.Unlock()
	}
}

// Close cancels the feed subscription and the expiry timer. No subscriber is
// notified after Close returns, beyond at most one delivery already in
// flight.
func (g *AccessGate) Close() {
	g.mu.Lock()
	g.closed = true
	cancel := g.cancel
	g.cancel = nil
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.subs = make(map[int]func(bool))
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// onChange receives every feed delivery in the document's write order.
func (g *AccessGate) onChange(state models.EntitlementState) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.state = models.Normalize(state)
	notify, value := g.recomputeLocked()
	g.mu.Unlock()
	if notify {
		g.fanOut(value)
	}
}

func (g *AccessGate) onListenError(err error) {
	logging.Errorf("Access gate feed error - user: %s, error: %v", g.userID, err)
	if g.onErr != nil {
		g.onErr(err)
	}
}

// recomputeLocked derives the current value and arms a timer at the expiry
// instant, so an unlocked feature locks at expiry even with no new store
// event. Returns whether subscribers must be told. Caller holds g.mu.
// After Close it does nothing; a timer firing late must not arm a new one.
func (g *AccessGate) recomputeLocked() (notify bool, value bool) {
	if g.closed {
		return false, g.active
	}
	value = models.IsActive(g.state, g.now())
	notify = value != g.active
	g.active = value

	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	if value && g.state.ExpiresAt != nil {
		until := g.state.ExpiresAt.Sub(g.now())
		g.timer = time.AfterFunc(until, g.Recheck)
	}
	return notify, value
}

func (g *AccessGate) fanOut(value bool) {
	g.mu.Lock()
	fns := make([]func(bool), 0, len(g.subs))
	for _, fn := range g.subs {
		fns = append(fns, fn)
	}
	g.mu.Unlock()

	for _, fn := range fns {
		fn(value)
	}
}
