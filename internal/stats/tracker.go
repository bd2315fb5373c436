package stats

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Tracker owns the in-memory statistics record. The in-memory value is
// authoritative for the running process; the store only has to catch up.
type Tracker struct {
	mu      sync.Mutex
	store   Store
	clock   Clock
	loc     *time.Location
	logger  *zap.Logger
	current Record
	// degraded is set while current only counts visits since a failed
	// startup read; the first record found in the store is merged, not replaced.
	degraded bool

	newBackOff func() backoff.BackOff
	onFailure  func(error)
	persist    *persister
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces the system clock.
func WithClock(clock Clock) Option {
	return func(t *Tracker) { t.clock = clock }
}

// WithLocation sets the time zone whose midnights delimit the windows.
func WithLocation(loc *time.Location) Option {
	return func(t *Tracker) { t.loc = loc }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// WithBackOff sets the retry policy used for every persist attempt.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(t *Tracker) { t.newBackOff = newBackOff }
}

// WithPersistFailureHook is called each time a persist gives up retrying.
func WithPersistFailureHook(hook func(error)) Option {
	return func(t *Tracker) { t.onFailure = hook }
}

// NewTracker starts a tracker with a zeroed record. Call Initialize to load
// the stored record and Close to stop the background writer.
func NewTracker(store Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:      store,
		clock:      SystemClock(),
		loc:        time.Local,
		logger:     zap.NewNop(),
		newBackOff: defaultBackOff,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.current = zeroRecord(StartOfDay(t.clock.Now(), t.loc))
	t.persist = newPersister(store, t.newBackOff, t.logger, t.adoptID, t.reconcile, t.onFailure)
	return t
}

// Initialize adopts the stored record, or creates a zeroed one when the store
// is empty. A failing store leaves the tracker on a zeroed record; the
// background writer reconciles once the store is reachable again.
func (t *Tracker) Initialize(ctx context.Context) Record {
	stored, err := t.store.ReadStatistics(ctx)
	if err != nil {
		t.logger.Warn("read statistics, continuing in memory", zap.Error(err))
		return t.degrade()
	}
	if stored == nil {
		t.mu.Lock()
		fresh := zeroRecord(StartOfDay(t.clock.Now(), t.loc))
		t.mu.Unlock()
		created, err := t.store.CreateStatistics(ctx, fresh)
		if err != nil {
			t.logger.Warn("create statistics, continuing in memory", zap.Error(err))
			return t.degrade()
		}
		stored = &created
		t.logger.Info("created statistics record", zap.String("id", created.ID))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = *stored
	t.persist.setID(stored.ID)
	return t.current
}

func (t *Tracker) degrade() Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = zeroRecord(StartOfDay(t.clock.Now(), t.loc))
	t.degraded = true
	t.persist.enqueue(t.current)
	return t.current
}

// reconcile is called by the writer when it finds a stored record it did not
// load at startup. While degraded, the visits counted in memory are added on
// top of the stored counters after rolling them forward to the current day.
func (t *Tracker) reconcile(stored, pending Record) Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.degraded {
		pending.ID = stored.ID
		return pending
	}
	merged := stored
	rollover(&merged, t.current.Today.Date, t.loc)
	merged.Total += t.current.Total
	merged.Today.Total += t.current.Today.Total
	merged.Week += t.current.Week
	merged.Month += t.current.Month
	t.current = merged
	t.degraded = false
	t.persist.enqueue(t.current)
	t.logger.Info("merged in-memory statistics into stored record",
		zap.String("id", merged.ID),
		zap.Int64("total", merged.Total))
	return merged
}

// RecordJoin adds one visit to every window.
func (t *Tracker) RecordJoin() Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current.Total++
	t.current.Today.Total++
	t.current.Week++
	t.current.Month++
	t.persist.enqueue(t.current)
	return t.current
}

// CheckRollover resets the windows whose boundary has passed since the daily
// window was anchored. The week window resets only when now falls on a Monday.
func (t *Tracker) CheckRollover(now time.Time) bool {
	midnight := StartOfDay(now, t.loc)

	t.mu.Lock()
	defer t.mu.Unlock()
	if !rollover(&t.current, midnight, t.loc) {
		return false
	}
	t.persist.enqueue(t.current)
	t.logger.Info("statistics rolled over",
		zap.Time("date", midnight),
		zap.Int64("week", t.current.Week),
		zap.Int64("month", t.current.Month))
	return true
}

// rollover moves rec's daily anchor to midnight, clearing the windows whose
// boundary was crossed. It reports false when midnight is not after the anchor.
func rollover(rec *Record, midnight time.Time, loc *time.Location) bool {
	midnight = midnight.In(loc)
	anchor := rec.Today.Date.In(loc)
	if !midnight.After(anchor) {
		return false
	}
	if monthIndex(midnight) > monthIndex(anchor) {
		rec.Month = 0
	}
	rec.Today = Today{Date: midnight}
	if midnight.Weekday() == time.Monday {
		rec.Week = 0
	}
	return true
}

// Snapshot returns a copy of the current record.
func (t *Tracker) Snapshot() Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *Tracker) adoptID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current.ID = id
	// a record created from memory already holds every counted visit
	t.degraded = false
}

// Close writes out the latest record and stops the background writer.
func (t *Tracker) Close(ctx context.Context) error {
	return t.persist.close(ctx)
}
