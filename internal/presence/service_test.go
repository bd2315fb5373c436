package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"studyhub/internal/stats"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]User
	err   error
	calls int
	// gate, when set, blocks lookups until closed
	gate chan struct{}
}

func newFakeUsers(ids ...string) *fakeUsers {
	f := &fakeUsers{users: make(map[string]User)}
	for _, id := range ids {
		f.users[id] = User{ID: id, Name: "user " + id}
	}
	return f
}

func (f *fakeUsers) GetUserByID(_ context.Context, id string) (*User, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

type fakeStats struct {
	mu  sync.Mutex
	rec stats.Record
}

func (f *fakeStats) RecordJoin() stats.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rec.Total++
	f.rec.Today.Total++
	f.rec.Week++
	f.rec.Month++
	return f.rec
}

func (f *fakeStats) Snapshot() stats.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rec
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Broadcast(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) last(t *testing.T) Event {
	t.Helper()
	events := r.all()
	require.NotEmpty(t, events)
	return events[len(events)-1]
}

func newTestService(users UserLookup) (*Service, *fakeStats, *recorder) {
	st := &fakeStats{}
	out := &recorder{}
	return NewService(users, st, out), st, out
}

func TestHandleJoinBroadcastsPresenceAndCounters(t *testing.T) {
	svc, st, out := newTestService(newFakeUsers("u1"))

	svc.HandleJoin(context.Background(), "u1", "t1")

	ev := out.last(t)
	assert.Equal(t, EventJoined, ev.Name)
	assert.Equal(t, []User{{ID: "u1", Name: "user u1"}}, ev.ListUser)
	assert.Equal(t, int64(1), ev.Statistical.Total)
	assert.Equal(t, st.Snapshot(), ev.Statistical)
}

func TestHandleJoinTwiceCountsOnce(t *testing.T) {
	for _, secondHandle := range []string{"t1", "t2"} {
		t.Run(secondHandle, func(t *testing.T) {
			svc, st, out := newTestService(newFakeUsers("u1"))

			svc.HandleJoin(context.Background(), "u1", "t1")
			first := out.last(t)
			svc.HandleJoin(context.Background(), "u1", secondHandle)
			second := out.last(t)

			assert.Len(t, out.all(), 2, "the duplicate join still broadcasts")
			assert.Equal(t, first.Statistical, second.Statistical)
			assert.Len(t, second.ListUser, 1)
			assert.Equal(t, int64(1), st.Snapshot().Total)
		})
	}
}

func TestHandleJoinUnknownUserChangesNothing(t *testing.T) {
	svc, st, out := newTestService(newFakeUsers("u1"))
	svc.HandleJoin(context.Background(), "u1", "t1")
	before := st.Snapshot()

	svc.HandleJoin(context.Background(), "ghost", "t2")

	assert.Equal(t, 1, svc.Online())
	assert.Equal(t, before, st.Snapshot())
	ev := out.last(t)
	assert.Equal(t, EventJoined, ev.Name)
	assert.Equal(t, before, ev.Statistical)
	assert.Len(t, ev.ListUser, 1)
}

func TestHandleJoinLookupErrorIsSwallowed(t *testing.T) {
	users := newFakeUsers("u1")
	users.err = errors.New("db down")
	svc, st, out := newTestService(users)

	svc.HandleJoin(context.Background(), "u1", "t1")

	assert.Equal(t, 0, svc.Online())
	assert.Equal(t, int64(0), st.Snapshot().Total)
	assert.Len(t, out.all(), 1)
}

func TestHandleLeaveRemovesOnlyMatchingTransport(t *testing.T) {
	svc, st, out := newTestService(newFakeUsers("u1", "u2"))
	svc.HandleJoin(context.Background(), "u1", "t1")
	svc.HandleJoin(context.Background(), "u2", "t2")
	before := st.Snapshot()

	svc.HandleLeave("unknown")
	assert.Equal(t, 2, svc.Online())
	assert.Equal(t, before, st.Snapshot())

	svc.HandleLeave("t1")
	assert.Equal(t, 1, svc.Online())
	assert.Equal(t, before, st.Snapshot())
	ev := out.last(t)
	assert.Equal(t, EventLeft, ev.Name)
	assert.Equal(t, []User{{ID: "u2", Name: "user u2"}}, ev.ListUser)
	assert.Equal(t, before, ev.Statistical)

	svc.HandleLeave("t1")
	assert.Equal(t, 1, svc.Online())
}

func TestUserCanRejoinAfterLeaving(t *testing.T) {
	svc, st, _ := newTestService(newFakeUsers("u1"))

	svc.HandleJoin(context.Background(), "u1", "t1")
	svc.HandleLeave("t1")
	svc.HandleJoin(context.Background(), "u1", "t2")

	assert.Equal(t, 1, svc.Online())
	assert.Equal(t, int64(2), st.Snapshot().Total)
}

func TestConcurrentJoinsForSameUserCountOnce(t *testing.T) {
	users := newFakeUsers("u1")
	users.gate = make(chan struct{})
	svc, st, _ := newTestService(users)

	const racers = 8
	var wg sync.WaitGroup
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func(i int) {
			defer wg.Done()
			svc.HandleJoin(context.Background(), "u1", fmt.Sprintf("t%d", i))
		}(i)
	}
	// let every racer reach the lookup before any resolves
	require.Eventually(t, func() bool {
		users.mu.Lock()
		defer users.mu.Unlock()
		return users.calls == racers
	}, waitFor, tick)
	close(users.gate)
	wg.Wait()

	assert.Equal(t, 1, svc.Online())
	assert.Equal(t, int64(1), st.Snapshot().Total)
}

func TestConcurrentDistinctJoinsAreAllCounted(t *testing.T) {
	const n = 100
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("u%d", i)
	}
	svc, st, out := newTestService(newFakeUsers(ids...))

	var wg sync.WaitGroup
	wg.Add(n)
	for i, id := range ids {
		go func(i int, id string) {
			defer wg.Done()
			svc.HandleJoin(context.Background(), id, fmt.Sprintf("t%d", i))
		}(i, id)
	}
	wg.Wait()

	rec := st.Snapshot()
	assert.Equal(t, int64(n), rec.Total)
	assert.Equal(t, int64(n), rec.Today.Total)
	assert.Equal(t, int64(n), rec.Week)
	assert.Equal(t, int64(n), rec.Month)
	assert.Equal(t, n, svc.Online())

	// broadcasts reach the listener in the order they were applied
	var prev int64
	for _, ev := range out.all() {
		assert.GreaterOrEqual(t, ev.Statistical.Total, prev)
		assert.Equal(t, int(ev.Statistical.Total), len(ev.ListUser))
		prev = ev.Statistical.Total
	}
}

func TestSnapshotReflectsCurrentState(t *testing.T) {
	svc, _, _ := newTestService(newFakeUsers("u1"))
	svc.HandleJoin(context.Background(), "u1", "t1")

	snap := svc.Snapshot()

	assert.Equal(t, EventSnapshot, snap.Name)
	assert.Len(t, snap.ListUser, 1)
	assert.Equal(t, int64(1), snap.Statistical.Total)
}

type countingObserver struct {
	mu       sync.Mutex
	accepted int
	ignored  map[string]int
	left     int
	online   int
}

func (o *countingObserver) JoinAccepted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.accepted++
}

func (o *countingObserver) JoinIgnored(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ignored == nil {
		o.ignored = make(map[string]int)
	}
	o.ignored[reason]++
}

func (o *countingObserver) Left(removed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if removed {
		o.left++
	}
}

func (o *countingObserver) Online(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.online = n
}

func TestObserverSeesOutcomes(t *testing.T) {
	obs := &countingObserver{}
	svc := NewService(newFakeUsers("u1"), &fakeStats{}, &recorder{}, WithObserver(obs))

	svc.HandleJoin(context.Background(), "u1", "t1")
	svc.HandleJoin(context.Background(), "u1", "t1")
	svc.HandleJoin(context.Background(), "nobody", "t2")
	svc.HandleLeave("t1")

	assert.Equal(t, 1, obs.accepted)
	assert.Equal(t, map[string]int{ReasonAlreadyPresent: 1, ReasonUnknownUser: 1}, obs.ignored)
	assert.Equal(t, 1, obs.left)
	assert.Equal(t, 0, obs.online)
}
