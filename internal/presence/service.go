package presence

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"studyhub/internal/stats"
)

// Outbound event names.
const (
	EventJoined   = "presence-joined"
	EventLeft     = "presence-left"
	EventSnapshot = "presence-snapshot"
)

// User is an account resolved from its id.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	UserCode string `json:"userCode,omitempty"`
	Role     string `json:"role,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// Event is what every listener receives after a join or leave.
type Event struct {
	Name        string       `json:"event"`
	ListUser    []User       `json:"listUser"`
	Statistical stats.Record `json:"statistical"`
}

// UserLookup resolves a user id. Unknown ids return nil, nil.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*User, error)
}

// Statistics is the visit counter a successful join feeds.
type Statistics interface {
	RecordJoin() stats.Record
	Snapshot() stats.Record
}

// Broadcaster fans an event out to every attached listener. It must not block
// on any single listener.
type Broadcaster interface {
	Broadcast(event Event)
}

// Observer receives presence outcomes, typically for metrics.
type Observer interface {
	JoinAccepted()
	JoinIgnored(reason string)
	Left(removed bool)
	Online(n int)
}

type nopObserver struct{}

func (nopObserver) JoinAccepted()      {}
func (nopObserver) JoinIgnored(string) {}
func (nopObserver) Left(bool)          {}
func (nopObserver) Online(int)         {}

// Reasons passed to Observer.JoinIgnored.
const (
	ReasonAlreadyPresent = "already_present"
	ReasonUnknownUser    = "unknown_user"
	ReasonLookupFailed   = "lookup_failed"
)

// Service applies join and leave events to the registry and the statistics,
// and broadcasts the resulting state. Mutations and broadcasts happen under
// one lock so listeners see them in the order they were applied.
type Service struct {
	mu       sync.Mutex
	registry *Registry
	users    UserLookup
	stats    Statistics
	out      Broadcaster
	logger   *zap.Logger
	observer Observer
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithObserver(observer Observer) Option {
	return func(s *Service) { s.observer = observer }
}

func NewService(users UserLookup, statistics Statistics, out Broadcaster, opts ...Option) *Service {
	s := &Service{
		registry: NewRegistry(),
		users:    users,
		stats:    statistics,
		out:      out,
		logger:   zap.NewNop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleJoin registers userID on the given transport. Duplicate joins and
// unknown users change nothing but still broadcast the current state.
func (s *Service) HandleJoin(ctx context.Context, userID, handle string) {
	s.mu.Lock()
	if s.registry.Has(userID) {
		s.ignoreLocked(ReasonAlreadyPresent)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	user, err := s.users.GetUserByID(ctx, userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err != nil:
		s.logger.Warn("resolve joining user", zap.String("user_id", userID), zap.Error(err))
		s.ignoreLocked(ReasonLookupFailed)
		return
	case user == nil:
		s.logger.Debug("join from unknown user", zap.String("user_id", userID))
		s.ignoreLocked(ReasonUnknownUser)
		return
	}

	if user.ID == "" {
		user.ID = userID
	}
	// another join for the same user may have won while the lookup was in flight
	if res := s.registry.Join(userID, handle, *user); res.AlreadyPresent {
		s.ignoreLocked(ReasonAlreadyPresent)
		return
	}
	rec := s.stats.RecordJoin()
	s.observer.JoinAccepted()
	s.observer.Online(s.registry.Size())
	s.logger.Info("user joined", zap.String("user_id", userID), zap.String("transport", handle))
	s.broadcastLocked(EventJoined, rec)
}

func (s *Service) ignoreLocked(reason string) {
	s.observer.JoinIgnored(reason)
	s.broadcastLocked(EventJoined, s.stats.Snapshot())
}

// HandleLeave drops whichever user the transport carried, if any, and
// broadcasts the new state. Counters are not touched.
func (s *Service) HandleLeave(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, removed := s.registry.LeaveByTransport(handle)
	s.observer.Left(removed)
	if removed {
		s.observer.Online(s.registry.Size())
		s.logger.Info("user left", zap.String("user_id", userID), zap.String("transport", handle))
	}
	s.broadcastLocked(EventLeft, s.stats.Snapshot())
}

// Snapshot returns the current presence list and statistics.
func (s *Service) Snapshot() Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventLocked(EventSnapshot, s.stats.Snapshot())
}

// Online reports how many users are present.
func (s *Service) Online() int {
	return s.registry.Size()
}

func (s *Service) eventLocked(name string, rec stats.Record) Event {
	return Event{Name: name, ListUser: s.registry.Snapshot(), Statistical: rec}
}

func (s *Service) broadcastLocked(name string, rec stats.Record) {
	s.out.Broadcast(s.eventLocked(name, rec))
}
