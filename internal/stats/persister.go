package stats

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	b.Reset()
	return b
}

// persister writes the newest record to the store from a single goroutine.
// Only the latest enqueued value is kept, so a slow store never builds a
// backlog and always converges on the in-memory state.
type persister struct {
	store      Store
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
	onCreated  func(id string)
	reconcile  func(stored, pending Record) Record
	onFailure  func(err error)

	mu      sync.Mutex
	id      string
	pending *Record

	wake   chan struct{}
	quit   chan struct{}
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func newPersister(store Store, newBackOff func() backoff.BackOff, logger *zap.Logger, onCreated func(string), reconcile func(stored, pending Record) Record, onFailure func(error)) *persister {
	ctx, cancel := context.WithCancel(context.Background())
	p := &persister{
		store:      store,
		newBackOff: newBackOff,
		logger:     logger,
		onCreated:  onCreated,
		reconcile:  reconcile,
		onFailure:  onFailure,
		wake:       make(chan struct{}, 1),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	go p.run()
	return p
}

func (p *persister) setID(id string) {
	p.mu.Lock()
	p.id = id
	p.mu.Unlock()
}

func (p *persister) currentID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

// enqueue never blocks; it replaces whatever was waiting to be written.
func (p *persister) enqueue(rec Record) {
	p.mu.Lock()
	p.pending = &rec
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *persister) run() {
	defer close(p.done)
	for {
		select {
		case <-p.wake:
			p.flush()
		case <-p.quit:
			p.flush()
			return
		}
	}
}

func (p *persister) take() (Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return Record{}, false
	}
	rec := *p.pending
	p.pending = nil
	return rec, true
}

// restore puts rec back unless something newer arrived while it was in flight.
func (p *persister) restore(rec Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		p.pending = &rec
	}
}

func (p *persister) flush() {
	rec, ok := p.take()
	if !ok {
		return
	}
	b := backoff.WithContext(p.newBackOff(), p.ctx)
	err := backoff.Retry(func() error {
		return p.save(p.ctx, &rec)
	}, b)
	if err != nil {
		p.restore(rec)
		if p.onFailure != nil {
			p.onFailure(err)
		}
		p.logger.Error("persist statistics", zap.Error(err), zap.Int64("total", rec.Total))
	}
}

// save writes rec under the adopted id. When no id is known yet it looks for
// an existing record first and lets reconcile decide what to write over it;
// rec is replaced with that result so retries do not fall back to the stale value.
func (p *persister) save(ctx context.Context, rec *Record) error {
	id := p.currentID()
	if id == "" {
		existing, err := p.store.ReadStatistics(ctx)
		if err != nil {
			return err
		}
		if existing == nil {
			created, err := p.store.CreateStatistics(ctx, *rec)
			if err != nil {
				return err
			}
			p.adopt(created.ID)
			return nil
		}
		id = existing.ID
		if p.reconcile != nil {
			*rec = p.reconcile(*existing, *rec)
		}
		p.adopt(id)
	}
	rec.ID = id
	if _, err := p.store.UpdateStatistics(ctx, *rec); err != nil {
		if errors.Is(err, ErrNotFound) {
			p.setID("")
		}
		return err
	}
	return nil
}

func (p *persister) adopt(id string) {
	p.setID(id)
	if p.onCreated != nil {
		p.onCreated(id)
	}
}

// close flushes what is pending and stops the worker. If ctx expires first the
// in-flight retry loop is abandoned.
func (p *persister) close(ctx context.Context) error {
	p.once.Do(func() { close(p.quit) })
	select {
	case <-p.done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-p.done
		return ctx.Err()
	}
}
