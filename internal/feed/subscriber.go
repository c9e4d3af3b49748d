package feed

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inbox/internal/logger"
	"github.com/inbox/internal/metrics"
)

const (
	defaultInitialBackoff = 2 * time.Second
	defaultMaxBackoff     = 30 * time.Second
)

// Stream is one live connection to the change stream.
type Stream interface {
	// Next blocks until an event arrives. Any error ends the stream.
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Transport opens streams. A Subscriber reconnects through it after failures.
type Transport interface {
	Connect(ctx context.Context) (Stream, error)
}

type Handler func(Event)

type Config struct {
	Name           string
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Subscriber fans events out to subscriptions. Events are dispatched one at a
// time by a single pump goroutine in transport order.
type Subscriber struct {
	transport Transport
	cfg       Config

	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]*Subscription
	resync  map[uint64]func()
	health  map[uint64]func(bool)
	healthy atomic.Bool

	ready     chan struct{}
	readyOnce sync.Once
}

func NewSubscriber(t Transport, cfg Config) *Subscriber {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.Name == "" {
		cfg.Name = "feed"
	}
	return &Subscriber{
		transport: t,
		cfg:       cfg,
		subs:      make(map[uint64]*Subscription),
		resync:    make(map[uint64]func()),
		health:    make(map[uint64]func(bool)),
		ready:     make(chan struct{}),
	}
}

// Subscription is a registration for one scope. Cancel it to stop delivery.
type Subscription struct {
	owner   *Subscriber
	id      uint64
	scope   Scope
	mask    EventMask
	handler Handler

	mu     sync.Mutex
	closed bool
}

func (s *Subscription) Scope() Scope { return s.scope }

// Cancel unregisters the subscription. When Cancel returns, an in-flight
// handler call has finished and the handler will not be called again.
// Calling Cancel from inside the handler deadlocks.
func (s *Subscription) Cancel() {
	s.owner.mu.Lock()
	delete(s.owner.subs, s.id)
	s.owner.mu.Unlock()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Subscription) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.handler(ev)
}

// Subscribe registers handler for events in scope whose type is in mask.
func (s *Subscriber) Subscribe(scope Scope, mask EventMask, h Handler) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	sub := &Subscription{owner: s, id: s.nextID, scope: scope, mask: mask, handler: h}
	s.subs[sub.id] = sub
	logger.Debugf("%s: subscribe %s mask=%03b id=%d", s.cfg.Name, scope, mask, sub.id)
	return sub
}

// OnResync registers fn to run after every reconnect, so consumers can
// re-fetch whatever the outage made them miss. The returned func unregisters it.
func (s *Subscriber) OnResync(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.resync[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.resync, id)
		s.mu.Unlock()
	}
}

// OnHealth registers fn to observe connection state changes.
func (s *Subscriber) OnHealth(fn func(bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.health[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.health, id)
		s.mu.Unlock()
	}
}

func (s *Subscriber) Healthy() bool { return s.healthy.Load() }

// Ready is closed once the first connection has been established.
func (s *Subscriber) Ready() <-chan struct{} { return s.ready }

// Dispatch delivers ev synchronously to every matching subscription, in
// subscription order.
func (s *Subscriber) Dispatch(ev Event) {
	s.mu.RLock()
	matched := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if sub.mask&ev.Type.Mask() != 0 && sub.scope.Matches(ev) {
			matched = append(matched, sub)
		}
	}
	s.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].id < matched[j].id })
	for _, sub := range matched {
		sub.deliver(ev)
	}
}

// Run connects and pumps events until ctx is done, reconnecting with
// exponential backoff after every failure.
func (s *Subscriber) Run(ctx context.Context) error {
	backoff := s.cfg.InitialBackoff
	connected := false
	for {
		stream, err := s.transport.Connect(ctx)
		if err == nil {
			backoff = s.cfg.InitialBackoff
			s.setHealthy(true)
			s.readyOnce.Do(func() { close(s.ready) })
			if connected {
				s.runResync()
			}
			connected = true
			err = s.pump(ctx, stream)
			_ = stream.Close()
		}
		if ctx.Err() != nil {
			s.setHealthy(false)
			return ctx.Err()
		}
		s.setHealthy(false)
		metrics.FeedReconnects.Inc()
		logger.Errorf("%s: stream unavailable, retry in %v: %v", s.cfg.Name, backoff, err)
		if !sleep(ctx, backoff) {
			return ctx.Err()
		}
		if backoff < s.cfg.MaxBackoff {
			backoff *= 2
			if backoff > s.cfg.MaxBackoff {
				backoff = s.cfg.MaxBackoff
			}
		}
	}
}

func (s *Subscriber) pump(ctx context.Context, stream Stream) error {
	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		s.Dispatch(ev)
	}
}

func (s *Subscriber) setHealthy(ok bool) {
	if s.healthy.Swap(ok) == ok {
		return
	}
	s.mu.RLock()
	hooks := make([]func(bool), 0, len(s.health))
	for _, fn := range s.health {
		hooks = append(hooks, fn)
	}
	s.mu.RUnlock()
	for _, fn := range hooks {
		fn(ok)
	}
}

func (s *Subscriber) runResync() {
	s.mu.RLock()
	hooks := make([]func(), 0, len(s.resync))
	for _, fn := range s.resync {
		hooks = append(hooks, fn)
	}
	s.mu.RUnlock()
	logger.Infof("%s: reconnected, resyncing %d consumers", s.cfg.Name, len(hooks))
	for _, fn := range hooks {
		fn()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
