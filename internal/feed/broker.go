package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/inbox/internal/metrics"
)

var (
	ErrUnavailable   = errors.New("feed: upstream unavailable")
	ErrStreamDropped = errors.New("feed: stream dropped")
	ErrStreamClosed  = errors.New("feed: stream closed")
)

// Broker is an in-process Transport. Publish never blocks: every connected
// stream has its own unbounded queue, so a handler may write to the store
// (and thereby publish) without deadlocking the pump.
type Broker struct {
	mu          sync.Mutex
	streams     map[*brokerStream]struct{}
	unavailable bool
}

func NewBroker() *Broker {
	return &Broker{streams: make(map[*brokerStream]struct{})}
}

func (b *Broker) Connect(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unavailable {
		return nil, ErrUnavailable
	}
	s := &brokerStream{broker: b, wake: make(chan struct{}, 1)}
	b.streams[s] = struct{}{}
	return s, nil
}

// Publish queues ev on every connected stream.
func (b *Broker) Publish(ev Event) {
	metrics.FeedEvents.WithLabelValues(ev.Table, string(ev.Type)).Inc()
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.streams {
		s.push(ev)
	}
}

// Drop fails every connected stream with ErrStreamDropped. Queued events are
// discarded, as they would be by a lost network connection.
func (b *Broker) Drop() {
	b.dropAll(ErrStreamDropped)
}

// SetAvailable toggles whether streams can connect. Going unavailable drops
// every connected stream.
func (b *Broker) SetAvailable(ok bool) {
	b.mu.Lock()
	b.unavailable = !ok
	b.mu.Unlock()
	if !ok {
		b.dropAll(ErrUnavailable)
	}
}

// Relay republishes everything up receives, and mirrors its health into the
// broker's availability so downstream subscribers reconnect and resync when
// the upstream does.
func (b *Broker) Relay(up *Subscriber) (cancel func()) {
	sub := up.Subscribe(AnyTable, MaskAll, b.Publish)
	stopHealth := up.OnHealth(b.SetAvailable)
	return func() {
		sub.Cancel()
		stopHealth()
	}
}

func (b *Broker) Streams() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams)
}

func (b *Broker) dropAll(err error) {
	b.mu.Lock()
	streams := make([]*brokerStream, 0, len(b.streams))
	for s := range b.streams {
		streams = append(streams, s)
		delete(b.streams, s)
	}
	b.mu.Unlock()
	for _, s := range streams {
		s.fail(err)
	}
}

func (b *Broker) remove(s *brokerStream) {
	b.mu.Lock()
	delete(b.streams, s)
	b.mu.Unlock()
}

type brokerStream struct {
	broker *Broker
	wake   chan struct{}

	mu    sync.Mutex
	queue []Event
	err   error
}

func (s *brokerStream) push(ev Event) {
	s.mu.Lock()
	if s.err == nil {
		s.queue = append(s.queue, ev)
	}
	s.mu.Unlock()
	s.signal()
}

func (s *brokerStream) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
		s.queue = nil
	}
	s.mu.Unlock()
	s.signal()
}

func (s *brokerStream) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *brokerStream) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return Event{}, err
		}
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.wake:
		}
	}
}

func (s *brokerStream) Close() error {
	s.broker.remove(s)
	s.fail(ErrStreamClosed)
	return nil
}
