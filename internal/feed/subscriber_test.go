package feed

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msgEvent(typ EventType, chatID, id string) Event {
	row := json.RawMessage(`{"id":"` + id + `","chat_id":"` + chatID + `"}`)
	ev := Event{Table: "messages", Type: typ, New: row}
	if typ != Insert {
		ev.Old = row
	}
	return ev
}

type recorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *recorder) handle(ev Event) {
	var row struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(ev.Row(), &row)
	r.mu.Lock()
	r.ids = append(r.ids, row.ID)
	r.mu.Unlock()
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func TestDispatch_ScopeAndMask(t *testing.T) {
	s := NewSubscriber(NewBroker(), Config{})
	inserts, updates := &recorder{}, &recorder{}
	s.Subscribe(Table("messages").Where("chat_id", "c1"), MaskInsert, inserts.handle)
	s.Subscribe(Table("messages").Where("chat_id", "c1"), MaskUpdate, updates.handle)

	s.Dispatch(msgEvent(Insert, "c1", "m1"))
	s.Dispatch(msgEvent(Insert, "c2", "m2"))
	s.Dispatch(msgEvent(Update, "c1", "m1"))
	s.Dispatch(msgEvent(Delete, "c1", "m1"))

	assert.Equal(t, []string{"m1"}, inserts.got())
	assert.Equal(t, []string{"m1"}, updates.got())
}

func TestCancel_Independent(t *testing.T) {
	s := NewSubscriber(NewBroker(), Config{})
	a, b := &recorder{}, &recorder{}
	subA := s.Subscribe(Table("messages"), MaskAll, a.handle)
	s.Subscribe(Table("messages"), MaskAll, b.handle)

	s.Dispatch(msgEvent(Insert, "c1", "m1"))
	subA.Cancel()
	subA.Cancel()
	s.Dispatch(msgEvent(Insert, "c1", "m2"))

	assert.Equal(t, []string{"m1"}, a.got())
	assert.Equal(t, []string{"m1", "m2"}, b.got())
}

func TestCancel_WaitsForInFlightHandler(t *testing.T) {
	s := NewSubscriber(NewBroker(), Config{})
	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	sub := s.Subscribe(Table("messages"), MaskAll, func(Event) {
		close(entered)
		<-release
		finished.Store(true)
	})

	go s.Dispatch(msgEvent(Insert, "c1", "m1"))
	<-entered

	cancelled := make(chan struct{})
	go func() {
		sub.Cancel()
		close(cancelled)
	}()

	select {
	case <-cancelled:
		t.Fatal("Cancel returned while handler was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-cancelled
	assert.True(t, finished.Load())
}

func TestRun_DeliversAndResyncsAfterDrop(t *testing.T) {
	broker := NewBroker()
	s := NewSubscriber(broker, Config{InitialBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond})
	rec := &recorder{}
	s.Subscribe(Table("messages"), MaskAll, rec.handle)

	var resyncs atomic.Int32
	s.OnResync(func() { resyncs.Add(1) })
	var healthMu sync.Mutex
	var health []bool
	s.OnHealth(func(ok bool) {
		healthMu.Lock()
		health = append(health, ok)
		healthMu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-s.Ready():
	case <-time.After(time.Second):
		t.Fatal("subscriber never connected")
	}
	assert.True(t, s.Healthy())
	assert.Zero(t, resyncs.Load())

	broker.Publish(msgEvent(Insert, "c1", "m1"))
	require.Eventually(t, func() bool { return len(rec.got()) == 1 }, time.Second, 5*time.Millisecond)

	broker.Drop()
	require.Eventually(t, func() bool { return resyncs.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, s.Healthy, time.Second, 5*time.Millisecond)

	broker.Publish(msgEvent(Insert, "c1", "m2"))
	require.Eventually(t, func() bool { return len(rec.got()) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, s.Healthy())

	healthMu.Lock()
	defer healthMu.Unlock()
	assert.Equal(t, []bool{true, false, true, false}, health)
}

func TestRun_UnavailableUpstream(t *testing.T) {
	broker := NewBroker()
	broker.SetAvailable(false)
	s := NewSubscriber(broker, Config{InitialBackoff: 5 * time.Millisecond, MaxBackoff: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	assert.False(t, s.Healthy())

	broker.SetAvailable(true)
	require.Eventually(t, s.Healthy, time.Second, 5*time.Millisecond)
}

func TestBroker_PublishNeverBlocks(t *testing.T) {
	broker := NewBroker()
	stream, err := broker.Connect(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	for i := 0; i < 10000; i++ {
		broker.Publish(msgEvent(Insert, "c1", "m"))
	}

	ev, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "messages", ev.Table)
}

func TestBroker_Relay(t *testing.T) {
	upstreamBroker := NewBroker()
	up := NewSubscriber(upstreamBroker, Config{Name: "upstream"})
	down := NewBroker()
	cancelRelay := down.Relay(up)
	defer cancelRelay()

	stream, err := down.Connect(context.Background())
	require.NoError(t, err)

	up.Dispatch(msgEvent(Insert, "c1", "m1"))
	ev, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Insert, ev.Type)

	up.setHealthy(true)
	up.setHealthy(false)
	_, err = stream.Next(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = down.Connect(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}
