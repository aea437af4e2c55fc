package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	fail   bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	if s.fail {
		return errors.New("boom")
	}
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDeliversToSinksAndSubscribers(t *testing.T) {
	sink := &recordingSink{}
	failing := &recordingSink{fail: true}
	d := NewDispatcher(16, sink, failing)
	sub, cancel := d.Subscribe(4)
	defer cancel()
	d.Start()

	at := time.Date(2024, 6, 1, 9, 0, 3, 0, time.UTC)
	d.Emit(NewWinnerDetermined("2024-06-01_0900", "alice", at))

	select {
	case e := <-sub:
		assert.Equal(t, WinnerDetermined, e.Type)
		assert.Equal(t, "alice", e.UserID)
		assert.Equal(t, "2024-06-01_0900", e.SlotKey)
		assert.NotEmpty(t, e.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not receive event")
	}

	d.Stop()
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, 1, failing.count())
}

func TestDispatcherEmitNeverBlocks(t *testing.T) {
	d := NewDispatcher(2)

	// 未启动时队列不会被消费
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Emit(NewVoteCast("q", 1, time.Now()))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full queue")
	}
	assert.Equal(t, int64(8), d.Dropped())
}

func TestDispatcherStopDrainsQueue(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(32, sink)
	for i := 0; i < 5; i++ {
		d.Emit(NewSlotClosed("2024-06-01_0900", "closed_no_winner", time.Now()))
	}
	d.Start()
	d.Stop()
	assert.Equal(t, 5, sink.count())

	// 停止后的事件被忽略
	d.Emit(NewQuestionSubmitted("k", "q", "alice", time.Now()))
	d.Stop()
	assert.Equal(t, 5, sink.count())
}

func TestSubscribeCancel(t *testing.T) {
	d := NewDispatcher(8)
	sub, cancel := d.Subscribe(1)
	cancel()
	cancel()

	_, ok := <-sub
	require.False(t, ok)

	d.Start()
	d.Emit(NewVoteCast("q", 2, time.Now()))
	d.Stop()
}
