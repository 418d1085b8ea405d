package events

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectingListener struct {
	mu     sync.Mutex
	events []Event
}

func (l *collectingListener) OnEvent(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *collectingListener) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

type blockingListener struct {
	block chan struct{}
}

func (l *blockingListener) OnEvent(Event) { <-l.block }

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestFanoutBroadcastsToAllListeners(t *testing.T) {
	fanout := NewFanout(testLogger())
	defer fanout.Close()

	a := &collectingListener{}
	b := &collectingListener{}
	fanout.Subscribe(a)
	fanout.Subscribe(b)

	fanout.Publish(Event{Kind: KindStart, StreamSid: "s1", BubbleID: "b1"})
	fanout.Publish(Event{Kind: KindFinal, StreamSid: "s1", BubbleID: "b1", Text: "hello"})

	waitFor(t, func() bool { return len(a.snapshot()) == 2 && len(b.snapshot()) == 2 })

	got := a.snapshot()
	assert.Equal(t, KindStart, got[0].Kind)
	assert.Equal(t, KindFinal, got[1].Kind)
	assert.Equal(t, "hello", got[1].Text)
	assert.False(t, got[0].Timestamp.IsZero(), "publish fills in the timestamp")
}

func TestFanoutPreservesOrderPerListener(t *testing.T) {
	fanout := NewFanout(testLogger())
	defer fanout.Close()

	l := &collectingListener{}
	fanout.Subscribe(l)

	for i := 0; i < 50; i++ {
		fanout.Publish(Event{Kind: KindInterim, BubbleID: "b1", Text: string(rune('a' + i%26))})
	}
	waitFor(t, func() bool { return len(l.snapshot()) == 50 })

	got := l.snapshot()
	for i := 0; i < 50; i++ {
		assert.Equal(t, string(rune('a'+i%26)), got[i].Text)
	}
}

func TestFanoutSlowListenerDoesNotBlockPublish(t *testing.T) {
	fanout := NewFanout(testLogger())
	defer fanout.Close()

	slow := &blockingListener{block: make(chan struct{})}
	healthy := &collectingListener{}
	fanout.Subscribe(slow)
	fanout.Subscribe(healthy)

	// Overrun the slow listener's queue; Publish must not stall.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberQueueSize*2; i++ {
			fanout.Publish(Event{Kind: KindInterim})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow listener")
	}
	close(slow.block)

	waitFor(t, func() bool { return len(healthy.snapshot()) == subscriberQueueSize*2 })
}

func TestFanoutUnsubscribeStopsDelivery(t *testing.T) {
	fanout := NewFanout(testLogger())
	defer fanout.Close()

	l := &collectingListener{}
	fanout.Subscribe(l)
	fanout.Publish(Event{Kind: KindStart})
	waitFor(t, func() bool { return len(l.snapshot()) == 1 })

	fanout.Unsubscribe(l)
	fanout.Publish(Event{Kind: KindFinal})

	time.Sleep(50 * time.Millisecond)
	require.Len(t, l.snapshot(), 1)
}

func TestFanoutSubscribeAfterCloseIsNoop(t *testing.T) {
	fanout := NewFanout(testLogger())
	fanout.Close()

	l := &collectingListener{}
	fanout.Subscribe(l)
	fanout.Publish(Event{Kind: KindStart})

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, l.snapshot())
}
