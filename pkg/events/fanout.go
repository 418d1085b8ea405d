package events

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hotline-server/pkg/metrics"
)

// Kind identifies the type of a pipeline event.
type Kind string

const (
	// KindStart marks the beginning of a new utterance bubble.
	KindStart Kind = "startTranscription"
	// KindInterim is a provisional transcription update for an open bubble.
	KindInterim Kind = "interimTranscription"
	// KindFinal is the completed transcription for a finished utterance.
	KindFinal Kind = "finalTranscription"
	// KindCallEnded signals that a call session was torn down.
	KindCallEnded Kind = "call-ended"
)

// Event is a transcription or lifecycle event fanned out to downstream
// consumers (live UI, sentiment pipeline, notes generator).
type Event struct {
	Kind          Kind                   `json:"event"`
	StreamSid     string                 `json:"streamSid,omitempty"`
	BubbleID      string                 `json:"bubbleId,omitempty"`
	FinalBubbleID string                 `json:"finalBubbleId,omitempty"`
	SpeakerID     string                 `json:"speakerId,omitempty"`
	Text          string                 `json:"text,omitempty"`
	IsInterim     bool                   `json:"isInterim"`
	Timestamp     time.Time              `json:"timestamp"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Listener receives published events. OnEvent is invoked from a dedicated
// delivery goroutine per listener, never from the audio path.
type Listener interface {
	OnEvent(event Event)
}

// subscriberQueueSize bounds per-listener backlog before deliveries drop.
const subscriberQueueSize = 256

type subscriber struct {
	listener Listener
	queue    chan Event
	done     chan struct{}
}

// Fanout broadcasts events to all subscribed listeners. Publishing is
// fire-and-forget relative to the audio path: a slow or failing listener
// loses events rather than blocking the pipeline.
type Fanout struct {
	logger *logrus.Logger
	mutex  sync.RWMutex
	subs   map[Listener]*subscriber
	closed bool
}

// NewFanout creates an event fanout.
func NewFanout(logger *logrus.Logger) *Fanout {
	return &Fanout{
		logger: logger,
		subs:   make(map[Listener]*subscriber),
	}
}

// Subscribe registers a listener and starts its delivery goroutine.
// Subscribing an already-registered listener is a no-op.
func (f *Fanout) Subscribe(listener Listener) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.closed {
		return
	}
	if _, exists := f.subs[listener]; exists {
		return
	}

	sub := &subscriber{
		listener: listener,
		queue:    make(chan Event, subscriberQueueSize),
		done:     make(chan struct{}),
	}
	f.subs[listener] = sub
	go sub.run()

	f.logger.WithField("subscribers", len(f.subs)).Debug("Event listener subscribed")
}

// Unsubscribe removes a listener and stops its delivery goroutine.
func (f *Fanout) Unsubscribe(listener Listener) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if sub, exists := f.subs[listener]; exists {
		close(sub.done)
		delete(f.subs, listener)
	}
}

// Publish broadcasts an event to all subscribers without blocking. Events
// are dropped per-listener when that listener's queue is full.
func (f *Fanout) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	f.mutex.RLock()
	defer f.mutex.RUnlock()

	for _, sub := range f.subs {
		select {
		case sub.queue <- event:
		default:
			metrics.IncFanoutDropped(string(event.Kind))
			f.logger.WithFields(logrus.Fields{
				"event":      event.Kind,
				"stream_sid": event.StreamSid,
			}).Warn("Dropped event for slow listener")
		}
	}
}

// Close stops all delivery goroutines. Further publishes are discarded.
func (f *Fanout) Close() {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for listener, sub := range f.subs {
		close(sub.done)
		delete(f.subs, listener)
	}
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case event := <-s.queue:
			s.listener.OnEvent(event)
		}
	}
}
