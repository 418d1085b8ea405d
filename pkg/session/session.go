package session

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"hotline-server/pkg/audio"
	"hotline-server/pkg/errors"
	"hotline-server/pkg/events"
	"hotline-server/pkg/metrics"
	"hotline-server/pkg/stt"
)

// State is the lifecycle phase of a call session.
type State int32

const (
	StateIdle State = iota
	StateActive
	StateFlushing
	StateClosed
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateFlushing:
		return "flushing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Config holds per-session tuning. Zero values fall back to defaults
// suitable for 8kHz telephony audio.
type Config struct {
	SampleRate int

	// Encoding is the expected media payload encoding.
	Encoding audio.Encoding

	// QuietThreshold is the inter-frame gap beyond which a new utterance
	// bubble starts.
	QuietThreshold time.Duration

	// MaxBufferDuration bounds the batch-mode audio buffer. Exceeding it
	// forces a flush.
	MaxBufferDuration time.Duration

	VAD audio.VADConfig
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 8000
	}
	if c.Encoding == "" {
		c.Encoding = audio.EncodingMuLaw
	}
	if c.QuietThreshold <= 0 {
		c.QuietThreshold = 1500 * time.Millisecond
	}
	if c.MaxBufferDuration <= 0 {
		c.MaxBufferDuration = 30 * time.Second
	}
	if c.VAD.SampleRate <= 0 {
		c.VAD.SampleRate = c.SampleRate
	}
	return c
}

type commandKind int

const (
	cmdMedia commandKind = iota
	cmdSilence
	cmdResult
)

type command struct {
	kind    commandKind
	payload string
	result  stt.Result
	at      time.Time
}

// inboxSize bounds the per-session message backlog. A full inbox drops
// media rather than blocking the transport read loop.
const inboxSize = 512

// CallSession owns one call's audio pipeline: decode, voice-activity
// tracking, the transcription backend handle, and utterance bookkeeping.
// All processing runs on a single worker goroutine fed through the inbox
// channel, so buffer and utterance state need no locking.
type CallSession struct {
	StreamSid string
	CallSid   string
	CallerID  string

	logger *logrus.Entry
	fanout *events.Fanout
	cfg    Config

	backend   stt.Backend
	batch     stt.BatchBackend
	streaming stt.StreamingBackend
	stream    stt.StreamHandle

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan command
	done   chan struct{}

	state int32

	closeOnce    sync.Once
	teardownOnce sync.Once
	closeReason  string
	startedAt    time.Time

	// now is swapped out by tests for deterministic gap measurement.
	now func() time.Time

	// Worker-owned state below; touched only from run().
	buffer      []byte
	maxBuffer   int
	vad         *audio.VoiceActivityDetector
	bubbleID    string
	speaking    bool
	lastFrameAt time.Time
}

// New creates a call session bound to a transcription backend. The backend
// must implement the streaming or the batch interface; streaming wins when
// it implements both.
func New(streamSid, callSid, callerID string, backend stt.Backend, fanout *events.Fanout, cfg Config, logger *logrus.Logger) (*CallSession, error) {
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	s := &CallSession{
		StreamSid: streamSid,
		CallSid:   callSid,
		CallerID:  callerID,
		logger: logger.WithFields(logrus.Fields{
			"stream_sid": streamSid,
			"call_sid":   callSid,
		}),
		fanout:    fanout,
		cfg:       cfg,
		backend:   backend,
		ctx:       ctx,
		cancel:    cancel,
		inbox:     make(chan command, inboxSize),
		done:      make(chan struct{}),
		now:       time.Now,
		maxBuffer: cfg.SampleRate * 2 * int(cfg.MaxBufferDuration/time.Second),
		vad:       audio.NewVoiceActivityDetector(cfg.VAD),
	}

	switch b := backend.(type) {
	case stt.StreamingBackend:
		s.streaming = b
	case stt.BatchBackend:
		s.batch = b
	default:
		cancel()
		return nil, stt.ErrNoBackendAvailable
	}
	return s, nil
}

// Start opens the backend handle and launches the worker goroutine.
func (s *CallSession) Start() error {
	if !atomic.CompareAndSwapInt32(&s.state, int32(StateIdle), int32(StateActive)) {
		return errors.NewDuplicateStart(s.StreamSid)
	}
	s.startedAt = s.now()

	if s.streaming != nil {
		stream, err := s.streaming.OpenStream(s.ctx, s.CallSid)
		if err != nil {
			atomic.StoreInt32(&s.state, int32(StateClosed))
			s.cancel()
			close(s.done)
			return err
		}
		s.stream = stream
		go s.pumpResults(stream)
	}

	metrics.SessionOpened()
	s.logger.WithFields(logrus.Fields{
		"backend":   s.backend.Name(),
		"caller_id": s.CallerID,
	}).Info("Call session started")

	go s.run()
	return nil
}

// State returns the current lifecycle state.
func (s *CallSession) State() State {
	return State(atomic.LoadInt32(&s.state))
}

// Done closes when the worker has finished teardown.
func (s *CallSession) Done() <-chan struct{} {
	return s.done
}

// EnqueueMedia hands a raw media payload to the session worker. A closed
// session rejects media; a full inbox drops the frame with a metric rather
// than blocking the caller.
func (s *CallSession) EnqueueMedia(payload string) error {
	if s.State() == StateClosed {
		return errors.ErrSessionClosed
	}
	select {
	case s.inbox <- command{kind: cmdMedia, payload: payload, at: s.now()}:
	default:
		metrics.IncDroppedMessage("inbox_full")
		s.logger.Warn("Session inbox full, dropping media frame")
	}
	return nil
}

// EnqueueSilence injects a client-computed silence signal, equivalent to
// a locally detected one.
func (s *CallSession) EnqueueSilence() error {
	if s.State() == StateClosed {
		return errors.ErrSessionClosed
	}
	select {
	case s.inbox <- command{kind: cmdSilence, at: s.now()}:
	default:
		metrics.IncDroppedMessage("inbox_full")
	}
	return nil
}

// Close tears the session down: cancels in-flight backend work, closes the
// backend handle, and emits call-ended. Safe to call any number of times
// from any goroutine; stop messages and transport errors routinely race.
func (s *CallSession) Close(reason string) {
	s.closeOnce.Do(func() {
		s.closeReason = reason
		prev := State(atomic.SwapInt32(&s.state, int32(StateClosed)))
		s.cancel()
		if prev == StateIdle {
			// Worker never started; tear down inline.
			s.teardown()
			close(s.done)
		}
	})
}

func (s *CallSession) run() {
	defer close(s.done)
	defer s.teardown()

	for {
		select {
		case <-s.ctx.Done():
			return
		case cmd := <-s.inbox:
			switch cmd.kind {
			case cmdMedia:
				s.handleMedia(cmd)
			case cmdSilence:
				s.flush()
			case cmdResult:
				s.handleResult(cmd.result)
			}
			if s.State() == StateClosed {
				return
			}
		}
	}
}

// pumpResults forwards streaming backend results into the inbox so they go
// through the same serialized worker as media frames.
func (s *CallSession) pumpResults(stream stt.StreamHandle) {
	for result := range stream.Results() {
		select {
		case s.inbox <- command{kind: cmdResult, result: result, at: s.now()}:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *CallSession) handleMedia(cmd command) {
	pcm, err := audio.DecodePayload(cmd.payload, s.cfg.Encoding)
	if err != nil {
		metrics.IncDecodeError()
		s.logger.WithError(err).Debug("Dropping undecodable media frame")
		return
	}

	metrics.ObserveMediaFrame(s.StreamSid, len(pcm))
	s.trackUtterance(cmd.at)

	if s.stream != nil {
		if err := s.stream.Push(pcm); err != nil {
			s.backendError(err, "push")
		}
		s.observeVAD(pcm)
		return
	}

	s.buffer = append(s.buffer, pcm...)
	if len(s.buffer) > s.maxBuffer {
		s.logger.WithField("buffer_bytes", len(s.buffer)).Warn("Audio buffer limit reached, forcing flush")
		s.flush()
		return
	}
	if event := s.observeVAD(pcm); event != nil {
		s.flush()
	}
}

func (s *CallSession) observeVAD(pcm []byte) *audio.SilenceEvent {
	event := s.vad.Observe(pcm)
	if event != nil {
		metrics.IncVADSilence()
		s.logger.WithFields(logrus.Fields{
			"position": event.At,
			"duration": event.Duration,
		}).Debug("Silence detected")
	}
	return event
}

// trackUtterance applies the new-bubble rule: a fresh bubble id starts when
// no utterance is active or the inter-frame gap exceeds the quiet threshold.
func (s *CallSession) trackUtterance(at time.Time) {
	gap := at.Sub(s.lastFrameAt)
	s.lastFrameAt = at

	if s.speaking && gap <= s.cfg.QuietThreshold {
		return
	}

	s.speaking = true
	s.bubbleID = uuid.New().String()
	s.publish(events.Event{
		Kind:      events.KindStart,
		StreamSid: s.StreamSid,
		BubbleID:  s.bubbleID,
		SpeakerID: s.CallerID,
		IsInterim: true,
		Timestamp: at,
	})
}

// flush submits the buffered utterance to the batch backend and emits the
// final result. Streaming sessions have nothing to flush.
func (s *CallSession) flush() {
	if s.batch == nil || len(s.buffer) == 0 {
		return
	}
	if !atomic.CompareAndSwapInt32(&s.state, int32(StateActive), int32(StateFlushing)) {
		return
	}

	pcm := s.buffer
	s.buffer = nil

	result, err := s.submitWithRetry(pcm)
	if err != nil {
		if stderrors.Is(err, context.Canceled) {
			return
		}
		s.backendError(err, "submit")
	} else if result.Text != "" {
		s.handleResult(result)
	}

	atomic.CompareAndSwapInt32(&s.state, int32(StateFlushing), int32(StateActive))
}

// submitWithRetry retries a transient submit failure once; the utterance is
// lost after the second failure.
func (s *CallSession) submitWithRetry(pcm []byte) (stt.Result, error) {
	result, err := s.batch.Submit(s.ctx, pcm, s.CallSid)
	if err == nil || stt.IsFatal(err) || s.ctx.Err() != nil {
		return result, err
	}

	s.logger.WithError(err).Warn("Transient backend failure, retrying submit")
	return s.batch.Submit(s.ctx, pcm, s.CallSid)
}

// handleResult turns a backend result into fanout events. Interims after
// the bubble's final are suppressed; a later media frame opens a new bubble.
func (s *CallSession) handleResult(result stt.Result) {
	speaker := result.SpeakerID
	if speaker == "" {
		speaker = s.CallerID
	}

	if !result.IsFinal {
		if !s.speaking {
			return
		}
		s.publish(events.Event{
			Kind:      events.KindInterim,
			StreamSid: s.StreamSid,
			BubbleID:  s.bubbleID,
			SpeakerID: speaker,
			Text:      result.Text,
			IsInterim: true,
			Timestamp: s.now(),
		})
		return
	}

	s.publish(events.Event{
		Kind:          events.KindFinal,
		StreamSid:     s.StreamSid,
		BubbleID:      s.bubbleID,
		FinalBubbleID: uuid.New().String(),
		SpeakerID:     speaker,
		Text:          result.Text,
		IsInterim:     false,
		Timestamp:     s.now(),
	})
	s.speaking = false
}

// backendError applies the failure taxonomy: transient errors are logged
// and the session keeps accepting audio, fatal ones end the session.
func (s *CallSession) backendError(err error, operation string) {
	if stt.IsFatal(err) {
		s.logger.WithError(err).WithField("operation", operation).Error("Fatal backend failure, closing session")
		s.Close("backend_fatal")
		return
	}
	s.logger.WithError(err).WithField("operation", operation).Warn("Transient backend failure")
}

func (s *CallSession) publish(event events.Event) {
	metrics.IncEventPublished(string(event.Kind))
	s.fanout.Publish(event)
}

// teardown releases the backend handle and emits call-ended exactly once.
func (s *CallSession) teardown() {
	s.teardownOnce.Do(func() {
		atomic.StoreInt32(&s.state, int32(StateClosed))
		s.cancel()

		if s.stream != nil {
			if err := s.stream.Close(); err != nil {
				s.logger.WithError(err).Warn("Failed to close backend stream")
			}
		}
		s.buffer = nil

		reason := s.closeReason
		if reason == "" {
			reason = "backend_fatal"
		}
		lifetime := time.Duration(0)
		if !s.startedAt.IsZero() {
			lifetime = s.now().Sub(s.startedAt)
		}
		metrics.SessionClosed(reason, lifetime)

		s.publish(events.Event{
			Kind:      events.KindCallEnded,
			StreamSid: s.StreamSid,
			SpeakerID: s.CallerID,
			Timestamp: s.now(),
			Metadata:  map[string]interface{}{"reason": reason},
		})

		s.logger.WithFields(logrus.Fields{
			"reason":   reason,
			"lifetime": lifetime,
		}).Info("Call session closed")
	})
}
