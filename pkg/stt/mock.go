package stt

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// MockBatchBackend is a batch backend for tests and local development. It
// returns a deterministic transcript derived from the submitted buffer and
// records every call so tests can assert on pipeline behavior.
type MockBatchBackend struct {
	logger *logrus.Logger

	// TranscriptFn overrides the generated transcript when set.
	TranscriptFn func(pcm []byte, callID string) string

	mu       sync.Mutex
	submits  [][]byte
	nextErrs []error
}

// NewMockBatchBackend creates a mock batch backend.
func NewMockBatchBackend(logger *logrus.Logger) *MockBatchBackend {
	return &MockBatchBackend{logger: logger}
}

// Name returns the backend name.
func (b *MockBatchBackend) Name() string {
	return "mock-batch"
}

// Initialize is a no-op.
func (b *MockBatchBackend) Initialize() error {
	b.logger.Info("Mock batch STT backend initialized")
	return nil
}

// FailNext queues an error to be returned by the next Submit call.
func (b *MockBatchBackend) FailNext(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextErrs = append(b.nextErrs, err)
}

// Submit records the buffer and returns a deterministic transcript.
func (b *MockBatchBackend) Submit(ctx context.Context, pcm []byte, callID string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	b.mu.Lock()
	if len(b.nextErrs) > 0 {
		err := b.nextErrs[0]
		b.nextErrs = b.nextErrs[1:]
		b.mu.Unlock()
		return Result{}, err
	}
	b.submits = append(b.submits, append([]byte(nil), pcm...))
	b.mu.Unlock()

	text := fmt.Sprintf("transcript of %d bytes", len(pcm))
	if b.TranscriptFn != nil {
		text = b.TranscriptFn(pcm, callID)
	}
	return Result{
		Text:     text,
		IsFinal:  true,
		Metadata: map[string]interface{}{"provider": b.Name()},
	}, nil
}

// SubmitCount returns how many submits succeeded.
func (b *MockBatchBackend) SubmitCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.submits)
}

// LastSubmit returns the most recently submitted buffer, or nil.
func (b *MockBatchBackend) LastSubmit() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.submits) == 0 {
		return nil
	}
	return b.submits[len(b.submits)-1]
}

// MockStreamingBackend is a streaming backend whose result emission is
// driven by the test.
type MockStreamingBackend struct {
	logger *logrus.Logger

	// OpenErr makes OpenStream fail when set.
	OpenErr error

	mu      sync.Mutex
	streams []*MockStream
}

// NewMockStreamingBackend creates a mock streaming backend.
func NewMockStreamingBackend(logger *logrus.Logger) *MockStreamingBackend {
	return &MockStreamingBackend{logger: logger}
}

// Name returns the backend name.
func (b *MockStreamingBackend) Name() string {
	return "mock-streaming"
}

// Initialize is a no-op.
func (b *MockStreamingBackend) Initialize() error {
	b.logger.Info("Mock streaming STT backend initialized")
	return nil
}

// OpenStream returns a fresh mock stream and remembers it for inspection.
func (b *MockStreamingBackend) OpenStream(ctx context.Context, callID string) (StreamHandle, error) {
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}

	stream := &MockStream{
		callID:  callID,
		results: make(chan Result, 32),
	}
	b.mu.Lock()
	b.streams = append(b.streams, stream)
	b.mu.Unlock()
	return stream, nil
}

// Streams returns every stream opened so far.
func (b *MockStreamingBackend) Streams() []*MockStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*MockStream(nil), b.streams...)
}

// MockStream is a test-controlled stream handle.
type MockStream struct {
	callID  string
	results chan Result

	mu         sync.Mutex
	pushed     []byte
	closeCount int
	closed     bool
}

// Push records the PCM bytes.
func (s *MockStream) Push(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	s.pushed = append(s.pushed, pcm...)
	return nil
}

// Results yields whatever the test emits.
func (s *MockStream) Results() <-chan Result {
	return s.results
}

// Close is idempotent; only the first call closes the results channel.
func (s *MockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	if !s.closed {
		s.closed = true
		close(s.results)
	}
	return nil
}

// EmitInterim delivers an interim result to the consumer.
func (s *MockStream) EmitInterim(text, speakerID string) {
	s.emit(Result{Text: text, SpeakerID: speakerID, IsFinal: false})
}

// EmitFinal delivers a final result to the consumer.
func (s *MockStream) EmitFinal(text, speakerID string) {
	s.emit(Result{Text: text, SpeakerID: speakerID, IsFinal: true})
}

func (s *MockStream) emit(result Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.results <- result
}

// PushedBytes returns all PCM pushed so far.
func (s *MockStream) PushedBytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.pushed...)
}

// CloseCount returns how many times Close was invoked.
func (s *MockStream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

// CallID returns the call the stream was opened for.
func (s *MockStream) CallID() string {
	return s.callID
}
