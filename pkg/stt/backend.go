package stt

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Result is one transcription produced by a backend.
type Result struct {
	Text      string
	SpeakerID string
	IsFinal   bool
	Metadata  map[string]interface{}
}

// Backend is the common surface of all speech-to-text engines.
type Backend interface {
	// Name returns the backend identifier used in config and logs.
	Name() string

	// Initialize validates configuration and prepares the backend for use.
	Initialize() error
}

// StreamHandle is one live transcription stream owned by a single call
// session. Close releases backend resources and must tolerate being called
// on an already-closed handle.
type StreamHandle interface {
	// Push forwards decoded PCM to the backend.
	Push(pcm []byte) error

	// Results yields interim and final transcriptions in the order the
	// backend produced them. The channel closes when the stream ends.
	Results() <-chan Result

	Close() error
}

// StreamingBackend is implemented by engines with an incremental streaming
// API that emits interim and final results on its own schedule.
type StreamingBackend interface {
	Backend

	OpenStream(ctx context.Context, callID string) (StreamHandle, error)
}

// BatchBackend is implemented by engines without a streaming API. Submit
// blocks until the whole utterance buffer is transcribed.
type BatchBackend interface {
	Backend

	Submit(ctx context.Context, pcm []byte, callID string) (Result, error)
}

// Registry holds the configured backends, keyed by name.
type Registry struct {
	logger      *logrus.Logger
	backends    map[string]Backend
	defaultName string
}

// NewRegistry creates a backend registry.
func NewRegistry(logger *logrus.Logger, defaultName string) *Registry {
	return &Registry{
		logger:      logger,
		backends:    make(map[string]Backend),
		defaultName: defaultName,
	}
}

// Register initializes and registers a backend.
func (r *Registry) Register(backend Backend) error {
	if err := backend.Initialize(); err != nil {
		r.logger.WithFields(logrus.Fields{
			"backend": backend.Name(),
			"error":   err,
		}).Error("Failed to initialize speech-to-text backend")
		return err
	}

	r.backends[backend.Name()] = backend
	r.logger.WithField("backend", backend.Name()).Info("Registered speech-to-text backend")
	return nil
}

// Get returns a backend by name.
func (r *Registry) Get(name string) (Backend, bool) {
	backend, exists := r.backends[name]
	return backend, exists
}

// Default returns the configured default backend, falling back across the
// registry if the default was never registered.
func (r *Registry) Default() (Backend, error) {
	if backend, exists := r.backends[r.defaultName]; exists {
		return backend, nil
	}
	for _, backend := range r.backends {
		r.logger.WithFields(logrus.Fields{
			"configured": r.defaultName,
			"fallback":   backend.Name(),
		}).Warn("Default backend not registered, falling back")
		return backend, nil
	}
	return nil, ErrNoBackendAvailable
}
