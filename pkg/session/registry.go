package session

import (
	"sync"

	"github.com/sirupsen/logrus"

	"hotline-server/pkg/errors"
	"hotline-server/pkg/events"
	"hotline-server/pkg/stt"
)

// Registry maps stream identifiers to live call sessions. It is the only
// structure shared across sessions; everything behind it is per-session.
type Registry struct {
	logger  *logrus.Logger
	fanout  *events.Fanout
	backend stt.Backend
	cfg     Config

	mutex    sync.RWMutex
	sessions map[string]*CallSession
}

// NewRegistry creates a session registry. All sessions it creates share the
// given backend factory, fanout, and config.
func NewRegistry(backend stt.Backend, fanout *events.Fanout, cfg Config, logger *logrus.Logger) *Registry {
	return &Registry{
		logger:   logger,
		fanout:   fanout,
		backend:  backend,
		cfg:      cfg,
		sessions: make(map[string]*CallSession),
	}
}

// Create builds and starts a session for the stream. A duplicate start is an
// idempotent no-op returning the existing session.
func (r *Registry) Create(streamSid, callSid, callerID string) (*CallSession, error) {
	r.mutex.Lock()
	if existing, ok := r.sessions[streamSid]; ok {
		r.mutex.Unlock()
		r.logger.WithField("stream_sid", streamSid).Warn("Duplicate start for active stream, reusing session")
		return existing, nil
	}

	s, err := New(streamSid, callSid, callerID, r.backend, r.fanout, r.cfg, r.logger)
	if err != nil {
		r.mutex.Unlock()
		return nil, err
	}
	r.sessions[streamSid] = s
	r.mutex.Unlock()

	if err := s.Start(); err != nil {
		r.mutex.Lock()
		delete(r.sessions, streamSid)
		r.mutex.Unlock()
		return nil, err
	}
	return s, nil
}

// Get returns the session for a stream.
func (r *Registry) Get(streamSid string) (*CallSession, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	s, ok := r.sessions[streamSid]
	if !ok {
		return nil, errors.NewSessionNotFound(streamSid)
	}
	return s, nil
}

// Remove closes the session for a stream and drops it from the registry.
// Removing an unknown stream is a no-op.
func (r *Registry) Remove(streamSid, reason string) {
	r.mutex.Lock()
	s, ok := r.sessions[streamSid]
	if ok {
		delete(r.sessions, streamSid)
	}
	r.mutex.Unlock()

	if ok {
		s.Close(reason)
	}
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.sessions)
}

// CloseAll tears down every live session, used at shutdown.
func (r *Registry) CloseAll(reason string) {
	r.mutex.Lock()
	sessions := make([]*CallSession, 0, len(r.sessions))
	for streamSid, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, streamSid)
	}
	r.mutex.Unlock()

	for _, s := range sessions {
		s.Close(reason)
		<-s.Done()
	}
	r.logger.WithField("count", len(sessions)).Info("All call sessions closed")
}
