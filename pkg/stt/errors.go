package stt

import (
	stderrors "errors"
	"net/http"

	"hotline-server/pkg/errors"
)

// Error definitions
var (
	ErrNoBackendAvailable   = stderrors.New("no speech-to-text backend available")
	ErrBackendNotFound      = stderrors.New("requested speech-to-text backend not found")
	ErrInitializationFailed = stderrors.New("backend initialization failed")
	ErrStreamClosed         = stderrors.New("transcription stream closed")
)

// IsFatal reports whether a backend error should end the owning session.
// Anything else is transient: the session logs it and keeps accepting audio.
func IsFatal(err error) bool {
	return stderrors.Is(err, errors.ErrBackendFatal) ||
		stderrors.Is(err, ErrStreamClosed) ||
		stderrors.Is(err, ErrInitializationFailed)
}

// classifyHTTPStatus maps an HTTP response code from a hosted STT API onto
// the transient/fatal taxonomy. Auth failures kill the session; rate limits
// and server errors do not.
func classifyHTTPStatus(status int, err error) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.NewBackendFatal(err, map[string]interface{}{"status": status})
	default:
		return errors.NewBackendTransient(err, map[string]interface{}{"status": status})
	}
}
