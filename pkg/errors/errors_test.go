package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelMatching(t *testing.T) {
	err := NewSessionNotFound("MZ123")
	assert.True(t, stderrors.Is(err, ErrSessionNotFound))
	assert.False(t, stderrors.Is(err, ErrSessionAlreadyExist))
	assert.Equal(t, "SESSION_NOT_FOUND", err.Code)
	assert.Equal(t, "MZ123", err.GetFields()["stream_sid"])
}

func TestWrapPreservesChain(t *testing.T) {
	base := stderrors.New("connection reset")
	err := NewBackendTransient(base)
	assert.True(t, stderrors.Is(err, ErrBackendTransient))
	assert.Contains(t, err.Error(), "connection reset")

	wrapped := Wrap(err, "submitting utterance")
	assert.True(t, stderrors.Is(wrapped, ErrBackendTransient))
	assert.Equal(t, "BACKEND_TRANSIENT", GetErrorCode(wrapped))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "anything"))
}

func TestWithFieldCopies(t *testing.T) {
	err := New("boom", map[string]interface{}{"a": 1})
	err2 := err.WithField("b", 2)

	assert.Len(t, err.GetFields(), 1)
	assert.Len(t, err2.GetFields(), 2)
	assert.NotEmpty(t, err.Location())
}

func TestDecodeErrorCode(t *testing.T) {
	err := NewDecodeError("truncated RIFF header")
	assert.True(t, stderrors.Is(err, ErrDecodeFailed))
	assert.Equal(t, "DECODE_FAILED", GetErrorCode(err))
}
