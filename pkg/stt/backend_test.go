package stt

import (
	"context"
	"net/http"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotline-server/pkg/errors"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestRegistryRegisterAndGet(t *testing.T) {
	registry := NewRegistry(testLogger(), "mock-batch")

	batch := NewMockBatchBackend(testLogger())
	require.NoError(t, registry.Register(batch))

	got, ok := registry.Get("mock-batch")
	require.True(t, ok)
	assert.Equal(t, "mock-batch", got.Name())

	_, ok = registry.Get("missing")
	assert.False(t, ok)
}

func TestRegistryDefaultFallback(t *testing.T) {
	registry := NewRegistry(testLogger(), "google")

	streaming := NewMockStreamingBackend(testLogger())
	require.NoError(t, registry.Register(streaming))

	backend, err := registry.Default()
	require.NoError(t, err)
	assert.Equal(t, "mock-streaming", backend.Name())
}

func TestRegistryDefaultEmpty(t *testing.T) {
	registry := NewRegistry(testLogger(), "google")

	_, err := registry.Default()
	assert.ErrorIs(t, err, ErrNoBackendAvailable)
}

func TestMockBatchSubmit(t *testing.T) {
	batch := NewMockBatchBackend(testLogger())

	result, err := batch.Submit(context.Background(), []byte{1, 2, 3, 4}, "call-1")
	require.NoError(t, err)
	assert.True(t, result.IsFinal)
	assert.Equal(t, "transcript of 4 bytes", result.Text)
	assert.Equal(t, 1, batch.SubmitCount())
	assert.Equal(t, []byte{1, 2, 3, 4}, batch.LastSubmit())
}

func TestMockBatchFailNext(t *testing.T) {
	batch := NewMockBatchBackend(testLogger())
	batch.FailNext(errors.NewBackendTransient(nil, nil))

	_, err := batch.Submit(context.Background(), []byte{1}, "call-1")
	require.Error(t, err)
	assert.False(t, IsFatal(err))
	assert.Equal(t, 0, batch.SubmitCount())

	_, err = batch.Submit(context.Background(), []byte{1}, "call-1")
	require.NoError(t, err)
	assert.Equal(t, 1, batch.SubmitCount())
}

func TestMockStreamLifecycle(t *testing.T) {
	backend := NewMockStreamingBackend(testLogger())

	handle, err := backend.OpenStream(context.Background(), "call-1")
	require.NoError(t, err)

	stream := backend.Streams()[0]
	require.NoError(t, handle.Push([]byte{9, 9}))
	assert.Equal(t, []byte{9, 9}, stream.PushedBytes())

	stream.EmitInterim("hel", "agent")
	stream.EmitFinal("hello", "agent")

	first := <-handle.Results()
	assert.False(t, first.IsFinal)
	second := <-handle.Results()
	assert.True(t, second.IsFinal)
	assert.Equal(t, "hello", second.Text)

	require.NoError(t, handle.Close())
	require.NoError(t, handle.Close())
	assert.Equal(t, 2, stream.CloseCount())

	_, open := <-handle.Results()
	assert.False(t, open)
	assert.ErrorIs(t, handle.Push([]byte{1}), ErrStreamClosed)
}

func TestIsFatalClassification(t *testing.T) {
	assert.True(t, IsFatal(errors.NewBackendFatal(nil, nil)))
	assert.True(t, IsFatal(ErrStreamClosed))
	assert.False(t, IsFatal(errors.NewBackendTransient(nil, nil)))
	assert.False(t, IsFatal(nil))
}

func TestClassifyHTTPStatus(t *testing.T) {
	assert.True(t, IsFatal(classifyHTTPStatus(http.StatusUnauthorized, nil)))
	assert.True(t, IsFatal(classifyHTTPStatus(http.StatusForbidden, nil)))
	assert.False(t, IsFatal(classifyHTTPStatus(http.StatusTooManyRequests, nil)))
	assert.False(t, IsFatal(classifyHTTPStatus(http.StatusInternalServerError, nil)))
}
