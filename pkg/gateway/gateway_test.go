package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotline-server/pkg/callinfo"
	"hotline-server/pkg/events"
	"hotline-server/pkg/session"
	"hotline-server/pkg/stt"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

type failingResolver struct{}

func (failingResolver) Resolve(_ context.Context, _ string) (callinfo.CallerInfo, error) {
	return callinfo.CallerInfo{}, fmt.Errorf("lookup down")
}

func newTestGateway(t *testing.T, resolver callinfo.Resolver) (*Gateway, *session.Registry, *stt.MockStreamingBackend) {
	t.Helper()
	logger := testLogger()
	backend := stt.NewMockStreamingBackend(logger)
	fanout := events.NewFanout(logger)
	t.Cleanup(fanout.Close)

	registry := session.NewRegistry(backend, fanout, session.Config{}, logger)
	t.Cleanup(func() { registry.CloseAll("test") })
	return NewGateway(registry, resolver, logger), registry, backend
}

func rawMessage(t *testing.T, msg ControlMessage) []byte {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return raw
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestStartCreatesSession(t *testing.T) {
	g, registry, _ := newTestGateway(t, callinfo.StaticResolver{CallerID: "+15550001111"})
	b := newBinding()

	g.handleMessage(b, rawMessage(t, ControlMessage{
		Event:     EventStart,
		StreamSid: "s1",
		Start:     &StartPayload{CallSid: "CA1"},
	}))

	s, err := registry.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, "+15550001111", s.CallerID)
	assert.Contains(t, b.streams, "s1")
}

func TestDuplicateStartIsNoOp(t *testing.T) {
	g, registry, backend := newTestGateway(t, callinfo.StaticResolver{CallerID: "x"})
	b := newBinding()

	start := rawMessage(t, ControlMessage{Event: EventStart, StreamSid: "s1"})
	g.handleMessage(b, start)
	g.handleMessage(b, start)

	assert.Equal(t, 1, registry.Count())
	assert.Len(t, backend.Streams(), 1)
}

func TestMediaForUnknownStreamDropped(t *testing.T) {
	g, registry, _ := newTestGateway(t, nil)
	b := newBinding()

	g.handleMessage(b, rawMessage(t, ControlMessage{
		Event:     EventMedia,
		StreamSid: "ghost",
		Media:     &MediaPayload{Payload: base64.StdEncoding.EncodeToString([]byte{0xFF})},
	}))

	assert.Equal(t, 0, registry.Count())
}

func TestStopRemovesSession(t *testing.T) {
	g, registry, backend := newTestGateway(t, nil)
	b := newBinding()

	g.handleMessage(b, rawMessage(t, ControlMessage{Event: EventStart, StreamSid: "s1"}))
	require.Equal(t, 1, registry.Count())

	g.handleMessage(b, rawMessage(t, ControlMessage{Event: EventStop, StreamSid: "s1"}))
	assert.Equal(t, 0, registry.Count())
	assert.NotContains(t, b.streams, "s1")
	waitFor(t, func() bool { return backend.Streams()[0].CloseCount() == 1 }, "backend stream closed")

	// Media after stop is dropped, never an error to the transport.
	g.handleMessage(b, rawMessage(t, ControlMessage{
		Event:     EventMedia,
		StreamSid: "s1",
		Media:     &MediaPayload{Payload: base64.StdEncoding.EncodeToString([]byte{0xFF})},
	}))
	assert.Equal(t, 0, registry.Count())
}

func TestInvalidMessagesDropped(t *testing.T) {
	g, registry, _ := newTestGateway(t, nil)
	b := newBinding()

	g.handleMessage(b, []byte("not json"))
	g.handleMessage(b, []byte(`{"streamSid": "s1"}`))
	g.handleMessage(b, rawMessage(t, ControlMessage{Event: "mystery", StreamSid: "s1"}))
	g.handleMessage(b, rawMessage(t, ControlMessage{Event: EventStart}))

	assert.Equal(t, 0, registry.Count())
}

func TestResolverFailureUsesPlaceholder(t *testing.T) {
	g, registry, _ := newTestGateway(t, failingResolver{})
	b := newBinding()

	g.handleMessage(b, rawMessage(t, ControlMessage{
		Event:     EventStart,
		StreamSid: "s1",
		Start:     &StartPayload{CallSid: "CA1"},
	}))

	s, err := registry.Get("s1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(s.CallerID, "caller-"))
}

func TestTransportCloseTearsDownSessions(t *testing.T) {
	g, registry, backend := newTestGateway(t, nil)

	server := httptest.NewServer(g)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, rawMessage(t, ControlMessage{
		Event:     EventStart,
		StreamSid: "s1",
	})))
	waitFor(t, func() bool { return registry.Count() == 1 }, "session created")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, rawMessage(t, ControlMessage{
		Event:     EventMedia,
		StreamSid: "s1",
		Media:     &MediaPayload{Payload: base64.StdEncoding.EncodeToString(make([]byte, 160))},
	})))
	waitFor(t, func() bool {
		streams := backend.Streams()
		return len(streams) == 1 && len(streams[0].PushedBytes()) == 160*2
	}, "media forwarded")

	// Abnormal disconnect: no stop message.
	conn.Close()
	waitFor(t, func() bool { return registry.Count() == 0 }, "session torn down")
	waitFor(t, func() bool { return backend.Streams()[0].CloseCount() == 1 }, "backend stream closed")
}
