package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotline-server/pkg/events"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func dialHub(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event events.Event
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

func TestHubBroadcastsToAllClients(t *testing.T) {
	hub := NewTranscriptionHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	defer server.Close()

	first := dialHub(t, server, "")
	second := dialHub(t, server, "")
	time.Sleep(50 * time.Millisecond)

	hub.OnEvent(events.Event{Kind: events.KindFinal, StreamSid: "s1", Text: "hello"})

	for _, conn := range []*websocket.Conn{first, second} {
		event := readEvent(t, conn)
		assert.Equal(t, events.KindFinal, event.Kind)
		assert.Equal(t, "hello", event.Text)
	}
}

func TestHubStreamSubscriptionFilters(t *testing.T) {
	hub := NewTranscriptionHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	defer server.Close()

	subscribed := dialHub(t, server, "?streamSid=s1")
	time.Sleep(50 * time.Millisecond)

	hub.OnEvent(events.Event{Kind: events.KindFinal, StreamSid: "s2", Text: "other call"})
	hub.OnEvent(events.Event{Kind: events.KindFinal, StreamSid: "s1", Text: "my call"})

	event := readEvent(t, subscribed)
	assert.Equal(t, "s1", event.StreamSid)
	assert.Equal(t, "my call", event.Text)
}
