package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"hotline-server/pkg/callinfo"
	"hotline-server/pkg/metrics"
	"hotline-server/pkg/session"
)

// Gateway terminates media-stream WebSocket connections and drives the
// session registry from control messages. Each connection gets its own read
// loop; sessions bound to a connection are torn down when it drops, whether
// or not a stop message arrived first.
type Gateway struct {
	logger   *logrus.Logger
	registry *session.Registry
	resolver callinfo.Resolver
	upgrader websocket.Upgrader

	resolveTimeout time.Duration
}

// NewGateway creates a connection gateway.
func NewGateway(registry *session.Registry, resolver callinfo.Resolver, logger *logrus.Logger) *Gateway {
	return &Gateway{
		logger:   logger,
		registry: registry,
		resolver: resolver,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		resolveTimeout: 5 * time.Second,
	}
}

// ServeHTTP upgrades the connection and runs its read loop until the peer
// disconnects.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.WithError(err).Error("Failed to upgrade media-stream connection")
		return
	}

	g.logger.WithField("remote", conn.RemoteAddr().String()).Info("Media-stream connection opened")
	g.readLoop(conn)
}

func (g *Gateway) readLoop(conn *websocket.Conn) {
	binding := newBinding()
	defer func() {
		conn.Close()
		g.closeBound(binding, "transport_close")
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.WithError(err).Warn("Media-stream connection dropped")
			}
			return
		}
		g.handleMessage(binding, raw)
	}
}

// binding tracks which streams a single transport connection owns, so an
// abnormal disconnect can tear down exactly those sessions.
type binding struct {
	streams map[string]struct{}
}

func newBinding() *binding {
	return &binding{streams: make(map[string]struct{})}
}

// handleMessage routes one control message. Errors never propagate to the
// transport: bad messages and unknown streams are logged and dropped.
func (g *Gateway) handleMessage(b *binding, raw []byte) {
	msg, err := ParseControlMessage(raw)
	if err != nil {
		metrics.IncDroppedMessage("invalid_message")
		g.logger.WithError(err).Warn("Dropping unparseable control message")
		return
	}

	switch msg.Event {
	case EventConnected:
		g.logger.Debug("Media-stream handshake complete")

	case EventStart:
		g.handleStart(b, msg)

	case EventMedia:
		if msg.Media == nil {
			metrics.IncDroppedMessage("invalid_message")
			g.logger.WithField("stream_sid", msg.StreamSid).Warn("Media message without payload")
			return
		}
		s, err := g.registry.Get(msg.StreamSid)
		if err != nil {
			metrics.IncDroppedMessage("unknown_stream")
			g.logger.WithField("stream_sid", msg.StreamSid).Warn("Dropping media for unknown stream")
			return
		}
		if err := s.EnqueueMedia(msg.Media.Payload); err != nil {
			metrics.IncDroppedMessage("session_closed")
			g.logger.WithField("stream_sid", msg.StreamSid).Debug("Dropping media for closed session")
		}

	case EventVAD:
		if msg.Status != "silence" {
			return
		}
		s, err := g.registry.Get(msg.StreamSid)
		if err != nil {
			metrics.IncDroppedMessage("unknown_stream")
			g.logger.WithField("stream_sid", msg.StreamSid).Warn("Dropping silence signal for unknown stream")
			return
		}
		if err := s.EnqueueSilence(); err != nil {
			metrics.IncDroppedMessage("session_closed")
		}

	case EventStop:
		g.registry.Remove(msg.StreamSid, "stop")
		delete(b.streams, msg.StreamSid)
		g.logger.WithField("stream_sid", msg.StreamSid).Info("Stream stopped")

	default:
		metrics.IncDroppedMessage("unknown_event")
		g.logger.WithField("event", msg.Event).Warn("Dropping unknown control message")
	}
}

func (g *Gateway) handleStart(b *binding, msg *ControlMessage) {
	if msg.StreamSid == "" {
		metrics.IncDroppedMessage("invalid_message")
		g.logger.Warn("Start message without stream SID")
		return
	}

	callSid := ""
	if msg.Start != nil {
		callSid = msg.Start.CallSid
	}

	callerID := g.resolveCaller(callSid)
	if _, err := g.registry.Create(msg.StreamSid, callSid, callerID); err != nil {
		g.logger.WithError(err).WithField("stream_sid", msg.StreamSid).Error("Failed to create call session")
		return
	}
	b.streams[msg.StreamSid] = struct{}{}

	g.logger.WithFields(logrus.Fields{
		"stream_sid": msg.StreamSid,
		"call_sid":   callSid,
		"caller_id":  callerID,
	}).Info("Stream started")
}

// resolveCaller looks up caller metadata, degrading to a placeholder label
// on any failure.
func (g *Gateway) resolveCaller(callSid string) string {
	if g.resolver == nil || callSid == "" {
		return callinfo.Placeholder()
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.resolveTimeout)
	defer cancel()

	info, err := g.resolver.Resolve(ctx, callSid)
	if err != nil || info.CallerID == "" {
		g.logger.WithError(err).WithField("call_sid", callSid).Warn("Caller lookup failed, using placeholder")
		return callinfo.Placeholder()
	}
	return info.CallerID
}

func (g *Gateway) closeBound(b *binding, reason string) {
	for streamSid := range b.streams {
		g.logger.WithField("stream_sid", streamSid).Info("Closing session for dropped connection")
		g.registry.Remove(streamSid, reason)
	}
}
