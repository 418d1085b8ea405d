package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"hotline-server/pkg/events"
)

// Client is one connected UI WebSocket client. Clients may subscribe to a
// single stream via the streamSid query parameter or receive everything.
type Client struct {
	hub       *TranscriptionHub
	conn      *websocket.Conn
	send      chan []byte
	streamSid string
}

// TranscriptionHub fans pipeline events out to connected browser clients.
// It subscribes to the event fanout and re-broadcasts as JSON text frames.
type TranscriptionHub struct {
	logger            *logrus.Logger
	clients           map[*Client]bool
	streamSubscribers map[string]map[*Client]bool
	broadcast         chan events.Event
	register          chan *Client
	unregister        chan *Client
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewTranscriptionHub creates a live-transcription hub.
func NewTranscriptionHub(logger *logrus.Logger) *TranscriptionHub {
	return &TranscriptionHub{
		logger:            logger,
		clients:           make(map[*Client]bool),
		streamSubscribers: make(map[string]map[*Client]bool),
		broadcast:         make(chan events.Event, 256),
		register:          make(chan *Client),
		unregister:        make(chan *Client),
	}
}

// OnEvent implements events.Listener; the hub drops events rather than
// blocking the fanout when its broadcast queue backs up.
func (h *TranscriptionHub) OnEvent(event events.Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.WithField("event", event.Kind).Debug("Hub broadcast queue full, dropping event")
	}
}

// Run owns all client membership state; register, unregister, and broadcast
// are serialized here.
func (h *TranscriptionHub) Run(ctx context.Context) {
	h.logger.Info("Starting live-transcription hub")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Shutting down live-transcription hub")
			for client := range h.clients {
				close(client.send)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			if client.streamSid != "" {
				if _, exists := h.streamSubscribers[client.streamSid]; !exists {
					h.streamSubscribers[client.streamSid] = make(map[*Client]bool)
				}
				h.streamSubscribers[client.streamSid][client] = true
			}
			h.logger.WithField("stream_sid", client.streamSid).Info("UI client connected")

		case client := <-h.unregister:
			h.drop(client)

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.WithError(err).Error("Failed to marshal event for UI clients")
				continue
			}

			if subscribers, exists := h.streamSubscribers[event.StreamSid]; exists {
				for client := range subscribers {
					h.deliver(client, data)
				}
			}
			for client := range h.clients {
				if client.streamSid != "" {
					continue
				}
				h.deliver(client, data)
			}
		}
	}
}

func (h *TranscriptionHub) deliver(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		h.drop(client)
	}
}

func (h *TranscriptionHub) drop(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)

	if client.streamSid != "" {
		if subscribers, exists := h.streamSubscribers[client.streamSid]; exists {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.streamSubscribers, client.streamSid)
			}
		}
	}
	h.logger.Info("UI client disconnected")
}

// ServeWs upgrades a UI client connection and attaches it to the hub.
func (h *TranscriptionHub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade UI connection")
		return
	}

	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, 256),
		streamSid: r.URL.Query().Get("streamSid"),
	}

	h.register <- client
	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(60 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
