package gateway

import (
	"encoding/json"

	"hotline-server/pkg/errors"
)

// Control message event names on the media-stream connection.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventVAD       = "vad"
	EventStop      = "stop"
)

// StartPayload carries call metadata on the start message.
type StartPayload struct {
	CallSid string   `json:"callSid,omitempty"`
	Tracks  []string `json:"tracks,omitempty"`
}

// MediaPayload carries one encoded audio frame.
type MediaPayload struct {
	Payload string `json:"payload"`
}

// StopPayload carries call metadata on the stop message.
type StopPayload struct {
	CallSid string `json:"callSid,omitempty"`
}

// ControlMessage is one JSON message on a media-stream connection.
type ControlMessage struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid,omitempty"`
	Status    string        `json:"status,omitempty"`
	Start     *StartPayload `json:"start,omitempty"`
	Media     *MediaPayload `json:"media,omitempty"`
	Stop      *StopPayload  `json:"stop,omitempty"`
}

// ParseControlMessage decodes a raw transport frame. Messages without an
// event name are invalid.
func ParseControlMessage(raw []byte) (*ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidMessage, err.Error())
	}
	if msg.Event == "" {
		return nil, errors.Wrap(errors.ErrInvalidMessage, "missing event field")
	}
	return &msg, nil
}
