package socket

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// FrameType identifies the payload of a socket frame.
type FrameType string

const (
	FrameEvent FrameType = "event"
	FramePing  FrameType = "ping"
	FramePong  FrameType = "pong"
	FrameError FrameType = "error"
)

// Frame is the JSON envelope of every socket message. Client event frames
// carry a protocol.Event; server event frames carry a protocol.StateUpdate
// and a unique ID.
type Frame struct {
	Type FrameType       `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ErrorData is the payload of an error frame.
type ErrorData struct {
	Message string `json:"message"`
}

// NewFrame encodes data into a frame of the given type. Event frames are
// assigned a time-ordered ID.
func NewFrame(typ FrameType, data any) (Frame, error) {
	f := Frame{Type: typ}
	if typ == FrameEvent {
		id, err := uuid.NewV7()
		if err != nil {
			return Frame{}, fmt.Errorf("frame id: %w", err)
		}
		f.ID = id.String()
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Frame{}, fmt.Errorf("encode %s frame: %w", typ, err)
		}
		f.Data = raw
	}
	return f, nil
}

func pongFrame() Frame {
	return Frame{Type: FramePong, Data: json.RawMessage(`"pong"`)}
}

func errorFrame(err error) Frame {
	raw, _ := json.Marshal(ErrorData{Message: err.Error()})
	return Frame{Type: FrameError, Data: raw}
}
