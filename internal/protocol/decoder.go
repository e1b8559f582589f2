package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
)

// ErrMissingType is reported for JSON objects without a "type" field.
var ErrMissingType = errors.New("protocol: event has no type")

// FrameKind classifies a decoded frame.
type FrameKind int

const (
	FrameMalformed FrameKind = iota
	FrameEvent
	FrameError
	FrameTokenExpired
)

func (k FrameKind) String() string {
	switch k {
	case FrameMalformed:
		return "malformed"
	case FrameEvent:
		return "event"
	case FrameError:
		return "error"
	case FrameTokenExpired:
		return "token_expired"
	default:
		return "unknown"
	}
}

// Frame is the result of decoding one inbound text frame. Exactly one of
// Event, Err or DecodeErr is set, according to Kind.
type Frame struct {
	Kind      FrameKind
	Event     *Event
	Err       *APIError
	DecodeErr error
}

// Decoder classifies raw frames and stamps events with the local receipt time.
type Decoder struct {
	clock clockwork.Clock
}

func NewDecoder(clock clockwork.Clock) *Decoder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Decoder{clock: clock}
}

// Decode classifies raw. A populated error envelope wins over event parsing.
func (d *Decoder) Decode(raw string) Frame {
	data := []byte(raw)

	var env ErrorEnvelope
	if err := json.Unmarshal(data, &env); err == nil && env.Error != nil {
		if env.Error.IsTokenExpired() {
			return Frame{Kind: FrameTokenExpired, Err: env.Error}
		}
		return Frame{Kind: FrameError, Err: env.Error}
	}

	ev, err := decodeEvent(data)
	if err != nil {
		return Frame{Kind: FrameMalformed, DecodeErr: err}
	}
	ev.ReceivedAt = d.clock.Now()
	return Frame{Kind: FrameEvent, Event: ev}
}

// decodeEvent parses an event. Fields beyond "type" are opaque, so when the
// typed fields do not fit only the type is kept.
func decodeEvent(data []byte) (*Event, error) {
	ev := &Event{}
	if err := json.Unmarshal(data, ev); err != nil {
		var hdr struct {
			Type         EventType `json:"type"`
			ConnectionID string    `json:"connection_id"`
		}
		if herr := json.Unmarshal(data, &hdr); herr != nil {
			return nil, fmt.Errorf("decode event: %w", herr)
		}
		ev = &Event{Type: hdr.Type, ConnectionID: hdr.ConnectionID}
	}
	if ev.Type == "" {
		return nil, ErrMissingType
	}
	ev.Raw = append(json.RawMessage(nil), data...)
	return ev, nil
}
