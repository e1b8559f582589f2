// Package protocol describes the chat stream wire format and classifies
// inbound frames. Types are shared by the client and the stream server.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies the kind of stream event.
type EventType string

const (
	EventHealthCheck         EventType = "health.check"
	EventMessageNew          EventType = "message.new"
	EventMessageUpdated      EventType = "message.updated"
	EventMessageDeleted      EventType = "message.deleted"
	EventMessageRead         EventType = "message.read"
	EventReactionNew         EventType = "reaction.new"
	EventTypingStart         EventType = "typing.start"
	EventTypingStop          EventType = "typing.stop"
	EventUserPresenceChanged EventType = "user.presence.changed"
	EventUserWatchingStart   EventType = "user.watching.start"
	EventUserWatchingStop    EventType = "user.watching.stop"
	EventNotificationNew     EventType = "notification.message_new"
	EventChannelUpdated      EventType = "channel.updated"
)

// TokenExpiredCode is the error code the server sends when the credential
// used to open the connection is no longer valid.
const TokenExpiredCode = 40

// User is the subset of user fields carried by stream events.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Online bool   `json:"online,omitempty"`
}

// Message is the subset of message fields carried by message events.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Type      string    `json:"type,omitempty"`
	User      *User     `json:"user,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is a decoded stream event. Only the fields the connection layer and
// the bundled tools look at are typed; Raw keeps the full payload.
type Event struct {
	Type         EventType `json:"type"`
	ConnectionID string    `json:"connection_id,omitempty"`
	CID          string    `json:"cid,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	Me           *User     `json:"me,omitempty"`
	User         *User     `json:"user,omitempty"`
	Message      *Message  `json:"message,omitempty"`

	// ReceivedAt is the local receipt time, independent of server clocks.
	ReceivedAt time.Time       `json:"-"`
	Raw        json.RawMessage `json:"-"`
}

// IsHealthCheck reports whether the event is a health.check.
func (e *Event) IsHealthCheck() bool {
	return e.Type == EventHealthCheck
}

// Text returns the message text of message events, or "".
func (e *Event) Text() string {
	if e.Message == nil {
		return ""
	}
	return e.Message.Text
}

// APIError is the body of an error envelope.
type APIError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"StatusCode,omitempty"`
	Duration   string `json:"duration,omitempty"`
	MoreInfo   string `json:"more_info,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stream error %d: %s", e.Code, e.Message)
}

// IsTokenExpired reports whether the error asks the caller to re-authenticate.
func (e *APIError) IsTokenExpired() bool {
	return e.Code == TokenExpiredCode
}

// ErrorEnvelope is the shape {"error": {...}} used for structured errors.
type ErrorEnvelope struct {
	Error *APIError `json:"error"`
}

// ConnectRequest is the JSON document passed in the "json" query parameter
// of the connect URL.
type ConnectRequest struct {
	UserID                       string `json:"user_id"`
	UserDetails                  User   `json:"user_details"`
	ServerDeterminesConnectionID bool   `json:"server_determines_connection_id"`
}

// HealthCheckFrame is the frame a client sends as its heartbeat.
func HealthCheckFrame() string {
	return `{"type":"health.check"}`
}

// Encode serialises an event for sending.
func Encode(ev *Event) ([]byte, error) {
	return json.Marshal(ev)
}

// EncodeError serialises an error envelope for sending.
func EncodeError(apiErr *APIError) ([]byte, error) {
	return json.Marshal(ErrorEnvelope{Error: apiErr})
}
