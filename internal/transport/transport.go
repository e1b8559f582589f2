// Package transport owns the raw socket under a stream connection.
//
// A Transport is opened asynchronously and reports everything that happens
// to it through a Listener. Callbacks run on transport goroutines; callers
// are expected to hand them off rather than do work inline.
package transport

// Listener receives the lifecycle of a single transport. Exactly one of
// OnClosing or OnFailure is delivered per transport, and none after the
// transport was closed or cancelled locally.
type Listener interface {
	OnOpen()
	OnMessage(text string)
	OnClosing(code int, reason string)
	OnFailure(err error)
}

// Transport is one underlying connection.
type Transport interface {
	// Send queues a text frame. It reports false if the frame was not
	// accepted (not open yet, closed, or the send buffer is full).
	Send(text string) bool
	// Close sends a close frame with code and tears the connection down.
	Close(code int, reason string) bool
	// Cancel tears the connection down without a close handshake.
	Cancel()
}

// Factory opens transports. Open must not block.
type Factory interface {
	Open(url string, listener Listener) Transport
}

// Close codes used by the connection layer.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)
