// Package transporttest provides an in-memory transport.Factory whose
// transports are driven by the test, standing in for the remote end.
package transporttest

import (
	"sync"

	"github.com/chatstream/chatstream/internal/transport"
)

// Factory records every transport it opens.
type Factory struct {
	mu     sync.Mutex
	opened []*Transport
}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Open(url string, listener transport.Listener) transport.Transport {
	t := &Transport{URL: url, listener: listener}
	f.mu.Lock()
	f.opened = append(f.opened, t)
	f.mu.Unlock()
	return t
}

// Count returns how many transports were opened.
func (f *Factory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

// Last returns the most recently opened transport, or nil.
func (f *Factory) Last() *Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.opened) == 0 {
		return nil
	}
	return f.opened[len(f.opened)-1]
}

// Get returns the i-th opened transport.
func (f *Factory) Get(i int) *Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened[i]
}

// Transport is a fake transport. The exported trigger methods invoke the
// listener the way a real transport goroutine would.
type Transport struct {
	URL      string
	listener transport.Listener

	mu        sync.Mutex
	sent      []string
	closed    bool
	closeCode int
	cancelled bool
}

func (t *Transport) Send(text string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.cancelled {
		return false
	}
	t.sent = append(t.sent, text)
	return true
}

func (t *Transport) Close(code int, reason string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.cancelled {
		return false
	}
	t.closed = true
	t.closeCode = code
	return true
}

func (t *Transport) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
}

// Open simulates a completed handshake.
func (t *Transport) Open() { t.listener.OnOpen() }

// Message simulates an inbound text frame.
func (t *Transport) Message(text string) { t.listener.OnMessage(text) }

// RemoteClose simulates a close frame from the peer.
func (t *Transport) RemoteClose(code int, reason string) { t.listener.OnClosing(code, reason) }

// Fail simulates a transport error.
func (t *Transport) Fail(err error) { t.listener.OnFailure(err) }

// Sent returns the frames accepted by Send.
func (t *Transport) Sent() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}

// ClosedWith reports whether Close was called and with which code.
func (t *Transport) ClosedWith() (bool, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed, t.closeCode
}

// Cancelled reports whether Cancel was called.
func (t *Transport) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}
