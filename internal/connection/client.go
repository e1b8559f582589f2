// Package connection keeps a chat event stream connected.
//
// A Client opens a transport, watches the stream for liveness, reconnects
// with randomized backoff after failures and reports what happened through
// a Handler. Everything the Handler sees is delivered on one goroutine in
// the order it happened.
package connection

import (
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/chatstream/chatstream/internal/protocol"
	"github.com/chatstream/chatstream/internal/transport"
	"go.uber.org/zap"
)

// Client is the public face of a stream connection.
type Client struct {
	opts    Options
	base    *url.URL
	factory transport.Factory
	decoder *protocol.Decoder
	logger  *zap.Logger

	// attempt counts transports opened over the life of the Client.
	attempt atomic.Int64

	hmu     sync.RWMutex
	handler Handler

	mu    sync.Mutex
	creds Credentials
	sess  *session
}

// New creates a Client. A nil factory dials real websockets; a nil handler
// drops every callback.
func New(opts Options, handler Handler, factory transport.Factory) (*Client, error) {
	opts.setDefaults()

	base, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse connect url: %w", err)
	}
	if base.Scheme != "ws" && base.Scheme != "wss" {
		return nil, fmt.Errorf("connect url must use ws or wss, got %q", opts.URL)
	}

	if factory == nil {
		factory = transport.NewWebSocketFactory(transport.Options{}, opts.Logger)
	}
	if handler == nil {
		handler = NopHandler{}
	}

	return &Client{
		opts:    opts,
		base:    base,
		factory: factory,
		decoder: protocol.NewDecoder(opts.Clock),
		logger:  opts.Logger,
		handler: handler,
		creds:   opts.Credentials,
	}, nil
}

// SetHandler replaces the handler. It takes effect from the next callback.
func (c *Client) SetHandler(h Handler) {
	if h == nil {
		h = NopHandler{}
	}
	c.hmu.Lock()
	c.handler = h
	c.hmu.Unlock()
}

func (c *Client) currentHandler() Handler {
	c.hmu.RLock()
	defer c.hmu.RUnlock()
	return c.handler
}

// SetCredentials replaces the credentials used by the next transport, for
// example after OnTokenExpired.
func (c *Client) SetCredentials(creds Credentials) {
	c.mu.Lock()
	c.creds = creds
	c.mu.Unlock()
}

func (c *Client) endpoint() string {
	c.mu.Lock()
	creds := c.creds
	c.mu.Unlock()
	return Endpoint(c.base, creds)
}

// Connect starts a new session and returns without waiting for the
// transport to open. It does nothing while a connection attempt is already
// in flight. A live session is shut down and replaced.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev := c.sess; prev != nil {
		if prev.Status() == StatusConnecting {
			c.logger.Info("Connect called while already connecting, ignoring")
			return
		}
		prev.shutdown("replaced by a new connect")
	}

	s := newSession(c)
	c.sess = s
	s.start()
}

// Disconnect closes the transport normally and cancels every pending timer.
// No handler callback is delivered afterwards. It does not wait for the
// dispatch goroutine.
func (c *Client) Disconnect() {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s != nil {
		s.shutdown("client disconnect")
	}
}

// Send writes text on the live transport. It reports whether the frame was
// accepted; there is no delivery acknowledgment.
func (c *Client) Send(text string) bool {
	s := c.session()
	if s == nil {
		return false
	}
	return s.send(text)
}

// Status returns the status of the current session.
func (c *Client) Status() Status {
	s := c.session()
	if s == nil {
		return StatusIdle
	}
	return s.Status()
}

// ConnectionID returns the id the server assigned to the current transport.
func (c *Client) ConnectionID() string {
	s := c.session()
	if s == nil {
		return ""
	}
	return s.ConnectionID()
}

// Attempt returns how many transports have been opened so far.
func (c *Client) Attempt() int64 {
	return c.attempt.Load()
}

// Failures returns the consecutive failure count of the current session.
func (c *Client) Failures() int {
	s := c.session()
	if s == nil {
		return 0
	}
	return s.Failures()
}

func (c *Client) session() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}
