package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultSendBuffer       = 64
	maxMessageSize          = 1 << 20
)

// Options tunes websocket transports.
type Options struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	SendBuffer       int
	Header           http.Header
}

// WebSocketFactory opens gorilla/websocket transports.
type WebSocketFactory struct {
	opts   Options
	dialer *websocket.Dialer
	logger *zap.Logger
}

func NewWebSocketFactory(opts Options, logger *zap.Logger) *WebSocketFactory {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	return &WebSocketFactory{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		logger: logger,
	}
}

// Open starts dialing url in the background and returns immediately.
func (f *WebSocketFactory) Open(url string, listener Listener) Transport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &wsTransport{
		logger:       f.logger,
		listener:     listener,
		writeTimeout: f.opts.WriteTimeout,
		send:         make(chan []byte, f.opts.SendBuffer),
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	go t.run(ctx, f.dialer, url, f.opts.Header)
	return t
}

type wsTransport struct {
	logger       *zap.Logger
	listener     Listener
	writeTimeout time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool // closed or cancelled locally; callbacks are suppressed

	send     chan []byte
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
	termOnce sync.Once
}

func (t *wsTransport) run(ctx context.Context, dialer *websocket.Dialer, url string, header http.Header) {
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		} else {
			err = fmt.Errorf("dial: %w", err)
		}
		t.teardown()
		t.terminal(func(l Listener) { l.OnFailure(err) })
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return
	}
	t.conn = conn
	t.mu.Unlock()

	conn.SetReadLimit(maxMessageSize)

	t.emit(func(l Listener) { l.OnOpen() })

	go t.writePump(conn)
	t.readLoop(conn)
}

func (t *wsTransport) readLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			// Tear down first so Send is already rejected when the
			// listener hears about it.
			t.teardown()
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				t.terminal(func(l Listener) { l.OnClosing(closeErr.Code, closeErr.Text) })
			} else {
				t.terminal(func(l Listener) { l.OnFailure(fmt.Errorf("read: %w", err)) })
			}
			return
		}

		// Only text frames carry events.
		if messageType != websocket.TextMessage {
			t.logger.Debug("Ignoring non-text frame", zap.Int("message_type", messageType))
			continue
		}
		t.emit(func(l Listener) { l.OnMessage(string(data)) })
	}
}

func (t *wsTransport) writePump(conn *websocket.Conn) {
	for {
		select {
		case msg := <-t.send:
			conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				t.teardown()
				t.terminal(func(l Listener) { l.OnFailure(fmt.Errorf("write: %w", err)) })
				return
			}
		case <-t.done:
			return
		}
	}
}

func (t *wsTransport) Send(text string) bool {
	select {
	case <-t.done:
		return false
	default:
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.conn == nil {
		return false
	}
	select {
	case t.send <- []byte(text):
		return true
	default:
		t.logger.Warn("Send buffer full, dropping frame")
		return false
	}
}

func (t *wsTransport) Close(code int, reason string) bool {
	conn, ok := t.markClosed()
	if !ok {
		return false
	}
	if conn != nil {
		msg := websocket.FormatCloseMessage(code, reason)
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.writeTimeout)); err != nil {
			t.logger.Debug("Failed to write close frame", zap.Error(err))
		}
	}
	t.teardown()
	return true
}

func (t *wsTransport) Cancel() {
	if _, ok := t.markClosed(); ok {
		t.teardown()
	}
}

func (t *wsTransport) markClosed() (*websocket.Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, false
	}
	t.closed = true
	return t.conn, true
}

// emit delivers a callback unless the transport was closed locally.
func (t *wsTransport) emit(fn func(Listener)) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if !closed {
		fn(t.listener)
	}
}

// terminal delivers the single closing/failure callback.
func (t *wsTransport) terminal(fn func(Listener)) {
	t.termOnce.Do(func() { t.emit(fn) })
}

func (t *wsTransport) teardown() {
	t.doneOnce.Do(func() {
		t.cancel()
		close(t.done)
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	})
}
