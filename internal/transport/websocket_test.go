package transport

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// recordingListener turns callbacks into strings on a channel.
type recordingListener struct {
	events chan string
}

func newRecordingListener() *recordingListener {
	return &recordingListener{events: make(chan string, 32)}
}

func (l *recordingListener) OnOpen()               { l.events <- "open" }
func (l *recordingListener) OnMessage(text string) { l.events <- "message:" + text }
func (l *recordingListener) OnClosing(code int, reason string) {
	l.events <- fmt.Sprintf("closing:%d", code)
}
func (l *recordingListener) OnFailure(err error) { l.events <- "failure" }

func (l *recordingListener) next(t *testing.T) string {
	t.Helper()
	select {
	case ev := <-l.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transport callback")
		return ""
	}
}

// startTestServer upgrades every request and hands the server-side
// connection to the test.
func startTestServer(t *testing.T) (string, <-chan *websocket.Conn) {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- c
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), connCh
}

func waitServerConn(t *testing.T, connCh <-chan *websocket.Conn) *websocket.Conn {
	t.Helper()
	select {
	case c := <-connCh:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server-side WebSocket connection")
		return nil
	}
}

func newTestFactory(t *testing.T) *WebSocketFactory {
	return NewWebSocketFactory(Options{HandshakeTimeout: 2 * time.Second}, zaptest.NewLogger(t))
}

func TestWebSocketDeliversOpenAndMessages(t *testing.T) {
	url, connCh := startTestServer(t)
	l := newRecordingListener()
	tr := newTestFactory(t).Open(url, l)
	defer tr.Cancel()

	server := waitServerConn(t, connCh)
	require.Equal(t, "open", l.next(t))

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"message.new"}`)))
	require.NoError(t, server.WriteMessage(websocket.BinaryMessage, []byte{0x01}))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"typing.start"}`)))

	assert.Equal(t, `message:{"type":"message.new"}`, l.next(t))
	assert.Equal(t, `message:{"type":"typing.start"}`, l.next(t), "binary frames are skipped")
}

func TestWebSocketSend(t *testing.T) {
	url, connCh := startTestServer(t)
	l := newRecordingListener()
	tr := newTestFactory(t).Open(url, l)
	defer tr.Cancel()

	server := waitServerConn(t, connCh)
	require.Equal(t, "open", l.next(t))

	require.True(t, tr.Send(`{"type":"health.check"}`))

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := server.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Equal(t, `{"type":"health.check"}`, string(data))
}

func TestWebSocketSendBeforeOpenIsRejected(t *testing.T) {
	// Accepts TCP but never completes the handshake.
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	tr := newTestFactory(t).Open("ws"+strings.TrimPrefix(srv.URL, "http"), newRecordingListener())
	defer tr.Cancel()

	assert.False(t, tr.Send("early"))
}

func TestWebSocketRemoteNormalClose(t *testing.T) {
	url, connCh := startTestServer(t)
	l := newRecordingListener()
	tr := newTestFactory(t).Open(url, l)
	defer tr.Cancel()

	server := waitServerConn(t, connCh)
	require.Equal(t, "open", l.next(t))

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	require.NoError(t, server.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))

	assert.Equal(t, "closing:1000", l.next(t))
	for i := 0; i < 3; i++ {
		assert.False(t, tr.Send("after close"), "send %d after the peer closed", i)
	}
}

func TestWebSocketAbnormalDisconnect(t *testing.T) {
	url, connCh := startTestServer(t)
	l := newRecordingListener()
	tr := newTestFactory(t).Open(url, l)
	defer tr.Cancel()

	server := waitServerConn(t, connCh)
	require.Equal(t, "open", l.next(t))

	// Drop the TCP connection without a close frame.
	server.UnderlyingConn().Close()

	got := l.next(t)
	assert.NotEqual(t, "closing:1000", got)
	assert.True(t, got == "closing:1006" || got == "failure", "unexpected terminal callback %q", got)
	assert.False(t, tr.Send("lost"), "send after a dropped connection")

	// Exactly one terminal callback.
	assert.Never(t, func() bool { return len(l.events) > 0 }, 200*time.Millisecond, 20*time.Millisecond)
}

func TestWebSocketDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	l := newRecordingListener()
	tr := newTestFactory(t).Open("ws"+strings.TrimPrefix(srv.URL, "http"), l)
	defer tr.Cancel()

	assert.Equal(t, "failure", l.next(t))
}

func TestWebSocketLocalCloseSendsCode(t *testing.T) {
	url, connCh := startTestServer(t)
	l := newRecordingListener()
	tr := newTestFactory(t).Open(url, l)

	server := waitServerConn(t, connCh)
	require.Equal(t, "open", l.next(t))

	require.True(t, tr.Close(CloseNormal, "client shutdown"))
	assert.False(t, tr.Close(CloseNormal, "again"), "second close is a no-op")

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := server.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close error, got %v", err)
	assert.Equal(t, CloseNormal, closeErr.Code)

	assert.Never(t, func() bool { return len(l.events) > 0 }, 200*time.Millisecond, 20*time.Millisecond,
		"no callbacks after a local close")
}

func TestWebSocketCancelSuppressesCallbacks(t *testing.T) {
	url, connCh := startTestServer(t)
	l := newRecordingListener()
	tr := newTestFactory(t).Open(url, l)

	server := waitServerConn(t, connCh)
	require.Equal(t, "open", l.next(t))

	tr.Cancel()
	_ = server.WriteMessage(websocket.TextMessage, []byte(`{"type":"message.new"}`))

	assert.Never(t, func() bool { return len(l.events) > 0 }, 200*time.Millisecond, 20*time.Millisecond)
}
