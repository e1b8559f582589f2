package app

import (
	"sync"
	"sync/atomic"

	"github.com/chatstream/chatstream/internal/protocol"
	tea "github.com/charmbracelet/bubbletea"
)

// --- Bubble Tea messages ---

// ResolvedMsg is sent with the first event of a connection attempt.
type ResolvedMsg struct{ Event *protocol.Event }

// RecoveredMsg is sent when a reconnect attempt opens.
type RecoveredMsg struct{}

// OnlineMsg is sent when the connection becomes healthy.
type OnlineMsg struct{}

// OfflineMsg is sent once the connection has been unhealthy past the grace
// period.
type OfflineMsg struct{}

// TokenExpiredMsg asks the user to refresh credentials.
type TokenExpiredMsg struct{}

// ErrorMsg wraps a structured server error.
type ErrorMsg struct{ Err *protocol.APIError }

// EventMsg delivers one stream event.
type EventMsg struct{ Event *protocol.Event }

const bridgeBuffer = 256

// Bridge turns connection callbacks into Bubble Tea messages. Callbacks
// never block. Stream events go through a bounded buffer and are dropped
// and counted when the UI falls behind; lifecycle messages are queued
// without loss, with repeats of the same state coalesced.
type Bridge struct {
	events  chan tea.Msg
	dropped atomic.Int64

	mu      sync.Mutex
	pending []tea.Msg
	wake    chan struct{}
}

func NewBridge() *Bridge {
	return &Bridge{
		events: make(chan tea.Msg, bridgeBuffer),
		wake:   make(chan struct{}, 1),
	}
}

func (b *Bridge) pushEvent(msg tea.Msg) {
	select {
	case b.events <- msg:
	default:
		b.dropped.Add(1)
	}
}

func (b *Bridge) pushLifecycle(msg tea.Msg) {
	b.mu.Lock()
	if n := len(b.pending); n > 0 && coalesces(b.pending[n-1], msg) {
		b.mu.Unlock()
		return
	}
	b.pending = append(b.pending, msg)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// coalesces reports whether next repeats a state prev already announces.
func coalesces(prev, next tea.Msg) bool {
	switch next.(type) {
	case OnlineMsg, OfflineMsg, TokenExpiredMsg, RecoveredMsg:
		return prev == next
	}
	return false
}

func (b *Bridge) popLifecycle() (tea.Msg, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil, false
	}
	msg := b.pending[0]
	b.pending[0] = nil
	b.pending = b.pending[1:]
	return msg, true
}

// Dropped returns how many stream events the UI never saw.
func (b *Bridge) Dropped() int64 {
	return b.dropped.Load()
}

// Next returns a command that waits for the next bridged message.
// Lifecycle messages go first.
func (b *Bridge) Next() tea.Cmd {
	return func() tea.Msg {
		for {
			if msg, ok := b.popLifecycle(); ok {
				return msg
			}
			select {
			case <-b.wake:
			case msg := <-b.events:
				return msg
			}
		}
	}
}

func (b *Bridge) OnConnectionResolved(ev *protocol.Event) { b.pushLifecycle(ResolvedMsg{Event: ev}) }
func (b *Bridge) OnConnectionRecovered()                  { b.pushLifecycle(RecoveredMsg{}) }
func (b *Bridge) OnWentOffline()                          { b.pushLifecycle(OfflineMsg{}) }
func (b *Bridge) OnWentOnline()                           { b.pushLifecycle(OnlineMsg{}) }
func (b *Bridge) OnTokenExpired()                         { b.pushLifecycle(TokenExpiredMsg{}) }
func (b *Bridge) OnError(err *protocol.APIError)          { b.pushLifecycle(ErrorMsg{Err: err}) }
func (b *Bridge) OnEvent(ev *protocol.Event)              { b.pushEvent(EventMsg{Event: ev}) }
