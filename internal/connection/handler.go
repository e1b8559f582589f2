package connection

import "github.com/chatstream/chatstream/internal/protocol"

// Handler receives everything a connection reports. All methods are called
// from the session's dispatch goroutine, one at a time, in order.
type Handler interface {
	// OnConnectionResolved is called with the first event of every attempt,
	// before that event reaches OnEvent.
	OnConnectionResolved(ev *protocol.Event)
	// OnConnectionRecovered is called when a reconnect attempt opens.
	OnConnectionRecovered()
	OnWentOffline()
	OnWentOnline()
	// OnTokenExpired asks the caller to refresh credentials and Connect again.
	OnTokenExpired()
	OnError(err *protocol.APIError)
	OnEvent(ev *protocol.Event)
}

// NopHandler ignores every callback. Embed it to implement part of Handler.
type NopHandler struct{}

func (NopHandler) OnConnectionResolved(*protocol.Event) {}
func (NopHandler) OnConnectionRecovered()               {}
func (NopHandler) OnWentOffline()                       {}
func (NopHandler) OnWentOnline()                        {}
func (NopHandler) OnTokenExpired()                      {}
func (NopHandler) OnError(*protocol.APIError)           {}
func (NopHandler) OnEvent(*protocol.Event)              {}
