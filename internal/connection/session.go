package connection

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/chatstream/chatstream/internal/dispatch"
	"github.com/chatstream/chatstream/internal/metrics"
	"github.com/chatstream/chatstream/internal/protocol"
	"github.com/chatstream/chatstream/internal/transport"
	"go.uber.org/zap"
)

// session is one Connect call. Fields below the queue are owned by the
// queue goroutine; the atomics mirror them for readers on other goroutines.
type session struct {
	c      *Client
	opts   Options
	logger *zap.Logger

	queue *dispatch.Queue
	sched *dispatch.Scheduler

	status   atomic.Int32
	failures atomic.Int32
	closed   atomic.Bool

	// queue goroutine only
	gen             uint64 // generation of the current transport
	live            bool   // current transport has not reported a terminal callback
	attempt         int64
	resolved        bool
	lastEventAt     time.Time
	tokenExpired    bool
	offlineNotified bool
	reconnectTimer  *dispatch.Timer
	offlineTimer    *dispatch.Timer
	healthTimer     *dispatch.Timer
	monitorTimer    *dispatch.Timer

	mu           sync.Mutex
	tr           transport.Transport
	connectionID string
}

func newSession(c *Client) *session {
	queue := dispatch.NewQueue(c.logger)
	s := &session{
		c:      c,
		opts:   c.opts,
		logger: c.logger,
		queue:  queue,
		sched:  dispatch.NewScheduler(c.opts.Clock, queue),
	}
	// Connecting is visible before the queue runs so a second Connect
	// right away is ignored.
	s.status.Store(int32(StatusConnecting))
	metrics.ConnectionStatus.Set(float64(StatusConnecting))
	metrics.ConsecutiveFailures.Set(0)
	return s
}

func (s *session) start() {
	s.queue.Post(s.open)
	s.queue.Start()
}

func (s *session) Status() Status {
	return Status(s.status.Load())
}

func (s *session) Failures() int {
	return int(s.failures.Load())
}

func (s *session) ConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectionID
}

// setStatus records a transition. ShuttingDown is final for a session.
func (s *session) setStatus(to Status) Status {
	for {
		cur := s.status.Load()
		from := Status(cur)
		if from == StatusShuttingDown || from == to {
			return from
		}
		if s.status.CompareAndSwap(cur, int32(to)) {
			metrics.ConnectionStatus.Set(float64(to))
			s.logger.Info("Connection state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
				zap.Int64("attempt", s.c.attempt.Load()),
			)
			return from
		}
	}
}

func (s *session) setFailures(n int) {
	s.failures.Store(int32(n))
	metrics.ConsecutiveFailures.Set(float64(n))
}

// notify calls the handler unless the session has been shut down.
func (s *session) notify(fn func(Handler)) {
	if s.closed.Load() {
		return
	}
	fn(s.c.currentHandler())
}

// post runs fn on the queue if gen is still the current transport.
func (s *session) post(gen uint64, fn func()) {
	s.queue.Post(func() {
		if s.closed.Load() || gen != s.gen {
			s.logger.Debug("Discarding callback from a superseded transport",
				zap.Uint64("generation", gen),
			)
			return
		}
		fn()
	})
}

// schedule runs fn after d unless the session was shut down in between.
func (s *session) schedule(d time.Duration, fn func()) *dispatch.Timer {
	return s.sched.Schedule(d, func() {
		if s.closed.Load() {
			return
		}
		fn()
	})
}

// open tears down the current transport, if any, and opens a new one.
func (s *session) open() {
	if s.closed.Load() {
		return
	}
	s.dropTransport()
	s.healthTimer.Cancel()
	s.monitorTimer.Cancel()

	s.gen++
	s.live = true
	s.resolved = false
	s.attempt = s.c.attempt.Add(1)
	s.setStatus(StatusConnecting)

	url := s.c.endpoint()
	s.logger.Info("Opening stream transport",
		zap.Int64("attempt", s.attempt),
		zap.Int("failures", s.Failures()),
	)
	tr := s.c.factory.Open(url, &listener{s: s, gen: s.gen})

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		tr.Cancel()
		return
	}
	s.tr = tr
	s.connectionID = ""
	s.mu.Unlock()
}

// dropTransport cancels the current transport without a close handshake.
func (s *session) dropTransport() {
	s.mu.Lock()
	tr := s.tr
	s.tr = nil
	s.mu.Unlock()
	if tr != nil {
		tr.Cancel()
	}
}

func (s *session) send(text string) bool {
	if s.closed.Load() {
		return false
	}
	s.mu.Lock()
	tr := s.tr
	s.mu.Unlock()
	if tr == nil {
		return false
	}
	return tr.Send(text)
}

func (s *session) handleOpen() {
	prev := s.setStatus(StatusHealthy)
	s.setFailures(0)
	s.offlineTimer.Cancel()
	s.offlineTimer = nil
	s.offlineNotified = false
	s.lastEventAt = s.opts.Clock.Now()

	if prev != StatusHealthy {
		s.notify(func(h Handler) { h.OnWentOnline() })
	}
	if s.attempt > 1 {
		s.logger.Info("Connection recovered", zap.Int64("attempt", s.attempt))
		s.notify(func(h Handler) { h.OnConnectionRecovered() })
	}
}

func (s *session) handleFrame(frame protocol.Frame) {
	if !s.live {
		metrics.FramesDroppedTotal.WithLabelValues("dead_transport").Inc()
		s.logger.Debug("Dropping frame from a retired transport")
		return
	}
	switch frame.Kind {
	case protocol.FrameMalformed:
		metrics.FramesDroppedTotal.WithLabelValues("malformed").Inc()
		s.logger.Warn("Dropping malformed frame", zap.Error(frame.DecodeErr))

	case protocol.FrameTokenExpired:
		metrics.ServerErrorsTotal.WithLabelValues("token_expired").Inc()
		s.logger.Warn("Stream token expired, reconnects suspended until the next connect",
			zap.Int("code", frame.Err.Code),
		)
		s.tokenExpired = true
		s.reconnectTimer.Cancel()
		s.reconnectTimer = nil
		s.notify(func(h Handler) { h.OnTokenExpired() })

	case protocol.FrameError:
		metrics.ServerErrorsTotal.WithLabelValues("generic").Inc()
		s.logger.Warn("Stream error received",
			zap.Int("code", frame.Err.Code),
			zap.String("message", frame.Err.Message),
		)
		apiErr := frame.Err
		s.notify(func(h Handler) { h.OnError(apiErr) })

	case protocol.FrameEvent:
		s.handleEvent(frame.Event)
	}
}

func (s *session) handleEvent(ev *protocol.Event) {
	s.lastEventAt = ev.ReceivedAt
	metrics.EventsReceivedTotal.WithLabelValues(string(ev.Type)).Inc()

	if ev.ConnectionID != "" {
		s.mu.Lock()
		s.connectionID = ev.ConnectionID
		s.mu.Unlock()
	}

	if !s.resolved {
		s.notify(func(h Handler) { h.OnConnectionResolved(ev) })
		s.resolved = true
		s.logger.Info("Connection resolved",
			zap.Int64("attempt", s.attempt),
			zap.String("connection_id", ev.ConnectionID),
		)
		s.startLoops()
	}
	s.notify(func(h Handler) { h.OnEvent(ev) })
}

// startLoops (re)starts the health check and the silence monitor.
func (s *session) startLoops() {
	s.healthTimer.Cancel()
	s.monitorTimer.Cancel()
	s.healthTimer = s.schedule(s.opts.HealthCheckInterval, s.healthCheck)
	s.monitorTimer = s.schedule(s.opts.MonitorInterval, s.monitor)
}

func (s *session) healthCheck() {
	if s.Status() == StatusHealthy {
		if !s.send(protocol.HealthCheckFrame()) {
			s.logger.Debug("Health check not sent")
		}
	}
	s.healthTimer = s.schedule(s.opts.HealthCheckInterval, s.healthCheck)
}

func (s *session) monitor() {
	if s.Status() == StatusHealthy && s.resolved {
		silence := s.opts.Clock.Since(s.lastEventAt)
		if limit := s.opts.HealthCheckInterval + s.opts.SilenceSlack; silence > limit {
			s.logger.Warn("No events received within the health window",
				zap.Duration("silence", silence),
				zap.Duration("limit", limit),
			)
			s.fail()
		}
	}
	s.monitorTimer = s.schedule(s.opts.MonitorInterval, s.monitor)
}

func (s *session) handleClosing(code int, reason string) {
	if !s.live {
		return
	}
	s.live = false

	if code == transport.CloseNormal {
		s.logger.Info("Stream closed normally", zap.String("reason", reason))
		s.sched.CancelAll()
		s.reconnectTimer, s.offlineTimer, s.healthTimer, s.monitorTimer = nil, nil, nil, nil
		s.mu.Lock()
		s.tr = nil
		s.mu.Unlock()
		s.setStatus(StatusIdle)
		return
	}

	s.logger.Warn("Stream closed abnormally",
		zap.Int("code", code),
		zap.String("reason", reason),
	)
	s.fail()
}

func (s *session) handleFailure(err error) {
	if !s.live {
		return
	}
	s.live = false
	s.logger.Warn("Stream transport failed", zap.Error(err))
	s.fail()
}

// fail records one failure of the current transport, tears it down and
// schedules recovery. Send reports false until the next transport opens.
func (s *session) fail() {
	s.live = false
	s.dropTransport()
	n := s.Failures() + 1
	s.setFailures(n)
	s.setStatus(StatusUnhealthy)

	if s.offlineTimer == nil && !s.offlineNotified {
		s.offlineTimer = s.schedule(s.opts.OfflineGrace, s.offlineNotice)
	}
	s.scheduleReconnect(n)
}

func (s *session) scheduleReconnect(n int) {
	if s.tokenExpired {
		s.logger.Info("Not reconnecting with an expired token")
		return
	}
	if s.reconnectTimer.Active() {
		return
	}
	delay := Backoff(n, s.opts.Rand)
	metrics.ReconnectDelaySeconds.Observe(delay.Seconds())
	s.logger.Info("Scheduling reconnect",
		zap.Int("failures", n),
		zap.Duration("delay", delay),
	)
	s.reconnectTimer = s.schedule(delay, s.reconnect)
}

func (s *session) reconnect() {
	s.reconnectTimer = nil
	switch st := s.Status(); st {
	case StatusConnecting, StatusHealthy, StatusShuttingDown, StatusIdle:
		s.logger.Debug("Skipping stale reconnect", zap.String("status", st.String()))
		return
	}
	metrics.ReconnectAttemptsTotal.Inc()
	s.open()
}

// offlineNotice fires after the grace period of an offline episode.
func (s *session) offlineNotice() {
	s.offlineTimer = nil
	if s.Status() == StatusHealthy {
		return
	}
	s.offlineNotified = true
	s.logger.Warn("Connection went offline",
		zap.Int("failures", s.Failures()),
		zap.Duration("grace", s.opts.OfflineGrace),
	)
	s.notify(func(h Handler) { h.OnWentOffline() })
}

// shutdown is called from caller goroutines. The closed flag makes every
// queued task a no-op, so nothing reaches the handler afterwards.
func (s *session) shutdown(reason string) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.sched.CancelAll()
	s.setStatus(StatusShuttingDown)

	s.mu.Lock()
	tr := s.tr
	s.tr = nil
	s.mu.Unlock()
	if tr != nil {
		tr.Close(transport.CloseNormal, reason)
	}

	s.queue.Stop()
	s.logger.Info("Session shut down", zap.String("reason", reason))
}

// listener forwards transport callbacks onto the session queue, tagged with
// the generation of the transport they came from.
type listener struct {
	s   *session
	gen uint64
}

func (l *listener) OnOpen() {
	l.s.post(l.gen, l.s.handleOpen)
}

func (l *listener) OnMessage(text string) {
	frame := l.s.c.decoder.Decode(text)
	l.s.post(l.gen, func() { l.s.handleFrame(frame) })
}

func (l *listener) OnClosing(code int, reason string) {
	l.s.post(l.gen, func() { l.s.handleClosing(code, reason) })
}

func (l *listener) OnFailure(err error) {
	l.s.post(l.gen, func() { l.s.handleFailure(err) })
}
