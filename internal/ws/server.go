// Package ws is a small chat stream server. It speaks the same wire format
// as the connection client and is used by `chatstream serve` and by
// end-to-end tests.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/chatstream/chatstream/internal/config"
	"github.com/chatstream/chatstream/internal/metrics"
	"github.com/chatstream/chatstream/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// ErrUnauthorized is returned by authorize for a bad api key or token.
var ErrUnauthorized = errors.New("unauthorized")

const maxMessageSize = 1 << 16

type Server struct {
	config      config.ServerConfig
	broadcaster *Broadcaster
	logger      *zap.Logger
	upgrader    websocket.Upgrader
	proc        *process.Process
}

func NewServer(cfg config.ServerConfig, broadcaster *Broadcaster, logger *zap.Logger) *Server {
	s := &Server{
		config:      cfg,
		broadcaster: broadcaster,
		logger:      logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn("Process stats unavailable", zap.Error(err))
	} else {
		s.proc = proc
	}
	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/connect", s.handleConnect)
	mux.HandleFunc("/api/messages", s.handleMessages)
	mux.HandleFunc("/api/drop", s.handleDrop)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
}

// connectParams are the query parameters of a connect request.
type connectParams struct {
	user    protocol.User
	token   string
	expired bool
}

func (s *Server) authorize(r *http.Request) (connectParams, error) {
	q := r.URL.Query()
	var p connectParams

	if s.config.APIKey != "" && q.Get("api_key") != s.config.APIKey {
		return p, fmt.Errorf("%w: bad api key", ErrUnauthorized)
	}

	var req protocol.ConnectRequest
	if err := json.Unmarshal([]byte(q.Get("json")), &req); err != nil {
		return p, fmt.Errorf("%w: bad json parameter: %v", ErrUnauthorized, err)
	}
	if req.UserID == "" {
		return p, fmt.Errorf("%w: missing user_id", ErrUnauthorized)
	}
	p.user = req.UserDetails
	p.user.ID = req.UserID
	p.user.Online = true

	switch q.Get("stream-auth-type") {
	case "jwt":
		p.token = q.Get("authorization")
		if p.token == "" {
			return p, fmt.Errorf("%w: missing token", ErrUnauthorized)
		}
		p.expired = s.config.IsTokenExpired(p.token)
	case "anonymous":
	default:
		return p, fmt.Errorf("%w: unknown auth type", ErrUnauthorized)
	}
	return p, nil
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	params, err := s.authorize(r)
	if err != nil {
		s.logger.Info("Rejected stream connection",
			zap.String("remote", r.RemoteAddr),
			zap.Error(err),
		)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	if params.expired {
		s.rejectExpired(conn, params.user.ID)
		return
	}

	id := uuid.NewString()
	first, err := protocol.Encode(&protocol.Event{
		Type:         protocol.EventHealthCheck,
		ConnectionID: id,
		CreatedAt:    time.Now().UTC(),
		Me:           &params.user,
	})
	if err != nil {
		s.logger.Error("Failed to encode connect event", zap.Error(err))
		conn.Close()
		return
	}

	c, err := s.broadcaster.AddClient(conn, id, params.user, first)
	if err != nil {
		s.logger.Warn("Refusing stream client", zap.Error(err))
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return
	}

	s.logger.Info("Stream client connected",
		zap.String("connection_id", id),
		zap.String("user_id", params.user.ID),
		zap.String("remote", r.RemoteAddr),
	)
	go s.readLoop(c)
}

// rejectExpired sends the token-expired error and closes normally.
func (s *Server) rejectExpired(conn *websocket.Conn, userID string) {
	defer conn.Close()
	s.logger.Info("Rejecting expired token", zap.String("user_id", userID))

	data, err := protocol.EncodeError(&protocol.APIError{
		Code:       protocol.TokenExpiredCode,
		Message:    "JWTAuth failed: token has expired",
		StatusCode: http.StatusUnauthorized,
	})
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "token expired")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// readLoop answers client health checks until the socket goes away.
func (s *Server) readLoop(c *client) {
	defer func() {
		s.broadcaster.RemoveClient(c)
		s.logger.Info("Stream client disconnected", zap.String("connection_id", c.id))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var ev protocol.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Debug("Ignoring unreadable client frame", zap.String("connection_id", c.id))
			continue
		}
		if !ev.IsHealthCheck() {
			continue
		}
		reply, err := protocol.Encode(&protocol.Event{
			Type:         protocol.EventHealthCheck,
			ConnectionID: c.id,
			CreatedAt:    time.Now().UTC(),
		})
		if err == nil {
			s.broadcaster.sendTo(c, reply)
		}
	}
}

// PostMessageRequest is the body of POST /api/messages.
type PostMessageRequest struct {
	CID    string `json:"cid"`
	Text   string `json:"text"`
	UserID string `json:"user_id"`
}

type postMessageResponse struct {
	ID        string `json:"id"`
	Delivered int    `json:"delivered"`
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	if req.CID == "" {
		req.CID = "messaging:general"
	}

	now := time.Now().UTC()
	user := &protocol.User{ID: req.UserID}
	msg := &protocol.Message{
		ID:        uuid.NewString(),
		Text:      req.Text,
		Type:      "regular",
		User:      user,
		CreatedAt: now,
	}
	delivered := s.broadcaster.Broadcast(&protocol.Event{
		Type:      protocol.EventMessageNew,
		CID:       req.CID,
		CreatedAt: now,
		User:      user,
		Message:   msg,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(postMessageResponse{ID: msg.ID, Delivered: delivered})
}

func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n := s.broadcaster.DropAll()
	s.logger.Info("Dropped stream clients", zap.Int("count", n))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"dropped": n})
}

// HealthReport is the body of GET /api/health.
type HealthReport struct {
	Status     string  `json:"status"`
	Clients    int     `json:"clients"`
	Goroutines int     `json:"goroutines"`
	RSSBytes   uint64  `json:"rss_bytes,omitempty"`
	CPUPercent float64 `json:"cpu_percent,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Health())
}

// Health reports client count and process resource usage.
func (s *Server) Health() HealthReport {
	report := HealthReport{
		Status:     "ok",
		Clients:    s.broadcaster.ClientCount(),
		Goroutines: runtime.NumGoroutine(),
	}
	if s.proc == nil {
		return report
	}
	if mem, err := s.proc.MemoryInfo(); err == nil {
		report.RSSBytes = mem.RSS
	}
	if cpu, err := s.proc.CPUPercent(); err == nil {
		report.CPUPercent = cpu
	}
	return report
}

// RunHealthChecks sends periodic health.check events until ctx is done.
func (s *Server) RunHealthChecks(ctx context.Context) {
	if s.config.HealthInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.config.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.broadcaster.HealthCheck(now.UTC())
		}
	}
}

// ListenAndServe serves handler on host:port until ctx is cancelled, then
// tells clients the server is going away and shuts down.
func (s *Server) ListenAndServe(ctx context.Context, handler http.Handler) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Stream server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.broadcaster.CloseAll(websocket.CloseGoingAway, "server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
