package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mentorline/pkg/interfaces"
)

// Dispatcher consumes inbound frames and connection lifecycle events
type Dispatcher interface {
	// Dispatch handles one inbound text frame; frames from one connection are
	// delivered one at a time in arrival order
	Dispatch(ctx context.Context, conn interfaces.Connection, raw []byte)

	// Disconnect runs once after the read pump of conn has exited
	Disconnect(ctx context.Context, conn interfaces.Connection)
}

// HandlerConfig tunes heartbeat and frame limits
type HandlerConfig struct {
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
	AllowedOrigins  []string
}

// DefaultHandlerConfig returns the heartbeat settings used in production
// TECHNICAL DISCOVERY: 60-second read deadline with 30-second ping interval
// detects dead peers well before TCP keepalive would
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageBytes: 64 * 1024,
	}
}

// Handler upgrades HTTP requests and pumps frames into the Dispatcher
// ARCHITECTURAL DISCOVERY: Identity is not taken from the URL; a connection is
// anonymous until its set-role event registers it
type Handler struct {
	dispatcher Dispatcher
	config     HandlerConfig
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(dispatcher Dispatcher, config HandlerConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		dispatcher: dispatcher,
		config:     config,
		logger:     logger.Named("websocket"),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

// checkOrigin allows every origin unless an allow-list is configured
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.config.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// HandleWebSocket upgrades the request and starts the connection lifecycle
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	wsConn := NewConnection(conn)
	go h.handleConnection(wsConn)
}

// handleConnection manages the connection lifecycle with heartbeat monitoring
// ARCHITECTURAL DISCOVERY: One read goroutine per connection processes its
// events sequentially; different connections run concurrently
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		// FUNCTIONAL DISCOVERY: Deferred cleanup ensures the registry is released
		// even if dispatch panics or the peer vanishes
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		h.dispatcher.Disconnect(ctx, conn)
		_ = conn.Close()
	}()

	if h.config.MaxMessageBytes > 0 {
		conn.conn.SetReadLimit(h.config.MaxMessageBytes)
	}
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		h.logger.Warn("failed to set read deadline", zap.Error(err))
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Info("websocket read error",
					zap.String("identity", conn.GetUserID()), zap.Error(err))
			}
			return
		}

		if messageType == websocket.TextMessage {
			h.dispatcher.Dispatch(conn.Context(), conn, data)
		}
	}
}

// pingLoop sends heartbeats until the connection closes
func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}
