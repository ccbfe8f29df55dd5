package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mentorline/internal/chat"
	"mentorline/internal/metrics"
	"mentorline/internal/session"
	"mentorline/internal/signaling"
	"mentorline/pkg/interfaces"
	"mentorline/pkg/types"
)

// maintenanceInterval paces rate limiter cleanup
const maintenanceInterval = time.Minute

// terminator is implemented by connections that can flush queued frames
// before sending a close frame
type terminator interface {
	Terminate(code int, reason string) error
}

// Hub decodes inbound envelopes and routes them to the chat and call layers
// ARCHITECTURAL DISCOVERY: Central coordination point for all event flow;
// maintains clean separation between WebSocket handling and chat/call logic
type Hub struct {
	registry interfaces.ConnectionRegistry
	presence Presence
	chat     *chat.Manager
	calls    *signaling.Engine
	metrics  *metrics.Recorder
	logger   *zap.Logger

	// State
	// TECHNICAL DISCOVERY: RWMutex allows concurrent reads of running state
	running         bool
	mu              sync.RWMutex
	shutdownChannel chan struct{}
	stopped         chan struct{}
}

// Presence is the liveness hook the hub calls on register and disconnect
type Presence interface {
	Online(ctx context.Context, conn interfaces.Connection) error
	Offline(ctx context.Context, identity string, role types.Role) error
}

// NewHub creates a new hub
// ARCHITECTURAL DISCOVERY: Constructor pattern with dependency injection
// enables clean testing and component isolation
func NewHub(
	registry interfaces.ConnectionRegistry,
	presence Presence,
	chatManager *chat.Manager,
	calls *signaling.Engine,
	recorder *metrics.Recorder,
	logger *zap.Logger,
) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		registry: registry,
		presence: presence,
		chat:     chatManager,
		calls:    calls,
		metrics:  recorder,
		logger:   logger.Named("hub"),
	}
}

// Start begins background maintenance
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.stopped = make(chan struct{})

	h.logger.Info("starting event hub")
	go h.run(ctx, h.shutdownChannel, h.stopped)
	return nil
}

// Stop ends maintenance and cancels pending ring timers
// TECHNICAL DISCOVERY: Waiting for the loop prevents goroutine leaks in tests
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	stopped := h.stopped
	h.mu.Unlock()

	<-stopped
	h.calls.Stop()
	h.logger.Info("event hub stopped")
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.chat.RateLimiter().Cleanup()
		case <-shutdown:
			return
		case <-ctx.Done():
			h.logger.Info("hub context cancelled")
			return
		}
	}
}

// Dispatch handles one inbound frame from conn
// FUNCTIONAL DISCOVERY: Every failure is reported to the originating
// connection only; the socket stays open except for duplicate sessions
func (h *Hub) Dispatch(ctx context.Context, conn interfaces.Connection, raw []byte) {
	var env types.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		h.fail(conn, "", ErrMalformedEnvelope)
		return
	}

	start := time.Now()
	err := h.route(ctx, conn, env)
	if !errors.Is(err, ErrUnknownEvent) && !errors.Is(err, ErrNotRegistered) {
		h.metrics.ObserveEvent(string(env.Event), time.Since(start))
	}
	if err != nil {
		h.fail(conn, env.Event, err)
	}
}

func (h *Hub) route(ctx context.Context, conn interfaces.Connection, env types.Envelope) error {
	if env.Event != types.EventSetRole && !conn.IsAuthenticated() {
		return ErrNotRegistered
	}

	switch env.Event {
	case types.EventSetRole:
		var cmd types.SetRoleCommand
		if err := decode(env.Data, &cmd); err != nil {
			return err
		}
		return h.setRole(ctx, conn, cmd)

	case types.EventJoinChat:
		chatID, err := decodeID(env.Data, "chatId")
		if err != nil {
			return err
		}
		return h.chat.JoinChat(ctx, conn, chatID)

	case types.EventLeaveChat:
		chatID, err := decodeID(env.Data, "chatId")
		if err != nil {
			return err
		}
		return h.chat.LeaveChat(ctx, conn, chatID)

	case types.EventSendMessage:
		var cmd types.SendMessageCommand
		if err := decode(env.Data, &cmd); err != nil {
			return err
		}
		_, err := h.chat.SendMessage(ctx, conn, cmd)
		return err

	case types.EventMessageSeen:
		var cmd types.MessageSeenCommand
		if err := decode(env.Data, &cmd); err != nil {
			return err
		}
		return h.chat.MarkSeen(ctx, conn, cmd)

	case types.EventDeleteMessage:
		var cmd types.DeleteMessageCommand
		if err := decode(env.Data, &cmd); err != nil {
			return err
		}
		return h.chat.DeleteMessage(ctx, conn, cmd)

	case types.EventTyping, types.EventStopTyping:
		// Best effort; a malformed indicator is dropped
		var cmd types.TypingCommand
		if decode(env.Data, &cmd) == nil {
			h.chat.Typing(ctx, conn, cmd, env.Event == types.EventStopTyping)
		}
		return nil

	case types.EventJoinRoom:
		roomID, err := decodeID(env.Data, "roomId")
		if err != nil {
			return err
		}
		return h.calls.JoinRoom(ctx, conn, roomID)

	case types.EventLeaveRoom:
		roomID, err := decodeID(env.Data, "roomId")
		if err != nil {
			return err
		}
		return h.calls.LeaveRoom(ctx, conn, roomID)

	case types.EventStartCall:
		var cmd types.StartCallCommand
		if err := decode(env.Data, &cmd); err != nil {
			return err
		}
		return h.calls.StartCall(ctx, conn, cmd)

	case types.EventSignal:
		var cmd types.SignalCommand
		if err := decode(env.Data, &cmd); err != nil {
			return err
		}
		return h.calls.Signal(ctx, conn, cmd)

	case types.EventCallAccepted, types.EventRejectCall:
		var cmd types.CallReplyCommand
		if err := decode(env.Data, &cmd); err != nil {
			return err
		}
		if env.Event == types.EventCallAccepted {
			return h.calls.Accept(ctx, conn, cmd)
		}
		return h.calls.Reject(ctx, conn, cmd)

	case types.EventRecall:
		var cmd types.RecallCommand
		if err := decode(env.Data, &cmd); err != nil {
			return err
		}
		return h.calls.Recall(ctx, conn, cmd)

	default:
		return ErrUnknownEvent
	}
}

// setRole binds identity and role to conn and registers it
// ARCHITECTURAL DISCOVERY: The first session wins; the newcomer is told why
// and closed while the live connection is left untouched
func (h *Hub) setRole(ctx context.Context, conn interfaces.Connection, cmd types.SetRoleCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	ack := types.RoleSetPayload{Identity: cmd.Identity, Role: cmd.Role}
	if conn.IsAuthenticated() {
		if conn.GetUserID() != cmd.Identity || conn.GetRole() != cmd.Role {
			return ErrAlreadyRegistered
		}
		if live, ok := h.registry.Resolve(cmd.Identity); ok && live == conn {
			h.emit(conn, types.EventRoleSet, ack)
			return nil
		}
	}

	if err := conn.SetCredentials(cmd.Identity, cmd.Role); err != nil {
		return ErrAlreadyRegistered
	}

	if !h.registry.Register(conn) {
		h.metrics.DuplicateSession()
		h.fail(conn, types.EventSetRole, ErrDuplicateSession)
		h.logger.Info("duplicate session refused", zap.String("identity", cmd.Identity))
		h.terminate(conn)
		return nil
	}

	h.metrics.ConnectionRegistered()
	h.emit(conn, types.EventRoleSet, ack)
	h.logger.Info("connection registered",
		zap.String("identity", cmd.Identity),
		zap.String("role", string(cmd.Role)))

	// FUNCTIONAL DISCOVERY: Presence is best effort and never fails registration
	if err := h.presence.Online(ctx, conn); err != nil {
		h.logger.Warn("failed to record presence",
			zap.String("identity", cmd.Identity), zap.Error(err))
	}
	return nil
}

// Disconnect releases everything conn held
// FUNCTIONAL DISCOVERY: Call groups are cleaned for any handle, but presence
// only changes when conn held the identity binding
func (h *Hub) Disconnect(ctx context.Context, conn interfaces.Connection) {
	rooms, wasRegistered := h.registry.Unregister(conn)
	identity := conn.GetUserID()

	if identity != "" {
		h.calls.HandleDisconnect(ctx, identity, rooms)
	}
	if !wasRegistered {
		return
	}

	h.metrics.ConnectionUnregistered()
	h.logger.Info("connection unregistered",
		zap.String("identity", identity),
		zap.Int("rooms", len(rooms)))

	if err := h.presence.Offline(ctx, identity, conn.GetRole()); err != nil {
		h.logger.Warn("failed to record presence",
			zap.String("identity", identity), zap.Error(err))
	}
}

func (h *Hub) terminate(conn interfaces.Connection) {
	var err error
	if t, ok := conn.(terminator); ok {
		err = t.Terminate(websocket.ClosePolicyViolation, "duplicate session")
	} else {
		err = conn.Close()
	}
	if err != nil {
		h.logger.Debug("close after duplicate session failed", zap.Error(err))
	}
}

// fail reports err to conn as an error event
// TECHNICAL DISCOVERY: Internal failures are logged in full but the client
// only sees a generic message
func (h *Hub) fail(conn interfaces.Connection, event types.EventName, err error) {
	code := errorCode(err)
	h.metrics.RecordError(code)

	message := err.Error()
	if code == types.ErrorCodeInternal {
		h.logger.Error("event handling failed",
			zap.String("identity", conn.GetUserID()),
			zap.String("event", string(event)),
			zap.Error(err))
		message = "internal error"
	} else {
		h.logger.Debug("event rejected",
			zap.String("identity", conn.GetUserID()),
			zap.String("event", string(event)),
			zap.String("code", code),
			zap.Error(err))
	}

	h.emit(conn, types.EventError, types.ErrorPayload{
		Code:    code,
		Event:   event,
		Message: message,
	})
}

func (h *Hub) emit(conn interfaces.Connection, event types.EventName, data interface{}) {
	if err := interfaces.Emit(conn, event, data); err != nil {
		h.logger.Debug("delivery failed",
			zap.String("identity", conn.GetUserID()),
			zap.String("event", string(event)),
			zap.Error(err))
	}
}

// errorCode maps a handler error onto the stable code sent to clients
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateSession):
		return types.ErrorCodeDuplicateSession
	case errors.Is(err, ErrUnknownEvent):
		return types.ErrorCodeUnknownEvent
	case errors.Is(err, ErrNotRegistered), errors.Is(err, chat.ErrNotRegistered):
		return types.ErrorCodeNotRegistered
	case errors.Is(err, chat.ErrRateLimitExceeded):
		return types.ErrorCodeRateLimited
	case errors.Is(err, ErrMalformedEnvelope),
		errors.Is(err, ErrMalformedPayload),
		errors.Is(err, types.ErrMissingField),
		errors.Is(err, types.ErrInvalidRole),
		errors.Is(err, types.ErrInvalidIdentity),
		errors.Is(err, types.ErrMessageTooLong),
		errors.Is(err, types.ErrNameTooLong),
		errors.Is(err, interfaces.ErrChatNotFound),
		errors.Is(err, interfaces.ErrMessageNotFound),
		errors.Is(err, session.ErrInvalidLearnerID),
		errors.Is(err, session.ErrInvalidInstructorID),
		errors.Is(err, session.ErrSameParticipant),
		errors.Is(err, signaling.ErrSelfCall),
		errors.Is(err, signaling.ErrTargetRole):
		return types.ErrorCodeValidation
	case errors.Is(err, ErrAlreadyRegistered),
		errors.Is(err, interfaces.ErrNotParticipant),
		errors.Is(err, interfaces.ErrUnauthorized),
		errors.Is(err, chat.ErrIdentityMismatch),
		errors.Is(err, chat.ErrNotOwner),
		errors.Is(err, signaling.ErrForbiddenRole),
		errors.Is(err, signaling.ErrIdentityMismatch),
		errors.Is(err, signaling.ErrNotCallParty),
		errors.Is(err, signaling.ErrNoPriorCall):
		return types.ErrorCodeForbidden
	case errors.Is(err, signaling.ErrRoomNotFound),
		errors.Is(err, signaling.ErrRoomBusy),
		errors.Is(err, signaling.ErrInvalidTransition),
		errors.Is(err, signaling.ErrPeerStillInRoom):
		return types.ErrorCodeInvalidState
	default:
		return types.ErrorCodeInternal
	}
}

// decode unmarshals an event payload into v
func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return types.ErrMissingField
	}
	if err := json.Unmarshal(data, v); err != nil {
		return ErrMalformedPayload
	}
	return nil
}

// decodeID accepts either a bare JSON string or an object carrying field
// FUNCTIONAL DISCOVERY: Clients send joinChat and join-room both ways
func decodeID(data json.RawMessage, field string) (string, error) {
	if len(data) == 0 {
		return "", types.ErrMissingField
	}
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return id, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", ErrMalformedPayload
	}
	raw, ok := obj[field]
	if !ok {
		return "", types.ErrMissingField
	}
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", ErrMalformedPayload
	}
	return id, nil
}
