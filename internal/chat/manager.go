package chat

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"mentorline/internal/metrics"
	"mentorline/pkg/interfaces"
	"mentorline/pkg/types"
)

// Store is the persistence the chat channel needs
type Store interface {
	interfaces.MessageStore
	UpdateLastMessage(ctx context.Context, chatID, text string, at time.Time) error
}

// Config tunes the chat channel
type Config struct {
	RateLimit  int
	RateWindow time.Duration
}

// DefaultConfig allows 100 messages per sender per minute
func DefaultConfig() Config {
	return Config{RateLimit: 100, RateWindow: time.Minute}
}

// RoomName is the transport group every connection viewing a chat joins
func RoomName(chatID string) string {
	return "chat:" + chatID
}

// Manager runs the direct-message channel between a learner and an instructor
// ARCHITECTURAL DISCOVERY: Stateless between calls; chat state lives in the store
// and delivery targets are resolved through the registry on every event
type Manager struct {
	registry  interfaces.ConnectionRegistry
	directory interfaces.ChatDirectory
	store     Store
	limiter   *RateLimiter
	metrics   *metrics.Recorder
	logger    *zap.Logger

	now     func() time.Time
	idMu    sync.Mutex
	entropy io.Reader
}

// NewManager creates a chat channel manager
// FUNCTIONAL DISCOVERY: Dependency injection enables testing with mock components
func NewManager(
	registry interfaces.ConnectionRegistry,
	directory interfaces.ChatDirectory,
	store Store,
	cfg Config,
	recorder *metrics.Recorder,
	logger *zap.Logger,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		registry:  registry,
		directory: directory,
		store:     store,
		limiter:   NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		metrics:   recorder,
		logger:    logger.Named("chat"),
		now:       time.Now,
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}
}

// RateLimiter exposes the limiter so the owner can schedule Cleanup
func (m *Manager) RateLimiter() *RateLimiter {
	return m.limiter
}

// newMessageID returns a ULID so ids sort by creation time
// TECHNICAL DISCOVERY: Monotonic entropy is not goroutine safe
func (m *Manager) newMessageID(at time.Time) string {
	m.idMu.Lock()
	defer m.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), m.entropy).String()
}

// JoinChat adds conn to the chat room and pushes history plus unseen counts
// FUNCTIONAL DISCOVERY: History is sent only on the first join of a connection
func (m *Manager) JoinChat(ctx context.Context, conn interfaces.Connection, chatID string) error {
	identity := conn.GetUserID()
	if identity == "" {
		return ErrNotRegistered
	}
	if chatID == "" {
		return fmt.Errorf("%w: chatId", types.ErrMissingField)
	}

	chat, err := m.directory.ValidateMembership(ctx, chatID, identity)
	if err != nil {
		return err
	}

	if m.registry.Join(RoomName(chat.ID), conn) {
		history, err := m.store.GetChatHistory(ctx, chat.ID)
		if err != nil {
			m.registry.Leave(RoomName(chat.ID), conn)
			return fmt.Errorf("failed to load chat history: %w", err)
		}
		if history == nil {
			history = []*types.Message{}
		}
		m.emit(conn, types.EventInitialMessages, types.InitialMessagesPayload{
			ChatID:   chat.ID,
			Messages: history,
		})
	}

	m.pushUnseenCounts(ctx, chat)
	return nil
}

// LeaveChat removes conn from the chat room
func (m *Manager) LeaveChat(ctx context.Context, conn interfaces.Connection, chatID string) error {
	if chatID == "" {
		return fmt.Errorf("%w: chatId", types.ErrMissingField)
	}
	m.registry.Leave(RoomName(chatID), conn)
	return nil
}

// SendMessage persists a message and fans it out
// ARCHITECTURAL DISCOVERY: Persist-then-broadcast, so clients observe commit order
func (m *Manager) SendMessage(ctx context.Context, conn interfaces.Connection, cmd types.SendMessageCommand) (*types.Message, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if cmd.Sender != conn.GetUserID() {
		return nil, ErrIdentityMismatch
	}

	chat, err := m.directory.ValidateMembership(ctx, cmd.ChatID, cmd.Sender)
	if err != nil {
		return nil, err
	}

	// TECHNICAL DISCOVERY: Rate limiting applied per sender before persistence to prevent spam
	if !m.limiter.Allow(cmd.Sender) {
		return nil, ErrRateLimitExceeded
	}

	now := m.now().UTC()
	msg := &types.Message{
		ID:        m.newMessageID(now),
		ChatID:    chat.ID,
		Sender:    cmd.Sender,
		Text:      cmd.Text,
		CreatedAt: now,
	}
	if err := m.store.StoreMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	// FUNCTIONAL DISCOVERY: The message is already durable; a failed summary
	// update is logged and delivery continues
	if err := m.store.UpdateLastMessage(ctx, chat.ID, msg.Text, msg.CreatedAt); err != nil {
		m.logger.Warn("failed to update chat summary",
			zap.String("chat_id", chat.ID), zap.Error(err))
	}

	m.broadcast(RoomName(chat.ID), nil, types.EventNewMessage, msg)

	updated := types.ChatUpdatedPayload{
		ChatID:        chat.ID,
		Sender:        msg.Sender,
		LastMessage:   msg.Text,
		LastMessageAt: msg.CreatedAt,
	}
	for _, participant := range chat.Participants() {
		if peer, ok := m.registry.Resolve(participant); ok {
			m.emit(peer, types.EventChatUpdated, updated)
		}
	}

	m.pushUnseenCounts(ctx, chat)
	m.metrics.MessageSent()

	m.logger.Debug("message sent",
		zap.String("chat_id", chat.ID),
		zap.String("message_id", msg.ID),
		zap.String("sender", msg.Sender))
	return msg, nil
}

// MarkSeen records that identity has read a message
// FUNCTIONAL DISCOVERY: Missing, deleted, foreign or already-seen messages are
// silent no-ops
func (m *Manager) MarkSeen(ctx context.Context, conn interfaces.Connection, cmd types.MessageSeenCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if cmd.Identity != conn.GetUserID() {
		return ErrIdentityMismatch
	}

	chat, err := m.directory.ValidateMembership(ctx, cmd.ChatID, cmd.Identity)
	if err != nil {
		return err
	}

	msg, err := m.store.GetMessage(ctx, cmd.MessageID)
	if errors.Is(err, interfaces.ErrMessageNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load message: %w", err)
	}
	if msg.ChatID != chat.ID || msg.Deleted || msg.IsSeenBy(cmd.Identity) {
		return nil
	}

	added, err := m.store.MarkSeen(ctx, msg.ID, cmd.Identity)
	if err != nil {
		return fmt.Errorf("failed to mark message seen: %w", err)
	}
	if !added {
		return nil
	}
	msg.SeenBy = append(msg.SeenBy, cmd.Identity)

	m.broadcast(RoomName(chat.ID), nil, types.EventMessageUpdated, msg)
	m.pushUnseenCounts(ctx, chat)
	return nil
}

// DeleteMessage soft-deletes a message on behalf of its sender
func (m *Manager) DeleteMessage(ctx context.Context, conn interfaces.Connection, cmd types.DeleteMessageCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	identity := conn.GetUserID()
	if identity == "" {
		return ErrNotRegistered
	}

	chat, err := m.directory.ValidateMembership(ctx, cmd.ChatID, identity)
	if err != nil {
		return err
	}

	msg, err := m.store.GetMessage(ctx, cmd.MessageID)
	if err != nil {
		return err
	}
	if msg.ChatID != chat.ID {
		return interfaces.ErrMessageNotFound
	}
	if msg.Sender != identity {
		return ErrNotOwner
	}

	changed, err := m.store.SoftDeleteMessage(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if !changed {
		return nil
	}
	msg.Deleted = true

	m.broadcast(RoomName(chat.ID), nil, types.EventMessageUpdated, msg)
	m.pushUnseenCounts(ctx, chat)
	return nil
}

// Typing relays a typing indicator to the other connections in the chat room
// FUNCTIONAL DISCOVERY: Best effort; malformed or foreign indicators are dropped silently
func (m *Manager) Typing(ctx context.Context, conn interfaces.Connection, cmd types.TypingCommand, stopped bool) {
	if cmd.Validate() != nil || cmd.Sender != conn.GetUserID() {
		return
	}
	room := RoomName(cmd.ChatID)
	isMember := false
	for _, member := range m.registry.Members(room) {
		if member == conn {
			isMember = true
			break
		}
	}
	if !isMember {
		return
	}

	event := types.EventTyping
	if stopped {
		event = types.EventStopTyping
	}
	m.broadcast(room, conn, event, types.TypingPayload{ChatID: cmd.ChatID, Sender: cmd.Sender})
}

// Summaries lists identity's chats with its unseen count for each
func (m *Manager) Summaries(ctx context.Context, identity string) ([]*types.ChatSummary, error) {
	chats, err := m.directory.ListChatsFor(ctx, identity)
	if err != nil {
		return nil, err
	}

	summaries := make([]*types.ChatSummary, 0, len(chats))
	for _, chat := range chats {
		count, err := m.store.CountUnseen(ctx, chat.ID, identity)
		if err != nil {
			return nil, fmt.Errorf("failed to count unseen messages: %w", err)
		}
		summaries = append(summaries, &types.ChatSummary{ChatSession: chat, UnseenCount: count})
	}
	return summaries, nil
}

// pushUnseenCounts recomputes and sends the unseen count of each resolvable participant
func (m *Manager) pushUnseenCounts(ctx context.Context, chat *types.ChatSession) {
	for _, participant := range chat.Participants() {
		conn, ok := m.registry.Resolve(participant)
		if !ok {
			continue
		}
		count, err := m.store.CountUnseen(ctx, chat.ID, participant)
		if err != nil {
			m.logger.Warn("failed to count unseen messages",
				zap.String("chat_id", chat.ID),
				zap.String("identity", participant),
				zap.Error(err))
			continue
		}
		m.emit(conn, types.EventUnseenCount, types.UnseenCountPayload{
			ChatID:   chat.ID,
			Identity: participant,
			Count:    count,
		})
	}
}

// broadcast sends to every room member except skip
// FUNCTIONAL DISCOVERY: Continue delivery to other members even if one fails
func (m *Manager) broadcast(room string, skip interfaces.Connection, event types.EventName, data interface{}) {
	for _, member := range m.registry.Members(room) {
		if member == skip {
			continue
		}
		m.emit(member, event, data)
	}
}

func (m *Manager) emit(conn interfaces.Connection, event types.EventName, data interface{}) {
	if err := interfaces.Emit(conn, event, data); err != nil {
		m.logger.Debug("delivery failed",
			zap.String("identity", conn.GetUserID()),
			zap.String("event", string(event)),
			zap.Error(err))
	}
}
