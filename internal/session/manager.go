package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mentorline/pkg/interfaces"
	"mentorline/pkg/types"
)

// Manager implements the ChatDirectory interface
// ARCHITECTURAL DISCOVERY: Participants never change after creation, so the
// membership cache is never invalidated; summary fields always come from the store
type Manager struct {
	store  interfaces.ChatStore
	logger *zap.Logger

	mu     sync.RWMutex
	chats  map[string]*types.ChatSession // chatID -> chat as last read
	byPair map[string]string             // learner|instructor -> chatID

	now func() time.Time
}

var _ interfaces.ChatDirectory = (*Manager)(nil)

// NewManager creates a new chat directory
func NewManager(store interfaces.ChatStore, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:  store,
		logger: logger.Named("session"),
		chats:  make(map[string]*types.ChatSession),
		byPair: make(map[string]string),
		now:    time.Now,
	}
}

// CreateChat returns the pair's existing chat or creates it
// FUNCTIONAL DISCOVERY: Idempotent per pair; a concurrent creator losing the
// unique-constraint race re-reads the winner's row
func (m *Manager) CreateChat(ctx context.Context, learnerID, instructorID string) (*types.ChatSession, bool, error) {
	if !types.IsValidIdentity(learnerID) {
		return nil, false, ErrInvalidLearnerID
	}
	if !types.IsValidIdentity(instructorID) {
		return nil, false, ErrInvalidInstructorID
	}
	if learnerID == instructorID {
		return nil, false, ErrSameParticipant
	}

	if chat, err := m.lookupPair(ctx, learnerID, instructorID); err == nil {
		return chat, false, nil
	} else if !errors.Is(err, interfaces.ErrChatNotFound) {
		return nil, false, err
	}

	chat := &types.ChatSession{
		ID:           uuid.New().String(),
		LearnerID:    learnerID,
		InstructorID: instructorID,
		CreatedAt:    m.now().UTC(),
	}

	if err := m.store.CreateChat(ctx, chat); err != nil {
		if errors.Is(err, interfaces.ErrChatExists) {
			existing, lookupErr := m.lookupPair(ctx, learnerID, instructorID)
			if lookupErr != nil {
				return nil, false, fmt.Errorf("failed to load existing chat: %w", lookupErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create chat: %w", err)
	}

	m.remember(chat)
	m.logger.Info("chat created",
		zap.String("chat_id", chat.ID),
		zap.String("learner_id", learnerID),
		zap.String("instructor_id", instructorID))
	return chat, true, nil
}

// lookupPair checks the pair index before querying the store
func (m *Manager) lookupPair(ctx context.Context, learnerID, instructorID string) (*types.ChatSession, error) {
	m.mu.RLock()
	chatID, ok := m.byPair[pairKey(learnerID, instructorID)]
	m.mu.RUnlock()
	if ok {
		return m.GetChat(ctx, chatID)
	}

	chat, err := m.store.GetChatByPair(ctx, learnerID, instructorID)
	if err != nil {
		return nil, err
	}
	m.remember(chat)
	return chat, nil
}

// GetChat retrieves a chat by ID
func (m *Manager) GetChat(ctx context.Context, chatID string) (*types.ChatSession, error) {
	if chatID == "" {
		return nil, interfaces.ErrChatNotFound
	}
	chat, err := m.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	m.remember(chat)
	return chat, nil
}

// ListChatsFor returns every chat involving identity
func (m *Manager) ListChatsFor(ctx context.Context, identity string) ([]*types.ChatSession, error) {
	chats, err := m.store.ListChatsForIdentity(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	for _, chat := range chats {
		m.remember(chat)
	}
	return chats, nil
}

// ValidateMembership returns the chat if identity is one of its participants
// TECHNICAL DISCOVERY: Served from cache on the hot path of every chat event
func (m *Manager) ValidateMembership(ctx context.Context, chatID, identity string) (*types.ChatSession, error) {
	m.mu.RLock()
	chat, ok := m.chats[chatID]
	m.mu.RUnlock()

	if !ok {
		var err error
		if chat, err = m.GetChat(ctx, chatID); err != nil {
			return nil, err
		}
	}

	if !chat.HasParticipant(identity) {
		return nil, interfaces.ErrNotParticipant
	}
	return chat, nil
}

// GetStats returns directory statistics
func (m *Manager) GetStats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int{
		"cached_chats": len(m.chats),
	}
}

func (m *Manager) remember(chat *types.ChatSession) {
	m.mu.Lock()
	m.chats[chat.ID] = chat
	m.byPair[pairKey(chat.LearnerID, chat.InstructorID)] = chat.ID
	m.mu.Unlock()
}

func pairKey(learnerID, instructorID string) string {
	return learnerID + "|" + instructorID
}
