package interfaces

import (
	"context"

	"mentorline/pkg/types"
)

// ChatDirectory resolves chat sessions and their participants
// ARCHITECTURAL DISCOVERY: Membership checks go through the directory so the
// chat and presence layers never query the store for participants directly
type ChatDirectory interface {
	// CreateChat returns the existing chat for the pair or creates one.
	// created is false when the pair already had a chat.
	CreateChat(ctx context.Context, learnerID, instructorID string) (chat *types.ChatSession, created bool, err error)

	// GetChat retrieves a chat by ID
	GetChat(ctx context.Context, chatID string) (*types.ChatSession, error)

	// ListChatsFor returns every chat involving identity
	ListChatsFor(ctx context.Context, identity string) ([]*types.ChatSession, error)

	// ValidateMembership returns the chat if identity is one of its participants
	ValidateMembership(ctx context.Context, chatID, identity string) (*types.ChatSession, error)
}
