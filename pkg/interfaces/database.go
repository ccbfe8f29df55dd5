package interfaces

import (
	"context"
	"time"

	"mentorline/pkg/types"
)

// ChatStore persists chat sessions
type ChatStore interface {
	// CreateChat inserts a chat; the learner/instructor pair is unique
	CreateChat(ctx context.Context, chat *types.ChatSession) error

	// GetChat returns ErrChatNotFound when the id is unknown
	GetChat(ctx context.Context, chatID string) (*types.ChatSession, error)

	// GetChatByPair looks a chat up by its two participants
	GetChatByPair(ctx context.Context, learnerID, instructorID string) (*types.ChatSession, error)

	// ListChatsForIdentity returns every chat the identity takes part in,
	// most recently active first
	ListChatsForIdentity(ctx context.Context, identity string) ([]*types.ChatSession, error)

	// UpdateLastMessage sets the chat's last-message summary
	UpdateLastMessage(ctx context.Context, chatID, text string, at time.Time) error

	// UpdateLastSeen stamps the identity's side of every chat it takes part in
	UpdateLastSeen(ctx context.Context, identity string, at time.Time) error
}

// MessageStore persists messages and their seen marks
// FUNCTIONAL DISCOVERY: Message storage must complete before broadcast
// so clients observe commit order
type MessageStore interface {
	// StoreMessage persists the message and marks it seen by its sender
	StoreMessage(ctx context.Context, message *types.Message) error

	// GetMessage returns ErrMessageNotFound when the id is unknown
	GetMessage(ctx context.Context, messageID string) (*types.Message, error)

	// GetChatHistory returns non-deleted messages in ascending order
	GetChatHistory(ctx context.Context, chatID string) ([]*types.Message, error)

	// MarkSeen adds identity to the message's seen set; false if already present
	MarkSeen(ctx context.Context, messageID, identity string) (bool, error)

	// SoftDeleteMessage flags the message deleted; false if it already was
	SoftDeleteMessage(ctx context.Context, messageID string) (bool, error)

	// CountUnseen counts non-deleted messages in the chat neither sent nor seen by identity
	CountUnseen(ctx context.Context, chatID, identity string) (int, error)
}

// CallStore persists call history
type CallStore interface {
	// UpsertCallRecord reuses the newest record for the same caller and receiver
	// started at or after since, or inserts rec. It reports whether a record was reused.
	UpsertCallRecord(ctx context.Context, rec *types.CallRecord, since time.Time) (*types.CallRecord, bool, error)

	// GetCallRecord returns ErrCallRecordNotFound when the id is unknown
	GetCallRecord(ctx context.Context, id int64) (*types.CallRecord, error)

	// LatestCallBetween returns the newest record placed by caller to receiver,
	// or ErrCallRecordNotFound
	LatestCallBetween(ctx context.Context, callerID, receiverID string) (*types.CallRecord, error)

	// EndCall stamps ended_at if the record is still open; false otherwise
	EndCall(ctx context.Context, id int64, at time.Time) (bool, error)

	// ListCallHistory returns records involving identity, newest first
	ListCallHistory(ctx context.Context, identity string, limit int) ([]*types.CallRecord, error)
}

// LastActiveStore keeps the last-active timestamp of each identity
type LastActiveStore interface {
	SetLastActive(ctx context.Context, identity string, at time.Time) error

	// GetLastActive returns nil when the identity was never seen
	GetLastActive(ctx context.Context, identity string) (*time.Time, error)
}

// DatabaseManager handles all database operations
// ARCHITECTURAL DISCOVERY: Single interface for all persistence operations
// enables consistent transaction handling and connection management
type DatabaseManager interface {
	ChatStore
	MessageStore
	CallStore
	LastActiveStore

	// HealthCheck verifies database connectivity and basic operations
	HealthCheck(ctx context.Context) error

	// Close closes the database connection and cleans up resources
	Close() error
}
