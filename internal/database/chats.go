package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mentorline/pkg/interfaces"
	"mentorline/pkg/types"
)

const chatColumns = `id, learner_id, instructor_id, last_message, last_message_at,
	learner_last_seen_at, instructor_last_seen_at, created_at`

// CreateChat inserts a new chat session
func (m *Manager) CreateChat(ctx context.Context, chat *types.ChatSession) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO chats (id, learner_id, instructor_id, created_at)
			VALUES (?, ?, ?, ?)
		`, chat.ID, chat.LearnerID, chat.InstructorID, chat.CreatedAt.UTC())
		if err != nil {
			if isUniqueViolation(err) {
				return interfaces.ErrChatExists
			}
			return fmt.Errorf("failed to insert chat: %w", err)
		}
		return nil
	})
}

// GetChat retrieves a chat by ID
func (m *Manager) GetChat(ctx context.Context, chatID string) (*types.ChatSession, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	row := m.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = ?`, chatID)
	return scanChat(row)
}

// GetChatByPair retrieves the chat between a learner and an instructor
func (m *Manager) GetChatByPair(ctx context.Context, learnerID, instructorID string) (*types.ChatSession, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE learner_id = ? AND instructor_id = ?`,
		learnerID, instructorID)
	return scanChat(row)
}

// ListChatsForIdentity returns every chat involving identity, most recently active first
func (m *Manager) ListChatsForIdentity(ctx context.Context, identity string) ([]*types.ChatSession, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+chatColumns+`
		FROM chats
		WHERE learner_id = ? OR instructor_id = ?
		ORDER BY COALESCE(last_message_at, created_at) DESC, id
	`, identity, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chats []*types.ChatSession
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat rows: %w", err)
	}
	return chats, nil
}

// UpdateLastMessage sets the chat's last-message summary
func (m *Manager) UpdateLastMessage(ctx context.Context, chatID, text string, at time.Time) error {
	return m.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE chats SET last_message = ?, last_message_at = ? WHERE id = ?`,
			text, at.UTC(), chatID)
		if err != nil {
			return fmt.Errorf("failed to update last message: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return interfaces.ErrChatNotFound
		}
		return nil
	})
}

// UpdateLastSeen stamps the identity's side of every chat it takes part in
// FUNCTIONAL DISCOVERY: The column is chosen by which side of the pair the
// identity sits on, so no role needs to be passed in
func (m *Manager) UpdateLastSeen(ctx context.Context, identity string, at time.Time) error {
	return m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			`UPDATE chats SET learner_last_seen_at = ? WHERE learner_id = ?`, at.UTC(), identity); err != nil {
			return fmt.Errorf("failed to update learner last seen: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE chats SET instructor_last_seen_at = ? WHERE instructor_id = ?`, at.UTC(), identity); err != nil {
			return fmt.Errorf("failed to update instructor last seen: %w", err)
		}

		return tx.Commit()
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChat(row rowScanner) (*types.ChatSession, error) {
	var chat types.ChatSession
	var lastMessage sql.NullString
	var lastMessageAt, learnerSeen, instructorSeen sql.NullTime
	err := row.Scan(
		&chat.ID,
		&chat.LearnerID,
		&chat.InstructorID,
		&lastMessage,
		&lastMessageAt,
		&learnerSeen,
		&instructorSeen,
		&chat.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrChatNotFound
		}
		return nil, fmt.Errorf("failed to scan chat: %w", err)
	}

	if lastMessage.Valid {
		chat.LastMessage = &lastMessage.String
	}
	chat.LastMessageAt = timePtr(lastMessageAt)
	chat.LearnerLastSeenAt = timePtr(learnerSeen)
	chat.InstructorLastSeenAt = timePtr(instructorSeen)

	return &chat, nil
}
