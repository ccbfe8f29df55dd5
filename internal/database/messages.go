package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"mentorline/pkg/interfaces"
	"mentorline/pkg/types"
)

// StoreMessage stores a message and the sender's seen mark in one transaction
func (m *Manager) StoreMessage(ctx context.Context, message *types.Message) error {
	return m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (id, chat_id, sender, text, created_at, deleted)
			VALUES (?, ?, ?, ?, ?, 0)
		`, message.ID, message.ChatID, message.Sender, message.Text, message.CreatedAt.UTC())
		if err != nil {
			if exists, _ := chatExists(ctx, tx, message.ChatID); !exists {
				return interfaces.ErrChatNotFound
			}
			return fmt.Errorf("failed to insert message: %w", err)
		}

		// FUNCTIONAL DISCOVERY: A sender has always seen its own message
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO message_seen (message_id, identity, seen_at)
			VALUES (?, ?, ?)
		`, message.ID, message.Sender, message.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert sender seen mark: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit message: %w", err)
		}

		message.SeenBy = []string{message.Sender}
		return nil
	})
}

// GetMessage retrieves a message with its seen set
func (m *Manager) GetMessage(ctx context.Context, messageID string) (*types.Message, error) {
	var msg types.Message
	err := m.db.QueryRowContext(ctx, `
		SELECT id, chat_id, sender, text, created_at, deleted
		FROM messages
		WHERE id = ?
	`, messageID).Scan(&msg.ID, &msg.ChatID, &msg.Sender, &msg.Text, &msg.CreatedAt, &msg.Deleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to query message: %w", err)
	}

	rows, err := m.db.QueryContext(ctx,
		`SELECT identity FROM message_seen WHERE message_id = ? ORDER BY rowid`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query seen marks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	msg.SeenBy = []string{}
	for rows.Next() {
		var identity string
		if err := rows.Scan(&identity); err != nil {
			return nil, fmt.Errorf("failed to scan seen mark: %w", err)
		}
		msg.SeenBy = append(msg.SeenBy, identity)
	}

	return &msg, rows.Err()
}

// GetChatHistory retrieves the non-deleted messages of a chat
// ARCHITECTURAL DISCOVERY: rowid order is commit order under the single writer,
// which is the order clients saw newMessage broadcasts in
func (m *Manager) GetChatHistory(ctx context.Context, chatID string) ([]*types.Message, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, chat_id, sender, text, created_at, deleted
		FROM messages
		WHERE chat_id = ? AND deleted = 0
		ORDER BY rowid ASC
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := []*types.Message{}
	byID := make(map[string]*types.Message)
	for rows.Next() {
		var msg types.Message
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Sender, &msg.Text, &msg.CreatedAt, &msg.Deleted); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.SeenBy = []string{}
		messages = append(messages, &msg)
		byID[msg.ID] = &msg
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	seenRows, err := m.db.QueryContext(ctx, `
		SELECT s.message_id, s.identity
		FROM message_seen s
		JOIN messages m ON m.id = s.message_id
		WHERE m.chat_id = ? AND m.deleted = 0
		ORDER BY s.rowid
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query seen marks: %w", err)
	}
	defer func() { _ = seenRows.Close() }()

	for seenRows.Next() {
		var messageID, identity string
		if err := seenRows.Scan(&messageID, &identity); err != nil {
			return nil, fmt.Errorf("failed to scan seen mark: %w", err)
		}
		if msg, ok := byID[messageID]; ok {
			msg.SeenBy = append(msg.SeenBy, identity)
		}
	}

	return messages, seenRows.Err()
}

// MarkSeen adds identity to the message's seen set
func (m *Manager) MarkSeen(ctx context.Context, messageID, identity string) (bool, error) {
	var added bool
	err := m.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			INSERT OR IGNORE INTO message_seen (message_id, identity, seen_at)
			SELECT id, ?, CURRENT_TIMESTAMP FROM messages WHERE id = ?
		`, identity, messageID)
		if err != nil {
			return fmt.Errorf("failed to insert seen mark: %w", err)
		}
		n, _ := res.RowsAffected()
		added = n == 1
		if !added {
			var count int
			if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE id = ?`, messageID).Scan(&count); err != nil {
				return fmt.Errorf("failed to check message: %w", err)
			}
			if count == 0 {
				return interfaces.ErrMessageNotFound
			}
		}
		return nil
	})
	return added, err
}

// SoftDeleteMessage flags a message deleted; its text and seen marks are kept
func (m *Manager) SoftDeleteMessage(ctx context.Context, messageID string) (bool, error) {
	var deleted bool
	err := m.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE messages SET deleted = 1 WHERE id = ? AND deleted = 0`, messageID)
		if err != nil {
			return fmt.Errorf("failed to delete message: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted = n == 1
		if !deleted {
			var count int
			if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE id = ?`, messageID).Scan(&count); err != nil {
				return fmt.Errorf("failed to check message: %w", err)
			}
			if count == 0 {
				return interfaces.ErrMessageNotFound
			}
		}
		return nil
	})
	return deleted, err
}

// CountUnseen counts messages in the chat that identity neither sent nor saw
// TECHNICAL DISCOVERY: Full scan on every call keeps the count derived from
// seen marks instead of a counter that can drift
func (m *Manager) CountUnseen(ctx context.Context, chatID, identity string) (int, error) {
	var count int
	err := m.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages m
		WHERE m.chat_id = ?
		  AND m.deleted = 0
		  AND m.sender <> ?
		  AND NOT EXISTS (
			SELECT 1 FROM message_seen s
			WHERE s.message_id = m.id AND s.identity = ?
		  )
	`, chatID, identity, identity).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unseen messages: %w", err)
	}
	return count, nil
}

func chatExists(ctx context.Context, tx *sql.Tx, chatID string) (bool, error) {
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats WHERE id = ?`, chatID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
