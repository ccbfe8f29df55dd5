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

const callColumns = `id, room_id, chat_id, caller_id, caller_name, receiver_id, receiver_name, started_at, ended_at`

// UpsertCallRecord reuses a recent record for the same caller and receiver or inserts rec
// ARCHITECTURAL DISCOVERY: Lookup and insert run inside the single writer,
// so two racing re-dials can never both insert
func (m *Manager) UpsertCallRecord(ctx context.Context, rec *types.CallRecord, since time.Time) (*types.CallRecord, bool, error) {
	var result *types.CallRecord
	var reused bool

	err := m.executeWrite(func(db *sql.DB) error {
		latest, err := scanCallRecord(db.QueryRowContext(ctx, `
			SELECT `+callColumns+`
			FROM call_records
			WHERE caller_id = ? AND receiver_id = ?
			ORDER BY id DESC
			LIMIT 1
		`, rec.CallerID, rec.ReceiverID))
		switch {
		case err == nil && !latest.StartedAt.Before(since):
			result, reused = latest, true
			return nil
		case err != nil && !errors.Is(err, interfaces.ErrCallRecordNotFound):
			return err
		}

		var chatID sql.NullString
		if rec.ChatID != "" {
			chatID = sql.NullString{String: rec.ChatID, Valid: true}
		}
		res, err := db.ExecContext(ctx, `
			INSERT INTO call_records (room_id, chat_id, caller_id, caller_name, receiver_id, receiver_name, started_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, rec.RoomID, chatID, rec.CallerID, rec.CallerName, rec.ReceiverID, rec.ReceiverName, rec.StartedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert call record: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read call record id: %w", err)
		}

		inserted := *rec
		inserted.ID = id
		inserted.EndedAt = nil
		result, reused = &inserted, false
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, reused, nil
}

// GetCallRecord retrieves a call record by ID
func (m *Manager) GetCallRecord(ctx context.Context, id int64) (*types.CallRecord, error) {
	return scanCallRecord(m.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM call_records WHERE id = ?`, id))
}

// LatestCallBetween returns the newest record from callerID to receiverID
func (m *Manager) LatestCallBetween(ctx context.Context, callerID, receiverID string) (*types.CallRecord, error) {
	return scanCallRecord(m.db.QueryRowContext(ctx, `
		SELECT `+callColumns+`
		FROM call_records
		WHERE caller_id = ? AND receiver_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, callerID, receiverID))
}

// EndCall stamps ended_at once; later calls leave the first stamp in place
func (m *Manager) EndCall(ctx context.Context, id int64, at time.Time) (bool, error) {
	var ended bool
	err := m.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE call_records SET ended_at = ? WHERE id = ? AND ended_at IS NULL`, at.UTC(), id)
		if err != nil {
			return fmt.Errorf("failed to end call record: %w", err)
		}
		n, _ := res.RowsAffected()
		ended = n == 1
		if !ended {
			var count int
			if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM call_records WHERE id = ?`, id).Scan(&count); err != nil {
				return fmt.Errorf("failed to check call record: %w", err)
			}
			if count == 0 {
				return interfaces.ErrCallRecordNotFound
			}
		}
		return nil
	})
	return ended, err
}

// ListCallHistory returns records where identity was caller or receiver, newest first
func (m *Manager) ListCallHistory(ctx context.Context, identity string, limit int) ([]*types.CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+callColumns+`
		FROM call_records
		WHERE caller_id = ? OR receiver_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, identity, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query call history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []*types.CallRecord{}
	for rows.Next() {
		rec, err := scanCallRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanCallRecord(row rowScanner) (*types.CallRecord, error) {
	var rec types.CallRecord
	var chatID sql.NullString
	var endedAt sql.NullTime

	err := row.Scan(
		&rec.ID,
		&rec.RoomID,
		&chatID,
		&rec.CallerID,
		&rec.CallerName,
		&rec.ReceiverID,
		&rec.ReceiverName,
		&rec.StartedAt,
		&endedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrCallRecordNotFound
		}
		return nil, fmt.Errorf("failed to scan call record: %w", err)
	}

	rec.ChatID = chatID.String
	rec.EndedAt = timePtr(endedAt)
	return &rec, nil
}
