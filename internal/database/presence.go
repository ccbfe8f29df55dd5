package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SetLastActive upserts the identity's last-active timestamp
func (m *Manager) SetLastActive(ctx context.Context, identity string, at time.Time) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO presence (identity, last_active_at) VALUES (?, ?)
			ON CONFLICT(identity) DO UPDATE SET last_active_at = excluded.last_active_at
		`, identity, at.UTC())
		if err != nil {
			return fmt.Errorf("failed to store last active: %w", err)
		}
		return nil
	})
}

// GetLastActive returns nil when the identity has never connected
func (m *Manager) GetLastActive(ctx context.Context, identity string) (*time.Time, error) {
	var at time.Time
	err := m.db.QueryRowContext(ctx,
		`SELECT last_active_at FROM presence WHERE identity = ?`, identity).Scan(&at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query last active: %w", err)
	}
	return &at, nil
}
