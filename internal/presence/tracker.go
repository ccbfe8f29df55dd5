package presence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mentorline/pkg/interfaces"
	"mentorline/pkg/types"
)

// LastSeenUpdater stamps the identity's side of its chats
type LastSeenUpdater interface {
	UpdateLastSeen(ctx context.Context, identity string, at time.Time) error
}

// Tracker records liveness and tells chat counterparts about it
// ARCHITECTURAL DISCOVERY: Delivery is best effort; an offline counterpart
// simply misses the update and reads last-active later
type Tracker struct {
	registry  interfaces.ConnectionRegistry
	directory interfaces.ChatDirectory
	lastSeen  LastSeenUpdater
	store     interfaces.LastActiveStore
	logger    *zap.Logger

	now func() time.Time
}

// NewTracker creates a presence tracker
func NewTracker(
	registry interfaces.ConnectionRegistry,
	directory interfaces.ChatDirectory,
	lastSeen LastSeenUpdater,
	store interfaces.LastActiveStore,
	logger *zap.Logger,
) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		registry:  registry,
		directory: directory,
		lastSeen:  lastSeen,
		store:     store,
		logger:    logger.Named("presence"),
		now:       time.Now,
	}
}

// Online stamps the connection's identity as active and notifies counterparts
func (t *Tracker) Online(ctx context.Context, conn interfaces.Connection) error {
	return t.announce(ctx, conn.GetUserID(), conn.GetRole(), types.StatusOnline)
}

// Offline stamps the disconnect time and notifies counterparts
func (t *Tracker) Offline(ctx context.Context, identity string, role types.Role) error {
	return t.announce(ctx, identity, role, types.StatusOffline)
}

func (t *Tracker) announce(ctx context.Context, identity string, role types.Role, status string) error {
	if identity == "" {
		return nil
	}
	at := t.now().UTC()

	// FUNCTIONAL DISCOVERY: Both writes are attempted so one failing store
	// does not hide the other's timestamp
	var firstErr error
	if err := t.store.SetLastActive(ctx, identity, at); err != nil {
		firstErr = fmt.Errorf("failed to set last active: %w", err)
	}
	if err := t.lastSeen.UpdateLastSeen(ctx, identity, at); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to update chat last seen: %w", err)
	}

	chats, err := t.directory.ListChatsFor(ctx, identity)
	if err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("failed to list chats: %w", err)
		}
		return firstErr
	}

	payload := types.UserStatusPayload{UserID: identity, Status: status, LastSeen: at}
	notified := make(map[string]struct{}, len(chats))
	for _, chat := range chats {
		counterpart := chat.Counterpart(identity)
		if counterpart == "" {
			continue
		}
		if _, done := notified[counterpart]; done {
			continue
		}
		notified[counterpart] = struct{}{}

		conn, ok := t.registry.Resolve(counterpart)
		if !ok {
			continue
		}
		if err := interfaces.Emit(conn, types.EventUserStatus, payload); err != nil {
			t.logger.Debug("status push dropped",
				zap.String("identity", identity),
				zap.String("counterpart", counterpart),
				zap.Error(err))
		}
	}

	t.logger.Debug("presence changed",
		zap.String("identity", identity),
		zap.String("role", string(role)),
		zap.String("status", status),
		zap.Int("counterparts", len(notified)))
	return firstErr
}

// Status combines live registration with the stored last-active time
func (t *Tracker) Status(ctx context.Context, identity string) (*types.Presence, error) {
	last, err := t.store.GetLastActive(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to get last active: %w", err)
	}
	_, online := t.registry.Resolve(identity)
	return &types.Presence{
		Identity:     identity,
		Online:       online,
		LastActiveAt: last,
	}, nil
}
