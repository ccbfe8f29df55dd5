package signaling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mentorline/internal/metrics"
	"mentorline/pkg/interfaces"
	"mentorline/pkg/types"
)

// groupPrefix keeps call rooms apart from chat rooms in the shared registry
const groupPrefix = "call:"

// GroupName is the transport group for a call room
func GroupName(roomID string) string {
	return groupPrefix + roomID
}

// Config tunes call-record dedup and ring expiry
type Config struct {
	DedupWindow time.Duration
	RingTimeout time.Duration // 0 disables expiry
}

// DefaultConfig reuses records for two minutes and rings for 45 seconds
func DefaultConfig() Config {
	return Config{DedupWindow: 2 * time.Minute, RingTimeout: 45 * time.Second}
}

// room is the in-memory state of one call
// FUNCTIONAL DISCOVERY: Parties are fixed when the room is created; only state,
// record and timer change afterwards
type room struct {
	id         string
	state      State
	callerID   string
	callerName string
	receiverID string
	chatID     string
	recordID   int64
	stamped    bool
	timer      *time.Timer
}

func (r *room) hasParty(identity string) bool {
	return identity != "" && (identity == r.callerID || identity == r.receiverID)
}

func (r *room) counterpart(identity string) string {
	switch identity {
	case r.callerID:
		return r.receiverID
	case r.receiverID:
		return r.callerID
	default:
		return ""
	}
}

// Engine runs the per-room call state machine and relays SDP/ICE blindly
// ARCHITECTURAL DISCOVERY: The engine is the only authority between two
// asynchronous peers; every transition is checked against one table under one lock
type Engine struct {
	registry interfaces.ConnectionRegistry
	store    interfaces.CallStore
	config   Config
	metrics  *metrics.Recorder
	logger   *zap.Logger

	now       func() time.Time
	newRoomID func() string

	mu    sync.Mutex
	rooms map[string]*room
}

// NewEngine creates a call signaling engine
func NewEngine(
	registry interfaces.ConnectionRegistry,
	store interfaces.CallStore,
	cfg Config,
	recorder *metrics.Recorder,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		registry:  registry,
		store:     store,
		config:    cfg,
		metrics:   recorder,
		logger:    logger.Named("signaling"),
		now:       time.Now,
		newRoomID: func() string { return uuid.New().String() },
		rooms:     make(map[string]*room),
	}
}

// transitionLocked moves r to next and discards it once terminal
func (e *Engine) transitionLocked(r *room, next State) error {
	if !CanTransition(r.state, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.state, next)
	}
	e.metrics.CallTransition(string(r.state), string(next))
	if r.state == StateRinging && r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.state = next
	if next.IsTerminal() && e.rooms[r.id] == r {
		delete(e.rooms, r.id)
	}
	return nil
}

// armTimerLocked schedules ring expiry for a Ringing room
func (e *Engine) armTimerLocked(r *room) {
	if e.config.RingTimeout <= 0 {
		return
	}
	r.timer = time.AfterFunc(e.config.RingTimeout, func() { e.expire(r) })
}

// expire moves an unanswered room to TimedOut
// FUNCTIONAL DISCOVERY: The call record stays open so history shows a missed call
func (e *Engine) expire(r *room) {
	e.mu.Lock()
	if e.rooms[r.id] != r || r.state != StateRinging {
		e.mu.Unlock()
		return
	}
	_ = e.transitionLocked(r, StateTimedOut)
	e.mu.Unlock()

	payload := types.CallStatusPayload{From: r.receiverID, RoomID: r.id}
	for _, identity := range []string{r.callerID, r.receiverID} {
		if conn, ok := e.registry.Resolve(identity); ok {
			e.emit(conn, types.EventCallTimeout, payload)
		}
	}
	e.clearGroup(r.id)

	e.logger.Info("call timed out",
		zap.String("room_id", r.id),
		zap.String("caller_id", r.callerID),
		zap.String("receiver_id", r.receiverID))
}

// StartCall rings an instructor on behalf of a learner
// ARCHITECTURAL DISCOVERY: An unreachable receiver is a routing outcome, not an
// error; no record is written and the room never leaves Idle
func (e *Engine) StartCall(ctx context.Context, conn interfaces.Connection, cmd types.StartCallCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	caller := conn.GetUserID()
	if conn.GetRole() != types.RoleLearner {
		return ErrForbiddenRole
	}
	if cmd.CallerID != caller {
		return ErrIdentityMismatch
	}
	if cmd.ReceiverUserID == caller {
		return ErrSelfCall
	}

	receiverConn, ok := e.registry.Resolve(cmd.ReceiverUserID)
	if !ok {
		e.emit(conn, types.EventInstructorOffline, types.OfflinePayload{
			UserID:  cmd.ReceiverUserID,
			RoomID:  cmd.RoomID,
			Message: "instructor is not online",
		})
		return nil
	}
	if receiverConn.GetRole() != types.RoleInstructor {
		return ErrTargetRole
	}

	roomID := cmd.RoomID
	if roomID == "" {
		roomID = e.newRoomID()
	}
	callerName := strings.TrimSpace(cmd.CallerName)
	if callerName == "" {
		callerName = caller
	}

	// Reserve the room id before the store round trip
	r := &room{
		id:         roomID,
		state:      StateIdle,
		callerID:   caller,
		callerName: callerName,
		receiverID: cmd.ReceiverUserID,
		chatID:     cmd.ChatID,
	}
	e.mu.Lock()
	if _, busy := e.rooms[roomID]; busy {
		e.mu.Unlock()
		return ErrRoomBusy
	}
	e.rooms[roomID] = r
	e.mu.Unlock()

	now := e.now().UTC()
	rec, reused, err := e.store.UpsertCallRecord(ctx, &types.CallRecord{
		RoomID:       roomID,
		ChatID:       cmd.ChatID,
		CallerID:     caller,
		CallerName:   callerName,
		ReceiverID:   cmd.ReceiverUserID,
		ReceiverName: cmd.ReceiverUserID,
		StartedAt:    now,
	}, now.Add(-e.config.DedupWindow))
	if err != nil {
		e.mu.Lock()
		if e.rooms[roomID] == r {
			delete(e.rooms, roomID)
		}
		e.mu.Unlock()
		return fmt.Errorf("failed to record call: %w", err)
	}
	e.metrics.CallRecorded(reused)

	e.mu.Lock()
	if e.rooms[roomID] != r {
		e.mu.Unlock()
		return ErrRoomNotFound
	}
	r.recordID = rec.ID
	if err := e.transitionLocked(r, StateRinging); err != nil {
		e.mu.Unlock()
		return err
	}
	e.armTimerLocked(r)
	e.mu.Unlock()

	e.registry.Join(GroupName(roomID), conn)

	e.emit(receiverConn, types.EventIncomingCall, types.IncomingCallPayload{
		CallerID:   caller,
		CallerName: callerName,
		RoomID:     roomID,
		ChatID:     cmd.ChatID,
	})
	e.emit(conn, types.EventCallRinging, types.CallRingingPayload{
		RoomID:   roomID,
		RecordID: rec.ID,
		Reused:   reused,
	})

	e.logger.Info("call ringing",
		zap.String("room_id", roomID),
		zap.String("caller_id", caller),
		zap.String("receiver_id", cmd.ReceiverUserID),
		zap.Int64("record_id", rec.ID),
		zap.Bool("reused", reused))
	return nil
}

// Accept answers a ringing call; only the receiver may accept
func (e *Engine) Accept(ctx context.Context, conn interfaces.Connection, cmd types.CallReplyCommand) error {
	r, err := e.reply(conn, cmd, StateActive)
	if err != nil {
		return err
	}

	group := GroupName(r.id)
	e.registry.Join(group, conn)

	callerConn, ok := e.registry.Resolve(r.callerID)
	if !ok {
		e.emit(conn, types.EventUserOffline, types.OfflinePayload{
			UserID:  r.callerID,
			RoomID:  r.id,
			Message: "user is not online",
		})
		return nil
	}
	e.registry.Join(group, callerConn)
	e.emit(callerConn, types.EventCallAccepted, types.CallStatusPayload{From: r.receiverID, RoomID: r.id})

	e.logger.Info("call accepted", zap.String("room_id", r.id), zap.Int64("record_id", r.recordID))
	return nil
}

// Reject declines a ringing call; only the receiver may reject
// FUNCTIONAL DISCOVERY: The record keeps a nil endedAt, marking a rejected attempt
func (e *Engine) Reject(ctx context.Context, conn interfaces.Connection, cmd types.CallReplyCommand) error {
	r, err := e.reply(conn, cmd, StateRejected)
	if err != nil {
		return err
	}

	if callerConn, ok := e.registry.Resolve(r.callerID); ok {
		e.emit(callerConn, types.EventCallRejected, types.CallStatusPayload{From: r.receiverID, RoomID: r.id})
	}
	e.clearGroup(r.id)

	e.logger.Info("call rejected", zap.String("room_id", r.id), zap.Int64("record_id", r.recordID))
	return nil
}

// reply validates an answer from the receiver and applies the transition
func (e *Engine) reply(conn interfaces.Connection, cmd types.CallReplyCommand, next State) (*room, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	identity := conn.GetUserID()

	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rooms[cmd.RoomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if identity != r.receiverID || cmd.ToUserID != r.callerID {
		return nil, ErrNotCallParty
	}
	if err := e.transitionLocked(r, next); err != nil {
		return nil, err
	}
	return r, nil
}

// Recall lets an instructor ring a learner back into a room
// ARCHITECTURAL DISCOVERY: A room already discarded is re-opened as Ringing with
// the instructor as caller and no new record, so accept and leave work unchanged.
// Re-opening needs an earlier call from that learner to this instructor.
func (e *Engine) Recall(ctx context.Context, conn interfaces.Connection, cmd types.RecallCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if conn.GetRole() != types.RoleInstructor {
		return ErrForbiddenRole
	}
	identity := conn.GetUserID()
	if cmd.TargetUserID == identity {
		return ErrSelfCall
	}

	learnerConn, online := e.registry.Resolve(cmd.TargetUserID)
	if online && learnerConn.GetRole() != types.RoleLearner {
		return ErrTargetRole
	}
	group := GroupName(cmd.RoomID)

	if online && e.State(cmd.RoomID) == StateIdle {
		if _, err := e.store.LatestCallBetween(ctx, cmd.TargetUserID, identity); err != nil {
			if errors.Is(err, interfaces.ErrCallRecordNotFound) {
				return ErrNoPriorCall
			}
			return fmt.Errorf("failed to look up call history: %w", err)
		}
	}

	e.mu.Lock()
	r, known := e.rooms[cmd.RoomID]
	callerName := identity
	if known {
		if !r.hasParty(identity) || r.counterpart(identity) != cmd.TargetUserID {
			e.mu.Unlock()
			return ErrNotCallParty
		}
		if online && e.inGroup(group, learnerConn) {
			e.mu.Unlock()
			return ErrPeerStillInRoom
		}
		if identity == r.callerID {
			callerName = r.callerName
		}
	}
	if !online {
		e.mu.Unlock()
		e.emit(conn, types.EventUserOffline, types.OfflinePayload{
			UserID:  cmd.TargetUserID,
			RoomID:  cmd.RoomID,
			Message: "user is not online",
		})
		return nil
	}
	if !known {
		r = &room{
			id:         cmd.RoomID,
			state:      StateIdle,
			callerID:   identity,
			callerName: identity,
			receiverID: cmd.TargetUserID,
		}
		e.rooms[r.id] = r
		_ = e.transitionLocked(r, StateRinging)
		e.armTimerLocked(r)
	}
	e.mu.Unlock()

	e.registry.Join(group, conn)
	e.emit(learnerConn, types.EventRecall, types.IncomingCallPayload{
		CallerID:   identity,
		CallerName: callerName,
		RoomID:     cmd.RoomID,
	})

	e.logger.Info("call recalled",
		zap.String("room_id", cmd.RoomID),
		zap.String("instructor_id", identity),
		zap.String("learner_id", cmd.TargetUserID),
		zap.Bool("reopened", !known))
	return nil
}

// Signal relays an opaque SDP or ICE payload to the other party
// FUNCTIONAL DISCOVERY: No buffering; an offline target drops the payload
func (e *Engine) Signal(ctx context.Context, conn interfaces.Connection, cmd types.SignalCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	identity := conn.GetUserID()

	e.mu.Lock()
	r, ok := e.rooms[cmd.RoomID]
	var state State
	var target string
	if ok {
		state = r.state
		target = r.counterpart(identity)
	}
	e.mu.Unlock()

	if !ok {
		return ErrRoomNotFound
	}
	if !state.allowsSignal() {
		return fmt.Errorf("%w: signal while %s", ErrInvalidTransition, state)
	}
	if target == "" || target != cmd.TargetUserID {
		return ErrNotCallParty
	}

	targetConn, online := e.registry.Resolve(target)
	if !online {
		e.emit(conn, types.EventUserOffline, types.OfflinePayload{
			UserID:  target,
			RoomID:  cmd.RoomID,
			Message: "user is not online",
		})
		return nil
	}
	e.emit(targetConn, types.EventSignal, types.SignalPayload{
		Type:   cmd.Type,
		Data:   cmd.Data,
		From:   identity,
		RoomID: cmd.RoomID,
	})
	return nil
}

// JoinRoom adds conn to a call room's transport group
func (e *Engine) JoinRoom(ctx context.Context, conn interfaces.Connection, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("%w: roomId", types.ErrMissingField)
	}

	e.mu.Lock()
	r, known := e.rooms[roomID]
	allowed := !known || r.hasParty(conn.GetUserID())
	e.mu.Unlock()

	if !allowed {
		return ErrNotCallParty
	}
	e.registry.Join(GroupName(roomID), conn)
	return nil
}

// LeaveRoom removes conn from a call room's transport group
func (e *Engine) LeaveRoom(ctx context.Context, conn interfaces.Connection, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("%w: roomId", types.ErrMissingField)
	}
	if !e.registry.Leave(GroupName(roomID), conn) {
		return nil
	}
	e.departed(ctx, conn.GetUserID(), roomID, true)
	return nil
}

// HandleDisconnect treats every call group the connection was in as left
// ARCHITECTURAL DISCOVERY: The registry already dropped the memberships; the
// remaining peer's call state is not otherwise terminated, so a Ringing room
// keeps ringing until answered or expired
func (e *Engine) HandleDisconnect(ctx context.Context, identity string, groups []string) {
	for _, group := range groups {
		if roomID, ok := strings.CutPrefix(group, groupPrefix); ok {
			e.departed(ctx, identity, roomID, false)
		}
	}
}

// departed notifies the remaining peer and ends the room once its group is empty
// FUNCTIONAL DISCOVERY: An explicit leave from an Active room stamps endedAt at
// once, even while the other peer stays in the group; a caller leaving a
// Ringing room cancels it without touching the record
func (e *Engine) departed(ctx context.Context, identity, roomID string, explicit bool) {
	group := GroupName(roomID)
	payload := types.UserLeftPayload{UserID: identity, RoomID: roomID}

	notified := make(map[interfaces.Connection]struct{})
	for _, member := range e.registry.Members(group) {
		e.emit(member, types.EventUserLeft, payload)
		notified[member] = struct{}{}
	}

	var other string
	var endRecord int64
	e.mu.Lock()
	if r, ok := e.rooms[roomID]; ok && r.hasParty(identity) {
		other = r.counterpart(identity)
		wasActive := r.state == StateActive
		empty := e.registry.RoomSize(group) == 0

		switch {
		case wasActive && (explicit || empty):
			if empty {
				_ = e.transitionLocked(r, StateEnded)
			}
			if !r.stamped {
				r.stamped = true
				endRecord = r.recordID
			}
		case empty && explicit:
			_ = e.transitionLocked(r, StateEnded)
		}
	}
	e.mu.Unlock()

	if other != "" {
		if conn, ok := e.registry.Resolve(other); ok {
			if _, done := notified[conn]; !done {
				e.emit(conn, types.EventUserLeft, payload)
			}
		}
	}

	if endRecord > 0 {
		if _, err := e.store.EndCall(ctx, endRecord, e.now().UTC()); err != nil {
			e.logger.Error("failed to stamp call end",
				zap.String("room_id", roomID),
				zap.Int64("record_id", endRecord),
				zap.Error(err))
			return
		}
		e.logger.Info("call ended", zap.String("room_id", roomID), zap.Int64("record_id", endRecord))
	}
}

// clearGroup drops every connection from a discarded room's group
func (e *Engine) clearGroup(roomID string) {
	group := GroupName(roomID)
	for _, member := range e.registry.Members(group) {
		e.registry.Leave(group, member)
	}
}

func (e *Engine) inGroup(group string, conn interfaces.Connection) bool {
	for _, member := range e.registry.Members(group) {
		if member == conn {
			return true
		}
	}
	return false
}

// State returns the room's state, StateIdle when the room is unknown
func (e *Engine) State(roomID string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.rooms[roomID]; ok {
		return r.state
	}
	return StateIdle
}

// GetStats returns the number of live rooms per state
func (e *Engine) GetStats() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := map[string]int{"rooms": len(e.rooms)}
	for _, r := range e.rooms {
		stats[string(r.state)]++
	}
	return stats
}

// Stop cancels every pending ring timer
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.rooms {
		if r.timer != nil {
			r.timer.Stop()
			r.timer = nil
		}
	}
}

func (e *Engine) emit(conn interfaces.Connection, event types.EventName, data interface{}) {
	if err := interfaces.Emit(conn, event, data); err != nil {
		e.logger.Debug("delivery failed",
			zap.String("identity", conn.GetUserID()),
			zap.String("event", string(event)),
			zap.Error(err))
	}
}
