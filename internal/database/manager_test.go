package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap/zaptest"

	dbconfig "mentorline/pkg/database"
	"mentorline/pkg/interfaces"
	"mentorline/pkg/types"
)

// Test database setup helpers
func setupTestDB(t *testing.T) *Manager {
	t.Helper()

	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	config.WriteRetryDelay = 10 * time.Millisecond

	manager, err := NewManager(config, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })

	if err := manager.Migrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return manager
}

func createTestChat(t *testing.T, m *Manager, id, learner, instructor string) *types.ChatSession {
	t.Helper()
	chat := &types.ChatSession{ID: id, LearnerID: learner, InstructorID: instructor, CreatedAt: time.Now()}
	if err := m.CreateChat(context.Background(), chat); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}
	return chat
}

func storeTestMessage(t *testing.T, m *Manager, id, chatID, sender, text string) *types.Message {
	t.Helper()
	msg := &types.Message{ID: id, ChatID: chatID, Sender: sender, Text: text, CreatedAt: time.Now()}
	if err := m.StoreMessage(context.Background(), msg); err != nil {
		t.Fatalf("StoreMessage failed: %v", err)
	}
	return msg
}

// Architectural Validation Tests

func TestManager_HealthCheck(t *testing.T) {
	m := setupTestDB(t)
	if err := m.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}

func TestManager_CloseRejectsWrites(t *testing.T) {
	m := setupTestDB(t)
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}

	err := m.SetLastActive(context.Background(), "alice", time.Now())
	if !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Expected ErrManagerClosed, got %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transient", errors.New("disk I/O error"), true},
		{"canceled", fmt.Errorf("wrapped: %w", context.Canceled), false},
		{"chat exists", interfaces.ErrChatExists, false},
		{"message missing", interfaces.ErrMessageNotFound, false},
		{"constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
		{"busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryable(tt.err); got != tt.want {
				t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// Functional Validation Tests - Chats

func TestManager_ChatLifecycle(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	createTestChat(t, m, "c1", "alice", "bob")

	chat, err := m.GetChat(ctx, "c1")
	if err != nil {
		t.Fatalf("GetChat failed: %v", err)
	}
	if chat.LearnerID != "alice" || chat.InstructorID != "bob" {
		t.Errorf("Unexpected participants: %+v", chat)
	}
	if chat.LastMessage != nil || chat.LastMessageAt != nil {
		t.Error("New chat should have no last message")
	}

	if _, err := m.GetChat(ctx, "missing"); !errors.Is(err, interfaces.ErrChatNotFound) {
		t.Errorf("Expected ErrChatNotFound, got %v", err)
	}

	dup := &types.ChatSession{ID: "c2", LearnerID: "alice", InstructorID: "bob", CreatedAt: time.Now()}
	start := time.Now()
	if err := m.CreateChat(ctx, dup); !errors.Is(err, interfaces.ErrChatExists) {
		t.Errorf("Expected ErrChatExists, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Duplicate chat should not be retried")
	}

	byPair, err := m.GetChatByPair(ctx, "alice", "bob")
	if err != nil || byPair.ID != "c1" {
		t.Errorf("GetChatByPair = %v, %v", byPair, err)
	}

	at := time.Now().UTC().Truncate(time.Millisecond)
	if err := m.UpdateLastMessage(ctx, "c1", "hello", at); err != nil {
		t.Fatalf("UpdateLastMessage failed: %v", err)
	}
	if err := m.UpdateLastMessage(ctx, "missing", "hello", at); !errors.Is(err, interfaces.ErrChatNotFound) {
		t.Errorf("Expected ErrChatNotFound, got %v", err)
	}

	chat, _ = m.GetChat(ctx, "c1")
	if chat.LastMessage == nil || *chat.LastMessage != "hello" {
		t.Errorf("LastMessage not updated: %v", chat.LastMessage)
	}
	if chat.LastMessageAt == nil || !chat.LastMessageAt.Equal(at) {
		t.Errorf("LastMessageAt = %v, want %v", chat.LastMessageAt, at)
	}
}

func TestManager_ListChatsAndLastSeen(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	createTestChat(t, m, "c1", "alice", "bob")
	createTestChat(t, m, "c2", "carol", "bob")
	createTestChat(t, m, "c3", "alice", "dave")

	// c2 has the latest activity
	if err := m.UpdateLastMessage(ctx, "c2", "hi", time.Now().Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	chats, err := m.ListChatsForIdentity(ctx, "bob")
	if err != nil {
		t.Fatalf("ListChatsForIdentity failed: %v", err)
	}
	if len(chats) != 2 || chats[0].ID != "c2" {
		t.Errorf("Expected [c2 c1], got %d chats starting with %v", len(chats), chats)
	}

	seen := time.Now().UTC()
	if err := m.UpdateLastSeen(ctx, "bob", seen); err != nil {
		t.Fatalf("UpdateLastSeen failed: %v", err)
	}

	for _, id := range []string{"c1", "c2"} {
		chat, _ := m.GetChat(ctx, id)
		if chat.InstructorLastSeenAt == nil || !chat.InstructorLastSeenAt.Equal(seen) {
			t.Errorf("%s: InstructorLastSeenAt = %v", id, chat.InstructorLastSeenAt)
		}
		if chat.LearnerLastSeenAt != nil {
			t.Errorf("%s: learner side should be untouched", id)
		}
	}

	c3, _ := m.GetChat(ctx, "c3")
	if c3.InstructorLastSeenAt != nil {
		t.Error("Chat without bob should be untouched")
	}
}

// Functional Validation Tests - Messages

func TestManager_StoreMessageMarksSenderSeen(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	createTestChat(t, m, "c1", "alice", "bob")

	msg := storeTestMessage(t, m, "m1", "c1", "alice", "hello")
	if !msg.IsSeenBy("alice") {
		t.Error("Stored message should be seen by sender")
	}

	got, err := m.GetMessage(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if len(got.SeenBy) != 1 || got.SeenBy[0] != "alice" {
		t.Errorf("SeenBy = %v, want [alice]", got.SeenBy)
	}

	orphan := &types.Message{ID: "m2", ChatID: "missing", Sender: "alice", Text: "x", CreatedAt: time.Now()}
	if err := m.StoreMessage(ctx, orphan); !errors.Is(err, interfaces.ErrChatNotFound) {
		t.Errorf("Expected ErrChatNotFound, got %v", err)
	}
}

func TestManager_HistoryInCommitOrder(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	createTestChat(t, m, "c1", "alice", "bob")

	// IDs deliberately out of lexical order
	storeTestMessage(t, m, "z", "c1", "alice", "first")
	storeTestMessage(t, m, "a", "c1", "bob", "second")
	storeTestMessage(t, m, "m", "c1", "alice", "third")

	if _, err := m.SoftDeleteMessage(ctx, "a"); err != nil {
		t.Fatal(err)
	}

	history, err := m.GetChatHistory(ctx, "c1")
	if err != nil {
		t.Fatalf("GetChatHistory failed: %v", err)
	}
	if len(history) != 2 || history[0].Text != "first" || history[1].Text != "third" {
		t.Errorf("Unexpected history: %+v", history)
	}

	empty, err := m.GetChatHistory(ctx, "unknown")
	if err != nil || len(empty) != 0 {
		t.Errorf("Expected empty history, got %v, %v", empty, err)
	}
}

func TestManager_MarkSeenAndUnseenCount(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	createTestChat(t, m, "c1", "alice", "bob")

	storeTestMessage(t, m, "m1", "c1", "alice", "one")
	storeTestMessage(t, m, "m2", "c1", "alice", "two")
	storeTestMessage(t, m, "m3", "c1", "bob", "three")

	assertUnseen := func(identity string, want int) {
		t.Helper()
		got, err := m.CountUnseen(ctx, "c1", identity)
		if err != nil {
			t.Fatalf("CountUnseen failed: %v", err)
		}
		if got != want {
			t.Errorf("unseen(%s) = %d, want %d", identity, got, want)
		}
	}

	assertUnseen("bob", 2)
	assertUnseen("alice", 1)

	added, err := m.MarkSeen(ctx, "m1", "bob")
	if err != nil || !added {
		t.Fatalf("MarkSeen = %v, %v", added, err)
	}
	assertUnseen("bob", 1)

	// Second mark is a no-op
	added, err = m.MarkSeen(ctx, "m1", "bob")
	if err != nil || added {
		t.Errorf("Repeated MarkSeen = %v, %v", added, err)
	}

	if _, err := m.MarkSeen(ctx, "nope", "bob"); !errors.Is(err, interfaces.ErrMessageNotFound) {
		t.Errorf("Expected ErrMessageNotFound, got %v", err)
	}

	// Deleted messages never count
	if deleted, err := m.SoftDeleteMessage(ctx, "m2"); err != nil || !deleted {
		t.Fatalf("SoftDeleteMessage = %v, %v", deleted, err)
	}
	assertUnseen("bob", 0)

	if deleted, err := m.SoftDeleteMessage(ctx, "m2"); err != nil || deleted {
		t.Errorf("Repeated delete = %v, %v", deleted, err)
	}
	if _, err := m.SoftDeleteMessage(ctx, "nope"); !errors.Is(err, interfaces.ErrMessageNotFound) {
		t.Errorf("Expected ErrMessageNotFound, got %v", err)
	}

	got, _ := m.GetMessage(ctx, "m2")
	if !got.Deleted || got.Text != "two" {
		t.Errorf("Soft delete must keep text: %+v", got)
	}
}

// Functional Validation Tests - Call records

func TestManager_UpsertCallRecordDedup(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC()
	rec := &types.CallRecord{
		RoomID: "room-1", CallerID: "alice", CallerName: "Alice",
		ReceiverID: "bob", ReceiverName: "Bob", StartedAt: base,
	}

	first, reused, err := m.UpsertCallRecord(ctx, rec, base.Add(-2*time.Minute))
	if err != nil || reused {
		t.Fatalf("First upsert = %v, %v", reused, err)
	}
	if first.ID == 0 {
		t.Fatal("Inserted record should have an id")
	}

	// Re-dial 30s later with a fresh room id
	redial := *rec
	redial.RoomID = "room-2"
	redial.StartedAt = base.Add(30 * time.Second)
	second, reused, err := m.UpsertCallRecord(ctx, &redial, redial.StartedAt.Add(-2*time.Minute))
	if err != nil || !reused {
		t.Fatalf("Re-dial upsert = %v, %v", reused, err)
	}
	if second.ID != first.ID {
		t.Errorf("Re-dial should reuse record %d, got %d", first.ID, second.ID)
	}

	// Outside the window a new record is created
	late := *rec
	late.StartedAt = base.Add(3 * time.Minute)
	third, reused, err := m.UpsertCallRecord(ctx, &late, late.StartedAt.Add(-2*time.Minute))
	if err != nil || reused {
		t.Fatalf("Late upsert = %v, %v", reused, err)
	}
	if third.ID == first.ID {
		t.Error("Call outside the window should get a new record")
	}

	history, err := m.ListCallHistory(ctx, "bob", 10)
	if err != nil {
		t.Fatalf("ListCallHistory failed: %v", err)
	}
	if len(history) != 2 || history[0].ID != third.ID {
		t.Errorf("Unexpected history: %+v", history)
	}
}

func TestManager_UpsertCallRecordConcurrent(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	var wg sync.WaitGroup
	ids := make(chan int64, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := &types.CallRecord{RoomID: fmt.Sprintf("room-%d", i), CallerID: "alice", ReceiverID: "bob", StartedAt: now}
			got, _, err := m.UpsertCallRecord(ctx, rec, now.Add(-2*time.Minute))
			if err != nil {
				t.Errorf("Upsert failed: %v", err)
				return
			}
			ids <- got.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	var first int64
	for id := range ids {
		if first == 0 {
			first = id
		}
		if id != first {
			t.Errorf("Concurrent re-dials produced different records: %d vs %d", first, id)
		}
	}
}

func TestManager_EndCall(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rec, _, err := m.UpsertCallRecord(ctx, &types.CallRecord{RoomID: "r", CallerID: "alice", ReceiverID: "bob", StartedAt: now}, now)
	if err != nil {
		t.Fatal(err)
	}

	ended, err := m.EndCall(ctx, rec.ID, now.Add(time.Minute))
	if err != nil || !ended {
		t.Fatalf("EndCall = %v, %v", ended, err)
	}

	ended, err = m.EndCall(ctx, rec.ID, now.Add(2*time.Minute))
	if err != nil || ended {
		t.Errorf("Second EndCall should be a no-op: %v, %v", ended, err)
	}

	got, _ := m.GetCallRecord(ctx, rec.ID)
	if got.EndedAt == nil || !got.EndedAt.Equal(now.Add(time.Minute)) {
		t.Errorf("EndedAt = %v", got.EndedAt)
	}

	if _, err := m.EndCall(ctx, 9999, now); !errors.Is(err, interfaces.ErrCallRecordNotFound) {
		t.Errorf("Expected ErrCallRecordNotFound, got %v", err)
	}
}

func TestManager_LatestCallBetween(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	if _, err := m.LatestCallBetween(ctx, "alice", "bob"); !errors.Is(err, interfaces.ErrCallRecordNotFound) {
		t.Fatalf("Expected ErrCallRecordNotFound, got %v", err)
	}

	for i, room := range []string{"r1", "r2"} {
		at := base.Add(time.Duration(i) * time.Hour)
		rec := &types.CallRecord{RoomID: room, CallerID: "alice", ReceiverID: "bob", StartedAt: at}
		if _, _, err := m.UpsertCallRecord(ctx, rec, at); err != nil {
			t.Fatal(err)
		}
	}

	got, err := m.LatestCallBetween(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("LatestCallBetween failed: %v", err)
	}
	if got.RoomID != "r2" {
		t.Errorf("Expected newest record r2, got %s", got.RoomID)
	}

	// Direction matters: records are placed by the learner
	if _, err := m.LatestCallBetween(ctx, "bob", "alice"); !errors.Is(err, interfaces.ErrCallRecordNotFound) {
		t.Errorf("Expected ErrCallRecordNotFound for the reverse pair, got %v", err)
	}
}

// Functional Validation Tests - Presence

func TestManager_LastActive(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	got, err := m.GetLastActive(ctx, "alice")
	if err != nil || got != nil {
		t.Fatalf("Unknown identity: %v, %v", got, err)
	}

	first := time.Now().UTC()
	second := first.Add(time.Minute)
	if err := m.SetLastActive(ctx, "alice", first); err != nil {
		t.Fatal(err)
	}
	if err := m.SetLastActive(ctx, "alice", second); err != nil {
		t.Fatal(err)
	}

	got, err = m.GetLastActive(ctx, "alice")
	if err != nil || got == nil || !got.Equal(second) {
		t.Errorf("GetLastActive = %v, %v; want %v", got, err, second)
	}
}

// Technical Validation Tests - Concurrency

func TestManager_ConcurrentMessageWrites(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	createTestChat(t, m, "c1", "alice", "bob")

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := &types.Message{ID: fmt.Sprintf("m%02d", i), ChatID: "c1", Sender: "alice", Text: "x", CreatedAt: time.Now()}
			if err := m.StoreMessage(ctx, msg); err != nil {
				t.Errorf("StoreMessage %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	count, err := m.CountUnseen(ctx, "c1", "bob")
	if err != nil || count != n {
		t.Errorf("CountUnseen = %d, %v; want %d", count, err, n)
	}
}
