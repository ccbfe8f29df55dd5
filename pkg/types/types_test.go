package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

// Functional Validation Tests - Role

func TestRole_IsValid(t *testing.T) {
	tests := []struct {
		role Role
		want bool
	}{
		{RoleLearner, true},
		{RoleInstructor, true},
		{Role("student"), false},
		{Role(""), false},
	}

	for _, tt := range tests {
		if got := tt.role.IsValid(); got != tt.want {
			t.Errorf("Role(%q).IsValid() = %v, want %v", tt.role, got, tt.want)
		}
	}
}

// Functional Validation Tests - ChatSession

func TestChatSession_Participants(t *testing.T) {
	chat := &ChatSession{ID: "c1", LearnerID: "alice", InstructorID: "bob"}

	if !chat.HasParticipant("alice") || !chat.HasParticipant("bob") {
		t.Error("Expected both learner and instructor to be participants")
	}
	if chat.HasParticipant("mallory") || chat.HasParticipant("") {
		t.Error("Expected outsiders and empty identity to be rejected")
	}

	if got := chat.Counterpart("alice"); got != "bob" {
		t.Errorf("Counterpart(alice) = %q, want bob", got)
	}
	if got := chat.Counterpart("bob"); got != "alice" {
		t.Errorf("Counterpart(bob) = %q, want alice", got)
	}
	if got := chat.Counterpart("mallory"); got != "" {
		t.Errorf("Counterpart(mallory) = %q, want empty", got)
	}

	p := chat.Participants()
	if len(p) != 2 || p[0] != "alice" || p[1] != "bob" {
		t.Errorf("Participants() = %v", p)
	}
}

func TestMessage_IsSeenBy(t *testing.T) {
	msg := &Message{Sender: "alice", SeenBy: []string{"alice"}}

	if !msg.IsSeenBy("alice") {
		t.Error("Sender should be in seenBy")
	}
	if msg.IsSeenBy("bob") {
		t.Error("bob has not seen the message yet")
	}
}

// Functional Validation Tests - Command validation

func TestSetRoleCommand_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cmd     SetRoleCommand
		wantErr error
	}{
		{"valid learner", SetRoleCommand{Role: RoleLearner, Identity: "alice"}, nil},
		{"valid instructor", SetRoleCommand{Role: RoleInstructor, Identity: "inst_01"}, nil},
		{"missing identity", SetRoleCommand{Role: RoleLearner}, ErrMissingField},
		{"missing role", SetRoleCommand{Identity: "alice"}, ErrMissingField},
		{"unknown role", SetRoleCommand{Role: "admin", Identity: "alice"}, ErrInvalidRole},
		{"bad identity chars", SetRoleCommand{Role: RoleLearner, Identity: "al ice!"}, ErrInvalidIdentity},
		{"identity too long", SetRoleCommand{Role: RoleLearner, Identity: strings.Repeat("a", 129)}, ErrInvalidIdentity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cmd.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSendMessageCommand_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cmd     SendMessageCommand
		wantErr error
	}{
		{"valid", SendMessageCommand{ChatID: "c1", Sender: "alice", Text: "hi"}, nil},
		{"empty text", SendMessageCommand{ChatID: "c1", Sender: "alice", Text: ""}, ErrMissingField},
		{"whitespace text", SendMessageCommand{ChatID: "c1", Sender: "alice", Text: "  \n"}, ErrMissingField},
		{"missing chat", SendMessageCommand{Sender: "alice", Text: "hi"}, ErrMissingField},
		{"missing sender", SendMessageCommand{ChatID: "c1", Text: "hi"}, ErrMissingField},
		{"too long", SendMessageCommand{ChatID: "c1", Sender: "alice", Text: strings.Repeat("x", MaxMessageLength+1)}, ErrMessageTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cmd.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCallCommands_Validate(t *testing.T) {
	if err := (&StartCallCommand{CallerID: "alice"}).Validate(); !errors.Is(err, ErrMissingField) {
		t.Errorf("start-call without receiver: got %v", err)
	}
	if err := (&StartCallCommand{CallerID: "alice", ReceiverUserID: "bob"}).Validate(); err != nil {
		t.Errorf("start-call without room id should be valid: %v", err)
	}
	if err := (&SignalCommand{Type: "offer", TargetUserID: "bob"}).Validate(); !errors.Is(err, ErrMissingField) {
		t.Errorf("signal without room: got %v", err)
	}
	if err := (&CallReplyCommand{ToUserID: "alice"}).Validate(); !errors.Is(err, ErrMissingField) {
		t.Errorf("reply without room: got %v", err)
	}
	if err := (&RecallCommand{TargetUserID: "alice", RoomID: "r1"}).Validate(); err != nil {
		t.Errorf("recall: %v", err)
	}
}

// Technical Validation Tests - Wire format

func TestEnvelope_KeepsDataRaw(t *testing.T) {
	raw := []byte(`{"event":"signal","data":{"type":"offer","data":{"sdp":"v=0\r\n"},"targetUserId":"bob","roomId":"r1"}}`)

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if env.Event != EventSignal {
		t.Fatalf("Event = %q, want %q", env.Event, EventSignal)
	}

	var cmd SignalCommand
	if err := json.Unmarshal(env.Data, &cmd); err != nil {
		t.Fatalf("Unmarshal data failed: %v", err)
	}
	if string(cmd.Data) != `{"sdp":"v=0\r\n"}` {
		t.Errorf("Signal data was re-encoded: %s", cmd.Data)
	}
}

func TestOutboundEvent_JSONShape(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	out, err := json.Marshal(OutboundEvent{
		Event: EventUserStatus,
		Data:  UserStatusPayload{UserID: "bob", Status: StatusOnline, LastSeen: now},
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	want := `{"event":"userStatus","data":{"userId":"bob","status":"online","lastSeen":"2026-01-02T03:04:05Z"}}`
	if string(out) != want {
		t.Errorf("got %s\nwant %s", out, want)
	}
}
