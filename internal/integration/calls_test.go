package integration

import (
	"testing"
	"time"

	"mentorline/internal/config"
	"mentorline/pkg/types"
)

type callHistory struct {
	Calls []*types.CallRecord `json:"calls"`
}

// FUNCTIONAL VALIDATION TEST: ring, accept, relay and hang up

func TestCalls_FullLifecycle(t *testing.T) {
	srv := startServer(t, nil)
	alice := srv.connect(t, "alice", types.RoleLearner)
	bob := srv.connect(t, "bob", types.RoleInstructor)

	alice.send(t, types.EventStartCall, types.StartCallCommand{
		CallerName: "Alice", CallerID: "alice", ReceiverUserID: "bob", RoomID: "room-1",
	})
	var incoming types.IncomingCallPayload
	bob.expect(t, types.EventIncomingCall, &incoming)
	if incoming.CallerID != "alice" || incoming.CallerName != "Alice" || incoming.RoomID != "room-1" {
		t.Fatalf("Unexpected incoming call: %+v", incoming)
	}
	var ringing types.CallRingingPayload
	alice.expect(t, types.EventCallRinging, &ringing)
	if ringing.Reused {
		t.Error("First call must create a new record")
	}

	bob.send(t, types.EventCallAccepted, types.CallReplyCommand{ToUserID: "alice", RoomID: "room-1"})
	alice.expect(t, types.EventCallAccepted, nil)

	alice.send(t, types.EventSignal, map[string]interface{}{
		"type":         "offer",
		"data":         map[string]string{"sdp": "v=0"},
		"targetUserId": "bob",
		"roomId":       "room-1",
	})
	var signal types.SignalPayload
	bob.expect(t, types.EventSignal, &signal)
	if signal.Type != "offer" || signal.From != "alice" || string(signal.Data) != `{"sdp":"v=0"}` {
		t.Errorf("Signal not relayed verbatim: %+v (%s)", signal, signal.Data)
	}
	alice.expectNone(t, types.EventSignal, 100*time.Millisecond)

	// Learner drops; instructor is told and hangs up
	alice.close()
	var left types.UserLeftPayload
	bob.expect(t, types.EventUserLeft, &left)
	if left.UserID != "alice" || left.RoomID != "room-1" {
		t.Errorf("Unexpected user-left: %+v", left)
	}
	bob.send(t, types.EventLeaveRoom, "room-1")

	deadline := time.Now().Add(eventTimeout)
	for {
		var history callHistory
		srv.getJSON(t, "/api/calls?identity=bob", &history)
		if len(history.Calls) != 1 {
			t.Fatalf("Expected 1 call record, got %d", len(history.Calls))
		}
		if history.Calls[0].EndedAt != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("endedAt was never stamped")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// FUNCTIONAL VALIDATION TEST: the learner hanging up closes the record

func TestCalls_LearnerLeaveEndsCall(t *testing.T) {
	srv := startServer(t, nil)
	alice := srv.connect(t, "alice", types.RoleLearner)
	bob := srv.connect(t, "bob", types.RoleInstructor)

	alice.send(t, types.EventStartCall, types.StartCallCommand{
		CallerName: "Alice", CallerID: "alice", ReceiverUserID: "bob", RoomID: "room-1",
	})
	bob.expect(t, types.EventIncomingCall, nil)
	bob.send(t, types.EventCallAccepted, types.CallReplyCommand{ToUserID: "alice", RoomID: "room-1"})
	alice.expect(t, types.EventCallAccepted, nil)

	alice.send(t, types.EventLeaveRoom, "room-1")
	var left types.UserLeftPayload
	bob.expect(t, types.EventUserLeft, &left)
	if left.UserID != "alice" {
		t.Errorf("Unexpected user-left: %+v", left)
	}

	// The instructor never leaves; the stamp comes from the learner alone
	deadline := time.Now().Add(eventTimeout)
	for {
		var history callHistory
		srv.getJSON(t, "/api/calls?identity=alice", &history)
		if len(history.Calls) != 1 {
			t.Fatalf("Expected 1 call record, got %d", len(history.Calls))
		}
		if history.Calls[0].EndedAt != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("endedAt was not stamped after the learner left")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// FUNCTIONAL VALIDATION TEST: recall needs an earlier call

func TestCalls_RecallWithoutEarlierCall(t *testing.T) {
	srv := startServer(t, nil)
	alice := srv.connect(t, "alice", types.RoleLearner)
	bob := srv.connect(t, "bob", types.RoleInstructor)

	bob.send(t, types.EventRecall, types.RecallCommand{TargetUserID: "alice", RoomID: "never-called"})
	var errPayload types.ErrorPayload
	bob.expect(t, types.EventError, &errPayload)
	if errPayload.Code != types.ErrorCodeForbidden {
		t.Errorf("Expected forbidden, got %+v", errPayload)
	}
	alice.expectNone(t, types.EventRecall, 100*time.Millisecond)
}

// FUNCTIONAL VALIDATION TEST: no record for an unreachable instructor

func TestCalls_InstructorOffline(t *testing.T) {
	srv := startServer(t, nil)
	alice := srv.connect(t, "alice", types.RoleLearner)

	alice.send(t, types.EventStartCall, types.StartCallCommand{
		CallerName: "Alice", CallerID: "alice", ReceiverUserID: "carol", RoomID: "room-1",
	})
	var offline types.OfflinePayload
	alice.expect(t, types.EventInstructorOffline, &offline)
	if offline.UserID != "carol" {
		t.Errorf("Unexpected offline payload: %+v", offline)
	}

	var history callHistory
	srv.getJSON(t, "/api/calls?identity=alice", &history)
	if len(history.Calls) != 0 {
		t.Errorf("Expected no call record, got %d", len(history.Calls))
	}
}

// FUNCTIONAL VALIDATION TEST: a retry within the window reuses the record

func TestCalls_RetryReusesRecord(t *testing.T) {
	srv := startServer(t, nil)
	alice := srv.connect(t, "alice", types.RoleLearner)
	bob := srv.connect(t, "bob", types.RoleInstructor)

	start := func(roomID string) types.CallRingingPayload {
		alice.send(t, types.EventStartCall, types.StartCallCommand{
			CallerName: "Alice", CallerID: "alice", ReceiverUserID: "bob", RoomID: roomID,
		})
		bob.expect(t, types.EventIncomingCall, nil)
		var ringing types.CallRingingPayload
		alice.expect(t, types.EventCallRinging, &ringing)
		return ringing
	}

	first := start("room-1")
	bob.send(t, types.EventRejectCall, types.CallReplyCommand{ToUserID: "alice", RoomID: "room-1"})
	alice.expect(t, types.EventCallRejected, nil)

	second := start("room-2")
	if !second.Reused || second.RecordID != first.RecordID {
		t.Errorf("Expected record %d to be reused, got %+v", first.RecordID, second)
	}

	var history callHistory
	srv.getJSON(t, "/api/calls?identity=alice", &history)
	if len(history.Calls) != 1 {
		t.Errorf("Expected a single record, got %d", len(history.Calls))
	}
}

// FUNCTIONAL VALIDATION TEST: unanswered calls time out

func TestCalls_RingTimeout(t *testing.T) {
	srv := startServer(t, func(cfg *config.Config) {
		cfg.Call.RingTimeout = 100 * time.Millisecond
	})
	alice := srv.connect(t, "alice", types.RoleLearner)
	bob := srv.connect(t, "bob", types.RoleInstructor)

	alice.send(t, types.EventStartCall, types.StartCallCommand{
		CallerName: "Alice", CallerID: "alice", ReceiverUserID: "bob", RoomID: "room-1",
	})
	bob.expect(t, types.EventIncomingCall, nil)

	alice.expect(t, types.EventCallTimeout, nil)
	bob.expect(t, types.EventCallTimeout, nil)

	// A late answer finds no room
	bob.send(t, types.EventCallAccepted, types.CallReplyCommand{ToUserID: "alice", RoomID: "room-1"})
	var errPayload types.ErrorPayload
	bob.expect(t, types.EventError, &errPayload)
	if errPayload.Code != types.ErrorCodeInvalidState {
		t.Errorf("Expected invalid_state, got %+v", errPayload)
	}
}

// FUNCTIONAL VALIDATION TEST: only learners start calls

func TestCalls_InstructorCannotStart(t *testing.T) {
	srv := startServer(t, nil)
	srv.connect(t, "alice", types.RoleLearner)
	bob := srv.connect(t, "bob", types.RoleInstructor)

	bob.send(t, types.EventStartCall, types.StartCallCommand{
		CallerName: "Bob", CallerID: "bob", ReceiverUserID: "alice", RoomID: "room-1",
	})
	var errPayload types.ErrorPayload
	bob.expect(t, types.EventError, &errPayload)
	if errPayload.Code != types.ErrorCodeForbidden {
		t.Errorf("Expected forbidden, got %+v", errPayload)
	}
}
