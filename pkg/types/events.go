package types

import (
	"encoding/json"
	"time"
)

// EventName is the name carried in every WebSocket envelope
type EventName string

// Client → server events
const (
	EventSetRole       EventName = "set-role"
	EventJoinChat      EventName = "joinChat"
	EventLeaveChat     EventName = "leaveChat"
	EventSendMessage   EventName = "sendMessage"
	EventMessageSeen   EventName = "messageSeen"
	EventDeleteMessage EventName = "deleteMessage"
	EventTyping        EventName = "typing"
	EventStopTyping    EventName = "stopTyping"
	EventJoinRoom      EventName = "join-room"
	EventLeaveRoom     EventName = "leave-room"
	EventStartCall     EventName = "start-call"
	EventSignal        EventName = "signal"
	EventCallAccepted  EventName = "call-accepted"
	EventRejectCall    EventName = "reject-call"
	EventRecall        EventName = "recall"
)

// Server → client events
const (
	EventRoleSet           EventName = "role-set"
	EventInitialMessages   EventName = "initialMessages"
	EventNewMessage        EventName = "newMessage"
	EventMessageUpdated    EventName = "messageUpdated"
	EventUnseenCount       EventName = "unseenCount"
	EventUserStatus        EventName = "userStatus"
	EventChatUpdated       EventName = "chatUpdated"
	EventIncomingCall      EventName = "incoming-call"
	EventCallRinging       EventName = "call-ringing"
	EventCallRejected      EventName = "call-rejected"
	EventCallTimeout       EventName = "call-timeout"
	EventUserLeft          EventName = "user-left"
	EventError             EventName = "error"
	EventInstructorOffline EventName = "instructor-offline"
	EventUserOffline       EventName = "user-offline"
)

// Envelope is the wire frame used in both directions
// ARCHITECTURAL DISCOVERY: Data stays raw on the way in so each command decodes
// only the shape it expects; signal payloads are never re-encoded
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundEvent is what the server writes to a connection
type OutboundEvent struct {
	Event EventName   `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Inbound command payloads

type SetRoleCommand struct {
	Role     Role   `json:"role"`
	Identity string `json:"identity"`
}

type SendMessageCommand struct {
	ChatID string `json:"chatId"`
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

type MessageSeenCommand struct {
	ChatID    string `json:"chatId"`
	Identity  string `json:"identity"`
	MessageID string `json:"messageId"`
}

type DeleteMessageCommand struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

type TypingCommand struct {
	ChatID string `json:"chatId"`
	Sender string `json:"sender"`
}

type StartCallCommand struct {
	CallerName     string `json:"callerName"`
	CallerID       string `json:"callerId"`
	ReceiverUserID string `json:"receiverUserId"`
	ChatID         string `json:"chatId"`
	RoomID         string `json:"roomId"`
}

// SignalCommand carries an SDP offer/answer or ICE candidate
// FUNCTIONAL DISCOVERY: Data is relayed byte-for-byte, the server never inspects it
type SignalCommand struct {
	Type         string          `json:"type"`
	Data         json.RawMessage `json:"data"`
	TargetUserID string          `json:"targetUserId"`
	RoomID       string          `json:"roomId"`
}

type CallReplyCommand struct {
	ToUserID string `json:"toUserId"`
	RoomID   string `json:"roomId"`
}

type RecallCommand struct {
	TargetUserID string `json:"targetUserId"`
	RoomID       string `json:"roomId"`
}

// Outbound payloads

type RoleSetPayload struct {
	Identity string `json:"identity"`
	Role     Role   `json:"role"`
}

type InitialMessagesPayload struct {
	ChatID   string     `json:"chatId"`
	Messages []*Message `json:"messages"`
}

type UnseenCountPayload struct {
	ChatID   string `json:"chatId"`
	Identity string `json:"identity"`
	Count    int    `json:"count"`
}

type UserStatusPayload struct {
	UserID   string    `json:"userId"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
}

type ChatUpdatedPayload struct {
	ChatID        string    `json:"chatId"`
	Sender        string    `json:"sender"`
	LastMessage   string    `json:"lastMessage"`
	LastMessageAt time.Time `json:"lastMessageAt"`
}

type TypingPayload struct {
	ChatID string `json:"chatId"`
	Sender string `json:"sender"`
}

type IncomingCallPayload struct {
	CallerID   string `json:"callerId"`
	CallerName string `json:"callerName"`
	RoomID     string `json:"roomId"`
	ChatID     string `json:"chatId,omitempty"`
}

type CallRingingPayload struct {
	RoomID   string `json:"roomId"`
	RecordID int64  `json:"recordId"`
	Reused   bool   `json:"reused"`
}

type CallStatusPayload struct {
	From   string `json:"from"`
	RoomID string `json:"roomId"`
}

type SignalPayload struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	From   string          `json:"from"`
	RoomID string          `json:"roomId"`
}

type UserLeftPayload struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

type OfflinePayload struct {
	UserID  string `json:"userId"`
	RoomID  string `json:"roomId,omitempty"`
	Message string `json:"message"`
}

// ErrorPayload is sent with EventError
// TECHNICAL DISCOVERY: Stable codes let clients branch without parsing messages
type ErrorPayload struct {
	Code    string    `json:"code"`
	Event   EventName `json:"event,omitempty"`
	Message string    `json:"message"`
}

// Error codes carried in ErrorPayload.Code
const (
	ErrorCodeValidation       = "validation"
	ErrorCodeDuplicateSession = "duplicate_session"
	ErrorCodeForbidden        = "forbidden"
	ErrorCodeNotRegistered    = "not_registered"
	ErrorCodeRateLimited      = "rate_limited"
	ErrorCodeInvalidState     = "invalid_state"
	ErrorCodeUnknownEvent     = "unknown_event"
	ErrorCodeInternal         = "internal"
)

// Presence status values
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)
