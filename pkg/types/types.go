package types

import (
	"time"
)

// Role identifies which side of a learner/instructor pair a connection speaks for
type Role string

// ARCHITECTURAL DISCOVERY: Exactly two roles exist and every chat has one of each,
// so role checks never need a permission table
const (
	RoleLearner    Role = "learner"
	RoleInstructor Role = "instructor"
)

// IsValid reports whether r is one of the two known roles
func (r Role) IsValid() bool {
	return r == RoleLearner || r == RoleInstructor
}

// ChatSession is a direct-message channel between one learner and one instructor
// FUNCTIONAL DISCOVERY: Participants are immutable after creation; only the
// last-message summary and per-side last-seen stamps change
type ChatSession struct {
	ID                   string     `json:"id"`
	LearnerID            string     `json:"learnerId"`
	InstructorID         string     `json:"instructorId"`
	LastMessage          *string    `json:"lastMessage,omitempty"`
	LastMessageAt        *time.Time `json:"lastMessageAt,omitempty"`
	LearnerLastSeenAt    *time.Time `json:"learnerLastSeenAt,omitempty"`
	InstructorLastSeenAt *time.Time `json:"instructorLastSeenAt,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
}

// HasParticipant reports whether identity is the learner or the instructor of the chat
func (c *ChatSession) HasParticipant(identity string) bool {
	return identity != "" && (c.LearnerID == identity || c.InstructorID == identity)
}

// Counterpart returns the other participant of the chat, or "" when identity is not a participant
func (c *ChatSession) Counterpart(identity string) string {
	switch identity {
	case c.LearnerID:
		return c.InstructorID
	case c.InstructorID:
		return c.LearnerID
	default:
		return ""
	}
}

// Participants returns both identities, learner first
func (c *ChatSession) Participants() []string {
	return []string{c.LearnerID, c.InstructorID}
}

// Message is a single chat message
// ARCHITECTURAL DISCOVERY: SeenBy only grows; the sender is always a member
// from the moment the message is stored
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	SeenBy    []string  `json:"seenBy"`
	Deleted   bool      `json:"deleted"`
}

// IsSeenBy reports whether identity has acknowledged the message
func (m *Message) IsSeenBy(identity string) bool {
	for _, id := range m.SeenBy {
		if id == identity {
			return true
		}
	}
	return false
}

// CallRecord is the call-history row for one learner → instructor attempt
// FUNCTIONAL DISCOVERY: EndedAt stays nil for rejected or missed attempts,
// which is how history distinguishes them from completed calls
type CallRecord struct {
	ID           int64      `json:"id"`
	RoomID       string     `json:"roomId"`
	ChatID       string     `json:"chatId,omitempty"`
	CallerID     string     `json:"callerId"`
	CallerName   string     `json:"callerName"`
	ReceiverID   string     `json:"receiverId"`
	ReceiverName string     `json:"receiverName"`
	StartedAt    time.Time  `json:"startedAt"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
}

// Presence is the liveness view of an identity
type Presence struct {
	Identity     string     `json:"identity"`
	Online       bool       `json:"online"`
	LastActiveAt *time.Time `json:"lastActiveAt,omitempty"`
}

// ChatSummary pairs a chat with the unseen count of the identity that asked for it
type ChatSummary struct {
	*ChatSession
	UnseenCount int `json:"unseenCount"`
}
