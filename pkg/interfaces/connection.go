package interfaces

import "mentorline/pkg/types"

// Connection represents a WebSocket client connection interface
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures clean boundaries between WebSocket infrastructure and chat/call logic
type Connection interface {
	// WriteJSON sends a JSON message to the client (thread-safe)
	// FUNCTIONAL DISCOVERY: Thread-safety requirement documented in interface
	// to ensure all implementations use single-writer pattern to prevent races
	WriteJSON(v interface{}) error

	// Close closes the connection and cleans up resources
	Close() error

	// GetUserID returns the identity registered by set-role, or "" before that
	GetUserID() string

	// GetRole returns the role registered by set-role
	GetRole() types.Role

	// IsAuthenticated returns true once set-role succeeded
	IsAuthenticated() bool

	// SetCredentials binds an identity and role to the connection
	// TECHNICAL DISCOVERY: Separate registration step allows WebSocket
	// upgrade before the identity is known
	SetCredentials(userID string, role types.Role) error
}

// Emit writes one outbound event envelope to conn
func Emit(conn Connection, event types.EventName, data interface{}) error {
	return conn.WriteJSON(types.OutboundEvent{Event: event, Data: data})
}
