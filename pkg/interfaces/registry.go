package interfaces

// ConnectionRegistry maps identities to live connections and owns room membership
// ARCHITECTURAL DISCOVERY: Chat and call layers share one registry so an
// identity resolves to the same handle no matter which layer asks
type ConnectionRegistry interface {
	// Register binds the connection's identity; false if that identity is already live
	Register(conn Connection) bool

	// Unregister removes the connection and all its room memberships.
	// It returns the rooms the connection was in and whether it held the
	// identity binding; a stale handle never removes a newer registration.
	Unregister(conn Connection) (rooms []string, wasRegistered bool)

	// Resolve returns the live connection for an identity
	Resolve(identity string) (Connection, bool)

	// Join adds conn to a room; true if it was not already a member
	Join(room string, conn Connection) bool

	// Leave removes conn from a room; true if it was a member
	Leave(room string, conn Connection) bool

	// Members returns a snapshot of the room's connections
	Members(room string) []Connection

	// RoomSize returns the number of connections in a room
	RoomSize(room string) int
}
