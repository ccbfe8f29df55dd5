package chat

import "errors"

// Chat channel error types
var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded: too many messages, slow down")
	ErrIdentityMismatch  = errors.New("payload identity does not match the connection")
	ErrNotOwner          = errors.New("only the sender may delete a message")
	ErrNotRegistered     = errors.New("connection has not registered an identity")
)
