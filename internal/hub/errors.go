package hub

import "errors"

// Hub-specific error types
var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrMalformedEnvelope = errors.New("frame is not a valid event envelope")
	ErrMalformedPayload  = errors.New("event payload has the wrong shape")
	ErrUnknownEvent      = errors.New("unknown event")
	ErrNotRegistered     = errors.New("set-role must be sent before any other event")
	ErrAlreadyRegistered = errors.New("connection is already registered as another identity")
	ErrDuplicateSession  = errors.New("identity already has a live session")
)
