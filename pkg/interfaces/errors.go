package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrChatNotFound       = errors.New("chat not found")
	ErrChatExists         = errors.New("chat already exists for this learner and instructor")
	ErrMessageNotFound    = errors.New("message not found")
	ErrCallRecordNotFound = errors.New("call record not found")
	ErrNotParticipant     = errors.New("identity is not a participant of the chat")
	ErrUnauthorized       = errors.New("unauthorized access")
)
