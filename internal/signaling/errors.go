package signaling

import "errors"

// Call signaling error types
var (
	ErrForbiddenRole     = errors.New("role is not allowed to perform this call action")
	ErrIdentityMismatch  = errors.New("caller ID does not match the connection")
	ErrSelfCall          = errors.New("caller and receiver must be different identities")
	ErrTargetRole        = errors.New("call target does not hold the required role")
	ErrRoomNotFound      = errors.New("call room not found")
	ErrRoomBusy          = errors.New("call room already has a call in progress")
	ErrNotCallParty      = errors.New("identity is not a party to this call")
	ErrInvalidTransition = errors.New("call state does not allow this action")
	ErrPeerStillInRoom   = errors.New("learner has not left the call room")
	ErrNoPriorCall       = errors.New("no earlier call between instructor and learner")
)
