package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrMissingField    = errors.New("required field is missing or empty")
	ErrInvalidRole     = errors.New("role must be 'learner' or 'instructor'")
	ErrInvalidIdentity = errors.New("identity must be 1-128 characters of letters, digits or _.:@-")
	ErrMessageTooLong  = errors.New("message text exceeds 10000 characters")
	ErrNameTooLong     = errors.New("name exceeds 200 characters")
)
