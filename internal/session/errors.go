package session

import "errors"

// Chat directory error types
var (
	ErrInvalidLearnerID    = errors.New("learner ID must be a valid identity")
	ErrInvalidInstructorID = errors.New("instructor ID must be a valid identity")
	ErrSameParticipant     = errors.New("learner and instructor must be different identities")
)
