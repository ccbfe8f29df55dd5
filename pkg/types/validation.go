package types

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var (
	identityRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:@-]+$`)
)

// Limits enforced on inbound payloads
const (
	MaxIdentityLength = 128
	MaxMessageLength  = 10000
	MaxNameLength     = 200
)

// IsValidIdentity checks if an identity meets format requirements
func IsValidIdentity(identity string) bool {
	if len(identity) < 1 || len(identity) > MaxIdentityLength {
		return false
	}
	return identityRegex.MatchString(identity)
}

// Validate ensures a set-role command names a known role and a well-formed identity
func (c *SetRoleCommand) Validate() error {
	if c.Identity == "" || c.Role == "" {
		return ErrMissingField
	}
	if !c.Role.IsValid() {
		return ErrInvalidRole
	}
	if !IsValidIdentity(c.Identity) {
		return ErrInvalidIdentity
	}
	return nil
}

// Validate rejects a message with any empty required field
// ARCHITECTURAL DISCOVERY: Whitespace-only text counts as empty so blank
// bubbles never reach persistence
func (c *SendMessageCommand) Validate() error {
	if c.ChatID == "" || c.Sender == "" || strings.TrimSpace(c.Text) == "" {
		return ErrMissingField
	}
	if utf8.RuneCountInString(c.Text) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

func (c *MessageSeenCommand) Validate() error {
	if c.ChatID == "" || c.Identity == "" || c.MessageID == "" {
		return ErrMissingField
	}
	return nil
}

func (c *DeleteMessageCommand) Validate() error {
	if c.ChatID == "" || c.MessageID == "" {
		return ErrMissingField
	}
	return nil
}

func (c *TypingCommand) Validate() error {
	if c.ChatID == "" || c.Sender == "" {
		return ErrMissingField
	}
	return nil
}

func (c *StartCallCommand) Validate() error {
	if c.CallerID == "" || c.ReceiverUserID == "" {
		return ErrMissingField
	}
	if len(c.CallerName) > MaxNameLength {
		return ErrNameTooLong
	}
	return nil
}

func (c *SignalCommand) Validate() error {
	if c.Type == "" || c.TargetUserID == "" || c.RoomID == "" {
		return ErrMissingField
	}
	return nil
}

func (c *CallReplyCommand) Validate() error {
	if c.ToUserID == "" || c.RoomID == "" {
		return ErrMissingField
	}
	return nil
}

func (c *RecallCommand) Validate() error {
	if c.TargetUserID == "" || c.RoomID == "" {
		return ErrMissingField
	}
	return nil
}
