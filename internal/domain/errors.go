package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("not found")

// AuthReason explains why a sender was refused.
type AuthReason string

const (
	SenderNotFound AuthReason = "sender_not_found"
	RoleMismatch   AuthReason = "role_mismatch"
)

// AuthError is returned when a sender is not allowed to perform an intent.
type AuthError struct {
	Reason   AuthReason
	Address  string
	Required Role
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("unauthorized: %s (address %s, requires %s)", e.Reason, e.Address, e.Required)
}

// ValidationReason explains why an intent was refused after authorization.
type ValidationReason string

const (
	ClassMismatch   ValidationReason = "class_mismatch"
	MalformedIntent ValidationReason = "malformed_intent"
)

// ValidationError is returned when an authorized sender submits content they
// may not act on.
type ValidationError struct {
	Reason    ValidationReason
	Requested string // class named in the message
	Assigned  string // class the sender is assigned to
}

func (e *ValidationError) Error() string {
	if e.Reason == ClassMismatch {
		return fmt.Sprintf("validation: %s (requested %q, assigned %q)", e.Reason, e.Requested, e.Assigned)
	}
	return fmt.Sprintf("validation: %s", e.Reason)
}

// DeliveryFailure is the terminal failure of one recipient's delivery.
type DeliveryFailure struct {
	RecipientAddress string
	Reason           string
}

func (e *DeliveryFailure) Error() string {
	return fmt.Sprintf("delivery to %s failed: %s", e.RecipientAddress, e.Reason)
}

// SendError is returned by transports. Temporary errors (network, 5xx, 429)
// are worth another attempt; permanent ones are not.
type SendError struct {
	Temporary bool
	Err       error
}

func (e *SendError) Error() string { return e.Err.Error() }
func (e *SendError) Unwrap() error { return e.Err }

func TransientSendError(err error) error { return &SendError{Temporary: true, Err: err} }
func PermanentSendError(err error) error { return &SendError{Temporary: false, Err: err} }

// IsPermanent reports whether err was explicitly marked as not retryable.
// Unclassified errors are treated as retryable.
func IsPermanent(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return !se.Temporary
	}
	return false
}
