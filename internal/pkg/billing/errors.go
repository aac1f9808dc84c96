package billing

import (
	"errors"
	"fmt"
)

var (
	ErrEventNotFound         = errors.New("webhook event not found")
	ErrSubscriptionNotFound  = errors.New("subscription not found")
	ErrAccountNotFound       = errors.New("billing account not found")
	ErrVersionConflict       = errors.New("subscription version conflict")
	ErrDuplicateSubscription = errors.New("subscription already exists")
	ErrUnresolvableCustomer  = errors.New("unresolvable customer")
	ErrUnknownProvider       = errors.New("unknown billing provider")
	ErrInvalidSignature      = errors.New("invalid webhook signature")
	ErrAttemptSuperseded     = errors.New("webhook event changed during the attempt")
)

// RetryableError marks a failure that may succeed when the event is
// processed again (database, network, lock conflicts, ordering gaps).
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// FatalError marks a failure that will never succeed for the stored payload
// (parse errors, validation errors, unresolvable references).
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Retryable wraps err as a RetryableError. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return err
	}
	return &RetryableError{Err: err}
}

// Fatal wraps err as a FatalError. A nil err stays nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err carries a FatalError anywhere in its chain.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Classify returns "fatal" or "retryable" for a non-nil error. Anything not
// explicitly marked fatal is treated as transient.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if IsFatal(err) {
		return "fatal"
	}
	return "retryable"
}
