package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every error leaving a usecase wraps exactly one of these so
// the transport layer can classify it with errors.Is.
var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrStateConflict   = errors.New("state conflict")
	ErrUpstream        = errors.New("upstream dependency failed")
)

var (
	ErrListingNotFound     = fmt.Errorf("listing %w", ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("transaction %w", ErrNotFound)
	ErrRatingNotFound      = fmt.Errorf("rating %w", ErrNotFound)
	ErrUserNotFound        = fmt.Errorf("user %w", ErrNotFound)

	ErrSelfTrade            = fmt.Errorf("%w: cannot reserve your own listing", ErrValidation)
	ErrSelfRating           = fmt.Errorf("%w: cannot rate yourself", ErrValidation)
	ErrReservationConflict  = fmt.Errorf("%w: listing is no longer available or was reserved by another buyer", ErrStateConflict)
	ErrTransactionFinalized = fmt.Errorf("%w: transaction is already completed or cancelled", ErrStateConflict)
	ErrEmailTaken           = fmt.Errorf("%w: email is already registered", ErrValidation)
	ErrInvalidCredentials   = fmt.Errorf("%w: invalid email or password", ErrUnauthenticated)
	ErrNotParticipant       = fmt.Errorf("%w: not a participant of this transaction", ErrForbidden)
)

// Validationf builds a validation error with a client-facing message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Conflictf builds a state-conflict error with a client-facing message.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStateConflict, fmt.Sprintf(format, args...))
}

// Forbiddenf builds an authorization error with a client-facing message.
func Forbiddenf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// Upstream wraps a dependency failure.
func Upstream(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUpstream, op, err)
}

// Unauthenticatedf builds an authentication error with a client-facing message.
func Unauthenticatedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnauthenticated, fmt.Sprintf(format, args...))
}
