package domain

import "errors"

// Caller-side errors. They indicate bad input data, not a transient condition,
// and are never retried.
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrReferrerNotFound = errors.New("referrer not found in tree")
	ErrAlreadyPlaced    = errors.New("user already placed in tree")
	ErrRootExists       = errors.New("tree root already exists")
	ErrSelfReferral     = errors.New("user cannot refer itself")
	ErrOrderNotFound    = errors.New("order not found")
	ErrOrderNotPaid     = errors.New("order is not paid")
	ErrInvalidLane      = errors.New("invalid lane")
	ErrInvalidEvent     = errors.New("invalid event payload")
)

var callerErrors = []error{
	ErrUserNotFound,
	ErrReferrerNotFound,
	ErrAlreadyPlaced,
	ErrRootExists,
	ErrSelfReferral,
	ErrOrderNotFound,
	ErrOrderNotPaid,
	ErrInvalidLane,
	ErrInvalidEvent,
}

// IsCallerError reports whether err wraps one of the caller-side errors.
func IsCallerError(err error) bool {
	for _, target := range callerErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
