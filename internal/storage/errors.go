package storage

import "errors"

// Storage errors shared by every backend.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists. Append-only stores do not allow updates.
	ErrDuplicateKey = errors.New("duplicate key: append-only store does not allow updates")

	// ErrSlotTaken is returned when a (parent, lane) tree slot was claimed
	// by a concurrent placement.
	ErrSlotTaken = errors.New("tree slot already taken")

	// ErrRootTaken is returned when a second root node is inserted.
	ErrRootTaken = errors.New("tree root already taken")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTransition is returned when a ledger status change is not PENDING -> RELEASED.
	ErrInvalidTransition = errors.New("invalid bonus status transition")

	// ErrConflict is returned when a transaction kept hitting serialization
	// conflicts and ran out of attempts. Callers may retry the whole operation.
	ErrConflict = errors.New("transaction conflict: retry attempts exhausted")
)
