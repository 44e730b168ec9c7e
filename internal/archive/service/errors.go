package service

import errors "github.com/Laisky/errors/v2"

var (
	// ErrValidation indicates malformed backfill or consent parameters; it is
	// raised before any work starts, never mid-replay.
	ErrValidation = errors.New("invalid parameters")
	// ErrConfirmationExpired indicates a pending destructive operation was not
	// confirmed within its window and has been discarded.
	ErrConfirmationExpired = errors.New("confirmation expired or not found")
)
