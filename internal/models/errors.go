package models

import "errors"

var (
	// ErrValidation blocks the action and is shown to the user as-is.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound covers deleted or expired records; responding to one is
	// a benign race, not a bug.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyResolved is returned to the loser of a double-respond race.
	ErrAlreadyResolved = errors.New("request already resolved")
	// ErrUpload aborts a pending message send.
	ErrUpload = errors.New("upload failed")
	ErrForbidden = errors.New("forbidden")
)
