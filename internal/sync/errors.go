package sync

import "errors"

var (
	// ErrMalformedMessage marks a remote record that could not be normalized.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrMissingMessageID is reported for a remote message with an empty provider id.
	ErrMissingMessageID = errors.New("empty provider message id")

	// ErrRemoteNotFound is returned by provider clients for a message or
	// folder the provider does not know.
	ErrRemoteNotFound = errors.New("not found at provider")

	// ErrAlreadyRunning is returned when a background sync for the same
	// account is in progress.
	ErrAlreadyRunning = errors.New("sync already running")

	ErrNotRunning = errors.New("no sync running")
)
