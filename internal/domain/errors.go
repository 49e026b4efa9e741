package domain

import "errors"

var (
	// ErrCredentialMissing reports that no provider credential is configured.
	// It is returned before any network call is attempted.
	ErrCredentialMissing = errors.New("provider credential is not configured")

	// ErrSessionBusy is returned when a turn is started on a session that is
	// still waiting for a reply.
	ErrSessionBusy = errors.New("session is awaiting a reply")

	// ErrSessionNotSending is returned when a turn is finished on a session
	// that has no turn in flight.
	ErrSessionNotSending = errors.New("session has no turn in flight")

	// ErrLeaseLost is returned when a turn is finished after its lock lease
	// expired and another turn took the session over.
	ErrLeaseLost = errors.New("session lock is held by another turn")
)
