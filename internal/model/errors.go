package model

import "errors"

// Error taxonomy for session and ledger operations. Handlers map these to
// HTTP statuses; services never swallow them.
var (
	// ErrUnauthorized means the credential is missing, invalid, or does not
	// match the attempted action (guest without the session's secret token,
	// agent acting as another agent).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSessionClosed means a mutating action was attempted on a terminal
	// session.
	ErrSessionClosed = errors.New("session closed")

	// ErrNotFound means the session or message reference is unknown.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned for claim races when the reject policy is in
	// effect. The default policy allows reassignment, so the store does not
	// return it, but the taxonomy keeps the slot for deployments that flip
	// the policy.
	ErrConflict = errors.New("conflict")
)
