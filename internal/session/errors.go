package session

import "errors"

// Error kinds surfaced to the transport layer. The transport maps each kind
// onto a typed ack frame; clients never see an untyped error payload.
var (
	// ErrNotFound indicates an unknown session id.
	ErrNotFound = errors.New("session not found")
	// ErrForbidden indicates the principal may not act on the session.
	ErrForbidden = errors.New("forbidden")
	// ErrClosed indicates the runtime has already terminated.
	ErrClosed = errors.New("session runtime closed")
)
