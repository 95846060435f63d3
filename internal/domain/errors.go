package domain

import "errors"

var (
	// ErrRelayUnavailable means the relay subscription could not be
	// established. Retrying is left to the caller.
	ErrRelayUnavailable = errors.New("relay unavailable")

	// ErrNegotiationFailed means a description or candidate could not be
	// applied to the transport. The session moves to Failed.
	ErrNegotiationFailed = errors.New("transport negotiation failed")

	// ErrDuplicateCall means a call was attempted or offered while a live
	// session already exists. There is no call waiting.
	ErrDuplicateCall = errors.New("a call is already active")

	// ErrStaleSignal means an answer or candidate referenced a non-matching
	// or absent session. Stale signals are dropped and counted.
	ErrStaleSignal = errors.New("stale signal")

	// ErrSessionClosed means an operation completed after the session
	// reached a terminal state. Its result is discarded.
	ErrSessionClosed = errors.New("session closed")
)
