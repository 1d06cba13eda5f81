package lares

import "errors"

// Domain errors for the panel protocol client.
var (
	// ErrConnectionFailed is returned when the socket cannot be opened or
	// closes unexpectedly. Always retried by the reconnect loop.
	ErrConnectionFailed = errors.New("lares: connection to panel failed")

	// ErrAuthenticationFailed is returned when the panel explicitly rejects
	// the configured PIN. Never retried automatically: bad credentials do
	// not self-heal the way network flakiness does.
	ErrAuthenticationFailed = errors.New("lares: panel rejected credentials")

	// ErrParse is returned when a single inbound frame fails to decode or
	// its checksum does not verify. The frame is dropped; the connection
	// stays alive.
	ErrParse = errors.New("lares: invalid frame")

	// ErrNotConnected is returned when a command is issued while the
	// session is not ready. This is a caller bug, not a retryable
	// condition; commands are never silently queued.
	ErrNotConnected = errors.New("lares: not connected to panel")

	// ErrInvalidCommand is returned when a command was constructed with
	// unusable parameters, or when a zero Command is submitted.
	ErrInvalidCommand = errors.New("lares: invalid command")

	// ErrClosed is returned when an operation is attempted after Close.
	ErrClosed = errors.New("lares: client closed")
)
