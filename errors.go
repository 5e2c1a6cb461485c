package ticketgate

import (
	"errors"
	"fmt"
)

// Ticket validation failures. A *ValidationError wraps exactly one of these.
var (
	ErrMissingField      = errors.New("missing required field")
	ErrInvalidField      = errors.New("invalid characters in field")
	ErrUnknownAction     = errors.New("unknown action")
	ErrPayloadNotAllowed = errors.New("payload not allowed for action")
	ErrPayloadRequired   = errors.New("payload required for action")
	ErrPayloadTooLarge   = errors.New("payload too large")
	ErrUnknownKey        = errors.New("unknown key id")
	ErrIssuedInFuture    = errors.New("ticket issued in the future")
	ErrExpired           = errors.New("ticket expired")
	ErrLifetimeExceeded  = errors.New("ticket lifetime invalid")
	ErrPayloadEncoding   = errors.New("payload is not valid base64")
	ErrPayloadDigest     = errors.New("payload digest mismatch")
	ErrSignature         = errors.New("invalid signature")
	ErrReplay            = errors.New("ticket already used")
)

// Dispatch and protocol failures.
var (
	ErrActionMismatch         = errors.New("action mismatch")
	ErrUnsupportedAction      = errors.New("unsupported action")
	ErrNoTickets              = errors.New("no tickets in batch")
	ErrDestinationNotSet      = errors.New("destination not configured")
	ErrIdentityUnavailable    = errors.New("identity unavailable")
	ErrCollaboratorPanic      = errors.New("internal error")
	ErrSessionNotAuthorized   = errors.New("session not authorized")
	ErrMissingHandshakeTicket = errors.New("missing ticket")
	ErrMessageTooLarge        = errors.New("message too large")
)

// ValidationError reports why a single ticket was rejected. The message
// never contains secrets, the canonical string or payload bytes.
type ValidationError struct {
	Field string // Offending field, if any.
	Err   error  // One of the Err… sentinels above.
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return e.Err.Error() + ": " + e.Field
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(err error, field string) *ValidationError {
	return &ValidationError{Field: field, Err: err}
}

// ConfigError prevents startup.
type ConfigError struct {
	Setting string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Setting, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ProtocolError is a framing or decoding failure. It closes the connection.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// DispatchError is a failed collaborator call. It is reported to the peer
// and the connection stays open.
type DispatchError struct {
	Op  string
	Err error
}

func (e *DispatchError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *DispatchError) Unwrap() error { return e.Err }
