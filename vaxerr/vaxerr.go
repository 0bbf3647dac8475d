// Package vaxerr defines the error_idx enumeration carried by
// FATAL_PROTOCOL_ERROR frames (spec §4.5/§6/§7), plus a typed FatalError
// that wraps an underlying cause the way thiagojdb-adoctl's pkg/errors
// wraps CLI exit codes around an underlying error — here the "exit code"
// is the wire error_idx instead of a process exit status.
package vaxerr

import "fmt"

// ErrorIdx enumerates the error_idx values a FATAL_PROTOCOL_ERROR frame
// may carry (spec §4.5).
type ErrorIdx uint32

const (
	UnknownProtocol    ErrorIdx = 0
	UnsupportedVersion ErrorIdx = 1
	BadHandshake       ErrorIdx = 2
	BadPayload         ErrorIdx = 3
	BadMethod          ErrorIdx = 4
	NoMemory           ErrorIdx = 5
	Internal           ErrorIdx = 6
	InvalidProtocolSpec ErrorIdx = 7
)

func (idx ErrorIdx) String() string {
	switch idx {
	case UnknownProtocol:
		return "UNKNOWN_PROTOCOL"
	case UnsupportedVersion:
		return "UNSUPPORTED_VERSION"
	case BadHandshake:
		return "BAD_HANDSHAKE"
	case BadPayload:
		return "BAD_PAYLOAD"
	case BadMethod:
		return "BAD_METHOD"
	case NoMemory:
		return "NO_MEMORY"
	case Internal:
		return "INTERNAL"
	case InvalidProtocolSpec:
		return "INVALID_PROTOCOL_SPEC"
	default:
		return "UNKNOWN_ERROR_IDX"
	}
}

// FatalError is the Go-side representation of a FATAL_PROTOCOL_ERROR
// frame: once sent or received, both session ends must treat the
// connection as unrecoverable (spec §4.5).
type FatalError struct {
	ObjectID   uint32
	Idx        ErrorIdx
	Message    string
	Underlying error
}

func (e *FatalError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s (object %d): %s: %v", e.Idx, e.ObjectID, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s (object %d): %s", e.Idx, e.ObjectID, e.Message)
}

func (e *FatalError) Unwrap() error {
	return e.Underlying
}

// New builds a FatalError with no underlying cause.
func New(objectID uint32, idx ErrorIdx, message string) *FatalError {
	return &FatalError{ObjectID: objectID, Idx: idx, Message: message}
}

// Wrap builds a FatalError around an underlying cause.
func Wrap(objectID uint32, idx ErrorIdx, message string, cause error) *FatalError {
	return &FatalError{ObjectID: objectID, Idx: idx, Message: message, Underlying: cause}
}

// SoftError marks a listener error that should not end the session
// (spec §7: "unless the listener opts into 'soft' errors"). A listener
// wraps its error with Soft instead of returning it bare to ask the
// session to log the failure and keep processing frames, rather than
// mapping it to FATAL_PROTOCOL_ERROR(BAD_METHOD).
type SoftError struct {
	Err error
}

func (e *SoftError) Error() string {
	return e.Err.Error()
}

func (e *SoftError) Unwrap() error {
	return e.Err
}

// Soft wraps err so Dispatch treats it as non-fatal. Returns nil if err
// is nil.
func Soft(err error) error {
	if err == nil {
		return nil
	}
	return &SoftError{Err: err}
}
