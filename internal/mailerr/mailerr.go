// Package mailerr classifies failures of the synchronization engine so that
// callers can decide between aborting a cycle, falling back, or continuing.
package mailerr

import (
	"errors"
	"fmt"
)

// Kind describes the failure class of an engine error.
type Kind int

const (
	// KindConnectivity covers network, DNS and TLS failures.
	KindConnectivity Kind = iota
	// KindAuthentication means the server rejected the credentials.
	KindAuthentication
	// KindProtocol means the server sent a malformed or unexpected response.
	KindProtocol
	// KindTimeout means an operation exceeded its budget.
	KindTimeout
	// KindCapability means a requested mode is not supported by the server.
	// It triggers a fallback, not a failure.
	KindCapability
	// KindParse means a single message could not be parsed. It is attached
	// to the affected record and never aborts a batch.
	KindParse
)

func (k Kind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindAuthentication:
		return "authentication"
	case KindProtocol:
		return "protocol"
	case KindTimeout:
		return "timeout"
	case KindCapability:
		return "capability_unsupported"
	case KindParse:
		return "parse"
	}
	return "unknown"
}

// Error carries a failure kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E wraps err with a kind and the name of the failed operation.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf is E with fmt-style message construction.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err, or ok=false if err carries no kind.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsKind reports whether err (or anything it wraps) carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
