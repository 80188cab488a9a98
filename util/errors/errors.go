// Package errors defines the error taxonomy shared across the node:
// not-found, insufficient-balance, runtime, network and invalid-request
// errors, together with errors.As based predicates for each kind.
package errors

import (
	"errors"
	"fmt"
)

// Kind identifies the machine-readable category of an error, used by the
// HTTP layer to pick a status code and by callers to branch on failure class.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindRuntime             Kind = "runtime_error"
	KindNetwork             Kind = "network_error"
	KindInvalidRequest      Kind = "invalid_request"
)

// NotFoundError indicates an unknown workload, transaction, peer or container.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Entity)
}

// NewNotFound creates a NotFoundError for the given entity and id.
func NewNotFound(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// InsufficientBalanceError indicates a transfer was rejected because the
// source identity does not hold enough credits.
type InsufficientBalanceError struct {
	ID      string
	Balance float64
	Amount  float64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: have %.4f, need %.4f", e.ID, e.Balance, e.Amount)
}

// IsInsufficientBalance reports whether err is an InsufficientBalanceError.
func IsInsufficientBalance(err error) bool {
	var ib *InsufficientBalanceError
	return errors.As(err, &ib)
}

// RuntimeError indicates a failure in the container runtime backend.
type RuntimeError struct {
	Op  string
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError wraps a container runtime failure for the given operation.
func NewRuntimeError(op string, err error) *RuntimeError {
	return &RuntimeError{Op: op, Err: err}
}

// IsRuntimeError reports whether err is a RuntimeError.
func IsRuntimeError(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re)
}

// NetworkError indicates an unreachable or timed-out peer.
type NetworkError struct {
	Peer string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network: peer %s: %v", e.Peer, e.Err)
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError wraps a failed call to the given peer address.
func NewNetworkError(peer string, err error) *NetworkError {
	return &NetworkError{Peer: peer, Err: err}
}

// IsNetworkError reports whether err is a NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// InvalidRequestError indicates a malformed workload descriptor or request body.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request: %s", e.Reason)
}

// NewInvalidRequest creates an InvalidRequestError with the given reason.
func NewInvalidRequest(reason string) *InvalidRequestError {
	return &InvalidRequestError{Reason: reason}
}

// IsInvalidRequest reports whether err is an InvalidRequestError.
func IsInvalidRequest(err error) bool {
	var ir *InvalidRequestError
	return errors.As(err, &ir)
}

// KindOf maps err to its taxonomy Kind. Errors outside the taxonomy map to
// KindRuntime, the catch-all for internal failures.
func KindOf(err error) Kind {
	switch {
	case IsNotFound(err):
		return KindNotFound
	case IsInsufficientBalance(err):
		return KindInsufficientBalance
	case IsNetworkError(err):
		return KindNetwork
	case IsInvalidRequest(err):
		return KindInvalidRequest
	default:
		return KindRuntime
	}
}
