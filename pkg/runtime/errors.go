package runtime

import (
	"errors"
	"fmt"
)

// Sentinel errors for the kinds of the closed taxonomy that carry no
// additional context beyond their identity.
var (
	ErrGasDepletion    = errors.New("gas depleted")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrZeroAddress     = errors.New("allocate returned a zero address")
	ErrRegionTooSmall  = errors.New("region too small for data")
	ErrRegionLengthTooBig = errors.New("region length exceeds max_length")
	ErrDerefErr        = errors.New("region pointer out of bounds")
	ErrResultMismatch  = errors.New("unexpected function result count")
	ErrNoMemory        = errors.New("compiled module does not export exactly one memory")
)

// ValidationError is returned by the static validator. Message names
// the failing rule; the validator always returns one of these rather than
// panicking or passing silently on a malformed module.
type ValidationError struct {
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("static validation failed (%s): %s", e.Rule, e.Message)
}

// InstantiationError wraps a failure to create an Instance from an already
// compiled module.
type InstantiationError struct {
	CID   string
	Cause error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("instantiation failed for %s: %v", e.CID, e.Cause)
}

func (e *InstantiationError) Unwrap() error { return e.Cause }

// RuntimeError wraps a guest trap not caused by gas depletion.
type RuntimeError struct {
	Cause error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Cause)
}

func (e *RuntimeError) Unwrap() error { return e.Cause }

// AbortedError carries the message a guest passed to abort(...).
type AbortedError struct {
	Message string
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("guest aborted: %s", e.Message)
}

// CommunicationError signals a Region/pointer/length protocol violation.
type CommunicationError struct {
	Cause error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("communication error: %v", e.Cause)
}

func (e *CommunicationError) Unwrap() error { return e.Cause }

// FuncError wraps a guest-returned FuncResult::Err.
type FuncError struct {
	Message string
}

func (e *FuncError) Error() string { return e.Message }

// IpfsError signals bytecode that could not be fetched from the object
// store or local cache.
type IpfsError struct {
	Message string
}

func (e *IpfsError) Error() string {
	return fmt.Sprintf("bytecode unavailable: %s", e.Message)
}

// CacheError signals an internal module-cache or compile failure.
type CacheError struct {
	Message string
	Cause   error
}

func (e *CacheError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("cache error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("cache error: %s", e.Message)
}

func (e *CacheError) Unwrap() error { return e.Cause }

// TaskJoinError signals a worker-thread (goroutine) join failure.
type TaskJoinError struct {
	Message string
}

func (e *TaskJoinError) Error() string {
	return fmt.Sprintf("worker join failed: %s", e.Message)
}

// IsGasDepletion reports whether err is, or wraps, ErrGasDepletion.
func IsGasDepletion(err error) bool {
	return errors.Is(err, ErrGasDepletion)
}

// IsNotFound reports whether err is an IpfsError (the only "not found" kind
// in this taxonomy).
func IsNotFound(err error) bool {
	var ipfsErr *IpfsError
	return errors.As(err, &ipfsErr)
}

// IsPayloadTooLarge reports whether err is, or wraps, ErrPayloadTooLarge.
func IsPayloadTooLarge(err error) bool {
	return errors.Is(err, ErrPayloadTooLarge)
}

// IsAborted reports whether err is an AbortedError.
func IsAborted(err error) bool {
	var abortErr *AbortedError
	return errors.As(err, &abortErr)
}

// IsFuncError reports whether err is a guest-returned FuncError.
func IsFuncError(err error) bool {
	var funcErr *FuncError
	return errors.As(err, &funcErr)
}

// IsStaticValidation reports whether err is a ValidationError.
func IsStaticValidation(err error) bool {
	var valErr *ValidationError
	return errors.As(err, &valErr)
}
