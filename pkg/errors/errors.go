package errors

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCyclicReference indicates that a link assignment would create a cycle in the reference graph
	ErrCyclicReference = errors.New("cyclic reference in object graph")

	// ErrObjectDeleted indicates that an operation was attempted on a deleted graph node
	ErrObjectDeleted = errors.New("object has been deleted")

	// ErrFrameOutOfRange indicates that a requested source frame does not exist
	ErrFrameOutOfRange = errors.New("source frame index out of range")

	// ErrNoFrames indicates that frame discovery did not find any frames
	ErrNoFrames = errors.New("no frames found")

	// ErrUnsupportedDelegate indicates an unknown operate-on key for a delegating modifier
	ErrUnsupportedDelegate = errors.New("not a supported data element")

	// ErrMissingDataObject indicates that a pipeline input lacks a required data object
	ErrMissingDataObject = errors.New("required data object missing from pipeline input")

	// ErrCanceled indicates that an asynchronous operation was canceled
	ErrCanceled = errors.New("operation canceled")

	// ErrCircuitOpen indicates that a circuit breaker rejected the operation
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTransport indicates a failure of the remote file transport
	ErrTransport = errors.New("transport failure")
)

// Error codes used with Error.
const (
	CodeCyclicReference = "CYCLIC_REFERENCE"
	CodeEvaluation      = "EVALUATION_FAILED"
	CodeDiscovery       = "FRAME_DISCOVERY_FAILED"
	CodeLoad            = "FRAME_LOAD_FAILED"
	CodeValidation      = "VALIDATION_FAILED"
	CodeTransport       = "TRANSPORT_FAILED"
)

// Error represents a structured pipeline error
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new pipeline error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsCyclicReference checks if an error is a cyclic reference error
func IsCyclicReference(err error) bool {
	return errors.Is(err, ErrCyclicReference)
}

// IsCanceled checks if an error stems from cancellation
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

// Category groups errors by how callers should react to them.
type Category string

const (
	CategoryTransient Category = "transient"
	CategoryInvalid   Category = "invalid"
	CategoryFatal     Category = "fatal"
	CategoryCanceled  Category = "canceled"
)

// Classify maps an error to a Category.
func Classify(err error) Category {
	switch {
	case err == nil:
		return ""
	case IsCanceled(err):
		return CategoryCanceled
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrTransport),
		errors.Is(err, ErrCircuitOpen):
		return CategoryTransient
	case errors.Is(err, ErrCyclicReference),
		errors.Is(err, ErrUnsupportedDelegate),
		errors.Is(err, ErrMissingDataObject),
		errors.Is(err, ErrFrameOutOfRange):
		return CategoryInvalid
	}

	var coded *Error
	if errors.As(err, &coded) {
		switch coded.Code {
		case CodeTransport:
			return CategoryTransient
		case CodeValidation, CodeCyclicReference:
			return CategoryInvalid
		}
	}
	return CategoryFatal
}
