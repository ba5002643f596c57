package task

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorCodeHandler is recorded on a failed job when its handler returned an
// error without supplying a code of its own.
const ErrorCodeHandler = "HANDLER_ERROR"

// Handler implements one job type. Handlers are registered at startup and
// invoked by workers once per attempt; a retried job sees a fresh Context
// each time.
type Handler interface {
	// Type returns the job type this handler serves.
	Type() string

	// Execute runs one attempt of the job. The returned payload becomes the
	// job's result on success. Returning an error fails the attempt; return
	// a *Error to control the error code recorded on the job.
	Execute(ctx *Context) (json.RawMessage, error)
}

// Func adapts a plain function to the Handler interface. Useful for small
// handlers and test doubles.
type Func struct {
	jobType string
	run     func(ctx *Context) (json.RawMessage, error)
}

// NewFunc wraps run as a Handler serving jobType.
func NewFunc(jobType string, run func(ctx *Context) (json.RawMessage, error)) Func {
	if jobType == "" {
		panic("task: NewFunc requires a job type")
	}
	if run == nil {
		panic("task: NewFunc requires a run function")
	}
	return Func{jobType: jobType, run: run}
}

// Type returns the job type the wrapped function serves.
func (f Func) Type() string {
	return f.jobType
}

// Execute invokes the wrapped function.
func (f Func) Execute(ctx *Context) (json.RawMessage, error) {
	return f.run(ctx)
}

// Error is a handler failure with a machine-readable code. Workers record
// the code on the failed job so producers can branch on it without parsing
// messages. Err, when set, is the underlying cause and is exposed through
// Unwrap for errors.Is checks.
type Error struct {
	Code    string
	Message string
	Err     error
}

// NewError returns a coded handler error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Classify maps a handler failure to the error code and message recorded on
// the job. A *Error anywhere in the chain keeps its own code; everything
// else lands under ErrorCodeHandler.
func Classify(err error) (code, message string) {
	var coded *Error
	if errors.As(err, &coded) && coded.Code != "" {
		return coded.Code, err.Error()
	}
	return ErrorCodeHandler, err.Error()
}
