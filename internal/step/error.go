// Package step runs one pipeline step over its candidate runs.
package step

import (
	"errors"
	"fmt"

	"github.com/GenomiqueENS/aozan/internal/diskspace"
)

// Kind classifies step failures. The runner decides whether to carry on with
// the next candidate from the kind alone.
type Kind int

const (
	// KindExecution is an external tool failure or any untyped error.
	KindExecution Kind = iota
	// KindConfig is a configuration problem detected by the step.
	KindConfig
	// KindPreflight is a failed precondition such as missing input or disk space.
	KindPreflight
	// KindInfra is a failure of the orchestrator's own state files.
	KindInfra
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindPreflight:
		return "preflight"
	case KindInfra:
		return "infra"
	default:
		return "execution"
	}
}

// Error is the failure of a step for one run.
type Error struct {
	Kind  Kind
	Step  string
	RunID string

	// Short is the one-line summary used as the alert subject.
	Short string

	// Attachment is an optional file (typically a tool log) sent with the alert.
	Attachment string

	Err error
}

func (e *Error) Error() string {
	msg := e.Short
	if msg == "" {
		msg = fmt.Sprintf("%s failed for run %s", e.Step, e.RunID)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Preflight returns a preflight error.
func Preflight(short string, err error) *Error {
	return &Error{Kind: KindPreflight, Short: short, Err: err}
}

// Preflightf returns a preflight error with a formatted summary.
func Preflightf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindPreflight, Short: fmt.Sprintf(format, args...)}
}

// Execution returns an execution error.
func Execution(short string, err error) *Error {
	return &Error{Kind: KindExecution, Short: short, Err: err}
}

// Config returns a configuration error.
func Config(short string, err error) *Error {
	return &Error{Kind: KindConfig, Short: short, Err: err}
}

// Infra returns an infrastructure error.
func Infra(short string, err error) *Error {
	return &Error{Kind: KindInfra, Short: short, Err: err}
}

// WithAttachment sets the file attached to the alert and returns e.
func (e *Error) WithAttachment(path string) *Error {
	e.Attachment = path
	return e
}

// AsError converts err into a step Error. Disk space shortfalls are
// preflight errors; other untyped errors are execution failures.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	if diskspace.IsInsufficientSpaceError(err) {
		return &Error{Kind: KindPreflight, Err: err}
	}
	return &Error{Kind: KindExecution, Err: err}
}

// KindOf returns the kind of err.
func KindOf(err error) Kind {
	return AsError(err).Kind
}
