package runner

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned when a call cannot proceed with the
	// arguments or model state it was given (undecodable seed token,
	// exhausted generation budget).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidState is returned when the runner is asked to do something
	// its cross-call state does not allow, such as generating from empty
	// inputs without a pending prefill token.
	ErrInvalidState = errors.New("invalid state")
)

type runnerError struct {
	kind error
	msg  string
}

func (e runnerError) Error() string {
	return e.kind.Error() + ": " + e.msg
}

func (e runnerError) Unwrap() error {
	return e.kind
}

func invalidArgument(format string, args ...any) error {
	return runnerError{kind: ErrInvalidArgument, msg: fmt.Sprintf(format, args...)}
}

func invalidState(format string, args ...any) error {
	return runnerError{kind: ErrInvalidState, msg: fmt.Sprintf(format, args...)}
}
