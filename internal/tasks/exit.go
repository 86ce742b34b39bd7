package tasks

import (
	"errors"
	"fmt"

	"hgu-gateway/internal/catalog"
	"hgu-gateway/internal/config"
	"hgu-gateway/internal/session"
	"hgu-gateway/internal/writer"
)

// Process exit codes.
const (
	CodeOK           = 0
	CodeConfig       = 1
	CodeController   = 2
	CodeSink         = 3
	CodeSubscription = 4
	CodeWrite        = 5
	CodeGeneric      = 99
)

// ExitError carries the exit code a failure should end the process with.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

func exitf(code int, format string, args ...any) error {
	return &ExitError{Code: code, Err: fmt.Errorf(format, args...)}
}

// Code maps err to a process exit code.
func Code(err error) int {
	if err == nil {
		return CodeOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	var se *writer.StatusError
	switch {
	case errors.Is(err, config.ErrInvalid), errors.Is(err, catalog.ErrEmpty):
		return CodeConfig
	case errors.Is(err, session.ErrConnect):
		return CodeController
	case errors.Is(err, session.ErrNoNodes), errors.Is(err, session.ErrSubscription):
		return CodeSubscription
	case errors.As(err, &se):
		return CodeWrite
	}
	return CodeGeneric
}
