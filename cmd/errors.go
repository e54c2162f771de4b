package cmd

import (
	"errors"
	"fmt"
)

// Exit codes by failure class. Usage and validation problems, failures to
// obtain the image bytes, and embedding service failures are distinct so
// scripts can tell them apart.
const (
	exitInternal    = 1
	exitValidation  = 2
	exitAcquisition = 3
	exitService     = 4
)

// classedError tags an error with the exit code it maps to.
type classedError struct {
	code int
	err  error
}

func (e *classedError) Error() string { return e.err.Error() }
func (e *classedError) Unwrap() error { return e.err }

func internalError(err error) error {
	if err == nil {
		return nil
	}
	return &classedError{code: exitInternal, err: err}
}

func validationError(err error) error {
	if err == nil {
		return nil
	}
	return &classedError{code: exitValidation, err: err}
}

func acquisitionError(err error) error {
	if err == nil {
		return nil
	}
	return &classedError{code: exitAcquisition, err: err}
}

func serviceErrorf(format string, args ...any) error {
	return &classedError{code: exitService, err: fmt.Errorf(format, args...)}
}

// exitCode maps an error to its process exit code. Errors without a class
// come from argument parsing and count as validation failures.
func exitCode(err error) int {
	var classed *classedError
	if errors.As(err, &classed) {
		return classed.code
	}
	return exitValidation
}
