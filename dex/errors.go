// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package dex

import "errors"

// ErrorKind is a sentinel error. Packages declare their kinds as constants,
// e.g. const ErrWalletLocked = dex.ErrorKind("wallet is locked").
type ErrorKind string

// Error satisfies the error interface.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error is an ErrorKind with context, such as the account address or
// network it applies to.
type Error struct {
	kind   error
	detail string
}

// Error returns "kind: detail", or just the kind if there is no detail.
func (e Error) Error() string {
	if e.detail == "" {
		return e.kind.Error()
	}
	return e.kind.Error() + ": " + e.detail
}

// Unwrap returns the kind for errors.Is and errors.As.
func (e Error) Unwrap() error {
	return e.kind
}

// Detail is the detail string supplied to NewError.
func (e Error) Detail() string {
	return e.detail
}

// NewError attaches a detail to an error kind.
func NewError(kind error, detail string) Error {
	return Error{
		kind:   kind,
		detail: detail,
	}
}

// KindOf returns the outermost ErrorKind in err's chain, or "" if there is
// none.
func KindOf(err error) ErrorKind {
	var kind ErrorKind
	if errors.As(err, &kind) {
		return kind
	}
	return ""
}

// closeStep is a named rollback function.
type closeStep struct {
	name  string
	close func() error
}

// ErrorCloser rolls back a multi-step startup. Each completed step registers
// its rollback with Add. Unless Success is called first, Done runs the
// rollbacks newest first.
type ErrorCloser struct {
	steps []closeStep
}

// NewErrorCloser creates a new ErrorCloser.
func NewErrorCloser() *ErrorCloser {
	return &ErrorCloser{}
}

// Add registers the rollback of the named step.
func (e *ErrorCloser) Add(name string, closer func() error) {
	e.steps = append(e.steps, closeStep{name, closer})
}

// Success discards the registered rollbacks.
func (e *ErrorCloser) Success() {
	e.steps = nil
}

// Done runs the registered rollbacks, newest first. Errors are logged.
func (e *ErrorCloser) Done(log Logger) {
	for i := len(e.steps) - 1; i >= 0; i-- {
		step := e.steps[i]
		if err := step.close(); err != nil {
			log.Errorf("error rolling back %s: %v", step.name, err)
		}
	}
	e.steps = nil
}
