// package errors contains domain errors that different layers can use to add
// meaning to an error and that the handler layer can transform to a status
// code. This is implemented as a separate package in order to avoid cycle
// import errors.
package errors

import "fmt"

// The following errors serve as domain errors that can be used by the
// different layers. The handlers in the entrypoint will intercept these and
// convert them to the relevant HTTP codes.
var (
	// ErrInvalidArgument is used when the provided argument is incorrect
	// (e.g. format, unsupported content type, empty query).
	ErrInvalidArgument = fmt.Errorf("invalid")
	// ErrNotFound is used when a resource doesn't exist.
	ErrNotFound = fmt.Errorf("not found")
	// ErrAlreadyExists is used when a resource can't be created because it
	// already exists (e.g. an active embedding job for the same object).
	ErrAlreadyExists = fmt.Errorf("resource already exists")
	// ErrAlreadyResolved is used when an approval callback has already been
	// resolved by an earlier decision or by its timeout. Callers treat it as
	// an acknowledged no-op, never as a failure.
	ErrAlreadyResolved = fmt.Errorf("callback already resolved")
)
