package engine

import "fmt"

// ValidationError is a malformed or incomplete request.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

// ConflictError reports a request that contradicts current state, such as a
// duplicate bid or an operation on an already-accepted bid.
type ConflictError struct {
	Msg string
}

func (e ConflictError) Error() string { return e.Msg }

// InvalidStateError reports a transition that would break a lifecycle
// invariant.
type InvalidStateError struct {
	Msg string
}

func (e InvalidStateError) Error() string { return e.Msg }

// ForbiddenError reports a caller lacking the role an operation requires.
type ForbiddenError struct {
	Msg string
}

func (e ForbiddenError) Error() string { return e.Msg }

func forbiddenRole(op string, min string) ForbiddenError {
	return ForbiddenError{Msg: fmt.Sprintf("%s requires at least the %s role", op, min)}
}
