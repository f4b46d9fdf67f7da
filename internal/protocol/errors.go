// Package protocol implements the intent and group membership state machines.
// Every operation verifies a proof, mutates under a per-chat lock, reconciles
// the denormalized projection, and fans out events.
package protocol

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Kind classifies a protocol failure; the HTTP layer maps it to a status.
type Kind int

const (
	KindValidation Kind = iota
	KindAuthorization
	KindConflict
	KindNotFound
	KindDependency
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindDependency:
		return "dependency"
	default:
		return "internal"
	}
}

// Error is the discriminated failure result of a protocol operation.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Detail  any // optional structured detail, e.g. denied addresses
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s/%s: %s", e.Kind, e.Code, e.Message)
}

func validationf(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func authorizationf(code, format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Code: code, Message: fmt.Sprintf(format, args...)}
}

func conflictf(code, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

func notFoundf(code, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}

// internalError logs the real cause under a correlation id and returns a
// generic error carrying only that id.
func internalError(log zerolog.Logger, err error, op string) *Error {
	id := uuid.NewString()
	log.Error().Err(err).Str("op", op).Str("correlation_id", id).Msg("internal protocol failure")
	return &Error{
		Kind:    KindInternal,
		Code:    "internal",
		Message: "internal error, reference " + id,
	}
}
