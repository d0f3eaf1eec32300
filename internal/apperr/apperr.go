// Package apperr classifies errors returned to websocket and HTTP callers.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	Validation Kind = iota + 1
	Authorization
	Conflict
	Transient
	Invariant
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Authorization:
		return "authorization"
	case Conflict:
		return "conflict"
	case Transient:
		return "transient"
	case Invariant:
		return "invariant"
	}
	return "unknown"
}

// Error carries a stable machine-readable code next to the message.
// Two errors are equal under errors.Is when their codes match.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// KindOf returns the kind of the first *Error in err's chain, Invariant for
// unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Invariant
}

func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}

// HTTPStatus maps an error onto the status the REST handlers answer with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Validation:
		return http.StatusBadRequest
	case Authorization:
		return http.StatusForbidden
	case Conflict:
		return http.StatusConflict
	case Transient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Body is the JSON shape of an error sent to clients.
type Body struct {
	Code  string `json:"code"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

func BodyOf(err error) Body {
	return Body{Code: CodeOf(err), Kind: KindOf(err).String(), Error: err.Error()}
}
