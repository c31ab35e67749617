package common

import (
	"errors"
	"net/http"
)

// Error kinds. Match with errors.Is.
var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrAuth        = errors.New("authentication failed")
	ErrForbidden   = errors.New("forbidden")
	ErrConflict    = errors.New("conflict")
	ErrUpstream    = errors.New("upstream provider error")
	ErrPersistence = errors.New("persistence error")
)

// Error carries a kind, a client-safe message and the underlying cause.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

func Validation(msg string) error { return &Error{Kind: ErrValidation, Msg: msg} }

func NotFound(msg string) error { return &Error{Kind: ErrNotFound, Msg: msg} }

func Auth(msg string) error { return &Error{Kind: ErrAuth, Msg: msg} }

func Forbidden(msg string) error { return &Error{Kind: ErrForbidden, Msg: msg} }

func Conflict(msg string, err error) error { return &Error{Kind: ErrConflict, Msg: msg, Err: err} }

func Upstream(err error) error {
	return &Error{Kind: ErrUpstream, Msg: "upstream provider failed", Err: err}
}

func Persistence(err error) error {
	return &Error{Kind: ErrPersistence, Msg: "storage unavailable", Err: err}
}

// Status maps an error to an HTTP status and business code.
func Status(err error) (int, int) {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, 40001
	case errors.Is(err, ErrAuth):
		return http.StatusBadRequest, 40002
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, 40301
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, 40401
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, 40901
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway, 50201
	case errors.Is(err, ErrPersistence):
		return http.StatusInternalServerError, 50002
	default:
		return http.StatusInternalServerError, 50001
	}
}

// Message is the text shown to clients: the typed message when there is one,
// the raw error otherwise.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if errors.Is(err, ErrPersistence) || errors.Is(err, ErrUpstream) {
			return e.Error()
		}
		return e.Msg
	}
	return err.Error()
}
