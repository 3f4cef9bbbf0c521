package apperror

import (
	"errors"
	"net/http"
)

type Code string

const (
	BadRequest  Code = "BAD_REQUEST"
	NotFound    Code = "NOT_FOUND"
	Internal    Code = "INTERNAL"
	Conflict    Code = "CONFLICT"
	Config      Code = "CONFIG"
	Provider    Code = "PROVIDER"
	Validation  Code = "VALIDATION"
	Persistence Code = "PERSISTENCE"
)

type AppError struct {
	code    Code
	message string
	err     error
}

func New(code Code, message string) *AppError {
	return &AppError{code: code, message: message}
}

// Wrap attaches a code to err. The message is err's text prefixed with
// message when message is non-empty.
func Wrap(code Code, message string, err error) *AppError {
	msg := message
	if err != nil {
		if msg != "" {
			msg += ": " + err.Error()
		} else {
			msg = err.Error()
		}
	}
	return &AppError{code: code, message: msg, err: err}
}

func (e *AppError) Error() string   { return e.message }
func (e *AppError) Code() Code      { return e.code }
func (e *AppError) Message() string { return e.message }
func (e *AppError) Unwrap() error   { return e.err }

func (e *AppError) HTTPStatus() int {
	switch e.code {
	case BadRequest, Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf returns the code of the first AppError in err's chain, or Internal.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.code
	}
	return Internal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var ae *AppError
	return errors.As(err, &ae) && ae.code == code
}
