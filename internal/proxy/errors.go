package proxy

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the stable error code returned in proxy responses.
type Code string

const (
	CodeInvalidToken   Code = "INVALID_TOKEN"
	CodeTokenExpired   Code = "TOKEN_EXPIRED"
	CodeInvalidRequest Code = "INVALID_REQUEST"
	CodeUnauthorized   Code = "UNAUTHORIZED"
	CodeGristError     Code = "GRIST_ERROR"
)

var codeStatus = map[Code]int{
	CodeInvalidToken:   http.StatusUnauthorized,
	CodeTokenExpired:   http.StatusUnauthorized,
	CodeInvalidRequest: http.StatusBadRequest,
	CodeUnauthorized:   http.StatusForbidden,
	CodeGristError:     http.StatusInternalServerError,
}

// Status returns the HTTP status for the code.
func (c Code) Status() int {
	if s, ok := codeStatus[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is a proxy failure with a fixed code. The wrapped cause is kept
// for logging only; it never changes the code.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Status returns the HTTP status for the error's code.
func (e *Error) Status() int {
	return e.Code.Status()
}

// NewError builds a boundary error outside request parsing, such as a
// missing bearer token.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func invalidRequest(format string, args ...any) *Error {
	return newError(CodeInvalidRequest, format, args...)
}

func upstreamError(err error) *Error {
	return &Error{Code: CodeGristError, Message: err.Error(), cause: err}
}

// AsError converts any error into an *Error; unknown errors become GRIST_ERROR.
func AsError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return upstreamError(err)
}

// Response is the JSON envelope of every proxy answer.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    Code   `json:"code,omitempty"`
}

// Success wraps data in a success envelope.
func Success(data any) Response {
	return Response{Success: true, Data: data}
}

// Failure builds the error envelope for err.
func Failure(err *Error) Response {
	return Response{Success: false, Error: err.Message, Code: err.Code}
}
