package util

import (
	"fmt"
	"net/http"
)

// MyResponseError is an error that already knows which status and message the client gets.
type MyResponseError struct {
	Msg    string
	Status int
}

func (e MyResponseError) Error() string { return e.Msg }

func NewResponseError(status int, format string, args ...interface{}) error {
	return MyResponseError{
		Msg:    fmt.Sprintf(format, args...),
		Status: status,
	}
}

func NewConflictError(format string, args ...interface{}) error {
	return NewResponseError(http.StatusConflict, format, args...)
}

func NewBadRequestError(format string, args ...interface{}) error {
	return NewResponseError(http.StatusBadRequest, format, args...)
}
