package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/mmrunner/internal/runner"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// classify maps an error to an HTTP status and an error type string.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, runner.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, runner.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "cancelled"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}

func errorDetail(err error) *ErrorDetail {
	_, typ := classify(err)
	return &ErrorDetail{Message: err.Error(), Type: typ}
}

func writeError(c *echo.Context, err error) error {
	status, typ := classify(err)
	return c.JSON(status, errorBody{Error: ErrorDetail{Message: err.Error(), Type: typ}})
}

func writeNotFound(c *echo.Context, msg string) error {
	return c.JSON(http.StatusNotFound, errorBody{Error: ErrorDetail{Message: msg, Type: "not_found"}})
}
