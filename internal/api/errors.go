package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/wfplatform/chat-service/internal/errs"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func newStatusError(statusCode int) *ApiError {
	return &ApiError{
		StatusCode: statusCode,
		Message:    lower(http.StatusText(statusCode)),
	}
}

func NewBadRequestError() *ApiError {
	return newStatusError(http.StatusBadRequest)
}

func NewNotFoundError() *ApiError {
	return newStatusError(http.StatusNotFound)
}

func NewUnauthorizedError() *ApiError {
	return newStatusError(http.StatusUnauthorized)
}

func NewForbiddenError() *ApiError {
	return newStatusError(http.StatusForbidden)
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

// fromError translates a pipeline or store error into an API response.
func fromError(err error) *ApiError {
	switch errs.KindOf(err) {
	case errs.KindUnauthenticated:
		return NewUnauthorizedError()
	case errs.KindForbidden:
		return NewForbiddenError()
	case errs.KindNotFound:
		return NewNotFoundError()
	case errs.KindInvalidContent:
		return &ApiError{StatusCode: http.StatusBadRequest, Message: err.Error()}
	case errs.KindTransient:
		return newStatusError(http.StatusServiceUnavailable)
	default:
		return NewInternalServerError(err)
	}
}
