package server

import (
	"errors"
	"net/http"

	"github.com/Sayooj2275/ecotrace/models"
)

const (
	Msg_AlreadyClaimed = "already taken, pick another"
	Msg_CodeMismatch   = "incorrect code, try again"
	Msg_Stale          = "request has changed, refresh and try again"
	Msg_Expired        = "request has expired"
	Msg_Internal       = "internal error"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// statusFor maps lifecycle errors to an HTTP status and a message that is safe to show to the caller
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "request not found"
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, models.ErrAlreadyClaimed):
		return http.StatusConflict, Msg_AlreadyClaimed
	case errors.Is(err, models.ErrExpired):
		return http.StatusGone, Msg_Expired
	case errors.Is(err, models.ErrCodeMismatch):
		return http.StatusUnprocessableEntity, Msg_CodeMismatch
	case errors.Is(err, models.ErrAlreadyConsumed),
		errors.Is(err, models.ErrNotClaimed),
		errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, Msg_Stale
	}
	return http.StatusInternalServerError, Msg_Internal
}
