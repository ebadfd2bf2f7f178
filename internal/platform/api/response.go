// Package api shapes every HTTP response into the {success, message, data}
// envelope and maps service errors onto status codes.
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/records/internal/platform/apperr"
)

const unexpectedMessage = "An unexpected error occurred"

type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func OK(c echo.Context, status int, message string, data any) error {
	return c.JSON(status, Envelope{Success: true, Message: message, Data: data})
}

func Fail(c echo.Context, status int, message string, data any) error {
	return c.JSON(status, Envelope{Success: false, Message: message, Data: data})
}

// Status returns the HTTP status, client message and payload for err.
func Status(err error) (int, string, any) {
	var (
		ve *apperr.ValidationError
		ce *apperr.ConflictError
		nf *apperr.NotFoundError
		he *echo.HTTPError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, "Validation failed", ve.Fields
	case errors.As(err, &ce):
		if ce.Stale {
			return http.StatusConflict, ce.Error(), nil
		}
		return http.StatusBadRequest, ce.Error(), nil
	case errors.As(err, &nf):
		return http.StatusNotFound, nf.Error(), nil
	case errors.As(err, &he):
		if he.Code == http.StatusInternalServerError {
			return he.Code, unexpectedMessage, nil
		}
		return he.Code, httpMessage(he), nil
	}
	return http.StatusInternalServerError, unexpectedMessage, nil
}

func httpMessage(he *echo.HTTPError) string {
	if s, ok := he.Message.(string); ok {
		return s
	}
	if he.Message == nil {
		return http.StatusText(he.Code)
	}
	return fmt.Sprint(he.Message)
}

// ErrorHandler is installed as echo's HTTPErrorHandler. Server-side failures
// are logged with the request id; their detail never reaches the client.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, message, data := Status(err)
		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().
				Err(err).
				Str("request_id", rid).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = Fail(c, status, message, data)
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}
