package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/records/internal/platform/apperr"
)

func serve(t *testing.T, logger zerolog.Logger, method string, err error) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, "/api/v1/patients", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "rid-1")

	ErrorHandler(logger)(err, c)

	var env Envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestErrorHandler_Validation(t *testing.T) {
	rec, env := serve(t, zerolog.Nop(), http.MethodPost,
		apperr.Validation(map[string]string{"email": "must be a valid email address"}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "Validation failed", env.Message)
	assert.Equal(t, map[string]any{"email": "must be a valid email address"}, env.Data)
}

func TestErrorHandler_DuplicateIsBadRequest(t *testing.T) {
	rec, env := serve(t, zerolog.Nop(), http.MethodPost,
		fmt.Errorf("create patient: %w", apperr.Duplicate("Patient", "identifier", "P1")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Patient with identifier 'P1' already exists", env.Message)
	assert.Nil(t, env.Data)
}

func TestErrorHandler_StaleVersionIsConflict(t *testing.T) {
	rec, env := serve(t, zerolog.Nop(), http.MethodPut, apperr.StaleVersion("Patient"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, env.Success)
}

func TestErrorHandler_NotFound(t *testing.T) {
	rec, env := serve(t, zerolog.Nop(), http.MethodGet, apperr.NotFound("Patient", "abc"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Patient not found with id: abc", env.Message)
}

func TestErrorHandler_UnexpectedHidesDetail(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	rec, env := serve(t, logger, http.MethodGet, errors.New("dial tcp 10.0.0.5:5432: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, unexpectedMessage, env.Message)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
	assert.Contains(t, buf.String(), "connection refused", "detail is logged")
	assert.Contains(t, buf.String(), "rid-1")
}

func TestErrorHandler_EchoHTTPError(t *testing.T) {
	rec, env := serve(t, zerolog.Nop(), http.MethodGet, echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate limit exceeded", env.Message)

	rec, env = serve(t, zerolog.Nop(), http.MethodGet, echo.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", env.Message)
}

func TestErrorHandler_Head(t *testing.T) {
	rec, _ := serve(t, zerolog.Nop(), http.MethodHead, apperr.NotFound("Patient", "x"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, rec.Body.Len())
}

func TestOK(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, OK(c, http.StatusCreated, "Patient created successfully", map[string]string{"id": "1"}))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"success":true,"message":"Patient created successfully","data":{"id":"1"}}`, rec.Body.String())
}

func TestErrorHandler_GatewayTimeoutKeepsMessage(t *testing.T) {
	rec, env := serve(t, zerolog.Nop(), http.MethodGet,
		echo.NewHTTPError(http.StatusGatewayTimeout, "Request processing exceeded the allowed time limit"))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "Request processing exceeded the allowed time limit", env.Message)
}
