package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/records/internal/platform/apperr"
)

// ParamUUID parses the named path parameter as a UUID.
func ParamUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.InvalidField(name, "must be a valid UUID")
	}
	return id, nil
}

// BindJSON decodes the request body into dst. Decoding problems come back as
// a ValidationError naming the offending field where one is known.
func BindJSON(c echo.Context, dst any) error {
	req := c.Request()
	if req.Body == nil || req.Body == http.NoBody {
		return apperr.InvalidField("body", "Request body is required")
	}

	dec := json.NewDecoder(req.Body)
	if err := dec.Decode(dst); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return apperr.InvalidField(typeErr.Field, fmt.Sprintf("must be a %s", typeErr.Type))
		}
		var fieldErr *FieldError
		if errors.As(err, &fieldErr) {
			return apperr.InvalidField(fieldErr.Field, fieldErr.Msg)
		}
		return apperr.InvalidField("body", "Malformed JSON request")
	}
	return nil
}

// FieldError lets custom UnmarshalJSON implementations name the field that
// failed to decode.
type FieldError struct {
	Field string
	Msg   string
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Msg }
