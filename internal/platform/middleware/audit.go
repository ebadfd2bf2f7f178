package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/records/internal/platform/api"
	"github.com/ehr/records/internal/platform/auth"
)

const apiPrefix = "/api/v1/"

// AccessEntry describes one request that touched patient records.
type AccessEntry struct {
	RequestID string
	UserID    string
	UserRoles []string
	Resource  string
	PatientID string
	Action    string
	Method    string
	Path      string
	RemoteIP  string
	Status    int
}

// Audit writes a "phi_access" log line for every /api/v1 request after the
// handler has run. It must sit inside the auth middleware to see the caller.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			if !strings.HasPrefix(path, apiPrefix) {
				return next(c)
			}

			err := next(c)

			entry := accessEntry(c, err)
			evt := logger.Info()
			if entry.Status == http.StatusForbidden || entry.Status == http.StatusUnauthorized {
				evt = logger.Warn()
			}
			evt.
				Str("type", "phi_access").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.RemoteIP).
				Int("status", entry.Status).
				Msg("phi_access")

			return err
		}
	}
}

func accessEntry(c echo.Context, err error) AccessEntry {
	req := c.Request()
	ctx := req.Context()

	status := c.Response().Status
	if err != nil && !c.Response().Committed {
		status, _, _ = api.Status(err)
	}

	rid, _ := c.Get("request_id").(string)
	resource, patientID := parsePath(req.URL.Path)
	return AccessEntry{
		RequestID: rid,
		UserID:    auth.UserIDFromContext(ctx),
		UserRoles: auth.RolesFromContext(ctx),
		Resource:  resource,
		PatientID: patientID,
		Action:    methodToAction(req.Method, patientID == "" && resource == "patients"),
		Method:    req.Method,
		Path:      req.URL.Path,
		RemoteIP:  c.RealIP(),
		Status:    status,
	}
}

func methodToAction(method string, collection bool) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	if collection {
		return "search"
	}
	return "read"
}

// parsePath splits /api/v1/patients/<id>/encounters into the innermost
// resource name and the patient id.
//
//	/api/v1/patients                    -> patients, ""
//	/api/v1/patients/<id>               -> patients, <id>
//	/api/v1/patients/<id>/observations  -> observations, <id>
//	/api/v1/reports/patient-count       -> reports, ""
func parsePath(path string) (resource, patientID string) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, apiPrefix), "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return "unknown", ""
	}
	resource = segments[0]
	if resource != "patients" || len(segments) < 2 {
		return resource, ""
	}
	if _, err := uuid.Parse(segments[1]); err == nil {
		patientID = segments[1]
	}
	if len(segments) > 2 {
		resource = segments[2]
	}
	return resource, patientID
}
