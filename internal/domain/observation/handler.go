package observation

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/records/internal/platform/api"
	"github.com/ehr/records/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	read := g.Group("", auth.RequireRole(auth.ReadRoles...))
	read.GET("/patients/:id/observations", h.ListForPatient)

	write := g.Group("", auth.RequireRole(auth.WriteRoles...))
	write.POST("/patients/:id/observations", h.Record)
}

func (h *Handler) ListForPatient(c echo.Context) error {
	id, err := api.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	obs, err := h.svc.ListByPatient(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if len(obs) == 0 {
		return api.OK(c, http.StatusOK, "No observations found for this patient", obs)
	}
	return api.OK(c, http.StatusOK, "Observations retrieved successfully", obs)
}

func (h *Handler) Record(c echo.Context) error {
	id, err := api.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	var spec Spec
	if err := api.BindJSON(c, &spec); err != nil {
		return err
	}
	o, err := h.svc.Record(c.Request().Context(), id, spec)
	if err != nil {
		return err
	}
	return api.OK(c, http.StatusCreated, "Observation recorded successfully", o)
}
