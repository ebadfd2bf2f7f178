package encounter

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

// RegisterRoutes mounts the write side. Paged encounter reads are served by
// the patient handler.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	write := g.Group("", auth.RequireRole(auth.WriteRoles...))
	write.POST("/patients/:id/encounters", h.Record)
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
	e, err := h.svc.Record(c.Request().Context(), id, spec)
	if err != nil {
		return err
	}
	return api.OK(c, http.StatusCreated, "Encounter recorded successfully", e)
}
