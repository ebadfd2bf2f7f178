package patient

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/records/internal/platform/api"
	"github.com/ehr/records/internal/platform/auth"
	"github.com/ehr/records/internal/platform/reporting"
	"github.com/ehr/records/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	read := g.Group("", auth.RequireRole(auth.ReadRoles...))
	read.GET("/patients", h.Search)
	read.GET("/patients/export", h.Export)
	read.GET("/patients/:id", h.Get)
	read.GET("/patients/:id/encounters", h.Encounters)

	write := g.Group("", auth.RequireRole(auth.WriteRoles...))
	write.POST("/patients", h.Create)
	write.PUT("/patients/:id", h.Update)
	write.DELETE("/patients/:id", h.Delete)
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := api.BindJSON(c, &req); err != nil {
		return err
	}
	rec, err := h.svc.Create(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return api.OK(c, http.StatusCreated, "Patient created successfully", rec)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := api.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	rec, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return api.OK(c, http.StatusOK, "Patient retrieved successfully", rec)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := api.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := api.BindJSON(c, &req); err != nil {
		return err
	}
	p, err := h.svc.Update(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return api.OK(c, http.StatusOK, "Patient updated successfully", p)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := api.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Search handles GET /patients?family=&given=&identifier=&birthDate=&startDate=&endDate=&page=&size=&sort=.
func (h *Handler) Search(c echo.Context) error {
	params, err := ParseSearchParams(c.QueryParams())
	if err != nil {
		return err
	}
	req, err := pagination.FromContext(c, DefaultSort, SortFields...)
	if err != nil {
		return err
	}
	page, err := h.svc.Search(c.Request().Context(), params, req)
	if err != nil {
		return err
	}
	return api.OK(c, http.StatusOK, "Patient search successful", page)
}

// Export handles GET /patients/export with the search filters and sort,
// answering with an xlsx attachment.
func (h *Handler) Export(c echo.Context) error {
	params, err := ParseSearchParams(c.QueryParams())
	if err != nil {
		return err
	}
	req, err := pagination.FromContext(c, DefaultSort, SortFields...)
	if err != nil {
		return err
	}
	wb, err := h.svc.ExportWorkbook(c.Request().Context(), params, req.Sort)
	if err != nil {
		return err
	}
	defer wb.Close()
	return reporting.SendWorkbook(c, wb, "patients.xlsx")
}

// Encounters handles GET /patients/:id/encounters?page=&size=. Order is
// always start descending.
func (h *Handler) Encounters(c echo.Context) error {
	id, err := api.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	req, err := pagination.Parse(c.QueryParam("page"), c.QueryParam("size"), "", pagination.Sort{})
	if err != nil {
		return err
	}
	page, err := h.svc.Encounters(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return api.OK(c, http.StatusOK, "Encounters retrieved successfully", page)
}
