// Package reporting evaluates the predefined aggregate measures over the
// record tables and writes tabular results as xlsx workbooks.
package reporting

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/records/internal/platform/api"
	"github.com/ehr/records/internal/platform/apperr"
	"github.com/ehr/records/internal/platform/auth"
	"github.com/ehr/records/internal/platform/db"
)

// Measure is a named aggregate query.
type Measure struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SQL         string `json:"-"`
}

// Report holds the result of evaluating a measure. Columns keeps the
// query's column order for tabular output.
type Report struct {
	MeasureID   string           `json:"measure_id"`
	MeasureName string           `json:"measure_name"`
	GeneratedAt time.Time        `json:"generated_at"`
	Columns     []string         `json:"columns"`
	Results     []map[string]any `json:"results"`
}

var Measures = []Measure{
	{
		ID:          "patient-count",
		Name:        "Patient Count",
		Description: "Total number of patients and how many have an encounter",
		SQL: `SELECT COUNT(*) AS total,
		        COUNT(*) FILTER (WHERE EXISTS (SELECT 1 FROM encounter e WHERE e.patient_id = p.id)) AS with_encounters
		      FROM patient p`,
	},
	{
		ID:          "encounter-volume-by-class",
		Name:        "Encounter Volume by Class",
		Description: "Number of encounters grouped by class",
		SQL:         `SELECT class AS encounter_class, COUNT(*) AS total FROM encounter GROUP BY class ORDER BY total DESC, class`,
	},
	{
		ID:          "observation-count-by-code",
		Name:        "Observation Count by Code",
		Description: "Number of observations grouped by code",
		SQL:         `SELECT code, COUNT(*) AS total FROM observation GROUP BY code ORDER BY total DESC, code`,
	},
}

// FindMeasure looks up a measure by id.
func FindMeasure(id string) (Measure, bool) {
	for _, m := range Measures {
		if m.ID == id {
			return m, true
		}
	}
	return Measure{}, false
}

// Store runs a read query and returns its column names and rows.
type Store interface {
	Query(ctx context.Context, sql string) ([]string, [][]any, error)
}

type pgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) Query(ctx context.Context, sql string) ([]string, [][]any, error) {
	rows, err := db.Conn(ctx, s.pool).Query(ctx, sql)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, fd := range fields {
		cols[i] = fd.Name
	}

	var out [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, nil, err
		}
		out = append(out, values)
	}
	return cols, out, rows.Err()
}

type Service struct {
	store  Store
	tx     db.Transactor
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(store Store, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{store: store, tx: tx, logger: logger, now: time.Now}
}

// Evaluate runs the measure inside a read-only unit of work.
func (s *Service) Evaluate(ctx context.Context, id string) (*Report, error) {
	m, ok := FindMeasure(id)
	if !ok {
		return nil, apperr.NotFound("Measure", id)
	}

	var (
		cols []string
		rows [][]any
	)
	err := s.tx.WithinReadOnlyTx(ctx, func(ctx context.Context) error {
		var err error
		cols, rows, err = s.store.Query(ctx, m.SQL)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate measure %s: %w", id, err)
	}

	results := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if i < len(r) {
				row[c] = r[i]
			}
		}
		results = append(results, row)
	}

	s.logger.Debug().Str("measure", id).Int("rows", len(results)).Msg("measure evaluated")
	return &Report{
		MeasureID:   m.ID,
		MeasureName: m.Name,
		GeneratedAt: s.now().UTC(),
		Columns:     cols,
		Results:     results,
	}, nil
}

// Workbook renders the report as a single sheet named after the measure.
func (r *Report) Workbook() (*Workbook, error) {
	wb, err := NewWorkbook(r.MeasureName, r.Columns)
	if err != nil {
		return nil, err
	}
	for _, row := range r.Results {
		values := make([]any, len(r.Columns))
		for i, c := range r.Columns {
			values[i] = row[c]
		}
		if err := wb.AddRow(values...); err != nil {
			wb.Close()
			return nil, err
		}
	}
	return wb, nil
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	reports := g.Group("/reports", auth.RequireRole(auth.RoleAdmin, auth.RolePhysician))
	reports.GET("", h.List)
	reports.GET("/:id", h.Evaluate)
}

func (h *Handler) List(c echo.Context) error {
	return api.OK(c, http.StatusOK, "Measures retrieved successfully", Measures)
}

// Evaluate handles GET /reports/:id. With format=xlsx the report is sent as
// a workbook attachment instead of the JSON envelope.
func (h *Handler) Evaluate(c echo.Context) error {
	format := c.QueryParam("format")
	if format != "" && format != "json" && format != "xlsx" {
		return apperr.InvalidField("format", "must be json or xlsx")
	}

	report, err := h.svc.Evaluate(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if format != "xlsx" {
		return api.OK(c, http.StatusOK, "Report generated successfully", report)
	}

	wb, err := report.Workbook()
	if err != nil {
		return err
	}
	defer wb.Close()
	return SendWorkbook(c, wb, report.MeasureID+".xlsx")
}

// SendWorkbook writes wb as an attachment named filename.
func SendWorkbook(c echo.Context, wb *Workbook, filename string) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, ContentType)
	res.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	res.WriteHeader(http.StatusOK)
	_, err := wb.WriteTo(res)
	return err
}
