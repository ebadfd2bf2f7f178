package patient

import (
	"context"
	"io"

	"github.com/ehr/records/internal/platform/reporting"
	"github.com/ehr/records/pkg/pagination"
)

var exportHeaders = []string{
	"ID", "Identifier", "Given Name", "Family Name", "Birth Date",
	"Username", "Email", "Gender", "Version", "Created At", "Updated At",
}

func exportRow(p *Patient) []any {
	gender := ""
	if p.Gender != nil {
		gender = string(*p.Gender)
	}
	birth := ""
	if !p.BirthDate.IsZero() {
		birth = p.BirthDate.String()
	}
	return []any{
		p.ID.String(), p.Identifier, p.GivenName, p.FamilyName, birth,
		p.Username, p.Email, gender, p.Version, p.CreatedAt, p.UpdatedAt,
	}
}

// ExportWorkbook builds a workbook of every patient matching params. The
// caller closes it.
func (s *Service) ExportWorkbook(ctx context.Context, params SearchParams, sort pagination.Sort) (*reporting.Workbook, error) {
	wb, err := reporting.NewWorkbook("Patients", exportHeaders)
	if err != nil {
		return nil, err
	}
	err = s.Export(ctx, params, sort, func(p *Patient) error {
		return wb.AddRow(exportRow(p)...)
	})
	if err != nil {
		wb.Close()
		return nil, err
	}
	s.logger.Info().Int("rows", wb.Rows()).Msg("patients exported")
	return wb, nil
}

// WriteExport writes the export workbook to w and returns the row count.
func (s *Service) WriteExport(ctx context.Context, params SearchParams, sort pagination.Sort, w io.Writer) (int, error) {
	wb, err := s.ExportWorkbook(ctx, params, sort)
	if err != nil {
		return 0, err
	}
	defer wb.Close()
	if _, err := wb.WriteTo(w); err != nil {
		return 0, err
	}
	return wb.Rows(), nil
}
