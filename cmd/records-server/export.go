package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/ehr/records/internal/domain/patient"
	"github.com/ehr/records/internal/platform/db"
	"github.com/ehr/records/internal/platform/events"
	"github.com/ehr/records/pkg/pagination"
)

type exportFlags struct {
	out        string
	family     string
	given      string
	identifier string
	birthDate  string
	startDate  string
	endDate    string
	sort       string
}

// params validates the filters the same way the search endpoint does.
func (f exportFlags) params() (patient.SearchParams, pagination.Sort, error) {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("family", f.family)
	set("given", f.given)
	set("identifier", f.identifier)
	set("birthDate", f.birthDate)
	set("startDate", f.startDate)
	set("endDate", f.endDate)

	params, err := patient.ParseSearchParams(q)
	if err != nil {
		return patient.SearchParams{}, pagination.Sort{}, err
	}
	req, err := pagination.Parse("", "", f.sort, patient.DefaultSort, patient.SortFields...)
	if err != nil {
		return patient.SearchParams{}, pagination.Sort{}, err
	}
	return params, req.Sort, nil
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export records to spreadsheets",
	}

	var f exportFlags
	patients := &cobra.Command{
		Use:   "patients",
		Short: "Write matching patients to an xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			params, sort, err := f.params()
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, os.Stderr)

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := newServices(pool, events.Noop{}, logger)

			out, err := os.Create(f.out)
			if err != nil {
				return fmt.Errorf("create %s: %w", f.out, err)
			}
			n, err := svc.patients.WriteExport(ctx, params, sort, out)
			if cerr := out.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				_ = os.Remove(f.out)
				return fmt.Errorf("export patients: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d patient(s) to %s\n", n, f.out)
			return nil
		},
	}

	fl := patients.Flags()
	fl.StringVarP(&f.out, "out", "o", "patients.xlsx", "output workbook path")
	fl.StringVar(&f.family, "family", "", "family name contains")
	fl.StringVar(&f.given, "given", "", "given name contains")
	fl.StringVar(&f.identifier, "identifier", "", "exact identifier")
	fl.StringVar(&f.birthDate, "birth-date", "", "exact birth date (YYYY-MM-DD)")
	fl.StringVar(&f.startDate, "start-date", "", "birth date lower bound (YYYY-MM-DD)")
	fl.StringVar(&f.endDate, "end-date", "", "birth date upper bound (YYYY-MM-DD)")
	fl.StringVar(&f.sort, "sort", "", "sort property, optionally followed by ,asc or ,desc")

	cmd.AddCommand(patients)
	return cmd
}
