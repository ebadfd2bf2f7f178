package patient

import (
	"net/url"
	"strings"

	"github.com/ehr/records/internal/platform/apperr"
	"github.com/ehr/records/internal/platform/filter"
	"github.com/ehr/records/pkg/pagination"
)

// Search and sort field names.
const (
	FieldFamilyName = "familyName"
	FieldGivenName  = "givenName"
	FieldIdentifier = "identifier"
	FieldBirthDate  = "birthDate"
	FieldUsername   = "username"
	FieldEmail      = "email"
	FieldCreatedAt  = "createdAt"
	FieldUpdatedAt  = "updatedAt"
)

var columns = filter.Columns{
	FieldFamilyName: "family_name",
	FieldGivenName:  "given_name",
	FieldIdentifier: "identifier",
	FieldBirthDate:  "birth_date",
	FieldUsername:   "username",
	FieldEmail:      "email",
	FieldCreatedAt:  "created_at",
	FieldUpdatedAt:  "updated_at",
}

// SortFields lists the properties a search may be ordered by.
var SortFields = []string{
	FieldFamilyName, FieldGivenName, FieldIdentifier, FieldBirthDate,
	FieldUsername, FieldEmail, FieldCreatedAt, FieldUpdatedAt,
}

var DefaultSort = pagination.Sort{Field: FieldFamilyName}

// SearchParams holds the optional search criteria. Blank strings and nil
// dates are absent.
type SearchParams struct {
	FamilyName string
	GivenName  string
	Identifier string
	BirthDate  *Date
	StartDate  *Date
	EndDate    *Date
}

func FamilyNameContains(v string) *filter.Expr {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return filter.ContainsFold(FieldFamilyName, strings.TrimSpace(v))
}

func GivenNameContains(v string) *filter.Expr {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return filter.ContainsFold(FieldGivenName, strings.TrimSpace(v))
}

func IdentifierIs(v string) *filter.Expr {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return filter.Equals(FieldIdentifier, strings.TrimSpace(v))
}

func BirthDateIs(d *Date) *filter.Expr {
	if d == nil {
		return nil
	}
	return filter.Equals(FieldBirthDate, d.Time)
}

// BirthDateBetween is inclusive; either bound may be nil.
func BirthDateBetween(from, to *Date) *filter.Expr {
	var lo, hi any
	if from != nil {
		lo = from.Time
	}
	if to != nil {
		hi = to.Time
	}
	return filter.Between(FieldBirthDate, lo, hi)
}

// Expr combines the present criteria with AND. An exact birth date replaces
// the birth date range entirely.
func (p SearchParams) Expr() *filter.Expr {
	birth := BirthDateBetween(p.StartDate, p.EndDate)
	if p.BirthDate != nil {
		birth = BirthDateIs(p.BirthDate)
	}
	return filter.And(
		FamilyNameContains(p.FamilyName),
		GivenNameContains(p.GivenName),
		IdentifierIs(p.Identifier),
		birth,
	)
}

// ParseSearchParams reads family, given, identifier, birthDate, startDate
// and endDate from a query string.
func ParseSearchParams(q url.Values) (SearchParams, error) {
	errs := apperr.Fields{}
	date := func(name string) *Date {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			return nil
		}
		d, err := ParseDate(raw)
		if err != nil {
			errs.Add(name, "must be a date in YYYY-MM-DD format")
			return nil
		}
		return &d
	}

	p := SearchParams{
		FamilyName: q.Get("family"),
		GivenName:  q.Get("given"),
		Identifier: q.Get("identifier"),
		BirthDate:  date("birthDate"),
		StartDate:  date("startDate"),
		EndDate:    date("endDate"),
	}
	if err := errs.Err(); err != nil {
		return SearchParams{}, err
	}
	return p, nil
}

// orderBy renders a whitelisted sort with id as tie-breaker so pages are stable.
func orderBy(s pagination.Sort) string {
	col, ok := columns[s.Field]
	if !ok {
		col = columns[DefaultSort.Field]
	}
	return col + " " + s.Direction() + ", id ASC"
}
