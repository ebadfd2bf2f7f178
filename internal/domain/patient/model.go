package patient

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/records/internal/domain/encounter"
	"github.com/ehr/records/internal/domain/observation"
	"github.com/ehr/records/internal/platform/api"
)

const dateLayout = "2006-01-02"

// Date is a calendar date with no time of day, held as UTC midnight.
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar date in t's location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return Date{t}, nil
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts "YYYY-MM-DD". Dates only appear as birth dates on
// the wire, so decode failures are reported against birth_date.
func (d *Date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return &api.FieldError{Field: "birth_date", Msg: "Birth date must be a date in YYYY-MM-DD format"}
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return &api.FieldError{Field: "birth_date", Msg: "Birth date must be a date in YYYY-MM-DD format"}
	}
	*d = parsed
	return nil
}

type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderOther   Gender = "other"
	GenderUnknown Gender = "unknown"
)

var Genders = []Gender{GenderMale, GenderFemale, GenderOther, GenderUnknown}

// ParseGender matches s against the known genders ignoring case.
func ParseGender(s string) (Gender, bool) {
	s = strings.TrimSpace(s)
	for _, g := range Genders {
		if strings.EqualFold(s, string(g)) {
			return g, true
		}
	}
	return "", false
}

// Patient maps to the patient table.
type Patient struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Identifier string    `db:"identifier" json:"identifier"`
	GivenName  string    `db:"given_name" json:"given_name"`
	FamilyName string    `db:"family_name" json:"family_name"`
	BirthDate  Date      `db:"birth_date" json:"birth_date"`
	Username   string    `db:"username" json:"username"`
	Email      string    `db:"email" json:"email"`
	Gender     *Gender   `db:"gender" json:"gender"`
	Version    int64     `db:"version" json:"version"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Field exposes patient attributes under their search names for in-memory
// filter evaluation.
func (p *Patient) Field(name string) (any, bool) {
	switch name {
	case FieldFamilyName:
		return p.FamilyName, true
	case FieldGivenName:
		return p.GivenName, true
	case FieldIdentifier:
		return p.Identifier, true
	case FieldBirthDate:
		return p.BirthDate.Time, true
	case FieldUsername:
		return p.Username, true
	case FieldEmail:
		return p.Email, true
	case FieldCreatedAt:
		return p.CreatedAt, true
	case FieldUpdatedAt:
		return p.UpdatedAt, true
	}
	return nil, false
}

// Record is a patient together with its encounters (each with observations)
// and the observations recorded outside any encounter.
type Record struct {
	*Patient
	Encounters   []*encounter.Encounter     `json:"encounters"`
	Observations []*observation.Observation `json:"observations"`
}

// CreateRequest is the body of POST /patients.
type CreateRequest struct {
	Identifier   string             `json:"identifier"`
	GivenName    string             `json:"given_name"`
	FamilyName   string             `json:"family_name"`
	BirthDate    *Date              `json:"birth_date"`
	Username     string             `json:"username"`
	Email        string             `json:"email"`
	Gender       string             `json:"gender"`
	Encounters   []encounter.Spec   `json:"encounters"`
	Observations []observation.Spec `json:"observations"`
}

func (r *CreateRequest) build() *Patient {
	p := &Patient{
		Identifier: strings.TrimSpace(r.Identifier),
		GivenName:  strings.TrimSpace(r.GivenName),
		FamilyName: strings.TrimSpace(r.FamilyName),
		Username:   strings.TrimSpace(r.Username),
		Email:      strings.TrimSpace(r.Email),
	}
	if r.BirthDate != nil {
		p.BirthDate = *r.BirthDate
	}
	if g, ok := ParseGender(r.Gender); ok {
		p.Gender = &g
	}
	return p
}
