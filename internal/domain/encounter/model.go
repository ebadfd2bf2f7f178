package encounter

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/records/internal/domain/observation"
	"github.com/ehr/records/internal/platform/apperr"
)

// Class is the setting an encounter took place in.
type Class string

const (
	ClassOutpatient Class = "outpatient"
	ClassInpatient  Class = "inpatient"
	ClassEmergency  Class = "emergency"
	ClassAmbulatory Class = "ambulatory"
	ClassVirtual    Class = "virtual"
)

var Classes = []Class{ClassOutpatient, ClassInpatient, ClassEmergency, ClassAmbulatory, ClassVirtual}

// ParseClass matches s against the known classes ignoring case.
func ParseClass(s string) (Class, bool) {
	s = strings.TrimSpace(s)
	for _, c := range Classes {
		if strings.EqualFold(s, string(c)) {
			return c, true
		}
	}
	return "", false
}

func classList() string {
	names := make([]string, len(Classes))
	for i, c := range Classes {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

// Encounter maps to the encounter table. Observations is filled only on
// nested reads.
type Encounter struct {
	ID           uuid.UUID                  `db:"id" json:"id"`
	PatientID    uuid.UUID                  `db:"patient_id" json:"patient_id"`
	Start        time.Time                  `db:"start_time" json:"start"`
	End          *time.Time                 `db:"end_time" json:"end"`
	Class        Class                      `db:"class" json:"class"`
	Version      int64                      `db:"version" json:"version"`
	CreatedAt    time.Time                  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time                  `db:"updated_at" json:"updated_at"`
	Observations []*observation.Observation `json:"observations"`
}

// Spec is the client input for one encounter and the observations taken
// during it.
type Spec struct {
	Start        *time.Time         `json:"start"`
	End          *time.Time         `json:"end"`
	Class        string             `json:"class"`
	Observations []observation.Spec `json:"observations"`
}

// Validate records problems under prefix (e.g. "encounters[0].").
func (s *Spec) Validate(prefix string, errs apperr.Fields) {
	if s.Start == nil || s.Start.IsZero() {
		errs.Add(prefix+"start", "Start date/time is required")
	}
	if strings.TrimSpace(s.Class) == "" {
		errs.Add(prefix+"class", "Encounter class is required")
	} else if _, ok := ParseClass(s.Class); !ok {
		errs.Add(prefix+"class", "Encounter class must be one of "+classList())
	}
	if s.Start != nil && s.End != nil && s.End.Before(*s.Start) {
		errs.Add(prefix+"end", "End date/time must not be before start date/time")
	}
	for i := range s.Observations {
		s.Observations[i].Validate(prefix+"observations["+strconv.Itoa(i)+"].", errs)
	}
}

// Build turns a validated spec into an unsaved encounter. Observations are
// built separately once the encounter has an id.
func (s *Spec) Build(patientID uuid.UUID) *Encounter {
	class, _ := ParseClass(s.Class)
	e := &Encounter{PatientID: patientID, Class: class}
	if s.Start != nil {
		e.Start = s.Start.UTC()
	}
	if s.End != nil {
		end := s.End.UTC()
		e.End = &end
	}
	return e
}
