package observation

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ehr/records/internal/platform/apperr"
)

const (
	maxCodeLen  = 100
	maxValueLen = 255
)

// Observation is a single clinical measurement for a patient, optionally
// taken during one of that patient's encounters.
type Observation struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	EncounterID *uuid.UUID `db:"encounter_id" json:"encounter_id"`
	Code        string     `db:"code" json:"code"`
	Value       string     `db:"value" json:"value"`
	EffectiveAt time.Time  `db:"effective_at" json:"effective_at"`
	Version     int64      `db:"version" json:"version"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Spec is the client input for one observation.
type Spec struct {
	Code        string     `json:"code"`
	Value       string     `json:"value"`
	EffectiveAt *time.Time `json:"effective_at"`
	// EncounterID is only honoured by Record; nested specs take the
	// enclosing encounter.
	EncounterID *uuid.UUID `json:"encounter_id,omitempty"`
}

// Validate records problems under prefix (e.g. "observations[2].").
func (s *Spec) Validate(prefix string, errs apperr.Fields) {
	switch {
	case strings.TrimSpace(s.Code) == "":
		errs.Add(prefix+"code", "Code is required")
	case utf8.RuneCountInString(s.Code) > maxCodeLen:
		errs.Add(prefix+"code", "Code must be less than 100 characters")
	}
	switch {
	case strings.TrimSpace(s.Value) == "":
		errs.Add(prefix+"value", "Value is required")
	case utf8.RuneCountInString(s.Value) > maxValueLen:
		errs.Add(prefix+"value", "Value must be less than 255 characters")
	}
	if s.EffectiveAt == nil || s.EffectiveAt.IsZero() {
		errs.Add(prefix+"effective_at", "Effective date/time is required")
	}
}

// Build turns a validated spec into an unsaved observation.
func (s *Spec) Build(patientID uuid.UUID, encounterID *uuid.UUID) *Observation {
	o := &Observation{
		PatientID:   patientID,
		EncounterID: encounterID,
		Code:        strings.TrimSpace(s.Code),
		Value:       s.Value,
	}
	if s.EffectiveAt != nil {
		o.EffectiveAt = s.EffectiveAt.UTC()
	}
	return o
}
