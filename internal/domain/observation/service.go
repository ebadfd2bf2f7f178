package observation

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/records/internal/platform/apperr"
	"github.com/ehr/records/internal/platform/db"
)

// PatientLookup reports whether a patient exists.
type PatientLookup interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// EncounterLookup reports whether an encounter exists and belongs to a patient.
type EncounterLookup interface {
	BelongsTo(ctx context.Context, encounterID, patientID uuid.UUID) (bool, error)
}

type Service struct {
	repo       Repository
	patients   PatientLookup
	encounters EncounterLookup
	tx         db.Transactor
	logger     zerolog.Logger
}

func NewService(repo Repository, patients PatientLookup, encounters EncounterLookup, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		patients:   patients,
		encounters: encounters,
		tx:         tx,
		logger:     logger.With().Str("component", "observation").Logger(),
	}
}

// ListByPatient returns all observations of the patient, newest first. An
// empty list is a valid result.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Observation, error) {
	s.logger.Debug().Str("patient_id", patientID.String()).Msg("fetching observations")

	var out []*Observation
	err := s.tx.WithinReadOnlyTx(ctx, func(ctx context.Context) error {
		if err := s.requirePatient(ctx, patientID); err != nil {
			return err
		}
		obs, err := s.repo.ListByPatient(ctx, patientID)
		out = obs
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*Observation{}
	}
	return out, nil
}

// Record adds one observation to an existing patient. A referenced encounter
// must belong to the same patient.
func (s *Service) Record(ctx context.Context, patientID uuid.UUID, spec Spec) (*Observation, error) {
	errs := apperr.Fields{}
	spec.Validate("", errs)
	if err := errs.Err(); err != nil {
		return nil, err
	}

	var o *Observation
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.requirePatient(ctx, patientID); err != nil {
			return err
		}
		if spec.EncounterID != nil {
			ok, err := s.encounters.BelongsTo(ctx, *spec.EncounterID, patientID)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.InvalidField("encounter_id", "Encounter does not belong to this patient")
			}
		}
		o = spec.Build(patientID, spec.EncounterID)
		return s.repo.Create(ctx, o)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("patient_id", patientID.String()).
		Str("observation_id", o.ID.String()).
		Str("code", o.Code).
		Msg("observation recorded")
	return o, nil
}

func (s *Service) requirePatient(ctx context.Context, id uuid.UUID) error {
	ok, err := s.patients.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("Patient", id.String())
	}
	return nil
}
