package encounter

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/records/internal/domain/observation"
	"github.com/ehr/records/internal/platform/apperr"
	"github.com/ehr/records/internal/platform/db"
	"github.com/ehr/records/pkg/pagination"
)

// PatientLookup reports whether a patient exists.
type PatientLookup interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

type Service struct {
	repo         Repository
	observations observation.Repository
	patients     PatientLookup
	tx           db.Transactor
	logger       zerolog.Logger
}

func NewService(repo Repository, observations observation.Repository, patients PatientLookup, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{
		repo:         repo,
		observations: observations,
		patients:     patients,
		tx:           tx,
		logger:       logger.With().Str("component", "encounter").Logger(),
	}
}

// Record validates spec and stores the encounter with its observations for an
// existing patient.
func (s *Service) Record(ctx context.Context, patientID uuid.UUID, spec Spec) (*Encounter, error) {
	errs := apperr.Fields{}
	spec.Validate("", errs)
	if err := errs.Err(); err != nil {
		return nil, err
	}

	var e *Encounter
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.requirePatient(ctx, patientID); err != nil {
			return err
		}
		var err error
		e, err = s.Create(ctx, patientID, spec)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("patient_id", patientID.String()).
		Str("encounter_id", e.ID.String()).
		Int("observations", len(e.Observations)).
		Msg("encounter recorded")
	return e, nil
}

// Create stores an already validated spec. Called inside an outer unit of
// work it joins that unit, so a failure rolls back the caller's writes too.
func (s *Service) Create(ctx context.Context, patientID uuid.UUID, spec Spec) (*Encounter, error) {
	var e *Encounter
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		e = spec.Build(patientID)
		if err := s.repo.Create(ctx, e); err != nil {
			return err
		}
		e.Observations = make([]*observation.Observation, 0, len(spec.Observations))
		for i := range spec.Observations {
			o := spec.Observations[i].Build(patientID, &e.ID)
			if err := s.observations.Create(ctx, o); err != nil {
				return err
			}
			e.Observations = append(e.Observations, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListForPatient returns a page of the patient's encounters ordered by start
// descending, each with its observations.
func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID, req pagination.Request) (pagination.Page[*Encounter], error) {
	s.logger.Debug().Str("patient_id", patientID.String()).Int("page", req.Page).Msg("fetching encounters")

	var page pagination.Page[*Encounter]
	err := s.tx.WithinReadOnlyTx(ctx, func(ctx context.Context) error {
		if err := s.requirePatient(ctx, patientID); err != nil {
			return err
		}
		total, err := s.repo.CountByPatient(ctx, patientID)
		if err != nil {
			return err
		}
		items, err := s.repo.ListByPatient(ctx, patientID, req.Limit(), req.Offset())
		if err != nil {
			return err
		}
		if err := s.attachObservations(ctx, items); err != nil {
			return err
		}
		page = pagination.NewPage(items, total, req)
		return nil
	})
	return page, err
}

// AllForPatient returns every encounter of the patient with observations.
// It does not check that the patient exists.
func (s *Service) AllForPatient(ctx context.Context, patientID uuid.UUID) ([]*Encounter, error) {
	var out []*Encounter
	err := s.tx.WithinReadOnlyTx(ctx, func(ctx context.Context) error {
		items, err := s.repo.ListAllByPatient(ctx, patientID)
		if err != nil {
			return err
		}
		out = items
		return s.attachObservations(ctx, items)
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*Encounter{}
	}
	return out, nil
}

// BelongsTo reports whether the encounter exists and is owned by the patient.
func (s *Service) BelongsTo(ctx context.Context, encounterID, patientID uuid.UUID) (bool, error) {
	return s.repo.BelongsTo(ctx, encounterID, patientID)
}

// DeleteForPatient removes the patient's encounters. Observations referencing
// them must already be gone.
func (s *Service) DeleteForPatient(ctx context.Context, patientID uuid.UUID) (int64, error) {
	var n int64
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.repo.DeleteByPatient(ctx, patientID)
		return err
	})
	return n, err
}

func (s *Service) attachObservations(ctx context.Context, items []*Encounter) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(items))
	for i, e := range items {
		ids[i] = e.ID
	}
	byEncounter, err := s.observations.ListByEncounters(ctx, ids)
	if err != nil {
		return err
	}
	for _, e := range items {
		e.Observations = byEncounter[e.ID]
		if e.Observations == nil {
			e.Observations = []*observation.Observation{}
		}
	}
	return nil
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
