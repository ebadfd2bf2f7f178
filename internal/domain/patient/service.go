package patient

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/records/internal/domain/encounter"
	"github.com/ehr/records/internal/domain/observation"
	"github.com/ehr/records/internal/platform/apperr"
	"github.com/ehr/records/internal/platform/auth"
	"github.com/ehr/records/internal/platform/db"
	"github.com/ehr/records/internal/platform/events"
	"github.com/ehr/records/pkg/pagination"
)

type Service struct {
	repo         Repository
	encounters   *encounter.Service
	observations observation.Repository
	tx           db.Transactor
	events       events.Publisher
	logger       zerolog.Logger
	now          func() time.Time
}

func NewService(
	repo Repository,
	encounters *encounter.Service,
	observations observation.Repository,
	tx db.Transactor,
	publisher events.Publisher,
	logger zerolog.Logger,
) *Service {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Service{
		repo:         repo,
		encounters:   encounters,
		observations: observations,
		tx:           tx,
		events:       publisher,
		logger:       logger.With().Str("component", "patient").Logger(),
		now:          time.Now,
	}
}

func (s *Service) today() Date {
	return DateOf(s.now().UTC())
}

// Create stores a patient with its nested encounters and observations as
// one unit. Identifier, username and email are checked for uniqueness in
// that order before anything is written.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Record, error) {
	if err := validateCreate(&req, s.today()); err != nil {
		return nil, err
	}

	var rec *Record
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p := req.build()
		if err := s.requireUnique(ctx, UniqueIdentifier, p.Identifier); err != nil {
			return err
		}
		if err := s.requireUnique(ctx, UniqueUsername, p.Username); err != nil {
			return err
		}
		if err := s.requireUnique(ctx, UniqueEmail, p.Email); err != nil {
			return err
		}

		if err := s.repo.Create(ctx, p); err != nil {
			return err
		}
		rec = &Record{
			Patient:      p,
			Encounters:   make([]*encounter.Encounter, 0, len(req.Encounters)),
			Observations: make([]*observation.Observation, 0, len(req.Observations)),
		}

		for i := range req.Encounters {
			e, err := s.encounters.Create(ctx, p.ID, req.Encounters[i])
			if err != nil {
				return err
			}
			rec.Encounters = append(rec.Encounters, e)
		}
		for i := range req.Observations {
			o := req.Observations[i].Build(p.ID, nil)
			if err := s.observations.Create(ctx, o); err != nil {
				return err
			}
			rec.Observations = append(rec.Observations, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("patient_id", rec.ID.String()).
		Int("encounters", len(rec.Encounters)).
		Int("observations", len(rec.Observations)).
		Msg("patient created")
	s.publish(ctx, events.New(events.PatientCreated, rec.ID, rec.Version))
	return rec, nil
}

// Get returns the patient with encounters, their observations and the
// observations taken outside any encounter, read from one snapshot.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	s.logger.Debug().Str("patient_id", id.String()).Msg("fetching patient")

	var rec *Record
	err := s.tx.WithinReadOnlyTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		encs, err := s.encounters.AllForPatient(ctx, id)
		if err != nil {
			return err
		}
		obs, err := s.observations.ListUnattached(ctx, id)
		if err != nil {
			return err
		}
		if obs == nil {
			obs = []*observation.Observation{}
		}
		rec = &Record{Patient: p, Encounters: encs, Observations: obs}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Update merges the present fields of req into the stored patient. Nested
// encounters and observations are not touched. A request that changes
// nothing leaves the version as it is.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Patient, error) {
	if err := validateUpdate(&req, s.today()); err != nil {
		return nil, err
	}

	var (
		p       *Patient
		changed []string
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if v, ok := req.Version.Get(); ok && v != p.Version {
			return apperr.StaleVersion("Patient")
		}

		identifier, username, email := req.changes(p)
		if identifier != "" {
			if err := s.requireUnique(ctx, UniqueIdentifier, identifier); err != nil {
				return err
			}
		}
		if username != "" {
			if err := s.requireUnique(ctx, UniqueUsername, username); err != nil {
				return err
			}
		}
		if email != "" {
			if err := s.requireUnique(ctx, UniqueEmail, email); err != nil {
				return err
			}
		}

		loaded := p.Version
		changed = req.apply(p)
		if len(changed) == 0 {
			return nil
		}
		return s.repo.Update(ctx, p, loaded)
	})
	if err != nil {
		return nil, err
	}

	if len(changed) > 0 {
		s.logger.Info().
			Str("patient_id", id.String()).
			Strs("fields", changed).
			Int64("version", p.Version).
			Msg("patient updated")
		e := events.New(events.PatientUpdated, id, p.Version)
		e.ChangedFields = changed
		s.publish(ctx, e)
	}
	return p, nil
}

// Delete removes the patient's observations, then its encounters, then the
// patient, in one unit.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	var obsDeleted, encDeleted int64
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.repo.Exists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NotFound("Patient", id.String())
		}
		if obsDeleted, err = s.observations.DeleteByPatient(ctx, id); err != nil {
			return err
		}
		if encDeleted, err = s.encounters.DeleteForPatient(ctx, id); err != nil {
			return err
		}
		return s.repo.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("patient_id", id.String()).
		Int64("encounters", encDeleted).
		Int64("observations", obsDeleted).
		Msg("patient deleted")
	s.publish(ctx, events.New(events.PatientDeleted, id, 0))
	return nil
}

// Search returns one page of patients matching params. No match is an
// empty page.
func (s *Service) Search(ctx context.Context, params SearchParams, req pagination.Request) (pagination.Page[*Patient], error) {
	where := params.Expr()
	s.logger.Debug().Str("filter", where.String()).Int("page", req.Page).Int("size", req.Size).Msg("searching patients")

	var page pagination.Page[*Patient]
	err := s.tx.WithinReadOnlyTx(ctx, func(ctx context.Context) error {
		items, total, err := s.repo.Search(ctx, where, req)
		if err != nil {
			return err
		}
		page = pagination.NewPage(items, total, req)
		return nil
	})
	return page, err
}

// Export streams every patient matching params in sort order.
func (s *Service) Export(ctx context.Context, params SearchParams, sort pagination.Sort, fn func(*Patient) error) error {
	return s.tx.WithinReadOnlyTx(ctx, func(ctx context.Context) error {
		return s.repo.Each(ctx, params.Expr(), sort, fn)
	})
}

// Encounters returns a page of the patient's encounters, newest first, each
// with its observations.
func (s *Service) Encounters(ctx context.Context, id uuid.UUID, req pagination.Request) (pagination.Page[*encounter.Encounter], error) {
	return s.encounters.ListForPatient(ctx, id, req)
}

func (s *Service) requireUnique(ctx context.Context, field UniqueField, value string) error {
	taken, err := s.repo.ExistsBy(ctx, field, value)
	if err != nil {
		return err
	}
	if taken {
		return apperr.Duplicate("Patient", string(field), value)
	}
	return nil
}

// publish runs after commit; a delivery failure is logged, never returned.
func (s *Service) publish(ctx context.Context, e events.Event) {
	e.Actor = auth.UserIDFromContext(ctx)
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Warn().Err(err).Str("event", string(e.Type)).Str("patient_id", e.PatientID.String()).Msg("event not delivered")
	}
}
