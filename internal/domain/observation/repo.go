package observation

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, o *Observation) error
	// ListByPatient returns every observation of the patient, newest first.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Observation, error)
	// ListByEncounters groups the observations of the given encounters,
	// newest first within each group.
	ListByEncounters(ctx context.Context, encounterIDs []uuid.UUID) (map[uuid.UUID][]*Observation, error)
	// ListUnattached returns the patient's observations that have no encounter.
	ListUnattached(ctx context.Context, patientID uuid.UUID) ([]*Observation, error)
	DeleteByPatient(ctx context.Context, patientID uuid.UUID) (int64, error)
}
