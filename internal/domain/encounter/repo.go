package encounter

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, e *Encounter) error
	// ListByPatient returns one page of the patient's encounters, newest start first.
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Encounter, error)
	CountByPatient(ctx context.Context, patientID uuid.UUID) (int, error)
	// ListAllByPatient returns every encounter of the patient, newest start first.
	ListAllByPatient(ctx context.Context, patientID uuid.UUID) ([]*Encounter, error)
	BelongsTo(ctx context.Context, encounterID, patientID uuid.UUID) (bool, error)
	DeleteByPatient(ctx context.Context, patientID uuid.UUID) (int64, error)
}
