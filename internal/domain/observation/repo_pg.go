package observation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/records/internal/platform/apperr"
	"github.com/ehr/records/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const obsCols = `id, patient_id, encounter_id, code, value, effective_at, version, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, o *Observation) error {
	o.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO observation (id, patient_id, encounter_id, code, value, effective_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING version, created_at, updated_at`,
		o.ID, o.PatientID, o.EncounterID, o.Code, o.Value, o.EffectiveAt,
	).Scan(&o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if constraint, ok := db.ForeignKeyViolation(err); ok {
			if constraint == "observation_encounter_fk" {
				return apperr.InvalidField("encounter_id", "Encounter does not belong to this patient")
			}
			return apperr.NotFound("Patient", o.PatientID.String())
		}
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Observation, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+obsCols+` FROM observation WHERE patient_id = $1 ORDER BY effective_at DESC, id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	return collect(rows)
}

func (r *repoPG) ListByEncounters(ctx context.Context, encounterIDs []uuid.UUID) (map[uuid.UUID][]*Observation, error) {
	out := make(map[uuid.UUID][]*Observation, len(encounterIDs))
	if len(encounterIDs) == 0 {
		return out, nil
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+obsCols+` FROM observation WHERE encounter_id = ANY($1) ORDER BY effective_at DESC, id`, encounterIDs)
	if err != nil {
		return nil, fmt.Errorf("list encounter observations: %w", err)
	}
	obs, err := collect(rows)
	if err != nil {
		return nil, err
	}
	for _, o := range obs {
		out[*o.EncounterID] = append(out[*o.EncounterID], o)
	}
	return out, nil
}

func (r *repoPG) ListUnattached(ctx context.Context, patientID uuid.UUID) ([]*Observation, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+obsCols+` FROM observation WHERE patient_id = $1 AND encounter_id IS NULL ORDER BY effective_at DESC, id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list unattached observations: %w", err)
	}
	return collect(rows)
}

func (r *repoPG) DeleteByPatient(ctx context.Context, patientID uuid.UUID) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM observation WHERE patient_id = $1`, patientID)
	if err != nil {
		return 0, fmt.Errorf("delete observations: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collect(rows pgx.Rows) ([]*Observation, error) {
	defer rows.Close()
	var out []*Observation
	for rows.Next() {
		var o Observation
		if err := rows.Scan(&o.ID, &o.PatientID, &o.EncounterID, &o.Code, &o.Value,
			&o.EffectiveAt, &o.Version, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		out = append(out, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read observations: %w", err)
	}
	return out, nil
}
