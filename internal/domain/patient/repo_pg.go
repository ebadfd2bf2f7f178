package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/records/internal/platform/apperr"
	"github.com/ehr/records/internal/platform/db"
	"github.com/ehr/records/internal/platform/filter"
	"github.com/ehr/records/pkg/pagination"
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

const patientCols = `id, identifier, given_name, family_name, birth_date, username, email, gender, version, created_at, updated_at`

// constraintFields maps unique constraints to the field they protect.
var constraintFields = map[string]UniqueField{
	"patient_identifier_key": UniqueIdentifier,
	"patient_username_key":   UniqueUsername,
	"patient_email_key":      UniqueEmail,
}

func duplicateFrom(err error, p *Patient) error {
	constraint, ok := db.UniqueViolation(err)
	if !ok {
		return nil
	}
	switch constraintFields[constraint] {
	case UniqueIdentifier:
		return apperr.Duplicate("Patient", "identifier", p.Identifier)
	case UniqueUsername:
		return apperr.Duplicate("Patient", "username", p.Username)
	case UniqueEmail:
		return apperr.Duplicate("Patient", "email", p.Email)
	}
	return apperr.Duplicate("Patient", constraint, "")
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, identifier, given_name, family_name, birth_date, username, email, gender)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING version, created_at, updated_at`,
		p.ID, p.Identifier, p.GivenName, p.FamilyName, p.BirthDate.Time, p.Username, p.Email, genderArg(p.Gender),
	).Scan(&p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if dup := duplicateFrom(err, p); dup != nil {
			return dup
		}
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Patient", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

func (r *repoPG) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	if err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM patient WHERE id = $1)`, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("check patient: %w", err)
	}
	return ok, nil
}

func (r *repoPG) ExistsBy(ctx context.Context, field UniqueField, value string) (bool, error) {
	var col string
	switch field {
	case UniqueIdentifier, UniqueUsername, UniqueEmail:
		col = string(field)
	default:
		return false, fmt.Errorf("patient: %q is not a unique field", field)
	}
	var ok bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM patient WHERE `+col+` = $1)`, value).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check patient %s: %w", col, err)
	}
	return ok, nil
}

func (r *repoPG) Update(ctx context.Context, p *Patient, expected int64) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient SET
			identifier = $2, given_name = $3, family_name = $4, birth_date = $5,
			username = $6, email = $7, gender = $8,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $9
		RETURNING version, updated_at`,
		p.ID, p.Identifier, p.GivenName, p.FamilyName, p.BirthDate.Time,
		p.Username, p.Email, genderArg(p.Gender), expected,
	).Scan(&p.Version, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.StaleVersion("Patient")
	}
	if err != nil {
		if dup := duplicateFrom(err, p); dup != nil {
			return dup
		}
		return fmt.Errorf("update patient: %w", err)
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Patient", id.String())
	}
	return nil
}

func (r *repoPG) Search(ctx context.Context, where *filter.Expr, req pagination.Request) ([]*Patient, int, error) {
	q := filter.NewQuery("patient", patientCols)
	if err := q.Where(where, columns); err != nil {
		return nil, 0, err
	}
	q.OrderBy(orderBy(req.Sort))

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(req.Limit(), req.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("search patients: %w", err)
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan patient: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("read patients: %w", err)
	}
	return items, total, nil
}

func (r *repoPG) Each(ctx context.Context, where *filter.Expr, sort pagination.Sort, fn func(*Patient) error) error {
	q := filter.NewQuery("patient", patientCols)
	if err := q.Where(where, columns); err != nil {
		return err
	}
	q.OrderBy(orderBy(sort))

	rows, err := r.conn(ctx).Query(ctx, q.SelectSQL(), q.Args()...)
	if err != nil {
		return fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return fmt.Errorf("scan patient: %w", err)
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return rows.Err()
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var (
		p      Patient
		gender *string
	)
	err := row.Scan(&p.ID, &p.Identifier, &p.GivenName, &p.FamilyName, &p.BirthDate.Time,
		&p.Username, &p.Email, &gender, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if gender != nil {
		g := Gender(*gender)
		p.Gender = &g
	}
	return &p, nil
}

func genderArg(g *Gender) *string {
	if g == nil {
		return nil
	}
	s := string(*g)
	return &s
}
