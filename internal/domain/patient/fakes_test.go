package patient

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/records/internal/domain/encounter"
	"github.com/ehr/records/internal/domain/observation"
	"github.com/ehr/records/internal/platform/apperr"
	"github.com/ehr/records/internal/platform/db/dbtest"
	"github.com/ehr/records/internal/platform/events"
	"github.com/ehr/records/internal/platform/filter"
	"github.com/ehr/records/pkg/pagination"
)

// -- In-memory stores --

type memPatients struct {
	rows map[uuid.UUID]Patient
	// skipUniqueCheck makes ExistsBy report false, as a concurrent creator
	// would observe before its insert.
	skipUniqueCheck bool
	// beforeUpdate runs at the start of Update.
	beforeUpdate func()
	clock        func() time.Time
}

func newMemPatients() *memPatients {
	return &memPatients{rows: map[uuid.UUID]Patient{}, clock: time.Now}
}

func (m *memPatients) Snapshot() func() {
	saved := make(map[uuid.UUID]Patient, len(m.rows))
	for k, v := range m.rows {
		saved[k] = v
	}
	return func() { m.rows = saved }
}

func (m *memPatients) conflict(p *Patient) error {
	for _, other := range m.rows {
		if other.ID == p.ID {
			continue
		}
		switch {
		case other.Identifier == p.Identifier:
			return apperr.Duplicate("Patient", "identifier", p.Identifier)
		case other.Username == p.Username:
			return apperr.Duplicate("Patient", "username", p.Username)
		case other.Email == p.Email:
			return apperr.Duplicate("Patient", "email", p.Email)
		}
	}
	return nil
}

func (m *memPatients) Create(_ context.Context, p *Patient) error {
	p.ID = uuid.New()
	if err := m.conflict(p); err != nil {
		return err
	}
	p.Version = 0
	p.CreatedAt = m.clock().UTC()
	p.UpdatedAt = p.CreatedAt
	m.rows[p.ID] = *p
	return nil
}

func (m *memPatients) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.rows[id]
	if !ok {
		return nil, apperr.NotFound("Patient", id.String())
	}
	return &p, nil
}

func (m *memPatients) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	_, ok := m.rows[id]
	return ok, nil
}

func (m *memPatients) ExistsBy(_ context.Context, field UniqueField, value string) (bool, error) {
	if m.skipUniqueCheck {
		return false, nil
	}
	for _, p := range m.rows {
		var got string
		switch field {
		case UniqueIdentifier:
			got = p.Identifier
		case UniqueUsername:
			got = p.Username
		case UniqueEmail:
			got = p.Email
		}
		if got == value {
			return true, nil
		}
	}
	return false, nil
}

func (m *memPatients) Update(_ context.Context, p *Patient, expected int64) error {
	if m.beforeUpdate != nil {
		m.beforeUpdate()
	}
	stored, ok := m.rows[p.ID]
	if !ok || stored.Version != expected {
		return apperr.StaleVersion("Patient")
	}
	if err := m.conflict(p); err != nil {
		return err
	}
	p.Version = expected + 1
	p.UpdatedAt = m.clock().UTC()
	m.rows[p.ID] = *p
	return nil
}

func (m *memPatients) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.rows[id]; !ok {
		return apperr.NotFound("Patient", id.String())
	}
	delete(m.rows, id)
	return nil
}

func (m *memPatients) matching(where *filter.Expr, s pagination.Sort) []*Patient {
	var out []*Patient
	for _, p := range m.rows {
		p := p
		if where.Match(p.Field) {
			out = append(out, &p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, _ := out[i].Field(s.Field)
		b, _ := out[j].Field(s.Field)
		c := compareAny(a, b)
		if c == 0 {
			return out[i].ID.String() < out[j].ID.String()
		}
		if s.Desc {
			return c > 0
		}
		return c < 0
	})
	return out
}

func compareAny(a, b any) int {
	switch x := a.(type) {
	case string:
		return strings.Compare(x, b.(string))
	case time.Time:
		return x.Compare(b.(time.Time))
	}
	return 0
}

func (m *memPatients) Search(_ context.Context, where *filter.Expr, req pagination.Request) ([]*Patient, int, error) {
	all := m.matching(where, req.Sort)
	start := req.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + req.Limit()
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (m *memPatients) Each(_ context.Context, where *filter.Expr, s pagination.Sort, fn func(*Patient) error) error {
	for _, p := range m.matching(where, s) {
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

type memEncounters struct {
	rows map[uuid.UUID]encounter.Encounter
}

func (m *memEncounters) Snapshot() func() {
	saved := make(map[uuid.UUID]encounter.Encounter, len(m.rows))
	for k, v := range m.rows {
		saved[k] = v
	}
	return func() { m.rows = saved }
}

func (m *memEncounters) Create(_ context.Context, e *encounter.Encounter) error {
	e.ID = uuid.New()
	cp := *e
	cp.Observations = nil
	m.rows[e.ID] = cp
	return nil
}

func (m *memEncounters) forPatient(patientID uuid.UUID) []*encounter.Encounter {
	var out []*encounter.Encounter
	for _, e := range m.rows {
		e := e
		if e.PatientID == patientID {
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.After(out[j].Start) })
	return out
}

func (m *memEncounters) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*encounter.Encounter, error) {
	all := m.forPatient(patientID)
	if offset >= len(all) {
		return nil, nil
	}
	return all[offset:min(offset+limit, len(all))], nil
}

func (m *memEncounters) CountByPatient(_ context.Context, patientID uuid.UUID) (int, error) {
	return len(m.forPatient(patientID)), nil
}

func (m *memEncounters) ListAllByPatient(_ context.Context, patientID uuid.UUID) ([]*encounter.Encounter, error) {
	return m.forPatient(patientID), nil
}

func (m *memEncounters) BelongsTo(_ context.Context, encounterID, patientID uuid.UUID) (bool, error) {
	e, ok := m.rows[encounterID]
	return ok && e.PatientID == patientID, nil
}

func (m *memEncounters) DeleteByPatient(_ context.Context, patientID uuid.UUID) (int64, error) {
	var n int64
	for id, e := range m.rows {
		if e.PatientID == patientID {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

type memObservations struct {
	rows   map[uuid.UUID]observation.Observation
	failOn string
}

func (m *memObservations) Snapshot() func() {
	saved := make(map[uuid.UUID]observation.Observation, len(m.rows))
	for k, v := range m.rows {
		saved[k] = v
	}
	return func() { m.rows = saved }
}

func (m *memObservations) Create(_ context.Context, o *observation.Observation) error {
	if m.failOn != "" && o.Code == m.failOn {
		return errors.New("insert observation: connection reset")
	}
	o.ID = uuid.New()
	m.rows[o.ID] = *o
	return nil
}

func (m *memObservations) list(keep func(observation.Observation) bool) []*observation.Observation {
	var out []*observation.Observation
	for _, o := range m.rows {
		o := o
		if keep(o) {
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EffectiveAt.After(out[j].EffectiveAt) })
	return out
}

func (m *memObservations) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*observation.Observation, error) {
	return m.list(func(o observation.Observation) bool { return o.PatientID == patientID }), nil
}

func (m *memObservations) ListByEncounters(_ context.Context, ids []uuid.UUID) (map[uuid.UUID][]*observation.Observation, error) {
	out := map[uuid.UUID][]*observation.Observation{}
	for _, id := range ids {
		id := id
		if obs := m.list(func(o observation.Observation) bool { return o.EncounterID != nil && *o.EncounterID == id }); obs != nil {
			out[id] = obs
		}
	}
	return out, nil
}

func (m *memObservations) ListUnattached(_ context.Context, patientID uuid.UUID) ([]*observation.Observation, error) {
	return m.list(func(o observation.Observation) bool { return o.PatientID == patientID && o.EncounterID == nil }), nil
}

func (m *memObservations) DeleteByPatient(_ context.Context, patientID uuid.UUID) (int64, error) {
	var n int64
	for id, o := range m.rows {
		if o.PatientID == patientID {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

// -- Fixture --

type fixture struct {
	svc          *Service
	patients     *memPatients
	encounters   *memEncounters
	observations *memObservations
	tx           *dbtest.Transactor
	events       *events.Recorder
}

var fixedNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func newFixture() *fixture {
	patients := newMemPatients()
	encs := &memEncounters{rows: map[uuid.UUID]encounter.Encounter{}}
	obs := &memObservations{rows: map[uuid.UUID]observation.Observation{}}
	tx := dbtest.NewTransactor(patients, encs, obs)
	rec := &events.Recorder{}

	encSvc := encounter.NewService(encs, obs, patients, tx, zerolog.Nop())
	svc := NewService(patients, encSvc, obs, tx, rec, zerolog.Nop())
	svc.now = func() time.Time { return fixedNow }

	return &fixture{svc: svc, patients: patients, encounters: encs, observations: obs, tx: tx, events: rec}
}

func ts(day, hour int) *time.Time {
	t := time.Date(2025, 1, day, hour, 0, 0, 0, time.UTC)
	return &t
}

func dateP(y int, m time.Month, d int) *Date {
	v := NewDate(y, m, d)
	return &v
}

func validRequest(identifier string) CreateRequest {
	return CreateRequest{
		Identifier: identifier,
		GivenName:  "John",
		FamilyName: "Smith",
		BirthDate:  dateP(1980, time.May, 17),
		Username:   "user-" + strings.ToLower(identifier),
		Email:      strings.ToLower(identifier) + "@example.com",
		Gender:     "male",
	}
}

func (f *fixture) mustCreate(req CreateRequest) *Record {
	rec, err := f.svc.Create(context.Background(), req)
	if err != nil {
		panic(err)
	}
	return rec
}

func encounterSpec(day int) encounter.Spec {
	return encounter.Spec{Start: ts(day, 9), Class: "outpatient"}
}
