//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/records/internal/domain/encounter"
	"github.com/ehr/records/internal/domain/observation"
	"github.com/ehr/records/internal/domain/patient"
	"github.com/ehr/records/internal/platform/apperr"
	"github.com/ehr/records/internal/platform/patch"
	"github.com/ehr/records/pkg/pagination"
)

func at(day, hour int) *time.Time {
	t := time.Date(2025, 2, day, hour, 0, 0, 0, time.UTC)
	return &t
}

func request(identifier, family string) patient.CreateRequest {
	birth := patient.NewDate(1975, time.June, 1)
	return patient.CreateRequest{
		Identifier: identifier,
		GivenName:  "Grace",
		FamilyName: family,
		BirthDate:  &birth,
		Username:   "u-" + identifier,
		Email:      identifier + "@example.com",
		Gender:     "female",
	}
}

func TestPatientLifecycle(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	req := request("MRN-1", "Hopper")
	req.Encounters = []encounter.Spec{{
		Start: at(1, 9), Class: "inpatient",
		Observations: []observation.Spec{
			{Code: "hr", Value: "72", EffectiveAt: at(1, 10)},
			{Code: "bp", Value: "120/80", EffectiveAt: at(1, 11)},
		},
	}}
	req.Observations = []observation.Spec{{Code: "height", Value: "170cm", EffectiveAt: at(1, 8)}}

	created, err := s.patients.Create(ctx, req)
	require.NoError(t, err)
	require.Len(t, created.Encounters, 1)
	assert.Len(t, created.Encounters[0].Observations, 2)
	assert.Equal(t, 1, count(t, "encounter"))
	assert.Equal(t, 3, count(t, "observation"))

	got, err := s.patients.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hopper", got.FamilyName)
	assert.Equal(t, "1975-06-01", got.BirthDate.String())
	require.Len(t, got.Observations, 1)
	assert.Equal(t, "height", got.Observations[0].Code)

	updated, err := s.patients.Update(ctx, created.ID, patient.UpdateRequest{
		Email:   patch.Some("grace@navy.mil"),
		Version: patch.Some(int64(0)),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Version)
	assert.Equal(t, "grace@navy.mil", updated.Email)

	_, err = s.patients.Update(ctx, created.ID, patient.UpdateRequest{
		GivenName: patch.Some("G"),
		Version:   patch.Some(int64(0)),
	})
	var ce *apperr.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.Stale)

	require.NoError(t, s.patients.Delete(ctx, created.ID))
	assert.Equal(t, 0, count(t, "patient"))
	assert.Equal(t, 0, count(t, "encounter"))
	assert.Equal(t, 0, count(t, "observation"))

	_, err = s.patients.Get(ctx, created.ID)
	assert.True(t, apperr.IsNotFound(err))

	assert.Len(t, s.events.Events(), 3)
}

func TestCreate_DuplicateLeavesNothingBehind(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	_, err := s.patients.Create(ctx, request("MRN-1", "Hopper"))
	require.NoError(t, err)

	dup := request("MRN-2", "Lovelace")
	dup.Email = "MRN-1@example.com"
	dup.Encounters = []encounter.Spec{{Start: at(2, 9), Class: "virtual"}}
	_, err = s.patients.Create(ctx, dup)
	assert.True(t, apperr.IsConflict(err))
	assert.Equal(t, 1, count(t, "patient"))
	assert.Equal(t, 0, count(t, "encounter"))
}

func TestCreate_InvalidNestedObservationWritesNothing(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	req := request("MRN-1", "Hopper")
	req.Encounters = []encounter.Spec{{Start: at(1, 9), Class: "outpatient"}}
	req.Observations = []observation.Spec{{Code: "c", Value: "", EffectiveAt: at(1, 9)}}

	_, err := s.patients.Create(ctx, req)
	assert.True(t, apperr.IsValidation(err))
	assert.Equal(t, 0, count(t, "patient"))
	assert.Equal(t, 0, count(t, "encounter"))
}

func TestObservation_ForeignEncounterRejected(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	a, err := s.patients.Create(ctx, request("A", "Hopper"))
	require.NoError(t, err)
	b, err := s.patients.Create(ctx, request("B", "Hopper"))
	require.NoError(t, err)

	enc, err := s.encounters.Record(ctx, b.ID, encounter.Spec{Start: at(3, 9), Class: "ambulatory"})
	require.NoError(t, err)

	_, err = s.observations.Record(ctx, a.ID, observation.Spec{
		Code: "hr", Value: "80", EffectiveAt: at(3, 10), EncounterID: &enc.ID,
	})
	assert.True(t, apperr.IsValidation(err))

	obs, err := s.observations.Record(ctx, b.ID, observation.Spec{
		Code: "hr", Value: "80", EffectiveAt: at(3, 10), EncounterID: &enc.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, enc.ID, *obs.EncounterID)
}

func TestSearchAndEncounterPaging(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	var first *patient.Record
	for i, family := range []string{"Smith", "Goldsmith", "Jones"} {
		req := request(string(rune('A'+i)), family)
		if i == 0 {
			for d := 1; d <= 3; d++ {
				req.Encounters = append(req.Encounters, encounter.Spec{Start: at(d, 9), Class: "outpatient"})
			}
		}
		rec, err := s.patients.Create(ctx, req)
		require.NoError(t, err)
		if i == 0 {
			first = rec
		}
	}

	page, err := s.patients.Search(ctx, patient.SearchParams{FamilyName: "SMITH"},
		pagination.Request{Size: 10, Sort: pagination.Sort{Field: patient.FieldFamilyName}})
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalElements)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Goldsmith", page.Items[0].FamilyName)

	encs, err := s.patients.Encounters(ctx, first.ID, pagination.Request{Page: 0, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, encs.TotalElements)
	assert.True(t, encs.HasNext)
	require.Len(t, encs.Items, 2)
	assert.True(t, encs.Items[0].Start.Equal(*at(3, 9)))

	r, err := s.reports.Evaluate(ctx, "encounter-volume-by-class")
	require.NoError(t, err)
	require.Len(t, r.Results, 1)
	assert.Equal(t, "outpatient", r.Results[0]["encounter_class"])
	assert.EqualValues(t, 3, r.Results[0]["total"])
}
