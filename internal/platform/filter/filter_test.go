package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCols = Columns{
	"familyName": "family_name",
	"givenName":  "given_name",
	"identifier": "identifier",
	"birthDate":  "birth_date",
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func record(fields map[string]any) Getter {
	return func(f string) (any, bool) {
		v, ok := fields[f]
		return v, ok
	}
}

func TestAnd_FoldsNilAndTrue(t *testing.T) {
	assert.True(t, And().IsTrue())
	assert.True(t, And(nil, True(), nil).IsTrue())

	eq := Equals("identifier", "P1")
	assert.Same(t, eq, And(nil, eq, True()))

	e := And(eq, And(ContainsFold("familyName", "sm"), ContainsFold("givenName", "jo")))
	require.Equal(t, KindAnd, e.Kind)
	assert.Len(t, e.Args, 3, "nested conjunctions are flattened")
	assert.Equal(t, []string{"identifier", "familyName", "givenName"}, e.Fields())
}

func TestBetween_OpenBounds(t *testing.T) {
	assert.True(t, Between("birthDate", nil, nil).IsTrue())

	var nilTime *time.Time
	assert.True(t, Between("birthDate", nilTime, nilTime).IsTrue())

	lo := day("1990-01-01")
	e := Between("birthDate", &lo, nilTime)
	assert.Equal(t, lo, e.Lo, "pointer bounds are dereferenced")
	assert.Nil(t, e.Hi)
}

func TestToSQL_Leaves(t *testing.T) {
	clause, args, next, err := ToSQL(Equals("identifier", "P1"), testCols, 3)
	require.NoError(t, err)
	assert.Equal(t, "identifier = $3", clause)
	assert.Equal(t, []any{"P1"}, args)
	assert.Equal(t, 4, next)

	clause, args, _, err = ToSQL(ContainsFold("familyName", "50%_off"), testCols, 1)
	require.NoError(t, err)
	assert.Equal(t, "family_name ILIKE $1", clause)
	assert.Equal(t, []any{`%50\%\_off%`}, args)

	clause, args, next, err = ToSQL(Between("birthDate", day("1990-01-01"), nil), testCols, 1)
	require.NoError(t, err)
	assert.Equal(t, "birth_date >= $1", clause)
	assert.Len(t, args, 1)
	assert.Equal(t, 2, next)

	clause, _, next, err = ToSQL(Between("birthDate", day("1990-01-01"), day("2000-12-31")), testCols, 1)
	require.NoError(t, err)
	assert.Equal(t, "(birth_date >= $1 AND birth_date <= $2)", clause)
	assert.Equal(t, 3, next)
}

func TestToSQL_Conjunction(t *testing.T) {
	e := And(ContainsFold("familyName", "smith"), Equals("birthDate", day("2000-01-01")))
	clause, args, next, err := ToSQL(e, testCols, 1)
	require.NoError(t, err)
	assert.Equal(t, "(family_name ILIKE $1 AND birth_date = $2)", clause)
	assert.Equal(t, []any{"%smith%", day("2000-01-01")}, args)
	assert.Equal(t, 3, next)
}

func TestToSQL_RejectsUnknownField(t *testing.T) {
	_, _, _, err := ToSQL(Equals("password; DROP TABLE patient", "x"), testCols, 1)
	assert.Error(t, err)
}

func TestToSQL_TrueCompilesToTrue(t *testing.T) {
	clause, args, next, err := ToSQL(True(), testCols, 5)
	require.NoError(t, err)
	assert.Equal(t, "TRUE", clause)
	assert.Empty(t, args)
	assert.Equal(t, 5, next)
}

func TestQuery_WhereAndPaging(t *testing.T) {
	q := NewQuery("patient", "id, family_name")
	require.NoError(t, q.Where(True(), testCols))
	assert.Equal(t, "SELECT COUNT(*) FROM patient WHERE 1=1", q.CountSQL())

	require.NoError(t, q.Where(And(ContainsFold("familyName", "smi"), Equals("identifier", "P1")), testCols))
	q.OrderBy("family_name ASC, id ASC")

	assert.Equal(t, "SELECT COUNT(*) FROM patient WHERE 1=1 AND (family_name ILIKE $1 AND identifier = $2)", q.CountSQL())
	assert.Equal(t,
		"SELECT id, family_name FROM patient WHERE 1=1 AND (family_name ILIKE $1 AND identifier = $2) ORDER BY family_name ASC, id ASC LIMIT $3 OFFSET $4",
		q.DataSQL())
	assert.Equal(t, []any{"%smi%", "P1", 10, 20}, q.DataArgs(10, 20))
	assert.Len(t, q.Args(), 2, "DataArgs must not grow the shared argument slice")
}

func TestQuery_AddRaw(t *testing.T) {
	q := NewQuery("encounter", "id")
	q.Add("patient_id = $1", "abc")
	assert.Equal(t, 2, q.Idx())
	require.NoError(t, q.Where(Equals("identifier", "x"), testCols))
	assert.Equal(t, "SELECT id FROM encounter WHERE 1=1 AND patient_id = $1 AND identifier = $2", q.SelectSQL())
}

func TestMatch(t *testing.T) {
	smith := record(map[string]any{
		"familyName": "Smith",
		"givenName":  "John",
		"identifier": "P1",
		"birthDate":  day("2000-01-01"),
	})

	assert.True(t, True().Match(smith))
	assert.True(t, ContainsFold("familyName", "SMI").Match(smith))
	assert.False(t, ContainsFold("familyName", "jones").Match(smith))
	assert.True(t, Equals("identifier", "P1").Match(smith))
	assert.False(t, Equals("identifier", "p1").Match(smith), "identifier match is exact")
	assert.True(t, Equals("birthDate", day("2000-01-01")).Match(smith))

	assert.True(t, Between("birthDate", day("2000-01-01"), day("2000-01-01")).Match(smith), "bounds are inclusive")
	assert.True(t, Between("birthDate", nil, day("2005-01-01")).Match(smith))
	assert.False(t, Between("birthDate", day("2000-01-02"), nil).Match(smith))

	assert.False(t, Equals("unknown", "x").Match(smith))
	assert.False(t, And(ContainsFold("familyName", "smith"), Equals("identifier", "P2")).Match(smith))
}

func TestExprString(t *testing.T) {
	e := And(ContainsFold("familyName", "smith"), Between("birthDate", nil, day("2000-01-01")))
	assert.Equal(t, "(contains(familyName, 'smith') and between(birthDate, *, 2000-01-01T00:00:00Z))", e.String())
}
