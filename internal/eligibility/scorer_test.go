package eligibility

import (
	"testing"

	"github.com/ashureev/sahayak/internal/catalog"
	"github.com/ashureev/sahayak/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func schemes(t *testing.T) []*domain.SchemeRecord {
	t.Helper()
	c, err := catalog.Default()
	require.NoError(t, err)
	return c.Schemes()
}

func find(matches []Match, id string) (Match, bool) {
	for _, m := range matches {
		if m.SchemeID == id {
			return m, true
		}
	}
	return Match{}, false
}

func TestFarmerIsEligibleForPMKisan(t *testing.T) {
	t.Parallel()

	profile := map[domain.Field]domain.Value{
		domain.FieldIsFarmer: domain.Bool(true),
		domain.FieldLandSize: domain.Number(2.0),
		domain.FieldAge:      domain.Number(45),
	}
	matches := Score(profile, schemes(t))

	m, ok := find(matches, "pmksy")
	require.True(t, ok)
	assert.Equal(t, Eligible, m.Verdict)
	assert.Equal(t, 1.0, m.Score)
	assert.Empty(t, m.Unmet)

	top, ok := Top(matches)
	require.True(t, ok)
	assert.Equal(t, Eligible, top.Verdict)
}

func TestGeneralCasteHighIncomeHasNoEligibleScheme(t *testing.T) {
	t.Parallel()

	profile := map[domain.Field]domain.Value{
		domain.FieldCasteCategory: domain.Text("General"),
		domain.FieldIncome:        domain.Number(1000000),
	}
	matches := Score(profile, schemes(t))
	require.NotEmpty(t, matches)

	summary := Summarize(matches)
	assert.Empty(t, summary.Eligible)
	assert.Empty(t, summary.Possible)
	for _, m := range summary.Ineligible {
		assert.NotEmpty(t, m.Unmet, "scheme %s has no unmet reason", m.SchemeID)
	}

	sc, ok := find(matches, "scholarship_sc")
	require.True(t, ok)
	var fields []domain.Field
	for _, u := range sc.Unmet {
		fields = append(fields, u.Criterion.Field)
	}
	assert.ElementsMatch(t, []domain.Field{domain.FieldCasteCategory, domain.FieldIncome}, fields)

	_, ok = Top(matches)
	assert.False(t, ok)
}

func TestSchemesWithoutApplicableCriteriaAreExcluded(t *testing.T) {
	t.Parallel()

	profile := map[domain.Field]domain.Value{domain.FieldIsWidow: domain.Bool(true)}
	matches := Score(profile, schemes(t))
	require.Len(t, matches, 1)
	assert.Equal(t, "widow_pension", matches[0].SchemeID)
	assert.Equal(t, Possible, matches[0].Verdict)
	assert.ElementsMatch(t, []domain.Field{domain.FieldGender, domain.FieldIncome}, matches[0].Missing)

	assert.Empty(t, Score(map[domain.Field]domain.Value{}, schemes(t)))
}

func TestOrderingIsDeterministic(t *testing.T) {
	t.Parallel()

	profile := map[domain.Field]domain.Value{
		domain.FieldAge:    domain.Number(40),
		domain.FieldIncome: domain.Number(90000),
	}
	first := Score(profile, schemes(t))
	for i := 0; i < 5; i++ {
		again := Score(profile, schemes(t))
		if diff := cmp.Diff(ids(first), ids(again)); diff != "" {
			t.Fatalf("order changed (-first +again):\n%s", diff)
		}
	}
	for i := 1; i < len(first); i++ {
		prev, cur := first[i-1], first[i]
		if prev.Score == cur.Score {
			assert.Less(t, prev.SchemeID, cur.SchemeID)
		} else {
			assert.Greater(t, prev.Score, cur.Score)
		}
	}
}

func ids(ms []Match) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.SchemeID
	}
	return out
}

func TestAddingSatisfiedCriterionNeverLowersScore(t *testing.T) {
	t.Parallel()

	scheme := &domain.SchemeRecord{
		ID: "x",
		Criteria: []domain.Criterion{
			{Field: domain.FieldAge, Kind: domain.CriterionRange, Min: ptr(18.0)},
			{Field: domain.FieldIncome, Kind: domain.CriterionRange, Max: ptr(100000.0)},
			{Field: domain.FieldIsBPL, Kind: domain.CriterionBoolean, Want: ptr(true)},
		},
	}
	profile := map[domain.Field]domain.Value{
		domain.FieldAge:    domain.Number(70),
		domain.FieldIncome: domain.Number(500000),
	}
	before := Score(profile, []*domain.SchemeRecord{scheme})[0]

	profile[domain.FieldIsBPL] = domain.Bool(true)
	after := Score(profile, []*domain.SchemeRecord{scheme})[0]
	assert.GreaterOrEqual(t, after.Score, before.Score)
}

func TestViolatedBooleanForcesIneligible(t *testing.T) {
	t.Parallel()

	scheme := &domain.SchemeRecord{
		ID: "x",
		Criteria: []domain.Criterion{
			{Field: domain.FieldAge, Kind: domain.CriterionRange, Min: ptr(18.0)},
			{Field: domain.FieldState, Kind: domain.CriterionEnum, Values: []string{"kerala"}},
			{Field: domain.FieldIsFarmer, Kind: domain.CriterionBoolean, Want: ptr(true)},
		},
	}
	profile := map[domain.Field]domain.Value{
		domain.FieldAge:      domain.Number(30),
		domain.FieldState:    domain.Text("Kerala"),
		domain.FieldIsFarmer: domain.Bool(false),
	}
	m := Score(profile, []*domain.SchemeRecord{scheme})[0]
	assert.Equal(t, Ineligible, m.Verdict)
	assert.InDelta(t, 2.0/3.0, m.Score, 1e-9)
	require.Len(t, m.Unmet, 1)
	assert.Equal(t, domain.FieldIsFarmer, m.Unmet[0].Criterion.Field)
}

func TestFields(t *testing.T) {
	t.Parallel()

	fields := Fields(schemes(t))
	assert.Contains(t, fields, domain.FieldIsFarmer)
	assert.Contains(t, fields, domain.FieldCasteCategory)
	assert.NotContains(t, fields, domain.FieldOccupation)
}

func TestAskSkipsKnownFields(t *testing.T) {
	t.Parallel()

	profile := map[domain.Field]domain.Value{domain.FieldAge: domain.Number(30)}
	assert.Equal(t, []domain.Field{domain.FieldIncome, domain.FieldGender}, Ask(profile, schemes(t), 2))
	assert.Empty(t, Ask(profile, nil, 3))
}
