package catalog

import (
	"errors"
	"testing"

	"github.com/ashureev/sahayak/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogLoads(t *testing.T) {
	t.Parallel()

	c, err := Default()
	require.NoError(t, err)

	assert.Equal(t, []string{"tamil", "english"}, c.Languages())
	require.NotEmpty(t, c.Schemes())

	ids := make([]string, 0, len(c.Schemes()))
	for _, s := range c.Schemes() {
		ids = append(ids, s.ID)
	}
	assert.IsNonDecreasing(t, ids)

	pmay, err := c.Scheme("PMAY")
	require.NoError(t, err)
	assert.Equal(t, "housing", pmay.Category)
	assert.Contains(t, pmay.Aliases, "ஆவாஸ்")
}

func TestStateCriterionPopulatesStates(t *testing.T) {
	t.Parallel()

	c, err := Default()
	require.NoError(t, err)

	s, err := c.Scheme("ladki_bahin")
	require.NoError(t, err)
	assert.True(t, s.AvailableIn("Maharashtra"))
	assert.False(t, s.AvailableIn("tamil nadu"))

	national, err := c.Scheme("pmjdy")
	require.NoError(t, err)
	assert.True(t, national.AvailableIn("tamil nadu"))
}

func TestUnknownScheme(t *testing.T) {
	t.Parallel()

	c, err := Default()
	require.NoError(t, err)

	_, err = c.Scheme("nope")
	assert.True(t, errors.Is(err, ErrUnknownScheme))
}

func TestMessageFallsBackToEnglish(t *testing.T) {
	t.Parallel()

	c, err := Parse([]byte(`
languages: [english, tamil]
messages:
  english:
    hello: "hi %s"
  tamil: {}
schemes: []
`))
	require.NoError(t, err)

	assert.Equal(t, "hi ravi", c.Message("tamil", "hello", "ravi"))
	assert.Equal(t, "missing", c.Message("english", "missing"))
	assert.Equal(t, "age", c.Label("tamil", domain.FieldAge))
}

func TestParseRejectsInvalidCriteria(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "range on boolean field",
			yaml: `{field: is_farmer, kind: range, max: 5}`,
		},
		{
			name: "boolean without want",
			yaml: `{field: is_bpl, kind: boolean}`,
		},
		{
			name: "enum without values",
			yaml: `{field: gender, kind: enum}`,
		},
		{
			name: "unknown field",
			yaml: `{field: shoe_size, kind: range, max: 5}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			doc := "languages: [english]\nmessages: {english: {}}\nschemes:\n  - id: x\n    criteria:\n      - " + tt.yaml + "\n"
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestOfficesDefault(t *testing.T) {
	t.Parallel()

	c, err := Default()
	require.NoError(t, err)

	assert.NotEmpty(t, c.Offices("agriculture"))
	assert.Equal(t, c.Offices("default"), c.Offices("insurance"))
}
