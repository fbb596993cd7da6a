package memory

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/ashureev/sahayak/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultTolerances() map[domain.Field]float64 {
	return map[domain.Field]float64{domain.FieldAge: 1, domain.FieldIncome: 10000}
}

func TestUpdateStoresUnsetField(t *testing.T) {
	t.Parallel()

	p := NewProfile(defaultTolerances())
	out, err := p.Update(domain.FieldAge, domain.Number(30), domain.SourceExtracted)
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Nil(t, out.Contradiction)

	e, ok := p.Get(domain.FieldAge)
	require.True(t, ok)
	assert.Equal(t, domain.Number(30), e.Value)
	assert.Equal(t, domain.SourceExtracted, e.Source)
}

func TestContradictionBlocksOverwriteUntilResolved(t *testing.T) {
	t.Parallel()

	p := NewProfile(defaultTolerances())
	p.SetTurn(1)
	_, err := p.Update(domain.FieldAge, domain.Number(30), domain.SourceExtracted)
	require.NoError(t, err)

	p.SetTurn(2)
	out, err := p.Update(domain.FieldAge, domain.Number(25), domain.SourceExtracted)
	require.NoError(t, err)
	require.NotNil(t, out.Contradiction)
	assert.False(t, out.Applied)
	assert.Equal(t, domain.Number(30), out.Contradiction.OldValue)
	assert.Equal(t, domain.Number(25), out.Contradiction.NewValue)
	assert.Equal(t, 2, out.Contradiction.Turn)

	// A third value does not replace the disputed one.
	out, err = p.Update(domain.FieldAge, domain.Number(40), domain.SourceExtracted)
	require.NoError(t, err)
	require.NotNil(t, out.Contradiction)
	assert.Equal(t, domain.Number(25), out.Contradiction.NewValue)
	assert.Equal(t, domain.Number(30), p.Snapshot()[domain.FieldAge])

	require.NoError(t, p.Resolve(domain.FieldAge, true))
	e, _ := p.Get(domain.FieldAge)
	assert.Equal(t, domain.Number(25), e.Value)
	assert.Equal(t, domain.SourceUserConfirmed, e.Source)
	require.NotNil(t, e.PreviousValue)
	assert.Equal(t, domain.Number(30), *e.PreviousValue)
	assert.False(t, e.ContradictionPending)
	assert.Empty(t, p.Pending())
}

func TestResolveKeepOld(t *testing.T) {
	t.Parallel()

	p := NewProfile(nil)
	_, _ = p.Update(domain.FieldCasteCategory, domain.Text("OBC"), domain.SourceExtracted)
	out, _ := p.Update(domain.FieldCasteCategory, domain.Text("sc"), domain.SourceExtracted)
	require.NotNil(t, out.Contradiction)

	require.NoError(t, p.Resolve(domain.FieldCasteCategory, false))
	assert.Equal(t, domain.Text("obc"), p.Snapshot()[domain.FieldCasteCategory])

	err := p.Resolve(domain.FieldCasteCategory, true)
	assert.True(t, errors.Is(err, ErrNoContradiction))
}

func TestToleranceAbsorbsSmallNumericDrift(t *testing.T) {
	t.Parallel()

	p := NewProfile(defaultTolerances())
	_, _ = p.Update(domain.FieldIncome, domain.Number(120000), domain.SourceExtracted)
	out, err := p.Update(domain.FieldIncome, domain.Number(125000), domain.SourceUserConfirmed)
	require.NoError(t, err)
	assert.Nil(t, out.Contradiction)

	e, _ := p.Get(domain.FieldIncome)
	assert.Equal(t, domain.Number(120000), e.Value)
	assert.Equal(t, domain.SourceUserConfirmed, e.Source)
}

func TestCategoricalCompareIgnoresCase(t *testing.T) {
	t.Parallel()

	p := NewProfile(nil)
	_, _ = p.Update(domain.FieldGender, domain.Text("Female"), domain.SourceExtracted)
	out, _ := p.Update(domain.FieldGender, domain.Text("female "), domain.SourceExtracted)
	assert.Nil(t, out.Contradiction)
}

func TestUpdateRejectsWrongKind(t *testing.T) {
	t.Parallel()

	p := NewProfile(nil)
	_, err := p.Update(domain.FieldAge, domain.Text("thirty"), domain.SourceExtracted)
	assert.Error(t, err)

	_, err = p.Update("shoe_size", domain.Number(9), domain.SourceExtracted)
	assert.True(t, errors.Is(err, ErrUnknownField))
}

func TestNonFiniteAgeCannotMaskContradiction(t *testing.T) {
	t.Parallel()

	p := NewProfile(defaultTolerances())
	_, err := p.Update(domain.FieldAge, domain.Number(math.NaN()), domain.SourceExtracted)
	require.Error(t, err)
	_, ok := p.Get(domain.FieldAge)
	assert.False(t, ok)

	_, err = p.Update(domain.FieldAge, domain.Number(45), domain.SourceExtracted)
	require.NoError(t, err)
	out, err := p.Update(domain.FieldAge, domain.Number(30), domain.SourceExtracted)
	require.NoError(t, err)
	require.NotNil(t, out.Contradiction)
	assert.Equal(t, domain.Number(45), out.Contradiction.OldValue)
}

func TestSnapshotHoldsOneValuePerField(t *testing.T) {
	t.Parallel()

	p := NewProfile(defaultTolerances())
	for i := 0; i < 10; i++ {
		_, _ = p.Update(domain.FieldAge, domain.Number(float64(20+i*5)), domain.SourceExtracted)
		_, _ = p.Update(domain.FieldState, domain.Text(fmt.Sprintf("state-%d", i)), domain.SourceExtracted)
		for _, c := range p.Pending() {
			_ = p.Resolve(c.Field, i%2 == 0)
		}
	}
	snap := p.Snapshot()
	assert.Len(t, snap, 2)
	assert.Len(t, p.Entries(), 2)
}

func TestReset(t *testing.T) {
	t.Parallel()

	p := NewProfile(nil)
	_, _ = p.Update(domain.FieldIsFarmer, domain.Bool(true), domain.SourceExtracted)
	_, _ = p.Update(domain.FieldIsFarmer, domain.Bool(false), domain.SourceExtracted)
	require.Len(t, p.Pending(), 1)

	p.Reset()
	assert.Zero(t, p.Len())
	assert.Empty(t, p.Pending())
}

func TestWindowEvictsOldest(t *testing.T) {
	t.Parallel()

	w := NewWindow(3)
	for i := 1; i <= 5; i++ {
		w.Add(Turn{Index: i})
	}
	turns := w.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, []int{3, 4, 5}, []int{turns[0].Index, turns[1].Index, turns[2].Index})
	assert.Equal(t, 3, w.Len())

	last := w.Last(2)
	assert.Equal(t, 4, last[0].Index)

	w.Clear()
	assert.Zero(t, w.Len())
	assert.Equal(t, 3, w.Cap())
}

func TestWindowPartial(t *testing.T) {
	t.Parallel()

	w := NewWindow(4)
	w.Add(Turn{Index: 1})
	w.Add(Turn{Index: 2})
	assert.Len(t, w.Turns(), 2)
	assert.Len(t, w.Last(10), 2)
}
