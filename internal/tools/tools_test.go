package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ashureev/sahayak/internal/catalog"
	"github.com/ashureev/sahayak/internal/domain"
	"github.com/ashureev/sahayak/internal/retrieval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T, opts ...RegistryOption) *Registry {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	reg, err := NewDefaultRegistry(cat, retrieval.New(cat.Schemes()), opts...)
	require.NoError(t, err)
	return reg
}

type funcTool struct {
	name string
	run  func(ctx context.Context, args Args) (Output, error)
}

func (f funcTool) Name() string        { return f.name }
func (f funcTool) Description() string { return "test tool" }
func (f funcTool) Schema() string      { return `{"type":"object"}` }
func (f funcTool) Run(ctx context.Context, args Args) (Output, error) {
	return f.run(ctx, args)
}

func TestRegistryNames(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	assert.Equal(t, []string{NameApplication, NameEligibility, NameRetriever}, reg.Names())

	err := reg.Register(NewEligibilityChecker(nil))
	assert.ErrorIs(t, err, ErrDuplicateTool)
}

func TestInvokeUnknownToolIsStructural(t *testing.T) {
	t.Parallel()

	res := newRegistry(t).Invoke(context.Background(), "nope", nil)
	assert.False(t, res.Success)
	assert.Equal(t, ErrKindStructural, res.ErrKind)
	assert.Contains(t, res.Err, ErrUnknownTool.Error())
}

func TestEligibilityChecker(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	res := reg.Invoke(context.Background(), NameEligibility, Args{
		"profile": map[domain.Field]domain.Value{
			domain.FieldIsFarmer: domain.Bool(true),
			domain.FieldLandSize: domain.Number(2),
			domain.FieldAge:      domain.Number(45),
		},
	})
	require.True(t, res.Success, res.Err)
	assert.Contains(t, res.Bindings[BindSchemeIDs], "pmksy")
	assert.Equal(t, 1.0, res.Bindings[BindBestScore])

	report, ok := res.Payload.(EligibilityReport)
	require.True(t, ok)
	assert.NotEmpty(t, report.Summary.Eligible)
}

func TestEligibilityCheckerAcceptsJSONProfile(t *testing.T) {
	t.Parallel()

	res := newRegistry(t).Invoke(context.Background(), NameEligibility, Args{
		"profile":    map[string]any{"is_widow": true, "gender": "Female", "income": 50000.0},
		"categories": []any{"pension"},
	})
	require.True(t, res.Success, res.Err)
	assert.Equal(t, "widow_pension", res.Bindings[BindTopSchemeID])
}

func TestEligibilityCheckerMissingFields(t *testing.T) {
	t.Parallel()

	res := newRegistry(t).Invoke(context.Background(), NameEligibility, Args{})
	assert.False(t, res.Success)
	assert.Equal(t, ErrKindMissingFields, res.ErrKind)
	assert.Equal(t, []domain.Field{domain.FieldAge, domain.FieldIncome, domain.FieldGender}, res.MissingFields)
}

func TestEligibilityCheckerBadProfileIsStructural(t *testing.T) {
	t.Parallel()

	res := newRegistry(t).Invoke(context.Background(), NameEligibility, Args{
		"profile": map[string]any{"age": "old"},
	})
	assert.Equal(t, ErrKindStructural, res.ErrKind)
}

func TestSchemeRetriever(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	res := reg.Invoke(context.Background(), NameRetriever, Args{"query": "ஆவாச்"})
	require.True(t, res.Success, res.Err)
	assert.Equal(t, "pmay", res.Bindings[BindTopSchemeID])
	assert.Equal(t, false, res.Bindings[BindFiltered])

	res = reg.Invoke(context.Background(), NameRetriever, Args{"query": "pmay", "category": "insurance", "limit": 1.0})
	require.True(t, res.Success, res.Err)
	assert.Equal(t, true, res.Bindings[BindFiltered])

	res = reg.Invoke(context.Background(), NameRetriever, Args{})
	assert.Equal(t, ErrKindStructural, res.ErrKind)
}

func TestApplicationHelper(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	tests := []struct {
		name   string
		args   Args
		check  func(t *testing.T, g Guidance)
		errKnd ErrorKind
	}{
		{
			name: "documents",
			args: Args{"scheme_id": "pmksy", "action": "get_documents"},
			check: func(t *testing.T, g Guidance) {
				assert.Contains(t, g.Documents, "Aadhaar card")
				assert.Empty(t, g.Steps)
			},
		},
		{
			name: "tamil process",
			args: Args{"scheme_id": "PMAY", "action": "get_process", "language": "tamil"},
			check: func(t *testing.T, g Guidance) {
				assert.Equal(t, "பிரதான் மந்திரி ஆவாஸ் யோஜனா", g.Name)
				assert.NotEmpty(t, g.Steps)
				assert.NotEmpty(t, g.Offices)
			},
		},
		{
			name: "default overview",
			args: Args{"scheme_id": "pmjdy"},
			check: func(t *testing.T, g Guidance) {
				assert.Equal(t, ActionOverview, g.Action)
				assert.NotEmpty(t, g.Benefits)
			},
		},
		{name: "unknown scheme", args: Args{"scheme_id": "nope"}, errKnd: ErrKindStructural},
		{name: "unknown action", args: Args{"scheme_id": "pmay", "action": "teleport"}, errKnd: ErrKindStructural},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := reg.Invoke(context.Background(), NameApplication, tt.args)
			if tt.errKnd != ErrKindNone {
				assert.False(t, res.Success)
				assert.Equal(t, tt.errKnd, res.ErrKind)
				return
			}
			require.True(t, res.Success, res.Err)
			g, ok := res.Payload.(Guidance)
			require.True(t, ok)
			tt.check(t, g)
		})
	}
}

func TestInvokeTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(WithTimeout(10 * time.Millisecond))
	require.NoError(t, reg.Register(funcTool{name: "slow", run: func(ctx context.Context, _ Args) (Output, error) {
		<-ctx.Done()
		return Output{}, ctx.Err()
	}}))

	res := reg.Invoke(context.Background(), "slow", nil)
	assert.False(t, res.Success)
	assert.Equal(t, ErrKindTransient, res.ErrKind)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want ErrorKind
	}{
		{err: nil, want: ErrKindNone},
		{err: fmt.Errorf("wrap: %w", ErrUnavailable), want: ErrKindTransient},
		{err: context.DeadlineExceeded, want: ErrKindTransient},
		{err: fmt.Errorf("x: %w", ErrInvalidArgument), want: ErrKindStructural},
		{err: &MissingFieldsError{Fields: []domain.Field{domain.FieldAge}}, want: ErrKindMissingFields},
		{err: errors.New("boom"), want: ErrKindStructural},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
}

func TestLLMToolSpecs(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	specs := reg.LLMToolSpecs()
	require.Len(t, specs, 3)
	for _, s := range specs {
		assert.NotEmpty(t, s.ID)
		assert.Contains(t, string(s.Slug), "sahayak.")
	}

	exported, err := ExportLLMTools(reg)
	require.NoError(t, err)
	assert.NotNil(t, exported)

	_, err = ExportLLMTools(nil)
	assert.Error(t, err)
}
