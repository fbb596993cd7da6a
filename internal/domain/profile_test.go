package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		field   Field
		raw     any
		want    Value
		wantErr bool
	}{
		{"float", FieldAge, 45.0, Number(45), false},
		{"int", FieldFamilySize, 4, Number(4), false},
		{"string with commas", FieldIncome, "1,20,000", Number(120000), false},
		{"zero land", FieldLandSize, "0", Number(0), false},
		{"nan string", FieldAge, "NaN", Value{}, true},
		{"inf string", FieldIncome, "Inf", Value{}, true},
		{"nan float", FieldLandSize, math.NaN(), Value{}, true},
		{"negative inf", FieldAge, math.Inf(-1), Value{}, true},
		{"negative age", FieldAge, -3.0, Value{}, true},
		{"negative income", FieldIncome, "-5000", Value{}, true},
		{"negative land", FieldLandSize, -0.5, Value{}, true},
		{"negative family", FieldFamilySize, -1, Value{}, true},
		{"bool for number", FieldAge, true, Value{}, true},
		{"yes", FieldIsFarmer, "Yes", Bool(true), false},
		{"category", FieldCasteCategory, "SC", Text("SC"), false},
		{"blank category", FieldGender, "  ", Value{}, true},
		{"unknown field", Field("shoe_size"), 9.0, Value{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Coerce(tt.field, tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
		})
	}
}
