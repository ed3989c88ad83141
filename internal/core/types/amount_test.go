package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    Amount
		wantErr bool
	}{
		{"0", 0, false},
		{"1500000", 1_500_000, false},
		{"-1", 0, true},
		{"12.50", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPercent(t *testing.T) {
	assert.Equal(t, "33.33", Percent(1, 3).String())
	assert.Equal(t, "70", Percent(700_000, 1_000_000).String())
	assert.True(t, Percent(5, 0).IsZero())
}

func TestSum(t *testing.T) {
	assert.Equal(t, Amount(600), Sum(100, 200, 300))
	assert.True(t, Sum().IsZero())
}
