package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestZScore(t *testing.T) {
	tests := []struct {
		name     string
		observed float64
		mean     float64
		std      float64
		want     float64
	}{
		{name: "regular", observed: 10, mean: 4, std: 2, want: 3},
		{name: "below mean", observed: 1, mean: 4, std: 2, want: -1.5},
		{name: "zero std clamped", observed: 10, mean: 2, std: 0, want: 8000},
		{name: "tiny std clamped", observed: 3, mean: 2, std: 0.0001, want: 1000},
		{name: "std at the floor is kept", observed: 3, mean: 2, std: 0.001, want: 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ZScore(tt.observed, tt.mean, tt.std), 1e-9)
		})
	}
}

func TestTwoSidedPValue(t *testing.T) {
	// Known two-sided normal tail probabilities.
	assert.InDelta(t, 1.0, TwoSidedPValue(0), 1e-12)
	assert.InDelta(t, 0.3173, TwoSidedPValue(1), 1e-3)
	assert.InDelta(t, 0.0455, TwoSidedPValue(2), 1e-3)
	assert.InDelta(t, 0.0027, TwoSidedPValue(3), 1e-3)

	// Symmetric in z.
	assert.Equal(t, TwoSidedPValue(2.5), TwoSidedPValue(-2.5))

	// Monotonically decreasing in |z|.
	assert.Greater(t, TwoSidedPValue(1), TwoSidedPValue(2))
	assert.Greater(t, TwoSidedPValue(2), TwoSidedPValue(3))
}
