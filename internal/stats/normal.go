package stats

import "math"

// minStd is the floor applied to standard deviations before they are used
// as a divisor, so a zero-variance baseline still yields a finite z-score.
const minStd = 0.001

// ZScore returns (observed - mean) / std with std clamped to minStd.
func ZScore(observed, mean, std float64) float64 {
	if std < minStd {
		std = minStd
	}
	return (observed - mean) / std
}

// TwoSidedPValue returns the probability of drawing a value at least as far
// from the mean of a standard normal distribution as z, in either
// direction: 2 * (1 - Phi(|z|)).
func TwoSidedPValue(z float64) float64 {
	return math.Erfc(math.Abs(z) / math.Sqrt2)
}
