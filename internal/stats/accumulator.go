// Package stats implements the streaming mean/variance bookkeeping behind
// the historic averages model, together with the normal-tail probability
// used for scoring deviations.
package stats

import "math"

// Accumulator maintains running statistics for one metric of one model row.
// It stores only count, sum and sum of squares; mean and standard deviation
// are derived. Standard deviation is the population deviation (ddof=0).
type Accumulator struct {
	Count      int64   `json:"count"`
	Sum        float64 `json:"sum"`
	SumSquares float64 `json:"ssq"`
}

// FromSamples batch-initializes an accumulator from a finite sample set.
func FromSamples(samples []float64) Accumulator {
	var a Accumulator
	for _, x := range samples {
		a.Count++
		a.Sum += x
		a.SumSquares += x * x
	}
	return a
}

// Observe folds one new sample into the accumulator. Multiple samples for
// the same row are folded one at a time, never batch-merged.
func (a *Accumulator) Observe(x float64) {
	a.Count++
	a.Sum += x
	a.SumSquares += x * x
}

// Mean returns sum/count, or 0 for an empty accumulator.
func (a Accumulator) Mean() float64 {
	if a.Count == 0 {
		return 0
	}
	return a.Sum / float64(a.Count)
}

// Variance returns the population variance, defined as 0 when fewer than
// two samples have been observed. Floating-point cancellation can push the
// raw expression slightly below zero; it is clamped.
func (a Accumulator) Variance() float64 {
	if a.Count < 2 {
		return 0
	}
	n := float64(a.Count)
	v := (a.SumSquares - a.Sum*a.Sum/n) / n
	if v < 0 {
		return 0
	}
	return v
}

// Std returns the population standard deviation.
func (a Accumulator) Std() float64 {
	return math.Sqrt(a.Variance())
}
