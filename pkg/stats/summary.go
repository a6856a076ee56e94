package stats

import "math"

// Max returns the largest value ever recorded, rounded up to the boundary of
// its equivalent range. Returns 0 for an empty histogram.
func (h *Histogram) Max() int64 {
	var max int64
	it := h.RecordedValues()
	for it.Next() {
		max = it.Step().ValueIteratedTo
	}
	if max == 0 {
		return 0
	}
	return h.HighestEquivalentValue(max)
}

// Min returns the smallest value ever recorded, rounded down to the boundary
// of its equivalent range. Returns 0 for an empty histogram.
func (h *Histogram) Min() int64 {
	it := h.RecordedValues()
	if !it.Next() {
		return 0
	}
	return h.LowestEquivalentValue(it.Step().ValueIteratedTo)
}

// Mean returns the mean of all recorded values, estimating each bucket's
// samples at the bucket's median equivalent value. NaN when nothing has been
// recorded; callers should check TotalCount first.
func (h *Histogram) Mean() float64 {
	if h.totalCount == 0 {
		return math.NaN()
	}
	var last RecordedValueStep
	it := h.RecordedValues()
	for it.Next() {
		last = it.Step()
	}
	return float64(last.TotalValueToThisValue) / float64(h.totalCount)
}

// StdDeviation returns the standard deviation of the recorded values around
// Mean, again using median equivalent values per bucket. NaN when empty.
func (h *Histogram) StdDeviation() float64 {
	if h.totalCount == 0 {
		return math.NaN()
	}
	mean := h.Mean()
	var geometricDevTotal float64
	it := h.RecordedValues()
	for it.Next() {
		step := it.Step()
		dev := float64(h.MedianEquivalentValue(step.ValueIteratedTo)) - mean
		geometricDevTotal += dev * dev * float64(step.CountAddedInThisStep)
	}
	return math.Sqrt(geometricDevTotal / float64(h.totalCount))
}
