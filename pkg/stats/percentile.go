package stats

import "math"

// PercentileCheckpoint is a recorded-value step annotated with the percentile
// tick it was reported at.
type PercentileCheckpoint struct {
	RecordedValueStep
	// PercentileLevelIteratedTo is the tick level this checkpoint was
	// emitted for. Non-decreasing across the sequence; the final checkpoint
	// is always exactly 100.
	PercentileLevelIteratedTo float64
	// PercentileLevelIteratedFrom is the previous checkpoint's level.
	PercentileLevelIteratedFrom float64
}

// Percentile returns the actual percentile reached at this checkpoint, as
// opposed to the scheduled tick level it was reported at.
func (c PercentileCheckpoint) Percentile(totalCount int64) float64 {
	if totalCount == 0 {
		return 0
	}
	return 100.0 * float64(c.TotalCountToThisValue) / float64(totalCount)
}

// PercentileIterator emits checkpoints whenever the cumulative percentile
// crosses the next scheduled tick. Ticks are not evenly spaced: the gap
// between consecutive ticks halves every time the remaining distance to 100%
// halves, with ticksPerHalfDistance ticks per halving. The tail therefore
// gets exponentially finer resolution without a huge fixed step count.
//
// Like RecordedValuesIterator, every call to Percentiles opens an independent
// cursor over the histogram.
type PercentileIterator struct {
	inner                *RecordedValuesIterator
	totalCount           int64
	ticksPerHalfDistance int32

	target   float64
	previous float64
	cp       PercentileCheckpoint
	haveStep bool
	finished bool
	err      error
}

// Percentiles returns a fresh percentile cursor. ticksPerHalfDistance values
// below 1 are treated as 1.
func (h *Histogram) Percentiles(ticksPerHalfDistance int32) *PercentileIterator {
	if ticksPerHalfDistance < 1 {
		ticksPerHalfDistance = 1
	}
	return &PercentileIterator{
		inner:                h.RecordedValues(),
		totalCount:           h.TotalCount(),
		ticksPerHalfDistance: ticksPerHalfDistance,
	}
}

// Next advances to the next checkpoint. A single recorded value can satisfy
// several consecutive ticks and is then reported once per tick. The step
// that exhausts the total count is always reported at exactly 100%, whether
// or not a tick lands there. Returns false at the end or on error.
func (pi *PercentileIterator) Next() bool {
	if pi.finished || pi.err != nil || pi.totalCount == 0 {
		return false
	}
	for {
		if !pi.haveStep {
			if !pi.inner.Next() {
				pi.err = pi.inner.Err()
				pi.finished = true
				return false
			}
			pi.haveStep = true
		}
		step := pi.inner.Step()
		if step.TotalCountToThisValue == pi.totalCount {
			pi.emit(step, 100.0)
			pi.finished = true
			return true
		}
		// Once the target saturates at 100 no intermediate tick remains;
		// the guard also keeps a non-final step whose cumulative ratio
		// rounds to exactly 1.0 from being emitted as the 100% line.
		reached := 100.0 * float64(step.TotalCountToThisValue) / float64(pi.totalCount)
		if pi.target < 100.0 && reached >= pi.target {
			pi.emit(step, pi.target)
			pi.advanceTarget()
			return true
		}
		pi.haveStep = false
	}
}

// Checkpoint returns the checkpoint reached by the last successful Next.
func (pi *PercentileIterator) Checkpoint() PercentileCheckpoint { return pi.cp }

// Err returns the error that terminated iteration, if any.
func (pi *PercentileIterator) Err() error { return pi.err }

func (pi *PercentileIterator) emit(step RecordedValueStep, level float64) {
	pi.cp = PercentileCheckpoint{
		RecordedValueStep:           step,
		PercentileLevelIteratedTo:   level,
		PercentileLevelIteratedFrom: pi.previous,
	}
	pi.previous = level
}

func (pi *PercentileIterator) advanceTarget() {
	// Number of halvings of the remaining distance to 100% that the current
	// target has already crossed determines the tick spacing: 0-50% is one
	// half-distance, 50-75% the next, and so on.
	halfDistance := math.Pow(2, math.Floor(math.Log2(100.0/(100.0-pi.target)))+1)
	next := pi.target + 100.0/(halfDistance*float64(pi.ticksPerHalfDistance))
	// Very close to 100 the tick spacing drops below one ulp of the target
	// and the addition no longer changes it; saturate instead of stalling so
	// iteration always reaches the exhausting step.
	if next == pi.target || next > 100.0 {
		next = 100.0
	}
	pi.target = next
}
