package stats

import (
	"fmt"
	"math"
	"math/bits"
)

// Histogram is a mergeable, log-linear latency histogram in the HDR style.
// Values are bucketed at a fixed number of significant figures, so it avoids
// OOM by using fixed buckets instead of storing every sample. All values that
// fall into the same bucket are "equivalent": the histogram cannot tell them
// apart, and the equivalence helpers below expose the boundaries of that
// range for a given value.
//
// A Histogram is not safe for concurrent mutation; the engines keep one per
// worker and merge at the end of a run.
type Histogram struct {
	lowestTrackableValue  int64
	highestTrackableValue int64
	significantFigures    int64

	unitMagnitude               int32
	subBucketHalfCountMagnitude int32
	subBucketCount              int32
	subBucketHalfCount          int32
	subBucketMask               int64
	bucketCount                 int32
	countsLen                   int32

	totalCount int64
	overflowed bool
	counts     []int64
}

// New allocates a histogram covering [lowest, highest] at sigfigs significant
// figures. lowest must be >= 1 (it sets the unit magnitude, e.g. pass 1000
// when the smallest distinguishable value is a microsecond in nanosecond
// units). sigfigs must be in [1, 5].
func New(lowest, highest int64, sigfigs int) (*Histogram, error) {
	if lowest < 1 {
		return nil, fmt.Errorf("lowest trackable value must be >= 1, got %d", lowest)
	}
	if highest < 2*lowest {
		return nil, fmt.Errorf("highest trackable value must be >= 2*lowest, got %d", highest)
	}
	if sigfigs < 1 || sigfigs > 5 {
		return nil, fmt.Errorf("significant figures must be in [1, 5], got %d", sigfigs)
	}

	largestValueWithSingleUnitResolution := 2 * int64(math.Pow10(sigfigs))
	subBucketCountMagnitude := int32(math.Ceil(math.Log2(float64(largestValueWithSingleUnitResolution))))
	subBucketHalfCountMagnitude := subBucketCountMagnitude - 1
	if subBucketHalfCountMagnitude < 0 {
		subBucketHalfCountMagnitude = 0
	}

	unitMagnitude := int32(math.Floor(math.Log2(float64(lowest))))

	subBucketCount := int32(1) << uint(subBucketHalfCountMagnitude+1)
	subBucketHalfCount := subBucketCount / 2
	subBucketMask := int64(subBucketCount-1) << uint(unitMagnitude)

	// Count buckets needed so the top bucket's range covers highest.
	smallestUntrackable := int64(subBucketCount) << uint(unitMagnitude)
	bucketsNeeded := int32(1)
	for smallestUntrackable < highest {
		smallestUntrackable <<= 1
		bucketsNeeded++
	}

	countsLen := (bucketsNeeded + 1) * subBucketHalfCount

	return &Histogram{
		lowestTrackableValue:        lowest,
		highestTrackableValue:       highest,
		significantFigures:          int64(sigfigs),
		unitMagnitude:               unitMagnitude,
		subBucketHalfCountMagnitude: subBucketHalfCountMagnitude,
		subBucketCount:              subBucketCount,
		subBucketHalfCount:          subBucketHalfCount,
		subBucketMask:               subBucketMask,
		bucketCount:                 bucketsNeeded,
		countsLen:                   countsLen,
		counts:                      make([]int64, countsLen),
	}, nil
}

// TotalCount returns the number of recorded values (sum of all bucket counts).
func (h *Histogram) TotalCount() int64 { return h.totalCount }

// SignificantFigures returns the configured value precision.
func (h *Histogram) SignificantFigures() int64 { return h.significantFigures }

// HighestTrackableValue returns the upper bound of the recordable range.
func (h *Histogram) HighestTrackableValue() int64 { return h.highestTrackableValue }

// LowestTrackableValue returns the smallest value recorded at full resolution.
func (h *Histogram) LowestTrackableValue() int64 { return h.lowestTrackableValue }

// HasOverflowed reports whether a bucket count or the total count has wrapped
// past the int64 representation. Once set it stays set.
func (h *Histogram) HasOverflowed() bool { return h.overflowed }

// RecordValue records a single value.
func (h *Histogram) RecordValue(value int64) error {
	return h.RecordValues(value, 1)
}

// RecordValues records count occurrences of value. Counts large enough to
// wrap the bucket's int64 representation set the overflow flag rather than
// failing, matching what a merge of many saturated histograms produces.
func (h *Histogram) RecordValues(value, count int64) error {
	idx := h.countsIndexFor(value)
	if idx < 0 || idx >= h.countsLen {
		return fmt.Errorf("value %d is out of range [0, %d]", value, h.highestTrackableValue)
	}
	h.counts[idx] += count
	h.totalCount += count
	if h.counts[idx] < 0 || h.totalCount < 0 {
		h.overflowed = true
	}
	return nil
}

// Merge folds every recorded value of from into h and returns the number of
// samples dropped because they fall outside h's trackable range.
func (h *Histogram) Merge(from *Histogram) (dropped int64) {
	it := from.RecordedValues()
	for it.Next() {
		step := it.Step()
		if h.RecordValues(step.ValueIteratedTo, step.CountAddedInThisStep) != nil {
			dropped += step.CountAddedInThisStep
		}
	}
	if from.overflowed {
		h.overflowed = true
	}
	return dropped
}

// ValueAtPercentile returns the value below which the given percentage of
// recorded values fall, rounded up to its equivalent-range boundary.
func (h *Histogram) ValueAtPercentile(percentile float64) int64 {
	if percentile > 100 {
		percentile = 100
	}
	countAtPercentile := int64((percentile/100)*float64(h.totalCount) + 0.5)
	if countAtPercentile < 1 {
		countAtPercentile = 1
	}

	var total int64
	for i := int32(0); i < h.countsLen; i++ {
		total += h.counts[i]
		if total >= countAtPercentile {
			return h.HighestEquivalentValue(h.valueFromIndex(i))
		}
	}
	return 0
}

// SizeOfEquivalentValueRange returns the width of the bucket that value
// falls into, i.e. how many distinct values the histogram counts identically.
func (h *Histogram) SizeOfEquivalentValueRange(value int64) int64 {
	bucketIdx := h.bucketIndex(value)
	subBucketIdx := h.subBucketIndex(value, bucketIdx)
	adjustedBucket := bucketIdx
	if subBucketIdx >= h.subBucketCount {
		adjustedBucket++
	}
	return int64(1) << uint(h.unitMagnitude+adjustedBucket)
}

// LowestEquivalentValue returns the smallest value equivalent to value.
func (h *Histogram) LowestEquivalentValue(value int64) int64 {
	bucketIdx := h.bucketIndex(value)
	subBucketIdx := h.subBucketIndex(value, bucketIdx)
	return int64(subBucketIdx) << uint(bucketIdx+h.unitMagnitude)
}

// NextNonEquivalentValue returns the smallest value not equivalent to value.
func (h *Histogram) NextNonEquivalentValue(value int64) int64 {
	return h.LowestEquivalentValue(value) + h.SizeOfEquivalentValueRange(value)
}

// HighestEquivalentValue returns the largest value equivalent to value.
func (h *Histogram) HighestEquivalentValue(value int64) int64 {
	return h.NextNonEquivalentValue(value) - 1
}

// MedianEquivalentValue returns the midpoint of value's equivalent range.
// This is the best single-point estimate for every sample folded into the
// bucket, which is why the mean and stddev traversals use it.
func (h *Histogram) MedianEquivalentValue(value int64) int64 {
	return h.LowestEquivalentValue(value) + (h.SizeOfEquivalentValueRange(value) >> 1)
}

// ValuesAreEquivalent reports whether a and b land in the same bucket.
func (h *Histogram) ValuesAreEquivalent(a, b int64) bool {
	return h.LowestEquivalentValue(a) == h.LowestEquivalentValue(b)
}

func (h *Histogram) bucketIndex(value int64) int32 {
	pow2Ceiling := int32(64 - bits.LeadingZeros64(uint64(value|h.subBucketMask)))
	return pow2Ceiling - h.unitMagnitude - (h.subBucketHalfCountMagnitude + 1)
}

func (h *Histogram) subBucketIndex(value int64, bucketIdx int32) int32 {
	return int32(value >> uint(bucketIdx+h.unitMagnitude))
}

func (h *Histogram) countsIndexFor(value int64) int32 {
	if value < 0 {
		return -1
	}
	bucketIdx := h.bucketIndex(value)
	subBucketIdx := h.subBucketIndex(value, bucketIdx)
	bucketBaseIdx := (bucketIdx + 1) << uint(h.subBucketHalfCountMagnitude)
	return bucketBaseIdx + subBucketIdx - h.subBucketHalfCount
}

func (h *Histogram) valueFromIndex(index int32) int64 {
	bucketIdx := (index >> uint(h.subBucketHalfCountMagnitude)) - 1
	subBucketIdx := (index & (h.subBucketHalfCount - 1)) + h.subBucketHalfCount
	if bucketIdx < 0 {
		subBucketIdx -= h.subBucketHalfCount
		bucketIdx = 0
	}
	return int64(subBucketIdx) << uint(bucketIdx+h.unitMagnitude)
}
