package stats

import (
	"errors"
	"fmt"
)

// ErrCountRange is surfaced when a traversal hits a bucket count (or a
// cumulative count) that has wrapped past the int64 representation. Report
// generation downgrades it to a diagnostic when the histogram's overflow flag
// agrees; everything else must treat it as a hard failure.
var ErrCountRange = errors.New("histogram count outside representable range")

// RecordedValueStep is one unit of traversal over the histogram's non-empty
// buckets in increasing value order.
type RecordedValueStep struct {
	// ValueIteratedTo is the highest equivalent value of the bucket reached.
	ValueIteratedTo int64
	// CountAddedInThisStep is the bucket's own count.
	CountAddedInThisStep int64
	// TotalCountToThisValue is the cumulative count up to and including
	// this bucket.
	TotalCountToThisValue int64
	// TotalValueToThisValue is the cumulative sum of count*medianEquivalent
	// up to and including this bucket.
	TotalValueToThisValue int64
}

// RecordedValuesIterator walks the non-empty buckets of a histogram. Each
// call to RecordedValues opens an independent cursor; there is no shared
// iteration state, so traversals are restartable by simply opening another.
type RecordedValuesIterator struct {
	h          *Histogram
	index      int32
	totalCount int64
	totalValue int64
	step       RecordedValueStep
	err        error
}

// RecordedValues returns a fresh cursor over the recorded values.
func (h *Histogram) RecordedValues() *RecordedValuesIterator {
	return &RecordedValuesIterator{h: h, index: -1}
}

// Next advances to the next non-empty bucket. It returns false at the end of
// the sequence or on error; check Err after the loop.
func (it *RecordedValuesIterator) Next() bool {
	if it.err != nil {
		return false
	}
	for it.index+1 < it.h.countsLen {
		it.index++
		count := it.h.counts[it.index]
		if count == 0 {
			continue
		}
		if count < 0 {
			it.err = fmt.Errorf("%w: count %d at index %d", ErrCountRange, count, it.index)
			return false
		}
		value := it.h.valueFromIndex(it.index)
		it.totalCount += count
		it.totalValue += count * it.h.MedianEquivalentValue(value)
		if it.totalCount < 0 {
			it.err = fmt.Errorf("%w: cumulative count wrapped at value %d", ErrCountRange, value)
			return false
		}
		it.step = RecordedValueStep{
			ValueIteratedTo:       it.h.HighestEquivalentValue(value),
			CountAddedInThisStep:  count,
			TotalCountToThisValue: it.totalCount,
			TotalValueToThisValue: it.totalValue,
		}
		return true
	}
	return false
}

// Step returns the step reached by the last successful Next.
func (it *RecordedValuesIterator) Step() RecordedValueStep { return it.step }

// Err returns the error that terminated iteration, if any.
func (it *RecordedValuesIterator) Err() error { return it.err }
