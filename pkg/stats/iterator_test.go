package stats

import (
	"errors"
	"math"
	"testing"
)

func TestRecordedValuesSteps(t *testing.T) {
	h, _ := New(1, 100000, 3)
	for _, v := range []int64{1, 1, 1, 1, 2, 2, 2, 3} {
		h.RecordValue(v)
	}

	want := []RecordedValueStep{
		{ValueIteratedTo: 1, CountAddedInThisStep: 4, TotalCountToThisValue: 4, TotalValueToThisValue: 4},
		{ValueIteratedTo: 2, CountAddedInThisStep: 3, TotalCountToThisValue: 7, TotalValueToThisValue: 10},
		{ValueIteratedTo: 3, CountAddedInThisStep: 1, TotalCountToThisValue: 8, TotalValueToThisValue: 13},
	}

	it := h.RecordedValues()
	var got []RecordedValueStep
	for it.Next() {
		got = append(got, it.Step())
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d steps, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestRecordedValuesRestartable(t *testing.T) {
	h, _ := New(1, 100000, 3)
	for i := int64(1); i <= 50; i++ {
		h.RecordValue(i * 7)
	}

	// Two cursors opened back to back must see identical sequences; a cursor
	// abandoned mid-traversal must not disturb a fresh one.
	first := h.RecordedValues()
	first.Next()
	first.Next()

	collect := func() []RecordedValueStep {
		var out []RecordedValueStep
		it := h.RecordedValues()
		for it.Next() {
			out = append(out, it.Step())
		}
		return out
	}
	a, b := collect(), collect()
	if len(a) != 50 || len(b) != 50 {
		t.Fatalf("expected 50 steps per traversal, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("traversals diverge at step %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestRecordedValuesEmpty(t *testing.T) {
	h, _ := New(1, 100000, 3)
	it := h.RecordedValues()
	if it.Next() {
		t.Error("empty histogram must produce no steps")
	}
	if it.Err() != nil {
		t.Errorf("empty traversal must not error, got %v", it.Err())
	}
}

func TestIterationSurfacesCountRange(t *testing.T) {
	h, _ := New(1, 100000, 3)
	h.RecordValue(10)
	h.RecordValues(500, math.MaxInt64)
	h.RecordValues(500, math.MaxInt64) // wraps the bucket count negative

	it := h.RecordedValues()
	for it.Next() {
	}
	if !errors.Is(it.Err(), ErrCountRange) {
		t.Errorf("expected ErrCountRange, got %v", it.Err())
	}
	if !h.HasOverflowed() {
		t.Error("overflow flag should be set alongside the iteration error")
	}
}
