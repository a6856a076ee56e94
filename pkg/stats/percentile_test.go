package stats

import (
	"math"
	"testing"
)

func TestPercentilesTerminateAt100(t *testing.T) {
	h, _ := New(1, 3600000000, 3)
	for i := int64(0); i < 10000; i++ {
		h.RecordValue(i%997 + 1)
	}

	it := h.Percentiles(5)
	var last PercentileCheckpoint
	prev := -1.0
	n := 0
	for it.Next() {
		cp := it.Checkpoint()
		if cp.PercentileLevelIteratedTo < prev {
			t.Errorf("percentile level went backwards: %f after %f",
				cp.PercentileLevelIteratedTo, prev)
		}
		if cp.PercentileLevelIteratedFrom != prev && n > 0 {
			t.Errorf("From = %f, want previous To = %f", cp.PercentileLevelIteratedFrom, prev)
		}
		prev = cp.PercentileLevelIteratedTo
		last = cp
		n++
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}
	if last.PercentileLevelIteratedTo != 100.0 {
		t.Errorf("final checkpoint at %f, want exactly 100.0", last.PercentileLevelIteratedTo)
	}
	if last.TotalCountToThisValue != h.TotalCount() {
		t.Errorf("final cumulative count %d, want %d", last.TotalCountToThisValue, h.TotalCount())
	}
}

func TestPercentilesTerminateOnHugeCounts(t *testing.T) {
	// A bucket holding nearly the whole (enormous) total drives the tick
	// spacing near 100% below one ulp of the target, where adding the
	// increment stops changing it. The iterator must saturate the schedule
	// instead of re-emitting the same step forever, and the step that
	// actually exhausts the count must still close the sequence at 100%.
	h, _ := New(1, 100000, 3)
	if err := h.RecordValues(1, 1<<60); err != nil {
		t.Fatal(err)
	}
	if err := h.RecordValue(2); err != nil {
		t.Fatal(err)
	}

	it := h.Percentiles(5)
	var last PercentileCheckpoint
	n := 0
	for it.Next() {
		n++
		if n > 10000 {
			t.Fatal("percentile iteration did not terminate")
		}
		last = it.Checkpoint()
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}
	if last.PercentileLevelIteratedTo != 100.0 {
		t.Errorf("final level = %v, want exactly 100.0", last.PercentileLevelIteratedTo)
	}
	if last.TotalCountToThisValue != h.TotalCount() {
		t.Errorf("final cumulative count %d, want %d", last.TotalCountToThisValue, h.TotalCount())
	}
	if last.ValueIteratedTo != h.HighestEquivalentValue(2) {
		t.Errorf("final value = %d, want %d", last.ValueIteratedTo, h.HighestEquivalentValue(2))
	}
}

func TestPercentilesEmptyHistogram(t *testing.T) {
	h, _ := New(1, 100000, 3)
	it := h.Percentiles(5)
	if it.Next() {
		t.Error("empty histogram must produce an empty percentile sequence")
	}
	if it.Err() != nil {
		t.Errorf("unexpected error: %v", it.Err())
	}
}

func TestPercentileTickSpacingHalves(t *testing.T) {
	// With one tick per half distance the scheduled levels are
	// 0, 50, 75, 87.5, ... so the checkpoint count before the final 100%
	// line grows with log2 of the count spread, not linearly.
	h, _ := New(1, 100000, 3)
	for i := int64(1); i <= 1024; i++ {
		h.RecordValue(i)
	}

	it := h.Percentiles(1)
	n := 0
	for it.Next() {
		n++
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}
	// log2(1024) = 10 halvings plus the 0% tick and the final 100% line.
	if n < 10 || n > 13 {
		t.Errorf("got %d checkpoints for 1024 uniform values at 1 tick/half, want ~12", n)
	}
}

func TestPercentilesRepeatValueAcrossTicks(t *testing.T) {
	// One dominant value should be reported once per tick it satisfies,
	// not skipped; values past the last tick must still appear at 100%.
	h, _ := New(1, 100000, 3)
	h.RecordValues(10, 99)
	h.RecordValue(5000)

	it := h.Percentiles(5)
	var values []int64
	var levels []float64
	for it.Next() {
		cp := it.Checkpoint()
		values = append(values, cp.ValueIteratedTo)
		levels = append(levels, cp.PercentileLevelIteratedTo)
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}

	seen10 := 0
	for i, v := range values {
		if v == h.HighestEquivalentValue(10) {
			seen10++
			if levels[i] >= 100.0 {
				t.Errorf("value 10 (99%% of mass) reported at 100%%")
			}
		}
	}
	if seen10 < 2 {
		t.Errorf("dominant value reported %d times, want one line per satisfied tick", seen10)
	}
	if values[len(values)-1] != h.HighestEquivalentValue(5000) {
		t.Errorf("final checkpoint value = %d, want %d",
			values[len(values)-1], h.HighestEquivalentValue(5000))
	}
	if levels[len(levels)-1] != 100.0 {
		t.Errorf("final level = %f, want 100.0", levels[len(levels)-1])
	}
}

func TestPercentilesRestartable(t *testing.T) {
	h, _ := New(1, 100000, 3)
	for i := int64(1); i <= 300; i++ {
		h.RecordValue(i)
	}

	run := func() []PercentileCheckpoint {
		var out []PercentileCheckpoint
		it := h.Percentiles(5)
		for it.Next() {
			out = append(out, it.Checkpoint())
		}
		return out
	}
	a, b := run(), run()
	if len(a) == 0 || len(a) != len(b) {
		t.Fatalf("traversal lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("checkpoint %d differs across traversals: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestPercentileActualLevel(t *testing.T) {
	h, _ := New(1, 100000, 3)
	h.RecordValues(1, 3)
	h.RecordValue(2)

	it := h.Percentiles(1)
	if !it.Next() {
		t.Fatal("expected at least one checkpoint")
	}
	cp := it.Checkpoint()
	if got := cp.Percentile(h.TotalCount()); math.Abs(got-75.0) > 1e-9 {
		t.Errorf("actual percentile = %f, want 75", got)
	}
}
