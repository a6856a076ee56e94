package cluster

import (
	"testing"
	"time"

	"github.com/runningwild/tailspin/pkg/engine"
	"github.com/runningwild/tailspin/pkg/stats"
)

func histWith(t *testing.T, value int64, count int64) *stats.Histogram {
	t.Helper()
	h, err := stats.New(1, int64(time.Hour), 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.RecordValues(value, count); err != nil {
		t.Fatal(err)
	}
	return h
}

func TestAggregateMergesHistograms(t *testing.T) {
	c := New([]string{"a", "b"}, nil)

	results := []*engine.Result{
		{
			IOPS:     1000,
			TotalIOs: 1000,
			Duration: time.Second,
			Latency:  histWith(t, int64(1*time.Millisecond), 1000),
		},
		{
			IOPS:     500,
			TotalIOs: 500,
			Duration: time.Second,
			Latency:  histWith(t, int64(4*time.Millisecond), 500),
		},
	}

	agg := c.aggregate(results)

	if agg.TotalIOs != 1500 {
		t.Errorf("TotalIOs = %d, want 1500", agg.TotalIOs)
	}
	if agg.IOPS != 1500 {
		t.Errorf("IOPS = %f, want 1500", agg.IOPS)
	}
	if agg.Latency == nil {
		t.Fatal("expected merged latency histogram")
	}
	if agg.Latency.TotalCount() != 1500 {
		t.Errorf("merged count = %d, want 1500", agg.Latency.TotalCount())
	}
	// 1000 ops at 1ms and 500 at 4ms: the true P99 is in the 4ms bucket, which
	// a per-node weighted average of P99s (both ~their own value) cannot give.
	if agg.P99Latency < 3*time.Millisecond {
		t.Errorf("P99 = %v, want the 4ms tail to dominate", agg.P99Latency)
	}
	if agg.P50Latency > 2*time.Millisecond {
		t.Errorf("P50 = %v, want the 1ms bulk to dominate", agg.P50Latency)
	}

	// Aggregation must not fold other nodes' samples into a node's own
	// result histogram.
	if got := results[0].Latency.TotalCount(); got != 1000 {
		t.Errorf("node 0 histogram mutated by aggregation: count %d, want 1000", got)
	}
	if got := results[1].Latency.TotalCount(); got != 500 {
		t.Errorf("node 1 histogram mutated by aggregation: count %d, want 500", got)
	}
}

func TestAggregateFallsBackToWeightedPercentiles(t *testing.T) {
	c := New([]string{"a"}, []string{"fio1"})

	// One node with a histogram, one without (fio-style result): the weighted
	// approximation is all we can do.
	results := []*engine.Result{
		{
			IOPS:       1000,
			TotalIOs:   1000,
			P99Latency: 1 * time.Millisecond,
			Latency:    histWith(t, int64(1*time.Millisecond), 1000),
		},
		{
			IOPS:       1000,
			TotalIOs:   1000,
			P99Latency: 3 * time.Millisecond,
		},
	}

	agg := c.aggregate(results)

	if agg.Latency != nil {
		t.Error("partial histogram coverage should not produce a merged distribution")
	}
	want := 2 * time.Millisecond
	if agg.P99Latency != want {
		t.Errorf("weighted P99 = %v, want %v", agg.P99Latency, want)
	}
}
