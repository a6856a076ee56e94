package optimize

import (
	"testing"
	"time"

	"github.com/runningwild/tailspin/pkg/config"
	"github.com/runningwild/tailspin/pkg/engine"
	"github.com/runningwild/tailspin/pkg/stats"
)

type mockEngine struct {
	runFunc func(params engine.Params) (*engine.Result, error)
}

func (m *mockEngine) Run(params engine.Params) (*engine.Result, error) {
	return m.runFunc(params)
}

func TestEvaluator_Scoring(t *testing.T) {
	cfg := &config.Config{
		Objectives: []config.Objective{
			{Type: "maximize", Metric: "iops"},
			{Type: "constraint", Metric: "p99_latency", Limit: "10ms"},
		},
	}

	mock := &mockEngine{
		runFunc: func(params engine.Params) (*engine.Result, error) {
			return &engine.Result{
				IOPS:       1000,
				P99Latency: 5 * time.Millisecond,
				TotalIOs:   1000,
				Duration:   1 * time.Second,
			}, nil
		},
	}

	eval := NewEvaluator(mock, cfg)
	state := State{"workers": 1}

	_, score, reason, err := eval.Evaluate(state)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if reason != "" {
		t.Errorf("Expected valid run, got reason: %s", reason)
	}
	if score <= 0 {
		t.Errorf("Expected positive score for maximize IOPS, got %f", score)
	}
}

func TestEvaluator_ConstraintFailure(t *testing.T) {
	cfg := &config.Config{
		Objectives: []config.Objective{
			{Type: "maximize", Metric: "iops"},
			{Type: "constraint", Metric: "p99_latency", Limit: "10ms"},
		},
	}

	mock := &mockEngine{
		runFunc: func(params engine.Params) (*engine.Result, error) {
			return &engine.Result{
				IOPS:       2000,
				P99Latency: 20 * time.Millisecond, // Violates 10ms limit
				TotalIOs:   1000,
				Duration:   1 * time.Second,
			}, nil
		},
	}

	eval := NewEvaluator(mock, cfg)
	state := State{"workers": 2}

	_, score, reason, err := eval.Evaluate(state)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if reason == "" {
		t.Error("Expected failure reason for constraint violation, got empty")
	}
	if score != -1000.0 {
		t.Errorf("Expected failure score -1000, got %f", score)
	}
}

func TestEvaluator_Caching(t *testing.T) {
	cfg := &config.Config{
		Objectives: []config.Objective{{Type: "maximize", Metric: "iops"}},
	}

	callCount := 0
	mock := &mockEngine{
		runFunc: func(params engine.Params) (*engine.Result, error) {
			callCount++
			return &engine.Result{
				IOPS:     1000,
				TotalIOs: 100,
				Duration: 1 * time.Second,
			}, nil
		},
	}

	eval := NewEvaluator(mock, cfg)
	state := State{"workers": 1}

	// Revisiting a state still runs the engine (more samples), but the
	// cached result aggregates across runs.
	eval.Evaluate(state)
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}

	eval.Evaluate(state)
	if callCount != 2 {
		t.Errorf("Expected 2 calls, got %d", callCount)
	}

	key := eval.hashState(state)
	cached := eval.Cache[key]
	if cached.TotalIOs != 200 { // 100 + 100
		t.Errorf("Expected aggregated TotalIOs=200, got %d", cached.TotalIOs)
	}

	if len(eval.History()) != 2 {
		t.Errorf("Expected 2 history entries, got %d", len(eval.History()))
	}
}

func TestEvaluator_MergesLatencyAcrossRuns(t *testing.T) {
	cfg := &config.Config{
		Objectives: []config.Objective{{Type: "maximize", Metric: "iops"}},
	}

	// Each run records 100 samples at a distinct latency so the merged
	// distribution is easy to check.
	sample := int64(time.Millisecond)
	mock := &mockEngine{
		runFunc: func(params engine.Params) (*engine.Result, error) {
			h, err := stats.New(1, int64(time.Hour), 3)
			if err != nil {
				return nil, err
			}
			if err := h.RecordValues(sample, 100); err != nil {
				return nil, err
			}
			sample *= 2
			return &engine.Result{
				IOPS:     1000,
				TotalIOs: 100,
				Duration: 1 * time.Second,
				Latency:  h,
			}, nil
		},
	}

	eval := NewEvaluator(mock, cfg)
	state := State{"queue_depth": 8}

	eval.Evaluate(state)
	merged, _, _, err := eval.Evaluate(state)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if merged.Latency == nil {
		t.Fatal("Expected merged latency histogram")
	}
	if got := merged.Latency.TotalCount(); got != 200 {
		t.Errorf("Expected merged histogram count 200, got %d", got)
	}
	// Half the samples at 1ms, half at 2ms: the median sits at the 1ms
	// bucket and P99 at the 2ms bucket.
	if merged.P50Latency >= merged.P99Latency {
		t.Errorf("P50 (%v) should be below P99 (%v) after merge", merged.P50Latency, merged.P99Latency)
	}
}
