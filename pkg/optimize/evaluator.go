package optimize

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/runningwild/tailspin/pkg/config"
	"github.com/runningwild/tailspin/pkg/engine"
)

// State represents a specific configuration of variables.
type State map[string]int

// HistoryEntry records one evaluated state for reports.
type HistoryEntry struct {
	State  State
	Result engine.Result
	Score  float64
}

// Evaluator handles running tests and computing normalized scores. Results
// for repeated states accumulate in Cache, so re-visiting a state (annealing
// does this a lot) sharpens its statistics instead of discarding the old run:
// counts add up and the latency histograms are merged.
type Evaluator struct {
	eng          engine.Engine
	cfg          *config.Config
	initialScore float64

	Cache   map[string]engine.Result
	history []HistoryEntry
}

func NewEvaluator(eng engine.Engine, cfg *config.Config) *Evaluator {
	return &Evaluator{
		eng:   eng,
		cfg:   cfg,
		Cache: make(map[string]engine.Result),
	}
}

func (e *Evaluator) Evaluate(s State) (engine.Result, float64, string, error) {
	p := engine.Params{
		EngineType:  e.cfg.Settings.EngineType,
		Path:        e.cfg.Target,
		Direct:      e.cfg.Settings.Direct,
		ReadPct:     e.cfg.Settings.ReadPct,
		Rand:        e.cfg.Settings.Rand,
		MinRuntime:  e.cfg.Settings.MinRuntime,
		MaxRuntime:  e.cfg.Settings.MaxRuntime,
		ErrorTarget: e.cfg.Settings.ErrorTarget,
		SigFigs:     e.cfg.Report.SigFigs,
		BlockSize:   4096,
		Workers:     1,
		QueueDepth:  1,
	}

	if v, ok := s["block_size"]; ok {
		p.BlockSize = v
	}
	if v, ok := s["workers"]; ok {
		p.Workers = v
	}
	if v, ok := s["queue_depth"]; ok {
		p.QueueDepth = v
	}

	res, err := e.eng.Run(p)
	if err != nil {
		return engine.Result{}, 0, "", err
	}

	merged := *res
	key := e.hashState(s)
	if cached, found := e.Cache[key]; found {
		merged = mergeResults(cached, *res)
	}
	e.Cache[key] = merged

	raw, reason := e.calculateScore(merged)

	if e.initialScore <= 1 && reason == "" {
		e.initialScore = math.Abs(raw)
		if e.initialScore < 1 {
			e.initialScore = 1
		}
	}

	score := e.scaleScore(raw, reason)
	e.history = append(e.history, HistoryEntry{State: cloneState(s), Result: merged, Score: score})
	return merged, score, reason, nil
}

// History returns every evaluation in order.
func (e *Evaluator) History() []HistoryEntry { return e.history }

func (e *Evaluator) hashState(s State) string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for _, k := range keys {
		out += fmt.Sprintf("%s=%d;", k, s[k])
	}
	return out
}

func cloneState(s State) State {
	c := make(State, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// mergeResults folds a fresh run into the cached aggregate for the same
// state. Durations and counts add; latency distributions merge bucket-wise.
func mergeResults(a, b engine.Result) engine.Result {
	out := a
	out.TotalIOs = a.TotalIOs + b.TotalIOs
	out.Duration = a.Duration + b.Duration
	if out.Duration > 0 {
		out.IOPS = float64(out.TotalIOs) / out.Duration.Seconds()
	}
	out.Throughput = a.Throughput + (b.Throughput-a.Throughput)/2
	if b.MetricConfidence > 0 && (out.MetricConfidence == 0 || b.MetricConfidence < out.MetricConfidence) {
		out.MetricConfidence = b.MetricConfidence
	}
	out.TerminationReason = b.TerminationReason

	if a.Latency != nil && b.Latency != nil {
		a.Latency.Merge(b.Latency)
		out.Latency = a.Latency
		out.MeanLatency = time.Duration(out.Latency.Mean())
		out.P50Latency = time.Duration(out.Latency.ValueAtPercentile(50))
		out.P95Latency = time.Duration(out.Latency.ValueAtPercentile(95))
		out.P99Latency = time.Duration(out.Latency.ValueAtPercentile(99))
		out.P999Latency = time.Duration(out.Latency.ValueAtPercentile(99.9))
	} else if b.Latency != nil {
		out.Latency = b.Latency
	}
	return out
}

func (e *Evaluator) scaleScore(raw float64, reason string) float64 {
	if reason != "" {
		return -1000.0
	}
	return (raw / e.initialScore) * 1000.0
}

func (e *Evaluator) calculateScore(res engine.Result) (float64, string) {
	for _, obj := range e.cfg.Objectives {
		if obj.Type != "constraint" {
			continue
		}
		limitVal := parseLimit(obj.Limit)
		actual, ok := latencyMetric(res, obj.Metric)
		if !ok {
			continue
		}
		if actual > limitVal {
			return 0, fmt.Sprintf("Constraint Failed: %s (%v > %s)", obj.Metric, actual, obj.Limit)
		}
	}

	score := 0.0
	for _, obj := range e.cfg.Objectives {
		val := 0.0
		switch obj.Metric {
		case "iops":
			val = res.IOPS
		case "throughput":
			val = res.Throughput / 1024 / 1024
		case "p50_latency", "p95_latency", "p99_latency", "p999_latency":
			d, _ := latencyMetric(res, obj.Metric)
			val = -d.Seconds() * 1000
		}
		if obj.Type == "maximize" {
			score += val
		} else if obj.Type == "minimize" {
			score -= val
		}
	}
	return score, ""
}

func latencyMetric(res engine.Result, metric string) (time.Duration, bool) {
	switch metric {
	case "p50_latency":
		return res.P50Latency, true
	case "p95_latency":
		return res.P95Latency, true
	case "p99_latency":
		return res.P99Latency, true
	case "p999_latency":
		return res.P999Latency, true
	}
	return 0, false
}

func (e *Evaluator) FormatMetrics(res engine.Result) string {
	var parts []string
	for _, obj := range e.cfg.Objectives {
		switch obj.Metric {
		case "iops":
			parts = append(parts, fmt.Sprintf("IOPS: %.0f", res.IOPS))
		case "throughput":
			parts = append(parts, fmt.Sprintf("BW: %.2f MB/s", res.Throughput/1024/1024))
		case "p50_latency":
			parts = append(parts, fmt.Sprintf("P50: %v", res.P50Latency))
		case "p95_latency":
			parts = append(parts, fmt.Sprintf("P95: %v", res.P95Latency))
		case "p99_latency":
			parts = append(parts, fmt.Sprintf("P99: %v", res.P99Latency))
		case "p999_latency":
			parts = append(parts, fmt.Sprintf("P999: %v", res.P999Latency))
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("IOPS: %.0f", res.IOPS)
	}

	seen := make(map[string]bool)
	result := ""
	for _, p := range parts {
		if seen[p] {
			continue
		}
		seen[p] = true
		if result != "" {
			result += ", "
		}
		result += p
	}
	return result
}

func parseLimit(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err == nil {
		return d
	}
	f, err := strconv.ParseFloat(s, 64)
	if err == nil {
		return time.Duration(f)
	}
	return 0
}
