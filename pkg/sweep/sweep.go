package sweep

import (
	"fmt"

	"github.com/runningwild/tailspin/pkg/analyze"
	"github.com/runningwild/tailspin/pkg/config"
	"github.com/runningwild/tailspin/pkg/engine"
	"github.com/runningwild/tailspin/pkg/optimize"
)

type Sweeper struct {
	eval *optimize.Evaluator
	cfg  *config.Config
}

func New(eng engine.Engine, cfg *config.Config) *Sweeper {
	return &Sweeper{
		eval: optimize.NewEvaluator(eng, cfg),
		cfg:  cfg,
	}
}

// Outcome bundles the swept curve with its transition analysis.
type Outcome struct {
	History    []optimize.HistoryEntry
	Knee       analyze.Point
	Analysis   analyze.Analysis
	Confidence float64
}

func (s *Sweeper) Run() (*Outcome, error) {
	// Identify the sweep variable. We expect exactly one variable with a
	// Range or more than one Value; extras are pinned to their first value.
	var sweepVar *config.Variable

	// Prepare base state
	state := make(optimize.State)

	for i := range s.cfg.Search {
		v := &s.cfg.Search[i]
		// Default to first value
		val := 0
		if len(v.Values) > 0 {
			val = v.Values[0]
		} else {
			val = v.Range[0]
		}
		state[v.Name] = val

		// Check if this is the one to sweep
		isSweep := false
		if len(v.Values) > 1 {
			isSweep = true
		} else if len(v.Values) == 0 && v.Range[1] > v.Range[0] {
			isSweep = true
		}

		if isSweep {
			if sweepVar == nil {
				sweepVar = v
			} else {
				// Two sweep variables would be a grid search; stick to the
				// first one found.
				fmt.Printf("Warning: Multiple sweep variables detected. Sweeping '%s', fixing '%s' to %d.\n",
					sweepVar.Name, v.Name, val)
			}
		}
	}

	if sweepVar == nil {
		return nil, fmt.Errorf("no variable defined with a range or multiple values to sweep")
	}

	fmt.Printf("Sweeping variable '%s' to find the knee...\n", sweepVar.Name)

	// Generate steps
	var steps []int
	if len(sweepVar.Values) > 0 {
		steps = sweepVar.Values
	} else {
		step := sweepVar.Step
		if step <= 0 {
			step = 1
		}
		for i := sweepVar.Range[0]; i <= sweepVar.Range[1]; i += step {
			steps = append(steps, i)
		}
	}

	var history []optimize.HistoryEntry
	var points []analyze.Point

	for i, val := range steps {
		state[sweepVar.Name] = val

		res, score, _, err := s.eval.Evaluate(state)
		if err != nil {
			return nil, err
		}

		fmt.Printf("[%d/%d] %s=%d -> IOPS: %.0f, P99: %v\n",
			i+1, len(steps), sweepVar.Name, val, res.IOPS, res.P99Latency)

		history = append(history, optimize.HistoryEntry{
			State:  copyState(state),
			Result: res,
			Score:  score,
		})

		// X = parameter value, Y = the primary metric (IOPS) for knee finding.
		points = append(points, analyze.Point{
			X:         float64(val),
			Y:         res.IOPS,
			OriginalX: val,
		})
	}

	detector := &analyze.Detector{LinearThreshold: 0.5, SatThreshold: 0.05}
	return &Outcome{
		History:    history,
		Knee:       analyze.FindKnee(points),
		Analysis:   detector.Analyze(points),
		Confidence: analyze.CalculateConfidence(points),
	}, nil
}

func copyState(s optimize.State) optimize.State {
	c := make(optimize.State)
	for k, v := range s {
		c[k] = v
	}
	return c
}
