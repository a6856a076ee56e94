package optimize

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/runningwild/tailspin/pkg/config"
	"github.com/runningwild/tailspin/pkg/engine"
)

type AnnealingOptimizer struct {
	eval *Evaluator
	cfg  *config.Config
	rnd  *rand.Rand
}

func NewAnnealing(eng engine.Engine, cfg *config.Config) *AnnealingOptimizer {
	return &AnnealingOptimizer{
		eval: NewEvaluator(eng, cfg),
		cfg:  cfg,
		rnd:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// History exposes every evaluated state so callers can dump a run report.
func (ao *AnnealingOptimizer) History() []HistoryEntry { return ao.eval.History() }

func (ao *AnnealingOptimizer) Optimize() (State, engine.Result, error) {
	// 1. Initial State
	current := ao.randomState()
	currentRes, currentScore, reason, err := ao.eval.Evaluate(current)
	if err != nil {
		return nil, engine.Result{}, err
	}

	best := current
	bestRes := currentRes
	bestScore := currentScore

	// Annealing Parameters from config
	temp := ao.cfg.Settings.InitialTemp
	coolingRate := ao.cfg.Settings.CoolingRate
	minTemp := ao.cfg.Settings.MinTemp
	stepsPerTemp := ao.cfg.Settings.StepsPerTemp
	restartInterval := ao.cfg.Settings.RestartInterval

	fmt.Printf("Initial State: %v, Score: %.2f (%s), Temp: %.1f %s\n",
		current, currentScore, ao.eval.FormatMetrics(currentRes), temp, reason)

	step := 0
	stepsSinceImprovement := 0
	for temp > minTemp {
		for i := 0; i < stepsPerTemp; i++ {
			step++
			stepsSinceImprovement++

			// 2. Neighbor Selection
			neighbor := ao.neighbor(current, temp/ao.cfg.Settings.InitialTemp)

			// 3. Evaluation
			res, score, reason, err := ao.eval.Evaluate(neighbor)
			if err != nil {
				return nil, engine.Result{}, fmt.Errorf("evaluation failed at state %v: %w", neighbor, err)
			}

			// 4. Acceptance Probability
			delta := score - currentScore
			acceptance := 0.0
			if delta > 0 {
				acceptance = 1.0
			} else {
				exponent := delta / temp
				if exponent < -700 {
					acceptance = 0.0
				} else {
					acceptance = math.Exp(exponent)
				}
			}

			status := "Rejected"
			if acceptance > ao.rnd.Float64() {
				current = neighbor
				currentScore = score
				currentRes = res
				status = "Accepted"

				if score > bestScore {
					best = neighbor
					bestScore = score
					bestRes = res
					status = "NEW BEST"
					stepsSinceImprovement = 0
				}
			}

			if reason != "" {
				status = reason
			}

			fmt.Printf("[Step %3d] T=%7.2f %v => Score: %8.2f (%s) [%s]\n",
				step, temp, neighbor, score, ao.eval.FormatMetrics(res), status)

			// Elitist Restart: if we haven't improved in a while, jump back to best
			if restartInterval > 0 && stepsSinceImprovement >= restartInterval {
				current = best
				currentScore = bestScore
				currentRes = bestRes
				stepsSinceImprovement = 0
				fmt.Printf("--- Restarting from Best State: %v ---\n", best)
			}
		}

		temp *= coolingRate
	}

	return best, bestRes, nil
}

func (ao *AnnealingOptimizer) randomState() State {
	s := make(State)
	for _, v := range ao.cfg.Search {
		if len(v.Values) > 0 {
			s[v.Name] = v.Values[ao.rnd.Intn(len(v.Values))]
		} else {
			// Range [min, max]
			span := v.Range[1] - v.Range[0]
			val := v.Range[0] + ao.rnd.Intn(span+1)
			s[v.Name] = val
		}
	}
	return s
}

func (ao *AnnealingOptimizer) neighbor(s State, tempRatio float64) State {
	next := cloneState(s)

	// Pick one variable to change
	idx := ao.rnd.Intn(len(ao.cfg.Search))
	v := ao.cfg.Search[idx]

	if len(v.Values) > 0 {
		// Pick random value from list
		next[v.Name] = v.Values[ao.rnd.Intn(len(v.Values))]
	} else {
		// Perturb within range.
		// Jump size scales with temperature ratio (1.0 at start, 0.0 at end)
		span := v.Range[1] - v.Range[0]

		maxJump := float64(span) * tempRatio
		if maxJump < 1 {
			maxJump = 1
		}

		jump := int(ao.rnd.NormFloat64() * maxJump)
		if jump == 0 {
			if ao.rnd.Intn(2) == 0 {
				jump = 1
			} else {
				jump = -1
			}
		}

		newVal := next[v.Name] + jump
		if newVal < v.Range[0] {
			newVal = v.Range[0]
		}
		if newVal > v.Range[1] {
			newVal = v.Range[1]
		}
		next[v.Name] = newVal
	}
	return next
}
