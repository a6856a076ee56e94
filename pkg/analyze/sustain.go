package analyze

import (
	"container/heap"
	"math"

	"github.com/runningwild/tailspin/pkg/engine"
	"github.com/runningwild/tailspin/pkg/stats"
)

type EventType int

const (
	EventStart EventType = 1
	EventEnd   EventType = -1
)

type Event struct {
	Time int64
	Type EventType
	Rate float64 // The rate contribution (1/Duration)
}

// Priority Queue for Events
type EventPQ []*Event

func (pq EventPQ) Len() int { return len(pq) }
func (pq EventPQ) Less(i, j int) bool {
	if pq[i].Time == pq[j].Time {
		// Process Ends before Starts when spans abut exactly, so the
		// instantaneous rate dips instead of spiking.
		return pq[i].Type < pq[j].Type
	}
	return pq[i].Time < pq[j].Time
}
func (pq EventPQ) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i] }
func (pq *EventPQ) Push(x interface{}) { *pq = append(*pq, x.(*Event)) }
func (pq *EventPQ) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[0 : n-1]
	return item
}

// SustainAnalyzer replays completion spans from the engine trace channel and
// bins wall-clock time by the instantaneous IOPS rate. The bins live in a
// value-bucketed histogram (value = IOPS level, count = nanoseconds spent
// there), which keeps memory bounded even for very spiky runs.
type SustainAnalyzer struct {
	traceCh         chan engine.TraceMsg
	expectedWorkers int
	workerMinStarts map[int]int64

	eventPQ     EventPQ
	currentRate float64
	lastTime    int64

	rateProfile *stats.Histogram
	idleNanos   int64 // time at zero rate; below the histogram's trackable range
}

const maxTrackableIOPS = 1_000_000_000

func NewSustainAnalyzer(ch chan engine.TraceMsg, workers int) *SustainAnalyzer {
	hist, err := stats.New(1, maxTrackableIOPS, 3)
	if err != nil {
		panic(err)
	}
	return &SustainAnalyzer{
		traceCh:         ch,
		expectedWorkers: workers,
		workerMinStarts: make(map[int]int64),
		eventPQ:         make(EventPQ, 0),
		rateProfile:     hist,
	}
}

func (a *SustainAnalyzer) Run() {
	heap.Init(&a.eventPQ)

	for msg := range a.traceCh {
		a.processMsg(msg)
	}
	a.flush()
}

func (a *SustainAnalyzer) processMsg(msg engine.TraceMsg) {
	// 1. Update MinStart for this worker
	a.workerMinStarts[msg.WorkerID] = msg.MinStart

	// 2. Add Spans to PQ
	for _, s := range msg.Spans {
		dur := s.End - s.Start
		if dur <= 0 {
			continue
		}
		rate := 1e9 / float64(dur) // IOPS contribution

		heap.Push(&a.eventPQ, &Event{Time: s.Start, Type: EventStart, Rate: rate})
		heap.Push(&a.eventPQ, &Event{Time: s.End, Type: EventEnd, Rate: rate})
	}

	// 3. Determine Safe Horizon.
	// We can only process events up to the MINIMUM of all workers' MinStart,
	// because a worker might yet report a request starting at that time.
	if len(a.workerMinStarts) < a.expectedWorkers {
		return // Not all workers reported yet
	}

	safeHorizon := int64(math.MaxInt64)
	for _, t := range a.workerMinStarts {
		if t < safeHorizon {
			safeHorizon = t
		}
	}

	// 4. Process events up to SafeHorizon
	a.processEventsUntil(safeHorizon)
}

func (a *SustainAnalyzer) flush() {
	// Process everything remaining in PQ
	a.processEventsUntil(math.MaxInt64)
}

func (a *SustainAnalyzer) processEventsUntil(limit int64) {
	for a.eventPQ.Len() > 0 {
		evt := a.eventPQ[0] // Peek
		if evt.Time > limit {
			break
		}
		heap.Pop(&a.eventPQ)

		// Advance time
		if evt.Time > a.lastTime {
			delta := evt.Time - a.lastTime
			if delta > 0 {
				a.recordRate(delta)
			}
			a.lastTime = evt.Time
		}

		// Apply rate change
		if evt.Type == EventStart {
			a.currentRate += evt.Rate
		} else {
			a.currentRate -= evt.Rate
		}

		// Fix floating point drift near zero
		if a.currentRate < 0.001 {
			a.currentRate = 0
		}
	}
}

func (a *SustainAnalyzer) recordRate(deltaNanos int64) {
	bin := int64(math.Round(a.currentRate))
	if bin < 1 {
		a.idleNanos += deltaNanos
		return
	}
	if bin > maxTrackableIOPS {
		bin = maxTrackableIOPS
	}
	// Cannot fail: bin is clamped to the trackable range.
	_ = a.rateProfile.RecordValues(bin, deltaNanos)
}

// GetProfile returns the stability curve as (Duration -> MinIOPS): a point
// (x, y) means the run sustained at least y IOPS for a total of x seconds.
// That is the inverse cumulative distribution of the rate bins, so we walk
// the recorded bins from the highest rate down, accumulating duration.
func (a *SustainAnalyzer) GetProfile() []Point {
	type bin struct {
		rate int64
		dur  int64
	}
	var bins []bin

	it := a.rateProfile.RecordedValues()
	for it.Next() {
		step := it.Step()
		bins = append(bins, bin{rate: step.ValueIteratedTo, dur: step.CountAddedInThisStep})
	}
	if it.Err() != nil {
		return nil
	}

	var points []Point
	var accumDuration int64

	for i := len(bins) - 1; i >= 0; i-- {
		accumDuration += bins[i].dur
		durSec := float64(accumDuration) / 1e9
		points = append(points, Point{X: durSec, Y: float64(bins[i].rate)})
	}

	if a.idleNanos > 0 {
		accumDuration += a.idleNanos
		points = append(points, Point{X: float64(accumDuration) / 1e9, Y: 0})
	}

	return points
}
