package engine

import (
	"time"

	"github.com/runningwild/tailspin/pkg/stats"
)

// Engine executes an I/O workload and summarizes the outcome.
type Engine interface {
	Run(params Params) (*Result, error)
}

// New returns the engine implementation for the given type. Unknown types
// fall back to the portable sync engine.
func New(engType string) Engine {
	switch engType {
	case "uring":
		return NewUring()
	case "libaio":
		return NewLibAIO()
	default:
		return NewSync()
	}
}

// Params defines the parameters for an I/O workload.
type Params struct {
	EngineType string // "sync", "uring", or "libaio"
	Path       string // Path to the device or file
	BlockSize  int    // Size of each I/O in bytes
	Direct     bool   // Use O_DIRECT
	ReadPct    int    // Read percentage (0-100)
	Rand       bool   // True for random, false for sequential
	Workers    int    // Number of concurrent workers
	QueueDepth int    // Target queue depth across all workers

	MinRuntime  time.Duration // Minimum runtime before convergence checks
	MaxRuntime  time.Duration // Hard runtime cap
	ErrorTarget float64       // Stop when stderr/mean of IOPS drops below this

	// SigFigs sets the latency histogram precision (default 3).
	SigFigs int

	// Progress, if set, receives periodic snapshots during the run.
	Progress func(r Result) `json:"-"`

	// TraceChannel, if set, receives per-op spans for sustain analysis.
	TraceChannel chan TraceMsg `json:"-"`
}

// Span is one completed I/O, in wall-clock nanoseconds.
type Span struct {
	Start int64
	End   int64
}

// TraceMsg batches spans from one worker. MinStart is the earliest start
// time still in flight, bounding how far the consumer may safely process.
type TraceMsg struct {
	WorkerID int
	Spans    []Span
	MinStart int64
}

// Result contains the metrics for a specific test run. Latency carries the
// full merged distribution; the fixed percentile fields are derived from it
// for callers that only need headline numbers.
type Result struct {
	IOPS              float64
	Throughput        float64 // Bytes per second
	TotalIOs          int64
	Duration          time.Duration
	MetricConfidence  float64 // Relative stderr of the IOPS samples
	TerminationReason string

	Latency *stats.Histogram `json:"latency,omitempty"`

	MeanLatency time.Duration
	P50Latency  time.Duration
	P95Latency  time.Duration
	P99Latency  time.Duration
	P999Latency time.Duration
}

// newLatencyHistogram allocates the per-worker recording histogram:
// nanosecond units, up to an hour per op.
func newLatencyHistogram(sigfigs int) *stats.Histogram {
	if sigfigs < 1 || sigfigs > 5 {
		sigfigs = 3
	}
	h, _ := stats.New(1, int64(time.Hour), sigfigs)
	return h
}

// summarize fills the derived latency fields of res from h.
func summarize(res *Result, h *stats.Histogram) {
	res.Latency = h
	if h.TotalCount() == 0 {
		return
	}
	res.MeanLatency = time.Duration(h.Mean())
	res.P50Latency = time.Duration(h.ValueAtPercentile(50))
	res.P95Latency = time.Duration(h.ValueAtPercentile(95))
	res.P99Latency = time.Duration(h.ValueAtPercentile(99))
	res.P999Latency = time.Duration(h.ValueAtPercentile(99.9))
}
