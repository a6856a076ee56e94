package engine

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/runningwild/tailspin/pkg/stats"
)

// SyncEngine issues blocking pread/pwrite calls from a pool of workers with a
// shared token bucket bounding the global queue depth. It is the portable
// fallback and the baseline the async engines are compared against.
type SyncEngine struct {
}

func NewSync() *SyncEngine {
	return &SyncEngine{}
}

func (e *SyncEngine) Run(params Params) (*Result, error) {
	if params.BlockSize <= 0 {
		return nil, fmt.Errorf("invalid block size: %d", params.BlockSize)
	}

	numWorkers := params.Workers
	if numWorkers <= 0 {
		numWorkers = 1
	}

	var wg sync.WaitGroup
	results := make(chan workerResult, numWorkers)
	done := make(chan struct{})
	var opsCounter int64

	// Token bucket for the global queue depth.
	qd := params.QueueDepth
	if qd <= 0 {
		qd = numWorkers
	}
	tokens := make(chan struct{}, qd)
	for i := 0; i < qd; i++ {
		tokens <- struct{}{}
	}

	start := time.Now()

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			defer wg.Done()
			results <- e.runWorker(id, params, tokens, done, &opsCounter)
		}(i)
	}

	relErr, reason := monitor(params, start, &opsCounter)

	close(done)
	wg.Wait()
	close(results)

	duration := time.Since(start)
	res, err := aggregate(results, duration, relErr, params)
	if err != nil {
		return nil, err
	}
	res.TerminationReason = reason
	return res, nil
}

// monitor samples the ops counter every 100ms, feeds Progress callbacks, and
// returns once the run converged (stderr/mean under ErrorTarget after
// MinRuntime) or hit MaxRuntime.
func monitor(params Params, start time.Time, opsCounter *int64) (relErr float64, reason string) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var iopsSamples []float64
	var lastOps int64
	lastTime := start

	for range ticker.C {
		now := time.Now()
		elapsed := now.Sub(start)
		currOps := atomic.LoadInt64(opsCounter)
		deltaOps := currOps - lastOps
		deltaTime := now.Sub(lastTime).Seconds()
		if deltaTime > 0 {
			iopsSamples = append(iopsSamples, float64(deltaOps)/deltaTime)
		}
		lastOps = currOps
		lastTime = now

		var mean, stdErr float64
		if len(iopsSamples) > 0 {
			mean, stdErr = calculateStats(iopsSamples)
		}
		if mean > 0 {
			relErr = stdErr / mean
		}

		if params.Progress != nil {
			params.Progress(Result{
				IOPS:             instantIOPS(iopsSamples, mean),
				MetricConfidence: relErr,
				Duration:         elapsed,
				TotalIOs:         currOps,
			})
		}

		if elapsed > params.MinRuntime {
			if len(iopsSamples) > 5 && mean > 0 && params.ErrorTarget > 0 {
				if relErr <= params.ErrorTarget {
					return relErr, "Converged"
				}
			}
		}
		if params.MaxRuntime > 0 && elapsed >= params.MaxRuntime {
			return relErr, "Timeout"
		}
	}
	return relErr, ""
}

// instantIOPS averages the last second of samples for display.
func instantIOPS(samples []float64, mean float64) float64 {
	const window = 10
	if len(samples) == 0 {
		return 0
	}
	if len(samples) < window {
		return mean
	}
	sum := 0.0
	for k := 0; k < window; k++ {
		sum += samples[len(samples)-1-k]
	}
	return sum / window
}

func calculateStats(samples []float64) (mean float64, stdErr float64) {
	sum := 0.0
	for _, x := range samples {
		sum += x
	}
	mean = sum / float64(len(samples))

	variance := 0.0
	for _, x := range samples {
		variance += (x - mean) * (x - mean)
	}
	stdDev := math.Sqrt(variance / float64(len(samples)))
	stdErr = stdDev / math.Sqrt(float64(len(samples)))
	return
}

type workerResult struct {
	ioCount int64
	hist    *stats.Histogram
	err     error
}

func (e *SyncEngine) runWorker(id int, params Params, tokens chan struct{}, done chan struct{}, opsCounter *int64) workerResult {
	flags := os.O_RDONLY
	if params.ReadPct < 100 {
		flags = os.O_RDWR
	}
	if params.Direct {
		flags |= syscall.O_DIRECT
	}

	f, err := os.OpenFile(params.Path, flags, 0666)
	if err != nil {
		return workerResult{err: err}
	}
	defer f.Close()

	alignedBlock, err := unix.Mmap(-1, 0, params.BlockSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return workerResult{err: fmt.Errorf("failed to allocate aligned memory: %v", err)}
	}
	defer unix.Munmap(alignedBlock)

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return workerResult{err: err}
	}
	maxBlocks := size / int64(params.BlockSize)
	if maxBlocks <= 0 {
		return workerResult{err: fmt.Errorf("file too small for block size")}
	}

	var ioCount int64
	hist := newLatencyHistogram(params.SigFigs)
	r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))

	// One reusable op closure: allocating it per iteration would fold the
	// allocation into the measured latency (see stats.Histogram.Time).
	var offset int64
	var isRead bool
	op := func() error {
		var opErr error
		if isRead {
			_, opErr = f.ReadAt(alignedBlock, offset)
		} else {
			_, opErr = f.WriteAt(alignedBlock, offset)
		}
		if opErr == io.EOF {
			return nil
		}
		return opErr
	}

	for {
		select {
		case <-done:
			return workerResult{ioCount: ioCount, hist: hist}
		case <-tokens:
			// Acquired token
		}

		if params.Rand {
			offset = r.Int63n(maxBlocks) * int64(params.BlockSize)
		} else {
			offset = (ioCount * int64(params.BlockSize)) % (maxBlocks * int64(params.BlockSize))
		}

		isRead = true
		if params.ReadPct < 100 {
			if params.ReadPct == 0 || r.Intn(100) >= params.ReadPct {
				isRead = false
			}
		}

		err := hist.Time(op)
		tokens <- struct{}{}

		if err != nil {
			return workerResult{err: err}
		}
		ioCount++
		atomic.AddInt64(opsCounter, 1)
	}
}

// aggregate merges all worker histograms and derives the run summary. A run
// where every worker failed is an error; partial failures keep the surviving
// workers' data.
func aggregate(results chan workerResult, duration time.Duration, relErr float64, params Params) (*Result, error) {
	var totalIOs int64
	var firstErr error
	var succeeded int
	merged := newLatencyHistogram(params.SigFigs)

	for res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		succeeded++
		totalIOs += res.ioCount
		if res.hist != nil {
			merged.Merge(res.hist)
		}
	}

	if succeeded == 0 && firstErr != nil {
		return nil, firstErr
	}

	res := &Result{
		TotalIOs:         totalIOs,
		Duration:         duration,
		MetricConfidence: relErr,
	}
	if duration > 0 {
		res.IOPS = float64(totalIOs) / duration.Seconds()
		res.Throughput = float64(totalIOs*int64(params.BlockSize)) / duration.Seconds()
	}
	summarize(res, merged)
	return res, nil
}
