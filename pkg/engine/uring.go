//go:build linux

package engine

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/godzie44/go-uring/uring"
	"golang.org/x/sys/unix"
)

// UringEngine drives io_uring with a fixed number of in-flight ops per
// worker. Completion latency for each op is recorded into the worker's
// histogram from submit time to reap time.
type UringEngine struct {
}

func NewUring() *UringEngine {
	return &UringEngine{}
}

func (e *UringEngine) Run(params Params) (*Result, error) {
	if params.BlockSize <= 0 {
		return nil, fmt.Errorf("invalid block size: %d", params.BlockSize)
	}

	numWorkers := params.Workers
	if numWorkers <= 0 {
		numWorkers = 1
	}
	qdPerWorker := params.QueueDepth / numWorkers
	if qdPerWorker <= 0 {
		qdPerWorker = 1
	}

	var wg sync.WaitGroup
	done := make(chan struct{})
	var opsCounter int64
	results := make(chan workerResult, numWorkers)

	start := time.Now()

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			results <- e.runUringWorker(id, params, qdPerWorker, done, &opsCounter)
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

func (e *UringEngine) runUringWorker(id int, params Params, qd int, done chan struct{}, opsCounter *int64) workerResult {
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

	ring, err := uring.New(uint32(qd))
	if err != nil {
		return workerResult{err: fmt.Errorf("failed to setup io_uring: %v", err)}
	}
	defer ring.Close()

	totalBufSize := params.BlockSize * qd
	alignedBlock, err := unix.Mmap(-1, 0, totalBufSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
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
	r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))

	var ioCount int64
	hist := newLatencyHistogram(params.SigFigs)

	startTimes := make([]time.Time, qd)
	inFlight := 0

	for {
		queued := 0
		for inFlight < qd {
			idx := inFlight

			offset := r.Int63n(maxBlocks) * int64(params.BlockSize)

			isRead := true
			if params.ReadPct < 100 {
				if params.ReadPct == 0 || r.Intn(100) >= params.ReadPct {
					isRead = false
				}
			}

			blockBuf := alignedBlock[idx*params.BlockSize : (idx+1)*params.BlockSize]

			var op uring.Operation
			if isRead {
				op = uring.Read(f.Fd(), blockBuf, uint64(offset))
			} else {
				op = uring.Write(f.Fd(), blockBuf, uint64(offset))
			}

			err := ring.QueueSQE(op, 0, uint64(idx))
			if err != nil {
				break
			}
			startTimes[idx] = time.Now()
			inFlight++
			queued++
		}

		if queued > 0 {
			for {
				_, err := ring.Submit()
				if err == nil || !isEINTR(err) {
					if err != nil {
						return workerResult{err: err}
					}
					break
				}
			}
		}

		var cqe *uring.CQEvent
		for {
			cqe, err = ring.WaitCQEvents(1)
			if err == nil || !isEINTR(err) {
				break
			}
		}
		if err != nil {
			return workerResult{err: err}
		}

		for cqe != nil {
			idx := int(cqe.UserData)
			if cqe.Res < 0 {
				return workerResult{err: syscall.Errno(-cqe.Res)}
			}

			_ = hist.RecordValue(time.Since(startTimes[idx]).Nanoseconds())
			ioCount++
			atomic.AddInt64(opsCounter, 1)
			inFlight--
			ring.SeenCQE(cqe)

			cqe, _ = ring.PeekCQE()
		}

		select {
		case <-done:
			return workerResult{ioCount: ioCount, hist: hist}
		default:
		}
	}
}

func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EINTR) {
		return true
	}
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		return sysErr.Err == syscall.EINTR
	}
	return false
}
