package fio

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/runningwild/tailspin/pkg/engine"
)

// GenerateJob creates a FIO job file matching the given engine params.
func GenerateJob(p engine.Params) string {
	var sb strings.Builder

	sb.WriteString("[global]\n")

	// Engine mapping
	switch p.EngineType {
	case "uring":
		sb.WriteString("ioengine=io_uring\n")
	case "libaio":
		sb.WriteString("ioengine=libaio\n")
	case "sync":
		sb.WriteString("ioengine=sync\n")
	default:
		sb.WriteString("ioengine=libaio\n") // Default fallback
	}

	sb.WriteString(fmt.Sprintf("filename=%s\n", p.Path))
	sb.WriteString(fmt.Sprintf("bs=%d\n", p.BlockSize))

	if p.Direct {
		sb.WriteString("direct=1\n")
	} else {
		sb.WriteString("direct=0\n")
	}

	// Read/Write Mix
	if p.ReadPct == 100 {
		if p.Rand {
			sb.WriteString("rw=randread\n")
		} else {
			sb.WriteString("rw=read\n")
		}
	} else if p.ReadPct == 0 {
		if p.Rand {
			sb.WriteString("rw=randwrite\n")
		} else {
			sb.WriteString("rw=write\n")
		}
	} else {
		if p.Rand {
			sb.WriteString("rw=randrw\n")
		} else {
			sb.WriteString("rw=rw\n")
		}
		sb.WriteString(fmt.Sprintf("rwmixread=%d\n", p.ReadPct))
	}

	// Concurrency mapping: our Workers -> numjobs, our QueueDepth is the
	// total slots per node while fio's iodepth is slots per job.
	iodepth := 1
	if p.Workers > 0 && p.QueueDepth > 0 {
		iodepth = p.QueueDepth / p.Workers
		if iodepth < 1 {
			iodepth = 1
		}
	}

	sb.WriteString(fmt.Sprintf("numjobs=%d\n", p.Workers))
	sb.WriteString(fmt.Sprintf("iodepth=%d\n", iodepth))

	if p.Workers > 1 {
		sb.WriteString("group_reporting\n")
	}

	// FIO time_based requires a runtime; use MaxRuntime.
	dur := p.MaxRuntime
	if dur == 0 {
		dur = 10 * time.Second
	}

	sb.WriteString("time_based\n")
	sb.WriteString(fmt.Sprintf("runtime=%ds\n", int(dur.Seconds())))

	sb.WriteString("\n[tailspin_job]\n")
	return sb.String()
}

// Structures for parsing FIO JSON output
type FioOutput struct {
	Jobs        []FioJob `json:"jobs"`
	ClientStats []FioJob `json:"client_stats"`
}

type FioJob struct {
	Read  FioStats `json:"read"`
	Write FioStats `json:"write"`
}

type FioStats struct {
	IOPS     float64     `json:"iops"`
	TotalIOS int64       `json:"total_ios"`
	ClatNs   FioLatStats `json:"clat_ns"` // Completion latency
}

type FioLatStats struct {
	Mean       float64           `json:"mean"`
	Percentile map[string]uint64 `json:"percentile"` // e.g. "99.000000": 1234
}

func ParseOutput(jsonData []byte, duration time.Duration) (*engine.Result, error) {
	var out FioOutput
	if err := json.Unmarshal(jsonData, &out); err != nil {
		return nil, err
	}

	jobs := out.Jobs
	if len(jobs) == 0 {
		jobs = out.ClientStats
	}

	res := &engine.Result{
		Duration: duration,
	}

	var totalReadIOs, totalWriteIOs int64
	var totalReadIOPS, totalWriteIOPS float64

	// FIO percentile keys are fixed-format strings like "99.000000".
	getPerc := func(m map[string]uint64, target string) time.Duration {
		if v, ok := m[target]; ok {
			return time.Duration(v) * time.Nanosecond
		}
		return 0
	}

	// With group_reporting there is a single job block summarizing
	// everything; latencies are weighted across the read and write halves.
	for _, j := range jobs {
		totalReadIOs += j.Read.TotalIOS
		totalWriteIOs += j.Write.TotalIOS

		totalReadIOPS += j.Read.IOPS
		totalWriteIOPS += j.Write.IOPS

		rCount := float64(j.Read.TotalIOS)
		wCount := float64(j.Write.TotalIOS)
		total := rCount + wCount
		if total == 0 {
			continue
		}

		rMean := j.Read.ClatNs.Mean
		wMean := j.Write.ClatNs.Mean
		res.MeanLatency = time.Duration((rMean*rCount + wMean*wCount) / total)

		weighted := func(key string) time.Duration {
			r := getPerc(j.Read.ClatNs.Percentile, key)
			w := getPerc(j.Write.ClatNs.Percentile, key)
			return time.Duration((float64(r)*rCount + float64(w)*wCount) / total)
		}
		res.P50Latency = weighted("50.000000")
		res.P95Latency = weighted("95.000000")
		res.P99Latency = weighted("99.000000")
		res.P999Latency = weighted("99.900000")
	}

	res.TotalIOs = totalReadIOs + totalWriteIOs
	res.IOPS = totalReadIOPS + totalWriteIOPS

	return res, nil
}
