package fio

import (
	"strings"
	"testing"
	"time"

	"github.com/runningwild/tailspin/pkg/engine"
)

func TestGenerateJobMapping(t *testing.T) {
	p := engine.Params{
		EngineType: "uring",
		Path:       "/dev/nvme0n1",
		BlockSize:  8192,
		Direct:     true,
		ReadPct:    70,
		Rand:       true,
		Workers:    4,
		QueueDepth: 32,
		MaxRuntime: 30 * time.Second,
	}

	job := GenerateJob(p)

	for _, want := range []string{
		"ioengine=io_uring",
		"filename=/dev/nvme0n1",
		"bs=8192",
		"direct=1",
		"rw=randrw",
		"rwmixread=70",
		"numjobs=4",
		"iodepth=8", // 32 total slots / 4 jobs
		"runtime=30s",
		"group_reporting",
	} {
		if !strings.Contains(job, want) {
			t.Errorf("job file missing %q:\n%s", want, job)
		}
	}
}

func TestGenerateJobReadOnlySequential(t *testing.T) {
	job := GenerateJob(engine.Params{
		EngineType: "sync",
		Path:       "/tmp/f",
		BlockSize:  4096,
		ReadPct:    100,
		Workers:    1,
	})
	if !strings.Contains(job, "rw=read\n") {
		t.Errorf("expected sequential read job:\n%s", job)
	}
	if strings.Contains(job, "rwmixread") {
		t.Error("pure read job should not set rwmixread")
	}
}

func TestParseOutput(t *testing.T) {
	jsonData := []byte(`{
		"jobs": [{
			"read": {
				"iops": 1500.5,
				"total_ios": 15000,
				"clat_ns": {
					"mean": 500000,
					"percentile": {
						"50.000000": 400000,
						"95.000000": 900000,
						"99.000000": 1200000,
						"99.900000": 2500000
					}
				}
			},
			"write": {
				"iops": 0,
				"total_ios": 0,
				"clat_ns": {"mean": 0, "percentile": {}}
			}
		}]
	}`)

	res, err := ParseOutput(jsonData, 10*time.Second)
	if err != nil {
		t.Fatalf("ParseOutput failed: %v", err)
	}

	if res.TotalIOs != 15000 {
		t.Errorf("TotalIOs = %d, want 15000", res.TotalIOs)
	}
	if res.IOPS != 1500.5 {
		t.Errorf("IOPS = %f, want 1500.5", res.IOPS)
	}
	if res.P99Latency != 1200*time.Microsecond {
		t.Errorf("P99 = %v, want 1.2ms", res.P99Latency)
	}
	if res.P999Latency != 2500*time.Microsecond {
		t.Errorf("P999 = %v, want 2.5ms", res.P999Latency)
	}
	if res.MeanLatency != 500*time.Microsecond {
		t.Errorf("Mean = %v, want 500us", res.MeanLatency)
	}
	if res.Duration != 10*time.Second {
		t.Errorf("Duration = %v, want 10s", res.Duration)
	}
}
