package engine

import (
	"os"
	"testing"
	"time"
)

func TestSyncEngineRun(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "tailspin-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	// Write some data so we can read it
	size := int64(1024 * 1024) // 1MB
	if err := tmpFile.Truncate(size); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	eng := NewSync()
	params := Params{
		Path:       tmpFile.Name(),
		BlockSize:  4096,
		Direct:     false, // O_DIRECT might not work on tmpfs
		ReadPct:    100,
		Rand:       true,
		Workers:    2,
		MaxRuntime: 200 * time.Millisecond,
	}

	result, err := eng.Run(params)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.IOPS <= 0 {
		t.Errorf("Expected positive IOPS, got %f", result.IOPS)
	}
	if result.TotalIOs <= 0 {
		t.Errorf("Expected positive TotalIOs, got %d", result.TotalIOs)
	}
	if result.Latency == nil || result.Latency.TotalCount() == 0 {
		t.Fatal("Expected a populated latency histogram")
	}
	if result.Latency.TotalCount() != result.TotalIOs {
		t.Errorf("Histogram count %d != TotalIOs %d", result.Latency.TotalCount(), result.TotalIOs)
	}
	if result.P99Latency < result.P50Latency {
		t.Errorf("P99 (%v) below P50 (%v)", result.P99Latency, result.P50Latency)
	}
	t.Logf("IOPS: %f, P99 Latency: %v", result.IOPS, result.P99Latency)
}

func TestEngineFactory(t *testing.T) {
	if _, ok := New("sync").(*SyncEngine); !ok {
		t.Error("factory did not return sync engine")
	}
	if _, ok := New("uring").(*UringEngine); !ok {
		t.Error("factory did not return uring engine")
	}
	if _, ok := New("libaio").(*LibAIOEngine); !ok {
		t.Error("factory did not return libaio engine")
	}
	// Unknown types fall back to sync
	if _, ok := New("").(*SyncEngine); !ok {
		t.Error("factory did not fall back to sync engine")
	}
}

func TestRunRejectsBadBlockSize(t *testing.T) {
	if _, err := NewSync().Run(Params{Path: "/dev/null", BlockSize: 0}); err == nil {
		t.Error("expected error for zero block size")
	}
}
