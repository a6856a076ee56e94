package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTemp(t, `
target: /dev/null
search:
  - variable: workers
    range: [1, 8]
objectives:
  - type: maximize
    metric: iops
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Settings.MinRuntime != 1*time.Second {
		t.Errorf("default min_runtime = %v, want 1s", cfg.Settings.MinRuntime)
	}
	if cfg.Settings.MaxRuntime != 5*time.Second {
		t.Errorf("default max_runtime = %v, want 5s", cfg.Settings.MaxRuntime)
	}
	if cfg.Settings.ReadPct != 100 {
		t.Errorf("default read_pct = %d, want 100", cfg.Settings.ReadPct)
	}
	if cfg.Report.SigFigs != 3 {
		t.Errorf("default sig_figs = %d, want 3", cfg.Report.SigFigs)
	}
	if cfg.Report.PercentileTicks != 5 {
		t.Errorf("default percentile_ticks = %d, want 5", cfg.Report.PercentileTicks)
	}
}

func TestLoadWriteShorthand(t *testing.T) {
	path := writeTemp(t, `
target: /dev/null
settings:
  write: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Settings.ReadPct != 0 {
		t.Errorf("write: true should keep read_pct at 0, got %d", cfg.Settings.ReadPct)
	}
}

func TestLoadRejectsBadSigFigs(t *testing.T) {
	for _, bad := range []string{"-1", "6", "10"} {
		path := writeTemp(t, `
target: /dev/null
report:
  sig_figs: `+bad+`
`)
		if _, err := Load(path); err == nil {
			t.Errorf("expected error for sig_figs: %s", bad)
		}
	}
}

func TestLoadRejectsVariableWithoutDomain(t *testing.T) {
	for name, body := range map[string]string{
		"no values or range": `
target: /dev/null
search:
  - variable: workers
`,
		"one-element range": `
target: /dev/null
search:
  - variable: workers
    range: [4]
`,
	} {
		if _, err := Load(writeTemp(t, body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadReportSettings(t *testing.T) {
	path := writeTemp(t, `
target: /dev/null
report:
  sig_figs: 2
  percentile_ticks: 10
  csv: true
  percentiles: true
  percentile_file: /tmp/out.csv
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Report.SigFigs != 2 || cfg.Report.PercentileTicks != 10 {
		t.Errorf("report precision not honored: %+v", cfg.Report)
	}
	if !cfg.Report.CSV || !cfg.Report.Percentiles || cfg.Report.PercentileFile != "/tmp/out.csv" {
		t.Errorf("report output settings not honored: %+v", cfg.Report)
	}
}
