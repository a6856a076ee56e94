package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level configuration for an optimization run.
type Config struct {
	Target     string      `yaml:"target"`
	Search     []Variable  `yaml:"search"`
	Objectives []Objective `yaml:"objectives"`
	Optimizer  string      `yaml:"optimizer"` // "simulated_annealing" or "coordinate"
	Settings   Settings    `yaml:"settings"`
	Report     Report      `yaml:"report"`
}

type Settings struct {
	EngineType string `yaml:"engine_type"` // "sync", "uring", or "libaio"
	Direct     bool   `yaml:"direct"`
	ReadPct    int    `yaml:"read_pct"` // 0-100
	WriteOnly  bool   `yaml:"write"`    // Shorthand for read_pct: 0
	Rand       bool   `yaml:"rand"`

	MinRuntime  time.Duration `yaml:"min_runtime"`
	MaxRuntime  time.Duration `yaml:"max_runtime"`
	ErrorTarget float64       `yaml:"error_target"`

	// Annealing settings
	InitialTemp     float64 `yaml:"initial_temp"`     // Starting temperature; should match the magnitude of score changes (e.g., 1000 for IOPS)
	CoolingRate     float64 `yaml:"cooling_rate"`     // How fast to cool; typical values are 0.9 to 0.99
	MinTemp         float64 `yaml:"min_temp"`         // Temperature at which optimization stops (e.g., 0.01)
	StepsPerTemp    int     `yaml:"steps_per_temp"`   // Number of iterations to run at each temperature level (e.g., 1-10)
	RestartInterval int     `yaml:"restart_interval"` // If > 0, reset to best state after this many steps without improvement
}

// Report controls the latency percentile distribution output printed after
// runs.
type Report struct {
	// SigFigs is the histogram precision, 1-5 significant figures.
	SigFigs int `yaml:"sig_figs"`
	// PercentileTicks is the iterator's ticks-per-half-distance resolution.
	PercentileTicks int `yaml:"percentile_ticks"`
	// CSV switches the distribution report to comma-separated output.
	CSV bool `yaml:"csv"`
	// PercentileFile receives the distribution; empty means stdout.
	PercentileFile string `yaml:"percentile_file"`
	// Percentiles enables printing the distribution after each run.
	Percentiles bool `yaml:"percentiles"`
}

// Variable defines a parameter to optimize.
type Variable struct {
	Name   string `yaml:"variable"`         // "block_size", "queue_depth", "workers"
	Values []int  `yaml:"values,omitempty"` // Explicit list (e.g. for block_size)
	Range  []int  `yaml:"range,omitempty"`  // [min, max] (e.g. for workers)
	Step   int    `yaml:"step,omitempty"`   // Step size for range
}

// Objective defines what to maximize/minimize or constrain.
type Objective struct {
	Type   string `yaml:"type"`            // "maximize", "minimize", "constraint"
	Metric string `yaml:"metric"`          // "iops", "throughput", "p99_latency", "p50_latency"
	Limit  string `yaml:"limit,omitempty"` // For constraints: "10ms", "50000"
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if cfg.Report.SigFigs < 1 || cfg.Report.SigFigs > 5 {
		return nil, fmt.Errorf("report.sig_figs must be in [1, 5], got %d", cfg.Report.SigFigs)
	}
	for _, v := range cfg.Search {
		if len(v.Values) == 0 && len(v.Range) != 2 {
			return nil, fmt.Errorf("search variable %q needs either values or a [min, max] range", v.Name)
		}
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields with their documented defaults. Load calls
// it automatically; flag-built configs should call it themselves.
func (cfg *Config) ApplyDefaults() {
	if cfg.Settings.MinRuntime == 0 {
		cfg.Settings.MinRuntime = 1 * time.Second
	}
	// An unset read_pct means read-only unless 'write: true' asked for the
	// opposite; 0 is only a valid read_pct when set via the write shorthand.
	if cfg.Settings.ReadPct == 0 && !cfg.Settings.WriteOnly {
		cfg.Settings.ReadPct = 100
	}
	if cfg.Settings.MaxRuntime == 0 {
		cfg.Settings.MaxRuntime = 5 * time.Second
	}
	if cfg.Settings.InitialTemp == 0 {
		cfg.Settings.InitialTemp = 1000.0
	}
	if cfg.Settings.CoolingRate == 0 {
		cfg.Settings.CoolingRate = 0.95
	}
	if cfg.Settings.MinTemp == 0 {
		cfg.Settings.MinTemp = 0.01
	}
	if cfg.Settings.StepsPerTemp == 0 {
		cfg.Settings.StepsPerTemp = 1
	}
	if cfg.Report.SigFigs == 0 {
		cfg.Report.SigFigs = 3
	}
	if cfg.Report.PercentileTicks == 0 {
		cfg.Report.PercentileTicks = 5
	}
}
