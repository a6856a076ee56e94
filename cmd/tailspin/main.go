package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/runningwild/tailspin/pkg/agent"
	"github.com/runningwild/tailspin/pkg/cluster"
	"github.com/runningwild/tailspin/pkg/config"
	"github.com/runningwild/tailspin/pkg/engine"
	"github.com/runningwild/tailspin/pkg/optimize"
	"github.com/runningwild/tailspin/pkg/stats"
	"github.com/runningwild/tailspin/pkg/sweep"
)

func main() {
	// Dispatch subcommands
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "optimize":
			runOptimizerCmd()
			return
		case "sweep":
			runSweepCmd()
			return
		case "sustain":
			runSustainCmd()
			return
		case "agent":
			runAgentCmd()
			return
		case "remote":
			runRemoteCmd()
			return
		}
	}

	// Default behavior (flags -> optimize)
	runDefaultOptimize()
}

// Flags holds pointers to all supported CLI flags
type Flags struct {
	// Config File (optional)
	ConfigFile  *string
	WriteConfig *string

	// Flag-based overrides
	Path        *string
	EngineType  *string
	BS          *int
	Direct      *bool
	ReadPct     *int
	RandIO      *bool
	MinRuntime  *time.Duration
	MaxRuntime  *time.Duration
	ErrorTarget *float64

	// Search Params
	VarName    *string
	MinVal     *int
	MaxVal     *int
	StepVal    *int
	Workers    *int
	QueueDepth *int

	// Reporting
	ReportFile     *string
	Percentiles    *bool
	PercentileFile *string
	CSVReport      *bool
	SigFigs        *int
	Ticks          *int
}

func SetupFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	f.ConfigFile = fs.String("config", "", "Path to configuration file (disables other flags)")
	f.WriteConfig = fs.String("write-config", "", "Save the generated configuration to this YAML file")

	f.Path = fs.String("path", "", "Path to device or file")
	f.EngineType = fs.String("engine", "sync", "I/O engine: 'sync', 'uring', or 'libaio'")
	f.BS = fs.Int("bs", 4096, "Block size")
	f.Direct = fs.Bool("direct", true, "Use O_DIRECT")
	f.ReadPct = fs.Int("read-pct", 100, "Read percentage (0-100)")
	f.RandIO = fs.Bool("rand", true, "Random I/O (default is sequential)")

	f.MinRuntime = fs.Duration("min-runtime", 1*time.Second, "Minimum runtime for each test point")
	f.MaxRuntime = fs.Duration("max-runtime", 5*time.Second, "Maximum runtime for each test point")
	f.ErrorTarget = fs.Float64("error", 0.05, "Target relative error (stdErr/mean), e.g., 0.05 for 5%")

	f.VarName = fs.String("var", "workers", "Variable to optimize: 'workers', 'queue_depth', 'block_size'")
	f.MinVal = fs.Int("min", 1, "Minimum value for the variable")
	f.MaxVal = fs.Int("max", 32, "Maximum value for the variable")
	f.StepVal = fs.Int("step", 1, "Step value for the variable")

	f.Workers = fs.Int("workers", 1, "Fixed number of workers (when not optimizing workers)")
	f.QueueDepth = fs.Int("queue-depth", 1, "Fixed Global Queue Depth (when not optimizing queue_depth)")

	f.ReportFile = fs.String("report", "", "Write results to JSON file")
	f.Percentiles = fs.Bool("percentiles", false, "Print the latency percentile distribution of the best run")
	f.PercentileFile = fs.String("percentile-file", "", "Write the percentile distribution to this file instead of stdout")
	f.CSVReport = fs.Bool("csv", false, "Percentile distribution in CSV format")
	f.SigFigs = fs.Int("sig-figs", 3, "Latency histogram precision (1-5 significant figures)")
	f.Ticks = fs.Int("ticks", 5, "Percentile report ticks per half-distance")
	return f
}

// LoadConfig determines the config source (file or flags) and returns a Config object.
func (f *Flags) LoadConfig() (*config.Config, error) {
	// 1. If -config is provided, load it
	if *f.ConfigFile != "" {
		cfg, err := config.Load(*f.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		// Reporting flags still apply on top of a config file, so a one-off
		// -percentiles doesn't require editing the file.
		if *f.Percentiles {
			cfg.Report.Percentiles = true
		}
		if *f.CSVReport {
			cfg.Report.CSV = true
		}
		if *f.PercentileFile != "" {
			cfg.Report.PercentileFile = *f.PercentileFile
		}
		return cfg, nil
	}

	// 2. Build Config from Flags
	if *f.Path == "" {
		return nil, fmt.Errorf("-path is required when using flags")
	}

	if *f.SigFigs < 1 || *f.SigFigs > 5 {
		return nil, fmt.Errorf("-sig-figs must be in [1, 5], got %d", *f.SigFigs)
	}

	// Normalize variable name (allow queue-depth to match queue_depth)
	normalizedVar := strings.ReplaceAll(*f.VarName, "-", "_")

	cfg := &config.Config{
		Target: *f.Path,
		Settings: config.Settings{
			EngineType:  *f.EngineType,
			Direct:      *f.Direct,
			ReadPct:     *f.ReadPct,
			Rand:        *f.RandIO,
			MinRuntime:  *f.MinRuntime,
			MaxRuntime:  *f.MaxRuntime,
			ErrorTarget: *f.ErrorTarget,
		},
		Report: config.Report{
			SigFigs:         *f.SigFigs,
			PercentileTicks: *f.Ticks,
			CSV:             *f.CSVReport,
			PercentileFile:  *f.PercentileFile,
			Percentiles:     *f.Percentiles,
		},
		Objectives: []config.Objective{
			{Type: "maximize", Metric: "iops"},
		},
	}

	// Define the variable to search
	searchVar := config.Variable{
		Name:  normalizedVar,
		Range: []int{*f.MinVal, *f.MaxVal},
		Step:  *f.StepVal,
	}
	cfg.Search = append(cfg.Search, searchVar)

	// Handle Fixed Values
	if normalizedVar != "workers" {
		cfg.Search = append(cfg.Search, config.Variable{
			Name: "workers", Values: []int{*f.Workers},
		})
	}
	if normalizedVar != "queue_depth" {
		cfg.Search = append(cfg.Search, config.Variable{
			Name: "queue_depth", Values: []int{*f.QueueDepth},
		})
	}
	if normalizedVar != "block_size" {
		cfg.Search = append(cfg.Search, config.Variable{
			Name: "block_size", Values: []int{*f.BS},
		})
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

func (f *Flags) MaybeWriteConfig(cfg *config.Config) {
	if *f.WriteConfig == "" {
		return
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Printf("Warning: Failed to marshal config for writing: %v\n", err)
		return
	}
	if err := os.WriteFile(*f.WriteConfig, data, 0644); err != nil {
		fmt.Printf("Warning: Failed to write config file: %v\n", err)
		return
	}
	fmt.Printf("Configuration written to %s\n", *f.WriteConfig)
}

// runDefaultOptimize handles "tailspin [flags]"
func runDefaultOptimize() {
	f := SetupFlags(flag.CommandLine)
	flag.Parse()

	if *f.ConfigFile == "" && *f.Path == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := f.LoadConfig()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	f.MaybeWriteConfig(cfg)
	eng := engine.New(cfg.Settings.EngineType)
	runOptimizeLogic(f, cfg, eng)
}

// runOptimizerCmd handles "tailspin optimize [flags]"
func runOptimizerCmd() {
	fs := flag.NewFlagSet("optimize", flag.ExitOnError)
	f := SetupFlags(fs)
	fs.Parse(os.Args[2:])

	cfg, err := f.LoadConfig()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	f.MaybeWriteConfig(cfg)
	eng := engine.New(cfg.Settings.EngineType)
	runOptimizeLogic(f, cfg, eng)
}

// optimizer is the common surface of the search strategies.
type optimizer interface {
	Optimize() (optimize.State, engine.Result, error)
	History() []optimize.HistoryEntry
}

func runOptimizeLogic(f *Flags, cfg *config.Config, eng engine.Engine) {
	var opt optimizer
	switch cfg.Optimizer {
	case "simulated_annealing":
		fmt.Printf("Optimizing %s using Simulated Annealing...\n", cfg.Target)
		opt = optimize.NewAnnealing(eng, cfg)
	default:
		fmt.Printf("Optimizing %s using Coordinate Descent...\n", cfg.Target)
		opt = optimize.NewCoordinate(eng, cfg)
	}

	bestState, bestRes, err := opt.Optimize()
	if err != nil {
		fmt.Printf("Optimization failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\n>>> Optimization Complete <<<\n")
	fmt.Printf("Best State: %v\n", bestState)
	fmt.Printf("Metrics:    IOPS=%.0f, Throughput=%.2f MB/s, P99=%v\n",
		bestRes.IOPS, bestRes.Throughput/1024/1024, bestRes.P99Latency)

	maybePrintDistribution(cfg, &bestRes)

	if *f.ReportFile != "" {
		writeReport(*f.ReportFile, opt.History())
	}
}

// runSweepCmd handles "tailspin sweep [flags]"
func runSweepCmd() {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	f := SetupFlags(fs)
	fs.Parse(os.Args[2:])

	cfg, err := f.LoadConfig()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	f.MaybeWriteConfig(cfg)
	eng := engine.New(cfg.Settings.EngineType)
	runSweepLogic(f, cfg, eng)
}

func runSweepLogic(f *Flags, cfg *config.Config, eng engine.Engine) {
	s := sweep.New(eng, cfg)

	outcome, err := s.Run()
	if err != nil {
		fmt.Printf("Sweep failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\n>>> Sweep Complete <<<\n")
	if outcome.Knee.OriginalX != nil {
		fmt.Printf("Knee found at: %v (IOPS: %.0f)\n", outcome.Knee.OriginalX, outcome.Knee.Y)
	} else {
		fmt.Println("Could not identify a distinct knee.")
	}
	if outcome.Analysis.SaturationPoint.X != 0 {
		fmt.Printf("Saturation at: %.0f (IOPS: %.0f)\n",
			outcome.Analysis.SaturationPoint.X, outcome.Analysis.SaturationPoint.Y)
	}
	fmt.Printf("Curve confidence: %.0f%%\n", outcome.Confidence*100)

	if n := len(outcome.History); n > 0 {
		maybePrintDistribution(cfg, &outcome.History[n-1].Result)
	}

	if *f.ReportFile != "" {
		writeReport(*f.ReportFile, outcome.History)
	}
}

// runRemoteCmd handles "tailspin remote [optimize|sweep] ..."
func runRemoteCmd() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: tailspin remote <command> [flags]")
		os.Exit(1)
	}
	subCmd := os.Args[2]

	fs := flag.NewFlagSet("remote "+subCmd, flag.ExitOnError)
	f := SetupFlags(fs)
	agentNodesFlag := fs.String("nodes", "", "Comma-separated list of tailspin agent nodes (e.g. host1:9000)")
	fioNodesFlag := fs.String("fio-nodes", "", "Comma-separated list of fio server nodes (e.g. host1)")
	fs.Parse(os.Args[3:])

	agentNodes := []string{}
	if *agentNodesFlag != "" {
		agentNodes = strings.Split(*agentNodesFlag, ",")
	}
	fioNodes := []string{}
	if *fioNodesFlag != "" {
		fioNodes = strings.Split(*fioNodesFlag, ",")
	}

	if len(agentNodes) == 0 && len(fioNodes) == 0 {
		fmt.Println("Error: at least one of -nodes or -fio-nodes is required")
		os.Exit(1)
	}

	// In remote mode the agents own the target path. Inject a placeholder if
	// missing to satisfy config validation.
	if *f.Path == "" && *f.ConfigFile == "" {
		dummy := "REMOTE_MANAGED"
		f.Path = &dummy
	}

	cfg, err := f.LoadConfig()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	f.MaybeWriteConfig(cfg)

	fmt.Printf("Initializing cluster engine with %d agent nodes and %d fio nodes...\n",
		len(agentNodes), len(fioNodes))
	eng := cluster.New(agentNodes, fioNodes)

	switch subCmd {
	case "optimize":
		runOptimizeLogic(f, cfg, eng)
	case "sweep":
		runSweepLogic(f, cfg, eng)
	default:
		fmt.Printf("Unknown remote command '%s'. Use 'optimize' or 'sweep'.\n", subCmd)
		os.Exit(1)
	}
}

func runAgentCmd() {
	agentCmd := flag.NewFlagSet("agent", flag.ExitOnError)
	port := agentCmd.Int("port", 9000, "Port to listen on")
	path := agentCmd.String("path", "", "Target device/file path (overrides remote request)")
	engType := agentCmd.String("engine", "sync", "Default engine when the request does not name one")
	agentCmd.Parse(os.Args[2:])

	srv := agent.NewServer(*engType, *path)

	if err := srv.VerifyAccess(); err != nil {
		fmt.Printf("Agent Startup Error: %v\n", err)
		os.Exit(1)
	}

	if err := srv.ListenAndServe(*port); err != nil {
		fmt.Printf("Agent failed: %v\n", err)
		os.Exit(1)
	}
}

// maybePrintDistribution renders the full latency percentile distribution of
// a result when reporting is enabled and the run carried a histogram.
func maybePrintDistribution(cfg *config.Config, res *engine.Result) {
	if !cfg.Report.Percentiles {
		return
	}
	if res.Latency == nil {
		fmt.Println("No latency distribution available for this result.")
		return
	}

	out := os.Stdout
	if cfg.Report.PercentileFile != "" {
		f, err := os.Create(cfg.Report.PercentileFile)
		if err != nil {
			fmt.Printf("Failed to create percentile file: %v\n", err)
			return
		}
		defer f.Close()
		out = f
	}

	opts := &stats.DistributionOptions{
		TicksPerHalfDistance: int32(cfg.Report.PercentileTicks),
		CSV:                  cfg.Report.CSV,
	}
	if err := res.Latency.WritePercentiles(out, opts); err != nil {
		fmt.Printf("Failed to write percentile distribution: %v\n", err)
		return
	}
	if cfg.Report.PercentileFile != "" {
		fmt.Printf("Percentile distribution written to %s\n", cfg.Report.PercentileFile)
	}
}

func writeReport(path string, history []optimize.HistoryEntry) {
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		fmt.Printf("Failed to marshal report: %v\n", err)
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		fmt.Printf("Failed to write report: %v\n", err)
		return
	}
	fmt.Printf("Report written to %s\n", path)
}
