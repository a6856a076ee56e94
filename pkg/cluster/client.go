package cluster

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/runningwild/tailspin/pkg/engine"
	"github.com/runningwild/tailspin/pkg/fio"
	"github.com/runningwild/tailspin/pkg/stats"
)

// ClusterEngine fans a run out over remote nodes and aggregates the results.
// Agent nodes run the tailspin agent HTTP server; fio nodes run a stock
// `fio --server` and are driven through a generated job file.
type ClusterEngine struct {
	agentNodes []string
	fioNodes   []string
}

func New(agentNodes, fioNodes []string) *ClusterEngine {
	return &ClusterEngine{
		agentNodes: agentNodes,
		fioNodes:   fioNodes,
	}
}

func (c *ClusterEngine) Run(params engine.Params) (*engine.Result, error) {
	nodes := len(c.agentNodes) + len(c.fioNodes)
	if nodes == 0 {
		return nil, fmt.Errorf("no cluster nodes configured")
	}

	var wg sync.WaitGroup
	results := make([]*engine.Result, nodes)
	errors := make([]error, nodes)

	run := func(idx int, fn func(engine.Params) (*engine.Result, error), p engine.Params) {
		// Always distribute Workers
		baseW := params.Workers / nodes
		remW := params.Workers % nodes
		if idx < remW {
			p.Workers = baseW + 1
		} else {
			p.Workers = baseW
		}

		// Distribute QueueDepth only if explicitly set (> 0)
		if params.QueueDepth > 0 {
			baseQD := params.QueueDepth / nodes
			remQD := params.QueueDepth % nodes
			if idx < remQD {
				p.QueueDepth = baseQD + 1
			} else {
				p.QueueDepth = baseQD
			}

			// A node with zero distributed QD must not run at all: the engine
			// would default QD = Workers and add phantom load.
			if p.QueueDepth == 0 {
				return
			}
		}

		// Same for a node with no workers left.
		if p.Workers == 0 {
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := fn(p)
			results[idx] = res
			errors[idx] = err
		}()
	}

	idx := 0
	for _, node := range c.agentNodes {
		host := node
		run(idx, func(p engine.Params) (*engine.Result, error) { return c.runRemote(host, p) }, params)
		idx++
	}
	for _, node := range c.fioNodes {
		host := node
		run(idx, func(p engine.Params) (*engine.Result, error) { return c.runFio(host, p) }, params)
		idx++
	}
	wg.Wait()

	allNodes := append(append([]string{}, c.agentNodes...), c.fioNodes...)
	for i, err := range errors {
		if err != nil {
			return nil, fmt.Errorf("node %s failed: %v", allNodes[i], err)
		}
	}

	return c.aggregate(results), nil
}

func (c *ClusterEngine) runRemote(host string, params engine.Params) (*engine.Result, error) {
	url := fmt.Sprintf("http://%s/run", host)

	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest("POST", url, bytes.NewBuffer(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	// Timeout should be MaxRuntime + Buffer
	timeout := params.MaxRuntime + 5*time.Second
	if timeout < 10*time.Second {
		timeout = 10 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("agent %s error (%s): %s", host, resp.Status, string(bytes.TrimSpace(body)))
	}

	var res engine.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

// runFio drives a remote `fio --server` node. The local fio binary acts as
// the client, so it must be on PATH.
func (c *ClusterEngine) runFio(host string, params engine.Params) (*engine.Result, error) {
	jobFile, err := os.CreateTemp("", "tailspin-fio-*.job")
	if err != nil {
		return nil, err
	}
	defer os.Remove(jobFile.Name())

	if _, err := jobFile.WriteString(fio.GenerateJob(params)); err != nil {
		jobFile.Close()
		return nil, err
	}
	jobFile.Close()

	start := time.Now()
	cmd := exec.Command("fio", "--client="+host, "--output-format=json", jobFile.Name())
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("fio client for %s failed: %w", host, err)
	}

	return fio.ParseOutput(out, time.Since(start))
}

func (c *ClusterEngine) aggregate(results []*engine.Result) *engine.Result {
	agg := &engine.Result{}
	var totalWeight float64
	var merged *stats.Histogram
	histCount, resCount := 0, 0

	for _, r := range results {
		if r == nil {
			continue
		}
		resCount++

		agg.TotalIOs += r.TotalIOs
		agg.IOPS += r.IOPS
		agg.Throughput += r.Throughput

		if r.Duration > agg.Duration {
			agg.Duration = r.Duration
		}
		if r.MetricConfidence > agg.MetricConfidence {
			agg.MetricConfidence = r.MetricConfidence
		}
		agg.TerminationReason = r.TerminationReason

		if r.Latency != nil {
			histCount++
			if merged == nil {
				// Merge into a copy so node results stay untouched.
				merged, _ = stats.Import(r.Latency.Export())
			} else {
				merged.Merge(r.Latency)
			}
		}

		// Count-weighted fallback for nodes that only report fixed
		// percentiles (fio results have no full distribution).
		weight := float64(r.TotalIOs)
		totalWeight += weight

		agg.MeanLatency += time.Duration(float64(r.MeanLatency) * weight)
		agg.P50Latency += time.Duration(float64(r.P50Latency) * weight)
		agg.P95Latency += time.Duration(float64(r.P95Latency) * weight)
		agg.P99Latency += time.Duration(float64(r.P99Latency) * weight)
		agg.P999Latency += time.Duration(float64(r.P999Latency) * weight)
	}

	if totalWeight > 0 {
		agg.MeanLatency = time.Duration(float64(agg.MeanLatency) / totalWeight)
		agg.P50Latency = time.Duration(float64(agg.P50Latency) / totalWeight)
		agg.P95Latency = time.Duration(float64(agg.P95Latency) / totalWeight)
		agg.P99Latency = time.Duration(float64(agg.P99Latency) / totalWeight)
		agg.P999Latency = time.Duration(float64(agg.P999Latency) / totalWeight)
	}

	// When every node shipped its histogram, the merged distribution is exact
	// and replaces the weighted percentile approximation.
	if merged != nil && histCount == resCount {
		agg.Latency = merged
		agg.MeanLatency = time.Duration(merged.Mean())
		agg.P50Latency = time.Duration(merged.ValueAtPercentile(50))
		agg.P95Latency = time.Duration(merged.ValueAtPercentile(95))
		agg.P99Latency = time.Duration(merged.ValueAtPercentile(99))
		agg.P999Latency = time.Duration(merged.ValueAtPercentile(99.9))
	}

	return agg
}
