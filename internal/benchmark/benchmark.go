// Package benchmark runs one or more consensus strategies over a shared
// set of blocks and reports latency, throughput, and commit/error-rate
// metrics, plus the blockchain-trilemma scoring used to compare them.
// Grounded on this lineage's consensus-comparison harness.
package benchmark

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shopspring/decimal"

	"marketledger/internal/market"
	"marketledger/internal/merkle"
	"marketledger/internal/strategy"
)

// sampleHost takes a best-effort, non-blocking snapshot of host CPU and
// memory usage. Failures (e.g. unsupported platform) yield zeros rather
// than aborting the round.
func sampleHost() (cpuPercent, memUsedMB float64) {
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		memUsedMB = float64(vm.Used) / (1024 * 1024)
	}
	return cpuPercent, memUsedMB
}

// roundPercent rounds a rate to two decimal places via exact decimal
// arithmetic, so repeated aggregation across rounds doesn't accumulate
// binary-float drift in the printed report.
func roundPercent(f float64) float64 {
	rounded, _ := decimal.NewFromFloat(f).Round(2).Float64()
	return rounded
}

// SingleResult is the outcome of running one strategy against one block.
type SingleResult struct {
	StrategyName    string
	BlockIndex      uint64
	Committed       bool
	ExecutionTime   time.Duration
	Requirements    string
	ErrorOccurred   bool
	DataIntegrityOK bool
}

// Compare runs every strategy against the same block once, useful for a
// quick side-by-side sanity check before a full multi-block run.
func Compare(block *market.Block, strategies []strategy.Strategy) []SingleResult {
	results := make([]SingleResult, 0, len(strategies))
	for _, s := range strategies {
		start := time.Now()
		committed, err := s.Execute(block)
		elapsed := time.Since(start)

		results = append(results, SingleResult{
			StrategyName:    s.Name(),
			BlockIndex:      block.Index,
			Committed:       committed != nil,
			ExecutionTime:   elapsed,
			Requirements:    s.Requirements().Description,
			ErrorOccurred:   err != nil,
			DataIntegrityOK: err == nil,
		})
	}
	return results
}

// Metrics summarizes a single round of a strategy run against a block set.
type Metrics struct {
	StrategyName          string
	TotalBlocks           int
	CommittedBlocks       int
	FailedBlocks          int
	ErrorBlocks           int
	MinLatency            time.Duration
	MaxLatency            time.Duration
	AvgLatencyMs          float64
	ThroughputBlocksPerS  float64
	ErrorRatePercent      float64
	CommitRatePercent     float64
	DataIntegrityOK       bool
	MerkleRoot            string

	// Host resource samples taken around the round, used as rough
	// fault-tolerance/reliability proxies in the comparison report. Zero
	// when sampling fails; sampling never fails the round itself.
	HostCPUPercent    float64
	HostMemoryUsedMB  float64
}

// Run executes s against every block in sequence and returns the round's
// aggregate metrics plus a Merkle root over the committed block hashes.
func Run(s strategy.Strategy, blocks []*market.Block) Metrics {
	latencies := make([]time.Duration, 0, len(blocks))
	var committedCount, failedCount, errorCount int
	integrityOK := true
	var leaves []merkle.BlockEntry

	start := time.Now()
	for _, block := range blocks {
		blockStart := time.Now()
		committed, err := s.Execute(block)
		latencies = append(latencies, time.Since(blockStart))

		switch {
		case err != nil:
			errorCount++
			if s.IsCommitted(block.Index) {
				integrityOK = false
			}
		case committed != nil:
			committedCount++
			leaves = append(leaves, merkle.BlockEntry{
				Index:        committed.Index,
				Strategy:     s.Name(),
				Hash:         committed.Hash,
				PreviousHash: committed.PreviousHash,
				Timestamp:    committed.Timestamp,
			})
		default:
			failedCount++
		}
	}
	totalTime := time.Since(start).Seconds()

	var throughput float64
	if totalTime > 0 {
		throughput = float64(len(blocks)) / totalTime
	}

	min, max, avg := latencyStats(latencies)

	var errorRate, commitRate float64
	if len(blocks) > 0 {
		errorRate = roundPercent(float64(errorCount) / float64(len(blocks)) * 100)
		commitRate = roundPercent(float64(committedCount) / float64(len(blocks)) * 100)
	}

	var root string
	if len(leaves) > 0 {
		if tree, err := merkle.NewMerkleTree(leaves); err == nil {
			root = tree.GetRootHash()
		}
	}

	cpuPercent, memUsedMB := sampleHost()

	return Metrics{
		StrategyName:         s.Name(),
		TotalBlocks:          len(blocks),
		CommittedBlocks:      committedCount,
		FailedBlocks:         failedCount,
		ErrorBlocks:          errorCount,
		MinLatency:           min,
		MaxLatency:           max,
		AvgLatencyMs:         avg,
		ThroughputBlocksPerS: throughput,
		ErrorRatePercent:     errorRate,
		CommitRatePercent:    commitRate,
		DataIntegrityOK:      integrityOK,
		MerkleRoot:           root,
		HostCPUPercent:       cpuPercent,
		HostMemoryUsedMB:     memUsedMB,
	}
}

func latencyStats(latencies []time.Duration) (min, max time.Duration, avgMs float64) {
	if len(latencies) == 0 {
		return 0, 0, 0
	}
	min, max = latencies[0], latencies[0]
	var sum time.Duration
	for _, l := range latencies {
		if l < min {
			min = l
		}
		if l > max {
			max = l
		}
		sum += l
	}
	avgMs = float64(sum.Milliseconds()) / float64(len(latencies))
	return min, max, avgMs
}

// RunMany runs Run for every strategy against the shared block set.
func RunMany(strategies []strategy.Strategy, blocks []*market.Block) []Metrics {
	out := make([]Metrics, 0, len(strategies))
	for _, s := range strategies {
		out = append(out, Run(s, blocks))
	}
	return out
}

// RoundStats aggregates a sample of per-round Metrics for a single
// strategy across repeated rounds: mean latency/throughput/rates, sample
// standard deviation of latency (divisor R-1, zero for R<2), and pooled
// (not averaged) min/max latency across all rounds.
type RoundStats struct {
	RunID                string
	StrategyName         string
	Rounds               int
	TotalBlocksPerRound  int
	MeanAvgLatencyMs     float64
	StdDevAvgLatencyMs   float64
	PooledMinLatency     time.Duration
	PooledMaxLatency     time.Duration
	MeanThroughput       float64
	MeanCommitRate       float64
	MeanErrorRate        float64
	DataIntegrityOK      bool
}

// Aggregate computes RoundStats over a sample of same-strategy Metrics
// from repeated rounds. It panics if rounds is empty or mixes strategies,
// since that indicates a harness bug, not a runtime condition to recover
// from.
func Aggregate(rounds []Metrics) RoundStats {
	if len(rounds) == 0 {
		panic("benchmark: Aggregate called with zero rounds")
	}
	name := rounds[0].StrategyName
	for _, r := range rounds {
		if r.StrategyName != name {
			panic("benchmark: Aggregate called with mixed strategies")
		}
	}

	n := float64(len(rounds))
	var sumLatency, sumThroughput, sumCommit, sumError float64
	pooledMin, pooledMax := rounds[0].MinLatency, rounds[0].MaxLatency
	integrityOK := true

	for _, r := range rounds {
		sumLatency += r.AvgLatencyMs
		sumThroughput += r.ThroughputBlocksPerS
		sumCommit += r.CommitRatePercent
		sumError += r.ErrorRatePercent
		if r.MinLatency < pooledMin {
			pooledMin = r.MinLatency
		}
		if r.MaxLatency > pooledMax {
			pooledMax = r.MaxLatency
		}
		if !r.DataIntegrityOK {
			integrityOK = false
		}
	}

	meanLatency := sumLatency / n

	var stddev float64
	if len(rounds) >= 2 {
		var sumSq float64
		for _, r := range rounds {
			d := r.AvgLatencyMs - meanLatency
			sumSq += d * d
		}
		stddev = math.Sqrt(sumSq / (n - 1))
	}

	return RoundStats{
		RunID:               uuid.NewString(),
		StrategyName:        name,
		Rounds:              len(rounds),
		TotalBlocksPerRound: rounds[0].TotalBlocks,
		MeanAvgLatencyMs:    meanLatency,
		StdDevAvgLatencyMs:  stddev,
		PooledMinLatency:    pooledMin,
		PooledMaxLatency:    pooledMax,
		MeanThroughput:      sumThroughput / n,
		MeanCommitRate:      roundPercent(sumCommit / n),
		MeanErrorRate:       roundPercent(sumError / n),
		DataIntegrityOK:     integrityOK,
	}
}

// TrilemmaScores rates a strategy on the blockchain trilemma, 1-5 per
// axis. Scores are fixed per strategy name, matching the reference
// experiment's hand-assigned ratings rather than anything measured.
type TrilemmaScores struct {
	Decentralization float64
	Security         float64
	Scalability      float64
}

// Total sums the three axes.
func (t TrilemmaScores) Total() float64 {
	return t.Decentralization + t.Security + t.Scalability
}

// PrimarySacrifice names the lowest-scoring axis, breaking ties in the
// fixed order scalability, then security, then decentralization (the
// order the reference experiment checks them in).
func (t TrilemmaScores) PrimarySacrifice() string {
	min := math.Min(t.Decentralization, math.Min(t.Security, t.Scalability))
	switch {
	case t.Scalability == min:
		return "Scalability"
	case t.Security == min:
		return "Security"
	default:
		return "Decentralization"
	}
}

var trilemmaTable = map[string]TrilemmaScores{
	"pbft":            {Decentralization: 3.0, Security: 5.0, Scalability: 2.0},
	"gossip":          {Decentralization: 5.0, Security: 2.0, Scalability: 4.0},
	"eventual":        {Decentralization: 4.0, Security: 2.0, Scalability: 4.0},
	"quorumless":      {Decentralization: 4.0, Security: 3.0, Scalability: 3.0},
	"flexible_paxos":  {Decentralization: 3.0, Security: 4.0, Scalability: 3.0},
	"no_consensus":    {Decentralization: 5.0, Security: 1.0, Scalability: 5.0},
	"simple_majority": {Decentralization: 4.0, Security: 2.0, Scalability: 4.0},
	"simplified_pow":  {Decentralization: 2.0, Security: 5.0, Scalability: 1.0},
}

// ScoreTrilemma looks up the fixed score triple for strategyName (the five
// protocol engines and the three toy comparison baselines), defaulting to a
// neutral 3/3/3 for any name outside the fixed table.
func ScoreTrilemma(strategyName string) TrilemmaScores {
	if s, ok := trilemmaTable[strategyName]; ok {
		return s
	}
	return TrilemmaScores{Decentralization: 3.0, Security: 3.0, Scalability: 3.0}
}

// FormatMetricsTable renders metrics as a fixed-width text table, matching
// the reference experiment's console report.
func FormatMetricsTable(metrics []Metrics) string {
	out := fmt.Sprintf("%-20s | %8s | %8s | %8s | %8s | %10s | %10s\n",
		"Strategy", "Total", "Commit", "Failed", "Error", "AvgLat(ms)", "Thr/s")
	out += repeat("-", len(out)) + "\n"
	for _, m := range metrics {
		out += fmt.Sprintf("%-20s | %8d | %8d | %8d | %8d | %10.2f | %10.2f\n",
			m.StrategyName, m.TotalBlocks, m.CommittedBlocks, m.FailedBlocks, m.ErrorBlocks,
			m.AvgLatencyMs, m.ThroughputBlocksPerS)
	}
	return out
}

func repeat(s string, n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = s[0]
	}
	return string(out)
}
