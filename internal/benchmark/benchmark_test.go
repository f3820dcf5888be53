package benchmark

import (
	"strings"
	"testing"

	"marketledger/internal/market"
	"marketledger/internal/strategy"
)

func buildChain(n int) []*market.Block {
	blocks := make([]*market.Block, n)
	prev := market.GenesisPreviousHash
	for i := 0; i < n; i++ {
		b := &market.Block{
			Index:        uint64(i),
			Timestamp:    int64(1000 + i),
			Data:         []market.MarketData{{Asset: "BTC", Price: 50000 + float64(i), Source: "test", Timestamp: int64(1000 + i)}},
			PreviousHash: prev,
		}
		b.Seal()
		prev = b.Hash
		blocks[i] = b
	}
	return blocks
}

func TestRunNoConsensusCommitsEveryBlock(t *testing.T) {
	blocks := buildChain(5)
	m := Run(strategy.NewNoConsensusStrategy(), blocks)

	if m.CommittedBlocks != 5 {
		t.Fatalf("expected all 5 blocks committed, got %d", m.CommittedBlocks)
	}
	if m.CommitRatePercent != 100 {
		t.Fatalf("expected 100%% commit rate, got %f", m.CommitRatePercent)
	}
	if m.MerkleRoot == "" {
		t.Fatal("expected a non-empty merkle root when blocks committed")
	}
}

func TestCompareRunsEveryStrategyOnce(t *testing.T) {
	blocks := buildChain(1)
	strategies := []strategy.Strategy{
		strategy.NewNoConsensusStrategy(),
		strategy.NewSimpleMajorityStrategy(4),
	}
	results := Compare(blocks[0], strategies)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Committed {
			t.Fatalf("expected strategy %s to commit the lone block", r.StrategyName)
		}
	}
}

func TestAggregateComputesMeanAndPooledBounds(t *testing.T) {
	round1 := Metrics{StrategyName: "no_consensus", TotalBlocks: 10, AvgLatencyMs: 2.0, MinLatency: 1, MaxLatency: 5, ThroughputBlocksPerS: 100, CommitRatePercent: 100, DataIntegrityOK: true}
	round2 := Metrics{StrategyName: "no_consensus", TotalBlocks: 10, AvgLatencyMs: 4.0, MinLatency: 0, MaxLatency: 9, ThroughputBlocksPerS: 50, CommitRatePercent: 100, DataIntegrityOK: true}

	stats := Aggregate([]Metrics{round1, round2})

	if stats.MeanAvgLatencyMs != 3.0 {
		t.Fatalf("expected mean latency 3.0, got %f", stats.MeanAvgLatencyMs)
	}
	if stats.PooledMinLatency != 0 || stats.PooledMaxLatency != 9 {
		t.Fatalf("expected pooled bounds [0,9], got [%v,%v]", stats.PooledMinLatency, stats.PooledMaxLatency)
	}
	if stats.StdDevAvgLatencyMs == 0 {
		t.Fatal("expected non-zero stddev for two differing samples")
	}
}

func TestAggregateStdDevZeroForSingleRound(t *testing.T) {
	round := Metrics{StrategyName: "no_consensus", TotalBlocks: 10, AvgLatencyMs: 2.0, DataIntegrityOK: true}
	stats := Aggregate([]Metrics{round})
	if stats.StdDevAvgLatencyMs != 0 {
		t.Fatalf("expected stddev 0 for a single round, got %f", stats.StdDevAvgLatencyMs)
	}
}

func TestAggregatePanicsOnMixedStrategies(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for mixed-strategy rounds")
		}
	}()
	Aggregate([]Metrics{
		{StrategyName: "pbft"},
		{StrategyName: "gossip"},
	})
}

func TestScoreTrilemmaKnownAndUnknownStrategies(t *testing.T) {
	pbft := ScoreTrilemma("pbft")
	if pbft.Security != 5.0 {
		t.Fatalf("expected pbft security score 5.0, got %f", pbft.Security)
	}
	if got := pbft.PrimarySacrifice(); got != "Scalability" {
		t.Fatalf("expected pbft's primary sacrifice to be Scalability, got %q", got)
	}

	unknown := ScoreTrilemma("made_up_strategy")
	if unknown.Total() != 9.0 {
		t.Fatalf("expected neutral 3/3/3 total of 9.0 for unknown strategy, got %f", unknown.Total())
	}
}

func TestFormatMetricsTableIncludesStrategyNames(t *testing.T) {
	table := FormatMetricsTable([]Metrics{{StrategyName: "pbft", TotalBlocks: 3}})
	if table == "" {
		t.Fatal("expected non-empty table output")
	}
	if !strings.Contains(table, "pbft") {
		t.Fatalf("expected table to include strategy name pbft, got:\n%s", table)
	}
}
