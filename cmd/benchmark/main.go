// Command benchmark runs every consensus strategy against the same set of
// synthetic blocks, aggregates per-round metrics, and prints performance
// and blockchain-trilemma comparison tables. Usage:
//
//	benchmark [--rounds=R] [--blocks=M]
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"marketledger/internal/benchmark"
	"marketledger/internal/consensus"
	"marketledger/internal/consensus/eventual"
	"marketledger/internal/consensus/flexpaxos"
	"marketledger/internal/consensus/gossip"
	"marketledger/internal/consensus/pbft"
	"marketledger/internal/consensus/quorumless"
	"marketledger/internal/logger"
	"marketledger/internal/market"
	"marketledger/internal/strategy"
)

const totalNodes = 4

func main() {
	rounds, blocksPerRound := parseArgs(os.Args[1:])

	logger.Info("benchmark: starting comparison run", "rounds", rounds, "blocks_per_round", blocksPerRound)

	allMetrics := make(map[string][]benchmark.Metrics)
	var order []string

	for round := 0; round < rounds; round++ {
		blocks := buildChain(blocksPerRound)
		for _, s := range buildStrategies() {
			m := benchmark.Run(s, blocks)
			if _, seen := allMetrics[m.StrategyName]; !seen {
				order = append(order, m.StrategyName)
			}
			allMetrics[m.StrategyName] = append(allMetrics[m.StrategyName], m)
		}
	}

	var latestPerStrategy []benchmark.Metrics
	var trilemmaRows []benchmark.TrilemmaScores
	var summaries []benchmark.RoundStats

	fmt.Println(strings.Repeat("=", 70))
	fmt.Println("ROUND-AGGREGATED RESULTS")
	fmt.Println(strings.Repeat("=", 70))

	for _, name := range order {
		stats := benchmark.Aggregate(allMetrics[name])
		summaries = append(summaries, stats)
		latestPerStrategy = append(latestPerStrategy, allMetrics[name][len(allMetrics[name])-1])
		trilemmaRows = append(trilemmaRows, benchmark.ScoreTrilemma(name))

		fmt.Printf("%-18s mean_latency=%.3fms (+/-%.3f) throughput=%.1f blk/s commit_rate=%.1f%% integrity_ok=%v\n",
			name, stats.MeanAvgLatencyMs, stats.StdDevAvgLatencyMs, stats.MeanThroughput, stats.MeanCommitRate, stats.DataIntegrityOK)
	}

	fmt.Println()
	fmt.Println(strings.Repeat("=", 70))
	fmt.Println("PER-ROUND METRICS TABLE (last round)")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Println(benchmark.FormatMetricsTable(latestPerStrategy))

	fmt.Println(strings.Repeat("=", 70))
	fmt.Println("BLOCKCHAIN TRILEMMA")
	fmt.Println(strings.Repeat("=", 70))
	for i, name := range order {
		t := trilemmaRows[i]
		fmt.Printf("%-18s decentralization=%.1f security=%.1f scalability=%.1f total=%.1f sacrifices=%s\n",
			name, t.Decentralization, t.Security, t.Scalability, t.Total(), t.PrimarySacrifice())
	}

	persistSummary(summaries)

	logger.Info("benchmark: comparison run complete", "strategies", len(order))
}

func parseArgs(args []string) (rounds, blocksPerRound int) {
	rounds, blocksPerRound = 5, 10
	for _, arg := range args {
		switch {
		case strings.HasPrefix(arg, "--rounds="):
			if n, err := strconv.Atoi(strings.TrimPrefix(arg, "--rounds=")); err == nil && n > 0 {
				rounds = n
			}
		case strings.HasPrefix(arg, "--blocks="):
			if n, err := strconv.Atoi(strings.TrimPrefix(arg, "--blocks=")); err == nil && n > 0 {
				blocksPerRound = n
			}
		}
	}
	return rounds, blocksPerRound
}

// buildStrategies constructs one fresh instance of every strategy the
// harness compares, including the three toy reference strategies and the
// five protocol engines adapted to the Strategy surface via
// strategy.EngineAdapter. Each instance only ever sees blocks from a
// single round/chain, matching the reference comparison harness's
// stateless-per-run semantics.
func buildStrategies() []strategy.Strategy {
	// No real network here: every protocol engine simulates all of its
	// peers in-process, so broadcast is a no-op.
	noBroadcast := func(consensus.Message) {}

	return []strategy.Strategy{
		strategy.NewNoConsensusStrategy(),
		strategy.NewSimpleMajorityStrategy(totalNodes),
		strategy.NewSimplifiedPoWStrategy(2, 1_000_000),
		strategy.NewEngineAdapter(pbft.New(0, totalNodes, noBroadcast)),
		strategy.NewEngineAdapter(gossip.New(0, 2, 2, noBroadcast)),
		strategy.NewEngineAdapter(eventual.New(0, 10*time.Millisecond, 1)),
		strategy.NewEngineAdapter(quorumless.New(0, 5.0)),
		strategy.NewEngineAdapter(flexpaxos.New(0, totalNodes, (totalNodes/2)+1, (totalNodes/2)+1)),
	}
}

func buildChain(n int) []*market.Block {
	blocks := make([]*market.Block, n)
	prev := market.GenesisPreviousHash
	for i := 0; i < n; i++ {
		b := &market.Block{
			Index:        uint64(i),
			Timestamp:    time.Now().Unix() + int64(i),
			Data:         []market.MarketData{{Asset: "BTC", Price: 50000 + float64(i)*10, Source: "benchmark", Timestamp: time.Now().Unix() + int64(i)}},
			PreviousHash: prev,
		}
		b.Seal()
		prev = b.Hash
		blocks[i] = b
	}
	return blocks
}

// persistSummary writes the round-aggregated summary to the ambient
// Postgres database when DATABASE_URL is set and names a reachable
// instance. Persistence is best-effort: an unreachable database only
// disables this step, never fails the run.
func persistSummary(summaries []benchmark.RoundStats) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		logger.Warn("benchmark: could not persist summary, database unreachable", "error", err.Error())
		return
	}
	sqlDB, err := db.DB()
	if err == nil {
		defer sqlDB.Close()
	}

	if err := db.AutoMigrate(&benchmarkSummaryRow{}); err != nil {
		logger.Warn("benchmark: could not migrate summary table", "error", err.Error())
		return
	}

	for _, s := range summaries {
		row := benchmarkSummaryRow{
			RunID:            s.RunID,
			StrategyName:     s.StrategyName,
			Rounds:           s.Rounds,
			MeanAvgLatencyMs: s.MeanAvgLatencyMs,
			MeanThroughput:   s.MeanThroughput,
			MeanCommitRate:   s.MeanCommitRate,
			DataIntegrityOK:  s.DataIntegrityOK,
			RecordedAt:       time.Now(),
		}
		if err := db.Create(&row).Error; err != nil {
			logger.Warn("benchmark: failed to persist summary row", "strategy", s.StrategyName, "error", err.Error())
		}
	}
	logger.Info("benchmark: persisted round summaries to ambient postgres", "rows", len(summaries))
}

// benchmarkSummaryRow is the gorm-mapped row for persisted benchmark
// summaries, separate from the ambient service_config/system_logs tables.
type benchmarkSummaryRow struct {
	ID               uint      `gorm:"primaryKey"`
	RunID            string    `gorm:"index"`
	StrategyName     string
	Rounds           int
	MeanAvgLatencyMs float64
	MeanThroughput   float64
	MeanCommitRate   float64
	DataIntegrityOK  bool
	RecordedAt       time.Time
}

func (benchmarkSummaryRow) TableName() string { return "benchmark_summaries" }
