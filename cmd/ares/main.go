// Command ares runs a single consensus-engine replica: it extracts BTC/USD
// prices, builds blocks, drives them through the chosen consensus
// strategy alongside its peers, and persists committed blocks to a local
// ledger. Usage:
//
//	ares [node_id] [port] [--offline|-o] [--consensus=NAME|-c NAME]
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"marketledger/internal/config"
	"marketledger/internal/consensus"
	"marketledger/internal/consensus/eventual"
	"marketledger/internal/consensus/flexpaxos"
	"marketledger/internal/consensus/gossip"
	"marketledger/internal/consensus/pbft"
	"marketledger/internal/consensus/quorumless"
	"marketledger/internal/driver"
	"marketledger/internal/extract"
	"marketledger/internal/logger"
	"marketledger/internal/market"
	"marketledger/internal/store"
	"marketledger/internal/transport"
)

var nodeAddresses = []string{
	"http://127.0.0.1:8000",
	"http://127.0.0.1:8001",
	"http://127.0.0.1:8002",
	"http://127.0.0.1:8003",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(1)
	}

	nodeID, port, offline, consensusName := parseArgs(os.Args[1:], cfg)
	cfg.NodeID, cfg.Port, cfg.Offline, cfg.ConsensusName = nodeID, port, offline, consensusName
	if os.Getenv("LEDGER_DB_PATH") == "" {
		cfg.DBPath = fmt.Sprintf("blockchain_node_%d.db", cfg.NodeID)
	}

	tuning := connectAmbientPostgres(cfg)

	logger.Info("ares: starting replica", "node_id", cfg.NodeID, "port", cfg.Port, "consensus", cfg.ConsensusName, "offline", cfg.Offline)

	shutdownTracer, err := setupTracer()
	if err != nil {
		logger.Warn("ares: otel setup failed, continuing without tracing", "error", err.Error())
		shutdownTracer = func(context.Context) error { return nil }
	}
	defer shutdownTracer(context.Background())

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error("ares: store open failed", err)
		os.Exit(1)
	}
	defer st.Close()

	sharedSecret := os.Getenv("REPLICA_SHARED_SECRET")
	client := transport.NewClient(cfg.NodeID, sharedSecret)

	broadcast := func(msg consensus.Message) {
		client.Broadcast(context.Background(), msg, nodeAddresses, cfg.Port)
	}

	engine, err := buildEngine(cfg.ConsensusName, cfg.NodeID, len(nodeAddresses), broadcast, tuning)
	if err != nil {
		logger.Error("ares: unknown consensus strategy", err, "name", cfg.ConsensusName)
		os.Exit(1)
	}
	engine = &tracingEngine{Engine: engine}

	server := transport.NewServer(func(msg consensus.Message) (bool, error) {
		res, err := engine.HandleMessage(msg)
		return res.Outcome == consensus.Committed, err
	}, func() map[string]interface{} {
		stats, _ := st.GetStats()
		return map[string]interface{}{
			"block_count":  stats.BlockCount,
			"latest_index": stats.LatestIndex,
			"chain_valid":  stats.ChainValid,
		}
	}, sharedSecret)

	httpServer := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Port),
		Handler:        server.Handler(),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ares: http server failed", err)
		}
	}()

	time.Sleep(500 * time.Millisecond)

	extractor := extract.New(cfg.CoinGeckoBaseURL, cfg.MaxExtractRetries).WithCache(cfg.RedisAddr, 5*time.Second)
	transformer := market.NewTransformer()

	d, err := driver.New(extractor, transformer, engine, st, cfg.Offline)
	if err != nil {
		logger.Error("ares: driver init failed", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.RunRounds(ctx, 3, 3*time.Second)
		close(done)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		logger.Info("ares: received shutdown signal")
	case <-done:
		logger.Info("ares: completed scheduled rounds")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ares: http server shutdown error", "error", err.Error())
	}
	if tuning != nil {
		tuning.Close()
	}

	printLatestBlocks(st, 5)
	logger.Info("ares: replica exiting", "node_id", cfg.NodeID)
}

// connectAmbientPostgres dials the optional ambient Postgres database used
// for structured log persistence and hot-reloadable strategy tuning. It is
// never fatal: an unreachable database leaves logging console-only and
// tuning on its hardcoded defaults, matching the reference implementation's
// degrade-gracefully posture for its one genuinely optional dependency.
func connectAmbientPostgres(cfg *config.Config) *config.Manager {
	db, err := gorm.Open(postgres.Open(cfg.DBDSN()), &gorm.Config{})
	if err != nil {
		logger.SetGlobalLogger(logger.NewLogger("ares", nil))
		logger.Warn("ares: ambient postgres unavailable, logging to console only", "error", err.Error())
		return nil
	}

	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(2)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	logger.SetGlobalLogger(logger.NewLogger("ares", db))
	return config.NewManager(db, "ares")
}

// parseArgs applies the CLI contract: [node_id] [port] [--offline|-o]
// [--consensus=NAME|-c NAME], falling back to an interactive menu when
// consensus is omitted and stdin is a terminal, and to PBFT otherwise.
func parseArgs(args []string, cfg *config.Config) (nodeID, port int, offline bool, consensusName string) {
	nodeID, port = cfg.NodeID, cfg.Port
	offline = cfg.Offline
	consensusName = ""

	positional := 0
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--offline" || arg == "-o":
			offline = true
		case strings.HasPrefix(arg, "--consensus="):
			consensusName = strings.TrimPrefix(arg, "--consensus=")
		case arg == "-c" && i+1 < len(args):
			i++
			consensusName = args[i]
		case positional == 0:
			if n, err := strconv.Atoi(arg); err == nil {
				nodeID = n
				port = 8000 + n
			}
			positional++
		case positional == 1:
			if n, err := strconv.Atoi(arg); err == nil {
				port = n
			}
			positional++
		}
	}

	if consensusName == "" {
		consensusName = promptConsensusName()
	}

	return nodeID, port, offline, consensusName
}

func promptConsensusName() string {
	stat, err := os.Stdin.Stat()
	if err != nil || (stat.Mode()&os.ModeCharDevice) == 0 {
		return "pbft"
	}

	fmt.Println("Select a consensus strategy:")
	fmt.Println("  1. pbft")
	fmt.Println("  2. gossip")
	fmt.Println("  3. eventual")
	fmt.Println("  4. quorumless")
	fmt.Println("  5. flexible_paxos")
	fmt.Print("> ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return "pbft"
	}
	choice := strings.TrimSpace(scanner.Text())
	switch choice {
	case "1", "":
		return "pbft"
	case "2":
		return "gossip"
	case "3":
		return "eventual"
	case "4":
		return "quorumless"
	case "5":
		return "flexible_paxos"
	default:
		return choice
	}
}

// buildEngine constructs the chosen consensus engine. When tuning is
// non-nil (ambient Postgres reachable), per-strategy tunables are pulled
// from service_config, falling back to the reference implementation's
// hardcoded defaults otherwise.
func buildEngine(name string, nodeID, totalNodes int, broadcast func(consensus.Message), tuning *config.Manager) (consensus.Engine, error) {
	getInt := func(key string, def int) int {
		if tuning == nil {
			return def
		}
		return tuning.GetInt(key, def)
	}

	switch name {
	case "pbft":
		return pbft.New(nodeID, totalNodes, broadcast), nil
	case "gossip":
		rounds := getInt("gossip_rounds", 2)
		fanout := getInt("gossip_fanout", 2)
		return gossip.New(nodeID, rounds, fanout, broadcast), nil
	case "eventual":
		delayMs := getInt("eventual_delay_ms", 500)
		minConfirmations := getInt("eventual_min_confirmations", 1)
		return eventual.New(nodeID, time.Duration(delayMs)*time.Millisecond, minConfirmations), nil
	case "quorumless":
		threshold := getInt("quorumless_threshold", 5)
		return quorumless.New(nodeID, float64(threshold)), nil
	case "flexible_paxos":
		q1 := getInt("flexpaxos_q1", (totalNodes/2)+1)
		q2 := getInt("flexpaxos_q2", (totalNodes/2)+1)
		return flexpaxos.New(nodeID, totalNodes, q1, q2), nil
	default:
		return nil, fmt.Errorf("unrecognized consensus strategy %q", name)
	}
}

func printLatestBlocks(st *store.Store, n int) {
	blocks, err := st.QueryLatestBlocks(n)
	if err != nil {
		logger.Warn("ares: failed to load latest blocks for summary", "error", err.Error())
		return
	}
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Latest %d blocks:\n", len(blocks))
	for _, b := range blocks {
		fmt.Printf("  #%d hash=%s... prev=%s...\n", b.Index, truncate(b.Hash), truncate(b.PreviousHash))
	}
}

func truncate(s string) string {
	if len(s) < 8 {
		return s
	}
	return s[:8]
}

// tracingEngine wraps a consensus.Engine with an OpenTelemetry span per
// Propose call, since Propose is where a replica commits resources
// (network broadcasts, possible mining work) to a single block.
type tracingEngine struct {
	consensus.Engine
}

func (t *tracingEngine) Propose(block *market.Block) (consensus.Result, error) {
	tracer := otel.Tracer("marketledger/consensus")
	_, span := tracer.Start(context.Background(), "propose", oteltrace.WithAttributes(
		attribute.Int64("block.index", int64(block.Index)),
		attribute.String("consensus.algorithm", t.Engine.Name()),
	))
	defer span.End()

	res, err := t.Engine.Propose(block)
	span.SetAttributes(attribute.String("consensus.outcome", res.Outcome.String()))
	return res, err
}

func setupTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("build stdout exporter: %w", err)
	}
	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}
