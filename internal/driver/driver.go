// Package driver wires extraction, transformation, consensus, and storage
// into the per-replica ETL+consensus run loop, grounded on the reference
// implementation's main loop (extract -> transform -> block -> consensus
// -> save, repeated for a fixed number of rounds).
package driver

import (
	"context"
	"fmt"
	"time"

	"marketledger/internal/consensus"
	"marketledger/internal/extract"
	"marketledger/internal/logger"
	"marketledger/internal/market"
	"marketledger/internal/store"
)

// Driver runs the steady-state pipeline for one replica.
type Driver struct {
	Extractor   *extract.Extractor
	Transformer *market.Transformer
	Engine      consensus.Engine
	Store       *store.Store

	Offline bool

	lastHash      string
	lastIndex     uint64
	lastTimestamp *int64
}

// New constructs a Driver, seeding its chain-linking state from whatever
// the store already has persisted (so a restarted replica continues the
// chain rather than forking it).
func New(extractor *extract.Extractor, transformer *market.Transformer, engine consensus.Engine, st *store.Store, offline bool) (*Driver, error) {
	d := &Driver{
		Extractor:   extractor,
		Transformer: transformer,
		Engine:      engine,
		Store:       st,
		Offline:     offline,
		lastHash:    market.GenesisPreviousHash,
	}

	latest, err := st.GetLatestBlock()
	if err == nil {
		d.lastHash = latest.Hash
		d.lastIndex = latest.Index
		ts := latest.Timestamp
		d.lastTimestamp = &ts
		logger.Info("driver: resuming chain", "last_index", latest.Index, "last_hash_prefix", prefix(latest.Hash))
	} else if err != store.ErrNotFound {
		return nil, fmt.Errorf("driver: load latest block: %w", err)
	}

	return d, nil
}

func prefix(s string) string {
	if len(s) < 8 {
		return s
	}
	return s[:8]
}

// RunRounds executes n rounds of the ETL+consensus pipeline, sleeping
// interval between rounds. A round that fails at any stage is logged and
// skipped; it never aborts the remaining rounds.
func (d *Driver) RunRounds(ctx context.Context, n int, interval time.Duration) {
	for round := 1; round <= n; round++ {
		logger.Info("driver: starting round", "round", round, "of", n)

		if err := d.RunOnce(ctx); err != nil {
			logger.Warn("driver: round failed", "round", round, "error", err.Error())
		}

		if round == n {
			break
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce executes a single extract -> transform -> block -> consensus ->
// store cycle, advancing the chain-linking state only on success.
func (d *Driver) RunOnce(ctx context.Context) error {
	var result *extract.Result
	var err error
	if d.Offline {
		result, err = d.Extractor.ExtractOffline(ctx)
	} else {
		result, err = d.Extractor.ExtractFromAPI(ctx)
	}
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	logger.Info("driver: extracted price", "price", result.Price, "source", result.Source)

	transformed, err := d.Transformer.Transform("BTC", result.Price, result.Timestamp, result.Source, d.lastTimestamp)
	if err != nil {
		return fmt.Errorf("transform: %w", err)
	}
	if transformed.IsDeduplicated {
		logger.Info("driver: skipping duplicate observation within dedup window")
		return nil
	}

	nextIndex := d.lastIndex + 1
	block := &market.Block{
		Index:        nextIndex,
		Timestamp:    time.Now().Unix(),
		Data:         []market.MarketData{{Asset: transformed.Asset, Price: transformed.Price, Source: transformed.Source, Timestamp: transformed.Timestamp}},
		PreviousHash: d.lastHash,
	}
	if err := block.Seal(); err != nil {
		return fmt.Errorf("seal block: %w", err)
	}
	logger.Info("driver: built block", "index", block.Index, "hash_prefix", prefix(block.Hash))

	res, err := d.Engine.Propose(block)
	if err != nil {
		return fmt.Errorf("consensus (%s): %w", d.Engine.Name(), err)
	}
	if res.Outcome != consensus.Committed {
		logger.Warn("driver: block failed to reach consensus", "index", block.Index, "algorithm", d.Engine.Name(), "outcome", res.Outcome.String())
		return nil
	}

	committed := res.Block
	if committed == nil {
		committed = block
	}
	if err := d.Store.SaveBlock(committed); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	d.lastHash = committed.Hash
	d.lastIndex = committed.Index
	ts := committed.Timestamp
	d.lastTimestamp = &ts

	logger.Info("driver: committed and saved block", "index", committed.Index)
	return nil
}
