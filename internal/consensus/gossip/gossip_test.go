package gossip

import (
	"encoding/json"
	"testing"
	"time"

	"marketledger/internal/consensus"
	"marketledger/internal/market"
)

func block(index uint64) *market.Block {
	b := &market.Block{Index: index, Timestamp: 100, PreviousHash: market.GenesisPreviousHash,
		Data: []market.MarketData{{Asset: "BTC", Price: 50000, Source: "Test", Timestamp: 100}}}
	_ = b.Seal()
	return b
}

func msgFor(b *market.Block, from int) consensus.Message {
	data, _ := json.Marshal(b)
	return consensus.Message{Algorithm: "gossip", BlockIndex: b.Index, BlockHash: b.Hash, NodeID: from, Data: data}
}

func TestGossipDiffusion(t *testing.T) {
	e := New(0, 1, 2, nil)
	b := block(1)

	res, err := e.Propose(b)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if res.Outcome.String() != "committed" {
		t.Fatalf("expected committed, got %s", res.Outcome)
	}
	if !e.IsCommitted(1) {
		t.Fatal("expected is_committed(1) true")
	}
}

func TestGossipHandleMessageReachesThreshold(t *testing.T) {
	e := New(0, 2, 3, nil)
	b := block(1)

	if res, _ := e.HandleMessage(msgFor(b, 1)); res.Outcome.String() == "committed" {
		t.Fatal("single sender should not yet reach a threshold of 2")
	}
	res, _ := e.HandleMessage(msgFor(b, 2))
	if res.Outcome.String() != "committed" {
		t.Fatal("two distinct senders should reach the threshold")
	}
}

func TestGossipPropagationTiming(t *testing.T) {
	e := New(0, 3, 2, nil)
	b := block(1)
	start := time.Now()
	if _, err := e.Propose(b); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 3*e.roundInterval {
		t.Fatalf("expected at least %d rounds of delay, got %v", e.Rounds, elapsed)
	}
}
