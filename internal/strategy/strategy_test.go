package strategy

import (
	"testing"

	"marketledger/internal/consensus/quorumless"
	"marketledger/internal/market"
)

func block(index uint64) *market.Block {
	b := &market.Block{Index: index, Timestamp: 100, PreviousHash: market.GenesisPreviousHash,
		Data: []market.MarketData{{Asset: "BTC", Price: 50000, Source: "Test", Timestamp: 100}}}
	_ = b.Seal()
	return b
}

func TestEngineAdapterMapsCommitted(t *testing.T) {
	engine := quorumless.New(0, 0.5) // single default-weight vote clears a low threshold
	adapter := NewEngineAdapter(engine)

	got, err := adapter.Execute(block(1))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got == nil {
		t.Fatal("expected a committed block")
	}
	if !adapter.IsCommitted(1) {
		t.Fatal("expected IsCommitted true")
	}
}

func TestEngineAdapterMapsPending(t *testing.T) {
	engine := quorumless.New(0, 10.0)
	adapter := NewEngineAdapter(engine)

	got, err := adapter.Execute(block(1))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil for a pending outcome")
	}
}

func TestNoConsensusAlwaysCommits(t *testing.T) {
	s := NewNoConsensusStrategy()
	got, err := s.Execute(block(1))
	if err != nil || got == nil {
		t.Fatalf("expected unconditional commit, got=%v err=%v", got, err)
	}
}

func TestSimpleMajorityCommits(t *testing.T) {
	s := NewSimpleMajorityStrategy(4)
	got, err := s.Execute(block(1))
	if err != nil || got == nil {
		t.Fatalf("expected commit, got=%v err=%v", got, err)
	}
}

func TestSimplifiedPoWMinesWithinBudget(t *testing.T) {
	s := NewSimplifiedPoWStrategy(1, 100_000)
	got, err := s.Execute(block(1))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got == nil {
		t.Fatal("expected a mined block within the attempt budget")
	}
}
