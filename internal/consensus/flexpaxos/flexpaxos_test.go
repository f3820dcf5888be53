package flexpaxos

import (
	"testing"

	"marketledger/internal/market"
)

func block(index uint64) *market.Block {
	b := &market.Block{Index: index, Timestamp: 100, PreviousHash: market.GenesisPreviousHash,
		Data: []market.MarketData{{Asset: "BTC", Price: 50000, Source: "Test", Timestamp: 100}}}
	_ = b.Seal()
	return b
}

func TestFlexiblePaxosHappyPath(t *testing.T) {
	e := New(0, 5, 3, 3)
	b := block(1)

	res, err := e.Propose(b)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if res.Outcome.String() != "committed" {
		t.Fatalf("expected committed, got %s", res.Outcome)
	}
}

func TestFlexiblePaxosSafetyOnRepropose(t *testing.T) {
	e := New(0, 5, 3, 3)
	b := block(1)

	first, err := e.Propose(b)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	// Re-propose a different block at the same logical index: the
	// earlier accepted value must be carried forward, not overwritten.
	other := block(1)
	other.Data[0].Price = 60000
	_ = other.Seal()

	second, err := e.Propose(other)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if second.Block.Hash != first.Block.Hash {
		t.Fatal("expected safety: second proposal should commit the first accepted value")
	}
}

func TestFlexiblePaxosConstructionFailsQ1PlusQ2(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic: Q1+Q2 <= N")
		}
	}()
	New(0, 5, 2, 2)
}

func TestFlexiblePaxosConstructionFailsQ1Minimum(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic: Q1 below ceil((N+1)/2)")
		}
	}()
	New(0, 5, 2, 4)
}
