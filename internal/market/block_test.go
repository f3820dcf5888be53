package market

import "testing"

func TestBlockHashLength(t *testing.T) {
	b := &Block{Index: 1, Timestamp: 100, PreviousHash: GenesisPreviousHash}
	h, err := b.CalculateHash()
	if err != nil {
		t.Fatalf("CalculateHash: %v", err)
	}
	if len(h) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h))
	}
}

func TestBlockHashConsistency(t *testing.T) {
	b1 := &Block{Index: 1, Timestamp: 100, Data: []MarketData{{Asset: "BTC", Price: 50000, Source: "Test", Timestamp: 100}}, PreviousHash: GenesisPreviousHash}
	b2 := &Block{Index: 1, Timestamp: 100, Data: []MarketData{{Asset: "BTC", Price: 50000, Source: "Test", Timestamp: 100}}, PreviousHash: GenesisPreviousHash}
	h1, _ := b1.CalculateHash()
	h2, _ := b2.CalculateHash()
	if h1 != h2 {
		t.Fatalf("identical blocks must hash identically: %s != %s", h1, h2)
	}
}

func TestBlockVerifyHashAfterSeal(t *testing.T) {
	b := &Block{Index: 1, Timestamp: 100, PreviousHash: GenesisPreviousHash}
	if err := b.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	ok, err := b.VerifyHash()
	if err != nil {
		t.Fatalf("VerifyHash: %v", err)
	}
	if !ok {
		t.Fatal("sealed block should verify")
	}
}

func TestBlockLinksFrom(t *testing.T) {
	prev := &Block{Index: 0, PreviousHash: GenesisPreviousHash}
	_ = prev.Seal()
	next := &Block{Index: 1, PreviousHash: prev.Hash}
	if !next.LinksFrom(prev) {
		t.Fatal("expected next to link from prev")
	}

	corrupt := &Block{Index: 1, PreviousHash: "wrong_hash"}
	if corrupt.LinksFrom(prev) {
		t.Fatal("expected corrupt block not to link")
	}
}
