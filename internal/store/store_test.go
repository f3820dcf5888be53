package store

import (
	"errors"
	"path/filepath"
	"testing"

	"marketledger/internal/market"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeBlock(index uint64, prevHash string) *market.Block {
	b := &market.Block{
		Index:        index,
		Timestamp:    1_700_000_000 + int64(index),
		PreviousHash: prevHash,
		Data:         []market.MarketData{{Asset: "BTC", Price: 50000, Source: "Test", Timestamp: 1_700_000_000}},
	}
	_ = b.Seal()
	return b
}

func TestSaveAndFetchByIndex(t *testing.T) {
	s := openTestStore(t)
	b := makeBlock(1, market.GenesisPreviousHash)
	if err := s.SaveBlock(b); err != nil {
		t.Fatalf("SaveBlock: %v", err)
	}

	got, err := s.GetBlockByIndex(1)
	if err != nil {
		t.Fatalf("GetBlockByIndex: %v", err)
	}
	if got.Hash != b.Hash {
		t.Fatalf("round-trip mismatch: got %s, want %s", got.Hash, b.Hash)
	}
}

func TestSaveAndFetchByHash(t *testing.T) {
	s := openTestStore(t)
	b := makeBlock(1, market.GenesisPreviousHash)
	if err := s.SaveBlock(b); err != nil {
		t.Fatalf("SaveBlock: %v", err)
	}

	got, err := s.GetBlockByHash(b.Hash)
	if err != nil {
		t.Fatalf("GetBlockByHash: %v", err)
	}
	if got.Index != b.Index {
		t.Fatalf("round-trip mismatch: got index %d, want %d", got.Index, b.Index)
	}
}

func TestEmptyStoreDefaults(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetLatestBlock(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty store, got %v", err)
	}
	valid, err := s.VerifyChain()
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !valid {
		t.Fatal("empty store should verify as valid")
	}
}

func TestBatchWritesAreAtomic(t *testing.T) {
	s := openTestStore(t)

	b1 := makeBlock(1, market.GenesisPreviousHash)
	b2 := makeBlock(1, market.GenesisPreviousHash) // duplicate index -> unique constraint violation

	n, err := s.SaveBlocks([]*market.Block{b1, b2})
	if err == nil {
		t.Fatal("expected an error from the duplicate-index batch")
	}
	if n != 0 {
		t.Fatalf("expected 0 blocks saved on rollback, got %d", n)
	}
	count, err := s.GetBlockCount()
	if err != nil {
		t.Fatalf("GetBlockCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no partial batch to persist, got count %d", count)
	}
}

func TestVerifyChainDetectsCorruption(t *testing.T) {
	s := openTestStore(t)

	b1 := makeBlock(1, market.GenesisPreviousHash)
	b2 := makeBlock(2, b1.Hash)
	if _, err := s.SaveBlocks([]*market.Block{b1, b2}); err != nil {
		t.Fatalf("SaveBlocks: %v", err)
	}

	valid, err := s.VerifyChain()
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !valid {
		t.Fatal("expected a correctly linked chain to verify")
	}

	b3 := makeBlock(3, "wrong_hash")
	if err := s.SaveBlock(b3); err != nil {
		t.Fatalf("SaveBlock: %v", err)
	}

	valid, err = s.VerifyChain()
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if valid {
		t.Fatal("expected corruption to be detected")
	}
}

func TestGetStats(t *testing.T) {
	s := openTestStore(t)
	b := makeBlock(1, market.GenesisPreviousHash)
	if err := s.SaveBlock(b); err != nil {
		t.Fatalf("SaveBlock: %v", err)
	}

	stats, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.BlockCount != 1 || stats.LatestIndex != 1 || !stats.ChainValid {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
