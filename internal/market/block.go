// Package market defines the ledger's content model: market observations
// and the hash-chained blocks that carry them.
package market

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// MarketData is a single externally-ingested price observation, frozen
// once embedded in a Block.
type MarketData struct {
	Asset     string  `json:"asset"`
	Price     float64 `json:"price"`
	Source    string  `json:"source"`
	Timestamp int64   `json:"timestamp"`
}

// Block is an append-only ledger entry: index, timestamp, payload,
// previous hash, own hash, nonce.
type Block struct {
	Index        uint64       `json:"index"`
	Timestamp    int64        `json:"timestamp"`
	Data         []MarketData `json:"data"`
	PreviousHash string       `json:"previous_hash"`
	Hash         string       `json:"hash"`
	Nonce        uint64       `json:"nonce"`
}

// GenesisPreviousHash is the previous_hash sentinel for index 0.
const GenesisPreviousHash = "0000_genesis"

// CalculateHash returns SHA-256 over index||timestamp||JSON(data)||previous_hash||nonce.
// It does not mutate the block, allowing callers to verify a stored hash.
func (b *Block) CalculateHash() (string, error) {
	dataJSON, err := json.Marshal(b.Data)
	if err != nil {
		return "", fmt.Errorf("market: marshal block data: %w", err)
	}
	payload := fmt.Sprintf("%d%d%s%s%d", b.Index, b.Timestamp, dataJSON, b.PreviousHash, b.Nonce)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:]), nil
}

// Seal computes and stores the block's own hash.
func (b *Block) Seal() error {
	h, err := b.CalculateHash()
	if err != nil {
		return err
	}
	b.Hash = h
	return nil
}

// VerifyHash reports whether the block's stored hash matches its content.
func (b *Block) VerifyHash() (bool, error) {
	h, err := b.CalculateHash()
	if err != nil {
		return false, err
	}
	return h == b.Hash, nil
}

// LinksFrom reports whether b correctly chains onto prev: b.PreviousHash
// must equal prev.Hash. Index 0 never calls this; it chains onto
// GenesisPreviousHash instead.
func (b *Block) LinksFrom(prev *Block) bool {
	return b.PreviousHash == prev.Hash
}
