// Package store persists the ledger using raw database/sql against
// SQLite, one file per replica — grounded on this lineage's rusqlite-based
// blockchain table schema, ported to Go's database/sql idiom.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	_ "github.com/mattn/go-sqlite3"

	"marketledger/internal/market"
)

// Error kinds matching the error taxonomy: NotFound for queries only,
// InvalidData for JSON decode failures, Storage for underlying driver
// errors.
var (
	ErrNotFound     = errors.New("store: not found")
	ErrInvalidData  = errors.New("store: invalid data")
)

const schema = `
CREATE TABLE IF NOT EXISTS blockchain (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	block_index INTEGER NOT NULL UNIQUE,
	timestamp INTEGER NOT NULL,
	data_json TEXT NOT NULL,
	prev_hash TEXT NOT NULL,
	hash TEXT NOT NULL UNIQUE,
	nonce INTEGER NOT NULL,
	created_at INTEGER DEFAULT (strftime('%s','now'))
);
CREATE INDEX IF NOT EXISTS idx_blockchain_index ON blockchain(block_index);
CREATE INDEX IF NOT EXISTS idx_blockchain_hash ON blockchain(hash);
CREATE INDEX IF NOT EXISTS idx_blockchain_timestamp ON blockchain(timestamp);
`

// Store is the replica-local ledger: a single exclusive SQLite connection
// (the database/sql pool is capped at one open connection), matching the
// "single connection behind a mutex" resource-ownership note: database/sql
// hands that connection to one caller at a time, so no additional mutex
// is needed.
type Store struct {
	db *sql.DB
}

// Stats summarizes the ledger for reporting.
type Stats struct {
	BlockCount int64
	LatestIndex uint64
	LatestHash  string
	ChainValid  bool
}

// Open creates or opens the SQLite file at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// SaveBlock inserts a single block.
func (s *Store) SaveBlock(b *market.Block) error {
	dataJSON, err := json.Marshal(b.Data)
	if err != nil {
		return fmt.Errorf("%w: marshal data: %v", ErrInvalidData, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO blockchain (block_index, timestamp, data_json, prev_hash, hash, nonce) VALUES (?, ?, ?, ?, ?, ?)`,
		b.Index, b.Timestamp, string(dataJSON), b.PreviousHash, b.Hash, b.Nonce,
	)
	if err != nil {
		return fmt.Errorf("store: save block %d: %w", b.Index, err)
	}
	return nil
}

// SaveBlocks inserts blocks transactionally: partial batches never persist.
func (s *Store) SaveBlocks(blocks []*market.Block) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("store: begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO blockchain (block_index, timestamp, data_json, prev_hash, hash, nonce) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("store: prepare batch insert: %w", err)
	}
	defer stmt.Close()

	for _, b := range blocks {
		dataJSON, err := json.Marshal(b.Data)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("%w: marshal data for block %d: %v", ErrInvalidData, b.Index, err)
		}
		if _, err := stmt.Exec(b.Index, b.Timestamp, string(dataJSON), b.PreviousHash, b.Hash, b.Nonce); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("store: insert block %d: %w", b.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit batch: %w", err)
	}
	return len(blocks), nil
}

func scanBlock(row *sql.Row) (*market.Block, error) {
	var b market.Block
	var dataJSON string
	err := row.Scan(&b.Index, &b.Timestamp, &dataJSON, &b.PreviousHash, &b.Hash, &b.Nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan block: %w", err)
	}
	if err := json.Unmarshal([]byte(dataJSON), &b.Data); err != nil {
		return nil, fmt.Errorf("%w: unmarshal data: %v", ErrInvalidData, err)
	}
	return &b, nil
}

// GetBlockByIndex fetches a block by its index.
func (s *Store) GetBlockByIndex(index uint64) (*market.Block, error) {
	row := s.db.QueryRow(`SELECT block_index, timestamp, data_json, prev_hash, hash, nonce FROM blockchain WHERE block_index = ?`, index)
	return scanBlock(row)
}

// GetBlockByHash fetches a block by its hash.
func (s *Store) GetBlockByHash(hash string) (*market.Block, error) {
	row := s.db.QueryRow(`SELECT block_index, timestamp, data_json, prev_hash, hash, nonce FROM blockchain WHERE hash = ?`, hash)
	return scanBlock(row)
}

// GetLatestBlock fetches the highest-index block, or ErrNotFound if empty.
func (s *Store) GetLatestBlock() (*market.Block, error) {
	row := s.db.QueryRow(`SELECT block_index, timestamp, data_json, prev_hash, hash, nonce FROM blockchain ORDER BY block_index DESC LIMIT 1`)
	return scanBlock(row)
}

// QueryLatestBlocks fetches up to limit blocks, most recent first.
func (s *Store) QueryLatestBlocks(limit int) ([]*market.Block, error) {
	rows, err := s.db.Query(`SELECT block_index, timestamp, data_json, prev_hash, hash, nonce FROM blockchain ORDER BY block_index DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query latest blocks: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// GetBlocksRange fetches blocks with index in [lo, hi], ascending.
func (s *Store) GetBlocksRange(lo, hi uint64) ([]*market.Block, error) {
	rows, err := s.db.Query(`SELECT block_index, timestamp, data_json, prev_hash, hash, nonce FROM blockchain WHERE block_index BETWEEN ? AND ? ORDER BY block_index ASC`, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("store: query range: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]*market.Block, error) {
	var blocks []*market.Block
	for rows.Next() {
		var b market.Block
		var dataJSON string
		if err := rows.Scan(&b.Index, &b.Timestamp, &dataJSON, &b.PreviousHash, &b.Hash, &b.Nonce); err != nil {
			return nil, fmt.Errorf("store: scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(dataJSON), &b.Data); err != nil {
			return nil, fmt.Errorf("%w: unmarshal data: %v", ErrInvalidData, err)
		}
		blocks = append(blocks, &b)
	}
	return blocks, rows.Err()
}

// GetBlockCount returns the total number of blocks stored.
func (s *Store) GetBlockCount() (int64, error) {
	var count int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM blockchain`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: count blocks: %w", err)
	}
	return count, nil
}

// DeleteBlock removes a block by index. Admin-only: never called from the
// driver's steady-state path.
func (s *Store) DeleteBlock(index uint64) error {
	_, err := s.db.Exec(`DELETE FROM blockchain WHERE block_index = ?`, index)
	if err != nil {
		return fmt.Errorf("store: delete block %d: %w", index, err)
	}
	return nil
}

// VerifyChain loads all blocks ascending by index and checks that each
// links to its predecessor and that its stored hash matches its content.
// An empty store verifies as true.
func (s *Store) VerifyChain() (bool, error) {
	count, err := s.GetBlockCount()
	if err != nil {
		return false, err
	}
	if count == 0 {
		return true, nil
	}

	blocks, err := s.GetBlocksRange(0, math.MaxInt64)
	if err != nil {
		return false, err
	}

	for i, b := range blocks {
		ok, err := b.VerifyHash()
		if err != nil || !ok {
			return false, err
		}
		if i == 0 {
			continue
		}
		if !b.LinksFrom(blocks[i-1]) {
			return false, nil
		}
	}
	return true, nil
}

// GetStats summarizes the ledger for the replica's /stats endpoint.
func (s *Store) GetStats() (Stats, error) {
	count, err := s.GetBlockCount()
	if err != nil {
		return Stats{}, err
	}
	valid, err := s.VerifyChain()
	if err != nil {
		return Stats{}, err
	}
	latest, err := s.GetLatestBlock()
	if errors.Is(err, ErrNotFound) {
		return Stats{BlockCount: count, ChainValid: valid}, nil
	}
	if err != nil {
		return Stats{}, err
	}
	return Stats{BlockCount: count, LatestIndex: latest.Index, LatestHash: latest.Hash, ChainValid: valid}, nil
}
