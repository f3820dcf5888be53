// Package eventual implements time-gated eventual-consistency consensus:
// a block is committed unconditionally once a fixed delay has elapsed.
package eventual

import (
	"encoding/json"
	"sync"
	"time"

	"marketledger/internal/consensus"
	"marketledger/internal/market"
)

// Engine commits a proposed block after Delay elapses, tracking
// confirmations against MinConfirmations.
//
// The reference variant this is grounded on declares min_confirmations but
// never checks it before committing. Per the open question in the
// specification this implementation takes option (a): it enforces a
// count-based threshold, requiring MinConfirmations distinct
// confirmations (the proposer's own plus HandleMessage acks) before a block
// counts as committed. MinConfirmations=1 (the common case) is satisfied
// by the proposer alone, so single-replica behavior is unchanged from the
// unenforced reference.
type Engine struct {
	nodeID           int
	Delay            time.Duration
	MinConfirmations int

	mu            sync.RWMutex
	confirmations map[uint64]map[int]bool
	committed     map[uint64]*market.Block
}

// New constructs an eventual-consistency engine.
func New(nodeID int, delay time.Duration, minConfirmations int) *Engine {
	if minConfirmations < 1 {
		minConfirmations = 1
	}
	return &Engine{
		nodeID:           nodeID,
		Delay:            delay,
		MinConfirmations: minConfirmations,
		confirmations:    make(map[uint64]map[int]bool),
		committed:        make(map[uint64]*market.Block),
	}
}

// Propose blocks for Delay, then records its own confirmation and commits
// once MinConfirmations distinct confirmations have been seen.
func (e *Engine) Propose(block *market.Block) (consensus.Result, error) {
	time.Sleep(e.Delay)

	e.mu.Lock()
	if e.confirmations[block.Index] == nil {
		e.confirmations[block.Index] = make(map[int]bool)
	}
	e.confirmations[block.Index][e.nodeID] = true
	reached := len(e.confirmations[block.Index]) >= e.MinConfirmations
	if reached {
		e.committed[block.Index] = block
	}
	e.mu.Unlock()

	if reached {
		return consensus.Result{Outcome: consensus.Committed, Block: block}, nil
	}
	return consensus.Result{Outcome: consensus.Pending}, nil
}

// HandleMessage records a peer's acknowledgment of a block, committing it
// if that pushes the confirmation count to MinConfirmations.
func (e *Engine) HandleMessage(msg consensus.Message) (consensus.Result, error) {
	e.mu.Lock()
	if e.confirmations[msg.BlockIndex] == nil {
		e.confirmations[msg.BlockIndex] = make(map[int]bool)
	}
	e.confirmations[msg.BlockIndex][msg.NodeID] = true
	reached := len(e.confirmations[msg.BlockIndex]) >= e.MinConfirmations
	if _, already := e.committed[msg.BlockIndex]; reached && !already {
		var b *market.Block
		var decoded market.Block
		if json.Unmarshal(msg.Data, &decoded) == nil {
			b = &decoded
		}
		e.committed[msg.BlockIndex] = b
	}
	e.mu.Unlock()

	if reached {
		return consensus.Result{Outcome: consensus.Committed}, nil
	}
	return consensus.Result{Outcome: consensus.Pending}, nil
}

// IsCommitted reports whether the block at index has been committed.
func (e *Engine) IsCommitted(index uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.committed[index]
	return ok
}

// Name identifies the protocol.
func (e *Engine) Name() string { return "eventual" }

// Requirements describes eventual consistency's lack of a node-count floor.
func (e *Engine) Requirements() consensus.Requirements {
	return consensus.Requirements{
		RequiresMajority: false,
		MinNodes:         nil,
		Description:      "Eventual: commits after a fixed delay once enough confirmations arrive",
	}
}
