// Package quorumless implements weighted-vote commit: a block commits
// once the summed weight of its true-voters reaches an absolute threshold,
// independent of any fixed node count.
package quorumless

import (
	"encoding/json"
	"sync"

	"marketledger/internal/consensus"
	"marketledger/internal/market"
)

// Engine tracks per-node weights and per-block votes, committing once the
// total weight of true-voters reaches Threshold.
type Engine struct {
	nodeID    int
	Threshold float64

	mu      sync.RWMutex
	weights map[int]float64
	votes   map[uint64]map[int]bool

	committed map[uint64]*market.Block
}

// New constructs a quorum-less engine seeded with default weight 1.0 for
// node ids 0..9, matching the reference implementation's default pool.
func New(nodeID int, threshold float64) *Engine {
	weights := make(map[int]float64, 10)
	for n := 0; n < 10; n++ {
		weights[n] = 1.0
	}
	return &Engine{
		nodeID:    nodeID,
		Threshold: threshold,
		weights:   weights,
		votes:     make(map[uint64]map[int]bool),
		committed: make(map[uint64]*market.Block),
	}
}

// SetNodeWeight overrides a node's vote weight.
func (e *Engine) SetNodeWeight(node int, weight float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.weights[node] = weight
}

func (e *Engine) totalWeight(index uint64) float64 {
	var total float64
	for node, voted := range e.votes[index] {
		if voted {
			total += e.weights[node]
		}
	}
	return total
}

// Propose records this replica's vote for block.Index and commits if the
// accumulated weight already reaches Threshold.
func (e *Engine) Propose(block *market.Block) (consensus.Result, error) {
	e.mu.Lock()
	if e.votes[block.Index] == nil {
		e.votes[block.Index] = make(map[int]bool)
	}
	e.votes[block.Index][e.nodeID] = true
	reached := e.totalWeight(block.Index) >= e.Threshold
	if reached {
		e.committed[block.Index] = block
	}
	e.mu.Unlock()

	if reached {
		return consensus.Result{Outcome: consensus.Committed, Block: block}, nil
	}
	return consensus.Result{Outcome: consensus.Pending}, nil
}

// HandleMessage records another node's vote and re-checks the threshold,
// committing if it is now reached.
func (e *Engine) HandleMessage(msg consensus.Message) (consensus.Result, error) {
	e.mu.Lock()
	if e.votes[msg.BlockIndex] == nil {
		e.votes[msg.BlockIndex] = make(map[int]bool)
	}
	e.votes[msg.BlockIndex][msg.NodeID] = true
	reached := e.totalWeight(msg.BlockIndex) >= e.Threshold
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
func (e *Engine) Name() string { return "quorumless" }

// Requirements describes the weighted-vote protocol's node-count needs.
func (e *Engine) Requirements() consensus.Requirements {
	return consensus.Requirements{
		RequiresMajority: false,
		MinNodes:         nil,
		Description:      "Quorum-less: commits once accumulated vote weight reaches an absolute threshold",
	}
}
