// Package gossip implements epidemic diffusion consensus: the proposer
// commits a block locally once its diffusion rounds have run, and a
// receiving replica commits it once enough distinct peers are known to
// have seen it.
package gossip

import (
	"encoding/json"
	"sync"
	"time"

	"marketledger/internal/consensus"
	"marketledger/internal/market"
)

// state tracks diffusion progress for a single block.
type state struct {
	blockIndex   uint64
	blockHash    string
	receivedFrom map[int]bool
	firstSeen    int64
}

// Engine diffuses a block across Rounds rounds of Fanout broadcasts each.
// Propose commits the block locally once the rounds have run, without
// checking the seer set; HandleMessage commits once the seer set reaches
// the Rounds threshold.
//
// Per the design notes, the HandleMessage commitment test compares the
// seer-set size against Rounds, not Fanout, even though the two are
// different quantities (round count vs. peer count) — this is preserved
// as the protocol's declared behavior, not corrected.
type Engine struct {
	nodeID int
	Rounds int
	Fanout int

	mu        sync.RWMutex
	states    map[uint64]*state
	committed map[uint64]*market.Block

	roundInterval time.Duration
	broadcast     func(consensus.Message)
}

// New constructs a gossip engine with the given round count and fanout.
func New(nodeID, rounds, fanout int, broadcast func(consensus.Message)) *Engine {
	return &Engine{
		nodeID:        nodeID,
		Rounds:        rounds,
		Fanout:        fanout,
		states:        make(map[uint64]*state),
		committed:     make(map[uint64]*market.Block),
		roundInterval: 100 * time.Millisecond,
		broadcast:     broadcast,
	}
}

// Propose records self as a seer, performs Rounds rounds of forwarding
// (Fanout broadcast calls each), and then commits the block locally. It
// always returns Committed: the seer set is not compared against the
// Rounds threshold here, and forwarding does not add peers to it.
func (e *Engine) Propose(block *market.Block) (consensus.Result, error) {
	e.mu.Lock()
	st, ok := e.states[block.Index]
	if !ok {
		st = &state{blockIndex: block.Index, blockHash: block.Hash, receivedFrom: make(map[int]bool), firstSeen: time.Now().Unix()}
		e.states[block.Index] = st
	}
	st.receivedFrom[e.nodeID] = true
	e.mu.Unlock()

	for round := 0; round < e.Rounds; round++ {
		e.forward(block)
		time.Sleep(e.roundInterval)
	}

	e.mu.Lock()
	e.committed[block.Index] = block
	e.mu.Unlock()

	return consensus.Result{Outcome: consensus.Committed, Block: block}, nil
}

func (e *Engine) forward(block *market.Block) {
	if e.broadcast == nil {
		return
	}
	data, err := json.Marshal(block)
	if err != nil {
		return
	}
	for i := 0; i < e.Fanout; i++ {
		e.broadcast(consensus.NewMessage("gossip", block.Index, block.Hash, e.nodeID, data))
	}
}

// HandleMessage adds the sender to the block's seer set and commits
// locally once the set's size reaches Rounds.
func (e *Engine) HandleMessage(msg consensus.Message) (consensus.Result, error) {
	e.mu.Lock()
	st, ok := e.states[msg.BlockIndex]
	if !ok {
		st = &state{blockIndex: msg.BlockIndex, blockHash: msg.BlockHash, receivedFrom: make(map[int]bool), firstSeen: time.Now().Unix()}
		e.states[msg.BlockIndex] = st
	}
	st.receivedFrom[msg.NodeID] = true
	reached := len(st.receivedFrom) >= e.Rounds
	if reached {
		var b market.Block
		if err := json.Unmarshal(msg.Data, &b); err == nil {
			e.committed[msg.BlockIndex] = &b
		}
	}
	e.mu.Unlock()

	if reached {
		return consensus.Result{Outcome: consensus.Committed}, nil
	}
	return consensus.Result{Outcome: consensus.Pending}, nil
}

// IsCommitted reports whether the block at index has been locally committed.
func (e *Engine) IsCommitted(index uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.committed[index]
	return ok
}

// Name identifies the protocol.
func (e *Engine) Name() string { return "gossip" }

// Requirements describes gossip's lack of a hard node-count floor.
func (e *Engine) Requirements() consensus.Requirements {
	return consensus.Requirements{
		RequiresMajority: false,
		MinNodes:         nil,
		Description:      "Gossip: eventual local commit once enough peers have seen the block",
	}
}
