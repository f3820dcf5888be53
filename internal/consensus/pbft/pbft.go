// Package pbft implements the three-phase Byzantine agreement protocol:
// Pre-Prepare, Prepare, Commit, with quorum tracking keyed by (view,
// sequence). Grounded on the vote-set/quorum-size shape of this lineage's
// Byzantine consensus engine, generalized from a single fixed quorum
// formula into the market-ledger's propose/handle_message contract.
package pbft

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"marketledger/internal/consensus"
	"marketledger/internal/market"
)

// MessageKind distinguishes the three PBFT phases.
type MessageKind int

const (
	PrePrepare MessageKind = iota
	Prepare
	Commit
)

// WireMessage is the PBFT-specific payload carried in consensus.Message.Data.
type WireMessage struct {
	Kind      MessageKind  `json:"kind"`
	View      uint64       `json:"view"`
	Sequence  uint64       `json:"sequence"`
	BlockHash string       `json:"block_hash"`
	Payload   *market.Block `json:"payload,omitempty"`
	Sender    int          `json:"sender"`
	Timestamp int64        `json:"timestamp"`
}

type logKey struct {
	view     uint64
	sequence uint64
}

// Engine is a single replica's PBFT state machine. Total replicas N must
// be at least 4 (N = 3f+1); quorum Q = 2f+1.
type Engine struct {
	nodeID     int
	totalNodes int
	view       uint64

	mu          sync.RWMutex
	prePrepares map[logKey]map[int]bool
	prepares    map[logKey]map[int]bool
	commits     map[logKey]map[int]bool
	committed   map[uint64]*market.Block
	prePrepared map[logKey]string // hash seen for equivocation defence

	// broadcast is invoked for each outgoing message; nil means no
	// network fan-out (single-process simulation, as permitted by
	// the non-goals around real Byzantine deployment).
	broadcast func(consensus.Message)

	phaseDelay time.Duration
}

// New constructs a PBFT engine for nodeID among totalNodes replicas.
// broadcast may be nil to simulate all peers in-process.
func New(nodeID, totalNodes int, broadcast func(consensus.Message)) *Engine {
	return &Engine{
		nodeID:      nodeID,
		totalNodes:  totalNodes,
		prePrepares: make(map[logKey]map[int]bool),
		prepares:    make(map[logKey]map[int]bool),
		commits:     make(map[logKey]map[int]bool),
		committed:   make(map[uint64]*market.Block),
		prePrepared: make(map[logKey]string),
		broadcast:   broadcast,
		phaseDelay:  500 * time.Millisecond,
	}
}

// FaultTolerance returns f, the maximum tolerated faulty replicas.
func (e *Engine) FaultTolerance() int {
	return (e.totalNodes - 1) / 3
}

// QuorumSize returns Q = 2f+1 for the engine's total replica count.
func QuorumSize(totalNodes int) int {
	f := (totalNodes - 1) / 3
	return 2*f + 1
}

// IsPrimary reports whether this replica proposes for sequence s.
func (e *Engine) IsPrimary(sequence uint64) bool {
	return int(sequence%uint64(e.totalNodes)) == e.nodeID
}

func hasQuorum(voters map[int]bool, totalNodes int) bool {
	return len(voters) >= QuorumSize(totalNodes)
}

// Propose drives the three-phase flow for block.Index as the sequence
// number: primary broadcasts Pre-Prepare, then every replica broadcasts
// Prepare once it accepted the Pre-Prepare, then Commit once prepared.
// Each phase sleeps briefly to allow propagation before the next.
func (e *Engine) Propose(block *market.Block) (consensus.Result, error) {
	seq := block.Index
	key := logKey{view: e.view, sequence: seq}

	if e.IsPrimary(seq) {
		msg := WireMessage{Kind: PrePrepare, View: e.view, Sequence: seq, BlockHash: block.Hash, Payload: block, Sender: e.nodeID, Timestamp: time.Now().Unix()}
		if _, err := e.applyPrePrepare(msg); err != nil {
			return consensus.Result{}, err
		}
		e.send(msg)
	}
	time.Sleep(e.phaseDelay)

	prepMsg := WireMessage{Kind: Prepare, View: e.view, Sequence: seq, BlockHash: block.Hash, Sender: e.nodeID, Timestamp: time.Now().Unix()}
	e.applyPrepare(prepMsg)
	e.send(prepMsg)
	time.Sleep(e.phaseDelay)

	e.mu.RLock()
	prepared := hasQuorum(e.prepares[key], e.totalNodes)
	e.mu.RUnlock()
	if prepared {
		commitMsg := WireMessage{Kind: Commit, View: e.view, Sequence: seq, BlockHash: block.Hash, Sender: e.nodeID, Timestamp: time.Now().Unix()}
		e.applyCommit(commitMsg, block)
		e.send(commitMsg)
	}
	time.Sleep(e.phaseDelay)

	if e.IsCommitted(seq) {
		return consensus.Result{Outcome: consensus.Committed, Block: block}, nil
	}
	return consensus.Result{Outcome: consensus.Pending}, nil
}

// HandleMessage decodes a PBFT wire message from a generic envelope and
// applies it to local state.
func (e *Engine) HandleMessage(msg consensus.Message) (consensus.Result, error) {
	var wire WireMessage
	if err := json.Unmarshal(msg.Data, &wire); err != nil {
		return consensus.Result{Outcome: consensus.Rejected, Reason: "malformed pbft payload"}, nil
	}

	switch wire.Kind {
	case PrePrepare:
		if _, err := e.applyPrePrepare(wire); err != nil {
			return consensus.Result{}, err
		}
	case Prepare:
		e.applyPrepare(wire)
	case Commit:
		e.applyCommit(wire, wire.Payload)
	}

	if e.IsCommitted(wire.Sequence) {
		return consensus.Result{Outcome: consensus.Committed, Block: e.committed[wire.Sequence]}, nil
	}
	return consensus.Result{Outcome: consensus.Pending}, nil
}

func (e *Engine) applyPrePrepare(msg WireMessage) (bool, error) {
	key := logKey{msg.View, msg.Sequence}

	e.mu.Lock()
	if seen, ok := e.prePrepared[key]; ok && seen != msg.BlockHash {
		e.mu.Unlock()
		return false, fmt.Errorf("pbft: equivocation detected for view=%d seq=%d", msg.View, msg.Sequence)
	}
	e.prePrepared[key] = msg.BlockHash
	if e.prePrepares[key] == nil {
		e.prePrepares[key] = make(map[int]bool)
	}
	e.prePrepares[key][msg.Sender] = true
	e.mu.Unlock()
	return true, nil
}

func (e *Engine) applyPrepare(msg WireMessage) bool {
	key := logKey{msg.View, msg.Sequence}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.prepares[key] == nil {
		e.prepares[key] = make(map[int]bool)
	}
	e.prepares[key][msg.Sender] = true
	return hasQuorum(e.prepares[key], e.totalNodes)
}

func (e *Engine) applyCommit(msg WireMessage, block *market.Block) bool {
	key := logKey{msg.View, msg.Sequence}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.commits[key] == nil {
		e.commits[key] = make(map[int]bool)
	}
	e.commits[key][msg.Sender] = true
	if hasQuorum(e.commits[key], e.totalNodes) {
		if _, already := e.committed[msg.Sequence]; !already && block != nil {
			e.committed[msg.Sequence] = block
		}
		return true
	}
	return false
}

func (e *Engine) send(msg WireMessage) {
	if e.broadcast == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	e.broadcast(consensus.NewMessage("pbft", msg.Sequence, msg.BlockHash, e.nodeID, data))
}

// IsCommitted reports whether sequence has reached commit quorum.
func (e *Engine) IsCommitted(sequence uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.committed[sequence]
	return ok
}

// Name identifies the protocol.
func (e *Engine) Name() string { return "pbft" }

// Requirements describes PBFT's node-count and majority needs.
func (e *Engine) Requirements() consensus.Requirements {
	min := 4
	return consensus.Requirements{
		RequiresMajority: true,
		MinNodes:         &min,
		Description:      "PBFT: requires 2f+1 out of 3f+1 nodes to agree",
	}
}
