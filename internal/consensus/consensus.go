// Package consensus defines the polymorphic contract shared by every
// protocol variant (PBFT, gossip, eventual, quorum-less, flexible Paxos)
// and the generic message envelope they exchange over the transport.
package consensus

import (
	"github.com/google/uuid"

	"marketledger/internal/market"
)

// Outcome classifies the result of a propose/handle_message call.
type Outcome int

const (
	// Pending means the replica has not yet determined finality.
	Pending Outcome = iota
	// Committed means this replica considers the block final.
	Committed
	// Rejected means the input was malformed; never used for ordinary
	// quorum failure, which is Pending.
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case Rejected:
		return "rejected"
	default:
		return "pending"
	}
}

// Result is the outcome of propose/handle_message: the committed block
// (only set when Outcome == Committed), a rejection reason, or neither.
type Result struct {
	Outcome Outcome
	Block   *market.Block
	Reason  string
}

// Requirements describes a protocol's node-count and majority needs, used
// for benchmark labelling and CLI display.
type Requirements struct {
	RequiresMajority bool
	MinNodes         *int
	Description      string
}

// Message is the generic envelope every protocol serializes over the
// transport. Protocol-specific payloads (e.g. PBFT's view/sequence/kind)
// are carried opaquely in Data and decoded by the receiving engine.
type Message struct {
	ID         string `json:"id"`
	Algorithm  string `json:"algorithm"`
	BlockIndex uint64 `json:"block_index"`
	BlockHash  string `json:"block_hash"`
	NodeID     int    `json:"node_id"`
	Data       []byte `json:"data"`
}

// NewMessage stamps msg with a fresh correlation ID, for use at the point
// a protocol engine broadcasts a message onto the transport.
func NewMessage(algorithm string, blockIndex uint64, blockHash string, nodeID int, data []byte) Message {
	return Message{
		ID:         uuid.NewString(),
		Algorithm:  algorithm,
		BlockIndex: blockIndex,
		BlockHash:  blockHash,
		NodeID:     nodeID,
		Data:       data,
	}
}

// Engine is the contract every protocol variant implements. Implementations
// own their internal state behind a sync.RWMutex and never hold that lock
// across a suspension point (sleep, network call).
type Engine interface {
	// Propose is called once per block by the driver. Semantics of
	// "commit" vary by protocol but always mean: this replica has
	// determined the block is final from its local perspective.
	Propose(block *market.Block) (Result, error)
	// HandleMessage is the entry point for messages arriving on the
	// transport. Protocols that simulate all peers in-process may make
	// this a no-op.
	HandleMessage(msg Message) (Result, error)
	// IsCommitted is an idempotent query; once true for an index it
	// never becomes false again.
	IsCommitted(index uint64) bool
	// Name identifies the protocol for display/benchmark labelling.
	Name() string
	// Requirements describes node-count and majority needs.
	Requirements() Requirements
}
