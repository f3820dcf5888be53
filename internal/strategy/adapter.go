// Package strategy flattens the consensus.Engine contract (and a handful
// of supplemental toy strategies) behind a single benchmark-facing
// surface: Execute(block) -> (*Block, error).
package strategy

import (
	"marketledger/internal/consensus"
	"marketledger/internal/market"
)

// Strategy is the uniform surface the benchmark harness drives. Execute
// returns the committed block on success, nil on Pending/Rejected (a
// Rejected outcome for malformed input included), and an error only for
// underlying errors propagated out of the engine.
type Strategy interface {
	Execute(block *market.Block) (*market.Block, error)
	Name() string
	Requirements() consensus.Requirements
	IsCommitted(index uint64) bool
}

// EngineAdapter wraps any consensus.Engine to expose the Strategy surface,
// mapping Committed->non-nil, Pending|Rejected->nil, and lifting errors.
type EngineAdapter struct {
	Engine consensus.Engine
}

// NewEngineAdapter wraps engine as a Strategy.
func NewEngineAdapter(engine consensus.Engine) *EngineAdapter {
	return &EngineAdapter{Engine: engine}
}

// Execute proposes block through the wrapped engine.
func (a *EngineAdapter) Execute(block *market.Block) (*market.Block, error) {
	res, err := a.Engine.Propose(block)
	if err != nil {
		return nil, err
	}
	switch res.Outcome {
	case consensus.Committed:
		return res.Block, nil
	case consensus.Rejected:
		return nil, nil
	default:
		return nil, nil
	}
}

// Name delegates to the wrapped engine.
func (a *EngineAdapter) Name() string { return a.Engine.Name() }

// Requirements delegates to the wrapped engine.
func (a *EngineAdapter) Requirements() consensus.Requirements { return a.Engine.Requirements() }

// IsCommitted delegates to the wrapped engine.
func (a *EngineAdapter) IsCommitted(index uint64) bool { return a.Engine.IsCommitted(index) }
