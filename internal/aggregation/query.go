package aggregation

import (
	"sort"

	"MultiBridge/internal/ledger"
	"MultiBridge/internal/message"
	"MultiBridge/internal/registry"
)

// Info is a consistent view of the engine configuration.
type Info struct {
	Self        message.Address   // Self is the governance target
	ChainID     message.ChainID   // ChainID is the local chain, 0 if unchecked
	Initialized bool              // Initialized reports whether bootstrap happened
	Threshold   uint64            // Threshold is the quorum percentage
	TotalWeight uint64            // TotalWeight is the sum of registered weights
	Sources     []registry.Source // Sources are sorted by address
	Origins     []registry.Origin // Origins are sorted by chain id
}

// MessageState is the quorum state of one message identity.
type MessageState struct {
	ID        message.ID        // ID is the message identity
	Status    ledger.Status     // Status is Unseen, Pending or Executed
	Attestors []message.Address // Attestors are the sources that attested and still hold weight, sorted
	Power     uint64            // Power is the accumulated weight under current weights
	Required  uint64            // Required is the minimum power for quorum, rounded up
}

// Info returns the current configuration.
func (e *Engine) Info() Info {
	e.mu.RLock()
	defer e.mu.RUnlock()

	sources := e.sources.List()
	sort.Slice(sources, func(i, j int) bool {
		return sources[i].Address.String() < sources[j].Address.String()
	})

	return Info{
		Self:        e.self,
		ChainID:     e.chainID,
		Initialized: e.initialized,
		Threshold:   e.threshold,
		TotalWeight: e.sources.TotalWeight(),
		Sources:     sources,
		Origins:     e.origins.List(),
	}
}

// Self returns the address governance messages must target.
func (e *Engine) Self() message.Address {
	return e.self
}

// Threshold returns the quorum percentage.
func (e *Engine) Threshold() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.threshold
}

// TotalWeight returns the sum of registered weights.
func (e *Engine) TotalWeight() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.sources.TotalWeight()
}

// Weight returns the weight of source, 0 if unregistered.
func (e *Engine) Weight(source message.Address) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.sources.Weight(source)
}

// Origin returns the upstream of chain, the null address if unset.
func (e *Engine) Origin(chain message.ChainID) message.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.origins.Get(chain)
}

// Initialized reports whether bootstrap happened.
func (e *Engine) Initialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.initialized
}

// Message returns the quorum state of id.
func (e *Engine) Message(id message.ID) (MessageState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rec, err := e.ledger.Get(id)
	if err != nil {
		return MessageState{}, err
	}

	st := MessageState{
		ID:       id,
		Status:   rec.Status(),
		Required: requiredPower(e.sources.TotalWeight(), e.threshold),
	}

	if rec.Attestors == nil {
		return st, nil
	}

	st.Power = e.sources.Power(rec.Attestors)

	for i, ok := rec.Attestors.NextSet(0); ok; i, ok = rec.Attestors.NextSet(i + 1) {
		if addr, ok := e.sources.AddressAt(i); ok && e.sources.IsRegistered(addr) {
			st.Attestors = append(st.Attestors, addr)
		}
	}

	sort.Slice(st.Attestors, func(i, j int) bool {
		return st.Attestors[i].String() < st.Attestors[j].String()
	})

	return st, nil
}

// requiredPower returns ceil(total*threshold/100), the smallest power reaching quorum.
func requiredPower(total, threshold uint64) uint64 {
	lo, hi := uint64(0), total
	for lo < hi {
		mid := lo + (hi-lo)/2
		if reachesQuorum(mid, total, threshold) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}
