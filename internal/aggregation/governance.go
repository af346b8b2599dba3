package aggregation

import (
	"fmt"

	"MultiBridge/internal/events"
	"MultiBridge/internal/message"
	"MultiBridge/internal/state"
)

// Op is a governance operation selector.
type Op uint8

const (
	// OpSetSources sets the weight of each listed source; weight 0 removes it.
	OpSetSources Op = 0x01
	// OpSetOrigins sets the upstream of each listed chain.
	OpSetOrigins Op = 0x02
	// OpSetThreshold sets the quorum threshold.
	OpSetThreshold Op = 0x03
)

// GovCall is one operation of a governance payload. Only the fields of Op are used.
type GovCall struct {
	Op        Op                // Op selects the operation
	Sources   []message.Address // Sources pairs with Weights for OpSetSources
	Weights   []uint64          // Weights pairs with Sources for OpSetSources
	ChainIDs  []message.ChainID // ChainIDs pairs with Upstreams for OpSetOrigins
	Upstreams []message.Address // Upstreams pairs with ChainIDs for OpSetOrigins
	Threshold uint64            // Threshold is the value for OpSetThreshold
}

// EncodeGovernance encodes calls as the payload of a self-targeted message.
// Format: u32 count, then per call u8 op followed by its arguments:
//
//	0x01: u32 n, n x [32]u8 source, u32 m, m x u64 weight
//	0x02: u32 n, n x u64 chain id, u32 m, m x [32]u8 upstream
//	0x03: u64 threshold
func EncodeGovernance(calls []GovCall) []byte {
	var w borshWriter

	w.u32(uint32(len(calls)))

	for _, c := range calls {
		w.u8(uint8(c.Op))

		switch c.Op {
		case OpSetSources:
			w.u32(uint32(len(c.Sources)))
			for _, a := range c.Sources {
				w.address(a)
			}
			w.u32(uint32(len(c.Weights)))
			for _, v := range c.Weights {
				w.u64(v)
			}

		case OpSetOrigins:
			w.u32(uint32(len(c.ChainIDs)))
			for _, id := range c.ChainIDs {
				w.u64(uint64(id))
			}
			w.u32(uint32(len(c.Upstreams)))
			for _, a := range c.Upstreams {
				w.address(a)
			}

		case OpSetThreshold:
			w.u64(c.Threshold)
		}
	}

	return w.buf
}

// DecodeGovernance parses a payload produced by EncodeGovernance.
// Parallel arrays of different lengths decode fine; they are rejected when applied.
func DecodeGovernance(data []byte) ([]GovCall, error) {
	r := borshReader{data: data}

	// Every call is at least one byte.
	n := r.count(1)
	calls := make([]GovCall, 0, n)

	for i := 0; i < n && r.err == nil; i++ {
		c := GovCall{Op: Op(r.u8())}

		switch c.Op {
		case OpSetSources:
			c.Sources = make([]message.Address, r.count(message.AddressSize))
			for j := range c.Sources {
				c.Sources[j] = r.address()
			}
			c.Weights = make([]uint64, r.count(8))
			for j := range c.Weights {
				c.Weights[j] = r.u64()
			}

		case OpSetOrigins:
			c.ChainIDs = make([]message.ChainID, r.count(8))
			for j := range c.ChainIDs {
				c.ChainIDs[j] = message.ChainID(r.u64())
			}
			c.Upstreams = make([]message.Address, r.count(message.AddressSize))
			for j := range c.Upstreams {
				c.Upstreams[j] = r.address()
			}

		case OpSetThreshold:
			c.Threshold = r.u64()

		default:
			if r.err == nil {
				return nil, fmt.Errorf("%w: unknown op 0x%02x at call %d", ErrMalformedGovernance, uint8(c.Op), i)
			}
		}

		calls = append(calls, c)
	}

	if r.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedGovernance, r.err)
	}

	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedGovernance, r.remaining())
	}

	return calls, nil
}

// capability authorizes governance mutations. The engine mints one for each
// message it dispatches and for the bootstrap, and revokes it right after.
type capability struct {
	msgID message.ID // msgID is the message the capability was minted for
}

// authorize checks that tok is the capability currently in force.
func (e *Engine) authorize(tok *capability) error {
	if tok == nil || tok != e.active {
		return ErrUnauthorizedGovernance
	}
	return nil
}

// govern decodes and applies a self-targeted payload.
func (e *Engine) govern(tok *capability, txn *state.Txn, evs *[]events.Event, payload []byte) error {
	calls, err := DecodeGovernance(payload)
	if err != nil {
		return err
	}

	for i, c := range calls {
		var err error

		switch c.Op {
		case OpSetSources:
			err = e.setSources(tok, txn, evs, c.Sources, c.Weights)
		case OpSetOrigins:
			err = e.setOrigins(tok, txn, evs, c.ChainIDs, c.Upstreams)
		case OpSetThreshold:
			err = e.setThreshold(tok, txn, evs, c.Threshold)
		}

		if err != nil {
			return fmt.Errorf("governance call %d (op 0x%02x):\n%w", i, uint8(c.Op), err)
		}
	}

	return nil
}

// setSources applies a batch of source weights. Empty batches are accepted.
func (e *Engine) setSources(tok *capability, txn *state.Txn, evs *[]events.Event, sources []message.Address, weights []uint64) error {
	if err := e.authorize(tok); err != nil {
		return err
	}

	if len(sources) != len(weights) {
		return fmt.Errorf("%w: %d sources, %d weights", ErrLengthMismatch, len(sources), len(weights))
	}

	for i, src := range sources {
		old := e.sources.Weight(src)

		if err := e.sources.SetWeight(txn, src, weights[i]); err != nil {
			return fmt.Errorf("source %s:\n%w", src.Short(), err)
		}

		*evs = append(*evs, events.Event{
			Kind:        events.SourceWeightChanged,
			Source:      src,
			OldWeight:   old,
			Weight:      weights[i],
			TotalWeight: e.sources.TotalWeight(),
		})
	}

	return nil
}

// setOrigins applies a batch of upstreams. Empty batches are accepted.
func (e *Engine) setOrigins(tok *capability, txn *state.Txn, evs *[]events.Event, chains []message.ChainID, upstreams []message.Address) error {
	if err := e.authorize(tok); err != nil {
		return err
	}

	if len(chains) != len(upstreams) {
		return fmt.Errorf("%w: %d chains, %d upstreams", ErrLengthMismatch, len(chains), len(upstreams))
	}

	for i, chain := range chains {
		if err := e.origins.Set(txn, chain, upstreams[i]); err != nil {
			return fmt.Errorf("origin %d:\n%w", chain, err)
		}

		*evs = append(*evs, events.Event{
			Kind:       events.OriginChanged,
			SrcChainID: chain,
			Upstream:   upstreams[i],
		})
	}

	return nil
}

// setThreshold stores a new threshold percentage.
func (e *Engine) setThreshold(tok *capability, txn *state.Txn, evs *[]events.Event, threshold uint64) error {
	if err := e.authorize(tok); err != nil {
		return err
	}

	if threshold > 100 {
		return fmt.Errorf("%w: %d > 100", ErrInvalidThreshold, threshold)
	}

	old := e.threshold
	e.threshold = threshold
	txn.OnRevert(func() { e.threshold = old })
	txn.Set(keyThreshold, encodeU64(threshold))

	*evs = append(*evs, events.Event{
		Kind:      events.ThresholdChanged,
		Threshold: threshold,
	})

	return nil
}
