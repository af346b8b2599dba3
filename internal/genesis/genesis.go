package genesis

import (
	"fmt"

	"MultiBridge/internal/aggregation"
	"MultiBridge/internal/message"
)

// Source is a weighted attestor as written in TOML.
type Source struct {
	Address string // Address is the adapter's hex ed25519 public key
	Weight  uint64 // Weight is the voting weight, 0 removes in a proposal
}

// Origin is a trusted upstream as written in TOML.
type Origin struct {
	ChainID  uint64 // ChainID is the source chain
	Upstream string // Upstream is the hex address of the trusted sender
}

// Config holds the bootstrap configuration applied once by Engine.Initialize.
type Config struct {
	Threshold uint64   // Threshold is the quorum percentage
	Sources   []Source // Sources are the initial attestors
	Origins   []Origin // Origins are the initial trusted upstreams
}

// Params converts the configuration into engine bootstrap parameters.
// Range and emptiness checks are left to the engine.
func (c *Config) Params() (aggregation.InitParams, error) {
	var p aggregation.InitParams

	sources, weights, err := parseSources(c.Sources)
	if err != nil {
		return p, err
	}

	chains, upstreams, err := parseOrigins(c.Origins)
	if err != nil {
		return p, err
	}

	p.Sources, p.Weights = sources, weights
	p.ChainIDs, p.Upstreams = chains, upstreams
	p.Threshold = c.Threshold

	return p, nil
}

// Proposal describes a configuration change to submit as a governance message.
// Unset sections produce no call.
type Proposal struct {
	Threshold *uint64  // Threshold is the new quorum percentage, nil to keep
	Sources   []Source // Sources are weight changes
	Origins   []Origin // Origins are upstream changes
}

// Calls converts the proposal into governance calls, sources first.
func (p *Proposal) Calls() ([]aggregation.GovCall, error) {
	var calls []aggregation.GovCall

	if len(p.Sources) > 0 {
		sources, weights, err := parseSources(p.Sources)
		if err != nil {
			return nil, err
		}

		calls = append(calls, aggregation.GovCall{Op: aggregation.OpSetSources, Sources: sources, Weights: weights})
	}

	if len(p.Origins) > 0 {
		chains, upstreams, err := parseOrigins(p.Origins)
		if err != nil {
			return nil, err
		}

		calls = append(calls, aggregation.GovCall{Op: aggregation.OpSetOrigins, ChainIDs: chains, Upstreams: upstreams})
	}

	if p.Threshold != nil {
		calls = append(calls, aggregation.GovCall{Op: aggregation.OpSetThreshold, Threshold: *p.Threshold})
	}

	if len(calls) == 0 {
		return nil, fmt.Errorf("proposal changes nothing")
	}

	return calls, nil
}

// Message builds the self-targeted message carrying the proposal.
// Every source must relay this exact message for it to reach quorum.
func (p *Proposal) Message(self message.Address, dst message.ChainID, nonce uint64) (message.Message, error) {
	calls, err := p.Calls()
	if err != nil {
		return message.Message{}, err
	}

	return message.Message{
		DstChainID: dst,
		Nonce:      nonce,
		Target:     self,
		Payload:    aggregation.EncodeGovernance(calls),
	}, nil
}

// parseSources decodes source addresses into parallel arrays.
func parseSources(list []Source) ([]message.Address, []uint64, error) {
	sources := make([]message.Address, len(list))
	weights := make([]uint64, len(list))

	for i, s := range list {
		addr, err := message.ParseAddress(s.Address)
		if err != nil {
			return nil, nil, fmt.Errorf("source %d:\n%w", i, err)
		}

		sources[i] = addr
		weights[i] = s.Weight
	}

	return sources, weights, nil
}

// parseOrigins decodes origins into parallel arrays.
func parseOrigins(list []Origin) ([]message.ChainID, []message.Address, error) {
	chains := make([]message.ChainID, len(list))
	upstreams := make([]message.Address, len(list))

	for i, o := range list {
		addr, err := message.ParseAddress(o.Upstream)
		if err != nil {
			return nil, nil, fmt.Errorf("origin %d:\n%w", i, err)
		}

		chains[i] = message.ChainID(o.ChainID)
		upstreams[i] = addr
	}

	return chains, upstreams, nil
}
