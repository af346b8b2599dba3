package genesis

import (
	"testing"

	"github.com/stretchr/testify/require"

	"MultiBridge/internal/aggregation"
	"MultiBridge/internal/message"
)

func TestParams(t *testing.T) {
	a := message.Address{0xA0}
	u := message.Address{0x11}

	cfg := Config{
		Threshold: 67,
		Sources:   []Source{{Address: a.String(), Weight: 10}},
		Origins:   []Origin{{ChainID: 1, Upstream: "0x" + u.String()}},
	}

	p, err := cfg.Params()
	require.NoError(t, err)
	require.Equal(t, aggregation.InitParams{
		ChainIDs:  []message.ChainID{1},
		Upstreams: []message.Address{u},
		Sources:   []message.Address{a},
		Weights:   []uint64{10},
		Threshold: 67,
	}, p)
}

func TestParamsRejectsBadAddresses(t *testing.T) {
	_, err := (&Config{Sources: []Source{{Address: "xyz", Weight: 1}}}).Params()
	require.Error(t, err)

	_, err = (&Config{Origins: []Origin{{ChainID: 1, Upstream: "abcd"}}}).Params()
	require.Error(t, err)
}

func TestProposalMessage(t *testing.T) {
	self := message.Address{0x5E}
	threshold := uint64(80)

	p := &Proposal{
		Threshold: &threshold,
		Sources:   []Source{{Address: message.Address{0xA0}.String(), Weight: 0}},
		Origins:   []Origin{{ChainID: 2, Upstream: message.Address{0x22}.String()}},
	}

	msg, err := p.Message(self, 10, 5)
	require.NoError(t, err)
	require.Equal(t, self, msg.Target)
	require.Equal(t, message.ChainID(10), msg.DstChainID)
	require.Equal(t, uint64(5), msg.Nonce)

	calls, err := aggregation.DecodeGovernance(msg.Payload)
	require.NoError(t, err)
	require.Len(t, calls, 3)
	require.Equal(t, aggregation.OpSetSources, calls[0].Op)
	require.Equal(t, []uint64{0}, calls[0].Weights)
	require.Equal(t, aggregation.OpSetOrigins, calls[1].Op)
	require.Equal(t, []message.ChainID{2}, calls[1].ChainIDs)
	require.Equal(t, aggregation.OpSetThreshold, calls[2].Op)
	require.Equal(t, uint64(80), calls[2].Threshold)
}

func TestEmptyProposal(t *testing.T) {
	_, err := (&Proposal{}).Calls()
	require.Error(t, err)
}
