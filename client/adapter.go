package client

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"

	"MultiBridge/internal/aggregation"
	"MultiBridge/internal/message"
	"MultiBridge/internal/network"
)

// Adapter submits attestations to a node on behalf of one source.
// The source identity is the ed25519 key the adapter dials with; the node
// must have it registered with a positive weight.
type Adapter struct {
	nodeAddr string        // nodeAddr is the node's QUIC address
	local    *network.Node // local is the dial-only QUIC endpoint
	source   message.Address

	mu   sync.Mutex
	peer *network.Peer // peer is the current connection, redialed on failure
}

// Dial connects an adapter with key to the node at addr.
func Dial(ctx context.Context, addr string, key ed25519.PrivateKey) (*Adapter, error) {
	local, err := network.NewNode(network.Config{PrivateKey: key})
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		nodeAddr: addr,
		local:    local,
		source:   message.Address(key.Public().(ed25519.PublicKey)),
	}

	if _, err := a.connect(ctx); err != nil {
		local.Close()
		return nil, err
	}

	return a, nil
}

// Source returns the address the node sees this adapter as.
func (a *Adapter) Source() message.Address {
	return a.source
}

// Attest submits msg with the provenance the adapter verified on its transport.
// Errors from the node are the aggregation sentinels (errors.Is works), with
// the node's detail text attached.
func (a *Adapter) Attest(ctx context.Context, msg message.Message, prov message.Provenance) (aggregation.Outcome, error) {
	req := aggregation.EncodeAttestRequest(&aggregation.AttestRequest{Message: msg, Provenance: prov})

	data, err := a.request(ctx, req)
	if err != nil {
		return aggregation.Outcome{}, err
	}

	resp, err := aggregation.DecodeAttestResponse(data)
	if err != nil {
		return aggregation.Outcome{}, fmt.Errorf("decode response:\n%w", err)
	}

	if err := resp.Err(); err != nil {
		return aggregation.Outcome{}, err
	}

	return resp.Outcome, nil
}

// request sends data. It redials and resends once only when the request never
// left this side; a failure after the write returns as is, since the node may
// already have applied the attestation.
func (a *Adapter) request(ctx context.Context, data []byte) ([]byte, error) {
	a.mu.Lock()
	peer := a.peer
	a.mu.Unlock()

	resp, err := peer.Request(ctx, data)
	if err == nil {
		return resp, nil
	}

	if !errors.Is(err, network.ErrNotSent) || ctx.Err() != nil {
		return nil, err
	}

	peer, dialErr := a.connect(ctx)
	if dialErr != nil {
		return nil, fmt.Errorf("request failed:\n%w\nredial failed:\n%w", err, dialErr)
	}

	return peer.Request(ctx, data)
}

// connect dials the node and replaces the current peer.
func (a *Adapter) connect(ctx context.Context) (*network.Peer, error) {
	peer, err := a.local.Connect(ctx, a.nodeAddr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s:\n%w", a.nodeAddr, err)
	}

	a.mu.Lock()
	old := a.peer
	a.peer = peer
	a.mu.Unlock()

	if old != nil {
		old.Close()
	}

	return peer, nil
}

// Close closes the connection.
func (a *Adapter) Close() error {
	return a.local.Close()
}
