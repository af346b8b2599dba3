package client

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"MultiBridge/internal/aggregation"
	"MultiBridge/internal/ledger"
	"MultiBridge/internal/message"
	"MultiBridge/internal/network"
)

// startAttestServer runs a QUIC node that counts requests and answers with handler.
func startAttestServer(t *testing.T, calls *atomic.Int32, handler network.RequestHandler) *network.Node {
	t.Helper()

	key, err := network.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	node, err := network.NewNode(network.Config{PrivateKey: key, ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}

	node.OnRequest(func(ctx context.Context, p *network.Peer, data []byte) ([]byte, error) {
		calls.Add(1)
		return handler(ctx, p, data)
	})

	if err := node.Start(); err != nil {
		t.Fatalf("start node: %v", err)
	}
	t.Cleanup(func() { node.Close() })

	return node
}

func dialAdapter(t *testing.T, ctx context.Context, addr string) *Adapter {
	t.Helper()

	key, err := network.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	a, err := Dial(ctx, addr, key)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	return a
}

func testAttestation() (message.Message, message.Provenance) {
	msg := message.Message{DstChainID: 2, Nonce: 7, Payload: []byte("hello")}
	prov := message.Provenance{SrcChainID: 1}
	return msg, prov
}

// TestAdapter_RedialsLostConnection tests that a request that never left the
// adapter is resent once over a fresh connection.
func TestAdapter_RedialsLostConnection(t *testing.T) {
	var calls atomic.Int32

	server := startAttestServer(t, &calls, func(ctx context.Context, p *network.Peer, data []byte) ([]byte, error) {
		if _, err := aggregation.DecodeAttestRequest(data); err != nil {
			return nil, err
		}
		return aggregation.EncodeAttestResponse(&aggregation.AttestResponse{
			Code:    aggregation.CodeOK,
			Outcome: aggregation.Outcome{Status: ledger.Pending, Power: 10},
		}), nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := dialAdapter(t, ctx, server.Addr())

	a.mu.Lock()
	lost := a.peer
	a.mu.Unlock()
	lost.Close()

	msg, prov := testAttestation()

	out, err := a.Attest(ctx, msg, prov)
	if err != nil {
		t.Fatalf("attest after lost connection: %v", err)
	}

	if out.Status != ledger.Pending || out.Power != 10 {
		t.Errorf("outcome = %+v", out)
	}

	if n := calls.Load(); n != 1 {
		t.Errorf("node handled %d requests, want 1", n)
	}

	a.mu.Lock()
	current := a.peer
	a.mu.Unlock()

	if current == lost {
		t.Error("adapter kept the closed connection")
	}
}

// TestAdapter_NoResendAfterWrite tests that a failure once the request was
// written is returned without a second submission.
func TestAdapter_NoResendAfterWrite(t *testing.T) {
	var calls atomic.Int32

	server := startAttestServer(t, &calls, func(ctx context.Context, p *network.Peer, data []byte) ([]byte, error) {
		return nil, errors.New("dropped")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := dialAdapter(t, ctx, server.Addr())

	msg, prov := testAttestation()

	_, err := a.Attest(ctx, msg, prov)
	if err == nil {
		t.Fatal("expected error when the node drops the response")
	}

	if errors.Is(err, network.ErrNotSent) {
		t.Errorf("read failure reported as unsent: %v", err)
	}

	if n := calls.Load(); n != 1 {
		t.Errorf("node handled %d requests, want 1", n)
	}
}
