package network

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// generateTestKey generates a random ed25519 key pair for testing.
func generateTestKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()

	priv, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	return priv
}

// startServer starts a listening node answering requests with handler.
func startServer(t *testing.T, handler RequestHandler) *Node {
	t.Helper()

	server, err := NewNode(Config{
		PrivateKey: generateTestKey(t),
		ListenAddr: "127.0.0.1:0",
	})
	if err != nil {
		t.Fatalf("create server: %v", err)
	}

	if handler != nil {
		server.OnRequest(handler)
	}

	if err := server.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}

	t.Cleanup(func() { server.Close() })

	return server
}

// newDialer creates a dial-only node.
func newDialer(t *testing.T, key ed25519.PrivateKey) *Node {
	t.Helper()

	client, err := NewNode(Config{PrivateKey: key})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}

	t.Cleanup(func() { client.Close() })

	return client
}

// TestNodeStartStop tests starting and stopping a node.
func TestNodeStartStop(t *testing.T) {
	node, err := NewNode(Config{
		PrivateKey: generateTestKey(t),
		ListenAddr: "127.0.0.1:0",
	})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}

	if err := node.Start(); err != nil {
		t.Fatalf("start node: %v", err)
	}

	if node.Addr() == "" {
		t.Error("started node has no address")
	}

	if err := node.Close(); err != nil {
		t.Fatalf("close node: %v", err)
	}
}

// TestDialOnlyNodeCannotStart tests that a node without listen address refuses Start.
func TestDialOnlyNodeCannotStart(t *testing.T) {
	node := newDialer(t, generateTestKey(t))

	if err := node.Start(); err == nil {
		t.Fatal("expected error without listen address")
	}
}

// TestRequestResponse tests a request carrying the caller's verified identity.
func TestRequestResponse(t *testing.T) {
	clientKey := generateTestKey(t)
	clientPub := clientKey.Public().(ed25519.PublicKey)

	var sawKey atomic.Bool

	server := startServer(t, func(ctx context.Context, p *Peer, data []byte) ([]byte, error) {
		sawKey.Store(bytes.Equal(p.PublicKey(), clientPub))
		return append([]byte("echo:"), data...), nil
	})

	client := newDialer(t, clientKey)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peer, err := client.Connect(ctx, server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if !bytes.Equal(peer.PublicKey(), server.PublicKey()) {
		t.Error("client sees wrong server key")
	}

	resp, err := peer.Request(ctx, []byte("ping"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if string(resp) != "echo:ping" {
		t.Errorf("response = %q", resp)
	}

	if !sawKey.Load() {
		t.Error("server did not see the client's key")
	}

	if server.GetPeer(clientPub) == nil {
		t.Error("server does not track the client")
	}
}

// TestConcurrentRequests tests many requests over one connection.
func TestConcurrentRequests(t *testing.T) {
	server := startServer(t, func(ctx context.Context, p *Peer, data []byte) ([]byte, error) {
		return data, nil
	})

	client := newDialer(t, generateTestKey(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	peer, err := client.Connect(ctx, server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	errs := make(chan error, 32)

	for i := 0; i < 32; i++ {
		go func(i int) {
			resp, err := peer.Request(ctx, []byte{byte(i)})
			if err == nil && (len(resp) != 1 || resp[0] != byte(i)) {
				err = errors.New("mismatched response")
			}
			errs <- err
		}(i)
	}

	for i := 0; i < 32; i++ {
		if err := <-errs; err != nil {
			t.Errorf("request: %v", err)
		}
	}
}

// TestRequestHandlerError tests that a failing handler yields a request error.
func TestRequestHandlerError(t *testing.T) {
	server := startServer(t, func(ctx context.Context, p *Peer, data []byte) ([]byte, error) {
		return nil, errors.New("refused")
	})

	client := newDialer(t, generateTestKey(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peer, err := client.Connect(ctx, server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	_, err = peer.Request(ctx, []byte("x"))
	if err == nil {
		t.Fatal("expected error when handler fails")
	}

	if errors.Is(err, ErrNotSent) {
		t.Errorf("failure after write reported as unsent: %v", err)
	}
}

// TestDisconnect tests that closing the client removes it from the server.
func TestDisconnect(t *testing.T) {
	disconnected := make(chan struct{}, 1)

	server := startServer(t, func(ctx context.Context, p *Peer, data []byte) ([]byte, error) {
		return data, nil
	})
	server.OnDisconnect(func(p *Peer) {
		disconnected <- struct{}{}
	})

	clientKey := generateTestKey(t)
	client := newDialer(t, clientKey)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peer, err := client.Connect(ctx, server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	// A request guarantees the server accepted the connection.
	if _, err := peer.Request(ctx, []byte("x")); err != nil {
		t.Fatalf("request: %v", err)
	}

	peer.Close()

	select {
	case <-disconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw the disconnect")
	}

	if server.GetPeer(clientKey.Public().(ed25519.PublicKey)) != nil {
		t.Error("peer still tracked after disconnect")
	}

	if _, err := peer.Request(ctx, []byte("x")); !errors.Is(err, ErrNotSent) {
		t.Errorf("request on closed peer = %v, want ErrNotSent", err)
	}
}

// TestLargeMessage tests framing near and over the size limit.
func TestLargeMessage(t *testing.T) {
	var buf bytes.Buffer

	data := bytes.Repeat([]byte{0xAB}, maxMessageSize)
	if err := writeMessage(&buf, data); err != nil {
		t.Fatalf("write max-size frame: %v", err)
	}

	got, err := readMessage(&buf)
	if err != nil {
		t.Fatalf("read max-size frame: %v", err)
	}

	if !bytes.Equal(got, data) {
		t.Error("frame corrupted")
	}

	if err := writeMessage(&buf, make([]byte, maxMessageSize+1)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
}

// TestReadMessageTruncated tests that a short frame is an error.
func TestReadMessageTruncated(t *testing.T) {
	var buf bytes.Buffer

	if err := writeMessage(&buf, []byte("hello")); err != nil {
		t.Fatal(err)
	}

	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-1])

	if _, err := readMessage(truncated); err == nil {
		t.Fatal("expected error for truncated frame")
	}
}

// TestLoadOrGenerateKey tests key persistence.
func TestLoadOrGenerateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")

	first, err := LoadOrGenerateKey(path)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	second, err := LoadOrGenerateKey(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Error("reloaded key differs")
	}

	if err := os.WriteFile(path, []byte("short"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadOrGenerateKey(path); err == nil {
		t.Error("expected error for truncated key file")
	}
}
