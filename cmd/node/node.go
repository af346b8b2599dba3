package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"MultiBridge/internal/aggregation"
	"MultiBridge/internal/api"
	"MultiBridge/internal/dispatch"
	"MultiBridge/internal/events"
	"MultiBridge/internal/logger"
	"MultiBridge/internal/message"
	"MultiBridge/internal/metrics"
	"MultiBridge/internal/network"
	"MultiBridge/internal/podvm"
	"MultiBridge/internal/receipt"
	"MultiBridge/internal/storage"
)

// Node represents a running MultiBridge node.
type Node struct {
	cfg      *Config
	key      ed25519.PrivateKey // key is the node identity; its public key is the governance target
	storage  *storage.Storage
	podPool  *podvm.Pool // podPool is nil when no pods dir is configured
	router   *dispatch.Router
	bus      *events.Bus
	metrics  *metrics.Metrics
	receipts *receipt.Signer
	engine   *aggregation.Engine
	network  *network.Node
	api      *api.Server // api is nil when the HTTP address is empty
}

// NewNode creates and initializes a new node. restore, if set, is a snapshot
// imported into the empty store before anything reads it.
func NewNode(ctx context.Context, cfg *Config, key ed25519.PrivateKey, restore string) (*Node, error) {
	n := &Node{cfg: cfg, key: key}

	if err := n.initStorage(restore); err != nil {
		n.Close()
		return nil, err
	}

	if err := n.initDispatch(ctx); err != nil {
		n.Close()
		return nil, err
	}

	if err := n.initObservers(); err != nil {
		n.Close()
		return nil, err
	}

	if err := n.initEngine(); err != nil {
		n.Close()
		return nil, err
	}

	if err := n.initNetwork(); err != nil {
		n.Close()
		return nil, err
	}

	n.initAPI()

	return n, nil
}

// self returns the governance target address.
func (n *Node) self() message.Address {
	return message.Address(n.key.Public().(ed25519.PublicKey))
}

// Start opens the adapter listener and the HTTP API.
func (n *Node) Start() error {
	if err := n.network.Start(); err != nil {
		return fmt.Errorf("start network:\n%w", err)
	}

	if n.api != nil {
		if err := n.api.Start(); err != nil {
			return fmt.Errorf("start api:\n%w", err)
		}
	}

	info := n.engine.Info()

	logger.Info("node started",
		"self", info.Self.String(),
		"chain", info.ChainID,
		"quic", n.network.Addr(),
		"sources", len(info.Sources),
		"origins", len(info.Origins),
		"threshold", info.Threshold,
		"receipt_key", fmt.Sprintf("%x", n.receipts.PublicKey()))

	return nil
}

// Run starts the node and blocks until SIGINT or SIGTERM.
func (n *Node) Run() error {
	if err := n.Start(); err != nil {
		n.Close()
		return err
	}

	return n.waitForShutdown()
}

// waitForShutdown blocks until a termination signal, then closes the node.
func (n *Node) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return n.Close()
}

// Close stops intake first, then the runtimes, then storage.
func (n *Node) Close() error {
	if n.api != nil {
		n.api.Stop()
	}

	if n.network != nil {
		n.network.Close()
	}

	if n.podPool != nil {
		n.podPool.Close(context.Background())
	}

	if n.storage != nil {
		return n.storage.Close()
	}

	return nil
}
