package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

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
	"MultiBridge/internal/snapshot"
	"MultiBridge/internal/storage"
)

// initStorage opens the Pebble store, importing a snapshot first if asked.
func (n *Node) initStorage(restore string) error {
	if err := os.MkdirAll(n.cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data directory:\n%w", err)
	}

	db, err := storage.New(filepath.Join(n.cfg.DataPath, "db"))
	if err != nil {
		return fmt.Errorf("init storage:\n%w", err)
	}

	n.storage = db

	if restore == "" {
		return nil
	}

	start := time.Now()

	count, err := snapshot.Restore(db, restore)
	if err != nil {
		return fmt.Errorf("restore %s:\n%w", restore, err)
	}

	logger.Info("snapshot restored", "file", restore, "keys", count, logger.Timed(start))

	return nil
}

// initDispatch builds the router: pods from PodsDir and configured webhooks.
func (n *Node) initDispatch(ctx context.Context) error {
	n.router = dispatch.NewRouter()

	if n.cfg.PodsDir != "" {
		pool, err := podvm.New(ctx)
		if err != nil {
			return fmt.Errorf("init pod runtime:\n%w", err)
		}

		n.podPool = pool

		count, err := dispatch.LoadPods(ctx, n.router, pool, dispatch.NewPodHandler(pool, n.cfg.GasLimit), n.cfg.PodsDir)
		if err != nil {
			return err
		}

		logger.Info("pods loaded", "dir", n.cfg.PodsDir, "count", count)
	}

	for i, wh := range n.cfg.Webhooks {
		target, err := message.ParseAddress(wh.Target)
		if err != nil {
			return fmt.Errorf("webhook %d target:\n%w", i, err)
		}

		var timeout time.Duration
		if wh.Timeout != "" {
			timeout, _ = time.ParseDuration(wh.Timeout) // checked by validate
		}

		n.router.Register(target, dispatch.NewWebhookHandler(wh.URL, timeout))
		logger.Info("webhook registered", "target", target.Short(), "url", wh.URL)
	}

	return nil
}

// initObservers creates the event bus and its observers: logs, metrics and receipts.
func (n *Node) initObservers() error {
	blsKey, err := receipt.DeriveKey(n.key)
	if err != nil {
		return fmt.Errorf("derive receipt key:\n%w", err)
	}

	n.metrics = metrics.New()
	n.receipts = receipt.NewSigner(n.storage, blsKey, logger.Component("receipt"))

	n.bus = events.NewBus()
	n.bus.Register(events.NewLogObserver(logger.Component("events")))
	n.bus.Register(n.metrics)
	n.bus.Register(n.receipts)

	return nil
}

// initEngine loads the aggregation engine and applies genesis on first start.
func (n *Node) initEngine() error {
	engine, err := aggregation.New(n.storage, n.router, n.bus, aggregation.Config{
		Self:      n.self(),
		ChainID:   message.ChainID(n.cfg.ChainID),
		CacheSize: n.cfg.CacheSize,
		Log:       logger.Component("engine"),
	})
	if err != nil {
		return fmt.Errorf("init engine:\n%w", err)
	}

	n.engine = engine

	if !engine.Initialized() {
		if err := n.applyGenesis(); err != nil {
			return err
		}
	}

	n.metrics.SetConfig(engine.TotalWeight(), engine.Threshold())

	return nil
}

// applyGenesis runs the one-time bootstrap from the configured genesis.
func (n *Node) applyGenesis() error {
	params, err := n.cfg.Genesis.Params()
	if err != nil {
		return fmt.Errorf("genesis:\n%w", err)
	}

	if err := n.engine.Initialize(params); err != nil {
		return fmt.Errorf("initialize engine:\n%w", err)
	}

	return nil
}

// initNetwork creates the QUIC node adapters attest through.
func (n *Node) initNetwork() error {
	node, err := network.NewNode(network.Config{
		PrivateKey: n.key,
		ListenAddr: n.cfg.QUICAddress,
		MaxStreams: n.cfg.MaxStreams,
		Log:        logger.Component("network"),
	})
	if err != nil {
		return fmt.Errorf("init network:\n%w", err)
	}

	handler := aggregation.NewHandler(n.engine, n.metrics, logger.Component("attest"))

	node.OnRequest(handler.HandleRequest)

	node.OnConnect(func(p *network.Peer) {
		logger.Info("adapter connected",
			"source", message.Address(p.PublicKey()).Short(),
			"addr", p.Address(),
			"registered", n.engine.Weight(message.Address(p.PublicKey())) > 0,
			"connected", len(node.Peers()))
	})

	node.OnDisconnect(func(p *network.Peer) {
		logger.Debug("adapter disconnected", "addr", p.Address())
	})

	n.network = node

	return nil
}

// initAPI creates the HTTP API. An empty address disables it.
func (n *Node) initAPI() {
	if n.cfg.HTTPAddress == "" {
		return
	}

	n.api = api.New(api.Config{
		Addr:     n.cfg.HTTPAddress,
		Engine:   n.engine,
		Receipts: n.receipts,
		Events:   n.bus,
		Metrics:  n.metrics.Handler(),
		Snapshot: func(w io.Writer) error {
			return snapshot.Export(n.storage, w)
		},
	})
}
