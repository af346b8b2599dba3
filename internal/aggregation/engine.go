package aggregation

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/holiman/uint256"

	"MultiBridge/internal/dispatch"
	"MultiBridge/internal/events"
	"MultiBridge/internal/ledger"
	"MultiBridge/internal/message"
	"MultiBridge/internal/registry"
	"MultiBridge/internal/state"
	"MultiBridge/internal/storage"
)

// Meta keys.
var (
	keyThreshold   = []byte("m:threshold")
	keyInitialized = []byte("m:init")
)

// Dispatcher executes the payload of a message that reached quorum.
type Dispatcher interface {
	Dispatch(ctx context.Context, call dispatch.Call) error
}

// Publisher receives the events of a committed operation, in order.
type Publisher interface {
	Publish(evs ...events.Event)
}

// Config configures an Engine.
type Config struct {
	Self      message.Address // Self is the target address of governance messages
	ChainID   message.ChainID // ChainID is the local chain; 0 accepts any destination
	CacheSize int             // CacheSize is the number of quorum records kept in memory
	Log       *slog.Logger    // Log receives engine logs
}

// InitParams is the one-time bootstrap configuration.
type InitParams struct {
	ChainIDs  []message.ChainID // ChainIDs pairs with Upstreams
	Upstreams []message.Address // Upstreams are the trusted senders of each chain
	Sources   []message.Address // Sources pairs with Weights
	Weights   []uint64          // Weights are the initial voting weights
	Threshold uint64            // Threshold is the quorum percentage, at most 100
}

// Outcome describes the state of a message after an accepted attestation.
type Outcome struct {
	ID     message.ID    // ID is the computed message identity
	Status ledger.Status // Status is Pending or Executed
	Power  uint64        // Power is the current accumulated weight
}

// Engine is the quorum aggregation state machine.
//
// Every mutation runs under one mutex inside a state.Txn: registry and ledger
// changes are journaled, and the write set reaches storage only on commit.
// A failed downstream dispatch reverts the whole attestation. Events are
// buffered until commit and delivered in commit order once the lock is
// released, so observers never see rolled-back state and never hold up
// other attestations.
//
// Dispatch happens while the lock is held: handlers must not call Receive.
type Engine struct {
	mu sync.RWMutex

	db          *storage.Storage  // db persists registries, ledger and meta
	sources     *registry.Sources // sources is the weighted attestor set
	origins     *registry.Origins // origins maps chains to trusted upstreams
	ledger      *ledger.Ledger    // ledger holds per-message quorum records
	threshold   uint64            // threshold is the quorum percentage
	initialized bool              // initialized is set once by Initialize
	active      *capability       // active is the governance capability in force, nil outside dispatch
	router      Dispatcher        // router executes non-governance messages
	pub         Publisher         // pub receives committed events
	outbox      outbox            // outbox delivers committed events after unlock
	self        message.Address   // self is the governance target
	chainID     message.ChainID   // chainID is the local chain, 0 if unchecked
	log         *slog.Logger
}

// New loads an Engine from db.
func New(db *storage.Storage, router Dispatcher, pub Publisher, cfg Config) (*Engine, error) {
	if cfg.Self.IsZero() {
		return nil, fmt.Errorf("self address: %w", ErrZeroAddress)
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	sources, err := registry.LoadSources(db)
	if err != nil {
		return nil, fmt.Errorf("load sources:\n%w", err)
	}

	origins, err := registry.LoadOrigins(db)
	if err != nil {
		return nil, fmt.Errorf("load origins:\n%w", err)
	}

	led, err := ledger.New(db, cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("open ledger:\n%w", err)
	}

	e := &Engine{
		db:      db,
		sources: sources,
		origins: origins,
		ledger:  led,
		router:  router,
		pub:     pub,
		self:    cfg.Self,
		chainID: cfg.ChainID,
		log:     log,
	}

	if err := e.loadMeta(); err != nil {
		return nil, err
	}

	return e, nil
}

// loadMeta reads the threshold and init flag.
func (e *Engine) loadMeta() error {
	data, err := e.db.Get(keyThreshold)
	if err != nil {
		return fmt.Errorf("load threshold:\n%w", err)
	}

	if data != nil {
		if len(data) != 8 {
			return fmt.Errorf("load threshold: invalid length %d", len(data))
		}
		e.threshold = binary.BigEndian.Uint64(data)
	}

	data, err = e.db.Get(keyInitialized)
	if err != nil {
		return fmt.Errorf("load init flag:\n%w", err)
	}

	e.initialized = len(data) == 1 && data[0] == 1

	return nil
}

// Initialize performs the one-time privileged bootstrap.
// After it succeeds, configuration only changes through quorum-approved
// messages targeting the engine itself.
func (e *Engine) Initialize(p InitParams) error {
	err := e.initialize(p)
	e.outbox.flush(e.pub)

	return err
}

// initialize runs Initialize under the engine lock.
func (e *Engine) initialize(p InitParams) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return ErrAlreadyInitialized
	}

	if len(p.ChainIDs) != len(p.Upstreams) {
		return fmt.Errorf("%w: %d chains, %d upstreams", ErrLengthMismatch, len(p.ChainIDs), len(p.Upstreams))
	}

	if len(p.Sources) != len(p.Weights) {
		return fmt.Errorf("%w: %d sources, %d weights", ErrLengthMismatch, len(p.Sources), len(p.Weights))
	}

	if len(p.ChainIDs) == 0 {
		return fmt.Errorf("%w: origins", ErrEmptyList)
	}

	if len(p.Sources) == 0 {
		return fmt.Errorf("%w: sources", ErrEmptyList)
	}

	if p.Threshold > 100 {
		return fmt.Errorf("%w: %d > 100", ErrInvalidThreshold, p.Threshold)
	}

	tok := &capability{}
	e.active = tok
	defer func() { e.active = nil }()

	txn := state.Begin(e.db)
	var evs []events.Event

	err := e.setOrigins(tok, txn, &evs, p.ChainIDs, p.Upstreams)
	if err == nil {
		err = e.setSources(tok, txn, &evs, p.Sources, p.Weights)
	}
	if err == nil {
		err = e.setThreshold(tok, txn, &evs, p.Threshold)
	}
	if err != nil {
		txn.Revert()
		return err
	}

	e.initialized = true
	txn.OnRevert(func() { e.initialized = false })
	txn.Set(keyInitialized, []byte{1})

	if err := txn.Commit(); err != nil {
		return err
	}

	e.log.Info("engine initialized",
		"sources", e.sources.Len(),
		"origins", e.origins.Len(),
		"total_weight", e.sources.TotalWeight(),
		"threshold", e.threshold)

	e.publish(evs)

	return nil
}

// Receive records an attestation of msg by source, with the provenance the
// source's transport verified, and executes msg once quorum is reached.
//
// Attestations for an already executed message succeed without effect.
// If dispatch fails, nothing of this attestation persists.
func (e *Engine) Receive(ctx context.Context, source message.Address, msg message.Message, prov message.Provenance) (Outcome, error) {
	out, err := e.receive(ctx, source, msg, prov)
	e.outbox.flush(e.pub)

	return out, err
}

// receive runs Receive under the engine lock.
func (e *Engine) receive(ctx context.Context, source message.Address, msg message.Message, prov message.Provenance) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.sources.IsRegistered(source) {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnauthorizedSource, source.Short())
	}

	if !e.origins.Verify(prov) {
		return Outcome{}, fmt.Errorf("%w: chain %d upstream %s", ErrUnauthorizedOrigin, prov.SrcChainID, prov.Upstream.Short())
	}

	if e.chainID != 0 && msg.DstChainID != e.chainID {
		return Outcome{}, fmt.Errorf("%w: %d, local %d", ErrWrongDestination, msg.DstChainID, e.chainID)
	}

	id := message.ComputeID(prov.SrcChainID, msg)

	rec, err := e.ledger.Get(id)
	if err != nil {
		return Outcome{}, err
	}

	if rec.Executed {
		return Outcome{ID: id, Status: ledger.Executed, Power: e.sources.Power(rec.Attestors)}, nil
	}

	slot, _ := e.sources.Slot(source)
	if rec.HasAttestor(slot) {
		return Outcome{}, fmt.Errorf("%w: %s on %s", ErrDuplicateAttestation, source.Short(), id.Short())
	}

	rec = rec.WithAttestor(slot)
	power := e.sources.Power(rec.Attestors)
	total := e.sources.TotalWeight()
	threshold := e.threshold

	evs := []events.Event{{
		Kind:        events.AttestationReceived,
		MsgID:       id,
		SrcChainID:  prov.SrcChainID,
		Source:      source,
		Power:       power,
		TotalWeight: total,
	}}

	txn := state.Begin(e.db)
	out := Outcome{ID: id, Status: ledger.Pending, Power: power}

	if !reachesQuorum(power, total, threshold) {
		if err := e.ledger.Put(txn, id, rec); err != nil {
			txn.Revert()
			return Outcome{}, err
		}

		if err := txn.Commit(); err != nil {
			return Outcome{}, err
		}

		e.publish(evs)

		return out, nil
	}

	if err := e.ledger.Put(txn, id, rec.WithExecuted()); err != nil {
		txn.Revert()
		return Outcome{}, err
	}

	if err := e.dispatch(ctx, txn, &evs, id, msg, prov); err != nil {
		txn.Revert()

		e.log.Warn("dispatch failed, attestation rolled back",
			"msg", id.Short(),
			"target", msg.Target.Short(),
			"error", err)

		return Outcome{}, fmt.Errorf("%w:\n%w", ErrDownstreamExecutionFailed, err)
	}

	evs = append(evs, events.Event{
		Kind:        events.MessageExecuted,
		MsgID:       id,
		SrcChainID:  prov.SrcChainID,
		Upstream:    prov.Upstream,
		Target:      msg.Target,
		Power:       power,
		TotalWeight: total,
		Threshold:   threshold,
	})

	if err := txn.Commit(); err != nil {
		return Outcome{}, err
	}

	e.publish(evs)

	out.Status = ledger.Executed

	return out, nil
}

// dispatch runs the payload of msg. Self-targeted payloads go to governance
// under a capability minted for this message; all others go to the router
// with no capability in force.
func (e *Engine) dispatch(ctx context.Context, txn *state.Txn, evs *[]events.Event, id message.ID, msg message.Message, prov message.Provenance) error {
	if msg.Target == e.self {
		tok := &capability{msgID: id}
		e.active = tok
		defer func() { e.active = nil }()

		return e.govern(tok, txn, evs, msg.Payload)
	}

	if e.router == nil {
		return fmt.Errorf("%w: %s", ErrNoHandler, msg.Target.Short())
	}

	return e.router.Dispatch(ctx, dispatch.Call{
		Target:  msg.Target,
		Payload: msg.Payload,
		Meta: dispatch.Meta{
			MsgID:      id,
			SrcChainID: prov.SrcChainID,
			Upstream:   prov.Upstream,
		},
	})
}

// publish queues committed events for delivery once the lock is released.
func (e *Engine) publish(evs []events.Event) {
	if len(evs) > 0 {
		e.outbox.push(evs)
	}
}

// reachesQuorum reports power*100 >= total*threshold without overflow.
func reachesQuorum(power, total, threshold uint64) bool {
	lhs := new(uint256.Int).SetUint64(power)
	lhs.Mul(lhs, new(uint256.Int).SetUint64(100))

	rhs := new(uint256.Int).SetUint64(total)
	rhs.Mul(rhs, new(uint256.Int).SetUint64(threshold))

	return !lhs.Lt(rhs)
}

// encodeU64 encodes v as 8 bytes big-endian.
func encodeU64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
