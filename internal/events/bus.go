package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Observer consumes events synchronously, in publication order.
// Observers must not block and must not call back into the engine.
type Observer interface {
	Observe(ev Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ev Event)

// Observe calls f(ev).
func (f ObserverFunc) Observe(ev Event) {
	f(ev)
}

// Bus fans events out to observers and subscribers.
// Observers see every event; subscribers get a bounded channel and miss
// events while their buffer is full.
type Bus struct {
	mu        sync.RWMutex
	observers []Observer            // observers are called in registration order
	subs      map[uint64]chan Event // subs are the live subscriber channels
	nextID    uint64                // nextID is the id of the next subscription
	dropped   atomic.Uint64         // dropped counts events lost to full subscribers
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]chan Event)}
}

// Register adds an observer.
func (b *Bus) Register(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.observers = append(b.observers, o)
}

// Subscribe returns a channel receiving future events and a cancel function
// that closes it. buf is the channel capacity.
func (b *Bus) Subscribe(buf int) (<-chan Event, func()) {
	if buf <= 0 {
		buf = 1
	}

	ch := make(chan Event, buf)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once

	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}

	return ch, cancel
}

// Publish delivers evs in order.
func (b *Bus) Publish(evs ...Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ev := range evs {
		for _, o := range b.observers {
			o.Observe(ev)
		}

		for _, ch := range b.subs {
			select {
			case ch <- ev:
			default:
				b.dropped.Add(1)
			}
		}
	}
}

// Dropped returns how many subscriber deliveries were lost.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// LogObserver logs every event at info level, debug for attestations.
type LogObserver struct {
	log *slog.Logger
}

// NewLogObserver creates a LogObserver writing to log.
func NewLogObserver(log *slog.Logger) *LogObserver {
	return &LogObserver{log: log}
}

// Observe logs ev.
func (l *LogObserver) Observe(ev Event) {
	switch ev.Kind {
	case SourceWeightChanged:
		l.log.Info("source weight changed",
			"source", ev.Source.Short(),
			"old", ev.OldWeight,
			"new", ev.Weight,
			"total", ev.TotalWeight)

	case OriginChanged:
		l.log.Info("origin changed", "chain", ev.SrcChainID, "upstream", ev.Upstream.Short())

	case ThresholdChanged:
		l.log.Info("threshold changed", "threshold", ev.Threshold)

	case AttestationReceived:
		l.log.Debug("attestation received",
			"msg", ev.MsgID.Short(),
			"source", ev.Source.Short(),
			"power", ev.Power,
			"total", ev.TotalWeight)

	case MessageExecuted:
		l.log.Info("message executed",
			"msg", ev.MsgID.Short(),
			"chain", ev.SrcChainID,
			"target", ev.Target.Short(),
			"power", ev.Power)
	}
}
