package registry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/bits-and-blooms/bitset"

	"MultiBridge/internal/message"
	"MultiBridge/internal/state"
	"MultiBridge/internal/storage"
)

var (
	// ErrZeroAddress is returned when a null address is configured.
	ErrZeroAddress = errors.New("zero address")

	// ErrUnknownSource is returned when removing a source that is not registered.
	ErrUnknownSource = errors.New("unknown source")

	// ErrWeightOverflow is returned when the total weight would exceed uint64.
	ErrWeightOverflow = errors.New("total weight overflow")
)

// prefixSource is the storage prefix for sources: s:<addr> -> slot(8) || weight(8).
var prefixSource = []byte("s:")

// Source is a registered attestor and its voting weight.
type Source struct {
	Address message.Address // Address is the adapter's identity
	Weight  uint64          // Weight is the voting weight, always > 0 when listed
}

// slot is the arena entry of one address. Slots are never reused, so an
// attestor bitmap built against a slot index stays valid after removals.
type slot struct {
	addr   message.Address // addr is the address owning the slot
	weight uint64          // weight is the current weight, 0 when unregistered
	pos    int             // pos is the index in active, -1 when unregistered
}

// Sources is the weighted set of trusted attestors.
// It is not safe for concurrent use; the aggregation engine serializes access.
type Sources struct {
	slots  []slot                   // slots is the arena indexed by slot number
	index  map[message.Address]uint // index maps an address to its slot
	active []uint                   // active lists registered slots, unordered
	total  uint64                   // total is the running sum of active weights
}

// NewSources creates an empty source registry.
func NewSources() *Sources {
	return &Sources{index: make(map[message.Address]uint)}
}

// LoadSources rebuilds the registry from storage.
func LoadSources(db *storage.Storage) (*Sources, error) {
	s := NewSources()

	type entry struct {
		addr   message.Address
		slot   uint64
		weight uint64
	}

	var entries []entry

	err := db.IteratePrefix(prefixSource, func(key, value []byte) error {
		addr, err := message.AddressFromBytes(key[len(prefixSource):])
		if err != nil {
			return fmt.Errorf("source key:\n%w", err)
		}

		if len(value) != 16 {
			return fmt.Errorf("source %s: invalid value length %d", addr.Short(), len(value))
		}

		entries = append(entries, entry{
			addr:   addr,
			slot:   binary.BigEndian.Uint64(value[:8]),
			weight: binary.BigEndian.Uint64(value[8:]),
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.slots = make([]slot, len(entries))

	for _, e := range entries {
		if e.slot >= uint64(len(entries)) || !s.slots[e.slot].addr.IsZero() {
			return nil, fmt.Errorf("source %s: corrupt slot %d", e.addr.Short(), e.slot)
		}

		s.slots[e.slot] = slot{addr: e.addr, weight: e.weight, pos: -1}
		s.index[e.addr] = uint(e.slot)
	}

	for i := range s.slots {
		if s.slots[i].weight == 0 {
			continue
		}

		s.slots[i].pos = len(s.active)
		s.active = append(s.active, uint(i))
		s.total += s.slots[i].weight
	}

	return s, nil
}

// Weight returns the weight of addr, 0 if unregistered.
func (s *Sources) Weight(addr message.Address) uint64 {
	i, ok := s.index[addr]
	if !ok {
		return 0
	}

	return s.slots[i].weight
}

// IsRegistered reports whether addr currently has a positive weight.
func (s *Sources) IsRegistered(addr message.Address) bool {
	return s.Weight(addr) > 0
}

// Slot returns the stable slot index of addr.
// A removed source keeps its slot; ok is false only if addr was never registered.
func (s *Sources) Slot(addr message.Address) (uint, bool) {
	i, ok := s.index[addr]
	return i, ok
}

// AddressAt returns the address owning slot i.
func (s *Sources) AddressAt(i uint) (message.Address, bool) {
	if i >= uint(len(s.slots)) {
		return message.Address{}, false
	}

	return s.slots[i].addr, true
}

// TotalWeight returns the sum of all registered weights.
func (s *Sources) TotalWeight() uint64 {
	return s.total
}

// Len returns the number of registered sources.
func (s *Sources) Len() int {
	return len(s.active)
}

// List returns the registered sources. Order is not meaningful.
func (s *Sources) List() []Source {
	result := make([]Source, len(s.active))

	for i, idx := range s.active {
		result[i] = Source{Address: s.slots[idx].addr, Weight: s.slots[idx].weight}
	}

	return result
}

// Power returns the summed current weight of the slots set in attestors.
// Removed sources weigh 0, so their earlier attestations stop counting.
func (s *Sources) Power(attestors *bitset.BitSet) uint64 {
	var power uint64

	for i, ok := attestors.NextSet(0); ok; i, ok = attestors.NextSet(i + 1) {
		if i < uint(len(s.slots)) {
			power += s.slots[i].weight
		}
	}

	return power
}

// SetWeight registers addr with weight, or removes it when weight is 0.
// The total weight is adjusted by the exact delta, with an unregistered
// source contributing an old weight of 0.
func (s *Sources) SetWeight(txn *state.Txn, addr message.Address, weight uint64) error {
	if addr.IsZero() {
		return ErrZeroAddress
	}

	if weight == 0 {
		return s.Remove(txn, addr)
	}

	old := s.Weight(addr)
	rest := s.total - old

	if weight > math.MaxUint64-rest {
		return ErrWeightOverflow
	}

	i := s.allocSlot(txn, addr)

	if old == 0 {
		s.activate(txn, i)
	}

	s.setWeight(txn, i, weight, rest+weight)

	return nil
}

// Remove unregisters addr. Its slot is kept with weight 0.
func (s *Sources) Remove(txn *state.Txn, addr message.Address) error {
	i, ok := s.index[addr]
	if !ok || s.slots[i].weight == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSource, addr.Short())
	}

	s.deactivate(txn, i)
	s.setWeight(txn, i, 0, s.total-s.slots[i].weight)

	return nil
}

// allocSlot returns the slot of addr, appending a new one if needed.
func (s *Sources) allocSlot(txn *state.Txn, addr message.Address) uint {
	if i, ok := s.index[addr]; ok {
		return i
	}

	i := uint(len(s.slots))
	s.slots = append(s.slots, slot{addr: addr, pos: -1})
	s.index[addr] = i

	txn.OnRevert(func() {
		s.slots = s.slots[:i]
		delete(s.index, addr)
	})

	return i
}

// activate appends slot i to the active list.
func (s *Sources) activate(txn *state.Txn, i uint) {
	s.slots[i].pos = len(s.active)
	s.active = append(s.active, i)

	txn.OnRevert(func() {
		s.active = s.active[:len(s.active)-1]
		s.slots[i].pos = -1
	})
}

// deactivate removes slot i from the active list by swapping with the last entry.
func (s *Sources) deactivate(txn *state.Txn, i uint) {
	pos := s.slots[i].pos
	last := len(s.active) - 1
	moved := s.active[last]

	s.active[pos] = moved
	s.slots[moved].pos = pos
	s.active = s.active[:last]
	s.slots[i].pos = -1

	txn.OnRevert(func() {
		s.active = append(s.active, moved)
		s.active[pos] = i
		s.slots[moved].pos = last
		s.slots[i].pos = pos
	})
}

// setWeight stores the weight of slot i and the new total, and persists the slot.
func (s *Sources) setWeight(txn *state.Txn, i uint, weight, total uint64) {
	oldWeight, oldTotal := s.slots[i].weight, s.total

	s.slots[i].weight = weight
	s.total = total

	txn.OnRevert(func() {
		s.slots[i].weight = oldWeight
		s.total = oldTotal
	})

	txn.Set(sourceKey(s.slots[i].addr), encodeSlot(i, weight))
}

// sourceKey builds the storage key of addr.
func sourceKey(addr message.Address) []byte {
	key := make([]byte, len(prefixSource)+message.AddressSize)
	copy(key, prefixSource)
	copy(key[len(prefixSource):], addr[:])
	return key
}

// encodeSlot encodes slot index (8 bytes BE) + weight (8 bytes BE).
func encodeSlot(i uint, weight uint64) []byte {
	value := make([]byte, 16)
	binary.BigEndian.PutUint64(value[:8], uint64(i))
	binary.BigEndian.PutUint64(value[8:], weight)
	return value
}
