package ledger

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
	lru "github.com/hashicorp/golang-lru"

	"MultiBridge/internal/message"
	"MultiBridge/internal/state"
	"MultiBridge/internal/storage"
)

const (
	// DefaultCacheSize is the number of records kept in memory.
	DefaultCacheSize = 4096
)

// prefixRecord is the storage prefix for quorum records:
// q:<id> -> executed(1) || attestor bitset.
var prefixRecord = []byte("q:")

// Status is the lifecycle state of a message identity.
type Status uint8

const (
	// Unseen means no attestation was ever recorded.
	Unseen Status = iota
	// Pending means attestations were recorded but quorum was not reached.
	Pending
	// Executed is terminal: the message was dispatched once.
	Executed
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case Unseen:
		return "unseen"
	case Pending:
		return "pending"
	case Executed:
		return "executed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Record is the quorum state of one message identity.
// Records handed out by the ledger must not be mutated; use With* to derive.
type Record struct {
	Executed  bool           // Executed is set once, never cleared
	Attestors *bitset.BitSet // Attestors holds the slot index of every attesting source
}

// Status returns the lifecycle state of the record.
func (r Record) Status() Status {
	switch {
	case r.Executed:
		return Executed
	case r.Attestors == nil || r.Attestors.None():
		return Unseen
	default:
		return Pending
	}
}

// HasAttestor reports whether slot already attested.
func (r Record) HasAttestor(slot uint) bool {
	return r.Attestors != nil && r.Attestors.Test(slot)
}

// WithAttestor returns a copy of r with slot added.
func (r Record) WithAttestor(slot uint) Record {
	out := Record{Executed: r.Executed, Attestors: r.cloneAttestors()}
	out.Attestors.Set(slot)
	return out
}

// WithExecuted returns a copy of r marked executed.
func (r Record) WithExecuted() Record {
	return Record{Executed: true, Attestors: r.cloneAttestors()}
}

// cloneAttestors returns a private copy of the attestor set.
func (r Record) cloneAttestors() *bitset.BitSet {
	if r.Attestors == nil {
		return bitset.New(0)
	}
	return r.Attestors.Clone()
}

// Ledger stores quorum records keyed by message identity.
// Reads go through an LRU cache in front of storage; writes are staged in a
// transaction and the cache entry is restored if the transaction reverts.
// It is not safe for concurrent writers.
type Ledger struct {
	db    *storage.Storage // db is the persistent record store
	cache *lru.Cache       // cache maps message.ID to Record
}

// New creates a ledger over db keeping up to cacheSize records in memory.
func New(db *storage.Storage, cacheSize int) (*Ledger, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create record cache:\n%w", err)
	}

	return &Ledger{db: db, cache: cache}, nil
}

// Get returns the record of id. A missing record is returned as Unseen.
func (l *Ledger) Get(id message.ID) (Record, error) {
	if v, ok := l.cache.Get(id); ok {
		return v.(Record), nil
	}

	data, err := l.db.Get(recordKey(id))
	if err != nil {
		return Record{}, fmt.Errorf("get record %s:\n%w", id.Short(), err)
	}

	if data == nil {
		return Record{}, nil
	}

	rec, err := decodeRecord(data)
	if err != nil {
		return Record{}, fmt.Errorf("decode record %s:\n%w", id.Short(), err)
	}

	l.cache.Add(id, rec)

	return rec, nil
}

// Put stages rec as the new record of id.
func (l *Ledger) Put(txn *state.Txn, id message.ID, rec Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("encode record %s:\n%w", id.Short(), err)
	}

	prev, cached := l.cache.Peek(id)
	l.cache.Add(id, rec)

	txn.OnRevert(func() {
		if cached {
			l.cache.Add(id, prev)
		} else {
			l.cache.Remove(id)
		}
	})

	txn.Set(recordKey(id), data)

	return nil
}

// recordKey builds the storage key of id.
func recordKey(id message.ID) []byte {
	key := make([]byte, len(prefixRecord)+len(id))
	copy(key, prefixRecord)
	copy(key[len(prefixRecord):], id[:])
	return key
}

// encodeRecord serializes rec as executed(1) || bitset binary.
func encodeRecord(rec Record) ([]byte, error) {
	attestors := rec.Attestors
	if attestors == nil {
		attestors = bitset.New(0)
	}

	bits, err := attestors.MarshalBinary()
	if err != nil {
		return nil, err
	}

	data := make([]byte, 1+len(bits))
	if rec.Executed {
		data[0] = 1
	}
	copy(data[1:], bits)

	return data, nil
}

// decodeRecord parses the encoding produced by encodeRecord.
func decodeRecord(data []byte) (Record, error) {
	if len(data) < 1 {
		return Record{}, fmt.Errorf("record too short")
	}

	if data[0] > 1 {
		return Record{}, fmt.Errorf("invalid executed flag %d", data[0])
	}

	attestors := new(bitset.BitSet)
	if err := attestors.UnmarshalBinary(data[1:]); err != nil {
		return Record{}, fmt.Errorf("attestors:\n%w", err)
	}

	return Record{Executed: data[0] == 1, Attestors: attestors}, nil
}
