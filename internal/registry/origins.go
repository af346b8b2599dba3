package registry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"MultiBridge/internal/message"
	"MultiBridge/internal/state"
	"MultiBridge/internal/storage"
)

// ErrZeroChainID is returned when the sentinel chain id is configured.
var ErrZeroChainID = errors.New("zero chain id")

// prefixOrigin is the storage prefix for origins: o:<chainID BE> -> upstream.
var prefixOrigin = []byte("o:")

// Origin is the trusted upstream sender of a source chain.
type Origin struct {
	ChainID  message.ChainID // ChainID is the source chain
	Upstream message.Address // Upstream is the only sender trusted on ChainID
}

// Origins maps each source chain to its single trusted upstream.
// It is not safe for concurrent use.
type Origins struct {
	upstream map[message.ChainID]message.Address
}

// NewOrigins creates an empty origin registry.
func NewOrigins() *Origins {
	return &Origins{upstream: make(map[message.ChainID]message.Address)}
}

// LoadOrigins rebuilds the registry from storage.
func LoadOrigins(db *storage.Storage) (*Origins, error) {
	o := NewOrigins()

	err := db.IteratePrefix(prefixOrigin, func(key, value []byte) error {
		if len(key) != len(prefixOrigin)+8 {
			return fmt.Errorf("origin key: invalid length %d", len(key))
		}

		addr, err := message.AddressFromBytes(value)
		if err != nil {
			return fmt.Errorf("origin value:\n%w", err)
		}

		chain := message.ChainID(binary.BigEndian.Uint64(key[len(prefixOrigin):]))
		o.upstream[chain] = addr

		return nil
	})
	if err != nil {
		return nil, err
	}

	return o, nil
}

// Get returns the upstream of chain, or the null address if none is set.
func (o *Origins) Get(chain message.ChainID) message.Address {
	return o.upstream[chain]
}

// Verify reports whether prov names the registered upstream of its chain.
// A chain without an upstream never verifies.
func (o *Origins) Verify(prov message.Provenance) bool {
	upstream, ok := o.upstream[prov.SrcChainID]
	return ok && !upstream.IsZero() && upstream == prov.Upstream
}

// Set overwrites the upstream of chain.
func (o *Origins) Set(txn *state.Txn, chain message.ChainID, upstream message.Address) error {
	if chain == 0 {
		return ErrZeroChainID
	}

	if upstream.IsZero() {
		return ErrZeroAddress
	}

	prev, existed := o.upstream[chain]
	o.upstream[chain] = upstream

	txn.OnRevert(func() {
		if existed {
			o.upstream[chain] = prev
		} else {
			delete(o.upstream, chain)
		}
	})

	txn.Set(originKey(chain), append([]byte(nil), upstream[:]...))

	return nil
}

// Len returns the number of configured chains.
func (o *Origins) Len() int {
	return len(o.upstream)
}

// List returns all origins sorted by chain id.
func (o *Origins) List() []Origin {
	result := make([]Origin, 0, len(o.upstream))

	for chain, upstream := range o.upstream {
		result = append(result, Origin{ChainID: chain, Upstream: upstream})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ChainID < result[j].ChainID
	})

	return result
}

// originKey builds the storage key of chain.
func originKey(chain message.ChainID) []byte {
	key := make([]byte, len(prefixOrigin)+8)
	copy(key, prefixOrigin)
	binary.BigEndian.PutUint64(key[len(prefixOrigin):], uint64(chain))
	return key
}
