package message

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// AddressSize is the size of an address in bytes.
const AddressSize = 32

// Address identifies a source adapter, an upstream sender or a dispatch target.
// Adapters and nodes use their ed25519 public key; pods use the blake3 hash of their code.
type Address [AddressSize]byte

// ChainID identifies a chain. Zero is the sentinel "no chain" value.
type ChainID uint64

// ID is the canonical identity of a logical cross-chain message.
type ID [32]byte

// Message is the transport-independent content of a cross-chain message.
type Message struct {
	DstChainID ChainID // DstChainID is the chain the message must execute on
	Nonce      uint64  // Nonce distinguishes otherwise identical messages
	Target     Address // Target receives the payload once quorum is reached
	Payload    []byte  // Payload is opaque to the core
}

// Provenance is what an adapter vouches for after authenticating a message on its transport.
type Provenance struct {
	SrcChainID ChainID // SrcChainID is the verified origin chain
	Upstream   Address // Upstream is the verified sender on SrcChainID
}

// ComputeID derives the identity of a message arriving from srcChainID.
// The transport that carried the message is deliberately not an input,
// so every bridge relaying the same message converges on the same ID.
func ComputeID(srcChainID ChainID, msg Message) ID {
	var header [8 + 8 + 8 + AddressSize + 8]byte

	binary.BigEndian.PutUint64(header[0:8], uint64(srcChainID))
	binary.BigEndian.PutUint64(header[8:16], uint64(msg.DstChainID))
	binary.BigEndian.PutUint64(header[16:24], msg.Nonce)
	copy(header[24:56], msg.Target[:])
	binary.BigEndian.PutUint64(header[56:64], uint64(len(msg.Payload)))

	h := blake3.New()
	h.Write(header[:])
	h.Write(msg.Payload)

	var id ID
	h.Sum(id[:0])

	return id
}

// IsZero reports whether the address is the null address.
func (a Address) IsZero() bool {
	return a == Address{}
}

// String returns the hex encoding of the address.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// Short returns the first 8 bytes in hex, for logs.
func (a Address) Short() string {
	return hex.EncodeToString(a[:8])
}

// String returns the hex encoding of the ID.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 8 bytes in hex, for logs.
func (id ID) Short() string {
	return hex.EncodeToString(id[:8])
}

// AddressFromBytes copies b into an Address. b must be exactly AddressSize bytes.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressSize {
		return a, fmt.Errorf("invalid address length: got %d, want %d", len(b), AddressSize)
	}

	copy(a[:], b)

	return a, nil
}

// ParseAddress decodes a hex address, with or without a 0x prefix.
func ParseAddress(s string) (Address, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return Address{}, fmt.Errorf("decode address %q:\n%w", s, err)
	}

	return AddressFromBytes(b)
}

// ParseID decodes a hex message ID.
func ParseID(s string) (ID, error) {
	var id ID

	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return id, fmt.Errorf("decode id %q:\n%w", s, err)
	}

	if len(b) != len(id) {
		return id, fmt.Errorf("invalid id length: got %d, want %d", len(b), len(id))
	}

	copy(id[:], b)

	return id, nil
}
