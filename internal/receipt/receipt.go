package receipt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zeebo/blake3"

	"MultiBridge/internal/events"
	"MultiBridge/internal/message"
	"MultiBridge/internal/storage"
)

// ErrInvalidReceipt is returned when a stored receipt cannot be decoded.
var ErrInvalidReceipt = errors.New("invalid receipt")

// receiptDomain separates receipt digests from other signed data.
var receiptDomain = []byte("multibridge-receipt")

// prefixReceipt is the storage prefix for receipts: r:<msgID> -> srcChain(8) || sig(96).
var prefixReceipt = []byte("r:")

// Receipt is a node's signed statement that a message executed.
type Receipt struct {
	MsgID      message.ID      // MsgID is the executed message
	SrcChainID message.ChainID // SrcChainID is the chain it came from
	Signer     []byte          // Signer is the node's BLS public key
	Signature  []byte          // Signature covers Digest(MsgID, SrcChainID)
}

// Digest returns BLAKE3("multibridge-receipt" || msgID || u64be(srcChain)).
func Digest(id message.ID, src message.ChainID) [32]byte {
	var chain [8]byte
	binary.BigEndian.PutUint64(chain[:], uint64(src))

	h := blake3.New()
	h.Write(receiptDomain)
	h.Write(id[:])
	h.Write(chain[:])

	var digest [32]byte
	h.Sum(digest[:0])

	return digest
}

// Verify checks the receipt signature against its own signer.
func (r *Receipt) Verify() bool {
	return verifySignature(r.Signature, r.Signer, Digest(r.MsgID, r.SrcChainID))
}

// Signer signs and stores a receipt for every executed message.
// It runs as an event observer, after the execution is committed.
type Signer struct {
	db  *storage.Storage // db stores receipts
	key *Key             // key signs receipts
	log *slog.Logger
}

// NewSigner creates a Signer.
func NewSigner(db *storage.Storage, key *Key, log *slog.Logger) *Signer {
	return &Signer{db: db, key: key, log: log}
}

// PublicKey returns the compressed BLS public key receipts are signed with.
func (s *Signer) PublicKey() []byte {
	return s.key.PublicKey()
}

// Observe signs MessageExecuted events and ignores every other kind.
func (s *Signer) Observe(ev events.Event) {
	if ev.Kind != events.MessageExecuted {
		return
	}

	if _, err := s.Issue(ev.MsgID, ev.SrcChainID); err != nil {
		s.log.Warn("receipt not stored", "msg", ev.MsgID.Short(), "error", err)
	}
}

// Issue signs and stores the receipt of a message.
func (s *Signer) Issue(id message.ID, src message.ChainID) (*Receipt, error) {
	r := &Receipt{
		MsgID:      id,
		SrcChainID: src,
		Signer:     s.key.PublicKey(),
		Signature:  s.key.Sign(Digest(id, src)),
	}

	value := make([]byte, 8+SignatureSize)
	binary.BigEndian.PutUint64(value[:8], uint64(src))
	copy(value[8:], r.Signature)

	if err := s.db.Set(receiptKey(id), value); err != nil {
		return nil, fmt.Errorf("store receipt %s:\n%w", id.Short(), err)
	}

	return r, nil
}

// Get returns the stored receipt of id, or nil if none exists.
func (s *Signer) Get(id message.ID) (*Receipt, error) {
	value, err := s.db.Get(receiptKey(id))
	if err != nil {
		return nil, fmt.Errorf("get receipt %s:\n%w", id.Short(), err)
	}

	if value == nil {
		return nil, nil
	}

	if len(value) != 8+SignatureSize {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidReceipt, len(value))
	}

	return &Receipt{
		MsgID:      id,
		SrcChainID: message.ChainID(binary.BigEndian.Uint64(value[:8])),
		Signer:     s.key.PublicKey(),
		Signature:  append([]byte(nil), value[8:]...),
	}, nil
}

// receiptKey builds the storage key of id.
func receiptKey(id message.ID) []byte {
	key := make([]byte, len(prefixReceipt)+len(id))
	copy(key, prefixReceipt)
	copy(key[len(prefixReceipt):], id[:])
	return key
}
