package receipt

import (
	"bytes"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"

	"MultiBridge/internal/message"
)

// Certificate folds the receipts several nodes issued for one message into
// a single signature. A downstream chain checks it against the receipt keys
// it knows, for one pairing instead of one per node.
type Certificate struct {
	MsgID      message.ID      // MsgID is the executed message
	SrcChainID message.ChainID // SrcChainID is the chain it came from
	Signers    [][]byte        // Signers are the public keys of the issuing nodes
	Signature  []byte          // Signature is the aggregate of their signatures
}

// Combine aggregates receipts for the same message.
// Every receipt must verify and come from a distinct signer.
func Combine(receipts []*Receipt) (*Certificate, error) {
	if len(receipts) == 0 {
		return nil, fmt.Errorf("no receipts to combine")
	}

	first := receipts[0]
	cert := &Certificate{MsgID: first.MsgID, SrcChainID: first.SrcChainID}
	sigs := make([]*blst.P2Affine, 0, len(receipts))

	for i, r := range receipts {
		if r.MsgID != first.MsgID || r.SrcChainID != first.SrcChainID {
			return nil, fmt.Errorf("receipt %d is for another message", i)
		}

		for _, signer := range cert.Signers {
			if bytes.Equal(signer, r.Signer) {
				return nil, fmt.Errorf("receipt %d: duplicate signer %x", i, r.Signer[:8])
			}
		}

		if !r.Verify() {
			return nil, fmt.Errorf("receipt %d: %w", i, ErrInvalidReceipt)
		}

		cert.Signers = append(cert.Signers, r.Signer)
		sigs = append(sigs, decodeSignature(r.Signature))
	}

	agg := new(blst.P2Aggregate)
	if !agg.Aggregate(sigs, false) {
		return nil, fmt.Errorf("signature aggregation failed")
	}

	cert.Signature = agg.ToAffine().Compress()

	return cert, nil
}

// Verify checks the aggregate signature against every listed signer.
func (c *Certificate) Verify() bool {
	if len(c.Signers) == 0 {
		return false
	}

	sig := decodeSignature(c.Signature)
	if sig == nil {
		return false
	}

	pks := make([]*blst.P1Affine, len(c.Signers))
	for i, pub := range c.Signers {
		if pks[i] = decodePublicKey(pub); pks[i] == nil {
			return false
		}
	}

	agg := new(blst.P1Aggregate)
	if !agg.Aggregate(pks, true) {
		return false
	}

	digest := Digest(c.MsgID, c.SrcChainID)

	return sig.Verify(true, agg.ToAffine(), true, digest[:], signDST)
}
