package receipt

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
	"github.com/zeebo/blake3"
)

const (
	// PublicKeySize is the size of a compressed G1 public key.
	PublicKeySize = 48

	// SignatureSize is the size of a compressed G2 signature.
	SignatureSize = 96
)

// keygenDomain binds the receipt key to the node identity it is derived from.
var keygenDomain = []byte("multibridge-receipt-keygen")

// signDST is the BLS ciphersuite tag receipts are signed under.
var signDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// Key is the BLS12-381 key a node signs receipts with.
type Key struct {
	secret *blst.SecretKey
	public []byte // public is the compressed public key
}

// DeriveKey derives the receipt key of a node from its ed25519 identity,
// so operators back up a single key file.
func DeriveKey(priv ed25519.PrivateKey) (*Key, error) {
	h := blake3.New()
	h.Write(keygenDomain)
	h.Write(priv.Seed())

	var ikm [32]byte
	h.Sum(ikm[:0])

	return newKey(ikm[:])
}

// GenerateKey creates a receipt key from random input.
func GenerateKey() (*Key, error) {
	var ikm [32]byte
	if _, err := rand.Read(ikm[:]); err != nil {
		return nil, fmt.Errorf("read random seed:\n%w", err)
	}

	return newKey(ikm[:])
}

// newKey runs BLS key generation over ikm, which must be at least 32 bytes.
func newKey(ikm []byte) (*Key, error) {
	if len(ikm) < 32 {
		return nil, fmt.Errorf("key material must be at least 32 bytes, got %d", len(ikm))
	}

	secret := blst.KeyGen(ikm)
	if secret == nil {
		return nil, fmt.Errorf("bls key generation failed")
	}

	return &Key{
		secret: secret,
		public: new(blst.P1Affine).From(secret).Compress(),
	}, nil
}

// PublicKey returns the compressed public key.
func (k *Key) PublicKey() []byte {
	return k.public
}

// Sign signs a receipt digest.
func (k *Key) Sign(digest [32]byte) []byte {
	return new(blst.P2Affine).Sign(k.secret, digest[:], signDST).Compress()
}

// verifySignature checks sig over digest by the compressed public key pub.
func verifySignature(sig, pub []byte, digest [32]byte) bool {
	s := decodeSignature(sig)
	if s == nil {
		return false
	}

	pk := decodePublicKey(pub)
	if pk == nil {
		return false
	}

	return s.Verify(true, pk, true, digest[:], signDST)
}

// decodeSignature uncompresses sig, nil if malformed.
func decodeSignature(sig []byte) *blst.P2Affine {
	if len(sig) != SignatureSize {
		return nil
	}

	return new(blst.P2Affine).Uncompress(sig)
}

// decodePublicKey uncompresses pub, nil if malformed.
func decodePublicKey(pub []byte) *blst.P1Affine {
	if len(pub) != PublicKeySize {
		return nil
	}

	return new(blst.P1Affine).Uncompress(pub)
}
