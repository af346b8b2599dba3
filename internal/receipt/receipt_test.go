package receipt

import (
	"crypto/ed25519"
	"testing"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"MultiBridge/internal/events"
	"MultiBridge/internal/message"
	"MultiBridge/internal/storage"
)

func testKey(t *testing.T, seed byte) *Key {
	t.Helper()

	s := make([]byte, ed25519.SeedSize)
	s[0] = seed

	key, err := DeriveKey(ed25519.NewKeyFromSeed(s))
	require.NoError(t, err)

	return key
}

func TestDeriveKeyDeterministic(t *testing.T) {
	a := testKey(t, 1)
	b := testKey(t, 1)
	c := testKey(t, 2)

	require.Equal(t, a.PublicKey(), b.PublicKey())
	require.NotEqual(t, a.PublicKey(), c.PublicKey())
	require.Len(t, a.PublicKey(), PublicKeySize)
}

func TestSignVerify(t *testing.T) {
	key := testKey(t, 1)
	other := testKey(t, 2)
	digest := Digest(message.ID{1}, 1)

	sig := key.Sign(digest)
	require.Len(t, sig, SignatureSize)

	require.True(t, verifySignature(sig, key.PublicKey(), digest))
	require.False(t, verifySignature(sig, key.PublicKey(), Digest(message.ID{2}, 1)))
	require.False(t, verifySignature(sig, other.PublicKey(), digest))
	require.False(t, verifySignature(sig[:10], key.PublicKey(), digest))
	require.False(t, verifySignature(sig, []byte("short"), digest))
}

func TestNewKeyShortMaterial(t *testing.T) {
	_, err := newKey(make([]byte, 16))
	require.Error(t, err)
}

// nodeReceipts issues a receipt for the same message from n distinct keys.
func nodeReceipts(t *testing.T, n int, id message.ID, src message.ChainID) []*Receipt {
	t.Helper()

	var out []*Receipt
	for i := 1; i <= n; i++ {
		key := testKey(t, byte(i))
		out = append(out, &Receipt{
			MsgID:      id,
			SrcChainID: src,
			Signer:     key.PublicKey(),
			Signature:  key.Sign(Digest(id, src)),
		})
	}

	return out
}

// TestCombineReceipts tests folding the receipts of several nodes.
func TestCombineReceipts(t *testing.T) {
	receipts := nodeReceipts(t, 4, message.ID{9}, 3)

	cert, err := Combine(receipts)
	require.NoError(t, err)
	require.Len(t, cert.Signers, 4)
	require.True(t, cert.Verify())

	cert.Signers = cert.Signers[:3]
	require.False(t, cert.Verify(), "missing signer")

	cert.Signers = nil
	require.False(t, cert.Verify())

	_, err = Combine(nil)
	require.Error(t, err)
}

func TestCombineRejectsMixedInput(t *testing.T) {
	receipts := nodeReceipts(t, 2, message.ID{9}, 3)

	other := nodeReceipts(t, 3, message.ID{8}, 3)[2]
	_, err := Combine(append(receipts, other))
	require.ErrorContains(t, err, "another message")

	_, err = Combine([]*Receipt{receipts[0], receipts[0]})
	require.ErrorContains(t, err, "duplicate signer")

	forged := *receipts[1]
	forged.Signature = receipts[0].Signature
	_, err = Combine([]*Receipt{receipts[0], &forged})
	require.ErrorIs(t, err, ErrInvalidReceipt)
}

func TestDigestBindsChain(t *testing.T) {
	require.NotEqual(t, Digest(message.ID{1}, 1), Digest(message.ID{1}, 2))
	require.NotEqual(t, Digest(message.ID{1}, 1), Digest(message.ID{2}, 1))
}

func TestSignerObserve(t *testing.T) {
	db, err := storage.NewMemory()
	require.NoError(t, err)
	defer db.Close()

	signer := NewSigner(db, testKey(t, 1), slogt.New(t))
	id := message.ID{0xAB}

	signer.Observe(events.Event{Kind: events.AttestationReceived, MsgID: id, SrcChainID: 5})

	r, err := signer.Get(id)
	require.NoError(t, err)
	require.Nil(t, r, "only executions get receipts")

	signer.Observe(events.Event{Kind: events.MessageExecuted, MsgID: id, SrcChainID: 5})

	r, err = signer.Get(id)
	require.NoError(t, err)
	require.NotNil(t, r)
	require.Equal(t, message.ChainID(5), r.SrcChainID)
	require.Equal(t, signer.PublicKey(), r.Signer)
	require.True(t, r.Verify())

	r.SrcChainID = 6
	require.False(t, r.Verify())
}
