package aggregation

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"MultiBridge/internal/ledger"
	"MultiBridge/internal/message"
	"MultiBridge/internal/network"
	"MultiBridge/internal/types"
)

func TestAttestRequestRoundTrip(t *testing.T) {
	req := &AttestRequest{
		Message:    appMessage(42),
		Provenance: message.Provenance{SrcChainID: srcChain, Upstream: upstream},
	}

	got, err := DecodeAttestRequest(EncodeAttestRequest(req))
	require.NoError(t, err)
	require.Equal(t, req, got)

	req.Message.Payload = nil
	got, err = DecodeAttestRequest(EncodeAttestRequest(req))
	require.NoError(t, err)
	require.Empty(t, got.Message.Payload)
}

func TestDecodeAttestRequestRejectsGarbage(t *testing.T) {
	valid := EncodeAttestRequest(&AttestRequest{Message: appMessage(1)})

	wrongType := append([]byte(nil), valid...)
	wrongType[0] = msgTypeResult

	cases := map[string][]byte{
		"empty":      nil,
		"short":      {msgTypeAttest, 0x01},
		"wrong type": wrongType,
		"truncated":  valid[:len(valid)/2],
		"noise":      append([]byte{msgTypeAttest}, []byte(strings.Repeat("\xff", 64))...),
	}

	for name, data := range cases {
		_, err := DecodeAttestRequest(data)
		require.ErrorIs(t, err, ErrMalformedRequest, name)
	}
}

func TestDecodeAttestRequestRejectsShortAddresses(t *testing.T) {
	builder := flatbuffers.NewBuilder(64)
	target := builder.CreateByteVector([]byte{1, 2, 3, 4})
	up := builder.CreateByteVector(upstream[:])

	types.AttestationStart(builder)
	types.AttestationAddSrcChainId(builder, uint64(srcChain))
	types.AttestationAddUpstream(builder, up)
	types.AttestationAddDstChainId(builder, uint64(localChain))
	types.AttestationAddTarget(builder, target)
	builder.Finish(types.AttestationEnd(builder))

	_, err := DecodeAttestRequest(append([]byte{msgTypeAttest}, builder.FinishedBytes()...))
	require.ErrorIs(t, err, ErrMalformedRequest)
}

func TestAttestResponseRoundTrip(t *testing.T) {
	ok := &AttestResponse{
		Code:    CodeOK,
		Outcome: Outcome{ID: message.ID{0x01, 0x02}, Status: ledger.Executed, Power: 70},
	}

	got, err := DecodeAttestResponse(EncodeAttestResponse(ok))
	require.NoError(t, err)
	require.Equal(t, ok, got)
	require.NoError(t, got.Err())

	fail := &AttestResponse{Code: CodeDuplicateAttestation, Detail: "duplicate attestation: a0 on 1f"}

	got, err = DecodeAttestResponse(EncodeAttestResponse(fail))
	require.NoError(t, err)
	require.Equal(t, fail, got)
	require.ErrorIs(t, got.Err(), ErrDuplicateAttestation)
	require.Contains(t, got.Err().Error(), "remote")
}

func TestAttestResponseTruncatesDetail(t *testing.T) {
	resp := &AttestResponse{Code: CodeInternal, Detail: strings.Repeat("x", 4*maxDetailSize)}

	got, err := DecodeAttestResponse(EncodeAttestResponse(resp))
	require.NoError(t, err)
	require.Len(t, got.Detail, maxDetailSize)
	require.Error(t, got.Err())
}

func TestDecodeAttestResponseRejectsGarbage(t *testing.T) {
	cases := map[string][]byte{
		"short":          {msgTypeResult, 0},
		"wrong type":     {msgTypeAttest, 0, 0, 0},
		"truncated":      {msgTypeResult, byte(CodeEmptyList), 0, 10, 'a'},
		"bad ok outcome": {msgTypeResult, byte(CodeOK), 0, 1, 0},
	}

	for name, data := range cases {
		_, err := DecodeAttestResponse(data)
		require.Error(t, err, name)
	}
}

func TestErrorCodeMapping(t *testing.T) {
	require.Equal(t, CodeOK, ErrorCode(nil))
	require.Equal(t, "ok", ErrorKind(nil))

	require.Equal(t, CodeInternal, ErrorCode(errors.New("disk on fire")))
	require.Equal(t, "internal", ErrorKind(errors.New("disk on fire")))

	for _, ce := range codeErrors {
		wrapped := fmt.Errorf("context:\n%w", ce.err)

		require.Equal(t, ce.code, ErrorCode(wrapped), ce.kind)
		require.Equal(t, ce.kind, ErrorKind(wrapped))
		require.ErrorIs(t, CodeError(ce.code), ce.err)
	}

	// The downstream wrapper wins over whatever the target returned.
	nested := fmt.Errorf("%w:\n%w", ErrDownstreamExecutionFailed, fmt.Errorf("governance call 0:\n%w", ErrInvalidThreshold))
	require.Equal(t, CodeDownstreamExecutionFailed, ErrorCode(nested))

	require.NoError(t, CodeError(CodeOK))
	require.Error(t, CodeError(Code(0x7F)))
}

func TestGovernanceCodec(t *testing.T) {
	calls := []GovCall{
		{
			Op:      OpSetSources,
			Sources: []message.Address{srcA, srcB},
			Weights: []uint64{10, 0},
		},
		{
			Op:        OpSetOrigins,
			ChainIDs:  []message.ChainID{1, 2},
			Upstreams: []message.Address{upstream, {0x22}},
		},
		{Op: OpSetThreshold, Threshold: 67},
	}

	got, err := DecodeGovernance(EncodeGovernance(calls))
	require.NoError(t, err)
	require.Equal(t, calls, got)

	// Mismatched lengths survive decoding and fail when applied.
	mismatch := []GovCall{{Op: OpSetSources, Sources: []message.Address{srcA}, Weights: []uint64{}}}
	got, err = DecodeGovernance(EncodeGovernance(mismatch))
	require.NoError(t, err)
	require.Len(t, got[0].Sources, 1)
	require.Empty(t, got[0].Weights)

	got, err = DecodeGovernance(EncodeGovernance(nil))
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDecodeGovernanceRejectsGarbage(t *testing.T) {
	valid := EncodeGovernance([]GovCall{{Op: OpSetThreshold, Threshold: 50}})

	cases := map[string][]byte{
		"empty":          nil,
		"truncated":      valid[:len(valid)-1],
		"trailing bytes": append(append([]byte(nil), valid...), 0x00),
		"unknown op":     {1, 0, 0, 0, 0x09},
		"huge count":     {0xFF, 0xFF, 0xFF, 0xFF, byte(OpSetThreshold)},
		"huge sources":   {1, 0, 0, 0, byte(OpSetSources), 0xFF, 0xFF, 0xFF, 0x0F},
	}

	for name, data := range cases {
		_, err := DecodeGovernance(data)
		require.ErrorIs(t, err, ErrMalformedGovernance, name)
	}
}

// countingRejections records rejected kinds.
type countingRejections struct {
	mu    sync.Mutex
	kinds map[string]int
}

func (c *countingRejections) Reject(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.kinds == nil {
		c.kinds = make(map[string]int)
	}
	c.kinds[kind]++
}

func (c *countingRejections) count(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kinds[kind]
}

// TestHandlerOverQUIC attests through real adapter connections: the
// attesting source is the TLS key of the connection.
func TestHandlerOverQUIC(t *testing.T) {
	ctx := context.Background()

	keyA, err := network.GenerateKey()
	require.NoError(t, err)
	keyB, err := network.GenerateKey()
	require.NoError(t, err)
	keyX, err := network.GenerateKey()
	require.NoError(t, err)

	addrA := addressOf(t, keyA)
	addrB := addressOf(t, keyB)

	f := newFixture(t)

	// Register the adapters' keys through governance.
	gov := governanceMessage(300, GovCall{
		Op:      OpSetSources,
		Sources: []message.Address{addrA, addrB},
		Weights: []uint64{100, 100},
	})
	_, err = f.receive(srcA, gov)
	require.NoError(t, err)
	_, err = f.receive(srcB, gov)
	require.NoError(t, err)

	rejections := &countingRejections{}
	handler := NewHandler(f.engine, rejections, slogt.New(t))

	server, err := network.NewNode(network.Config{
		PrivateKey: mustKey(t),
		ListenAddr: "127.0.0.1:0",
		Log:        slogt.New(t),
	})
	require.NoError(t, err)
	server.OnRequest(handler.HandleRequest)
	require.NoError(t, server.Start())
	t.Cleanup(func() { server.Close() })

	attest := func(key ed25519.PrivateKey, req *AttestRequest) *AttestResponse {
		t.Helper()

		client, err := network.NewNode(network.Config{PrivateKey: key, Log: slogt.New(t)})
		require.NoError(t, err)
		defer client.Close()

		peer, err := client.Connect(ctx, server.Addr())
		require.NoError(t, err)

		data, err := peer.Request(ctx, EncodeAttestRequest(req))
		require.NoError(t, err)

		resp, err := DecodeAttestResponse(data)
		require.NoError(t, err)

		return resp
	}

	req := &AttestRequest{
		Message:    appMessage(400),
		Provenance: message.Provenance{SrcChainID: srcChain, Upstream: upstream},
	}

	// Total 300, threshold 60: A and B together (200) cross it.
	resp := attest(keyA, req)
	require.Equal(t, CodeOK, resp.Code, resp.Detail)
	require.Equal(t, ledger.Pending, resp.Outcome.Status)
	require.Equal(t, message.ComputeID(srcChain, req.Message), resp.Outcome.ID)

	resp = attest(keyA, req)
	require.ErrorIs(t, resp.Err(), ErrDuplicateAttestation)

	resp = attest(keyX, req)
	require.ErrorIs(t, resp.Err(), ErrUnauthorizedSource)

	resp = attest(keyB, req)
	require.Equal(t, CodeOK, resp.Code, resp.Detail)
	require.Equal(t, ledger.Executed, resp.Outcome.Status)
	require.Equal(t, uint64(200), resp.Outcome.Power)
	require.Equal(t, 1, f.callCount())

	require.Equal(t, 1, rejections.count("duplicate_attestation"))
	require.Equal(t, 1, rejections.count("unauthorized_source"))
}

// TestHandlerMalformedRequest checks that garbage gets a coded answer.
func TestHandlerMalformedRequest(t *testing.T) {
	f := newFixture(t)
	rejections := &countingRejections{}
	h := NewHandler(f.engine, rejections, slogt.New(t))

	resp := h.process(context.Background(), srcA, []byte{0x01, 0x02, 0x03, 0x04, 0x05})
	require.Equal(t, CodeMalformedRequest, resp.Code)
	require.NotEmpty(t, resp.Detail)
	require.Equal(t, 1, rejections.count("malformed_request"))
}

func mustKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()

	key, err := network.GenerateKey()
	require.NoError(t, err)

	return key
}

func addressOf(t *testing.T, key ed25519.PrivateKey) message.Address {
	t.Helper()

	addr, err := message.AddressFromBytes(key.Public().(ed25519.PublicKey))
	require.NoError(t, err)

	return addr
}
