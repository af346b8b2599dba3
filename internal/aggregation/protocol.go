package aggregation

import (
	"encoding/binary"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"MultiBridge/internal/ledger"
	"MultiBridge/internal/message"
	"MultiBridge/internal/types"
)

// Message types for the attestation protocol.
const (
	msgTypeAttest = 0x01 // Attestation from an adapter
	msgTypeResult = 0x02 // Result of an attestation
)

const (
	// maxDetailSize bounds the error text carried by a result.
	maxDetailSize = 1024

	// outcomeSize is the detail size of a successful result: status, id, power.
	outcomeSize = 1 + 32 + 8
)

// AttestRequest is what an adapter submits for one authenticated message.
type AttestRequest struct {
	Message    message.Message    // Message is the transport-independent content
	Provenance message.Provenance // Provenance is what the adapter verified on its transport
}

// EncodeAttestRequest encodes a request.
// Format: [1B type] [FlatBuffers Attestation]
func EncodeAttestRequest(req *AttestRequest) []byte {
	builder := flatbuffers.NewBuilder(128 + len(req.Message.Payload))

	payload := builder.CreateByteVector(req.Message.Payload)
	target := builder.CreateByteVector(req.Message.Target[:])
	upstream := builder.CreateByteVector(req.Provenance.Upstream[:])

	types.AttestationStart(builder)
	types.AttestationAddSrcChainId(builder, uint64(req.Provenance.SrcChainID))
	types.AttestationAddUpstream(builder, upstream)
	types.AttestationAddDstChainId(builder, uint64(req.Message.DstChainID))
	types.AttestationAddNonce(builder, req.Message.Nonce)
	types.AttestationAddTarget(builder, target)
	types.AttestationAddPayload(builder, payload)
	builder.Finish(types.AttestationEnd(builder))

	body := builder.FinishedBytes()

	buf := make([]byte, 1+len(body))
	buf[0] = msgTypeAttest
	copy(buf[1:], body)

	return buf
}

// DecodeAttestRequest decodes a request from an untrusted peer.
func DecodeAttestRequest(data []byte) (req *AttestRequest, err error) {
	if len(data) < 1+flatbuffers.SizeUOffsetT {
		return nil, fmt.Errorf("%w: too short: %d", ErrMalformedRequest, len(data))
	}

	if data[0] != msgTypeAttest {
		return nil, fmt.Errorf("%w: invalid message type: 0x%02x", ErrMalformedRequest, data[0])
	}

	// FlatBuffers accessors panic on out-of-range offsets.
	defer func() {
		if r := recover(); r != nil {
			req, err = nil, fmt.Errorf("%w: %v", ErrMalformedRequest, r)
		}
	}()

	body := data[1:]
	att := types.GetRootAsAttestation(body, 0)

	upstream, err := message.AddressFromBytes(att.UpstreamBytes())
	if err != nil {
		return nil, fmt.Errorf("%w: upstream: %v", ErrMalformedRequest, err)
	}

	target, err := message.AddressFromBytes(att.TargetBytes())
	if err != nil {
		return nil, fmt.Errorf("%w: target: %v", ErrMalformedRequest, err)
	}

	payload := att.PayloadBytes()

	return &AttestRequest{
		Message: message.Message{
			DstChainID: message.ChainID(att.DstChainId()),
			Nonce:      att.Nonce(),
			Target:     target,
			Payload:    append([]byte(nil), payload...),
		},
		Provenance: message.Provenance{
			SrcChainID: message.ChainID(att.SrcChainId()),
			Upstream:   upstream,
		},
	}, nil
}

// AttestResponse is the node's answer to an attestation.
type AttestResponse struct {
	Code    Code    // Code is CodeOK or the error kind
	Outcome Outcome // Outcome is set when Code is CodeOK
	Detail  string  // Detail is the error text when Code is not CodeOK
}

// Err returns nil for CodeOK, otherwise the sentinel of Code wrapped with Detail.
func (r *AttestResponse) Err() error {
	sentinel := CodeError(r.Code)
	if sentinel == nil {
		return nil
	}

	if r.Detail == "" {
		return sentinel
	}

	return fmt.Errorf("%w: remote: %s", sentinel, r.Detail)
}

// EncodeAttestResponse encodes a response.
// Format: [1B type] [1B code] [2B detailLen] [detail]
// The detail of a success is [1B status] [32B id] [8B power].
func EncodeAttestResponse(resp *AttestResponse) []byte {
	var detail []byte

	if resp.Code == CodeOK {
		detail = make([]byte, outcomeSize)
		detail[0] = byte(resp.Outcome.Status)
		copy(detail[1:33], resp.Outcome.ID[:])
		binary.BigEndian.PutUint64(detail[33:41], resp.Outcome.Power)
	} else {
		detail = []byte(resp.Detail)
		if len(detail) > maxDetailSize {
			detail = detail[:maxDetailSize]
		}
	}

	buf := make([]byte, 4+len(detail))
	buf[0] = msgTypeResult
	buf[1] = byte(resp.Code)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(detail)))
	copy(buf[4:], detail)

	return buf
}

// DecodeAttestResponse decodes a response.
func DecodeAttestResponse(data []byte) (*AttestResponse, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("response too short: %d < 4", len(data))
	}

	if data[0] != msgTypeResult {
		return nil, fmt.Errorf("invalid message type: 0x%02x", data[0])
	}

	detailLen := int(binary.BigEndian.Uint16(data[2:4]))
	if len(data) < 4+detailLen {
		return nil, fmt.Errorf("detail truncated: need %d, have %d", 4+detailLen, len(data))
	}

	detail := data[4 : 4+detailLen]
	resp := &AttestResponse{Code: Code(data[1])}

	if resp.Code != CodeOK {
		resp.Detail = string(detail)
		return resp, nil
	}

	if detailLen != outcomeSize {
		return nil, fmt.Errorf("invalid outcome size: %d", detailLen)
	}

	resp.Outcome.Status = ledger.Status(detail[0])
	copy(resp.Outcome.ID[:], detail[1:33])
	resp.Outcome.Power = binary.BigEndian.Uint64(detail[33:41])

	return resp, nil
}
