package aggregation

import (
	"context"
	"log/slog"

	"MultiBridge/internal/message"
	"MultiBridge/internal/network"
)

// Rejections counts failed attestations by error kind.
type Rejections interface {
	Reject(kind string)
}

// Handler serves attestation requests from adapters.
// The attesting source is the adapter's TLS identity, never a request field.
type Handler struct {
	engine     *Engine    // engine receives the attestations
	rejections Rejections // rejections is told about every failure, may be nil
	log        *slog.Logger
}

// NewHandler creates a new attestation request Handler.
func NewHandler(engine *Engine, rejections Rejections, log *slog.Logger) *Handler {
	return &Handler{
		engine:     engine,
		rejections: rejections,
		log:        log,
	}
}

// HandleRequest processes an attestation request and returns the response.
// Designed to be used as network.Node.OnRequest handler.
func (h *Handler) HandleRequest(ctx context.Context, peer *network.Peer, data []byte) ([]byte, error) {
	source, err := message.AddressFromBytes(peer.PublicKey())
	if err != nil {
		return nil, err
	}

	return EncodeAttestResponse(h.process(ctx, source, data)), nil
}

// process decodes and applies one attestation from source.
func (h *Handler) process(ctx context.Context, source message.Address, data []byte) *AttestResponse {
	req, err := DecodeAttestRequest(data)
	if err == nil {
		var out Outcome

		out, err = h.engine.Receive(ctx, source, req.Message, req.Provenance)
		if err == nil {
			return &AttestResponse{Code: CodeOK, Outcome: out}
		}
	}

	kind := ErrorKind(err)

	if h.rejections != nil {
		h.rejections.Reject(kind)
	}

	h.log.Debug("attestation rejected", "source", source.Short(), "kind", kind, "error", err)

	return &AttestResponse{Code: ErrorCode(err), Detail: err.Error()}
}
