package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	flatbuffers "github.com/google/flatbuffers/go"

	"MultiBridge/internal/podvm"
	"MultiBridge/internal/types"
)

const (
	// DefaultGasLimit bounds one pod execution.
	DefaultGasLimit = 10_000_000
)

// ErrPodRejected is returned when a pod reports a non-zero status byte.
var ErrPodRejected = errors.New("pod rejected call")

// PodHandler runs a call inside a WASM pod.
// The pod receives a FlatBuffers Invocation; an output whose first byte is
// non-zero reports failure with that status.
type PodHandler struct {
	pool     *podvm.Pool // pool holds the compiled pod
	gasLimit uint64      // gasLimit bounds each execution
}

// NewPodHandler creates a PodHandler executing pods from pool.
func NewPodHandler(pool *podvm.Pool, gasLimit uint64) *PodHandler {
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}

	return &PodHandler{pool: pool, gasLimit: gasLimit}
}

// Invoke executes the pod addressed by call.Target.
func (h *PodHandler) Invoke(ctx context.Context, call Call) error {
	output, gasUsed, err := h.pool.Execute(ctx, call.Target, EncodeInvocation(call), h.gasLimit)
	if err != nil {
		return fmt.Errorf("pod %s (gas %d):\n%w", call.Target.Short(), gasUsed, err)
	}

	if len(output) > 0 && output[0] != 0 {
		return fmt.Errorf("%w: pod %s status %d", ErrPodRejected, call.Target.Short(), output[0])
	}

	return nil
}

// LoadPods compiles every *.wasm file in dir and routes its code hash to h.
// Returns the number of pods loaded.
func LoadPods(ctx context.Context, r *Router, pool *podvm.Pool, h *PodHandler, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read pods dir:\n%w", err)
	}

	loaded := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".wasm") {
			continue
		}

		code, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return loaded, fmt.Errorf("read pod %s:\n%w", entry.Name(), err)
		}

		id, err := pool.Load(ctx, code)
		if err != nil {
			return loaded, fmt.Errorf("load pod %s:\n%w", entry.Name(), err)
		}

		r.Register(id, h)
		loaded++
	}

	return loaded, nil
}

// EncodeInvocation builds the FlatBuffers Invocation passed to pods.
func EncodeInvocation(call Call) []byte {
	builder := flatbuffers.NewBuilder(128 + len(call.Payload))

	payload := builder.CreateByteVector(call.Payload)
	target := builder.CreateByteVector(call.Target[:])
	upstream := builder.CreateByteVector(call.Meta.Upstream[:])
	msgID := builder.CreateByteVector(call.Meta.MsgID[:])

	types.InvocationStart(builder)
	types.InvocationAddMsgId(builder, msgID)
	types.InvocationAddSrcChainId(builder, uint64(call.Meta.SrcChainID))
	types.InvocationAddUpstream(builder, upstream)
	types.InvocationAddTarget(builder, target)
	types.InvocationAddPayload(builder, payload)
	builder.Finish(types.InvocationEnd(builder))

	return builder.FinishedBytes()
}
