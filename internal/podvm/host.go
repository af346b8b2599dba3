package podvm

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// execKey is the context key carrying the execContext of a call.
type execKey struct{}

// execContext holds the execution state for a single WASM invocation.
type execContext struct {
	input        []byte // input is the FlatBuffers-encoded Invocation
	output       []byte // output is what the pod passed to write_output
	gasLimit     uint64 // gasLimit is the maximum gas allowed
	gasUsed      uint64 // gasUsed tracks consumed gas
	gasExhausted bool   // gasExhausted is true if gas limit was exceeded
}

// withExecContext attaches exec to ctx for the host functions.
func withExecContext(ctx context.Context, exec *execContext) context.Context {
	return context.WithValue(ctx, execKey{}, exec)
}

// execFrom returns the execContext of the running call, nil outside Execute.
func execFrom(ctx context.Context) *execContext {
	exec, _ := ctx.Value(execKey{}).(*execContext)
	return exec
}

// buildHostModule instantiates the "env" module with host functions.
// It is shared by every instance; per-call state travels in the context.
func buildHostModule(ctx context.Context, runtime wazero.Runtime) (api.Module, error) {
	return runtime.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, cost uint32) {
			hostGas(execFrom(ctx), cost)
		}).
		Export("gas").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context) uint32 {
			return hostInputLen(execFrom(ctx))
		}).
		Export("input_len").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, ptr uint32) {
			hostReadInput(execFrom(ctx), m.Memory(), ptr)
		}).
		Export("read_input").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, ptr, length uint32) {
			hostWriteOutput(execFrom(ctx), m.Memory(), ptr, length)
		}).
		Export("write_output").
		Instantiate(ctx)
}

// hostGas handles gas metering.
// Panics if gas limit is exceeded to abort execution.
func hostGas(exec *execContext, cost uint32) {
	if exec == nil {
		return
	}

	exec.gasUsed += uint64(cost)

	if exec.gasUsed > exec.gasLimit {
		exec.gasExhausted = true
		panic("gas exhausted")
	}
}

// hostInputLen returns the length of the input buffer.
func hostInputLen(exec *execContext) uint32 {
	if exec == nil {
		return 0
	}

	return uint32(len(exec.input))
}

// hostReadInput copies the input buffer into WASM memory at the given pointer.
func hostReadInput(exec *execContext, mem api.Memory, ptr uint32) {
	if exec == nil || mem == nil || len(exec.input) == 0 {
		return
	}

	mem.Write(ptr, exec.input)
}

// hostWriteOutput reads the output from WASM memory and stores it.
func hostWriteOutput(exec *execContext, mem api.Memory, ptr, length uint32) {
	if exec == nil || mem == nil || length == 0 {
		return
	}

	data, ok := mem.Read(ptr, length)
	if !ok {
		return
	}

	exec.output = make([]byte, length)
	copy(exec.output, data)
}
