package podvm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/zeebo/blake3"

	"MultiBridge/internal/message"
)

var (
	// ErrModuleNotFound is returned when a module ID is not found in the pool.
	ErrModuleNotFound = errors.New("module not found")

	// ErrGasExhausted is returned when execution runs out of gas.
	ErrGasExhausted = errors.New("gas exhausted")

	// ErrNoExecute is returned when a module does not export execute.
	ErrNoExecute = errors.New("execute function not exported")
)

// Pool manages compiled WASM pods.
// Modules are compiled once; each execution gets a fresh anonymous instance,
// so executions of the same pod never share memory.
type Pool struct {
	runtime wazero.Runtime                            // runtime is the wazero runtime instance
	host    api.Module                                // host is the shared "env" module
	modules map[message.Address]wazero.CompiledModule // modules maps blake3 hash to compiled module
	mu      sync.RWMutex                              // mu protects modules map
}

// New creates a Pool with an initialized runtime and host module.
// Executions abort when their context is done.
func New(ctx context.Context) (*Pool, error) {
	runtime := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))

	host, err := buildHostModule(ctx, runtime)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("build host module:\n%w", err)
	}

	return &Pool{
		runtime: runtime,
		host:    host,
		modules: make(map[message.Address]wazero.CompiledModule),
	}, nil
}

// ModuleID returns the address a module is dispatched under: the blake3 hash of its code.
func ModuleID(wasmBytes []byte) message.Address {
	return message.Address(blake3.Sum256(wasmBytes))
}

// Load compiles and stores a WASM module and returns its ID.
// Loading the same bytes twice is a no-op.
func (p *Pool) Load(ctx context.Context, wasmBytes []byte) (message.Address, error) {
	id := ModuleID(wasmBytes)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.modules[id]; exists {
		return id, nil
	}

	compiled, err := p.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return message.Address{}, fmt.Errorf("compile module:\n%w", err)
	}

	if _, ok := compiled.ExportedFunctions()["execute"]; !ok {
		compiled.Close(ctx)
		return message.Address{}, ErrNoExecute
	}

	p.modules[id] = compiled

	return id, nil
}

// Has reports whether id is loaded.
func (p *Pool) Has(id message.Address) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	_, ok := p.modules[id]
	return ok
}

// Execute runs a module with the given input and gas limit.
// Returns the output bytes and the amount of gas consumed.
func (p *Pool) Execute(ctx context.Context, id message.Address, input []byte, gasLimit uint64) ([]byte, uint64, error) {
	p.mu.RLock()
	compiled, exists := p.modules[id]
	p.mu.RUnlock()

	if !exists {
		return nil, 0, ErrModuleNotFound
	}

	exec := &execContext{
		input:    input,
		gasLimit: gasLimit,
	}

	ctx = withExecContext(ctx, exec)

	// An empty name keeps instances anonymous so executions never collide.
	instance, err := p.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, exec.gasUsed, fmt.Errorf("instantiate module:\n%w", err)
	}
	defer instance.Close(ctx)

	return p.callExecute(ctx, instance, exec)
}

// callExecute calls the execute function on the WASM instance.
func (p *Pool) callExecute(ctx context.Context, instance api.Module, exec *execContext) ([]byte, uint64, error) {
	executeFn := instance.ExportedFunction("execute")
	if executeFn == nil {
		return nil, exec.gasUsed, ErrNoExecute
	}

	if _, err := executeFn.Call(ctx); err != nil {
		if exec.gasExhausted {
			return nil, exec.gasUsed, ErrGasExhausted
		}

		return nil, exec.gasUsed, fmt.Errorf("execute:\n%w", err)
	}

	return exec.output, exec.gasUsed, nil
}

// Unload removes a module from the pool.
func (p *Pool) Unload(ctx context.Context, id message.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if compiled, exists := p.modules[id]; exists {
		compiled.Close(ctx)
		delete(p.modules, id)
	}
}

// Close releases all resources held by the pool.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, compiled := range p.modules {
		compiled.Close(ctx)
		delete(p.modules, id)
	}

	return p.runtime.Close(ctx)
}
