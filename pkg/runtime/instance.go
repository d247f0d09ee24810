package runtime

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// instanceContextKey is the context.Value key an Instance binds itself
// under for the duration of a single invocation, so host imports (which
// only receive a context.Context and an api.Module) can recover the gas
// state and environment they belong to. Grounded on wapc-wapc-go's wazero
// engine, which carries its own invokeContext the same way via
// context.WithValue(ctx, invokeContextKey{}, ic).
type instanceContextKey struct{}

func withInstance(ctx context.Context, inst *Instance) context.Context {
	return context.WithValue(ctx, instanceContextKey{}, inst)
}

func instanceFromContext(ctx context.Context) *Instance {
	inst, _ := ctx.Value(instanceContextKey{}).(*Instance)
	return inst
}

// Instance is one live, ready-to-run virtual machine: a compiled module's
// instantiation plus its mutable gas state. Per spec.md §3, an instance
// that observes a fatal trap or gas depletion signaled by the Before hook
// remains reusable for later invocations, because each call allocates and
// frees its own regions and only the internal gas counter is reset at the
// start of each invocation. Depletion detected via the wall-clock execution
// budget (a guest looping without making further calls) is the one
// exception: wazero's WithCloseOnContextDone closes the underlying module
// to actually interrupt it, so a subsequent call against the same Instance
// surfaces a *RuntimeError rather than running at all.
type Instance struct {
	cid      string
	mod      api.Module
	compiled wazero.CompiledModule
	gas      *GasState
	bridge   *bridge
	logger   *zap.Logger

	// mu serializes calls against this particular instance handle. Per
	// spec.md §5, two concurrent requests must not share mutable state;
	// the runtime store (C7) is responsible for handing out distinct
	// instance handles (or serializing through this lock) so correctness
	// does not depend on instantiation being cheap to repeat.
	mu sync.Mutex
}

// newInstance wraps a freshly instantiated api.Module with a gas state
// primed to limit.
func newInstance(cid string, mod api.Module, compiled wazero.CompiledModule, limit uint64, logger *zap.Logger) *Instance {
	return &Instance{
		cid:      cid,
		mod:      mod,
		compiled: compiled,
		gas:      NewGasState(limit),
		bridge:   newBridge(mod),
		logger:   logger,
	}
}

// Memory returns the instance's one exported memory. It is an invariant
// (spec.md §3 invariant 2) that exactly one exists; a nil return here would
// indicate the validator (C1) failed to reject a nonconforming module.
func (i *Instance) Memory() api.Memory {
	return i.mod.Memory()
}

// GetGasLeft reads the engine's internal meter.
func (i *Instance) GetGasLeft() uint64 { return i.gas.GetGasLeft() }

// SetGasLeft resets the engine's internal meter.
func (i *Instance) SetGasLeft(n uint64) { i.gas.SetGasLeft(n) }

// DecreaseGasLeft performs a saturating deduction against the internal
// meter, per spec.md §4.5.
func (i *Instance) DecreaseGasLeft(k uint64) error { return i.gas.DecreaseGasLeft(k) }

// ProcessGasInfo applies a host-side cost event to the instance's gas
// state, per spec.md §4.5.
func (i *Instance) ProcessGasInfo(info GasInfo) error { return i.gas.ProcessGasInfo(info) }

// CallFunction1 invokes an exported function expected to return exactly
// one result. A trap is classified against the gas meter: if the meter was
// exhausted by the call, the error is ErrGasDepletion; otherwise it is
// wrapped as a *RuntimeError. A result count mismatch is ErrResultMismatch.
func (i *Instance) CallFunction1(ctx context.Context, name string, args ...uint64) (result uint64, err error) {
	ctx = withInstance(ctx, i)

	defer func() {
		if r := recover(); r != nil {
			switch p := r.(type) {
			case gasExhaustedPanic:
				err = ErrGasDepletion
			case abortPanic:
				err = &AbortedError{Message: p.Message}
			default:
				panic(r)
			}
		}
	}()

	fn := i.mod.ExportedFunction(name)
	if fn == nil {
		return 0, &RuntimeError{Cause: errNoSuchExport(name)}
	}

	execCtx, cancel := context.WithTimeout(ctx, i.gas.ExecutionBudget())
	defer cancel()

	results, callErr := fn.Call(execCtx, args...)
	if callErr != nil {
		if execCtx.Err() == context.DeadlineExceeded || i.gas.GetGasLeft() == 0 {
			i.gas.SetGasLeft(0)
			return 0, ErrGasDepletion
		}
		return 0, &RuntimeError{Cause: callErr}
	}
	if len(results) != 1 {
		return 0, ErrResultMismatch
	}
	return results[0], nil
}

// CallFunction0 invokes an exported function expected to return no result.
func (i *Instance) CallFunction0(ctx context.Context, name string, args ...uint64) (err error) {
	ctx = withInstance(ctx, i)

	defer func() {
		if r := recover(); r != nil {
			switch p := r.(type) {
			case gasExhaustedPanic:
				err = ErrGasDepletion
			case abortPanic:
				err = &AbortedError{Message: p.Message}
			default:
				panic(r)
			}
		}
	}()

	fn := i.mod.ExportedFunction(name)
	if fn == nil {
		return &RuntimeError{Cause: errNoSuchExport(name)}
	}

	execCtx, cancel := context.WithTimeout(ctx, i.gas.ExecutionBudget())
	defer cancel()

	results, callErr := fn.Call(execCtx, args...)
	if callErr != nil {
		if execCtx.Err() == context.DeadlineExceeded || i.gas.GetGasLeft() == 0 {
			i.gas.SetGasLeft(0)
			return ErrGasDepletion
		}
		return &RuntimeError{Cause: callErr}
	}
	if len(results) != 0 {
		return ErrResultMismatch
	}
	return nil
}

// Allocate calls the guest's allocate(size) export.
func (i *Instance) Allocate(ctx context.Context, size uint32) (uint32, error) {
	return i.bridge.allocate(withInstance(ctx, i), size)
}

// Deallocate calls the guest's deallocate(ptr) export.
func (i *Instance) Deallocate(ctx context.Context, ptr uint32) error {
	return i.bridge.deallocate(withInstance(ctx, i), ptr)
}

// WriteRegion writes data into a pre-allocated guest region.
func (i *Instance) WriteRegion(ptr uint32, data []byte) error {
	return i.bridge.writeRegion(ptr, data)
}

// ReadRegion copies up to maxLength bytes from the region at ptr.
func (i *Instance) ReadRegion(ptr, maxLength uint32) ([]byte, error) {
	return i.bridge.readRegion(ptr, maxLength)
}

// Close releases the instance's underlying wazero module.
func (i *Instance) Close(ctx context.Context) error {
	return i.mod.Close(ctx)
}

type noSuchExportError struct{ name string }

func (e *noSuchExportError) Error() string { return "no such export: " + e.name }

func errNoSuchExport(name string) error { return &noSuchExportError{name: name} }
