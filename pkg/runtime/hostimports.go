package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// SQLAdapter is the capability the read host import delegates to (C9). It
// is implemented by both a real HTTP-backed client and a deterministic mock.
type SQLAdapter interface {
	Read(ctx context.Context, statement string, opts ReadOptions) (value json.RawMessage, responseBytes int, err error)
}

// hostImportCosts are the flat, per-call gas charges applied at the
// host-import boundary, independent of the per-function internal metering
// in gas.go. read additionally charges a per-byte surcharge on the response.
const (
	readFlatCost        = 1000
	readPerByteCost     = 1
	debugCost           = 0 // debug never charges gas, per contract
	abortCost           = 0
)

// hostEnv backs the "env" host module: read, debug, and abort. One hostEnv
// is shared by every Instance created from a given Engine; the Instance
// each call belongs to is carried through ctx (instanceFromContext), the
// same call-scoped context-value idiom used by waPC's wazero engine to
// recover its invokeContext.
type hostEnv struct {
	adapter   SQLAdapter
	logger    *zap.Logger
	debugSink func(string)
}

// registerHostModule builds and instantiates the "env" host module on the
// given wazero.Runtime, matching pkg/serverless/engine.go's
// NewHostModuleBuilder("...").NewFunctionBuilder().WithFunc(...).Export(...)
// pattern, narrowed to exactly the three allow-listed imports.
func registerHostModule(ctx context.Context, rt wazero.Runtime, env *hostEnv) error {
	_, err := rt.NewHostModuleBuilder("env").
		NewFunctionBuilder().WithFunc(env.read).Export("read").
		NewFunctionBuilder().WithFunc(env.debug).Export("debug").
		NewFunctionBuilder().WithFunc(env.abort).Export("abort").
		Instantiate(ctx)
	return err
}

// read implements env.read(request_ptr) -> response_ptr.
func (h *hostEnv) read(ctx context.Context, mod api.Module, requestPtr uint32) uint64 {
	inst := instanceFromContext(ctx)
	b := newBridge(mod)

	raw, err := b.readRegion(requestPtr, MaxReadRequestBytes)
	if err != nil {
		return h.readError(ctx, b, fmt.Sprintf("invalid request region: %v", err))
	}
	if len(raw) == 0 {
		return h.readError(ctx, b, "empty read request")
	}

	var req ReadRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return h.readError(ctx, b, fmt.Sprintf("malformed read request: %v", err))
	}

	if inst != nil {
		if err := inst.gas.ProcessGasInfo(GasInfo{Cost: readFlatCost}); err != nil {
			return h.readError(ctx, b, "out of gas")
		}
	}

	value, respBytes, err := h.adapter.Read(ctx, req.Stm, req.Opts)
	if err != nil {
		return h.readError(ctx, b, err.Error())
	}

	if inst != nil {
		if err := inst.gas.ProcessGasInfo(GasInfo{ExternallyUsed: uint64(respBytes) * readPerByteCost}); err != nil {
			return h.readError(ctx, b, "out of gas")
		}
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return h.readError(ctx, b, fmt.Sprintf("failed to encode result: %v", err))
	}

	ptr, err := b.buildRegion(ctx, encoded)
	if err != nil {
		h.logger.Error("read: failed to build response region", zap.Error(err))
		return 0
	}
	return uint64(ptr)
}

// readError writes a host-constructed error payload into a new region and
// returns its pointer, matching the "Empty -> returns a host-constructed
// error payload in a new region" requirement.
func (h *hostEnv) readError(ctx context.Context, b *bridge, message string) uint64 {
	payload, _ := json.Marshal(map[string]string{"error": message})
	ptr, err := b.buildRegion(ctx, payload)
	if err != nil {
		h.logger.Error("read: failed to build error region", zap.Error(err))
		return 0
	}
	return uint64(ptr)
}

// debug implements env.debug(message_ptr). Never charges gas, never fails.
func (h *hostEnv) debug(ctx context.Context, mod api.Module, messagePtr uint32) {
	b := newBridge(mod)
	raw, err := b.readRegion(messagePtr, MaxDebugMessageBytes)
	if err != nil {
		h.logger.Debug("debug: could not read message region", zap.Error(err))
		return
	}
	if h.debugSink != nil {
		h.debugSink(string(raw))
	}
}

// abortPanic carries an aborted guest's message up through the call stack.
type abortPanic struct {
	Message string
}

// abort implements env.abort(message_ptr): reads the message, then
// terminates the current fetch call with a terminal AbortedError. It never
// returns control to the guest.
func (h *hostEnv) abort(ctx context.Context, mod api.Module, messagePtr uint32) {
	b := newBridge(mod)
	raw, _ := b.readRegion(messagePtr, MaxAbortMessageBytes)
	panic(abortPanic{Message: string(raw)})
}
