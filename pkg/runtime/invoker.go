package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// CallResult bundles a fetch invocation's outcome with a gas snapshot taken
// regardless of whether the call succeeded, failed, or aborted, so callers
// can always surface usage to the client.
type CallResult struct {
	Response *Response
	Gas      GasReport
}

// CallFetch drives the single entry point a conforming module exposes:
// fetch(request_ptr) -> response_ptr. It implements the exact sequence
// spec.md §4.6 describes: serialize the request, hand it to the guest via a
// freshly built region, invoke fetch, read and free the guest's result
// region, and deserialize it as a FuncResult<Response>.
//
// A GasReport is always returned alongside the error, even on failure, so
// callers (the gateway) can attach gas usage headers to error responses too.
func CallFetch(ctx context.Context, inst *Instance, req *Request, logger *zap.Logger) (*CallResult, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	inst.gas.ResetForInvocation()

	result, err := callFetchLocked(ctx, inst, req, logger)
	gas := inst.gas.Report()
	if err != nil {
		return &CallResult{Gas: gas}, err
	}
	return &CallResult{Response: result, Gas: gas}, nil
}

func callFetchLocked(ctx context.Context, inst *Instance, req *Request, logger *zap.Logger) (*Response, error) {
	serialized, err := json.Marshal(req)
	if err != nil {
		return nil, &CommunicationError{Cause: fmt.Errorf("failed to serialize request: %w", err)}
	}
	if len(serialized) > MaxRequestBytes {
		return nil, ErrPayloadTooLarge
	}

	reqPtr, err := inst.bridge.allocate(ctx, uint32(len(serialized)))
	if err != nil {
		return nil, &RuntimeError{Cause: fmt.Errorf("allocate request region: %w", err)}
	}
	if err := inst.bridge.writeRegion(reqPtr, serialized); err != nil {
		_ = inst.bridge.deallocate(ctx, reqPtr)
		return nil, &RuntimeError{Cause: fmt.Errorf("write request region: %w", err)}
	}

	resPtr64, err := inst.CallFunction1(ctx, "fetch", uint64(reqPtr))
	if err != nil {
		// The guest owns req_ptr once fetch has been called; per spec.md
		// §4.6 the host does not free it itself, mirroring the contract
		// that deallocate is always the guest's own export being invoked on
		// memory it allocated and is free to release however it completed.
		return nil, err
	}

	raw, err := inst.bridge.readRegion(uint32(resPtr64), MaxResultBytes)
	if err != nil {
		return nil, &RuntimeError{Cause: fmt.Errorf("read response region: %w", err)}
	}
	if derr := inst.bridge.deallocate(ctx, uint32(resPtr64)); derr != nil {
		logger.Warn("fetch: failed to deallocate response region",
			zap.String("cid", inst.cid), zap.Error(derr))
	}

	if len(raw) > MaxDeserializeBytes {
		return nil, ErrPayloadTooLarge
	}

	var result FuncResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &CommunicationError{Cause: fmt.Errorf("failed to deserialize response: %w", err)}
	}

	if result.Err != nil {
		return nil, &FuncError{Message: *result.Err}
	}
	if result.Ok == nil {
		return nil, &CommunicationError{Cause: fmt.Errorf("function result carried neither ok nor err")}
	}
	return result.Ok, nil
}
