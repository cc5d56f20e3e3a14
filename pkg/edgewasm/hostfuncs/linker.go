package hostfuncs

import (
	"context"
	"encoding/json"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/hszk-dev/edge-runtime/pkg/edgewasm"
)

// hostModuleName is the import module name guest binaries built
// against this world's WIT import maps to, following the teacher's
// convention of registering host functions under a short fixed name
// rather than one name per WIT interface.
const hostModuleName = "env"

// Bind implements edgewasm.HostBinder. It registers exactly the two
// capability surfaces spec.md §6 fixes the guest-facing world to:
// logging (always, when Permissions.LoggingEnabled) and outbound HTTP
// (only when Permissions.HTTPEnabled). A guest module that imports a
// function neither enabled surface exports fails to instantiate with
// an unsatisfied-import error, which the runner classifies as
// InvalidConfig — exactly the teacher's existing registerHostModule
// pattern, narrowed to this spec's two capabilities instead of the
// teacher's DB/cache/pubsub/wallet surface.
func (h *HostFunctions) Bind(ctx context.Context, runtime wazero.Runtime) error {
	builder := runtime.NewHostModuleBuilder(hostModuleName)

	if h.permissions.LoggingEnabled() {
		builder = builder.
			NewFunctionBuilder().WithFunc(h.hLog).Export("log").
			NewFunctionBuilder().WithFunc(h.hDebug).Export("debug").
			NewFunctionBuilder().WithFunc(h.hInfo).Export("info").
			NewFunctionBuilder().WithFunc(h.hWarn).Export("warn").
			NewFunctionBuilder().WithFunc(h.hError).Export("error")
	}
	if h.permissions.HTTPEnabled() {
		builder = builder.
			NewFunctionBuilder().WithFunc(h.hFetch).Export("fetch").
			NewFunctionBuilder().WithFunc(h.hGet).Export("get")
	}

	_, err := builder.Instantiate(ctx)
	return err
}

// hFetch is the wazero-facing wrapper around fetch: it reads a
// JSON-encoded HTTPRequest from guest memory, runs the pipeline, and
// writes back a JSON-encoded wireResult carrying either the response or
// the typed failure.
func (h *HostFunctions) hFetch(ctx context.Context, mod api.Module, reqPtr, reqLen uint32) uint64 {
	wc, ok := edgewasm.WorkerContextFromContext(ctx)
	if !ok {
		return 0
	}
	wc.ChargeHostCall()

	reqBytes, ok := readGuestBytes(mod, reqPtr, reqLen)
	if !ok {
		return writeWireResult(ctx, mod, wireResult{OK: false, Error: HTTPErrorOther})
	}
	var req HTTPRequest
	if err := json.Unmarshal(reqBytes, &req); err != nil {
		return writeWireResult(ctx, mod, wireResult{OK: false, Error: HTTPErrorOther})
	}

	resp, httpErr := h.fetch(ctx, wc, req)
	if httpErr != "" {
		return writeWireResult(ctx, mod, wireResult{OK: false, Error: httpErr})
	}
	value, err := json.Marshal(resp)
	if err != nil {
		return writeWireResult(ctx, mod, wireResult{OK: false, Error: HTTPErrorOther})
	}
	return writeWireResult(ctx, mod, wireResult{OK: true, Value: value})
}

// hGet is the wazero-facing wrapper around get: reads a URI string,
// returns a wireResult carrying the raw body bytes (base64-encoded by
// the JSON marshaller, since wireResult.Value is a json.RawMessage) or
// a typed failure.
func (h *HostFunctions) hGet(ctx context.Context, mod api.Module, uriPtr, uriLen uint32) uint64 {
	wc, ok := edgewasm.WorkerContextFromContext(ctx)
	if !ok {
		return 0
	}
	wc.ChargeHostCall()

	uriBytes, ok := readGuestBytes(mod, uriPtr, uriLen)
	if !ok {
		return writeWireResult(ctx, mod, wireResult{OK: false, Error: HTTPErrorOther})
	}

	body, httpErr := h.get(ctx, wc, string(uriBytes))
	if httpErr != "" {
		return writeWireResult(ctx, mod, wireResult{OK: false, Error: httpErr})
	}
	value, err := json.Marshal(body)
	if err != nil {
		return writeWireResult(ctx, mod, wireResult{OK: false, Error: HTTPErrorOther})
	}
	return writeWireResult(ctx, mod, wireResult{OK: true, Value: value})
}

// readGuestBytes reads length bytes from the guest's default linear
// memory at ptr, reporting false if the range is out of bounds.
func readGuestBytes(mod api.Module, ptr, length uint32) ([]byte, bool) {
	mem := mod.Memory()
	if mem == nil {
		return nil, false
	}
	data, ok := mem.Read(ptr, length)
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// writeWireResult JSON-marshals v, writes it into guest memory via the
// guest's exported allocator, and packs the result as (ptr, len) into a
// single uint64 — the lower 32 bits the pointer, the upper 32 bits the
// length, matching the packing convention the guest-facing ABI uses for
// every host function that returns variable-length data. Returns 0 (an
// invalid pointer with zero length) if the guest exposes no allocator
// or the marshal fails, which the guest must treat as "no result
// available" per the same convention.
func writeWireResult(ctx context.Context, mod api.Module, v wireResult) uint64 {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return writeToGuest(ctx, mod, data)
}

// writeToGuest allocates len(data) bytes in the guest via its exported
// "alloc" (falling back to "malloc", the teacher's own export name) and
// copies data into that region, packing ptr/len into one uint64 the
// same way the teacher's writeToGuest does, with the ambiguity the
// teacher's own comments flag (which half holds ptr vs len) resolved
// explicitly here: low 32 bits = pointer, high 32 bits = length.
func writeToGuest(ctx context.Context, mod api.Module, data []byte) uint64 {
	if len(data) == 0 {
		return 0
	}
	alloc := mod.ExportedFunction("alloc")
	if alloc == nil {
		alloc = mod.ExportedFunction("malloc")
	}
	if alloc == nil {
		return 0
	}
	results, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil || len(results) == 0 {
		return 0
	}
	ptr := uint32(results[0])
	mem := mod.Memory()
	if mem == nil || !mem.Write(ptr, data) {
		return 0
	}
	return uint64(ptr) | (uint64(len(data)) << 32)
}
