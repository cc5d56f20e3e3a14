package hostfuncs

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/hszk-dev/edge-runtime/pkg/edgewasm"
)

// hLog backs the guest-facing log(level, message) function: it appends
// a LogEntry to the calling invocation's WorkerContext (bounded by the
// soft cap) and mirrors the line into the structured logger, exactly
// as the teacher's hLogInfo/hLogError pair does, generalized to all
// four severities the logging world defines. It never fails from the
// guest's perspective, per §4.5.
func (h *HostFunctions) hLog(ctx context.Context, mod api.Module, level uint32, msgPtr, msgLen uint32) {
	wc, ok := edgewasm.WorkerContextFromContext(ctx)
	if !ok {
		return
	}
	wc.ChargeHostCall()

	msg, ok := readGuestBytes(mod, msgPtr, msgLen)
	if !ok {
		return
	}
	lvl := edgewasm.LogLevel(level)
	wc.AppendLog(lvl, string(msg))

	fields := []zap.Field{zap.String("request_id", wc.RequestID)}
	switch lvl {
	case edgewasm.LogLevelDebug:
		h.logger.Debug(string(msg), fields...)
	case edgewasm.LogLevelWarn:
		h.logger.Warn(string(msg), fields...)
	case edgewasm.LogLevelError:
		h.logger.Error(string(msg), fields...)
	default:
		h.logger.Info(string(msg), fields...)
	}
}

func (h *HostFunctions) hDebug(ctx context.Context, mod api.Module, ptr, l uint32) {
	h.hLog(ctx, mod, uint32(edgewasm.LogLevelDebug), ptr, l)
}

func (h *HostFunctions) hInfo(ctx context.Context, mod api.Module, ptr, l uint32) {
	h.hLog(ctx, mod, uint32(edgewasm.LogLevelInfo), ptr, l)
}

func (h *HostFunctions) hWarn(ctx context.Context, mod api.Module, ptr, l uint32) {
	h.hLog(ctx, mod, uint32(edgewasm.LogLevelWarn), ptr, l)
}

func (h *HostFunctions) hError(ctx context.Context, mod api.Module, ptr, l uint32) {
	h.hLog(ctx, mod, uint32(edgewasm.LogLevelError), ptr, l)
}
