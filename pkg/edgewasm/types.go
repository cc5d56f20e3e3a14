// Package edgewasm implements the core of an edge serverless runtime: a
// host that loads sandboxed WebAssembly workloads, executes them under
// strict CPU/memory/time bounds, and exposes a curated set of
// capability-gated host services to the guest.
package edgewasm

import "time"

// LogLevel is the severity of a LogEntry appended by a guest through the
// logging host function surface.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// String renders the level the way it appears in structured log fields.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "debug"
	case LogLevelInfo:
		return "info"
	case LogLevelWarn:
		return "warn"
	case LogLevelError:
		return "error"
	default:
		return "unknown"
	}
}

// LogEntry is one line appended by a guest via the logging host function.
type LogEntry struct {
	Level     LogLevel
	Message   string
	Timestamp time.Time
}

// Metrics accumulates resource usage for one invocation. It is populated
// regardless of whether the invocation succeeded or trapped.
type Metrics struct {
	FuelConsumed     uint64
	MemoryUsedBytes  uint64
	Duration         time.Duration
	LogsDropped      uint64
	HTTPRequestCount uint32
}

// ExecutionStatus is the outcome discriminant of an ExecutionResult.
type ExecutionStatus int

const (
	ExecutionStatusSuccess ExecutionStatus = iota
	ExecutionStatusTrap
)

func (s ExecutionStatus) String() string {
	if s == ExecutionStatusSuccess {
		return "success"
	}
	return "trap"
}

// TrapCode classifies why an invocation trapped, mirroring the error
// taxonomy in the common error types.
type TrapCode string

const (
	TrapCodeFuelExhausted    TrapCode = "fuel-exhausted"
	TrapCodeTimeout          TrapCode = "timeout"
	TrapCodeMemoryExceeded   TrapCode = "memory-exceeded"
	TrapCodeUnreachable      TrapCode = "unreachable"
	TrapCodeModuleNotFound   TrapCode = "module-not-found"
	TrapCodeInvalidConfig    TrapCode = "invalid-config"
	TrapCodeHostFunctionFail TrapCode = "host-function-error"
	// TrapCodeExit classifies a guest that called proc_exit/exit() with a
	// non-zero status: a clean process exit, distinct from a wall-clock
	// or fuel cutoff, so it must never be reported as TrapCodeTimeout.
	TrapCodeExit  TrapCode = "exit"
	TrapCodeOther TrapCode = "other"
)

// ExecutionResult is the structured outcome of one invocation. Output is
// only meaningful when Status is ExecutionStatusSuccess.
type ExecutionResult struct {
	Status       ExecutionStatus
	Output       []byte
	TrapMessage  string
	TrapCode     TrapCode
	Logs         []LogEntry
	Metrics      Metrics
	RequestID    string
}

// Success reports whether the invocation completed without trapping.
func (r *ExecutionResult) Success() bool {
	return r.Status == ExecutionStatusSuccess
}
