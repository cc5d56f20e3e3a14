package edgewasm

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that don't need structured fields.
var (
	// ErrModuleNotFound is returned when an identifier does not resolve to
	// a known compiled module, or an entry point export is missing.
	ErrModuleNotFound = errors.New("module not found")

	// ErrCompilationFailed is returned when module bytes are rejected by
	// the validator or the wazero compiler.
	ErrCompilationFailed = errors.New("wasm compilation failed")

	// ErrExecutionTimeout is returned when the epoch deadline trips
	// before the guest's entry point returns.
	ErrExecutionTimeout = errors.New("execution timeout")

	// ErrFuelExhausted is returned when the guest's fuel budget is
	// consumed before the entry point returns.
	ErrFuelExhausted = errors.New("fuel exhausted")

	// ErrMemoryExceeded is returned when the allocator refuses a memory
	// growth request beyond the configured ceiling.
	ErrMemoryExceeded = errors.New("memory limit exceeded")

	// ErrInvalidConfig is returned for host-side misconfiguration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidWASM is returned when input bytes fail the \0asm header
	// check before compilation is attempted.
	ErrInvalidWASM = errors.New("invalid wasm module")

	// ErrPoolExhausted names an instance pool with no free or
	// instantiable slots. Nothing in this module returns it: a pool
	// Acquire whose context ends first returns ctx.Err(), which Run
	// wraps in ErrInvalidConfig.
	ErrPoolExhausted = errors.New("instance pool exhausted")

	// ErrRateLimited names a reached request cap. Nothing in this module
	// returns it: the outbound HTTP surface reports a reached
	// per-invocation cap to the guest as hostfuncs.HTTPErrorRateLimited.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrPermissionDenied is returned when a capability is requested
	// that the current Permissions set does not grant.
	ErrPermissionDenied = errors.New("permission denied")
)

// ConfigError reports a single invalid EngineConfig or ExecutionConfig
// field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Message)
}

// ValidationError reports invalid caller-supplied input, distinct from
// configuration.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// ExecutionError wraps a failure encountered while running a specific
// invocation, carrying enough context to correlate with logs.
type ExecutionError struct {
	RequestID string
	Cause     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution error (request %s): %v", e.RequestID, e.Cause)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// HostFunctionError is the HostFunctionError{...} taxonomy member from
// the error handling design: a failure surfaced by a host function
// before it is delivered to the guest through the interface's result
// type.
type HostFunctionError struct {
	Function string
	Kind     HostFunctionErrorKind
	Resource string
	Cause    error
}

// HostFunctionErrorKind enumerates the HostFunctionError sub-kinds named
// in the error handling design.
type HostFunctionErrorKind string

const (
	HostFunctionErrorHTTPRequestFailed  HostFunctionErrorKind = "http-request-failed"
	HostFunctionErrorPermissionDenied   HostFunctionErrorKind = "permission-denied"
	HostFunctionErrorRateLimitExceeded  HostFunctionErrorKind = "rate-limit-exceeded"
	HostFunctionErrorInvalidArgument    HostFunctionErrorKind = "invalid-argument"
)

func (e *HostFunctionError) Error() string {
	return fmt.Sprintf("host function %q (%s): %v", e.Function, e.Kind, e.Cause)
}

func (e *HostFunctionError) Unwrap() error {
	return e.Cause
}

// IsNotFound reports whether err indicates an unresolved identifier.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrModuleNotFound)
}

// IsRetryable reports whether err indicates a transient condition a
// caller might reasonably retry (rate limiting, timeouts, pool
// exhaustion), as opposed to a deterministic rejection (bad config,
// bad module bytes).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrExecutionTimeout) ||
		errors.Is(err, ErrPoolExhausted)
}

// IsResourceExhausted reports whether err indicates a resource ceiling
// was hit (fuel, memory, rate limit, pool).
func IsResourceExhausted(err error) bool {
	return errors.Is(err, ErrFuelExhausted) ||
		errors.Is(err, ErrMemoryExceeded) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrPoolExhausted)
}

// IsPermissionDenied reports whether err (or a wrapped HostFunctionError)
// indicates a capability check failed.
func IsPermissionDenied(err error) bool {
	if errors.Is(err, ErrPermissionDenied) {
		return true
	}
	var hfe *HostFunctionError
	if errors.As(err, &hfe) {
		return hfe.Kind == HostFunctionErrorPermissionDenied
	}
	return false
}
