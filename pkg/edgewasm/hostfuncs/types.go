// Package hostfuncs implements the two host function surfaces spec
// defines for a guest — logging and outbound HTTP — and binds them
// into a wazero host module. It depends on edgewasm for the shared
// types (WorkerContext, LogLevel, Permissions access) and implements
// edgewasm.HostBinder, so edgewasm never imports this package back
// (avoiding a cycle): the Engine only ever sees the HostBinder
// interface.
package hostfuncs

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hszk-dev/edge-runtime/pkg/edgewasm/permissions"
	"golang.org/x/time/rate"
)

// HTTPMethod enumerates the methods the outbound HTTP world allows.
type HTTPMethod string

const (
	MethodGet     HTTPMethod = "get"
	MethodHead    HTTPMethod = "head"
	MethodPost    HTTPMethod = "post"
	MethodPut     HTTPMethod = "put"
	MethodDelete  HTTPMethod = "delete"
	MethodPatch   HTTPMethod = "patch"
	MethodOptions HTTPMethod = "options"
)

// HTTPError is the typed failure enum the outbound HTTP surface
// returns to the guest, per §4.5/§6.
type HTTPError string

const (
	HTTPErrorPermissionDenied HTTPError = "permission-denied"
	HTTPErrorTimeout          HTTPError = "timeout"
	HTTPErrorDNS              HTTPError = "dns-error"
	HTTPErrorConnectionFailed HTTPError = "connection-failed"
	HTTPErrorTLS              HTTPError = "tls-error"
	HTTPErrorBodyTooLarge     HTTPError = "body-too-large"
	HTTPErrorRateLimited      HTTPError = "rate-limited"
	HTTPErrorOther            HTTPError = "other"
)

// HTTPRequest mirrors the WIT http-request record. Headers preserve
// the list-of-pairs shape the guest-facing world specifies, not a map,
// so repeated header names survive the host/guest boundary intact.
type HTTPRequest struct {
	Method     HTTPMethod        `json:"method"`
	URI        string            `json:"uri"`
	Headers    []HTTPHeader      `json:"headers,omitempty"`
	Body       []byte            `json:"body,omitempty"`
	TimeoutMS  *uint64           `json:"timeout_ms,omitempty"`
}

// HTTPHeader is one (name, value) pair.
type HTTPHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HTTPResponse mirrors the WIT http-response record.
type HTTPResponse struct {
	Status  uint16       `json:"status"`
	Headers []HTTPHeader `json:"headers,omitempty"`
	Body    []byte       `json:"body,omitempty"`
}

// wireResult is the JSON envelope host functions marshal back across
// the guest memory boundary: either Ok carries the payload, or Err
// carries the typed failure. There is no component-model canonical
// ABI available in this wazero version (confirmed absent from the
// dependency pack), so this runtime defines its own small,
// JSON-over-linear-memory wire format for structured results —
// mirroring the teacher's own choice to JSON-encode host_fetch
// headers and db_query arguments across the same boundary.
type wireResult struct {
	OK    bool            `json:"ok"`
	Error HTTPError       `json:"error,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

const (
	defaultConnectTimeout = 10 * time.Second
	defaultRequestTimeout = 30 * time.Second
	maxResponseBodyBytes  = 10 << 20 // 10MiB, enforced as body-too-large
	maxKeepAlivePerHost   = 10
)

// HostFunctions implements edgewasm.HostBinder and backs both the
// logging and outbound HTTP host function surfaces. One instance is
// shared by every invocation on an Engine; all per-invocation state is
// recovered from the context a call carries (edgewasm.WorkerContextFromContext),
// never stored on this struct, so concurrent invocations stay isolated
// (testable property 4).
type HostFunctions struct {
	permissions permissions.Permissions
	logger      *zap.Logger
	httpClient  *http.Client
	httpLimiter *rate.Limiter // process-wide throttle, distinct from per-invocation max_http_requests
}

// Option customizes HostFunctions construction.
type Option func(*HostFunctions)

// WithHTTPClient overrides the shared HTTP client (tests inject one
// pointed at an httptest.Server).
func WithHTTPClient(c *http.Client) Option {
	return func(h *HostFunctions) { h.httpClient = c }
}

// WithHTTPRateLimiter installs a process-wide outbound request
// throttle shared across all invocations, distinct from the
// per-invocation max_http_requests axis.
func WithHTTPRateLimiter(limiter *rate.Limiter) Option {
	return func(h *HostFunctions) { h.httpLimiter = limiter }
}

// New builds a HostFunctions bound to a single Permissions snapshot.
// Permissions is immutable (see the permissions package), so the
// capability surface installed here never changes without constructing
// a fresh HostFunctions from a fresh snapshot.
func New(perm permissions.Permissions, logger *zap.Logger, opts ...Option) *HostFunctions {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HostFunctions{
		permissions: perm,
		logger:      logger,
		httpClient: &http.Client{
			Timeout: defaultRequestTimeout,
			Transport: &http.Transport{
				MaxConnsPerHost:     maxKeepAlivePerHost,
				MaxIdleConnsPerHost: maxKeepAlivePerHost,
				DialContext: (&net.Dialer{
					Timeout: defaultConnectTimeout,
				}).DialContext,
			},
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}
