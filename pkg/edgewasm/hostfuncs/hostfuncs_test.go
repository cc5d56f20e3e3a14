package hostfuncs

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hszk-dev/edge-runtime/pkg/edgewasm"
	"github.com/hszk-dev/edge-runtime/pkg/edgewasm/permissions"
)

// newTestStore builds a throwaway Engine with its own Prometheus
// registry, since every test in this file runs in one process and the
// package-default registerer would reject the second MustRegister call.
func newTestStore(t *testing.T) (*edgewasm.Store, context.Context, func()) {
	t.Helper()
	cfg := edgewasm.DefaultEngineConfig()
	cfg.EpochInterruption = false
	engine, err := edgewasm.NewEngine(cfg, edgewasm.WithMetricsRegisterer(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	execCfg := edgewasm.DefaultExecutionConfig().WithTimeout(5000)
	store, ctx := edgewasm.CreateStore(context.Background(), engine, execCfg, "")
	cleanup := func() {
		store.Release()
		engine.Close(context.Background())
	}
	return store, ctx, cleanup
}

// testURL names a public host, so the SSRF screen lets it through; the
// client built by clientFor routes the connection to the local server.
const testURL = "http://api.example.com/"

// clientFor returns an HTTP client that dials srv for every request,
// whatever host the request URL names. httptest serves on loopback,
// which the SSRF screen denies when it appears in a URL.
func clientFor(srv *httptest.Server) *http.Client {
	addr := srv.Listener.Addr().String()
	return &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(ctx, network, addr)
		},
	}}
}

func TestFetch_DeniedWhenHTTPDisabled(t *testing.T) {
	perm := permissions.NewBuilder().WithHTTP(false, 10).Build()
	h := New(perm, zap.NewNop())
	store, ctx, done := newTestStore(t)
	defer done()

	_, httpErr := h.fetch(ctx, store.WorkerCtx, HTTPRequest{Method: MethodGet, URI: "https://example.com"})
	if httpErr != HTTPErrorPermissionDenied {
		t.Fatalf("expected permission-denied, got %v", httpErr)
	}
}

func TestFetch_DeniedByHostAllowList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	perm := permissions.NewBuilder().WithHTTP(true, 10).AllowHost("allowed.example.com").Build()
	h := New(perm, zap.NewNop())
	store, ctx, done := newTestStore(t)
	defer done()

	_, httpErr := h.fetch(ctx, store.WorkerCtx, HTTPRequest{Method: MethodGet, URI: srv.URL})
	if httpErr != HTTPErrorPermissionDenied {
		t.Fatalf("expected permission-denied for a host not on the allow-list, got %v", httpErr)
	}
}

func TestFetch_DeniedBySSRFScreen(t *testing.T) {
	perm := permissions.NewBuilder().WithHTTP(true, 10).AllowHost("*").Build()
	h := New(perm, zap.NewNop())
	store, ctx, done := newTestStore(t)
	defer done()

	_, httpErr := h.fetch(ctx, store.WorkerCtx, HTTPRequest{Method: MethodGet, URI: "http://127.0.0.1:9"})
	if httpErr != HTTPErrorPermissionDenied {
		t.Fatalf("expected permission-denied for a loopback target, got %v", httpErr)
	}
}

func TestFetch_RateLimited(t *testing.T) {
	perm := permissions.NewBuilder().WithHTTP(true, 1).AllowHost("*").Build()
	store, ctx, done := newTestStore(t)
	defer done()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	h := New(perm, zap.NewNop(), WithHTTPClient(clientFor(srv)))

	if _, httpErr := h.fetch(ctx, store.WorkerCtx, HTTPRequest{Method: MethodGet, URI: testURL}); httpErr != "" {
		t.Fatalf("first request should succeed, got %v", httpErr)
	}
	if _, httpErr := h.fetch(ctx, store.WorkerCtx, HTTPRequest{Method: MethodGet, URI: testURL}); httpErr != HTTPErrorRateLimited {
		t.Fatalf("expected rate-limited on the second request, got %v", httpErr)
	}
}

func TestFetch_SuccessRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	perm := permissions.NewBuilder().WithHTTP(true, 10).AllowHost("*").Build()
	h := New(perm, zap.NewNop(), WithHTTPClient(clientFor(srv)))
	store, ctx, done := newTestStore(t)
	defer done()

	resp, httpErr := h.fetch(ctx, store.WorkerCtx, HTTPRequest{Method: MethodGet, URI: testURL})
	if httpErr != "" {
		t.Fatalf("unexpected error: %v", httpErr)
	}
	if resp.Status != http.StatusTeapot {
		t.Errorf("expected status 418, got %d", resp.Status)
	}
	if string(resp.Body) != "hello" {
		t.Errorf("expected body %q, got %q", "hello", string(resp.Body))
	}
}

func TestFetch_BodyTooLarge(t *testing.T) {
	big := make([]byte, maxResponseBodyBytes+1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(big)
	}))
	defer srv.Close()

	perm := permissions.NewBuilder().WithHTTP(true, 10).AllowHost("*").Build()
	h := New(perm, zap.NewNop(), WithHTTPClient(clientFor(srv)))
	store, ctx, done := newTestStore(t)
	defer done()

	_, httpErr := h.fetch(ctx, store.WorkerCtx, HTTPRequest{Method: MethodGet, URI: testURL})
	if httpErr != HTTPErrorBodyTooLarge {
		t.Fatalf("expected body-too-large, got %v", httpErr)
	}
}

func TestGet_ReturnsBodyOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	perm := permissions.NewBuilder().WithHTTP(true, 10).AllowHost("*").Build()
	h := New(perm, zap.NewNop(), WithHTTPClient(clientFor(srv)))
	store, ctx, done := newTestStore(t)
	defer done()

	body, httpErr := h.get(ctx, store.WorkerCtx, testURL)
	if httpErr != "" {
		t.Fatalf("unexpected error: %v", httpErr)
	}
	if string(body) != "payload" {
		t.Errorf("expected %q, got %q", "payload", string(body))
	}
}

func TestClassifyTransportError_Timeout(t *testing.T) {
	if got := classifyTransportError(context.DeadlineExceeded); got != HTTPErrorTimeout {
		t.Errorf("expected timeout, got %v", got)
	}
}

func TestHLog_NoOpWithoutWorkerContext(t *testing.T) {
	h := New(permissions.NewBuilder().Build(), zap.NewNop())
	// No WorkerContext bound to this plain context: hLog must no-op, not panic.
	h.hLog(context.Background(), nil, uint32(edgewasm.LogLevelInfo), 0, 0)
}

func TestBind_LoggingOnlyPermissionsBindCleanly(t *testing.T) {
	cfg := edgewasm.DefaultEngineConfig()
	cfg.EpochInterruption = false

	perm := permissions.NewBuilder().WithLogging(true).WithHTTP(false, 0).Build()
	h := New(perm, zap.NewNop())

	engine, err := edgewasm.NewEngine(cfg, edgewasm.WithHostBinder(h), edgewasm.WithMetricsRegisterer(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("NewEngine with logging-only binder: %v", err)
	}
	defer engine.Close(context.Background())
}
