package hostfuncs

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hszk-dev/edge-runtime/pkg/edgewasm"
	"github.com/hszk-dev/edge-runtime/pkg/edgewasm/permissions"
)

// fetch implements the §4.5 outbound HTTP pipeline in the exact order
// specified: rate limit, host allow-list, SSRF screen, dispatch,
// classify. It fails at the first unmet condition and performs zero
// network I/O once any of the first three checks denies the request
// (testable property 5).
func (h *HostFunctions) fetch(ctx context.Context, wc *edgewasm.WorkerContext, req HTTPRequest) (HTTPResponse, HTTPError) {
	if !h.permissions.HTTPEnabled() {
		return HTTPResponse{}, HTTPErrorPermissionDenied
	}

	// 1. Per-invocation rate limit.
	if !wc.CheckAndIncrementHTTPRequests(h.permissions.MaxHTTPRequests()) {
		return HTTPResponse{}, HTTPErrorRateLimited
	}
	// Process-wide throttle, a distinct axis from the per-invocation cap.
	if h.httpLimiter != nil && !h.httpLimiter.Allow() {
		return HTTPResponse{}, HTTPErrorRateLimited
	}

	// 2. Host allow-list.
	if !h.permissions.IsHostAllowed(req.URI) {
		return HTTPResponse{}, HTTPErrorPermissionDenied
	}

	// 3. SSRF screen — string inspection only, no DNS lookup performed
	// before this decision.
	if permissions.IsPrivateAddress(req.URI) {
		return HTTPResponse{}, HTTPErrorPermissionDenied
	}

	// 4. Dispatch.
	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(string(req.Method)), req.URI, bytes.NewReader(req.Body))
	if err != nil {
		return HTTPResponse{}, HTTPErrorOther
	}
	for _, hdr := range req.Headers {
		httpReq.Header.Add(hdr.Name, hdr.Value)
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", "edge-wasm-runtime/1.0")
	}

	reqCtx, cancel := h.boundedContext(ctx, req.TimeoutMS)
	defer cancel()
	httpReq = httpReq.WithContext(reqCtx)

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return HTTPResponse{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes+1))
	if err != nil {
		return HTTPResponse{}, classifyTransportError(err)
	}
	if len(body) > maxResponseBodyBytes {
		return HTTPResponse{}, HTTPErrorBodyTooLarge
	}

	headers := make([]HTTPHeader, 0, len(resp.Header))
	for name, values := range resp.Header {
		for _, v := range values {
			headers = append(headers, HTTPHeader{Name: name, Value: v})
		}
	}
	return HTTPResponse{
		Status:  uint16(resp.StatusCode),
		Headers: headers,
		Body:    body,
	}, ""
}

// get is the GET sugar: fetch a URI and return only the body.
func (h *HostFunctions) get(ctx context.Context, wc *edgewasm.WorkerContext, uri string) ([]byte, HTTPError) {
	resp, httpErr := h.fetch(ctx, wc, HTTPRequest{Method: MethodGet, URI: uri})
	if httpErr != "" {
		return nil, httpErr
	}
	return resp.Body, ""
}

// boundedContext resolves the §12 Open Question decision: the
// per-request timeout is min(request.timeout_ms, remaining invocation
// deadline), so a guest can never wait past its own epoch deadline even
// if it asks for a longer request timeout than it has time left.
func (h *HostFunctions) boundedContext(ctx context.Context, requestTimeoutMS *uint64) (context.Context, context.CancelFunc) {
	timeout := defaultRequestTimeout
	if requestTimeoutMS != nil {
		timeout = time.Duration(*requestTimeoutMS) * time.Millisecond
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	return context.WithTimeout(ctx, timeout)
}

// classifyTransportError maps a net/http transport failure to the
// typed HTTPError enum §4.5/§6 define.
func classifyTransportError(err error) HTTPError {
	if errors.Is(err, context.DeadlineExceeded) {
		return HTTPErrorTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return HTTPErrorDNS
	}
	var tlsErr *tls.CertificateVerificationError
	if errors.As(err, &tlsErr) {
		return HTTPErrorTLS
	}
	msg := err.Error()
	if strings.Contains(msg, "tls") || strings.Contains(msg, "certificate") || strings.Contains(msg, "x509") {
		return HTTPErrorTLS
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return HTTPErrorConnectionFailed
	}
	return HTTPErrorOther
}
