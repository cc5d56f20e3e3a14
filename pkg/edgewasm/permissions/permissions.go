// Package permissions implements the capability surface a guest's
// outbound HTTP host function is scoped to: an allow-list of hosts and
// an SSRF screen, both enforced without ever resolving DNS before the
// decision is made.
package permissions

import (
	"net/netip"
	"net/url"
	"strings"
)

// blockedHostnames are literal hostnames denied regardless of the
// allow-list, mirroring common cloud metadata endpoints that resolve
// to a link-local address but are also reachable by name.
var blockedHostnames = map[string]struct{}{
	"localhost":                {},
	"metadata.google.internal": {},
}

// Permissions is an immutable capability snapshot. Construction is the
// only place it can be built or changed — once returned by Build, a
// Permissions value is never mutated in place; reconfiguration (see
// Watcher) always swaps in a whole new snapshot. This matches the
// design note that runtime mutation of a live Permissions is
// unsupported by construction, not merely by convention.
type Permissions struct {
	allowedHTTPHosts []string
	httpEnabled      bool
	maxHTTPRequests  uint32
	loggingEnabled   bool
}

// Builder accumulates settings before producing an immutable
// Permissions. It exists purely as a construction-time convenience, per
// §9's design note; it has no runtime mutation path back into an
// already-built Permissions.
type Builder struct {
	p Permissions
}

// NewBuilder starts from a default-deny Permissions: no HTTP, no hosts,
// logging on (logging has no capability-gating concerns to deny).
func NewBuilder() *Builder {
	return &Builder{p: Permissions{loggingEnabled: true}}
}

// WithLogging toggles whether the logging host function surface is
// installed for guests built from this Permissions.
func (b *Builder) WithLogging(enabled bool) *Builder {
	b.p.loggingEnabled = enabled
	return b
}

// WithHTTP enables outbound HTTP and sets the per-invocation request
// cap enforced by the rate-limit pipeline step.
func (b *Builder) WithHTTP(enabled bool, maxRequests uint32) *Builder {
	b.p.httpEnabled = enabled
	b.p.maxHTTPRequests = maxRequests
	return b
}

// AllowHost adds one entry to the host allow-list: an exact hostname,
// a "*.suffix" wildcard, or "*" to allow every host (§4.3 notes this
// last form is intended for development only).
func (b *Builder) AllowHost(pattern string) *Builder {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return b
	}
	b.p.allowedHTTPHosts = append(b.p.allowedHTTPHosts, pattern)
	return b
}

// Build produces the immutable Permissions snapshot.
func (b *Builder) Build() Permissions {
	hosts := make([]string, len(b.p.allowedHTTPHosts))
	copy(hosts, b.p.allowedHTTPHosts)
	b.p.allowedHTTPHosts = hosts
	return b.p
}

// HTTPEnabled reports whether the outbound HTTP host function surface
// should be installed.
func (p Permissions) HTTPEnabled() bool { return p.httpEnabled }

// LoggingEnabled reports whether the logging host function surface
// should be installed.
func (p Permissions) LoggingEnabled() bool { return p.loggingEnabled }

// MaxHTTPRequests returns the per-invocation outbound request cap.
func (p Permissions) MaxHTTPRequests() uint32 { return p.maxHTTPRequests }

// IsHostAllowed implements §4.3's is_host_allowed: "*" admits all
// hosts, an exact match admits that host, and a "*.suffix" entry admits
// any host whose final labels equal suffix. Anything else is denied.
func (p Permissions) IsHostAllowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, pattern := range p.allowedHTTPHosts {
		if pattern == "*" {
			return true
		}
		if strings.HasPrefix(pattern, "*.") {
			suffix := pattern[1:] // keep leading dot: ".example.com"
			if strings.HasSuffix(host, suffix) {
				return true
			}
			continue
		}
		if host == pattern {
			return true
		}
	}
	return false
}

// IsPrivateAddress implements §4.3's is_private_address: a
// string-inspection-only SSRF screen that MUST NOT perform a DNS
// lookup before deciding. It denies loopback, RFC1918 private ranges,
// link-local (including the 169.254.169.254 cloud metadata address),
// unspecified addresses, and a short list of literal hostnames known to
// resolve to those ranges without the caller having to look them up
// here.
func IsPrivateAddress(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true // fail closed: an unparseable URL is never safe to dial
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return true
	}
	if _, blocked := blockedHostnames[host]; blocked {
		return true
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		// Not a literal IP address (an ordinary hostname) — this
		// screen does not resolve it, per the no-DNS-lookup contract.
		return false
	}
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
