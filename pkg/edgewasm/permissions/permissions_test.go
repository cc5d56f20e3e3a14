package permissions_test

import (
	"testing"

	"github.com/hszk-dev/edge-runtime/pkg/edgewasm/permissions"
)

// TestIsPrivateAddress_SSRFBypassCorpus templates directly on
// zkoranges-go-claw's TestAllowHTTPURL_SSRFBypassCorpus: every entry
// here must be classified private/unsafe regardless of what the host
// allow-list says, since is_private_address is the second, independent
// gate in the fetch pipeline (§4.5).
func TestIsPrivateAddress_SSRFBypassCorpus(t *testing.T) {
	corpus := []struct {
		name string
		url  string
	}{
		{"loopback_127", "http://127.0.0.1/admin"},
		{"loopback_localhost", "http://localhost/admin"},
		{"private_10", "http://10.0.0.1/metadata"},
		{"private_172", "http://172.16.0.1/internal"},
		{"private_192", "http://192.168.1.1/config"},
		{"link_local_metadata", "http://169.254.169.254/latest/meta-data/"},
		{"ipv6_loopback", "http://[::1]/admin"},
		{"ipv6_link_local", "http://[fe80::1]/data"},
		{"cloud_metadata_hostname", "http://metadata.google.internal/computeMetadata/v1/"},
		{"empty_host", "http:///path"},
		{"no_host", "http://"},
		{"unspecified_v4", "http://0.0.0.0/admin"},
		{"unspecified_v6", "http://[::]/admin"},
	}
	for _, tc := range corpus {
		t.Run(tc.name, func(t *testing.T) {
			if !permissions.IsPrivateAddress(tc.url) {
				t.Fatalf("SSRF bypass: %q was NOT classified private", tc.url)
			}
		})
	}
}

func TestIsPrivateAddress_PublicHostsPass(t *testing.T) {
	public := []string{
		"https://api.example.com/v1/data",
		"https://sub.api.example.com/v1/data",
		"https://203.0.113.10/health",
	}
	for _, u := range public {
		if permissions.IsPrivateAddress(u) {
			t.Fatalf("expected %q to not be classified private", u)
		}
	}
}

// TestIsHostAllowed_ExactMatch exercises scenario S6; scenario S7 is
// covered by TestIsHostAllowed_SuffixWildcard.
func TestIsHostAllowed_ExactMatch(t *testing.T) {
	p := permissions.NewBuilder().
		AllowHost("api.example.com").
		Build()

	if !p.IsHostAllowed("https://api.example.com/v1/data") {
		t.Fatal("expected exact allow-list match to pass")
	}
	if p.IsHostAllowed("https://evil.example.com/steal") {
		t.Fatal("expected non-allowlisted host to be denied")
	}
}

func TestIsHostAllowed_SuffixWildcard(t *testing.T) {
	p := permissions.NewBuilder().
		AllowHost("*.example.com").
		Build()

	allowed := []string{
		"https://api.example.com/",
		"https://www.example.com/",
	}
	for _, u := range allowed {
		if !p.IsHostAllowed(u) {
			t.Fatalf("expected %q to be admitted by *.example.com", u)
		}
	}

	denied := []string{
		"https://example.com/",                // the bare suffix itself is not a subdomain
		"https://example.com.attacker.tld/",   // subdomain-trick bypass attempt
	}
	for _, u := range denied {
		if p.IsHostAllowed(u) {
			t.Fatalf("expected %q to be denied by *.example.com", u)
		}
	}
}

func TestIsHostAllowed_AllowAllWildcard(t *testing.T) {
	p := permissions.NewBuilder().AllowHost("*").Build()
	if !p.IsHostAllowed("https://anything.example/") {
		t.Fatal("expected \"*\" to admit any host")
	}
}

func TestDefaultDenyAll(t *testing.T) {
	p := permissions.NewBuilder().Build()
	if p.HTTPEnabled() {
		t.Fatal("expected HTTP disabled by default")
	}
	if p.IsHostAllowed("https://example.com/") {
		t.Fatal("expected empty allow-list to deny everything")
	}
}
