package config

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// defaultHopByHop are headers meaningful only for a single connection leg.
var defaultHopByHop = []string{
	"connection",
	"keep-alive",
	"proxy-authenticate",
	"proxy-authorization",
	"te",
	"trailer",
	"transfer-encoding",
	"upgrade",
}

// Mirror is the immutable proxy policy derived from Config at startup and
// shared read-only by every request.
type Mirror struct {
	origin       *url.URL
	hosts        map[string]bool
	rules        []RewriteRule
	attrs        map[string][]string
	hopByHop     map[string]bool
	timeout      time.Duration
	maxHTMLBytes int64
}

// NewMirror builds the proxy policy from a loaded configuration.
func NewMirror(cfg *Config) (*Mirror, error) {
	u, err := url.Parse(strings.TrimRight(cfg.Origin.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse origin base_url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("origin base_url %q is not an absolute http(s) URL", cfg.Origin.BaseURL)
	}

	rules := DefaultRules
	if cfg.Rewrite.RulesFile != "" {
		rules, err = LoadRules(cfg.Rewrite.RulesFile)
		if err != nil {
			return nil, err
		}
	}

	m := &Mirror{
		origin:       u,
		hosts:        map[string]bool{strings.ToLower(u.Hostname()): true},
		rules:        rules,
		attrs:        make(map[string][]string, len(rules)),
		hopByHop:     make(map[string]bool, len(defaultHopByHop)),
		timeout:      time.Duration(cfg.Origin.TimeoutSeconds) * time.Second,
		maxHTMLBytes: cfg.Rewrite.MaxHTMLBytes,
	}
	for _, h := range cfg.Origin.EquivalentHosts {
		m.hosts[strings.ToLower(strings.TrimSpace(h))] = true
	}
	for _, r := range rules {
		m.attrs[r.Tag] = append(m.attrs[r.Tag], r.Attrs...)
	}
	for _, h := range defaultHopByHop {
		m.hopByHop[h] = true
	}
	if m.timeout <= 0 {
		m.timeout = 10 * time.Second
	}
	return m, nil
}

// Origin returns a copy of the mirrored origin base URL.
func (m *Mirror) Origin() *url.URL {
	u := *m.origin
	return &u
}

// IsOriginHost reports whether hostname (without port) is equivalent to the origin.
func (m *Mirror) IsOriginHost(hostname string) bool {
	return m.hosts[strings.ToLower(hostname)]
}

// Rules returns the ordered rewrite table.
func (m *Mirror) Rules() []RewriteRule {
	return m.rules
}

// Attrs returns the attributes to rewrite on tag, or nil if the tag is not in the table.
func (m *Mirror) Attrs(tag string) []string {
	return m.attrs[tag]
}

// IsHopByHop reports whether the header name is in the hop-by-hop set.
func (m *Mirror) IsHopByHop(name string) bool {
	return m.hopByHop[strings.ToLower(name)]
}

// HopByHop returns the canonical names of the hop-by-hop set.
func (m *Mirror) HopByHop() []string {
	out := make([]string, 0, len(m.hopByHop))
	for _, h := range defaultHopByHop {
		if m.hopByHop[h] {
			out = append(out, http.CanonicalHeaderKey(h))
		}
	}
	return out
}

// Timeout bounds connecting to the origin and receiving response headers.
func (m *Mirror) Timeout() time.Duration {
	return m.timeout
}

// MaxHTMLBytes is the HTML buffering cap; zero means unbounded.
func (m *Mirror) MaxHTMLBytes() int64 {
	return m.maxHTMLBytes
}
