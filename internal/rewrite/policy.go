// Package rewrite rewrites link-bearing attributes of HTML documents so a
// mirrored page keeps working when served from the proxy's own host.
package rewrite

import (
	"net/url"
	"strings"

	"mirror-proxy/internal/config"
	"mirror-proxy/internal/target"
)

// Decision is the outcome of the link policy for one attribute value.
type Decision int

const (
	// Keep leaves the value unchanged.
	Keep Decision = iota
	// Relative strips scheme and host from an origin link.
	Relative
	// SelfReference encodes an external link so it loops back through the proxy.
	SelfReference
)

func (d Decision) String() string {
	switch d {
	case Relative:
		return "relative"
	case SelfReference:
		return "self_reference"
	default:
		return "keep"
	}
}

// Policy decides how a single URL value is rewritten.
type Policy struct {
	mirror *config.Mirror
	scheme string
}

// NewPolicy creates a Policy for the given mirror.
func NewPolicy(m *config.Mirror) *Policy {
	return &Policy{mirror: m, scheme: m.Origin().Scheme}
}

// Decide applies the link policy to v and returns the new value. Values that
// do not parse as URLs are kept.
func (p *Policy) Decide(v string) (string, Decision) {
	s := strings.TrimSpace(v)
	if s == "" {
		return v, Keep
	}
	ref, err := url.Parse(s)
	if err != nil {
		return v, Keep
	}

	// Only references naming a host are candidates; "/path" already resolves
	// against the proxy and "path" against the current document.
	if ref.Host == "" && !strings.HasPrefix(s, "//") {
		return v, Keep
	}

	scheme := strings.ToLower(ref.Scheme)
	if scheme == "" {
		scheme = p.scheme
	}
	if scheme != "http" && scheme != "https" {
		return v, Keep
	}
	if ref.Hostname() == "" {
		return v, Keep
	}

	if p.mirror.IsOriginHost(ref.Hostname()) {
		return originRelative(ref), Relative
	}

	abs := s
	if ref.Scheme == "" {
		abs = scheme + ":" + s
	}
	return target.SelfPath(abs), SelfReference
}

// originRelative drops scheme, userinfo and host. Leading slashes collapse to
// one so the result cannot be read as a protocol-relative URL.
func originRelative(ref *url.URL) string {
	var b strings.Builder
	b.WriteString("/")
	b.WriteString(strings.TrimLeft(ref.EscapedPath(), "/"))
	if ref.RawQuery != "" || ref.ForceQuery {
		b.WriteString("?")
		b.WriteString(ref.RawQuery)
	}
	if ref.Fragment != "" {
		b.WriteString("#")
		b.WriteString(ref.EscapedFragment())
	}
	return b.String()
}

// decideRefresh rewrites the URL part of a meta refresh value such as
// "5; url=https://example.com/".
func (p *Policy) decideRefresh(v string) (string, Decision) {
	i := strings.Index(strings.ToLower(v), "url=")
	if i < 0 {
		return v, Keep
	}
	head, rest := v[:i+len("url=")], v[i+len("url="):]

	quote := ""
	if rest != "" && (rest[0] == '\'' || rest[0] == '"') {
		quote = rest[:1]
		rest = rest[1:]
	}
	tail := ""
	if quote != "" {
		if j := strings.Index(rest, quote); j >= 0 {
			rest, tail = rest[:j], rest[j:]
		}
	}

	nv, d := p.Decide(rest)
	if d == Keep {
		return v, Keep
	}
	return head + quote + nv + tail, d
}

// srcsetCandidate is one "url [descriptor]" entry of a srcset value.
type srcsetCandidate struct {
	url        string
	descriptor string
}

// decideSrcset applies the policy to every URL of a srcset value. The
// reported decision is the strongest one applied.
func (p *Policy) decideSrcset(v string) (string, Decision) {
	candidates := parseSrcset(v)
	best := Keep
	for i := range candidates {
		nv, d := p.Decide(candidates[i].url)
		if d == Keep {
			continue
		}
		candidates[i].url = nv
		if d > best {
			best = d
		}
	}
	if best == Keep {
		return v, Keep
	}

	parts := make([]string, len(candidates))
	for i, c := range candidates {
		parts[i] = c.url
		if c.descriptor != "" {
			parts[i] += " " + c.descriptor
		}
	}
	return strings.Join(parts, ", "), best
}

// parseSrcset splits a srcset value following the HTML candidate grammar:
// a URL runs to the next whitespace, trailing commas end a candidate, and a
// descriptor runs to the next comma outside parentheses.
func parseSrcset(v string) []srcsetCandidate {
	var out []srcsetCandidate
	i := 0
	for i < len(v) {
		for i < len(v) && (isSpace(v[i]) || v[i] == ',') {
			i++
		}
		if i >= len(v) {
			break
		}

		start := i
		for i < len(v) && !isSpace(v[i]) {
			i++
		}
		u := v[start:i]
		if trimmed := strings.TrimRight(u, ","); trimmed != u {
			out = append(out, srcsetCandidate{url: trimmed})
			continue
		}

		for i < len(v) && isSpace(v[i]) {
			i++
		}
		start, depth := i, 0
		for i < len(v) {
			c := v[i]
			if c == '(' {
				depth++
			} else if c == ')' && depth > 0 {
				depth--
			} else if c == ',' && depth == 0 {
				break
			}
			i++
		}
		out = append(out, srcsetCandidate{url: u, descriptor: strings.TrimSpace(v[start:i])})
	}
	return out
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}
