package service

import (
	"net/http"
	"strings"

	"mirror-proxy/internal/config"
)

const allowOrigin = "Access-Control-Allow-Origin"

// FilterResponseHeaders returns a copy of the upstream headers without
// hop-by-hop headers or headers listed in Connection, with
// Access-Control-Allow-Origin set to "*". Applying it twice gives the same
// result as applying it once.
func FilterResponseHeaders(src http.Header, mirror *config.Mirror) http.Header {
	named := connectionTokens(src)
	dst := make(http.Header, len(src)+1)
	for key, values := range src {
		lower := strings.ToLower(key)
		if mirror.IsHopByHop(lower) || named[lower] || lower == strings.ToLower(allowOrigin) {
			continue
		}
		dst[key] = append([]string(nil), values...)
	}
	dst.Set(allowOrigin, "*")
	return dst
}

func connectionTokens(h http.Header) map[string]bool {
	var named map[string]bool
	for key, values := range h {
		if !strings.EqualFold(key, "Connection") {
			continue
		}
		for _, v := range values {
			for _, tok := range strings.Split(v, ",") {
				tok = strings.ToLower(strings.TrimSpace(tok))
				if tok == "" {
					continue
				}
				if named == nil {
					named = make(map[string]bool)
				}
				named[tok] = true
			}
		}
	}
	return named
}

// IsHTML reports whether the response declares an HTML body.
func IsHTML(h http.Header) bool {
	return strings.Contains(strings.ToLower(h.Get("Content-Type")), "text/html")
}

// hasBody reports whether a response with this status may carry a body.
func hasBody(status int) bool {
	switch {
	case status >= 100 && status < 200:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}
