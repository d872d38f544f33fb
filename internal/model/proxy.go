// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// Mode is the proxy mode a request resolves to.
type Mode int

const (
	// ModeMirror forwards the request path and query to the mirrored origin.
	ModeMirror Mode = iota
	// ModeAbsolutePath fetches the absolute URL encoded in the first path segment.
	ModeAbsolutePath
	// ModeQueryParam fetches the absolute URL given in the url query parameter.
	ModeQueryParam
)

// String returns the label used in logs and metrics.
func (m Mode) String() string {
	switch m {
	case ModeAbsolutePath:
		return "absolute_path"
	case ModeQueryParam:
		return "query_param"
	default:
		return "mirror"
	}
}

// ProxyRequest represents a client request to be forwarded upstream.
// Path is the escaped request path, as sent on the wire.
type ProxyRequest struct {
	Ctx      context.Context
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
}

// Target is the resolved upstream fetch target. URL is always absolute
// http(s) with a host; Host is the Host header presented upstream.
type Target struct {
	Mode Mode
	URL  *url.URL
	Host string
}

// UpstreamResponse is what the origin returned, body unread.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// ProxyResponse represents the response to be written back to the client.
// Exactly one of Document and Body is set: Document holds a rewritten HTML
// page written in one piece, Body is streamed.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Document   []byte
	Body       io.ReadCloser
	Target     *Target
}

// Close releases the upstream body, if any.
func (r *ProxyResponse) Close() error {
	if r.Body == nil {
		return nil
	}
	return r.Body.Close()
}
