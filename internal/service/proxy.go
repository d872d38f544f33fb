// Package service implements the core proxy pipeline: resolve the target,
// fetch it, and either stream the body or rewrite HTML.
package service

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"mirror-proxy/internal/client"
	"mirror-proxy/internal/config"
	"mirror-proxy/internal/metrics"
	"mirror-proxy/internal/model"
	"mirror-proxy/internal/rewrite"
	"mirror-proxy/internal/target"
)

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	resolver *target.Resolver
	client   *client.OriginClient
	rewriter *rewrite.Rewriter
	mirror   *config.Mirror
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewProxyService creates a ProxyService. The metrics parameter is optional.
func NewProxyService(
	r *target.Resolver,
	c *client.OriginClient,
	rw *rewrite.Rewriter,
	mirror *config.Mirror,
	logger *slog.Logger,
	m *metrics.Metrics,
) *ProxyService {
	return &ProxyService{
		resolver: r,
		client:   c,
		rewriter: rw,
		mirror:   mirror,
		logger:   logger.With("component", "proxy_service"),
		metrics:  m,
	}
}

// Forward resolves and fetches the request target. Non-HTML bodies are
// returned as an unread stream; HTML bodies are buffered and rewritten.
// The caller is responsible for closing the response.
//
// Errors are either *target.Error (the request names no fetchable target)
// or *client.UnreachableError (no usable upstream response).
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	t, err := s.resolver.Resolve(pr)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("forwarding request",
		"mode", t.Mode.String(),
		"path", pr.Path,
		"target", t.URL.String(),
	)

	up, err := s.client.Fetch(pr.Ctx, t, pr.Header)
	if err != nil {
		return nil, err
	}

	resp := &model.ProxyResponse{
		StatusCode: up.StatusCode,
		Header:     FilterResponseHeaders(up.Header, s.mirror),
		Target:     t,
	}

	if !IsHTML(up.Header) || !hasBody(up.StatusCode) {
		resp.Body = up.Body
		return resp, nil
	}
	return s.rewriteDocument(resp, up)
}

func (s *ProxyService) rewriteDocument(resp *model.ProxyResponse, up *model.UpstreamResponse) (*model.ProxyResponse, error) {
	raw, complete, err := readCapped(up.Body, s.mirror.MaxHTMLBytes())
	if err != nil {
		_ = up.Body.Close()
		return nil, &client.UnreachableError{
			URL:  resp.Target.URL.String(),
			Mode: resp.Target.Mode,
			Err:  fmt.Errorf("read html body: %w", err),
		}
	}
	if !complete {
		s.logger.Warn("html document exceeds buffer cap; forwarding unmodified",
			"target", resp.Target.URL.String(),
			"max_bytes", s.mirror.MaxHTMLBytes(),
		)
		s.countDocument("too_large")
		resp.Body = &prefixedBody{Reader: io.MultiReader(bytes.NewReader(raw), up.Body), Closer: up.Body}
		return resp, nil
	}
	_ = up.Body.Close()

	doc, decoded, err := decodeBody(raw, up.Header.Get("Content-Encoding"))
	if err != nil {
		s.logger.Warn("cannot decode html document; forwarding unmodified",
			"target", resp.Target.URL.String(),
			"err", err,
		)
		s.countDocument("undecodable")
		resp.Document = raw
		resp.Header.Set("Content-Length", strconv.Itoa(len(raw)))
		return resp, nil
	}

	out, stats := s.rewriter.Rewrite(doc)
	if decoded {
		resp.Header.Del("Content-Encoding")
	}
	resp.Header.Set("Content-Length", strconv.Itoa(len(out)))
	resp.Document = out

	s.logger.Debug("rewrote html document",
		"target", resp.Target.URL.String(),
		"relative", stats.Relative,
		"self_reference", stats.SelfReference,
	)
	if stats.Changed() {
		s.countDocument("rewritten")
	} else {
		s.countDocument("unchanged")
	}
	if s.metrics != nil {
		s.metrics.RewrittenLinks.WithLabelValues(rewrite.Relative.String()).Add(float64(stats.Relative))
		s.metrics.RewrittenLinks.WithLabelValues(rewrite.SelfReference.String()).Add(float64(stats.SelfReference))
	}
	return resp, nil
}

func (s *ProxyService) countDocument(outcome string) {
	if s.metrics != nil {
		s.metrics.Documents.WithLabelValues(outcome).Inc()
	}
}

// readCapped reads r fully when limit is zero. Otherwise it reads at most
// limit+1 bytes and reports whether the whole body fit within limit.
func readCapped(r io.Reader, limit int64) ([]byte, bool, error) {
	if limit <= 0 {
		b, err := io.ReadAll(r)
		return b, true, err
	}
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	return b, int64(len(b)) <= limit, nil
}

// prefixedBody replays an already buffered prefix before the rest of the
// upstream body.
type prefixedBody struct {
	io.Reader
	io.Closer
}
