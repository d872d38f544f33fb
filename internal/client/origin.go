// Package client provides the upstream HTTP client for the mirrored origin
// and ad hoc absolute-URL targets.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"mirror-proxy/internal/config"
	"mirror-proxy/internal/metrics"
	"mirror-proxy/internal/model"
)

var (
	// ErrUnreachable matches every fetch that did not produce a response.
	ErrUnreachable = errors.New("upstream unreachable")
	// ErrTimeout is the cancellation cause when the origin does not send
	// response headers in time.
	ErrTimeout = errors.New("upstream response headers timed out")
)

// UnreachableError reports a fetch that failed before any response headers
// were received. Upstream status codes never produce it.
type UnreachableError struct {
	URL  string
	Mode model.Mode
	Err  error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUnreachable) hold for every UnreachableError.
func (e *UnreachableError) Is(target error) bool { return target == ErrUnreachable }

// Reason classifies the failure for logs and metrics.
func (e *UnreachableError) Reason() string {
	var dnsErr *net.DNSError
	var opErr *net.OpError
	switch {
	case errors.Is(e.Err, ErrTimeout), errors.Is(e.Err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(e.Err, context.Canceled):
		return "canceled"
	case errors.As(e.Err, &dnsErr):
		return "dns"
	case errors.As(e.Err, &opErr):
		return "connection"
	default:
		return "other"
	}
}

// OriginClient sends GET requests upstream.
type OriginClient struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewOriginClient creates an OriginClient with connection pooling. The
// metrics parameter is optional; pass nil to disable upstream metrics.
func NewOriginClient(cfg *config.Config, mirror *config.Mirror, logger *slog.Logger, m *metrics.Metrics) *OriginClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Origin.IdleConnections,
		MaxIdleConnsPerHost: cfg.Origin.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: mirror.Timeout(),
		// Bodies are forwarded byte for byte with the origin's own encoding.
		DisableCompression: true,
		DialContext: (&net.Dialer{
			Timeout:   mirror.Timeout(),
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &OriginClient{
		httpClient: &http.Client{Transport: transport},
		timeout:    mirror.Timeout(),
		logger:     logger.With("component", "origin_client"),
		metrics:    m,
	}
}

// Fetch issues a single GET for t, forwarding header except Host. The
// timeout bounds connecting and receiving response headers; the body is not
// timed out. Canceling ctx, e.g. when the client disconnects, aborts both
// the request and the body stream. Any status code is a successful fetch.
// The caller must close the returned body.
func (c *OriginClient) Fetch(ctx context.Context, t *model.Target, header http.Header) (*model.UpstreamResponse, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	timer := time.AfterFunc(c.timeout, func() { cancel(ErrTimeout) })

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL.String(), http.NoBody)
	if err != nil {
		timer.Stop()
		cancel(nil)
		return nil, &UnreachableError{URL: t.URL.String(), Mode: t.Mode, Err: fmt.Errorf("build upstream request: %w", err)}
	}
	req.Header = forwardHeader(header)
	req.Host = t.Host

	c.logger.Debug("upstream request",
		"mode", t.Mode.String(),
		"url", t.URL.String(),
		"host", t.Host,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
	if !timer.Stop() && err == nil {
		// Headers arrived as the timer fired; the body is already canceled.
		_ = resp.Body.Close()
		err = ErrTimeout
	}
	duration := time.Since(start).Seconds()
	mode := t.Mode.String()

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(mode).Observe(duration)
	}

	if err != nil {
		if cause := context.Cause(ctx); cause != nil && !errors.Is(err, cause) {
			err = fmt.Errorf("%w: %w", cause, err)
		}
		cancel(nil)
		uerr := &UnreachableError{URL: t.URL.String(), Mode: t.Mode, Err: err}
		if c.metrics != nil {
			c.metrics.UpstreamFailures.WithLabelValues(mode, uerr.Reason()).Inc()
		}
		return nil, uerr
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(mode, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       &cancelBody{ReadCloser: resp.Body, cancel: cancel},
	}, nil
}

// forwardHeader copies the client headers; Host travels in req.Host.
func forwardHeader(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	dst.Del("Host")
	if _, ok := dst["User-Agent"]; !ok {
		// Keep net/http from adding its own User-Agent.
		dst["User-Agent"] = nil
	}
	return dst
}

// cancelBody releases the request context once the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelCauseFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel(nil)
	return err
}
