package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"mirror-proxy/internal/client"
	"mirror-proxy/internal/model"
	"mirror-proxy/internal/service"
	"mirror-proxy/internal/target"
)

// streamChunkSize is the largest slice written between flushes.
const streamChunkSize = 32 * 1024

// unreachableMessage is the fixed body of every 502 response.
const unreachableMessage = "Origin unreachable."

// ProxyHandler serves every path that is not one of the proxy's own routes.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle forwards the request and writes the upstream status, the filtered
// headers and the body. Rewritten HTML goes out in one write; anything else
// is streamed with a flush after every chunk.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		Path:     req.URL.EscapedPath(),
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Close() }()

	w := c.Response()
	for key, vals := range resp.Header {
		w.Header()[key] = vals
	}
	w.WriteHeader(resp.StatusCode)

	if resp.Document != nil {
		if _, err := w.Write(resp.Document); err != nil {
			h.logger.Warn("writing html document", "err", err, "path", req.URL.Path)
		}
		return nil
	}
	if resp.Body == nil {
		return nil
	}

	// The status is already sent, so a failed copy can only truncate the
	// response.
	if err := stream(w, resp.Body); err != nil {
		h.logger.Warn("streaming response body",
			"err", err,
			"path", req.URL.Path,
			"target", resp.Target.URL.String(),
		)
	}
	return nil
}

// stream copies body to w until EOF, flushing after every chunk.
func stream(w *echo.Response, body io.Reader) error {
	buf := make([]byte, streamChunkSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			w.Flush()
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	c.Response().Header().Set("Access-Control-Allow-Origin", "*")

	var terr *target.Error
	if errors.As(err, &terr) {
		h.logger.Warn("rejected request",
			"err", err,
			"field", terr.Field,
			"path", c.Request().URL.Path,
		)
		return c.String(http.StatusBadRequest, terr.Error())
	}

	var uerr *client.UnreachableError
	if errors.As(err, &uerr) {
		h.logger.Error("origin unreachable",
			"err", uerr.Err,
			"url", uerr.URL,
			"mode", uerr.Mode.String(),
			"reason", uerr.Reason(),
		)
	} else {
		h.logger.Error("proxy error", "err", err, "path", c.Request().URL.Path)
	}
	return c.String(http.StatusBadGateway, unreachableMessage)
}
