package service

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// ErrUnsupportedEncoding is returned for Content-Encoding values the
// rewriter cannot decode, including stacked encodings.
var ErrUnsupportedEncoding = errors.New("unsupported content encoding")

// decodeBody undoes the declared Content-Encoding. The boolean reports
// whether the result differs from b and Content-Encoding must be dropped.
func decodeBody(b []byte, encoding string) ([]byte, bool, error) {
	switch enc := strings.ToLower(strings.TrimSpace(encoding)); enc {
	case "", "identity":
		return b, false, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, false, fmt.Errorf("gzip: %w", err)
		}
		defer func() { _ = zr.Close() }()
		return readDecoded(zr, enc)
	case "deflate":
		if out, err := decodeZlib(b); err == nil {
			return out, true, nil
		}
		// Some servers send raw deflate without the zlib wrapper.
		fr := flate.NewReader(bytes.NewReader(b))
		defer func() { _ = fr.Close() }()
		return readDecoded(fr, enc)
	case "br":
		return readDecoded(brotli.NewReader(bytes.NewReader(b)), enc)
	case "zstd":
		zr, err := zstd.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, false, fmt.Errorf("zstd: %w", err)
		}
		defer zr.Close()
		return readDecoded(zr, enc)
	default:
		return nil, false, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, encoding)
	}
}

func decodeZlib(b []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer func() { _ = zr.Close() }()
	return io.ReadAll(zr)
}

func readDecoded(r io.Reader, enc string) ([]byte, bool, error) {
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", enc, err)
	}
	return out, true, nil
}
