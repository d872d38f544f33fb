package service

import (
	"bytes"
	"errors"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

const sampleHTML = `<html><head><link href="https://origin.example.net/a.css"></head><body>hello</body></html>`

func compress(t *testing.T, encoding string, src []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	switch encoding {
	case "gzip":
		w := gzip.NewWriter(&buf)
		_, _ = w.Write(src)
		_ = w.Close()
	case "zlib":
		w := zlib.NewWriter(&buf)
		_, _ = w.Write(src)
		_ = w.Close()
	case "flate":
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			t.Fatalf("flate.NewWriter: %v", err)
		}
		_, _ = w.Write(src)
		_ = w.Close()
	case "br":
		w := brotli.NewWriter(&buf)
		_, _ = w.Write(src)
		_ = w.Close()
	case "zstd":
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			t.Fatalf("zstd.NewWriter: %v", err)
		}
		defer func() { _ = enc.Close() }()
		return enc.EncodeAll(src, nil)
	default:
		t.Fatalf("unknown test encoding %q", encoding)
	}
	return buf.Bytes()
}

func TestDecodeBody(t *testing.T) {
	src := []byte(sampleHTML)
	tests := []struct {
		name    string
		header  string
		body    []byte
		decoded bool
	}{
		{"identity", "", src, false},
		{"explicit identity", "identity", src, false},
		{"gzip", "gzip", compress(t, "gzip", src), true},
		{"x-gzip", "x-gzip", compress(t, "gzip", src), true},
		{"deflate zlib", "deflate", compress(t, "zlib", src), true},
		{"deflate raw", "deflate", compress(t, "flate", src), true},
		{"brotli", "br", compress(t, "br", src), true},
		{"zstd", "zstd", compress(t, "zstd", src), true},
		{"case and space", " GZIP ", compress(t, "gzip", src), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, decoded, err := decodeBody(tt.body, tt.header)
			if err != nil {
				t.Fatalf("decodeBody() error = %v", err)
			}
			if decoded != tt.decoded {
				t.Errorf("decoded = %v, want %v", decoded, tt.decoded)
			}
			if string(got) != sampleHTML {
				t.Errorf("decodeBody() = %q, want %q", got, sampleHTML)
			}
		})
	}
}

func TestDecodeBody_Errors(t *testing.T) {
	for _, enc := range []string{"compress", "gzip, br", "sdch"} {
		_, _, err := decodeBody([]byte(sampleHTML), enc)
		if !errors.Is(err, ErrUnsupportedEncoding) {
			t.Errorf("decodeBody(%q) error = %v, want ErrUnsupportedEncoding", enc, err)
		}
	}

	if _, _, err := decodeBody([]byte("not gzip at all"), "gzip"); err == nil {
		t.Error("decodeBody() expected error for corrupt gzip body")
	}
}
