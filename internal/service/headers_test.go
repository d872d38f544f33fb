package service

import (
	"net/http"
	"reflect"
	"testing"

	"mirror-proxy/internal/config"
)

func testMirror(t *testing.T) *config.Mirror {
	t.Helper()
	m, err := config.NewMirror(&config.Config{
		Origin: config.OriginConfig{BaseURL: "https://origin.example.net", TimeoutSeconds: 10},
	})
	if err != nil {
		t.Fatalf("NewMirror: %v", err)
	}
	return m
}

func TestFilterResponseHeaders(t *testing.T) {
	mirror := testMirror(t)
	src := http.Header{
		"Connection":                  {"keep-alive, X-Internal-Trace"},
		"Keep-Alive":                  {"timeout=5"},
		"Proxy-Authenticate":          {"Basic"},
		"Proxy-Authorization":         {"secret"},
		"Te":                          {"trailers"},
		"Trailer":                     {"Expires"},
		"Transfer-Encoding":           {"chunked"},
		"Upgrade":                     {"h2c"},
		"X-Internal-Trace":            {"abc"},
		"Content-Type":                {"text/css"},
		"Set-Cookie":                  {"a=1", "b=2"},
		"Cache-Control":               {"max-age=60"},
		"Access-Control-Allow-Origin": {"https://origin.example.net"},
	}

	got := FilterResponseHeaders(src, mirror)

	for _, name := range []string{
		"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
		"Te", "Trailer", "Transfer-Encoding", "Upgrade", "X-Internal-Trace",
	} {
		if _, ok := got[name]; ok {
			t.Errorf("header %s must be dropped", name)
		}
	}
	if got.Get("Content-Type") != "text/css" || got.Get("Cache-Control") != "max-age=60" {
		t.Errorf("end-to-end headers not passed through: %v", got)
	}
	if !reflect.DeepEqual(got.Values("Set-Cookie"), []string{"a=1", "b=2"}) {
		t.Errorf("Set-Cookie = %v, want both values", got.Values("Set-Cookie"))
	}
	if v := got.Values("Access-Control-Allow-Origin"); !reflect.DeepEqual(v, []string{"*"}) {
		t.Errorf("Access-Control-Allow-Origin = %v, want [*]", v)
	}
	if len(src["Connection"]) != 1 {
		t.Error("source header must not be modified")
	}
}

func TestFilterResponseHeaders_Idempotent(t *testing.T) {
	mirror := testMirror(t)
	src := http.Header{
		"Connection":   {"close"},
		"Content-Type": {"text/html"},
		"Vary":         {"Accept-Encoding", "Cookie"},
	}
	once := FilterResponseHeaders(src, mirror)
	twice := FilterResponseHeaders(once, mirror)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("filter is not idempotent:\nonce  = %v\ntwice = %v", once, twice)
	}
}

func TestFilterResponseHeaders_NonCanonicalKeys(t *testing.T) {
	mirror := testMirror(t)
	src := http.Header{
		"transfer-encoding":           {"chunked"},
		"access-control-allow-origin": {"https://x.example"},
	}
	got := FilterResponseHeaders(src, mirror)
	if len(got) != 1 || !reflect.DeepEqual(got.Values("Access-Control-Allow-Origin"), []string{"*"}) {
		t.Errorf("got %v, want only Access-Control-Allow-Origin: *", got)
	}
}

func TestIsHTML(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"text/html", true},
		{"text/html; charset=utf-8", true},
		{"TEXT/HTML", true},
		{"application/xhtml+xml", false},
		{"text/plain", false},
		{"image/png", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			h := http.Header{}
			if tt.contentType != "" {
				h.Set("Content-Type", tt.contentType)
			}
			if got := IsHTML(h); got != tt.want {
				t.Errorf("IsHTML(%q) = %v, want %v", tt.contentType, got, tt.want)
			}
		})
	}
}

func TestHasBody(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusContinue, false},
		{http.StatusSwitchingProtocols, false},
		{http.StatusOK, true},
		{http.StatusNoContent, false},
		{http.StatusNotModified, false},
		{http.StatusNotFound, true},
		{http.StatusInternalServerError, true},
	}
	for _, tt := range tests {
		if got := hasBody(tt.status); got != tt.want {
			t.Errorf("hasBody(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
