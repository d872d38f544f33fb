// Package target classifies incoming requests into proxy modes and computes
// the upstream URL to fetch.
package target

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"mirror-proxy/internal/config"
	"mirror-proxy/internal/model"
)

// QueryParam is the query parameter carrying an absolute URL on the root path.
const QueryParam = "url"

var (
	// ErrMissing is wrapped when a required URL value is absent or empty.
	ErrMissing = errors.New("value is missing")
	// ErrNotAbsolute is wrapped when a value is not an absolute http(s) URL.
	ErrNotAbsolute = errors.New("not an absolute http(s) URL")
)

// Error is a client error: the request names a target that cannot be fetched.
type Error struct {
	Field string
	Value string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Resolver maps requests onto upstream targets.
type Resolver struct {
	mirror *config.Mirror
}

// NewResolver creates a Resolver for the given mirror policy.
func NewResolver(m *config.Mirror) *Resolver {
	return &Resolver{mirror: m}
}

// Resolve picks exactly one mode for the request, in precedence order:
// absolute URL in the first path segment, url query parameter on the root
// path, then the mirrored origin.
func (r *Resolver) Resolve(pr *model.ProxyRequest) (*model.Target, error) {
	path := pr.Path
	if path == "" {
		path = "/"
	}

	seg := strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(seg, '/'); i >= 0 {
		seg = seg[:i]
	}
	if seg != "" {
		decoded, err := Decode(seg)
		if err != nil {
			return nil, &Error{Field: "path", Value: seg, Err: err}
		}
		if hasHTTPScheme(decoded) {
			u, err := parseAbsolute(decoded)
			if err != nil {
				return nil, &Error{Field: "path", Value: decoded, Err: err}
			}
			return &model.Target{Mode: model.ModeAbsolutePath, URL: u, Host: u.Host}, nil
		}
	}

	if path == "/" {
		raw, ok, err := lookupQuery(pr.RawQuery, QueryParam)
		if err != nil {
			return nil, &Error{Field: QueryParam, Value: raw, Err: err}
		}
		if ok {
			if raw == "" {
				return nil, &Error{Field: QueryParam, Err: ErrMissing}
			}
			u, err := parseAbsolute(raw)
			if err != nil {
				return nil, &Error{Field: QueryParam, Value: raw, Err: err}
			}
			return &model.Target{Mode: model.ModeQueryParam, URL: u, Host: u.Host}, nil
		}
	}

	origin := r.mirror.Origin()
	uri := origin.String() + path
	if pr.RawQuery != "" {
		uri += "?" + pr.RawQuery
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, &Error{Field: "path", Value: path, Err: err}
	}
	return &model.Target{Mode: model.ModeMirror, URL: u, Host: origin.Host}, nil
}

// Encode percent-encodes every byte of raw outside the unreserved set, so
// the result is a single opaque path segment.
func Encode(raw string) string {
	return strings.ReplaceAll(url.QueryEscape(raw), "+", "%20")
}

// SelfPath returns the root-relative path that fetches raw through the
// absolute-URL path mode.
func SelfPath(raw string) string {
	return "/" + Encode(raw)
}

// Decode reverses Encode exactly.
func Decode(seg string) (string, error) {
	return url.PathUnescape(seg)
}

func hasHTTPScheme(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

// parseAbsolute accepts only absolute http(s) URLs with a non-empty host.
func parseAbsolute(s string) (*url.URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotAbsolute, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, ErrNotAbsolute
	}
	if u.Hostname() == "" {
		return nil, ErrNotAbsolute
	}
	return u, nil
}

// lookupQuery finds the first value for key in a raw query string. Unlike
// url.ParseQuery it reports a malformed escape in that value instead of
// dropping the pair.
func lookupQuery(rawQuery, key string) (string, bool, error) {
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		name, err := url.QueryUnescape(k)
		if err != nil || name != key {
			continue
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			return v, true, err
		}
		return val, true, nil
	}
	return "", false, nil
}
