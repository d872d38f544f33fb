package rewrite

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"

	"mirror-proxy/internal/config"
)

// Stats counts the attribute values changed in one document.
type Stats struct {
	Relative      int
	SelfReference int
}

// Changed reports whether any attribute was rewritten.
func (s Stats) Changed() bool {
	return s.Relative+s.SelfReference > 0
}

// Rewriter applies the link policy to the tags and attributes of the
// mirror's rewrite table.
type Rewriter struct {
	mirror *config.Mirror
	policy *Policy
}

// New creates a Rewriter for the given mirror.
func New(m *config.Mirror) *Rewriter {
	return &Rewriter{mirror: m, policy: NewPolicy(m)}
}

// Rewrite returns doc with link attributes rewritten. Tokens that are not
// changed are copied from the input byte for byte; a tag with at least one
// changed attribute is re-serialized with its attributes in original order.
func (rw *Rewriter) Rewrite(doc []byte) ([]byte, Stats) {
	var stats Stats
	var out bytes.Buffer
	out.Grow(len(doc) + len(doc)/16)

	z := html.NewTokenizer(bytes.NewReader(doc))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF; any unterminated markup is still in Raw.
			out.Write(z.Raw())
			return out.Bytes(), stats

		case html.StartTagToken, html.SelfClosingTagToken:
			// TagName and TagAttr lowercase and unescape in place, so keep
			// a copy of the original bytes first.
			raw := append([]byte(nil), z.Raw()...)
			name, hasAttr := z.TagName()
			attrs := rw.mirror.Attrs(string(name))
			if len(attrs) == 0 || !hasAttr {
				out.Write(raw)
				continue
			}

			tok := html.Token{Type: tt, Data: string(name)}
			for more := hasAttr; more; {
				var k, v []byte
				k, v, more = z.TagAttr()
				tok.Attr = append(tok.Attr, html.Attribute{Key: string(k), Val: string(v)})
			}

			if rw.rewriteAttrs(&tok, attrs, &stats) {
				out.WriteString(tok.String())
			} else {
				out.Write(raw)
			}

		default:
			out.Write(z.Raw())
		}
	}
}

func (rw *Rewriter) rewriteAttrs(tok *html.Token, attrs []string, stats *Stats) bool {
	changed := false
	for i, a := range tok.Attr {
		if !contains(attrs, a.Key) {
			continue
		}

		var nv string
		var d Decision
		switch {
		case a.Key == "srcset":
			nv, d = rw.policy.decideSrcset(a.Val)
		case tok.Data == "meta" && a.Key == "content" && isRefresh(tok.Attr):
			nv, d = rw.policy.decideRefresh(a.Val)
		default:
			nv, d = rw.policy.Decide(a.Val)
		}

		switch d {
		case Relative:
			stats.Relative++
		case SelfReference:
			stats.SelfReference++
		default:
			continue
		}
		tok.Attr[i].Val = nv
		changed = true
	}
	return changed
}

func isRefresh(attrs []html.Attribute) bool {
	for _, a := range attrs {
		if a.Key == "http-equiv" && strings.EqualFold(strings.TrimSpace(a.Val), "refresh") {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
