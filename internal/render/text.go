package render

import (
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ExtractText walks raw HTML and collects visible text, skipping script,
// style and other non-content subtrees. Fallback path for when the live DOM
// cannot be read anymore but a serialized snapshot survived.
func ExtractText(raw string) string {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return ""
	}

	var b strings.Builder
	collectText(doc, &b)
	return strings.TrimSpace(collapseSpace(b.String()))
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Head:
			return
		}
	}
	if n.Type == html.TextNode {
		if t := strings.TrimSpace(n.Data); t != "" {
			b.WriteString(t)
			b.WriteByte(' ')
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

var excerptPolicy = bluemonday.UGCPolicy()

// Excerpt turns page HTML into a short, readable markdown fragment for the
// check log: sanitize first (the page is third-party content), convert to
// markdown, collapse whitespace, truncate.
func Excerpt(raw string, max int) string {
	if raw == "" || max <= 0 {
		return ""
	}

	clean := excerptPolicy.Sanitize(raw)
	md, err := htmltomarkdown.ConvertString(clean)
	if err != nil {
		md = ExtractText(raw)
	}

	md = strings.TrimSpace(collapseSpace(md))
	if len(md) > max {
		// Drop whatever partial rune the byte cut left behind.
		md = strings.ToValidUTF8(md[:max], "")
		md = strings.TrimSpace(md) + "…"
	}
	return md
}

// collapseSpace squeezes runs of whitespace into single spaces, keeping
// single newlines so markdown structure stays readable.
func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space, newline := false, false
	for _, r := range s {
		switch r {
		case '\n', '\r':
			newline = true
			space = false
		case ' ', '\t':
			space = true
		default:
			if newline {
				b.WriteByte('\n')
			} else if space {
				b.WriteByte(' ')
			}
			space, newline = false, false
			b.WriteRune(r)
		}
	}
	return b.String()
}
