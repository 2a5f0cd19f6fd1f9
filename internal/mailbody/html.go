package mailbody

import (
	"io"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"head":     true,
	"title":    true,
}

// breakElements separate words even when the markup has no whitespace.
var breakElements = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "tr": true, "td": true,
	"th": true, "table": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "blockquote": true, "pre": true, "hr": true,
	"section": true, "article": true, "header": true, "footer": true,
}

type textWriter struct {
	sb        strings.Builder
	pendingWS bool
}

func (w *textWriter) space() {
	if w.sb.Len() > 0 {
		w.pendingWS = true
	}
}

func (w *textWriter) text(s string) {
	for _, r := range s {
		if unicode.IsSpace(r) {
			w.space()
			continue
		}
		if w.pendingWS {
			w.sb.WriteByte(' ')
			w.pendingWS = false
		}
		w.sb.WriteRune(r)
	}
}

// HTMLToText converts an HTML document or fragment to a single line of text.
func HTMLToText(doc string) string {
	return htmlToText(strings.NewReader(doc))
}

func htmlToText(r io.Reader) string {
	var (
		w    textWriter
		skip int
	)

	z := html.NewTokenizer(r)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return w.sb.String()

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			if skipElements[tag] && tt == html.StartTagToken {
				skip++
				continue
			}
			if breakElements[tag] {
				w.space()
			}
			if tag == "img" && hasAttr && skip == 0 {
				for {
					key, val, more := z.TagAttr()
					if string(key) == "alt" {
						w.space()
						w.text(string(val))
					}
					if !more {
						break
					}
				}
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipElements[tag] && skip > 0 {
				skip--
				continue
			}
			if breakElements[tag] {
				w.space()
			}

		case html.TextToken:
			if skip == 0 {
				w.text(string(z.Text()))
			}
		}
	}
}
