package webfetch

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// htmlToText flattens an HTML document into plain text wrapped to
// targetWidth columns, standing in for html2text::from_read from the
// original implementation. Block-level elements (p, div, li, headings,
// br) force a line break; script/style contents are skipped entirely.
// On a malformed document, the raw bytes are returned as a best-effort
// UTF-8 string, matching the original's lossy-decode fallback.
func htmlToText(body []byte, targetWidth int) string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return string(body)
	}

	var sb strings.Builder
	var walk func(*html.Node, bool) bool
	walk = func(n *html.Node, _ bool) bool {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return false
			}
		}
		if n.Type == html.TextNode {
			text := strings.Join(strings.Fields(n.Data), " ")
			if text != "" {
				if sb.Len() > 0 {
					last := sb.String()[sb.Len()-1]
					if last != '\n' && last != ' ' {
						sb.WriteByte(' ')
					}
				}
				sb.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, false)
		}
		if n.Type == html.ElementNode && isBlockElement(n.Data) {
			sb.WriteString("\n")
		}
		return true
	}
	walk(doc, false)

	return wrapText(sb.String(), targetWidth)
}

func isBlockElement(tag string) bool {
	switch tag {
	case "p", "div", "li", "h1", "h2", "h3", "h4", "h5", "h6", "br", "tr", "section", "article", "header", "footer":
		return true
	}
	return false
}

// wrapText greedily wraps text to targetWidth columns, preserving
// existing paragraph breaks.
func wrapText(text string, targetWidth int) string {
	if targetWidth <= 0 {
		return text
	}

	var out strings.Builder
	for _, paragraph := range strings.Split(text, "\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		lineLen := 0
		words := strings.Fields(paragraph)
		for i, w := range words {
			if lineLen > 0 && lineLen+1+len(w) > targetWidth {
				out.WriteString("\n")
				lineLen = 0
			} else if i > 0 {
				out.WriteString(" ")
				lineLen++
			}
			out.WriteString(w)
			lineLen += len(w)
		}
		out.WriteString("\n")
	}
	return out.String()
}
