package fetch

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipElements are HTML elements whose content should be excluded.
var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Head:     true, // title is extracted separately
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
}

// headingPrefix maps a heading element to its markdown prefix, so a
// page's structure survives extraction instead of flattening into one
// wall of text the model has to re-infer structure from.
var headingPrefix = map[atom.Atom]string{
	atom.H1: "# ",
	atom.H2: "## ",
	atom.H3: "### ",
	atom.H4: "#### ",
	atom.H5: "##### ",
	atom.H6: "###### ",
}

// extractHTML parses HTML and returns (title, readable markdown-ish
// content) suitable for handing straight to the agent loop as a tool
// result.
func extractHTML(raw string) (string, string) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", stripTags(raw)
	}

	title := findTitle(doc)

	var content strings.Builder
	extractText(doc, &content, false)

	return title, cleanWhitespace(content.String())
}

// findTitle walks the DOM looking for a <title> element.
func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		return strings.TrimSpace(getTextContent(n))
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

// getTextContent returns concatenated text of all children.
func getTextContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(getTextContent(c))
	}
	return b.String()
}

// extractText recursively extracts visible text from the DOM, rendering
// headings, list items, and links as lightweight markdown so the agent
// can still tell a page's structure apart from its prose, and can see
// (and potentially fetch_url) linked URLs without re-fetching raw HTML.
func extractText(n *html.Node, w *strings.Builder, skip bool) {
	if skip {
		return
	}

	if n.Type == html.ElementNode {
		if skipElements[n.DataAtom] {
			return
		}
		if prefix, ok := headingPrefix[n.DataAtom]; ok {
			if w.Len() > 0 {
				w.WriteString("\n\n")
			}
			w.WriteString(prefix)
		} else if n.DataAtom == atom.Li {
			if w.Len() > 0 && !strings.HasSuffix(w.String(), "\n") {
				w.WriteString("\n")
			}
			w.WriteString("- ")
		} else if isBlockElement(n.DataAtom) && w.Len() > 0 {
			w.WriteString("\n\n")
		}

		if n.DataAtom == atom.A {
			writeLink(n, w)
			return
		}
	}

	if n.Type == html.TextNode {
		text := strings.TrimSpace(n.Data)
		if text != "" {
			w.WriteString(text)
			w.WriteString(" ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, w, false)
	}

	if n.Type == html.ElementNode && n.DataAtom == atom.Br {
		w.WriteString("\n")
	}
}

// writeLink renders an anchor as "text (href)", skipping in-page
// fragment and javascript: links which are never useful as a follow-up
// fetch_url target.
func writeLink(n *html.Node, w *strings.Builder) {
	text := strings.TrimSpace(getTextContent(n))
	href := attr(n, "href")
	if text == "" {
		return
	}
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		w.WriteString(text)
		w.WriteString(" ")
		return
	}
	fmt.Fprintf(w, "%s (%s) ", text, href)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// isBlockElement returns true for elements that typically render as blocks.
func isBlockElement(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Main,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Table,
		atom.Tr, atom.Dl, atom.Dd, atom.Dt, atom.Figcaption, atom.Figure,
		atom.Details, atom.Summary, atom.Hr:
		return true
	}
	return false
}

// cleanWhitespace normalizes whitespace in extracted text.
func cleanWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var cleaned []string
	prevEmpty := false

	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if prevEmpty {
				continue
			}
			prevEmpty = true
		} else {
			prevEmpty = false
		}
		cleaned = append(cleaned, line)
	}

	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}

// stripTags is a fallback that removes HTML tags naively, for input
// that fails html.Parse entirely.
func stripTags(s string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return cleanWhitespace(b.String())
		case html.TextToken:
			b.WriteString(tokenizer.Token().Data)
			b.WriteString(" ")
		}
	}
}
