// Package speech turns model output into text a voice pipeline can read
// aloud.
package speech

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// PlainText renders markdown and returns its visible text with the
// formatting removed. Block elements and list items end up on their
// own lines. Input that fails to render is returned with markup
// characters stripped.
func PlainText(md string) string {
	if strings.TrimSpace(md) == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return stripMarkup(md)
	}
	doc, err := html.Parse(&buf)
	if err != nil {
		return stripMarkup(md)
	}
	var w strings.Builder
	walk(doc, &w)
	return cleanLines(w.String())
}

// ForVoice is PlainText joined into one line. Lines that do not end in
// punctuation get a full stop so the synthesizer pauses between them.
func ForVoice(md string) string {
	lines := strings.Split(PlainText(md), "\n")
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		if l == "" {
			continue
		}
		if !strings.ContainsAny(l[len(l)-1:], ".!?:;,") {
			l += "."
		}
		parts = append(parts, l)
	}
	return strings.Join(parts, " ")
}

func walk(n *html.Node, w *strings.Builder) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Script, atom.Style:
			return
		case atom.Br:
			w.WriteString("\n")
		}
		if isBlock(n.DataAtom) {
			w.WriteString("\n")
		}
	}
	if n.Type == html.TextNode {
		w.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, w)
	}
	if n.Type == html.ElementNode && isBlock(n.DataAtom) {
		w.WriteString("\n")
	}
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Li, atom.Ul, atom.Ol, atom.Pre, atom.Blockquote,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Table, atom.Tr, atom.Hr:
		return true
	}
	return false
}

// cleanLines collapses whitespace inside lines and drops blank lines.
func cleanLines(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

var markupReplacer = strings.NewReplacer("**", "", "__", "", "*", "", "`", "", "#", "")

func stripMarkup(s string) string {
	return cleanLines(markupReplacer.Replace(s))
}
