package search

import (
	"strings"

	"golang.org/x/net/html"
)

// CleanText strips markup and entities from a provider snippet and
// collapses whitespace. Google snippets carry <b> highlights and
// escaped entities; neither belongs in spoken output.
func CleanText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	tokenizer := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.TextToken:
			b.WriteString(tokenizer.Token().Data)
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			if tok := tokenizer.Token(); tok.Data == "br" || tok.Data == "p" {
				b.WriteString(" ")
			}
		}
	}
}
