package elasticsearch

import (
	"strings"

	"golang.org/x/net/html"
)

// StripHTML returns the visible text of an HTML fragment with whitespace
// collapsed. Script and style content is dropped. Input that does not parse
// is returned unchanged.
func StripHTML(content string) string {
	if !strings.ContainsAny(content, "<&") {
		return content
	}
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return content
	}

	var text strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			}
		}
		if n.Type == html.TextNode {
			text.WriteString(n.Data)
			text.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(doc)

	return strings.Join(strings.Fields(text.String()), " ")
}
