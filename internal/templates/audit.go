package templates

import (
	"context"
	"strings"

	"golang.org/x/net/html"
)

// audit parses rendered output and warns about the problems template
// authors hit most: markup the parser cannot make sense of and full
// documents without a title. Debug-mode only, never fatal.
func (e *Engine) audit(name, text string) {
	ctx := context.Background()

	doc, err := html.Parse(strings.NewReader(text))
	if err != nil {
		e.logger.Warn(ctx, err, "rendered HTML does not parse", "template", name)
		return
	}

	if !strings.Contains(text, "<html") {
		// fragment, nothing more to check
		return
	}

	if !hasElement(doc, "title") {
		e.logger.Warn(ctx, nil, "rendered document has no <title>", "template", name)
	}
}

func hasElement(node *html.Node, tag string) bool {
	if node.Type == html.ElementNode && node.Data == tag {
		return true
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if hasElement(child, tag) {
			return true
		}
	}
	return false
}
