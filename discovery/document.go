// Package discovery extracts script units from an HTML document.
//
// Elements are visited from last to first so that fetching an external
// script never disturbs elements that are still to be processed. An
// external element suspends the walk until its content is resolved; the
// walk then resumes below it without revisiting anything already
// collected. The collected units are returned in document order.
package discovery

import (
	"fmt"
	"io"
	"mime"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// javascriptTypes are the script type attribute values browsers execute.
var javascriptTypes = map[string]bool{
	"":                         true,
	"text/javascript":          true,
	"application/javascript":   true,
	"application/x-javascript": true,
	"text/ecmascript":          true,
	"application/ecmascript":   true,
	"text/jscript":             true,
	"module":                   true,
}

// ScriptElement is one executable <script> of a document.
type ScriptElement struct {
	// Index is the element's position among the document's scripts.
	Index int
	// Src is the resolved src attribute, empty for inline scripts.
	Src string
	// Inline is the element text for inline scripts.
	Inline string
	// Node is the element in the parsed document.
	Node *html.Node
}

// External reports whether the element loads its content from Src.
func (e *ScriptElement) External() bool { return e.Src != "" }

// ParseDocument parses an HTML document.
func ParseDocument(r io.Reader) (*html.Node, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

// ExtractScripts returns the executable script elements of doc in document
// order. Relative src attributes are resolved against pageURL when it is an
// absolute URL.
func ExtractScripts(doc *html.Node, pageURL string) []*ScriptElement {
	base, err := url.Parse(pageURL)
	if err != nil || !base.IsAbs() {
		base = nil
	}

	var elements []*ScriptElement
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Script && isJavaScript(n) {
			el := &ScriptElement{Index: len(elements), Node: n}
			if src, ok := attr(n, "src"); ok && strings.TrimSpace(src) != "" {
				el.Src = resolve(base, strings.TrimSpace(src))
			} else {
				el.Inline = text(n)
			}
			elements = append(elements, el)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return elements
}

func isJavaScript(n *html.Node) bool {
	typ, _ := attr(n, "type")
	typ = strings.ToLower(strings.TrimSpace(typ))
	if typ != "" && typ != "module" {
		if parsed, _, err := mime.ParseMediaType(typ); err == nil {
			typ = parsed
		}
	}
	return javascriptTypes[typ]
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func text(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func resolve(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
