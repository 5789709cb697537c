package discovery

import (
	"fmt"
	"io"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/pithecene-io/scriptcover/types"
)

// SnapshotHook exposes the live coverage state to a browser harness:
// window.__scriptcover.snapshot() returns the submission JSON.
const SnapshotHook = `window.__scriptcover = {
  snapshot: function () {
    return JSON.stringify({url: window.location.href, scriptObjects: window.scriptObjects});
  }
};
`

// Rewrite replaces the extracted script elements of doc by their
// instrumented units. The accessory script is placed first in <head>; each
// instrumented unit is appended to its original parent in document order.
// Elements of flagged units are left as they were.
func Rewrite(doc *html.Node, elements []*ScriptElement, units []*types.Unit, accessory string) error {
	byPosition := make(map[int]*types.Unit, len(units))
	for _, u := range units {
		byPosition[u.Position] = u
	}

	type placement struct {
		parent *html.Node
		unit   *types.Unit
	}
	var placements []placement
	for _, el := range elements {
		u, ok := byPosition[el.Index]
		if !ok || u.Flagged() || u.Instrumented == "" {
			continue
		}
		parent := el.Node.Parent
		if parent == nil {
			return fmt.Errorf("script %d is detached", el.Index)
		}
		parent.RemoveChild(el.Node)
		placements = append(placements, placement{parent: parent, unit: u})
	}

	head := findElement(doc, atom.Head)
	if head == nil {
		head = findElement(doc, atom.Body)
	}
	if head == nil {
		head = doc
	}
	head.InsertBefore(newScript(SnapshotHook+accessory), head.FirstChild)

	for _, p := range placements {
		p.parent.AppendChild(newScript(p.unit.Instrumented))
	}
	return nil
}

// Render writes doc as HTML.
func Render(w io.Writer, doc *html.Node) error {
	return html.Render(w, doc)
}

func newScript(content string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: atom.Script, Data: "script"}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: content})
	return n
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}
