package instrument

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// htmlCommentOpen is stripped from the start of legacy inline scripts.
const htmlCommentOpen = "<!--"

// parseSource parses JavaScript and fails on the first ERROR or MISSING node.
// The caller owns the returned tree.
func parseSource(ctx context.Context, origin string, src []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(javascript.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, &ParseError{Origin: origin, Message: "parser failed", Cause: err}
	}

	root := tree.RootNode()
	if root.HasError() {
		defer tree.Close()
		if bad := firstError(root); bad != nil {
			return nil, newParseError(origin, bad, src)
		}
		return nil, &ParseError{Origin: origin, Message: "syntax error"}
	}
	return tree, nil
}

// firstError returns the first ERROR or MISSING node in document order.
func firstError(n *sitter.Node) *sitter.Node {
	if n.IsError() || n.IsMissing() {
		return n
	}
	if !n.HasError() {
		return nil
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if bad := firstError(n.Child(i)); bad != nil {
			return bad
		}
	}
	return nil
}

func newParseError(origin string, n *sitter.Node, src []byte) *ParseError {
	pos := n.StartPoint()
	msg := ""
	if n.IsMissing() {
		msg = fmt.Sprintf("missing %s", n.Type())
	} else {
		snippet := string(src[n.StartByte():n.EndByte()])
		if len(snippet) > 32 {
			snippet = snippet[:32] + "..."
		}
		msg = fmt.Sprintf("unexpected %q", strings.TrimSpace(snippet))
	}
	return &ParseError{
		Origin:  origin,
		Line:    int(pos.Row) + 1,
		Column:  int(pos.Column) + 1,
		Message: msg,
	}
}

// stripHTMLComment drops a leading "<!--" line. Browsers treat it as a
// single-line comment.
func stripHTMLComment(src string) string {
	trimmed := strings.TrimLeft(src, " \t\r\n")
	if !strings.HasPrefix(trimmed, htmlCommentOpen) {
		return src
	}
	if i := strings.IndexByte(trimmed, '\n'); i >= 0 {
		return trimmed[i+1:]
	}
	return ""
}
