package instrument

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/pithecene-io/scriptcover/probe"
)

// Placeholder lines emitted by the serializer and consumed by the line walk.
// Begin and end carry the serializer's own block ordinal so the walk can
// check nesting.
const (
	placeholderCounter = "%COVER_COUNTER%"
	indentUnit         = "    "
)

var placeholderRe = regexp.MustCompile(`^%COVER_(BEGIN|END):(\d+)%$`)

func placeholderBegin(ordinal int) string { return fmt.Sprintf("%%COVER_BEGIN:%d%%", ordinal) }
func placeholderEnd(ordinal int) string   { return fmt.Sprintf("%%COVER_END:%d%%", ordinal) }

type placeholderKind int

const (
	notPlaceholder placeholderKind = iota
	phBegin
	phCounter
	phEnd
)

// parsePlaceholder classifies a trimmed normalized line.
func parsePlaceholder(trimmed string) (placeholderKind, int) {
	if trimmed == placeholderCounter {
		return phCounter, 0
	}
	m := placeholderRe.FindStringSubmatch(trimmed)
	if m == nil {
		return notPlaceholder, 0
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return notPlaceholder, 0
	}
	if m[1] == "BEGIN" {
		return phBegin, n
	}
	return phEnd, n
}

// Statement kinds terminated with ";" when the source relied on ASI.
var terminated = map[string]bool{
	"expression_statement": true,
	"lexical_declaration":  true,
	"variable_declaration": true,
	"return_statement":     true,
	"throw_statement":      true,
	"break_statement":      true,
	"continue_statement":   true,
	"debugger_statement":   true,
	"do_statement":         true,
	"import_statement":     true,
	"export_statement":     true,
}

// Owners of a "body" field that is wrapped in a block when it has no braces.
var loopKinds = map[string]bool{
	"for_statement":    true,
	"for_in_statement": true,
	"while_statement":  true,
	"do_statement":     true,
	"with_statement":   true,
}

var functionKinds = map[string]bool{
	"function_declaration":           true,
	"function_expression":            true,
	"function":                       true,
	"generator_function":             true,
	"generator_function_declaration": true,
	"arrow_function":                 true,
	"method_definition":              true,
}

// serializer re-emits a parse tree with one statement per line and
// placeholder lines around every block.
type serializer struct {
	src      []byte
	maxDepth int

	lines     []string
	cur       strings.Builder
	lineDepth int
	depth     int
	ordinal   int
	open      []int
	err       error
}

// normalize returns the normalized lines of root.
func normalize(root *sitter.Node, src []byte, maxDepth int) ([]string, error) {
	if maxDepth <= 0 {
		maxDepth = probe.DefaultMaxDepth
	}
	s := &serializer{src: src, maxDepth: maxDepth}
	for i := 0; i < int(root.ChildCount()); i++ {
		s.statement(root.Child(i))
		if s.err != nil {
			return nil, s.err
		}
	}
	s.flush()
	return s.lines, nil
}

func (s *serializer) text(n *sitter.Node) string {
	return string(s.src[n.StartByte():n.EndByte()])
}

func (s *serializer) write(text string) {
	if text == "" {
		return
	}
	if s.cur.Len() == 0 {
		s.lineDepth = s.depth
	}
	s.cur.WriteString(text)
}

func (s *serializer) space() {
	if s.cur.Len() == 0 {
		return
	}
	if str := s.cur.String(); !strings.HasSuffix(str, " ") {
		s.cur.WriteByte(' ')
	}
}

func (s *serializer) pending() string {
	return strings.TrimRight(s.cur.String(), " ")
}

func (s *serializer) flush() {
	text := s.pending()
	s.cur.Reset()
	if strings.TrimSpace(text) == "" {
		return
	}
	s.lines = append(s.lines, strings.Repeat(indentUnit, s.lineDepth)+text)
}

func (s *serializer) emit(line string) {
	s.flush()
	s.lines = append(s.lines, strings.Repeat(indentUnit, s.depth)+line)
}

// enter opens a block: the begin placeholder one level deeper.
func (s *serializer) enter() {
	s.flush()
	s.depth++
	if s.depth > s.maxDepth {
		s.err = fmt.Errorf("%w: nesting deeper than %d", probe.ErrStackOverflow, s.maxDepth)
		return
	}
	s.ordinal++
	s.open = append(s.open, s.ordinal)
	s.emit(placeholderBegin(s.ordinal))
}

func (s *serializer) leave() {
	s.flush()
	if len(s.open) > 0 {
		id := s.open[len(s.open)-1]
		s.open = s.open[:len(s.open)-1]
		s.emit(placeholderEnd(id))
	}
	s.depth--
}

func isComment(n *sitter.Node) bool {
	switch n.Type() {
	case "comment", "html_comment", "hash_bang_line":
		return true
	}
	return false
}

func sameNode(a, b *sitter.Node) bool {
	return a != nil && b != nil &&
		a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

// statement emits n on its own line(s).
func (s *serializer) statement(n *sitter.Node) {
	if s.err != nil || isComment(n) || n.Type() == "empty_statement" {
		return
	}
	s.flush()
	s.node(n)
	if terminated[n.Type()] && !strings.HasSuffix(s.pending(), ";") {
		s.write(";")
	}
	s.flush()
}

// node emits n inline, expanding nested blocks onto their own lines.
func (s *serializer) node(n *sitter.Node) {
	if s.err != nil {
		return
	}
	switch n.Type() {
	case "comment", "html_comment", "hash_bang_line":
		return
	case "statement_block":
		s.block(n)
		return
	case "string":
		s.write(stripContinuations(s.text(n)))
		return
	case "template_string":
		s.template(n)
		return
	case "regex":
		s.write(s.text(n))
		return
	case "switch_body":
		s.switchBody(n)
		return
	case "class_body":
		s.classBody(n)
		return
	}

	count := int(n.ChildCount())
	if count == 0 {
		s.write(collapseNewlines(s.text(n)))
		return
	}

	var body *sitter.Node
	switch {
	case n.Type() == "if_statement":
		body = n.ChildByFieldName("consequence")
	case loopKinds[n.Type()]:
		body = n.ChildByFieldName("body")
	}

	prevEnd := n.StartByte()
	for i := 0; i < count; i++ {
		c := n.Child(i)
		if isComment(c) {
			continue
		}
		if c.StartByte() > prevEnd {
			s.space()
		}
		switch {
		case sameNode(c, body) && c.Type() != "statement_block":
			s.wrapped(c)
		case n.Type() == "else_clause" && c.IsNamed() &&
			c.Type() != "statement_block" && c.Type() != "if_statement":
			s.wrapped(c)
		default:
			s.node(c)
		}
		prevEnd = c.EndByte()
	}
}

// block emits a braced statement list as a coverage block.
func (s *serializer) block(n *sitter.Node) {
	var stmts []*sitter.Node
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.Type() == "{" || c.Type() == "}" || isComment(c) {
			continue
		}
		stmts = append(stmts, c)
	}

	s.write("{")
	s.enter()
	i := 0
	if parent := n.Parent(); parent != nil && functionKinds[parent.Type()] {
		for i < len(stmts) && isDirective(stmts[i]) {
			s.statement(stmts[i])
			i++
		}
	}
	s.emit(placeholderCounter)
	for ; i < len(stmts); i++ {
		s.statement(stmts[i])
	}
	s.leave()
	s.write("}")
}

// wrapped emits a brace-less body as a synthetic block.
func (s *serializer) wrapped(n *sitter.Node) {
	s.write("{")
	s.enter()
	s.emit(placeholderCounter)
	s.statement(n)
	s.leave()
	s.write("}")
}

func (s *serializer) switchBody(n *sitter.Node) {
	s.write("{")
	s.flush()
	s.depth++
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		switch c.Type() {
		case "switch_case", "switch_default":
			s.switchCase(c)
		}
	}
	s.flush()
	s.depth--
	s.write("}")
}

// classBody keeps members inline and terminates fields that relied on ASI.
func (s *serializer) classBody(n *sitter.Node) {
	prevEnd := n.StartByte()
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		c := n.Child(i)
		if isComment(c) {
			continue
		}
		if c.StartByte() > prevEnd {
			s.space()
		}
		s.node(c)
		prevEnd = c.EndByte()
		if c.Type() == "field_definition" && (i+1 >= count || n.Child(i+1).Type() != ";") {
			s.write(";")
		}
	}
}

// switchCase emits "case x:" followed by its statements as one block.
func (s *serializer) switchCase(n *sitter.Node) {
	s.flush()
	prevEnd := n.StartByte()
	i := 0
	for ; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if isComment(c) {
			continue
		}
		if c.StartByte() > prevEnd {
			s.space()
		}
		s.node(c)
		prevEnd = c.EndByte()
		if c.Type() == ":" {
			i++
			break
		}
	}
	s.enter()
	s.emit(placeholderCounter)
	for ; i < int(n.ChildCount()); i++ {
		s.statement(n.Child(i))
	}
	s.leave()
}

// template keeps literal text as is, escaping raw line breaks, and
// serializes substitutions as code.
func (s *serializer) template(n *sitter.Node) {
	pos := n.StartByte()
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		s.write(templateText(string(s.src[pos:c.StartByte()])))
		if c.Type() == "template_substitution" {
			s.node(c)
		} else {
			s.write(templateText(s.text(c)))
		}
		pos = c.EndByte()
	}
	s.write(templateText(string(s.src[pos:n.EndByte()])))
}

// templateText puts template literal text on one line. A line
// continuation (an unescaped backslash before a line break) is dropped;
// other line breaks become \n.
func templateText(text string) string {
	if !strings.ContainsAny(text, "\r\n") {
		return text
	}
	out := make([]byte, 0, len(text)+8)
	slashes := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch c {
		case '\r', '\n':
			if c == '\r' && i+1 < len(text) && text[i+1] == '\n' {
				i++
			}
			if slashes%2 == 1 {
				out = out[:len(out)-1]
			} else {
				out = append(out, '\\', 'n')
			}
			slashes = 0
			continue
		case '\\':
			slashes++
		default:
			slashes = 0
		}
		out = append(out, c)
	}
	return string(out)
}

func isDirective(n *sitter.Node) bool {
	if n.Type() != "expression_statement" || n.NamedChildCount() != 1 {
		return false
	}
	return n.NamedChild(0).Type() == "string"
}

var continuationReplacer = strings.NewReplacer("\\\r\n", "", "\\\n", "", "\\\r", "")

func stripContinuations(s string) string { return continuationReplacer.Replace(s) }

var newlineRun = regexp.MustCompile(`\s*[\r\n]+\s*`)

func collapseNewlines(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return newlineRun.ReplaceAllString(s, " ")
}
