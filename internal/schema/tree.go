package schema

import (
	"fmt"
	"strings"

	"vnml-server/internal/markup"
	"vnml-server/shared/models"
)

// rule описывает допустимые дочерние элементы и атрибуты элемента.
type rule struct {
	children map[string]bool
	attrs    map[string]bool
	text     bool
}

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// node - элемент дерева, построенного из токенов.
type node struct {
	name     string
	attrs    []markup.Attr
	pos      markup.Pos
	children []*node
	text     strings.Builder
}

func (n *node) attr(name string) (string, bool) {
	for _, a := range n.attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

func (n *node) content() string {
	return strings.TrimSpace(n.text.String())
}

// treeError - структурная ошибка построения дерева; вызывающий код превращает ее в свой тип.
type treeError struct {
	kind      models.SchemaErrorKind
	element   string
	expected  string
	detail    string
	pos       markup.Pos
	truncated bool
}

func toPosition(p markup.Pos) models.Position {
	return models.Position{Line: p.Line, Col: p.Col, Offset: p.Offset}
}

func (e *treeError) schemaError() *models.SchemaError {
	return &models.SchemaError{
		Kind:      e.kind,
		Element:   e.element,
		Expected:  e.expected,
		Pos:       toPosition(e.pos),
		Detail:    e.detail,
		Truncated: e.truncated,
	}
}

func (e *treeError) setupError() *models.SetupError {
	detail := string(e.kind)
	if e.detail != "" {
		detail += ": " + e.detail
	}
	if e.expected != "" {
		detail += " (expected " + e.expected + ")"
	}
	return &models.SetupError{Element: e.element, Pos: toPosition(e.pos), Detail: detail}
}

// buildTree строит дерево элементов. Неизвестные элементы и атрибуты, текст вне
// текстовых элементов и несовпадающие закрывающие теги - жесткие ошибки.
func buildTree(tokens []markup.Token, rules map[string]rule, top map[string]bool) (*node, []string, *treeError) {
	root := &node{name: ""}
	stack := []*node{root}
	var comments []string

	allowedChildren := func(parent *node) map[string]bool {
		if parent == root {
			return top
		}
		return rules[parent.name].children
	}

	for _, tok := range tokens {
		parent := stack[len(stack)-1]

		if tok.Partial {
			return nil, nil, &treeError{
				kind:      models.SchemaMissingRequired,
				element:   truncatedElement(tok, parent),
				expected:  "complete element",
				detail:    "fragment ends inside an unfinished " + tok.Kind.String(),
				pos:       tok.Pos,
				truncated: true,
			}
		}
		if tok.Malformed != "" {
			return nil, nil, &treeError{
				kind:    models.SchemaUnexpectedElement,
				element: tok.Name,
				detail:  "malformed markup: " + tok.Malformed,
				pos:     tok.Pos,
			}
		}

		switch tok.Kind {
		case markup.Comment:
			comments = append(comments, strings.TrimSpace(tok.Text))

		case markup.Text:
			if tok.Blank {
				continue
			}
			if parent == root || !rules[parent.name].text {
				return nil, nil, &treeError{
					kind:    models.SchemaUnexpectedElement,
					element: elementName(parent),
					detail:  fmt.Sprintf("unexpected text %q", shorten(strings.TrimSpace(tok.Text))),
					pos:     tok.Pos,
				}
			}
			parent.text.WriteString(tok.Text)

		case markup.OpenTag, markup.SelfClosingTag:
			r, known := rules[tok.Name]
			if !known || !allowedChildren(parent)[tok.Name] {
				detail := "unknown element"
				if known {
					detail = fmt.Sprintf("<%s> is not allowed inside %s", tok.Name, elementName(parent))
				}
				return nil, nil, &treeError{
					kind:    models.SchemaUnexpectedElement,
					element: tok.Name,
					detail:  detail,
					pos:     tok.Pos,
				}
			}
			seen := make(map[string]bool, len(tok.Attrs))
			for _, a := range tok.Attrs {
				if !r.attrs[a.Name] {
					return nil, nil, &treeError{
						kind:    models.SchemaIllegalAttribute,
						element: tok.Name,
						detail:  fmt.Sprintf("attribute %q is not allowed", a.Name),
						pos:     a.Pos,
					}
				}
				if seen[a.Name] {
					return nil, nil, &treeError{
						kind:    models.SchemaIllegalAttribute,
						element: tok.Name,
						detail:  fmt.Sprintf("duplicate attribute %q", a.Name),
						pos:     a.Pos,
					}
				}
				seen[a.Name] = true
			}
			n := &node{name: tok.Name, attrs: tok.Attrs, pos: tok.Pos}
			parent.children = append(parent.children, n)
			if tok.Kind == markup.OpenTag {
				stack = append(stack, n)
			}

		case markup.CloseTag:
			if parent == root || parent.name != tok.Name {
				return nil, nil, &treeError{
					kind:     models.SchemaUnexpectedElement,
					element:  tok.Name,
					expected: closingExpectation(parent),
					detail:   "mismatched closing tag",
					pos:      tok.Pos,
				}
			}
			stack = stack[:len(stack)-1]
		}
	}

	if len(stack) > 1 {
		open := stack[len(stack)-1]
		return nil, nil, &treeError{
			kind:      models.SchemaMissingRequired,
			element:   open.name,
			expected:  "</" + open.name + ">",
			detail:    "fragment ends before the element is closed",
			pos:       open.pos,
			truncated: true,
		}
	}
	return root, comments, nil
}

func truncatedElement(tok markup.Token, parent *node) string {
	if tok.Name != "" {
		return tok.Name
	}
	return elementName(parent)
}

func elementName(n *node) string {
	if n.name == "" {
		return "fragment"
	}
	return n.name
}

func closingExpectation(n *node) string {
	if n.name == "" {
		return "no closing tag at top level"
	}
	return "</" + n.name + ">"
}

func shorten(s string) string {
	const maxLen = 40
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

// splitKeywords разбивает список ключевых слов через запятую.
func splitKeywords(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
