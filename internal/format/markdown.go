// ABOUTME: Converts model markdown into Telegram MarkdownV2 by walking a goldmark AST
// ABOUTME: Text is escaped per MarkdownV2 rules, code keeps only backtick and backslash escapes

package format

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))

// MarkdownV2 renders CommonMark source as Telegram MarkdownV2.
func MarkdownV2(source string) string {
	src := []byte(source)
	doc := markdown.Parser().Parse(text.NewReader(src))
	c := &converter{src: src}
	return strings.TrimRight(c.blocks(doc, "\n\n"), "\n")
}

type converter struct {
	src []byte
}

func (c *converter) blocks(parent ast.Node, sep string) string {
	var parts []string
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		if s := c.block(n); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, sep)
}

func (c *converter) block(n ast.Node) string {
	switch node := n.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		return c.inlines(n)
	case *ast.Heading:
		return "*" + c.inlines(n) + "*"
	case *ast.ThematicBreak:
		return "——————"
	case *ast.FencedCodeBlock:
		return fence(string(node.Language(c.src)), c.lines(n))
	case *ast.CodeBlock:
		return fence("", c.lines(n))
	case *ast.Blockquote:
		inner := c.blocks(n, "\n")
		return ">" + strings.ReplaceAll(inner, "\n", "\n>")
	case *ast.List:
		return c.list(node)
	case *ast.HTMLBlock:
		return EscapeText(strings.TrimRight(c.lines(n), "\n"))
	default:
		if n.HasChildren() {
			return c.blocks(n, "\n\n")
		}
		return ""
	}
}

func (c *converter) list(list *ast.List) string {
	index := list.Start
	if index == 0 {
		index = 1
	}

	var items []string
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		marker := "•"
		if list.IsOrdered() {
			marker = fmt.Sprintf("%d\\.", index)
			index++
		}
		body := c.blocks(item, "\n")
		items = append(items, marker+" "+strings.ReplaceAll(body, "\n", "\n  "))
	}

	sep := "\n"
	if !list.IsTight {
		sep = "\n\n"
	}
	return strings.Join(items, sep)
}

func (c *converter) inlines(parent ast.Node) string {
	var b strings.Builder
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		c.inline(&b, n)
	}
	return b.String()
}

func (c *converter) inline(b *strings.Builder, n ast.Node) {
	switch node := n.(type) {
	case *ast.Text:
		b.WriteString(EscapeText(unescape(node.Segment.Value(c.src))))
		if node.HardLineBreak() || node.SoftLineBreak() {
			b.WriteString("\n")
		}
	case *ast.String:
		b.WriteString(EscapeText(unescape(node.Value)))
	case *ast.CodeSpan:
		b.WriteString("`" + escapeCode(c.raw(n)) + "`")
	case *ast.Emphasis:
		mark := "_"
		if node.Level >= 2 {
			mark = "*"
		}
		b.WriteString(mark + c.inlines(n) + mark)
	case *extast.Strikethrough:
		b.WriteString("~" + c.inlines(n) + "~")
	case *ast.Link:
		b.WriteString("[" + c.inlines(n) + "](" + escapeURL(string(node.Destination)) + ")")
	case *ast.AutoLink:
		label := string(node.Label(c.src))
		b.WriteString("[" + EscapeText(label) + "](" + escapeURL(string(node.URL(c.src))) + ")")
	case *ast.Image:
		b.WriteString("[" + EscapeText(c.raw(n)) + "](" + escapeURL(string(node.Destination)) + ")")
	case *ast.RawHTML:
		for i := 0; i < node.Segments.Len(); i++ {
			seg := node.Segments.At(i)
			b.WriteString(EscapeText(string(seg.Value(c.src))))
		}
	default:
		if n.HasChildren() {
			b.WriteString(c.inlines(n))
		}
	}
}

// raw concatenates the literal text below n without markdown processing
func (c *converter) raw(n ast.Node) string {
	var b strings.Builder
	_ = ast.Walk(n, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := child.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(c.src))
			if t.SoftLineBreak() {
				b.WriteString(" ")
			}
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

func (c *converter) lines(n ast.Node) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(c.src))
	}
	return b.String()
}

func fence(lang, code string) string {
	if code != "" && !strings.HasSuffix(code, "\n") {
		code += "\n"
	}
	return "```" + lang + "\n" + escapeCode(code) + "```"
}

// unescape resolves backslash escapes and entity references the way an HTML renderer would
func unescape(b []byte) string {
	b = util.UnescapePunctuations(b)
	b = util.ResolveNumericReferences(b)
	b = util.ResolveEntityNames(b)
	return string(b)
}
