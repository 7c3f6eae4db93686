package analysis

import (
	"context"
	"fmt"
	"strings"

	e "github.com/fansqz/exception-context/error"
	"github.com/fansqz/exception-context/utils"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// statementKinds 语句节点的类型，函数体（statement_block）也算语句
var statementKinds = utils.List2set([]string{
	"expression_statement",
	"lexical_declaration",
	"variable_declaration",
	"statement_block",
	"if_statement",
	"switch_statement",
	"for_statement",
	"for_in_statement",
	"while_statement",
	"do_statement",
	"try_statement",
	"with_statement",
	"break_statement",
	"continue_statement",
	"return_statement",
	"throw_statement",
	"empty_statement",
	"labeled_statement",
	"debugger_statement",
	"function_declaration",
	"generator_function_declaration",
	"class_declaration",
	"import_statement",
	"export_statement",
})

// Statement 包含暂停位置的最小语句
type Statement struct {
	Kind          string
	Start         int
	End           int
	StartPosition Position
	EndPosition   Position
	// Source 语句的源码
	Source string
	// PausedOffset 暂停位置的字节偏移
	PausedOffset int

	Index  *Index
	Tokens *TokenStream

	src  []byte
	tree *sitter.Tree
	node *sitter.Node
}

// Locate
// 解析源码，找到起点正好在 paused 上的 token，返回包含它的最小语句
// 源码有语法错误时返回 ErrParseFailed，找不到 token 或语句时返回 ErrNotAvailable
func Locate(ctx context.Context, source string, paused Position) (*Statement, error) {
	src := []byte(source)
	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", e.ErrParseFailed, err)
	}
	root := tree.RootNode()
	if root.HasError() {
		tree.Close()
		return nil, e.ErrParseFailed
	}

	tokens := collectTokens(root, src)
	index := NewIndex(src)
	offset := index.Offset(paused)
	if offset < 0 {
		tree.Close()
		return nil, fmt.Errorf("%w: position %d:%d is outside the source", e.ErrNotAvailable, paused.Line, paused.Column)
	}
	if _, ok := tokens.At(offset); !ok {
		tree.Close()
		return nil, fmt.Errorf("%w: no token starts at %d:%d", e.ErrNotAvailable, paused.Line, paused.Column)
	}

	node := innermostStatement(root, offset)
	if node == nil {
		tree.Close()
		return nil, fmt.Errorf("%w: no statement around %d:%d", e.ErrNotAvailable, paused.Line, paused.Column)
	}

	start, end := int(node.StartByte()), int(node.EndByte())
	return &Statement{
		Kind:          node.Type(),
		Start:         start,
		End:           end,
		StartPosition: index.Position(start),
		EndPosition:   index.Position(end),
		Source:        string(src[start:end]),
		PausedOffset:  offset,
		Index:         index,
		Tokens:        tokens,
		src:           src,
		tree:          tree,
		node:          node,
	}, nil
}

// Close 释放语法树，之后不能再调用 Extract
func (s *Statement) Close() {
	if s.tree != nil {
		s.tree.Close()
		s.tree = nil
	}
}

// Lines 语句按行拆开后的显示文本
// 第一行前面补上语句起点之前的空白，tab 显示为一个空格
func (s *Statement) Lines() []string {
	prefix := strings.Repeat(" ", s.Index.DisplayColumn(s.Start))
	text := strings.ReplaceAll(s.Source, "\r", "")
	text = strings.ReplaceAll(text, "\t", " ")
	return strings.Split(prefix+text, "\n")
}

// collectTokens 收集所有叶子节点，注释不算 token
func collectTokens(root *sitter.Node, src []byte) *TokenStream {
	tokens := NewTokenStream()
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		count := int(node.ChildCount())
		if count == 0 {
			if node.Type() == "comment" || node.Type() == "html_comment" || node.IsMissing() {
				continue
			}
			if node.EndByte() > node.StartByte() {
				tokens.Add(&Token{
					Kind:  node.Type(),
					Text:  node.Content(src),
					Start: int(node.StartByte()),
					End:   int(node.EndByte()),
				})
			}
			continue
		}
		for i := count - 1; i >= 0; i-- {
			stack = append(stack, node.Child(i))
		}
	}
	return tokens
}

// innermostStatement 从根节点向下找包含 offset 的节点，返回最深的语句，区间左闭右开
func innermostStatement(root *sitter.Node, offset int) *sitter.Node {
	var found *sitter.Node
	node := root
	for node != nil {
		var next *sitter.Node
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			if int(child.StartByte()) <= offset && offset < int(child.EndByte()) {
				next = child
				break
			}
		}
		if next != nil && statementKinds.Contains(next.Type()) {
			found = next
		}
		node = next
	}
	return found
}
