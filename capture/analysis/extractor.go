package analysis

import (
	mapset "github.com/deckarep/golang-set"
	sitter "github.com/smacker/go-tree-sitter"
)

// expressionKinds 会被提取出来求值的节点类型
// 括号表达式、展开参数、模板插值只是包装，提取的是里面的表达式
var expressionKinds = mapset.NewSet(
	"identifier",
	"shorthand_property_identifier",
	"this",
	"number",
	"string",
	"template_string",
	"regex",
	"true",
	"false",
	"null",
	"undefined",
	"object",
	"array",
	"function",
	"function_expression",
	"arrow_function",
	"generator_function",
	"class",
	"call_expression",
	"new_expression",
	"member_expression",
	"subscript_expression",
	"assignment_expression",
	"augmented_assignment_expression",
	"await_expression",
	"unary_expression",
	"update_expression",
	"binary_expression",
	"ternary_expression",
	"sequence_expression",
	"yield_expression",
	"meta_property",
)

// namedDeclarations name 字段是绑定名而不是表达式的节点
var namedDeclarations = mapset.NewSet(
	"function_declaration",
	"generator_function_declaration",
	"function",
	"function_expression",
	"generator_function",
	"class_declaration",
	"class",
	"method_definition",
)

// 不需要进入的子树
var skippedKinds = mapset.NewSet(
	"comment",
	"import_statement",
	"import_clause",
	"export_clause",
	"namespace_export",
)

// Expression 语句中的一个子表达式
type Expression struct {
	Kind  string
	Text  string
	Start Position
	End   Position
	// Marker 标记位置，运算符、点号、左括号或者表达式起点
	Marker Position
	// MarkerColumn 标记在终端上的列
	MarkerColumn int
	Primary      bool

	startOffset  int
	endOffset    int
	markerOffset int
	node         *sitter.Node
}

// MarkerOffset 标记的字节偏移
func (x *Expression) MarkerOffset() int {
	return x.markerOffset
}

// Span 表达式的字节区间
func (x *Expression) Span() (int, int) {
	return x.startOffset, x.endOffset
}

type extractor struct {
	statement   *Statement
	expressions []*Expression
	primary     *Expression
}

// Extract
// 按后序遍历语句中的所有表达式（子表达式在前），计算每个表达式的标记位置
// 标记位置等于暂停位置的表达式是 primary，后遍历到的会覆盖先遍历到的
func Extract(statement *Statement) []*Expression {
	x := &extractor{statement: statement}
	x.walk(statement.node, false, true)
	return x.expressions
}

// walk 遍历节点，binding 表示当前处在绑定位置（声明名、参数、解构模式），emit 为 false 时只遍历子节点
func (x *extractor) walk(node *sitter.Node, binding bool, emit bool) {
	kind := node.Type()
	if skippedKinds.Contains(kind) {
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if !child.IsNamed() {
			continue
		}
		field := node.FieldNameForChild(i)
		childBinding, childEmit, skip := x.classify(node, field, child, binding)
		if skip {
			continue
		}
		x.walk(child, childBinding, childEmit)
	}
	if emit && !binding && expressionKinds.Contains(kind) {
		x.add(node)
	}
}

// classify 根据父节点和字段名决定子节点的处理方式
func (x *extractor) classify(parent *sitter.Node, field string, child *sitter.Node, binding bool) (childBinding bool, emit bool, skip bool) {
	parentKind, childKind := parent.Type(), child.Type()
	switch {
	case field == "label":
		return false, false, true
	case field == "source" && parentKind == "export_statement":
		return false, false, true
	case field == "name" && namedDeclarations.Contains(parentKind):
		if childKind == "computed_property_name" {
			return false, true, false
		}
		return false, false, true
	case field == "name" && parentKind == "variable_declarator":
		return true, true, false
	case field == "parameters" || field == "parameter":
		return true, true, false
	case field == "property" && (parentKind == "member_expression" || parentKind == "field_definition"):
		if childKind == "computed_property_name" {
			return false, true, false
		}
		return false, false, true
	case field == "key" && (parentKind == "pair" || parentKind == "pair_pattern"):
		if childKind == "computed_property_name" {
			return false, true, false
		}
		return false, false, true
	case field == "value" && parentKind == "pair_pattern":
		return true, true, false
	case field == "left" && (parentKind == "assignment_pattern" || parentKind == "object_assignment_pattern"):
		return true, true, false
	case field == "right" && (parentKind == "assignment_pattern" || parentKind == "object_assignment_pattern"):
		return false, true, false
	case field == "left" && (parentKind == "assignment_expression" ||
		parentKind == "augmented_assignment_expression" || parentKind == "for_in_statement"):
		switch childKind {
		case "identifier", "undefined":
			return false, false, true
		case "member_expression", "subscript_expression":
			// 被赋值的属性本身不求值，对象和下标照常求值
			return false, false, false
		case "object_pattern", "array_pattern":
			return true, true, false
		}
		return binding, true, false
	case childKind == "sequence_expression" && parentKind == "sequence_expression":
		return binding, false, false
	}
	return binding, true, false
}

func (x *extractor) add(node *sitter.Node) {
	s := x.statement
	start, end := int(node.StartByte()), int(node.EndByte())
	markerOffset := x.marker(node)
	expr := &Expression{
		Kind:         node.Type(),
		Text:         string(s.src[start:end]),
		Start:        s.Index.Position(start),
		End:          s.Index.Position(end),
		Marker:       s.Index.Position(markerOffset),
		MarkerColumn: s.Index.DisplayColumn(markerOffset),
		startOffset:  start,
		endOffset:    end,
		markerOffset: markerOffset,
		node:         node,
	}
	if x.matchesPaused(expr) {
		if x.primary != nil {
			x.primary.Primary = false
		}
		expr.Primary = true
		x.primary = expr
	}
	x.expressions = append(x.expressions, expr)
}

// marker 计算标记位置
// 属性访问：对象和属性之间的 "." "?." 或 "["
// 函数调用：被调函数和第一个参数之间的 "("
// 二元运算：左右操作数之间的运算符
// 其他：节点起点
func (x *extractor) marker(node *sitter.Node) int {
	tokens := x.statement.Tokens
	start := int(node.StartByte())
	var token *Token
	var ok bool
	switch node.Type() {
	case "member_expression":
		object, property := node.ChildByFieldName("object"), node.ChildByFieldName("property")
		if object != nil && property != nil {
			token, ok = tokens.Find(int(object.EndByte()), int(property.StartByte()), func(t *Token) bool {
				return t.Text == "." || t.Text == "?."
			})
		}
	case "subscript_expression":
		object, index := node.ChildByFieldName("object"), node.ChildByFieldName("index")
		if object != nil && index != nil {
			token, ok = tokens.Find(int(object.EndByte()), int(index.StartByte()), func(t *Token) bool {
				return t.Text == "["
			})
		}
	case "call_expression":
		callee := node.ChildByFieldName("function")
		if callee != nil {
			right := int(node.EndByte())
			if arguments := node.ChildByFieldName("arguments"); arguments != nil && arguments.NamedChildCount() > 0 {
				right = int(arguments.NamedChild(0).StartByte())
			}
			token, ok = tokens.Find(int(callee.EndByte()), right, func(t *Token) bool {
				return t.Kind == "("
			})
		}
	case "binary_expression":
		left, right, operator := node.ChildByFieldName("left"), node.ChildByFieldName("right"), node.ChildByFieldName("operator")
		if left != nil && right != nil && operator != nil {
			text := operator.Content(x.statement.src)
			token, ok = tokens.Find(int(left.EndByte()), int(right.StartByte()), func(t *Token) bool {
				return t.Text == text
			})
		}
	}
	if ok {
		return token.Start
	}
	return start
}

// matchesPaused 标记位置等于暂停位置；或者是函数调用，并且暂停位置在被调用的属性上（成员调用）或调用的起点上（普通调用）
func (x *extractor) matchesPaused(expr *Expression) bool {
	paused := x.statement.PausedOffset
	if expr.markerOffset == paused {
		return true
	}
	if expr.Kind != "call_expression" {
		return false
	}
	callee := expr.node.ChildByFieldName("function")
	if callee == nil {
		return false
	}
	switch callee.Type() {
	case "member_expression":
		if property := callee.ChildByFieldName("property"); property != nil {
			return int(property.StartByte()) == paused
		}
		return false
	case "subscript_expression":
		if index := callee.ChildByFieldName("index"); index != nil {
			return int(index.StartByte()) == paused
		}
		return false
	}
	return expr.startOffset == paused
}
