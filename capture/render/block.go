package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fansqz/exception-context/constants"
)

// Annotation 放在源码某一行下面的值，Line 是从 0 开始的源码行号
type Annotation struct {
	Line int
	Placement
}

// Block 一条语句的源码和它的注释
type Block struct {
	// FirstLine 语句第一行的行号，从 0 开始
	FirstLine int
	// Lines 每一行的显示文本，第一行已经补齐缩进
	Lines       []string
	Annotations []Annotation
}

// RenderBlock
// 每行源码前面是行号，有注释的行下面跟着注释行和一个空的 gutter 行
// primary 值所在的注释行用 🐛 标出
func (p *Palette) RenderBlock(block *Block) string {
	maxLen := len(strconv.Itoa(block.FirstLine + len(block.Lines)))
	gutter := strings.Repeat(" ", maxLen+2) + constants.GutterGlyph
	errorGutter := p.ErrorGutter.Sprint(strings.Repeat(" ", maxLen-1)+constants.BugGlyph+" ") + constants.GutterGlyph

	lines := make([]string, 0, len(block.Lines))
	for idx, source := range block.Lines {
		line := block.FirstLine + idx
		paddedNumber := fmt.Sprintf("%*d", maxLen, line+1)
		formatted := p.LineNumber.Sprint(" "+paddedNumber+" ") + constants.GutterGlyph + source

		var placements []Placement
		for _, annotation := range block.Annotations {
			if annotation.Line == line {
				placements = append(placements, annotation.Placement)
			}
		}
		if len(placements) == 0 {
			lines = append(lines, formatted)
			continue
		}

		layout := p.Arrange(placements)
		var b strings.Builder
		b.WriteString(formatted)
		for i, annotationRow := range layout.Rows() {
			b.WriteString("\n")
			if i == layout.PrimaryRow {
				b.WriteString(errorGutter)
			} else {
				b.WriteString(gutter)
			}
			b.WriteString(annotationRow)
		}
		b.WriteString("\n")
		b.WriteString(gutter)
		lines = append(lines, b.String())
	}
	return strings.Join(lines, "\n")
}
