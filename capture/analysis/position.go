package analysis

import (
	"sort"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
)

// Position 源码中的位置，行从 0 开始，列是从 0 开始的 UTF-16 码元数（和运行时上报的一致）
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Index 字节偏移、行列、显示列之间的换算
type Index struct {
	src        []byte
	lineStarts []int
}

func NewIndex(src []byte) *Index {
	lineStarts := []int{0}
	for i, b := range src {
		if b == '\n' {
			lineStarts = append(lineStarts, i+1)
		}
	}
	return &Index{src: src, lineStarts: lineStarts}
}

// LineCount 行数
func (x *Index) LineCount() int {
	return len(x.lineStarts)
}

// lineEnd 行尾的偏移，不包含换行符
func (x *Index) lineEnd(line int) int {
	end := len(x.src)
	if line+1 < len(x.lineStarts) {
		end = x.lineStarts[line+1] - 1
	}
	if end > x.lineStarts[line] && x.src[end-1] == '\r' {
		end--
	}
	return end
}

// Line 第 line 行的内容
func (x *Index) Line(line int) string {
	if line < 0 || line >= len(x.lineStarts) {
		return ""
	}
	return string(x.src[x.lineStarts[line]:x.lineEnd(line)])
}

// Offset 位置对应的字节偏移，位置不在任何字符的起点上时返回 -1
func (x *Index) Offset(pos Position) int {
	if pos.Line < 0 || pos.Line >= len(x.lineStarts) || pos.Column < 0 {
		return -1
	}
	offset := x.lineStarts[pos.Line]
	end := x.lineEnd(pos.Line)
	column := 0
	for offset < end && column < pos.Column {
		r, size := utf8.DecodeRune(x.src[offset:end])
		column += utf16Len(r)
		offset += size
	}
	if column != pos.Column {
		return -1
	}
	return offset
}

// Position 字节偏移对应的位置
func (x *Index) Position(offset int) Position {
	line := sort.Search(len(x.lineStarts), func(i int) bool {
		return x.lineStarts[i] > offset
	}) - 1
	if line < 0 {
		line = 0
	}
	column := 0
	for _, r := range string(x.src[x.lineStarts[line]:offset]) {
		column += utf16Len(r)
	}
	return Position{Line: line, Column: column}
}

// DisplayColumn 偏移在终端上所在的列，tab 按一个空格算
func (x *Index) DisplayColumn(offset int) int {
	line := x.Position(offset).Line
	return DisplayWidth(string(x.src[x.lineStarts[line]:offset]))
}

// DisplayWidth 字符串在终端上的宽度，tab 按一个空格算
func DisplayWidth(s string) int {
	width := 0
	for _, r := range s {
		if r == '\t' {
			width++
			continue
		}
		width += runewidth.RuneWidth(r)
	}
	return width
}

func utf16Len(r rune) int {
	if r >= 0x10000 {
		return 2
	}
	return 1
}
