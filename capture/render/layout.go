package render

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"github.com/fansqz/exception-context/constants"
)

// Placement 要放到注释行上的一个值
type Placement struct {
	// Column 标记在终端上的列
	Column int
	// Expression 表达式源码，列相同时短的先放
	Expression string
	Preview    Preview
	Primary    bool
}

// cell 终端上的一格，宽字符的第二格是 cont
type cell struct {
	text  string
	color *color.Color
	cont  bool
}

func (c cell) blank() bool {
	return !c.cont && (c.text == "" || c.text == " ")
}

var space = cell{text: " "}

type row []cell

// blank [from, to] 之间都是空白，超出行尾也算空白
func (r row) blank(from, to int) bool {
	for i := from; i <= to && i < len(r); i++ {
		if i >= 0 && !r[i].blank() {
			return false
		}
	}
	return true
}

// write 从 column 开始覆盖写入，行不够长时先用空格补齐，被截断的宽字符换成空格
func (r row) write(column int, cells []cell) row {
	end := column + len(cells)
	for len(r) < end {
		r = append(r, space)
	}
	if column > 0 && r[column].cont {
		r[column-1] = space
	}
	if end < len(r) && r[end].cont {
		r[end] = space
	}
	copy(r[column:end], cells)
	return r
}

func (r row) render() string {
	var b strings.Builder
	var group strings.Builder
	var current *color.Color
	flush := func() {
		if group.Len() == 0 {
			return
		}
		if current == nil {
			b.WriteString(group.String())
		} else {
			b.WriteString(current.Sprint(group.String()))
		}
		group.Reset()
	}
	for _, c := range r {
		if c.cont {
			continue
		}
		if c.color != current {
			flush()
			current = c.color
		}
		group.WriteString(c.text)
	}
	flush()
	return b.String()
}

// toCells 把预览拆成格子，零宽字符并入前一格，tab 显示为空格
func toCells(preview Preview) []cell {
	cells := make([]cell, 0, len(preview.Text))
	last := -1
	for _, r := range preview.Text {
		if r == '\t' {
			r = ' '
		}
		width := runewidth.RuneWidth(r)
		if width == 0 && last >= 0 {
			cells[last].text += string(r)
			continue
		}
		last = len(cells)
		cells = append(cells, cell{text: string(r), color: preview.Color})
		if width == 2 {
			cells = append(cells, cell{color: preview.Color, cont: true})
		}
	}
	return cells
}

// Layout 一行源码下面的注释行
type Layout struct {
	rows []row
	// PrimaryRow primary 值所在的行，没有时为 -1
	PrimaryRow int
}

// Arrange
// 按列从右到左放置所有值，列相同时表达式短的先放
// 最后一行从行首到值的结尾（多留一格）都是空白时直接放入，否则新开一行
// 放入后在上面所有行的这一列画上引导线，已经有内容的格子不覆盖
func (p *Palette) Arrange(placements []Placement) *Layout {
	sorted := make([]Placement, len(placements))
	copy(sorted, placements)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Column == sorted[j].Column {
			return utf8.RuneCountInString(sorted[i].Expression) < utf8.RuneCountInString(sorted[j].Expression)
		}
		return sorted[i].Column > sorted[j].Column
	})

	layout := &Layout{rows: []row{{}, {}}, PrimaryRow: -1}
	for _, placement := range sorted {
		value := toCells(placement.Preview)
		column := placement.Column
		last := len(layout.rows) - 1
		if !layout.rows[last].blank(0, column+len(value)) {
			layout.rows = append(layout.rows, row{})
			last++
		}
		if placement.Primary {
			layout.PrimaryRow = last
		}

		guide := cell{text: constants.GuideGlyph}
		if placement.Primary {
			guide.color = p.Red
		}
		for i := 0; i < last; i++ {
			if column < len(layout.rows[i]) && !layout.rows[i][column].blank() {
				continue
			}
			layout.rows[i] = layout.rows[i].write(column, []cell{guide})
		}
		layout.rows[last] = layout.rows[last].write(column, value)
	}
	return layout
}

// Rows 渲染后的每一行
func (l *Layout) Rows() []string {
	rows := make([]string, 0, len(l.rows))
	for _, r := range l.rows {
		rows = append(rows, r.render())
	}
	return rows
}
