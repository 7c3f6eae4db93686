package render

import (
	"github.com/fatih/color"
)

// Palette 渲染使用的颜色，关闭颜色后输出纯文本，内容不变
type Palette struct {
	Gray        *color.Color
	Yellow      *color.Color
	Green       *color.Color
	Cyan        *color.Color
	Magenta     *color.Color
	Red         *color.Color
	Bold        *color.Color
	LineNumber  *color.Color
	ErrorGutter *color.Color
}

func NewPalette(enabled bool) *Palette {
	p := &Palette{
		Gray:        color.New(color.FgHiBlack),
		Yellow:      color.New(color.FgYellow),
		Green:       color.New(color.FgGreen),
		Cyan:        color.New(color.FgCyan),
		Magenta:     color.New(color.FgMagenta),
		Red:         color.New(color.FgRed),
		Bold:        color.New(color.Bold),
		LineNumber:  color.New(color.BgWhite, color.FgBlack),
		ErrorGutter: color.New(color.BgRed),
	}
	for _, c := range []*color.Color{p.Gray, p.Yellow, p.Green, p.Cyan, p.Magenta, p.Red, p.Bold, p.LineNumber, p.ErrorGutter} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Plain 不带颜色的调色板
func Plain() *Palette {
	return NewPalette(false)
}

// Preview 一个值的单行预览，Text 是纯文本，Color 为空时不上色
type Preview struct {
	Text  string
	Color *color.Color
}

func (v Preview) String() string {
	if v.Color == nil {
		return v.Text
	}
	return v.Color.Sprint(v.Text)
}
