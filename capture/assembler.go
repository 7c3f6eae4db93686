package capture

import (
	"fmt"
	"strings"

	"github.com/fansqz/exception-context/capture/render"
	"github.com/fansqz/exception-context/inspector"
)

// Assembler 把调用栈、作用域和语句拼成最终的上下文文本
type Assembler struct {
	palette *render.Palette
	// scriptURL 栈帧没有 url 时按脚本 id 查找
	scriptURL  func(scriptID string) string
	sourceMaps *SourceMaps
}

func NewAssembler(palette *render.Palette, scriptURL func(scriptID string) string, sourceMaps *SourceMaps) *Assembler {
	return &Assembler{palette: palette, scriptURL: scriptURL, sourceMaps: sourceMaps}
}

// Stacks
// Sync:
//
//	url:line:column
//
// 之后每一段异步调用栈以它的描述作为标题，沿 parent 一直向上
func (a *Assembler) Stacks(frames []inspector.CallFrame, asyncTrace *inspector.StackTrace) string {
	var b strings.Builder
	b.WriteString("Sync:")
	for _, frame := range frames {
		location := frame.Location
		b.WriteString("\n  ")
		b.WriteString(a.frameLine(frame.URL, location.ScriptID, location.LineNumber, location.ColumnNumber))
	}
	for trace := asyncTrace; trace != nil; trace = trace.Parent {
		label := trace.Description
		if label == "" {
			label = "Async"
		}
		b.WriteString("\n\n")
		b.WriteString(label)
		b.WriteString(":")
		for _, frame := range trace.CallFrames {
			b.WriteString("\n  ")
			b.WriteString(a.frameLine(frame.URL, frame.ScriptID, frame.LineNumber, frame.ColumnNumber))
		}
	}
	return b.String()
}

func (a *Assembler) frameLine(url, scriptID string, line, column int) string {
	if url == "" && a.scriptURL != nil {
		url = a.scriptURL(scriptID)
	}
	text := fmt.Sprintf("%s:%d:%d", url, line+1, column+1)
	if a.sourceMaps != nil {
		if original, ok := a.sourceMaps.Resolve(scriptID, line, column); ok {
			text += " (" + original + ")"
		}
	}
	return text
}

// Scopes 每个作用域以类型为标题，下面每行一个变量，没有变量的作用域不输出
func (a *Assembler) Scopes(listings []*ScopeListing) string {
	var blocks []string
	for _, listing := range listings {
		if listing == nil || len(listing.Properties) == 0 {
			continue
		}
		var b strings.Builder
		b.WriteString(a.palette.Bold.Sprint(string(listing.Type) + ":"))
		for _, property := range listing.Properties {
			b.WriteString("\n  ")
			b.WriteString(property.Name)
			b.WriteString(": ")
			b.WriteString(a.palette.FormatValue(property.Value).String())
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n")
}

// Assemble 用空行分隔各部分，空的部分跳过，以换行结尾
func (a *Assembler) Assemble(sections ...string) string {
	var parts []string
	for _, section := range sections {
		if section != "" {
			parts = append(parts, section)
		}
	}
	return strings.Join(parts, "\n\n") + "\n"
}
