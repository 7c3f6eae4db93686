package render

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/fansqz/exception-context/constants"
	"github.com/fansqz/exception-context/inspector"
)

var functionNameRegexp = regexp.MustCompile(`^(?:async\s+)?function[\s*]+([^(\s]+)\s*\(`)

// FormatValue 把运行时的值描述格式化为单行预览
func (p *Palette) FormatValue(obj *inspector.RemoteObject) Preview {
	if obj == nil {
		return Preview{Text: "undefined", Color: p.Gray}
	}
	switch obj.Type {
	case constants.TypeString:
		var value string
		if err := json.Unmarshal(obj.Value, &value); err != nil {
			value = obj.Description
		}
		return Preview{Text: QuoteString(value), Color: p.Green}
	case constants.TypeUndefined:
		return Preview{Text: "undefined", Color: p.Gray}
	case constants.TypeNumber, constants.TypeBoolean:
		return Preview{Text: firstNonEmpty(obj.UnserializableValue, string(obj.Value), obj.Description), Color: p.Yellow}
	case constants.TypeBigint:
		return Preview{Text: firstNonEmpty(obj.UnserializableValue, obj.Description), Color: p.Yellow}
	case constants.TypeSymbol:
		return Preview{Text: firstNonEmpty(obj.Description, "Symbol()"), Color: p.Green}
	case constants.TypeFunction:
		return Preview{Text: "[" + firstNonEmpty(obj.ClassName, "Function") + functionName(obj.Description) + "]", Color: p.Cyan}
	case constants.TypeObject:
		switch obj.Subtype {
		case constants.SubtypeDate:
			return Preview{Text: firstLine(obj.Description), Color: p.Magenta}
		case constants.SubtypeRegexp:
			return Preview{Text: firstLine(obj.Description), Color: p.Red}
		case constants.SubtypeError:
			return Preview{Text: "[" + firstLine(firstNonEmpty(obj.Description, obj.ClassName, "Error")) + "]", Color: p.Cyan}
		case constants.SubtypeNull:
			return Preview{Text: "null", Color: p.Bold}
		}
		return Preview{Text: firstLine(firstNonEmpty(obj.Description, obj.ClassName, "{}"))}
	}
	return Preview{Text: string(obj.Type), Color: p.Magenta}
}

func functionName(description string) string {
	match := functionNameRegexp.FindStringSubmatch(description)
	if match == nil {
		return ""
	}
	return ": " + match[1]
}

// QuoteString 字符串字面量的展示形式
// 默认单引号；包含单引号但不包含双引号时用双引号；两种都有但没有反引号时用反引号
func QuoteString(s string) string {
	quote := byte('\'')
	if strings.ContainsRune(s, '\'') {
		if !strings.ContainsRune(s, '"') {
			quote = '"'
		} else if !strings.ContainsRune(s, '`') && !strings.Contains(s, "${") {
			quote = '`'
		}
	}
	var b strings.Builder
	b.WriteByte(quote)
	for _, r := range s {
		switch {
		case r == rune(quote):
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\\':
			b.WriteString(`\\`)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\b':
			b.WriteString(`\b`)
		case r == '\f':
			b.WriteString(`\f`)
		case r < 0x20 || r == 0x7f:
			b.WriteString(`\x`)
			b.WriteByte("0123456789ABCDEF"[r>>4])
			b.WriteByte("0123456789ABCDEF"[r&0xf])
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(quote)
	return b.String()
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
