package protocol

import "encoding/json"

// 运行时主动推送的事件
const (
	DebuggerPausedEvent       = "Debugger.paused"
	DebuggerResumedEvent      = "Debugger.resumed"
	DebuggerScriptParsedEvent = "Debugger.scriptParsed"
)

// Event 事件，params 延迟到具体的处理方解析
type Event struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}
