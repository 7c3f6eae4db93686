package protocol

// 支持的方法，按 domain 分组
const (
	DebuggerEnable                 = "Debugger.enable"
	DebuggerDisable                = "Debugger.disable"
	DebuggerSetPauseOnExceptions   = "Debugger.setPauseOnExceptions"
	DebuggerSetAsyncCallStackDepth = "Debugger.setAsyncCallStackDepth"
	DebuggerGetScriptSource        = "Debugger.getScriptSource"
	DebuggerEvaluateOnCallFrame    = "Debugger.evaluateOnCallFrame"
	DebuggerResume                 = "Debugger.resume"

	RuntimeEnable                  = "Runtime.enable"
	RuntimeDisable                 = "Runtime.disable"
	RuntimeGetProperties           = "Runtime.getProperties"
	RuntimeCallFunctionOn          = "Runtime.callFunctionOn"
	RuntimeEvaluate                = "Runtime.evaluate"
	RuntimeRunIfWaitingForDebugger = "Runtime.runIfWaitingForDebugger"
)

// Request 发送给运行时的请求
// id 由客户端单调递增生成，响应通过 id 匹配
type Request struct {
	ID     int64       `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}
