package inspector

import (
	"encoding/json"
	"time"

	"github.com/fansqz/exception-context/constants"
)

// RemoteObject 运行时中一个值的描述
type RemoteObject struct {
	Type                constants.RemoteObjectType    `json:"type"`
	Subtype             constants.RemoteObjectSubtype `json:"subtype,omitempty"`
	ClassName           string                        `json:"className,omitempty"`
	Value               json.RawMessage               `json:"value,omitempty"`
	UnserializableValue string                        `json:"unserializableValue,omitempty"`
	Description         string                        `json:"description,omitempty"`
	// ObjectID 对象的句柄，原始值没有句柄
	ObjectID string `json:"objectId,omitempty"`
}

// Location 脚本中的位置，行列都从 0 开始
type Location struct {
	ScriptID     string `json:"scriptId"`
	LineNumber   int    `json:"lineNumber"`
	ColumnNumber int    `json:"columnNumber"`
}

// Scope 作用域，Object 是作用域变量所在的对象
type Scope struct {
	Type   constants.ScopeType `json:"type"`
	Object RemoteObject        `json:"object"`
	Name   string              `json:"name,omitempty"`
}

// CallFrame 暂停时的一个栈帧
type CallFrame struct {
	CallFrameID  string   `json:"callFrameId"`
	FunctionName string   `json:"functionName"`
	Location     Location `json:"location"`
	URL          string   `json:"url"`
	ScopeChain   []Scope  `json:"scopeChain"`
}

// RuntimeCallFrame 异步调用栈中的栈帧，没有作用域信息
type RuntimeCallFrame struct {
	FunctionName string `json:"functionName"`
	ScriptID     string `json:"scriptId"`
	URL          string `json:"url"`
	LineNumber   int    `json:"lineNumber"`
	ColumnNumber int    `json:"columnNumber"`
}

// StackTrace 异步调用栈，通过 Parent 向上串联
type StackTrace struct {
	Description string             `json:"description,omitempty"`
	CallFrames  []RuntimeCallFrame `json:"callFrames"`
	Parent      *StackTrace        `json:"parent,omitempty"`
}

// PausedEvent
// 程序暂停事件，Data 在异常暂停时是被抛出的值
type PausedEvent struct {
	CallFrames      []CallFrame                `json:"callFrames"`
	Reason          constants.PausedReasonType `json:"reason"`
	Data            *RemoteObject              `json:"data,omitempty"`
	AsyncStackTrace *StackTrace                `json:"asyncStackTrace,omitempty"`
}

// ScriptParsedEvent 运行时加载了一个脚本
type ScriptParsedEvent struct {
	ScriptID     string `json:"scriptId"`
	URL          string `json:"url"`
	SourceMapURL string `json:"sourceMapURL,omitempty"`
}

// ResumedEvent 程序恢复执行
type ResumedEvent struct {
}

// DisconnectedEvent 连接断开，Err 为断开原因，主动关闭时为 nil
type DisconnectedEvent struct {
	Err error
}

// PropertyDescriptor 对象的一个属性
type PropertyDescriptor struct {
	Name  string        `json:"name"`
	Value *RemoteObject `json:"value,omitempty"`
}

// EvaluateParams 栈帧求值参数
type EvaluateParams struct {
	CallFrameID       string
	Expression        string
	ThrowOnSideEffect bool
	ReturnByValue     bool
	// Timeout 为 0 表示不限制
	Timeout time.Duration
}

// CallArgument 调用参数，Value 和 ObjectID 二选一
type CallArgument struct {
	Value    interface{} `json:"value,omitempty"`
	ObjectID string      `json:"objectId,omitempty"`
}

// CallFunctionParams 以对象为 this 调用函数的参数
type CallFunctionParams struct {
	ObjectID            string
	FunctionDeclaration string
	Arguments           []CallArgument
	ReturnByValue       bool
	ThrowOnSideEffect   bool
	Timeout             time.Duration
}

// ExceptionDetails 求值过程中抛出的异常
type ExceptionDetails struct {
	ExceptionID  int           `json:"exceptionId"`
	Text         string        `json:"text"`
	LineNumber   int           `json:"lineNumber"`
	ColumnNumber int           `json:"columnNumber"`
	Exception    *RemoteObject `json:"exception,omitempty"`
}

// EvaluateResult 求值结果，求值抛出异常时 ExceptionDetails 不为空
type EvaluateResult struct {
	Result           *RemoteObject     `json:"result"`
	ExceptionDetails *ExceptionDetails `json:"exceptionDetails,omitempty"`
}
