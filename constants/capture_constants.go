package constants

// PauseOnExceptionsState 异常暂停模式
type PauseOnExceptionsState string

const (
	PauseOnAll      PauseOnExceptionsState = "all"
	PauseOnUncaught PauseOnExceptionsState = "uncaught"
	PauseOnNone     PauseOnExceptionsState = "none"
)

// PausedReasonType 程序暂停的原因，只有异常相关的暂停会被捕获
type PausedReasonType string

const (
	PausedException        PausedReasonType = "exception"
	PausedPromiseRejection PausedReasonType = "promiseRejection"
	PausedOther            PausedReasonType = "other"
	PausedBreakOnStart     PausedReasonType = "Break on start"
)

// IsCapturable 判断暂停原因是否需要捕获上下文
func (p PausedReasonType) IsCapturable() bool {
	return p == PausedException || p == PausedPromiseRejection
}

// ScopeType 作用域类型
//
// global: 全局作用域，捕获时跳过。
// local: 当前函数的局部变量。
// closure: 闭包捕获的外层变量。
// block: let/const 所在的块级作用域。
// script: 顶层 let/const。
// module: ES module 的顶层作用域。
// catch / with / eval: 对应语句引入的作用域。
type ScopeType string

const (
	ScopeGlobal  ScopeType = "global"
	ScopeLocal   ScopeType = "local"
	ScopeClosure ScopeType = "closure"
	ScopeBlock   ScopeType = "block"
	ScopeScript  ScopeType = "script"
	ScopeModule  ScopeType = "module"
	ScopeCatch   ScopeType = "catch"
	ScopeWith    ScopeType = "with"
	ScopeEval    ScopeType = "eval"
)

// RemoteObjectType 远程值的类型
type RemoteObjectType string

const (
	TypeObject    RemoteObjectType = "object"
	TypeFunction  RemoteObjectType = "function"
	TypeUndefined RemoteObjectType = "undefined"
	TypeString    RemoteObjectType = "string"
	TypeNumber    RemoteObjectType = "number"
	TypeBoolean   RemoteObjectType = "boolean"
	TypeSymbol    RemoteObjectType = "symbol"
	TypeBigint    RemoteObjectType = "bigint"
)

// RemoteObjectSubtype 对象的子类型
type RemoteObjectSubtype string

const (
	SubtypeNull   RemoteObjectSubtype = "null"
	SubtypeRegexp RemoteObjectSubtype = "regexp"
	SubtypeDate   RemoteObjectSubtype = "date"
	SubtypeMap    RemoteObjectSubtype = "map"
	SubtypeError  RemoteObjectSubtype = "error"
)

// EvaluationOutcome 单个表达式求值的结果分类
type EvaluationOutcome string

const (
	// OutcomeValue 求值成功，或者求值抛出了异常（异常本身作为值展示）
	OutcomeValue EvaluationOutcome = "value"
	// OutcomeSideEffect 运行时检测到可能的副作用，拒绝求值
	OutcomeSideEffect EvaluationOutcome = "sideEffect"
	// OutcomeTimeout 求值超时被终止
	OutcomeTimeout EvaluationOutcome = "timeout"
	// OutcomeFailed 远端返回了错误响应
	OutcomeFailed EvaluationOutcome = "failed"
)

// CaptureMode 上下文的使用方式
type CaptureMode string

const (
	// ModePrint 暂停时直接输出
	ModePrint CaptureMode = "print"
	// ModeRetain 以 ErrorId 为索引保存，之后通过异常值取回
	ModeRetain CaptureMode = "retain"
)

// NotAvailable 找不到语句时的占位文本
const NotAvailable = "<not available>"

// SideEffectPrefix 运行时拒绝可能有副作用的求值时，异常描述的前缀
const SideEffectPrefix = "EvalError: Possible side-effect in debug-evaluate\n"

// 渲染使用的字符
const (
	GutterGlyph = "▏"
	GuideGlyph  = "┆"
	BugGlyph    = "🐛"
)
