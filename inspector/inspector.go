package inspector

import (
	"context"

	"github.com/fansqz/exception-context/constants"
)

type NotificationCallback func(interface{})

// Inspector
// 运行时提供的调试能力，捕获引擎只依赖这个接口
// 每个方法对应一个具体的协议操作，实现需要保证并发安全
type Inspector interface {
	// EnableDebugger 开启调试 domain，开启后才会收到暂停事件
	EnableDebugger(ctx context.Context) error
	// DisableDebugger 关闭调试 domain
	DisableDebugger(ctx context.Context) error
	// EnableRuntime 开启运行时求值 domain
	EnableRuntime(ctx context.Context) error
	// DisableRuntime 关闭运行时求值 domain
	DisableRuntime(ctx context.Context) error
	// SetPauseOnExceptions 设置异常暂停模式
	SetPauseOnExceptions(ctx context.Context, state constants.PauseOnExceptionsState) error
	// SetAsyncCallStackDepth 设置异步调用栈的采集深度，0 表示关闭
	SetAsyncCallStackDepth(ctx context.Context, depth int) error
	// GetScriptSource 获取脚本的完整源码
	GetScriptSource(ctx context.Context, scriptID string) (string, error)
	// EvaluateOnCallFrame 在暂停的栈帧上对表达式求值
	EvaluateOnCallFrame(ctx context.Context, params *EvaluateParams) (*EvaluateResult, error)
	// GetProperties 列出对象的属性
	GetProperties(ctx context.Context, objectID string, ownProperties bool) ([]*PropertyDescriptor, error)
	// CallFunctionOn 以对象为 this 调用一个临时函数
	CallFunctionOn(ctx context.Context, params *CallFunctionParams) (*EvaluateResult, error)
	// Resume 恢复程序执行
	Resume(ctx context.Context) error
	// SetCallback 设置事件回调，事件类型见 inspect_objects.go
	SetCallback(callback NotificationCallback)
	// Close 断开连接
	Close() error
}
