package cdp_inspector

import (
	"context"
	"regexp"
	"time"

	"github.com/fansqz/exception-context/constants"
	"github.com/fansqz/exception-context/inspector"
	"github.com/fansqz/exception-context/protocol"
)

// 协议请求参数，超时时间以毫秒发送
type setPauseOnExceptionsParams struct {
	State constants.PauseOnExceptionsState `json:"state"`
}

type setAsyncCallStackDepthParams struct {
	MaxDepth int `json:"maxDepth"`
}

type getScriptSourceParams struct {
	ScriptID string `json:"scriptId"`
}

type getScriptSourceResult struct {
	ScriptSource string `json:"scriptSource"`
}

type evaluateOnCallFrameParams struct {
	CallFrameID       string  `json:"callFrameId"`
	Expression        string  `json:"expression"`
	Silent            bool    `json:"silent"`
	ReturnByValue     bool    `json:"returnByValue,omitempty"`
	ThrowOnSideEffect bool    `json:"throwOnSideEffect,omitempty"`
	Timeout           float64 `json:"timeout,omitempty"`
}

type getPropertiesParams struct {
	ObjectID      string `json:"objectId"`
	OwnProperties bool   `json:"ownProperties"`
}

type getPropertiesResult struct {
	Result []*inspector.PropertyDescriptor `json:"result"`
}

type callFunctionOnParams struct {
	ObjectID            string                   `json:"objectId,omitempty"`
	FunctionDeclaration string                   `json:"functionDeclaration"`
	Arguments           []inspector.CallArgument `json:"arguments,omitempty"`
	Silent              bool                     `json:"silent"`
	ReturnByValue       bool                     `json:"returnByValue,omitempty"`
	ThrowOnSideEffect   bool                     `json:"throwOnSideEffect,omitempty"`
}

type evaluateParams struct {
	Expression    string `json:"expression"`
	ReturnByValue bool   `json:"returnByValue,omitempty"`
	AwaitPromise  bool   `json:"awaitPromise,omitempty"`
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// withTimeout 远端超时之外再给本地等待留一点余量
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout+OptionTimeout)
}

func (c *CDPInspector) EnableDebugger(ctx context.Context) error {
	return c.call(ctx, protocol.DebuggerEnable, struct{}{}, nil)
}

func (c *CDPInspector) DisableDebugger(ctx context.Context) error {
	return c.call(ctx, protocol.DebuggerDisable, struct{}{}, nil)
}

func (c *CDPInspector) EnableRuntime(ctx context.Context) error {
	return c.call(ctx, protocol.RuntimeEnable, struct{}{}, nil)
}

func (c *CDPInspector) DisableRuntime(ctx context.Context) error {
	return c.call(ctx, protocol.RuntimeDisable, struct{}{}, nil)
}

func (c *CDPInspector) SetPauseOnExceptions(ctx context.Context, state constants.PauseOnExceptionsState) error {
	return c.call(ctx, protocol.DebuggerSetPauseOnExceptions, &setPauseOnExceptionsParams{State: state}, nil)
}

func (c *CDPInspector) SetAsyncCallStackDepth(ctx context.Context, depth int) error {
	return c.call(ctx, protocol.DebuggerSetAsyncCallStackDepth, &setAsyncCallStackDepthParams{MaxDepth: depth}, nil)
}

func (c *CDPInspector) GetScriptSource(ctx context.Context, scriptID string) (string, error) {
	result := &getScriptSourceResult{}
	if err := c.call(ctx, protocol.DebuggerGetScriptSource, &getScriptSourceParams{ScriptID: scriptID}, result); err != nil {
		return "", err
	}
	return result.ScriptSource, nil
}

func (c *CDPInspector) EvaluateOnCallFrame(ctx context.Context, params *inspector.EvaluateParams) (*inspector.EvaluateResult, error) {
	ctx, cancel := withTimeout(ctx, params.Timeout)
	defer cancel()
	request := &evaluateOnCallFrameParams{
		CallFrameID:       params.CallFrameID,
		Expression:        params.Expression,
		Silent:            true,
		ReturnByValue:     params.ReturnByValue,
		ThrowOnSideEffect: params.ThrowOnSideEffect,
		Timeout:           milliseconds(params.Timeout),
	}
	result := &inspector.EvaluateResult{}
	if err := c.call(ctx, protocol.DebuggerEvaluateOnCallFrame, request, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *CDPInspector) GetProperties(ctx context.Context, objectID string, ownProperties bool) ([]*inspector.PropertyDescriptor, error) {
	result := &getPropertiesResult{}
	request := &getPropertiesParams{ObjectID: objectID, OwnProperties: ownProperties}
	if err := c.call(ctx, protocol.RuntimeGetProperties, request, result); err != nil {
		return nil, err
	}
	return result.Result, nil
}

// CallFunctionOn 协议本身没有超时参数，Timeout 只限制本地等待
func (c *CDPInspector) CallFunctionOn(ctx context.Context, params *inspector.CallFunctionParams) (*inspector.EvaluateResult, error) {
	ctx, cancel := withTimeout(ctx, params.Timeout)
	defer cancel()
	request := &callFunctionOnParams{
		ObjectID:            params.ObjectID,
		FunctionDeclaration: params.FunctionDeclaration,
		Arguments:           params.Arguments,
		Silent:              true,
		ReturnByValue:       params.ReturnByValue,
		ThrowOnSideEffect:   params.ThrowOnSideEffect,
	}
	result := &inspector.EvaluateResult{}
	if err := c.call(ctx, protocol.RuntimeCallFunctionOn, request, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *CDPInspector) Resume(ctx context.Context) error {
	return c.call(ctx, protocol.DebuggerResume, struct{}{}, nil)
}

// Evaluate 在全局上下文中求值，抛出的异常以句柄返回，便于之后取回它的上下文
func (c *CDPInspector) Evaluate(ctx context.Context, expression string) (*inspector.EvaluateResult, error) {
	result := &inspector.EvaluateResult{}
	request := &evaluateParams{Expression: expression, AwaitPromise: true}
	if err := c.call(ctx, protocol.RuntimeEvaluate, request, result); err != nil {
		return nil, err
	}
	return result, nil
}

// RunIfWaitingForDebugger 让以 --inspect-brk 启动的程序开始执行
func (c *CDPInspector) RunIfWaitingForDebugger(ctx context.Context) error {
	return c.call(ctx, protocol.RuntimeRunIfWaitingForDebugger, struct{}{}, nil)
}

var wsURLRegexp = regexp.MustCompile(`ws://[^\s]+`)

// DiscoverWebSocketURL 从运行时的启动输出中找到调试地址
// 例如 "Debugger listening on ws://127.0.0.1:9229/0f2c936f-b1cd-4ac9-aab3-f63b0f33d55e"
func DiscoverWebSocketURL(output string) (string, bool) {
	url := wsURLRegexp.FindString(output)
	return url, url != ""
}

var _ inspector.Inspector = (*CDPInspector)(nil)
