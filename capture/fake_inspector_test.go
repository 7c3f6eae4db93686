package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fansqz/exception-context/constants"
	"github.com/fansqz/exception-context/inspector"
)

// fakeInspector 内存中的 Inspector，按表达式文本返回预设的值
type fakeInspector struct {
	mutex    sync.Mutex
	calls    []string
	callback inspector.NotificationCallback

	sources       map[string]string
	values        map[string]*inspector.RemoteObject
	evaluateErrs  map[string]error
	properties    map[string][]*inspector.PropertyDescriptor
	propertiesErr error
	callFunction  func(params *inspector.CallFunctionParams) (*inspector.EvaluateResult, error)

	resumed chan struct{}
}

func newFakeInspector() *fakeInspector {
	return &fakeInspector{
		sources:      map[string]string{},
		values:       map[string]*inspector.RemoteObject{},
		evaluateErrs: map[string]error{},
		properties:   map[string][]*inspector.PropertyDescriptor{},
		resumed:      make(chan struct{}, 16),
	}
}

func (f *fakeInspector) record(call string) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeInspector) Calls() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]string{}, f.calls...)
}

// emit 模拟运行时推送事件
func (f *fakeInspector) emit(event interface{}) {
	f.mutex.Lock()
	callback := f.callback
	f.mutex.Unlock()
	callback(event)
}

func (f *fakeInspector) EnableDebugger(ctx context.Context) error {
	f.record("Debugger.enable")
	return nil
}

func (f *fakeInspector) DisableDebugger(ctx context.Context) error {
	f.record("Debugger.disable")
	return nil
}

func (f *fakeInspector) EnableRuntime(ctx context.Context) error {
	f.record("Runtime.enable")
	return nil
}

func (f *fakeInspector) DisableRuntime(ctx context.Context) error {
	f.record("Runtime.disable")
	return nil
}

func (f *fakeInspector) SetPauseOnExceptions(ctx context.Context, state constants.PauseOnExceptionsState) error {
	f.record("Debugger.setPauseOnExceptions:" + string(state))
	return nil
}

func (f *fakeInspector) SetAsyncCallStackDepth(ctx context.Context, depth int) error {
	f.record(fmt.Sprintf("Debugger.setAsyncCallStackDepth:%d", depth))
	return nil
}

func (f *fakeInspector) GetScriptSource(ctx context.Context, scriptID string) (string, error) {
	f.record("Debugger.getScriptSource")
	source, ok := f.sources[scriptID]
	if !ok {
		return "", fmt.Errorf("no script %s", scriptID)
	}
	return source, nil
}

func (f *fakeInspector) EvaluateOnCallFrame(ctx context.Context, params *inspector.EvaluateParams) (*inspector.EvaluateResult, error) {
	if err, ok := f.evaluateErrs[params.Expression]; ok {
		return nil, err
	}
	value, ok := f.values[params.Expression]
	if !ok {
		return &inspector.EvaluateResult{
			Result: &inspector.RemoteObject{Type: constants.TypeObject, Subtype: constants.SubtypeError,
				ClassName: "ReferenceError", Description: params.Expression + " is not defined"},
			ExceptionDetails: &inspector.ExceptionDetails{Text: "Uncaught"},
		}, nil
	}
	return &inspector.EvaluateResult{Result: value}, nil
}

func (f *fakeInspector) GetProperties(ctx context.Context, objectID string, ownProperties bool) ([]*inspector.PropertyDescriptor, error) {
	if f.propertiesErr != nil {
		return nil, f.propertiesErr
	}
	return f.properties[objectID], nil
}

func (f *fakeInspector) CallFunctionOn(ctx context.Context, params *inspector.CallFunctionParams) (*inspector.EvaluateResult, error) {
	f.record("Runtime.callFunctionOn")
	if f.callFunction != nil {
		return f.callFunction(params)
	}
	return &inspector.EvaluateResult{Result: &inspector.RemoteObject{Type: constants.TypeUndefined}}, nil
}

func (f *fakeInspector) Resume(ctx context.Context) error {
	f.record("Debugger.resume")
	f.resumed <- struct{}{}
	return nil
}

func (f *fakeInspector) SetCallback(callback inspector.NotificationCallback) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.callback = callback
}

func (f *fakeInspector) Close() error {
	f.record("Close")
	return nil
}

// getSelf 模拟 getSelf 函数的返回值
func getSelf(description string) func(params *inspector.CallFunctionParams) (*inspector.EvaluateResult, error) {
	return func(params *inspector.CallFunctionParams) (*inspector.EvaluateResult, error) {
		if params.FunctionDeclaration != getSelfFunction {
			return &inspector.EvaluateResult{Result: &inspector.RemoteObject{Type: constants.TypeUndefined}}, nil
		}
		value, _ := json.Marshal(map[string]string{"type": "object", "subtype": "error", "description": description})
		return &inspector.EvaluateResult{Result: &inspector.RemoteObject{Type: constants.TypeObject, Value: value}}, nil
	}
}

func number(n string) *inspector.RemoteObject {
	return &inspector.RemoteObject{Type: constants.TypeNumber, Value: json.RawMessage(n), Description: n}
}

func boolean(b string) *inspector.RemoteObject {
	return &inspector.RemoteObject{Type: constants.TypeBoolean, Value: json.RawMessage(b), Description: b}
}

func str(s string) *inspector.RemoteObject {
	value, _ := json.Marshal(s)
	return &inspector.RemoteObject{Type: constants.TypeString, Value: value}
}

func function(description string) *inspector.RemoteObject {
	return &inspector.RemoteObject{Type: constants.TypeFunction, ClassName: "Function", Description: description}
}
