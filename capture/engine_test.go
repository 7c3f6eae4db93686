package capture

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fansqz/exception-context/constants"
	e "github.com/fansqz/exception-context/error"
	"github.com/fansqz/exception-context/inspector"
	"github.com/fansqz/exception-context/utils"
)

const scriptURL = "file:///app/test/context-hints.test.js"

var assertionSource = strings.Repeat("// filler\n", 36) + "      assert(2 * 3 === 2 + 3, 'Math works');\n"

// testHelper 封装引擎和假的 Inspector
type testHelper struct {
	t         *testing.T
	fake      *fakeInspector
	engine    *Engine
	output    *bytes.Buffer
	contextCh chan *CapturedContext
}

func newTestHelper(t *testing.T, configure func(options *Options)) *testHelper {
	h := &testHelper{
		t:         t,
		fake:      newFakeInspector(),
		output:    &bytes.Buffer{},
		contextCh: make(chan *CapturedContext, 10),
	}
	options := DefaultOptions()
	options.Output = h.output
	options.OnContext = func(captured *CapturedContext) {
		h.contextCh <- captured
	}
	if configure != nil {
		configure(options)
	}
	engine, err := NewEngine(h.fake, options)
	require.Nil(t, err)
	h.engine = engine
	require.Nil(t, h.engine.Attach(context.Background()))
	return h
}

// setupAssertion 准备 assert(2 * 3 === 2 + 3, 'Math works') 的源码和求值结果
func (h *testHelper) setupAssertion() {
	h.fake.sources["42"] = assertionSource
	h.fake.values["assert"] = function("function (express, errmsg) { ... }")
	h.fake.values["2"] = number("2")
	h.fake.values["3"] = number("3")
	h.fake.values["2 * 3"] = number("6")
	h.fake.values["2 + 3"] = number("5")
	h.fake.values["2 * 3 === 2 + 3"] = boolean("false")
	h.fake.values["'Math works'"] = str("Math works")
	h.fake.properties["scope-closure"] = []*inspector.PropertyDescriptor{
		{Name: "assert", Value: function("function (express, errmsg) { ... }")},
		{Name: "answer", Value: number("42")},
	}
	h.fake.callFunction = getSelf("AssertionError: Math works\n    at Context.<anonymous> (test.js:37:7)")
}

func pausedAt(objectID string, line, column int) *inspector.PausedEvent {
	return &inspector.PausedEvent{
		Reason: constants.PausedException,
		Data: &inspector.RemoteObject{Type: constants.TypeObject, Subtype: constants.SubtypeError,
			ClassName: "AssertionError", Description: "AssertionError: Math works", ObjectID: objectID},
		CallFrames: []inspector.CallFrame{
			{
				CallFrameID: "frame-lib",
				URL:         "file:///app/node_modules/chai/lib/chai/interface/assert.js",
				Location:    inspector.Location{ScriptID: "7", LineNumber: 9, ColumnNumber: 10},
			},
			{
				CallFrameID: "frame-user",
				URL:         scriptURL,
				Location:    inspector.Location{ScriptID: "42", LineNumber: line, ColumnNumber: column},
				ScopeChain: []inspector.Scope{
					{Type: constants.ScopeLocal, Object: inspector.RemoteObject{ObjectID: "scope-local"}},
					{Type: constants.ScopeClosure, Object: inspector.RemoteObject{ObjectID: "scope-closure"}},
					{Type: constants.ScopeGlobal, Object: inspector.RemoteObject{ObjectID: "scope-global"}},
				},
			},
		},
	}
}

// waitForContext 等待一次捕获完成并恢复执行
func (h *testHelper) waitForContext() *CapturedContext {
	select {
	case captured := <-h.contextCh:
		h.waitForResume()
		return captured
	case <-time.After(5 * time.Second):
		h.t.Fatal("wait for context timeout")
		return nil
	}
}

func (h *testHelper) waitForResume() {
	select {
	case <-h.fake.resumed:
	case <-time.After(5 * time.Second):
		h.t.Fatal("wait for resume timeout")
	}
}

func TestAssertionContext(t *testing.T) {
	helper := newTestHelper(t, nil)
	helper.setupAssertion()

	helper.fake.emit(pausedAt("error-1", 36, 6))
	captured := helper.waitForContext()
	assert.Nil(t, captured.Err)

	expected := strings.Join([]string{
		"Sync:",
		"  file:///app/node_modules/chai/lib/chai/interface/assert.js:10:11",
		"  " + scriptURL + ":37:7",
		"",
		"closure:",
		"  assert: [Function]",
		"  answer: 42",
		"",
		" 37 ▏      assert(2 * 3 === 2 + 3, 'Math works');",
		"    ▏      ┆     ┆┆ ┆ ┆ ┆   ┆ ┆ ┆  ┆",
		"    ▏      ┆     ┆┆ ┆ ┆ ┆   2 5 3  'Math works'",
		"    ▏      ┆     ┆2 6 3 false",
		" 🐛 ▏      ┆     [AssertionError: Math works]",
		"    ▏      [Function]",
		"    ▏",
		"",
	}, "\n")
	assert.Equal(t, expected, captured.Text)
	assert.Equal(t, expected, helper.output.String())
}

func TestSideEffectDoesNotShiftLayout(t *testing.T) {
	helper := newTestHelper(t, nil)
	helper.setupAssertion()
	helper.fake.values["2 + 3"] = &inspector.RemoteObject{
		Type: constants.TypeObject, Subtype: constants.SubtypeError, ClassName: "EvalError",
		Description: constants.SideEffectPrefix + "    at eval",
	}

	helper.fake.emit(pausedAt("error-1", 36, 6))
	captured := helper.waitForContext()

	assert.Contains(t, captured.Text, "    ▏      ┆     ┆┆ ┆ ┆ ┆   ┆   ┆  ┆\n")
	assert.Contains(t, captured.Text, "    ▏      ┆     ┆┆ ┆ ┆ ┆   2   3  'Math works'\n")
	assert.Contains(t, captured.Text, "    ▏      ┆     ┆2 6 3 false\n")
	assert.Contains(t, captured.Text, " 🐛 ▏      ┆     [AssertionError: Math works]\n")
	assert.NotContains(t, captured.Text, "EvalError")
}

func TestNotAvailable(t *testing.T) {
	helper := newTestHelper(t, nil)
	helper.fake.sources["42"] = "// only a comment\n"

	helper.fake.emit(pausedAt("error-1", 0, 3))
	captured := helper.waitForContext()

	assert.Nil(t, captured.Err)
	assert.True(t, strings.HasSuffix(captured.Text, "\n\n"+constants.NotAvailable+"\n"))
	assert.NotContains(t, captured.Text, "▏")
}

func TestCaptureFailureStillResumes(t *testing.T) {
	helper := newTestHelper(t, nil)
	helper.setupAssertion()
	helper.fake.propertiesErr = e.ErrSessionClosed

	helper.fake.emit(pausedAt("error-1", 36, 6))
	captured := helper.waitForContext()

	assert.True(t, errors.Is(captured.Err, e.ErrSessionClosed))
	assert.Equal(t, "AssertionError: Math works\n", captured.Text)
	assert.Equal(t, "AssertionError: Math works\n", helper.output.String())
}

func TestSkipsOtherPauses(t *testing.T) {
	helper := newTestHelper(t, nil)

	for _, reason := range []constants.PausedReasonType{constants.PausedOther, constants.PausedBreakOnStart} {
		event := pausedAt("", 0, 0)
		event.Reason = reason
		helper.fake.emit(event)
		helper.waitForResume()
	}

	assert.Equal(t, "", helper.output.String())
	assert.Len(t, helper.contextCh, 0)
}

func TestRetainAndFromCall(t *testing.T) {
	table := NewIdentityTable()
	helper := newTestHelper(t, func(options *Options) {
		options.Mode = constants.ModeRetain
		options.Correlator = table
	})
	helper.setupAssertion()

	helper.fake.emit(pausedAt("error-1", 36, 6))
	first := helper.waitForContext()
	helper.fake.emit(pausedAt("error-2", 36, 6))
	second := helper.waitForContext()

	assert.Equal(t, int64(1), first.ErrorID)
	assert.Equal(t, int64(2), second.ErrorID)
	assert.Equal(t, "", helper.output.String())
	assert.Len(t, helper.engine.Contexts(), 2)

	ctx := context.Background()
	outcome, err := helper.engine.FromCall(ctx, func(ctx context.Context) (*inspector.RemoteObject, *inspector.RemoteObject, error) {
		return nil, &inspector.RemoteObject{Type: constants.TypeObject, ObjectID: "error-2"}, nil
	})
	assert.Nil(t, err)
	assert.Nil(t, outcome.Result)
	assert.Equal(t, "error-2", outcome.Error.ObjectID)
	assert.Same(t, second, outcome.Context)

	// 无关的异常取不到上下文
	outcome, err = helper.engine.FromCall(ctx, func(ctx context.Context) (*inspector.RemoteObject, *inspector.RemoteObject, error) {
		return nil, &inspector.RemoteObject{Type: constants.TypeObject, ObjectID: "unrelated"}, nil
	})
	assert.Nil(t, err)
	assert.Nil(t, outcome.Context)

	// 正常返回
	result := number("42")
	outcome, err = helper.engine.FromCall(ctx, func(ctx context.Context) (*inspector.RemoteObject, *inspector.RemoteObject, error) {
		return result, nil, nil
	})
	assert.Nil(t, err)
	assert.Same(t, result, outcome.Result)
	assert.Nil(t, outcome.Error)
	assert.Nil(t, outcome.Context)

	assert.Nil(t, helper.engine.Detach(ctx))
	assert.Len(t, helper.engine.Contexts(), 0)
}

func TestRepeatedCaptureIsDeterministic(t *testing.T) {
	helper := newTestHelper(t, nil)
	helper.setupAssertion()

	helper.fake.emit(pausedAt("error-1", 36, 6))
	first := helper.waitForContext()
	helper.fake.emit(pausedAt("error-1", 36, 6))
	second := helper.waitForContext()
	assert.Equal(t, first.Text, second.Text)
}

func TestAttachDetachLifecycle(t *testing.T) {
	helper := newTestHelper(t, nil)
	ctx := context.Background()
	assert.NotEmpty(t, helper.engine.SessionID())
	assert.Equal(t, utils.Attached, helper.engine.Status())

	assert.True(t, errors.Is(helper.engine.Attach(ctx), e.ErrEngineAttached))
	assert.Nil(t, helper.engine.Detach(ctx))
	assert.Equal(t, utils.Detached, helper.engine.Status())
	assert.True(t, errors.Is(helper.engine.Detach(ctx), e.ErrEngineNotAttached))

	assert.Equal(t, []string{
		"Debugger.enable",
		"Runtime.enable",
		"Debugger.setAsyncCallStackDepth:4",
		"Debugger.setPauseOnExceptions:all",
		"Debugger.setAsyncCallStackDepth:0",
		"Debugger.setPauseOnExceptions:none",
		"Debugger.disable",
		"Runtime.disable",
		"Close",
	}, helper.fake.Calls())

	// 断开之后的暂停直接恢复
	helper.fake.emit(pausedAt("error-1", 36, 6))
	helper.waitForResume()
	assert.Len(t, helper.contextCh, 0)
}

func TestDetachWaitsForCapture(t *testing.T) {
	helper := newTestHelper(t, nil)
	helper.setupAssertion()
	var once sync.Once
	block := make(chan struct{})
	helper.fake.callFunction = func(params *inspector.CallFunctionParams) (*inspector.EvaluateResult, error) {
		once.Do(func() { <-block })
		return getSelf("AssertionError: Math works")(params)
	}

	helper.fake.emit(pausedAt("error-1", 36, 6))
	detached := make(chan error, 1)
	go func() {
		time.Sleep(50 * time.Millisecond)
		detached <- helper.engine.Detach(context.Background())
	}()
	time.Sleep(100 * time.Millisecond)
	close(block)

	helper.waitForContext()
	assert.Nil(t, <-detached)
	calls := helper.fake.Calls()
	assert.Equal(t, "Close", calls[len(calls)-1])
}

// 非正数的超时使用默认值，求值始终有上限
func TestNonPositiveTimeoutsFallBackToDefaults(t *testing.T) {
	helper := newTestHelper(t, func(options *Options) {
		options.EvaluationTimeout = 0
		options.CaptureTimeout = -time.Second
		options.SourceCacheSize = 0
	})
	defaults := DefaultOptions()
	assert.Equal(t, defaults.EvaluationTimeout, helper.engine.options.EvaluationTimeout)
	assert.Equal(t, defaults.CaptureTimeout, helper.engine.options.CaptureTimeout)
	assert.Equal(t, defaults.EvaluationTimeout, helper.engine.orchestrator.timeout)

	// 捕获不会因为超时立即失败
	helper.setupAssertion()
	helper.fake.emit(pausedAt("error-1", 36, 6))
	captured := helper.waitForContext()
	assert.Nil(t, captured.Err)
}
