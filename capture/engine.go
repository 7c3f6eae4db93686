package capture

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/fansqz/exception-context/capture/analysis"
	"github.com/fansqz/exception-context/capture/render"
	"github.com/fansqz/exception-context/constants"
	e "github.com/fansqz/exception-context/error"
	"github.com/fansqz/exception-context/inspector"
	"github.com/fansqz/exception-context/utils"
	"github.com/fansqz/exception-context/utils/gosync"
)

// OptionTimeout 恢复执行、关联 ErrorId 等收尾请求的超时时间
const OptionTimeout = 5 * time.Second

// Engine
// 异常上下文捕获引擎，一个引擎对应一个调试连接
// Attach 之后运行时每次因为异常暂停，引擎都会：
// 1. 找到用户代码所在的栈帧和包含暂停位置的语句
// 2. 对语句中的子表达式求值，并列出作用域变量
// 3. 生成上下文，print 模式直接输出，retain 模式按 ErrorId 保存
// 4. 无论捕获是否成功，恢复程序执行
type Engine struct {
	sessionID string
	inspector inspector.Inspector
	options   *Options
	log       *logrus.Entry

	palette      *render.Palette
	orchestrator *Orchestrator
	assembler    *Assembler
	correlator   Correlator
	sourceMaps   *SourceMaps

	statusManager *utils.StatusManager
	disconnected  atomic.Bool
	// captureMutex 保证 Detach 之后不会再开始新的捕获
	captureMutex sync.Mutex
	captures     sync.WaitGroup

	// sources 脚本源码缓存
	sources     *lru.Cache[string, string]
	scriptMutex sync.RWMutex
	scriptURLs  map[string]string

	contextMutex sync.RWMutex
	contexts     map[int64]*CapturedContext
	nextErrorID  int64
}

func NewEngine(ins inspector.Inspector, options *Options) (*Engine, error) {
	if options == nil {
		options = DefaultOptions()
	}
	defaults := DefaultOptions()
	if options.IsUserFrame == nil {
		options.IsUserFrame = defaults.IsUserFrame
	}
	// 超时必须为正数，求值不能没有上限
	if options.EvaluationTimeout <= 0 {
		options.EvaluationTimeout = defaults.EvaluationTimeout
	}
	if options.CaptureTimeout <= 0 {
		options.CaptureTimeout = defaults.CaptureTimeout
	}
	if options.SourceCacheSize <= 0 {
		options.SourceCacheSize = defaults.SourceCacheSize
	}
	sources, err := lru.New[string, string](options.SourceCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create source cache: %w", err)
	}
	sessionID := utils.GetUUID()
	en := &Engine{
		sessionID:     sessionID,
		inspector:     ins,
		options:       options,
		log:           logrus.WithField("engine", sessionID),
		palette:       render.NewPalette(options.Color),
		correlator:    options.Correlator,
		statusManager: utils.NewStatusManager(),
		sources:       sources,
		scriptURLs:    map[string]string{},
		contexts:      map[int64]*CapturedContext{},
		nextErrorID:   1,
	}
	if en.correlator == nil {
		en.correlator = NewRemoteCorrelator(ins)
	}
	if options.SourceMaps {
		if en.sourceMaps, err = NewSourceMaps(options.SourceCacheSize); err != nil {
			return nil, fmt.Errorf("create source map cache: %w", err)
		}
	}
	en.orchestrator = NewOrchestrator(ins, options.EvaluationTimeout, en.log)
	en.assembler = NewAssembler(en.palette, en.scriptURL, en.sourceMaps)
	return en, nil
}

// SessionID 引擎的唯一标识，用于日志
func (en *Engine) SessionID() string {
	return en.sessionID
}

// Status 引擎当前的状态
func (en *Engine) Status() string {
	return en.statusManager.Get()
}

// Attach 开启调试和运行时求值，设置异步调用栈深度和异常暂停模式
func (en *Engine) Attach(ctx context.Context) error {
	logrus.Infof("[Engine] Attach")
	if !en.statusManager.CompareAndSet(utils.Attached, utils.Init) {
		return e.ErrEngineAttached
	}
	en.inspector.SetCallback(en.onEvent)
	steps := []func(ctx context.Context) error{
		en.inspector.EnableDebugger,
		en.inspector.EnableRuntime,
		func(ctx context.Context) error {
			return en.inspector.SetAsyncCallStackDepth(ctx, en.options.AsyncStackDepth)
		},
		func(ctx context.Context) error {
			return en.inspector.SetPauseOnExceptions(ctx, en.options.PauseState)
		},
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			en.statusManager.Set(utils.Init)
			en.log.Errorf("[Attach] fail, err = %v", err)
			return fmt.Errorf("attach: %w", err)
		}
	}
	return nil
}

// Detach
// 先关闭异步调用栈和异常暂停，保证不会再收到暂停事件，再关闭各个 domain 并断开连接
// 已保存的上下文会被清空
func (en *Engine) Detach(ctx context.Context) error {
	logrus.Infof("[Engine] Detach")
	en.captureMutex.Lock()
	ok := en.statusManager.CompareAndSet(utils.Detached, utils.Attached, utils.Capturing)
	en.captureMutex.Unlock()
	if !ok {
		return e.ErrEngineNotAttached
	}
	en.captures.Wait()

	var errs []error
	if !en.disconnected.Load() {
		steps := []func(ctx context.Context) error{
			func(ctx context.Context) error { return en.inspector.SetAsyncCallStackDepth(ctx, 0) },
			func(ctx context.Context) error {
				return en.inspector.SetPauseOnExceptions(ctx, constants.PauseOnNone)
			},
			en.inspector.DisableDebugger,
			en.inspector.DisableRuntime,
		}
		for _, step := range steps {
			if err := step(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := en.inspector.Close(); err != nil {
		errs = append(errs, err)
	}

	en.contextMutex.Lock()
	en.contexts = map[int64]*CapturedContext{}
	en.contextMutex.Unlock()
	if len(errs) != 0 {
		en.log.Warnf("[Detach] err = %v", errors.Join(errs...))
	}
	return errors.Join(errs...)
}

// onEvent 处理运行时的事件，捕获在单独的协程中进行，不阻塞事件的分发
func (en *Engine) onEvent(event interface{}) {
	switch event := event.(type) {
	case *inspector.PausedEvent:
		en.captureMutex.Lock()
		attached := en.statusManager.Is(utils.Attached, utils.Capturing)
		if attached {
			en.captures.Add(1)
		}
		en.captureMutex.Unlock()
		gosync.Go(context.Background(), func(ctx context.Context) {
			if !attached {
				en.resume()
				return
			}
			defer en.captures.Done()
			en.handlePaused(ctx, event)
		})
	case *inspector.ScriptParsedEvent:
		en.scriptMutex.Lock()
		en.scriptURLs[event.ScriptID] = event.URL
		en.scriptMutex.Unlock()
		if en.sourceMaps != nil {
			en.sourceMaps.Register(event.ScriptID, event.URL, event.SourceMapURL)
		}
	case *inspector.DisconnectedEvent:
		en.disconnected.Store(true)
		en.log.Warnf("[onEvent] inspector disconnected, err = %v", event.Err)
	}
}

func (en *Engine) scriptURL(scriptID string) string {
	en.scriptMutex.RLock()
	defer en.scriptMutex.RUnlock()
	return en.scriptURLs[scriptID]
}

// handlePaused 处理一次暂停，返回前一定会恢复执行
func (en *Engine) handlePaused(ctx context.Context, event *inspector.PausedEvent) {
	defer en.resume()
	if !event.Reason.IsCapturable() {
		en.log.Debugf("[handlePaused] skip pause, reason = %s", event.Reason)
		return
	}
	en.statusManager.CompareAndSet(utils.Capturing, utils.Attached)
	defer en.statusManager.CompareAndSet(utils.Attached, utils.Capturing)

	captureCtx, cancel := context.WithTimeout(ctx, en.options.CaptureTimeout)
	defer cancel()
	text, err := en.capture(captureCtx, event)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", e.ErrCaptureTimeout, err)
		}
		en.log.Errorf("[handlePaused] capture fail, err = %v", err)
		en.emit(&CapturedContext{Reason: event.Reason, Text: en.describeThrown(event.Data) + "\n", Err: err})
		return
	}

	captured := &CapturedContext{Reason: event.Reason, Text: text}
	if en.options.Mode == constants.ModeRetain {
		captured.ErrorID = en.store(captured)
		tagCtx, tagCancel := context.WithTimeout(context.Background(), OptionTimeout)
		defer tagCancel()
		if err = en.correlator.Tag(tagCtx, event.Data, captured.ErrorID); err != nil {
			en.log.WithField("errorId", captured.ErrorID).Warnf("[handlePaused] tag thrown value fail, err = %v", err)
		}
	}
	en.emit(captured)
}

// emit print 模式直接输出，两种模式都会通知 OnContext
func (en *Engine) emit(captured *CapturedContext) {
	if en.options.Mode == constants.ModePrint && en.options.Output != nil {
		if _, err := fmt.Fprint(en.options.Output, captured.Text); err != nil {
			en.log.Warnf("[emit] write context fail, err = %v", err)
		}
	}
	if en.options.OnContext != nil {
		en.options.OnContext(captured)
	}
}

func (en *Engine) store(captured *CapturedContext) int64 {
	en.contextMutex.Lock()
	defer en.contextMutex.Unlock()
	id := en.nextErrorID
	en.nextErrorID++
	en.contexts[id] = captured
	return id
}

func (en *Engine) resume() {
	ctx, cancel := context.WithTimeout(context.Background(), OptionTimeout)
	defer cancel()
	if err := en.inspector.Resume(ctx); err != nil {
		en.log.Errorf("[resume] fail, err = %v", err)
	}
}

// describeThrown 捕获失败时输出异常本身
func (en *Engine) describeThrown(thrown *inspector.RemoteObject) string {
	if thrown == nil {
		return "Unknown Error"
	}
	if thrown.Description != "" {
		return thrown.Description
	}
	return en.palette.FormatValue(thrown).String()
}

// capture 生成上下文文本：调用栈、作用域、带注释的语句
func (en *Engine) capture(ctx context.Context, event *inspector.PausedEvent) (string, error) {
	if len(event.CallFrames) == 0 {
		return "", e.ErrNoCallFrames
	}
	frame := en.topUserFrame(event.CallFrames)

	var stacks, scopes, statement string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stacks = en.assembler.Stacks(event.CallFrames, event.AsyncStackTrace)
		return nil
	})
	g.Go(func() error {
		listings, err := en.orchestrator.Scopes(gctx, frame)
		if err != nil {
			return err
		}
		scopes = en.assembler.Scopes(listings)
		return nil
	})
	g.Go(func() error {
		var err error
		statement, err = en.annotateStatement(gctx, frame, event.Data)
		return err
	})
	if err := g.Wait(); err != nil {
		return "", err
	}
	return en.assembler.Assemble(stacks, scopes, statement), nil
}

// topUserFrame 第一个用户代码的栈帧，没有时使用栈顶
func (en *Engine) topUserFrame(frames []inspector.CallFrame) *inspector.CallFrame {
	for i := range frames {
		url := frames[i].URL
		if url == "" {
			url = en.scriptURL(frames[i].Location.ScriptID)
		}
		if en.options.IsUserFrame(url) {
			return &frames[i]
		}
	}
	return &frames[0]
}

// annotateStatement 找到栈帧所在的语句，求值后渲染成带注释的源码
// 找不到语句或源码无法解析时返回 NotAvailable，不算失败
func (en *Engine) annotateStatement(ctx context.Context, frame *inspector.CallFrame, thrown *inspector.RemoteObject) (string, error) {
	source, err := en.scriptSource(ctx, frame.Location.ScriptID)
	if err != nil {
		return "", fmt.Errorf("get script source: %w", err)
	}
	paused := analysis.Position{Line: frame.Location.LineNumber, Column: frame.Location.ColumnNumber}
	statement, err := analysis.Locate(ctx, source, paused)
	if err != nil {
		if errors.Is(err, e.ErrNotAvailable) || errors.Is(err, e.ErrParseFailed) {
			en.log.Warnf("[annotateStatement] statement not available, err = %v", err)
			return constants.NotAvailable, nil
		}
		return "", err
	}
	defer statement.Close()

	expressions := analysis.Extract(statement)
	evaluated, err := en.orchestrator.Evaluate(ctx, frame, thrown, expressions)
	if err != nil {
		return "", err
	}

	block := &render.Block{FirstLine: statement.StartPosition.Line, Lines: statement.Lines()}
	for _, expr := range evaluated {
		if expr.Outcome != constants.OutcomeValue {
			continue
		}
		block.Annotations = append(block.Annotations, render.Annotation{
			Line: expr.Marker.Line,
			Placement: render.Placement{
				Column:     expr.MarkerColumn,
				Expression: expr.Text,
				Preview:    en.palette.FormatValue(expr.Value),
				Primary:    expr.Primary,
			},
		})
	}
	return en.palette.RenderBlock(block), nil
}

func (en *Engine) scriptSource(ctx context.Context, scriptID string) (string, error) {
	if source, ok := en.sources.Get(scriptID); ok {
		return source, nil
	}
	source, err := en.inspector.GetScriptSource(ctx, scriptID)
	if err != nil {
		return "", err
	}
	en.sources.Add(scriptID, source)
	return source, nil
}

// Contexts retain 模式下保存的所有上下文，按 ErrorId 排序
func (en *Engine) Contexts() []*CapturedContext {
	en.contextMutex.RLock()
	defer en.contextMutex.RUnlock()
	contexts := make([]*CapturedContext, 0, len(en.contexts))
	for _, captured := range en.contexts {
		contexts = append(contexts, captured)
	}
	sort.Slice(contexts, func(i, j int) bool {
		return contexts[i].ErrorID < contexts[j].ErrorID
	})
	return contexts
}

// GetContextForError 通过被抛出的值取回捕获时保存的上下文，没有关联时返回 nil
func (en *Engine) GetContextForError(ctx context.Context, thrown *inspector.RemoteObject) (*CapturedContext, error) {
	if thrown == nil {
		return nil, nil
	}
	id, ok, err := en.correlator.Lookup(ctx, thrown)
	if err != nil || !ok {
		return nil, err
	}
	en.contextMutex.RLock()
	defer en.contextMutex.RUnlock()
	return en.contexts[id], nil
}

// FromCall
// 执行 call，正常返回时原样返回结果，Error 和 Context 为空
// call 抛出异常时返回被抛出的值和捕获时保存的上下文
func (en *Engine) FromCall(ctx context.Context,
	call func(ctx context.Context) (result *inspector.RemoteObject, thrown *inspector.RemoteObject, err error)) (*CallOutcome, error) {
	result, thrown, err := call(ctx)
	if err != nil {
		return nil, err
	}
	if thrown == nil {
		return &CallOutcome{Result: result}, nil
	}
	captured, err := en.GetContextForError(ctx, thrown)
	if err != nil {
		return nil, err
	}
	return &CallOutcome{Error: thrown, Context: captured}, nil
}
