package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/fansqz/exception-context/capture/analysis"
	"github.com/fansqz/exception-context/constants"
	e "github.com/fansqz/exception-context/error"
	"github.com/fansqz/exception-context/inspector"
	"github.com/fansqz/exception-context/protocol"
)

// getSelfFunction 以被抛出的对象为 this 调用，直接得到它的描述，不需要重新执行语句
const getSelfFunction = `function getSelf() {
  return {
    type: 'object',
    subtype: 'error',
    description: this && this.stack || 'Unknown Error',
  };
}`

const terminatedMessage = "Execution was terminated"

// EvaluatedExpression 表达式和它的求值结果
// 只有 Outcome 为 OutcomeValue 的表达式会被展示
type EvaluatedExpression struct {
	*analysis.Expression
	Outcome constants.EvaluationOutcome
	Value   *inspector.RemoteObject
	Err     error
}

// ScopeListing 一个作用域中的变量
type ScopeListing struct {
	Type       constants.ScopeType
	Name       string
	Properties []*inspector.PropertyDescriptor
}

// Orchestrator 在暂停的栈帧上对表达式求值，列出作用域变量
type Orchestrator struct {
	inspector inspector.Inspector
	timeout   time.Duration
	log       *logrus.Entry
}

func NewOrchestrator(ins inspector.Inspector, timeout time.Duration, log *logrus.Entry) *Orchestrator {
	return &Orchestrator{inspector: ins, timeout: timeout, log: log}
}

// Evaluate
// 并发求值所有表达式，结果的顺序和 expressions 一致
// primary 表达式直接使用被抛出的值；其他表达式禁止副作用并且有超时
// 非 primary 表达式的副作用、超时、错误响应只会让它被丢弃，连接失败会终止整个求值
func (o *Orchestrator) Evaluate(ctx context.Context, frame *inspector.CallFrame, thrown *inspector.RemoteObject,
	expressions []*analysis.Expression) ([]*EvaluatedExpression, error) {
	results := make([]*EvaluatedExpression, len(expressions))
	g, gctx := errgroup.WithContext(ctx)
	for i, expr := range expressions {
		i, expr := i, expr
		g.Go(func() error {
			var result *EvaluatedExpression
			var err error
			if expr.Primary && thrown != nil {
				result, err = o.thrownValue(gctx, expr, thrown)
			} else {
				result, err = o.evaluateText(gctx, frame, expr)
			}
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// thrownValue primary 表达式的值，就是被抛出的值本身
func (o *Orchestrator) thrownValue(ctx context.Context, expr *analysis.Expression, thrown *inspector.RemoteObject) (*EvaluatedExpression, error) {
	if thrown.ObjectID == "" {
		// 抛出的是原始值
		value := *thrown
		return &EvaluatedExpression{Expression: expr, Outcome: constants.OutcomeValue, Value: &value}, nil
	}
	response, err := o.inspector.CallFunctionOn(ctx, &inspector.CallFunctionParams{
		ObjectID:            thrown.ObjectID,
		FunctionDeclaration: getSelfFunction,
		ReturnByValue:       true,
		ThrowOnSideEffect:   true,
		Timeout:             o.timeout,
	})
	if err != nil {
		return nil, &EvaluationError{Expression: expr.Text, Outcome: constants.OutcomeFailed, Err: err}
	}
	if response.ExceptionDetails != nil {
		outcome := classify(response)
		return nil, &EvaluationError{Expression: expr.Text, Outcome: outcome, Err: errors.New(exceptionText(response))}
	}
	if response.Result == nil || len(response.Result.Value) == 0 {
		return nil, &EvaluationError{Expression: expr.Text, Outcome: constants.OutcomeFailed, Err: e.ErrMalformedResponse}
	}
	value := &inspector.RemoteObject{}
	if err = json.Unmarshal(response.Result.Value, value); err != nil {
		return nil, &EvaluationError{Expression: expr.Text, Outcome: constants.OutcomeFailed,
			Err: fmt.Errorf("%w: %v", e.ErrMalformedResponse, err)}
	}
	value.ObjectID = thrown.ObjectID
	return &EvaluatedExpression{Expression: expr, Outcome: constants.OutcomeValue, Value: value}, nil
}

// evaluateText 在栈帧上对表达式源码求值，求值时抛出的异常作为值展示
func (o *Orchestrator) evaluateText(ctx context.Context, frame *inspector.CallFrame, expr *analysis.Expression) (*EvaluatedExpression, error) {
	response, err := o.inspector.EvaluateOnCallFrame(ctx, &inspector.EvaluateParams{
		CallFrameID:       frame.CallFrameID,
		Expression:        expr.Text,
		ThrowOnSideEffect: true,
		Timeout:           o.timeout,
	})
	if err != nil {
		var protocolErr *protocol.Error
		if !errors.As(err, &protocolErr) {
			return nil, &EvaluationError{Expression: expr.Text, Outcome: constants.OutcomeFailed, Err: err}
		}
		outcome := constants.OutcomeFailed
		if strings.Contains(protocolErr.Message, terminatedMessage) {
			outcome = constants.OutcomeTimeout
		}
		o.log.Warnf("[Evaluate] drop %q, outcome = %s, err = %v", expr.Text, outcome, err)
		return &EvaluatedExpression{Expression: expr, Outcome: outcome, Err: err}, nil
	}
	if response.Result == nil {
		return nil, &EvaluationError{Expression: expr.Text, Outcome: constants.OutcomeFailed, Err: e.ErrMalformedResponse}
	}
	outcome := classify(response)
	switch outcome {
	case constants.OutcomeSideEffect:
		o.log.Debugf("[Evaluate] drop %q, possible side effect", expr.Text)
	case constants.OutcomeTimeout:
		o.log.Warnf("[Evaluate] drop %q, evaluation timed out", expr.Text)
	}
	return &EvaluatedExpression{Expression: expr, Outcome: outcome, Value: response.Result}, nil
}

// classify 区分副作用、超时和普通的值（包括求值时抛出的异常）
func classify(response *inspector.EvaluateResult) constants.EvaluationOutcome {
	result := response.Result
	if result != nil && result.ClassName == "EvalError" && strings.HasPrefix(result.Description, constants.SideEffectPrefix) {
		return constants.OutcomeSideEffect
	}
	if response.ExceptionDetails != nil && strings.Contains(exceptionText(response), terminatedMessage) {
		return constants.OutcomeTimeout
	}
	return constants.OutcomeValue
}

func exceptionText(response *inspector.EvaluateResult) string {
	details := response.ExceptionDetails
	if details == nil {
		return ""
	}
	if details.Exception != nil && details.Exception.Description != "" {
		return details.Exception.Description
	}
	if response.Result != nil && response.Result.Description != "" {
		return response.Result.Description
	}
	return details.Text
}

// Scopes 并发列出除全局作用域之外的所有作用域的变量，任何一个失败都会返回错误
func (o *Orchestrator) Scopes(ctx context.Context, frame *inspector.CallFrame) ([]*ScopeListing, error) {
	var scopes []inspector.Scope
	for _, scope := range frame.ScopeChain {
		if scope.Type != constants.ScopeGlobal {
			scopes = append(scopes, scope)
		}
	}
	listings := make([]*ScopeListing, len(scopes))
	g, gctx := errgroup.WithContext(ctx)
	for i, scope := range scopes {
		i, scope := i, scope
		g.Go(func() error {
			properties, err := o.inspector.GetProperties(gctx, scope.Object.ObjectID, true)
			if err != nil {
				return fmt.Errorf("list %s scope: %w", scope.Type, err)
			}
			listings[i] = &ScopeListing{Type: scope.Type, Name: scope.Name, Properties: properties}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return listings, nil
}
