package capture

import (
	"fmt"

	"github.com/fansqz/exception-context/constants"
	"github.com/fansqz/exception-context/inspector"
)

// CapturedContext 一次异常暂停捕获到的上下文
type CapturedContext struct {
	// ErrorID retain 模式下的索引，print 模式为 0
	ErrorID int64
	Reason  constants.PausedReasonType
	// Text 调用栈、作用域和带注释的语句
	Text string
	// Err 捕获失败的原因，此时 Text 只有异常本身的描述
	Err error
}

// CallOutcome FromCall 的结果
// 调用正常返回时 Error 和 Context 都为空
type CallOutcome struct {
	Result  *inspector.RemoteObject
	Error   *inspector.RemoteObject
	Context *CapturedContext
}

// EvaluationError 表达式求值失败
type EvaluationError struct {
	Expression string
	Outcome    constants.EvaluationOutcome
	Err        error
}

func (err *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate %q (%s): %v", err.Expression, err.Outcome, err.Err)
}

func (err *EvaluationError) Unwrap() error {
	return err.Err
}
