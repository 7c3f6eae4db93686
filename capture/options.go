package capture

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/fansqz/exception-context/constants"
)

// Options 捕获引擎的配置
type Options struct {
	Mode constants.CaptureMode
	// PauseState 开启时设置的异常暂停模式
	PauseState      constants.PauseOnExceptionsState
	AsyncStackDepth int
	// EvaluationTimeout 单个表达式求值的超时时间
	EvaluationTimeout time.Duration
	// CaptureTimeout 一次捕获的总超时时间，超时后放弃捕获并恢复执行
	CaptureTimeout time.Duration
	// SourceCacheSize 缓存的脚本源码数量
	SourceCacheSize int
	Color           bool
	SourceMaps      bool
	// Output print 模式下上下文的输出位置
	Output io.Writer
	// IsUserFrame 判断栈帧是否是用户代码，用于选择要展示的栈帧
	IsUserFrame func(url string) bool
	// Correlator 为空时使用 RemoteCorrelator
	Correlator Correlator
	// OnContext 每次捕获完成后回调，两种模式都会调用
	OnContext func(captured *CapturedContext)
}

func DefaultOptions() *Options {
	return &Options{
		Mode:              constants.ModePrint,
		PauseState:        constants.PauseOnAll,
		AsyncStackDepth:   4,
		EvaluationTimeout: 50 * time.Millisecond,
		CaptureTimeout:    5 * time.Second,
		SourceCacheSize:   128,
		SourceMaps:        true,
		Output:            os.Stderr,
		IsUserFrame:       DefaultIsUserFrame,
	}
}

// DefaultIsUserFrame 有 url，不在 node_modules 中，也不是运行时内部的脚本
func DefaultIsUserFrame(url string) bool {
	return url != "" && !strings.Contains(url, "/node_modules/") && !strings.HasPrefix(url, "node:")
}
