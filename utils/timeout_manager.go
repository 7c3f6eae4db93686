package utils

import (
	"context"
	"time"

	"github.com/fansqz/exception-context/utils/gosync"
	"github.com/sirupsen/logrus"
)

// TimeoutManager 一个计时器
// 如果在timeout时间内没有执行reset命令，就会执行fun函数
// 用于 attach 模式下的空闲退出：长时间没有捕获到异常就断开
type TimeoutManager struct {
	timer          *time.Timer
	timeout        time.Duration
	resetChannel   chan struct{}
	chancelChannel chan struct{}
	done           chan struct{}
	fun            func()
}

// NewTimeoutManager 创建一个新的计时器实例
func NewTimeoutManager() *TimeoutManager {
	return &TimeoutManager{}
}

// Start 开始计时
// 在timeout时间内没有执行reset命令，就会执行fun函数
func (t *TimeoutManager) Start(ctx context.Context, timeout time.Duration, option func()) {
	t.timer = time.NewTimer(timeout)
	t.timeout = timeout
	t.fun = option
	t.resetChannel = make(chan struct{}, 1)
	t.chancelChannel = make(chan struct{}, 1)
	t.done = make(chan struct{})
	gosync.Go(ctx, func(ctx context.Context) {
		defer close(t.done)
		for {
			select {
			case <-t.timer.C:
				logrus.Infof("[TimeoutManager] Timer expired, performing action")
				// Timer到期，执行命令
				t.fun()
				return
			case <-t.resetChannel:
				if !t.timer.Stop() {
					select {
					case <-t.timer.C:
					default:
					}
				}
				t.timer.Reset(t.timeout)
			case <-t.chancelChannel:
				logrus.Infof("[TimeoutManager] chancel")
				t.timer.Stop()
				return
			case <-ctx.Done():
				t.timer.Stop()
				return
			}
		}
	})
}

// Reset 重置计时器，计时器已经结束时什么都不做
func (t *TimeoutManager) Reset() {
	select {
	case <-t.done:
	case t.resetChannel <- struct{}{}:
	default:
	}
}

// Chancel 取消计时
func (t *TimeoutManager) Chancel() {
	select {
	case <-t.done:
	case t.chancelChannel <- struct{}{}:
	default:
	}
}

// Done 计时器结束（到期或取消）后返回
func (t *TimeoutManager) Done() <-chan struct{} {
	return t.done
}
