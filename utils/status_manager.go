package utils

import "sync"

const (
	// Init 引擎创建后还没有连接运行时
	Init = "Init"
	// Attached 已经开启调试，正在监听异常
	Attached = "attached"
	// Capturing 正在处理一次异常暂停
	Capturing = "capturing"
	// Detached 已经断开
	Detached = "detached"
)

// StatusManager 记录引擎的状态
type StatusManager struct {
	lock   sync.RWMutex
	status string
}

func NewStatusManager() *StatusManager {
	return &StatusManager{
		status: Init,
	}
}

func (s *StatusManager) Set(status string) {
	defer s.lock.Unlock()
	s.lock.Lock()
	s.status = status
}

// Get 当前状态
func (s *StatusManager) Get() string {
	defer s.lock.RUnlock()
	s.lock.RLock()
	return s.status
}

func (s *StatusManager) Is(statusList ...string) bool {
	defer s.lock.RUnlock()
	s.lock.RLock()
	for _, status := range statusList {
		if s.status == status {
			return true
		}
	}
	return false
}

// CompareAndSet 当前状态在 from 中时切换到 to，返回是否切换成功
func (s *StatusManager) CompareAndSet(to string, from ...string) bool {
	defer s.lock.Unlock()
	s.lock.Lock()
	for _, status := range from {
		if s.status == status {
			s.status = to
			return true
		}
	}
	return false
}
