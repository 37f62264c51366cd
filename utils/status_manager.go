package utils

import "sync"

// StatusManager 记录状态，可以在多个协程中并发读写
type StatusManager[S comparable] struct {
	lock   sync.RWMutex
	status S
}

func NewStatusManager[S comparable](initial S) *StatusManager[S] {
	return &StatusManager[S]{
		status: initial,
	}
}

func (s *StatusManager[S]) Set(status S) {
	defer s.lock.Unlock()
	s.lock.Lock()
	s.status = status
}

func (s *StatusManager[S]) Get() S {
	defer s.lock.RUnlock()
	s.lock.RLock()
	return s.status
}

// CompareAndSet 当前状态为from时才修改为to
func (s *StatusManager[S]) CompareAndSet(from S, to S) bool {
	defer s.lock.Unlock()
	s.lock.Lock()
	if s.status != from {
		return false
	}
	s.status = to
	return true
}

func (s *StatusManager[S]) Is(statusList ...S) bool {
	defer s.lock.RUnlock()
	s.lock.RLock()
	for _, status := range statusList {
		if s.status == status {
			return true
		}
	}
	return false
}
