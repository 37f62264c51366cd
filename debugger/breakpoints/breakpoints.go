package breakpoints

import (
	"path/filepath"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"github.com/fansqz/debug-engine/debugger"
	e "github.com/fansqz/debug-engine/error"
)

// Store 断点管理，按编号顺序保存
type Store struct {
	lock        sync.RWMutex
	nextID      int
	breakpoints *treemap.Map // id -> *debugger.Breakpoint
}

func NewStore() *Store {
	return &Store{
		nextID:      1,
		breakpoints: treemap.NewWith(utils.IntComparator),
	}
}

// Add 添加断点，返回断点编号
func (s *Store) Add(file string, line int, condition string, hitCondition uint32) int {
	defer s.lock.Unlock()
	s.lock.Lock()
	id := s.nextID
	s.nextID++
	s.breakpoints.Put(id, &debugger.Breakpoint{
		ID:           id,
		File:         file,
		Line:         line,
		Condition:    condition,
		HitCondition: hitCondition,
		Enabled:      true,
	})
	return id
}

func (s *Store) Remove(id int) (debugger.Breakpoint, error) {
	defer s.lock.Unlock()
	s.lock.Lock()
	bp, ok := s.get(id)
	if !ok {
		return debugger.Breakpoint{}, e.ErrBreakpointNotFound
	}
	s.breakpoints.Remove(id)
	return *bp, nil
}

// Toggle 切换断点启用状态，返回切换后的状态
func (s *Store) Toggle(id int) (bool, error) {
	defer s.lock.Unlock()
	s.lock.Lock()
	bp, ok := s.get(id)
	if !ok {
		return false, e.ErrBreakpointNotFound
	}
	bp.Enabled = !bp.Enabled
	return bp.Enabled, nil
}

func (s *Store) Get(id int) (debugger.Breakpoint, error) {
	defer s.lock.RUnlock()
	s.lock.RLock()
	bp, ok := s.get(id)
	if !ok {
		return debugger.Breakpoint{}, e.ErrBreakpointNotFound
	}
	return *bp, nil
}

func (s *Store) get(id int) (*debugger.Breakpoint, bool) {
	value, ok := s.breakpoints.Get(id)
	if !ok {
		return nil, false
	}
	return value.(*debugger.Breakpoint), true
}

// All 所有断点，按编号排序
func (s *Store) All() []debugger.Breakpoint {
	defer s.lock.RUnlock()
	s.lock.RLock()
	answer := make([]debugger.Breakpoint, 0, s.breakpoints.Size())
	it := s.breakpoints.Iterator()
	for it.Next() {
		answer = append(answer, *it.Value().(*debugger.Breakpoint))
	}
	return answer
}

// SetBackendID 记录后端调试器中对应的断点编号
func (s *Store) SetBackendID(id int, backendID int) error {
	defer s.lock.Unlock()
	s.lock.Lock()
	bp, ok := s.get(id)
	if !ok {
		return e.ErrBreakpointNotFound
	}
	bp.BackendID = backendID
	return nil
}

// FindByBackendID 根据后端断点编号查找
func (s *Store) FindByBackendID(backendID int) (debugger.Breakpoint, bool) {
	defer s.lock.RUnlock()
	s.lock.RLock()
	if bp := s.find(func(bp *debugger.Breakpoint) bool { return bp.BackendID == backendID }); bp != nil {
		return *bp, true
	}
	return debugger.Breakpoint{}, false
}

// FindByLocation 根据源码位置查找，后端输出的路径可能只有文件名
// 尚未同步后端编号的断点优先
func (s *Store) FindByLocation(file string, line int) (debugger.Breakpoint, bool) {
	defer s.lock.RUnlock()
	s.lock.RLock()
	match := func(bp *debugger.Breakpoint) bool {
		return bp.Line == line && (bp.File == file || filepath.Base(bp.File) == filepath.Base(file))
	}
	if bp := s.find(func(bp *debugger.Breakpoint) bool { return bp.BackendID == 0 && match(bp) }); bp != nil {
		return *bp, true
	}
	if bp := s.find(match); bp != nil {
		return *bp, true
	}
	return debugger.Breakpoint{}, false
}

func (s *Store) find(predicate func(bp *debugger.Breakpoint) bool) *debugger.Breakpoint {
	_, value := s.breakpoints.Find(func(key interface{}, value interface{}) bool {
		return predicate(value.(*debugger.Breakpoint))
	})
	if value == nil {
		return nil
	}
	return value.(*debugger.Breakpoint)
}

// RecordHit 记录一次命中，shouldStop 表示是否达到命中条件
func (s *Store) RecordHit(id int) (bp debugger.Breakpoint, shouldStop bool, err error) {
	defer s.lock.Unlock()
	s.lock.Lock()
	b, ok := s.get(id)
	if !ok {
		return debugger.Breakpoint{}, false, e.ErrBreakpointNotFound
	}
	b.Hits++
	shouldStop = b.HitCondition == 0 || b.Hits >= b.HitCondition
	return *b, shouldStop, nil
}

// ClearBackendIDs 后端进程重启后原来的编号失效
func (s *Store) ClearBackendIDs() {
	defer s.lock.Unlock()
	s.lock.Lock()
	it := s.breakpoints.Iterator()
	for it.Next() {
		it.Value().(*debugger.Breakpoint).BackendID = 0
	}
}

func (s *Store) Len() int {
	defer s.lock.RUnlock()
	s.lock.RLock()
	return s.breakpoints.Size()
}

// Reset 清空所有断点，编号重新从1开始
func (s *Store) Reset() {
	defer s.lock.Unlock()
	s.lock.Lock()
	s.breakpoints.Clear()
	s.nextID = 1
}
