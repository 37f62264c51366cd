package coordinator

import (
	"sync"

	"github.com/fansqz/debug-engine/debugger"
	"github.com/fansqz/debug-engine/protocol"
)

// StateManager 会话状态机
// 不检查状态转换是否合法，由Coordinator保证只在合理的时机切换状态
type StateManager struct {
	lock       sync.RWMutex
	state      debugger.DebuggerState
	frameIndex int
}

func NewStateManager() *StateManager {
	return &StateManager{state: debugger.NotStartedState()}
}

// SetState 状态确实发生变化时返回需要发送的事件，否则返回nil
func (s *StateManager) SetState(state debugger.DebuggerState) protocol.Event {
	defer s.lock.Unlock()
	s.lock.Lock()
	if s.state.Equal(state) {
		return nil
	}
	s.state = state
	// 每次停止后默认选中最内层栈帧
	s.frameIndex = 0
	return &debugger.StateChanged{State: state}
}

func (s *StateManager) State() debugger.DebuggerState {
	defer s.lock.RUnlock()
	s.lock.RLock()
	return s.state
}

// SelectFrame 选中栈帧，不改变会话状态
func (s *StateManager) SelectFrame(index int, frame *debugger.StackFrame) protocol.Event {
	defer s.lock.Unlock()
	s.lock.Lock()
	s.frameIndex = index
	return &debugger.FrameSelected{Index: index, Frame: frame}
}

func (s *StateManager) CurrentFrame() int {
	defer s.lock.RUnlock()
	s.lock.RLock()
	return s.frameIndex
}

func (s *StateManager) Reset() {
	defer s.lock.Unlock()
	s.lock.Lock()
	s.state = debugger.NotStartedState()
	s.frameIndex = 0
}
