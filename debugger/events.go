package debugger

import "github.com/fansqz/debug-engine/constants"

// StateChanged 会话状态变化
type StateChanged struct {
	State DebuggerState `json:"state"`
}

func (s *StateChanged) EventType() constants.DebugEventType {
	return constants.StateChangedEvent
}

// VariablesUpdated 变量、监视表达式刷新
type VariablesUpdated struct {
	Variables []VariableInfo `json:"variables"`
}

func (v *VariablesUpdated) EventType() constants.DebugEventType {
	return constants.VariablesUpdatedEvent
}

// CallStackUpdated 调用栈刷新
type CallStackUpdated struct {
	Frames []StackFrame `json:"frames"`
}

func (c *CallStackUpdated) EventType() constants.DebugEventType {
	return constants.CallStackUpdatedEvent
}

// BreakpointChanged 断点事件
// 该event指示有关断点的某些信息已更改。
type BreakpointChanged struct {
	Reason     constants.BreakpointReasonType `json:"reason"`
	Breakpoint Breakpoint                     `json:"breakpoint"`
}

func (b *BreakpointChanged) EventType() constants.DebugEventType {
	return constants.BreakpointEvent
}

// OutputReceived 后端或者用户程序的输出
type OutputReceived struct {
	Output string `json:"output"`
}

func (o *OutputReceived) EventType() constants.DebugEventType {
	return constants.OutputEvent
}

// FrameSelected 选中栈帧，不改变会话状态
type FrameSelected struct {
	Index int         `json:"index"`
	Frame *StackFrame `json:"frame,omitempty"`
}

func (f *FrameSelected) EventType() constants.DebugEventType {
	return constants.FrameSelectedEvent
}

// ErrorNotification 命令执行失败
type ErrorNotification struct {
	Command constants.CommandType `json:"command"`
	Message string                `json:"message"`
}

func (e *ErrorNotification) EventType() constants.DebugEventType {
	return constants.ErrorEvent
}
