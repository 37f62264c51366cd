package constants

// CommandType 事件循环接收的命令类型
type CommandType string

const (
	// StartSession 启动调试会话，拉起后端调试器
	StartSession CommandType = "startSession"
	// SendCommand 原样发送一条命令到后端调试器
	SendCommand CommandType = "sendCommand"
	// Run 从头运行被调试程序
	Run CommandType = "run"
	// Continue 继续执行，直到下一个断点或程序结束
	Continue CommandType = "continue"
	// StepOver 下一步，不会进入函数内部
	StepOver CommandType = "stepOver"
	// StepInto 下一步，会进入函数内部
	StepInto CommandType = "stepInto"
	// StepOut 执行到当前函数返回
	StepOut CommandType = "stepOut"
	// Pause 向后端进程发送中断信号
	Pause CommandType = "pause"
	// Stop 结束会话，同时结束事件循环
	Stop CommandType = "stop"
	// EvaluateExpression 在暂停的程序上计算表达式
	EvaluateExpression CommandType = "evaluate"
	// SetVariable 修改变量的值
	SetVariable CommandType = "setVariable"
	// AddBreakpoint 添加断点
	AddBreakpoint CommandType = "addBreakpoint"
	// RemoveBreakpoint 移除断点
	RemoveBreakpoint CommandType = "removeBreakpoint"
	// ToggleBreakpoint 启用或禁用断点
	ToggleBreakpoint CommandType = "toggleBreakpoint"
	// AddWatchExpression 添加监视表达式
	AddWatchExpression CommandType = "addWatchExpression"
	// RemoveWatchExpression 移除监视表达式
	RemoveWatchExpression CommandType = "removeWatchExpression"
	// SelectFrame 选择栈帧
	SelectFrame CommandType = "selectFrame"
)

// DebugEventType 输出事件的类型
type DebugEventType string

// 会话事件
const (
	StateChangedEvent     DebugEventType = "stateChanged"
	VariablesUpdatedEvent DebugEventType = "variablesUpdated"
	CallStackUpdatedEvent DebugEventType = "callStackUpdated"
	BreakpointEvent       DebugEventType = "breakpoint"
	OutputEvent           DebugEventType = "output"
	FrameSelectedEvent    DebugEventType = "frameSelected"
	ErrorEvent            DebugEventType = "error"
)

// 内存分析事件
const (
	AllocationEvent            DebugEventType = "allocation"
	DeallocationEvent          DebugEventType = "deallocation"
	HeapStatisticsUpdatedEvent DebugEventType = "heapStatisticsUpdated"
	LeakDetectedEvent          DebugEventType = "leakDetected"
	FragmentationAnalysisEvent DebugEventType = "fragmentationAnalysis"
)

// 线程和异步任务事件
const (
	ThreadCreatedEvent      DebugEventType = "threadCreated"
	ThreadStateChangedEvent DebugEventType = "threadStateChanged"
	ThreadTerminatedEvent   DebugEventType = "threadTerminated"
	TaskCreatedEvent        DebugEventType = "taskCreated"
	TaskStateChangedEvent   DebugEventType = "taskStateChanged"
	TaskCompletedEvent      DebugEventType = "taskCompleted"
	DeadlockDetectedEvent   DebugEventType = "deadlockDetected"
	LockContentionEvent     DebugEventType = "lockContention"
)

// BreakpointReasonType 断点改变类型
type BreakpointReasonType string

const (
	ChangeType  BreakpointReasonType = "changed"
	NewType     BreakpointReasonType = "new"
	RemovedType BreakpointReasonType = "removed"
	HitType     BreakpointReasonType = "hit"
)

// StoppedReasonType 程序停止类型
type StoppedReasonType string

const (
	BreakpointStopped StoppedReasonType = "breakpoint"
	StepStopped       StoppedReasonType = "step"
	PauseStopped      StoppedReasonType = "User requested pause"
	SignalStopped     StoppedReasonType = "signal"
	Unknown           StoppedReasonType = "unknown"
)

// ScopeName 作用域名称
type ScopeName string

// Local: 当前栈帧中的局部变量和参数
// Watch: 用户添加的监视表达式
const (
	ScopeLocal ScopeName = "local"
	ScopeWatch ScopeName = "watch"
)
