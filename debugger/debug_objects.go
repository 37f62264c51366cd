package debugger

import (
	"fmt"

	"github.com/fansqz/debug-engine/constants"
)

// DebuggerConfig 启动调试的参数
type DebuggerConfig struct {
	// Target 被调试的程序，不能为空
	Target string `json:"target" yaml:"target"`
	// Args 被调试程序的命令行参数，按shell规则切分
	Args string `json:"args" yaml:"args"`
	// WorkingDir 工作目录
	WorkingDir string `json:"workingDir" yaml:"workingDir"`
	// Env 额外的环境变量
	Env map[string]string `json:"env" yaml:"env"`
	// Backend 后端调试器类型，默认gdb
	Backend constants.BackendKind `json:"backend" yaml:"backend"`
	// DebuggerPath 后端调试器可执行文件，为空时按Backend在PATH中查找
	DebuggerPath string `json:"debuggerPath" yaml:"debuggerPath"`
}

// StateKind 会话状态
type StateKind string

const (
	NotStarted   StateKind = "NotStarted"
	Initializing StateKind = "Initializing"
	Running      StateKind = "Running"
	Paused       StateKind = "Paused"
	Disconnected StateKind = "Disconnected"
)

// Location 源码位置
type Location struct {
	File     string `json:"file" yaml:"file"`
	Line     int    `json:"line" yaml:"line"`
	Function string `json:"function,omitempty" yaml:"function,omitempty"`
}

func (l *Location) String() string {
	if l.Function != "" {
		return fmt.Sprintf("%s at %s:%d", l.Function, l.File, l.Line)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// DebuggerState 调试会话的当前状态
// Target 只在 Initializing 下有意义，Reason 和 Location 只在 Paused 下有意义
type DebuggerState struct {
	Kind     StateKind                   `json:"kind" yaml:"kind"`
	Target   string                      `json:"target,omitempty" yaml:"target,omitempty"`
	Reason   constants.StoppedReasonType `json:"reason,omitempty" yaml:"reason,omitempty"`
	Location *Location                   `json:"location,omitempty" yaml:"location,omitempty"`
}

func NotStartedState() DebuggerState {
	return DebuggerState{Kind: NotStarted}
}

func InitializingState(target string) DebuggerState {
	return DebuggerState{Kind: Initializing, Target: target}
}

func RunningState() DebuggerState {
	return DebuggerState{Kind: Running}
}

func PausedState(reason constants.StoppedReasonType, location *Location) DebuggerState {
	return DebuggerState{Kind: Paused, Reason: reason, Location: location}
}

func DisconnectedState() DebuggerState {
	return DebuggerState{Kind: Disconnected}
}

// Equal 按值比较两个状态
func (s DebuggerState) Equal(other DebuggerState) bool {
	if s.Kind != other.Kind || s.Target != other.Target || s.Reason != other.Reason {
		return false
	}
	if s.Location == nil || other.Location == nil {
		return s.Location == other.Location
	}
	return *s.Location == *other.Location
}

// Is 判断当前状态是否属于其中之一
func (s DebuggerState) Is(kinds ...StateKind) bool {
	for _, kind := range kinds {
		if s.Kind == kind {
			return true
		}
	}
	return false
}

func (s DebuggerState) String() string {
	switch s.Kind {
	case Initializing:
		return fmt.Sprintf("Initializing{%s}", s.Target)
	case Paused:
		if s.Location != nil {
			return fmt.Sprintf("Paused{%s, %s}", s.Reason, s.Location)
		}
		return fmt.Sprintf("Paused{%s}", s.Reason)
	default:
		return string(s.Kind)
	}
}

// StopInfo 后端输出中解析出来的一次停止
type StopInfo struct {
	Reason       constants.StoppedReasonType
	BreakpointID int
	Location     *Location
}

// Breakpoint 表示断点
type Breakpoint struct {
	ID        int    `json:"id" yaml:"id"`
	File      string `json:"file" yaml:"file"`
	Line      int    `json:"line" yaml:"line"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	// HitCondition 命中多少次以后才停止，为0表示每次都停止
	HitCondition uint32 `json:"hitCondition,omitempty" yaml:"hitCondition,omitempty"`
	// Hits 已命中次数
	Hits    uint32 `json:"hits" yaml:"hits"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
	// BackendID 后端调试器中的断点编号，0表示尚未同步
	BackendID int `json:"backendId,omitempty" yaml:"backendId,omitempty"`
}

// StackFrame 栈帧
type StackFrame struct {
	ID       int    `json:"id" yaml:"id"` // 栈帧序号，0为最内层
	Function string `json:"function" yaml:"function"`
	File     string `json:"file" yaml:"file"`
	Line     int    `json:"line" yaml:"line"`
	Address  string `json:"address,omitempty" yaml:"address,omitempty"`
}

// VariableInfo 变量或者监视表达式的值
type VariableInfo struct {
	ID    int                 `json:"id,omitempty" yaml:"id,omitempty"` // 监视表达式的编号
	Name  string              `json:"name" yaml:"name"`
	Value string              `json:"value" yaml:"value"`
	Type  string              `json:"type,omitempty" yaml:"type,omitempty"`
	Scope constants.ScopeName `json:"scope" yaml:"scope"`
	// Error 求值失败时的错误信息
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}
