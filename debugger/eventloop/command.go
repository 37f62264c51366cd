package eventloop

import (
	"github.com/fansqz/debug-engine/constants"
	"github.com/fansqz/debug-engine/debugger"
)

// Command 事件循环接收的命令，消费方通过 type switch 区分
type Command interface {
	Name() constants.CommandType
}

type StartSession struct {
	Config *debugger.DebuggerConfig
}

type SendCommand struct {
	Command string
}

type Run struct{}

type Continue struct{}

type StepOver struct{}

type StepInto struct{}

type StepOut struct{}

type Pause struct{}

// Stop 结束会话，同时结束事件循环
type Stop struct{}

type EvaluateExpression struct {
	Expression string
}

type SetVariable struct {
	Variable string
	Value    string
}

type AddBreakpoint struct {
	File      string
	Line      int
	Condition string
	// HitCondition 命中多少次后才停止
	HitCondition uint32
}

type RemoveBreakpoint struct {
	ID int
}

type ToggleBreakpoint struct {
	ID int
}

type AddWatchExpression struct {
	Expression string
}

type RemoveWatchExpression struct {
	ID int
}

type SelectFrame struct {
	Index int
}

func (*StartSession) Name() constants.CommandType { return constants.StartSession }
func (*SendCommand) Name() constants.CommandType { return constants.SendCommand }
func (*Run) Name() constants.CommandType { return constants.Run }
func (*Continue) Name() constants.CommandType { return constants.Continue }
func (*StepOver) Name() constants.CommandType { return constants.StepOver }
func (*StepInto) Name() constants.CommandType { return constants.StepInto }
func (*StepOut) Name() constants.CommandType { return constants.StepOut }
func (*Pause) Name() constants.CommandType { return constants.Pause }
func (*Stop) Name() constants.CommandType { return constants.Stop }
func (*EvaluateExpression) Name() constants.CommandType { return constants.EvaluateExpression }
func (*SetVariable) Name() constants.CommandType { return constants.SetVariable }
func (*AddBreakpoint) Name() constants.CommandType { return constants.AddBreakpoint }
func (*RemoveBreakpoint) Name() constants.CommandType { return constants.RemoveBreakpoint }
func (*ToggleBreakpoint) Name() constants.CommandType { return constants.ToggleBreakpoint }
func (*AddWatchExpression) Name() constants.CommandType { return constants.AddWatchExpression }
func (*RemoveWatchExpression) Name() constants.CommandType { return constants.RemoveWatchExpression }
func (*SelectFrame) Name() constants.CommandType { return constants.SelectFrame }
