package debugger

import (
	"context"
)

// Transport 后端调试器进程的传输层
// 负责拉起后端进程、向其标准输入写命令、读取其输出以及发送信号
type Transport interface {
	// Start 拉起后端调试器进程，失败时返回的错误对会话是致命的
	Start(ctx context.Context, config *DebuggerConfig) error
	// Write 写入一条命令，自动追加换行
	Write(command string) error
	// Evaluate 写入求值命令并等待结果
	Evaluate(ctx context.Context, expression string) (string, error)
	// Interrupt 向后端进程发送中断信号
	Interrupt() error
	// Stop 先优雅终止，失败时强制终止，强制终止失败返回错误
	Stop() error
	// PID 后端进程号
	PID() (int, bool)
	// Running 后端进程是否存活
	Running() bool
	// ReadOutput 取出自上次读取以来的所有输出行
	ReadOutput() []string
	// OutputReady 有新输出时收到通知
	OutputReady() <-chan struct{}
	// Dialect 后端命令方言
	Dialect() Dialect
}

// Dialect 后端调试器的命令和输出格式
type Dialect interface {
	// Name 默认的可执行文件名称
	Name() string
	// LaunchArgs 启动后端进程的参数
	LaunchArgs(config *DebuggerConfig, args []string) []string
	// InitCommands 后端启动后首先执行的设置命令
	InitCommands() []string
	// TrimPrompt 去掉输出行开头的提示符
	TrimPrompt(line string) string
	Run() string
	Continue() string
	StepOver() string
	StepInto() string
	StepOut() string
	Backtrace() string
	Print(expression string) string
	SetVariable(name string, value string) string
	SelectFrame(index int) string
	AddBreakpoint(file string, line int, condition string) string
	RemoveBreakpoint(id int) string
	EnableBreakpoint(id int, enabled bool) string

	// ParseStop 解析停止输出，ok为false表示不是停止输出
	ParseStop(line string) (stop *StopInfo, ok bool)
	// ParseFrame 解析backtrace中的一个栈帧
	ParseFrame(line string) (*StackFrame, bool)
	// ParseExit 解析程序退出输出
	ParseExit(line string) (exitCode int, ok bool)
	// ParseValue 解析求值结果
	ParseValue(line string) (string, bool)
	// ParseError 解析命令执行失败的输出
	ParseError(line string) (string, bool)
	// ParseBreakpointSet 解析断点设置成功的输出
	ParseBreakpointSet(line string) (id int, file string, lineNo int, ok bool)
}

// TransportFactory 每次启动会话时创建新的传输层
type TransportFactory func(config *DebuggerConfig) (Transport, error)
