// Package backendtest 提供内存中的后端传输层，用于测试Coordinator和EventLoop
package backendtest

import (
	"context"
	"sync"

	"github.com/fansqz/debug-engine/debugger"
	"github.com/fansqz/debug-engine/debugger/backend"
	e "github.com/fansqz/debug-engine/error"
)

const FakePID = 4242

// Transport 记录写入的命令，输出由测试通过Emit注入
type Transport struct {
	lock    sync.Mutex
	dialect debugger.Dialect

	StartErr     error
	StopErr      error
	InterruptErr error

	started  bool
	exited   bool
	starts   int
	stops    int
	written  []string
	output   []string
	values   map[string]string
	notify   chan struct{}
	lastConf *debugger.DebuggerConfig
}

func New() *Transport {
	return &Transport{
		dialect: &backend.GDBDialect{},
		values:  map[string]string{},
		notify:  make(chan struct{}, 1),
	}
}

// Factory 每次都返回同一个实例，方便测试重复启动会话
func (t *Transport) Factory() debugger.TransportFactory {
	return func(config *debugger.DebuggerConfig) (debugger.Transport, error) {
		return t, nil
	}
}

func (t *Transport) Start(ctx context.Context, config *debugger.DebuggerConfig) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.StartErr != nil {
		return t.StartErr
	}
	t.started = true
	t.exited = false
	t.starts++
	t.lastConf = config
	return nil
}

func (t *Transport) Write(command string) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.started || t.exited {
		return e.ErrInputClosed
	}
	t.written = append(t.written, command)
	return nil
}

func (t *Transport) Evaluate(ctx context.Context, expression string) (string, error) {
	if err := t.Write(t.dialect.Print(expression)); err != nil {
		return "", err
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	value, ok := t.values[expression]
	if !ok {
		return "", e.NewProcessError("No symbol \"" + expression + "\" in current context.")
	}
	return value, nil
}

func (t *Transport) Interrupt() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.started {
		return e.ErrNoProcessID
	}
	return t.InterruptErr
}

func (t *Transport) Stop() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.stops++
	t.started = false
	t.output = nil
	return t.StopErr
}

func (t *Transport) PID() (int, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	return FakePID, t.started
}

func (t *Transport) Running() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.started && !t.exited
}

func (t *Transport) ReadOutput() []string {
	t.lock.Lock()
	defer t.lock.Unlock()
	lines := t.output
	t.output = nil
	return lines
}

func (t *Transport) OutputReady() <-chan struct{} {
	return t.notify
}

func (t *Transport) Dialect() debugger.Dialect {
	return t.dialect
}

// Emit 模拟后端输出
func (t *Transport) Emit(lines ...string) {
	t.lock.Lock()
	t.output = append(t.output, lines...)
	t.lock.Unlock()
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// SetValue 设置求值结果
func (t *Transport) SetValue(expression string, value string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.values[expression] = value
}

// Exit 模拟后端进程自行退出
func (t *Transport) Exit() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.exited = true
}

// Written 已经写入的命令
func (t *Transport) Written() []string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return append([]string(nil), t.written...)
}

// LastWritten 最后一条写入的命令
func (t *Transport) LastWritten() string {
	t.lock.Lock()
	defer t.lock.Unlock()
	if len(t.written) == 0 {
		return ""
	}
	return t.written[len(t.written)-1]
}

func (t *Transport) Starts() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.starts
}

func (t *Transport) Stops() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.stops
}

// LastConfig 最后一次启动使用的配置
func (t *Transport) LastConfig() *debugger.DebuggerConfig {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.lastConf
}
