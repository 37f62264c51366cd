package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fansqz/debug-engine/debugger"
	"github.com/fansqz/debug-engine/debugger/coordinator"
	"github.com/fansqz/debug-engine/protocol"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPollInterval = 10 * time.Millisecond
	DefaultEventBuffer  = 1024
)

var ErrLoopStopped = errors.New("event loop stopped")

// EventLoop 单协程的协作式调度器
// 依次处理队列中的命令，队列为空时轮询后端输出，Coordinator只在该协程中被访问
type EventLoop struct {
	coordinator  *coordinator.Coordinator
	queue        *CommandQueue
	events       chan protocol.Event
	clock        clock.Clock
	pollInterval time.Duration

	running atomic.Bool
	done    chan struct{}

	// refreshed 最近一次刷新快照时的状态，dirty表示需要重新刷新
	refreshed debugger.DebuggerState
	dirty     bool
}

type Option func(l *EventLoop)

func WithClock(c clock.Clock) Option {
	return func(l *EventLoop) {
		l.clock = c
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(l *EventLoop) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// WithEventBuffer 事件通道缓冲大小，缓冲满时丢弃事件
func WithEventBuffer(size int) Option {
	return func(l *EventLoop) {
		if size > 0 {
			l.events = make(chan protocol.Event, size)
		}
	}
}

func NewEventLoop(c *coordinator.Coordinator, options ...Option) *EventLoop {
	l := &EventLoop{
		coordinator:  c,
		queue:        NewCommandQueue(),
		events:       make(chan protocol.Event, DefaultEventBuffer),
		clock:        clock.New(),
		pollInterval: DefaultPollInterval,
		done:         make(chan struct{}),
	}
	for _, option := range options {
		option(l)
	}
	return l
}

// Events 输出事件流
func (l *EventLoop) Events() <-chan protocol.Event {
	return l.events
}

// Submit 提交命令，不等待结果
func (l *EventLoop) Submit(command Command) {
	l.queue.push(&request{command: command})
}

// Call 提交命令并等待执行结果
func (l *EventLoop) Call(ctx context.Context, command Command) (interface{}, error) {
	reply := make(chan Result, 1)
	l.queue.push(&request{command: command, reply: reply})
	select {
	case result := <-reply:
		return result.Value, result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		// 循环结束前可能已经回复
		select {
		case result := <-reply:
			return result.Value, result.Err
		default:
			return nil, ErrLoopStopped
		}
	}
}

func (l *EventLoop) Running() bool {
	return l.running.Load()
}

// Done 事件循环结束时关闭
func (l *EventLoop) Done() <-chan struct{} {
	return l.done
}

// Run 运行事件循环，直到收到Stop命令或者ctx被取消
func (l *EventLoop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("event loop already running")
	}
	defer close(l.done)
	defer l.running.Store(false)
	logrus.Infof("[EventLoop] started, poll interval = %s", l.pollInterval)

	ticker := l.clock.Ticker(l.pollInterval)
	defer ticker.Stop()
	for {
		requests := l.queue.drain()
		for i, req := range requests {
			l.dispatch(ctx, req)
			if !l.running.Load() {
				l.reject(requests[i+1:])
				l.reject(l.queue.drain())
				logrus.Infof("[EventLoop] stopped")
				return nil
			}
		}
		if len(requests) == 0 {
			l.poll(ctx)
		}

		select {
		case <-ctx.Done():
			logrus.Infof("[EventLoop] context done, stop session")
			if err := l.coordinator.Stop(); err != nil {
				logrus.Errorf("[EventLoop] stop session fail, err = %v", err)
			}
			l.reject(l.queue.drain())
			return ctx.Err()
		case <-ticker.C:
		case <-l.queue.Notify():
		case <-l.coordinator.OutputReady():
		}
	}
}

func (l *EventLoop) reject(requests []*request) {
	for _, req := range requests {
		if req.reply != nil {
			req.reply <- Result{Err: ErrLoopStopped}
		}
	}
}

func (l *EventLoop) emit(event protocol.Event) {
	protocol.Emit(l.events, event)
}

// dispatch 执行一条命令，失败时输出错误事件，不影响后续命令
func (l *EventLoop) dispatch(ctx context.Context, req *request) {
	name := req.command.Name()
	value, err := l.execute(ctx, req.command)
	if err != nil {
		logrus.Errorf("[EventLoop] command %s fail, err = %v", name, err)
		l.emit(&debugger.ErrorNotification{Command: name, Message: err.Error()})
	}
	if req.reply != nil {
		req.reply <- Result{Value: value, Err: err}
	}
}

func (l *EventLoop) execute(ctx context.Context, command Command) (interface{}, error) {
	c := l.coordinator
	switch cmd := command.(type) {
	case *StartSession:
		l.refreshed = debugger.NotStartedState()
		return nil, c.StartSession(ctx, cmd.Config, l.events)
	case *SendCommand:
		return nil, c.SendCommand(cmd.Command)
	case *Run:
		return nil, c.Run()
	case *Continue:
		return nil, c.Continue()
	case *StepOver:
		return nil, c.StepOver()
	case *StepInto:
		return nil, c.StepInto()
	case *StepOut:
		return nil, c.StepOut()
	case *Pause:
		return nil, c.Pause()
	case *Stop:
		l.running.Store(false)
		return nil, c.Stop()
	case *EvaluateExpression:
		info, err := c.Evaluate(ctx, cmd.Expression)
		if err != nil {
			return nil, err
		}
		l.emit(&debugger.OutputReceived{Output: fmt.Sprintf("%s = %s", info.Name, info.Value)})
		return info, nil
	case *SetVariable:
		l.dirty = true
		return nil, c.SetVariable(cmd.Variable, cmd.Value)
	case *AddBreakpoint:
		return c.AddBreakpoint(cmd.File, cmd.Line, cmd.Condition, cmd.HitCondition)
	case *RemoveBreakpoint:
		return nil, c.RemoveBreakpoint(cmd.ID)
	case *ToggleBreakpoint:
		return c.ToggleBreakpoint(cmd.ID)
	case *AddWatchExpression:
		l.dirty = true
		return c.AddWatchExpression(cmd.Expression), nil
	case *RemoveWatchExpression:
		l.dirty = true
		return nil, c.RemoveWatchExpression(cmd.ID)
	case *SelectFrame:
		l.dirty = true
		return nil, c.SelectFrame(cmd.Index)
	default:
		return nil, fmt.Errorf("unknown command %T", command)
	}
}

// poll 队列为空时读取后端输出，进入暂停状态时刷新调用栈和监视表达式
func (l *EventLoop) poll(ctx context.Context) {
	for _, event := range l.coordinator.Poll() {
		l.emit(event)
	}
	state := l.coordinator.State()
	if !state.Is(debugger.Paused) {
		l.refreshed = state
		return
	}
	if state.Equal(l.refreshed) && !l.dirty {
		return
	}
	l.refreshed = state
	l.dirty = false
	for _, event := range l.coordinator.RefreshSnapshots(ctx) {
		l.emit(event)
	}
}
