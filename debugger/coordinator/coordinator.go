package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/fansqz/debug-engine/constants"
	"github.com/fansqz/debug-engine/debugger"
	"github.com/fansqz/debug-engine/debugger/breakpoints"
	"github.com/fansqz/debug-engine/debugger/expressions"
	"github.com/fansqz/debug-engine/debugger/memory"
	"github.com/fansqz/debug-engine/debugger/threads"
	e "github.com/fansqz/debug-engine/error"
	"github.com/fansqz/debug-engine/protocol"
	"github.com/fansqz/debug-engine/utils"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

const DefaultOutputLimit = 1000

var errNoProcessRunning = e.NewStateError("no process is running")

// Coordinator 调试会话协调者
// 唯一持有后端进程、会话状态机以及两个插桩分析子系统的组件。
// 会话相关的方法只能由EventLoop所在的协程调用，
// 插桩相关的方法只访问自带锁的子系统，可以在任意协程调用。
type Coordinator struct {
	factory     debugger.TransportFactory
	profiler    *memory.Profiler
	tracker     *threads.Tracker
	breakpoints *breakpoints.Store
	expressions *expressions.Store
	state       *StateManager
	outputLimit int

	// detectDeadlocks 会话期间是否在后台扫描死锁
	detectDeadlocks bool
	// detecting 本会话已经调用过 StartDetection
	detecting bool

	transport debugger.Transport
	config    *debugger.DebuggerConfig
	events    chan<- protocol.Event

	// lastLocation 最近一次停止的位置，继续执行后仍然保留
	lastLocation *debugger.Location
	// polled 不为nil时表示正在Poll，事件按发生顺序收集后交给调用方
	polled       *[]protocol.Event

	// lock 保护下面这些供其他协程读取的快照
	lock         sync.RWMutex
	sessionID    string
	callStack    []debugger.StackFrame
	variables    []debugger.VariableInfo
	output       []string
	parsedFrames []debugger.StackFrame
}

type Option func(c *Coordinator)

// WithOutputLimit 最多保留的输出行数
func WithOutputLimit(limit int) Option {
	return func(c *Coordinator) {
		if limit > 0 {
			c.outputLimit = limit
		}
	}
}

func WithDeadlockDetection(enabled bool) Option {
	return func(c *Coordinator) {
		c.detectDeadlocks = enabled
	}
}

// WithWatchCacheSize 监视表达式结果缓存大小
func WithWatchCacheSize(size int) Option {
	return func(c *Coordinator) {
		c.expressions = expressions.NewStore(size)
	}
}

func NewCoordinator(factory debugger.TransportFactory, profiler *memory.Profiler, tracker *threads.Tracker, options ...Option) *Coordinator {
	c := &Coordinator{
		factory:     factory,
		profiler:    profiler,
		tracker:     tracker,
		breakpoints: breakpoints.NewStore(),
		expressions: expressions.NewStore(expressions.DefaultCacheSize),
		state:       NewStateManager(),
		outputLimit: DefaultOutputLimit,

		detectDeadlocks: true,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *Coordinator) emit(event protocol.Event) {
	if event == nil {
		return
	}
	if c.polled != nil {
		*c.polled = append(*c.polled, event)
		return
	}
	protocol.Emit(c.events, event)
}

func (c *Coordinator) setState(state debugger.DebuggerState) {
	if event := c.state.SetState(state); event != nil {
		logrus.Infof("[Coordinator] state changed to %s", state)
		c.emit(event)
	}
}

func (c *Coordinator) requireSession() error {
	if c.transport == nil {
		return e.ErrSessionNotStarted
	}
	return nil
}

func (c *Coordinator) requirePaused() error {
	if err := c.requireSession(); err != nil {
		return err
	}
	if !c.state.State().Is(debugger.Paused) {
		return e.ErrNotPaused
	}
	return nil
}

// StartSession 启动后端调试器，同步已有的断点，进入Initializing状态
// 后端启动失败直接返回，不会重试
func (c *Coordinator) StartSession(ctx context.Context, config *debugger.DebuggerConfig, events chan<- protocol.Event) error {
	if config == nil || config.Target == "" {
		return e.ErrEmptyTarget
	}
	if c.transport != nil {
		if c.transport.Running() {
			return e.NewStateError("debug session already started")
		}
		// 上一个后端已经退出
		_ = c.transport.Stop()
		c.transport = nil
		c.release()
	}
	transport, err := c.factory(config)
	if err != nil {
		return e.WrapProcessError("create backend transport fail", err)
	}
	if err = transport.Start(ctx, config); err != nil {
		logrus.Errorf("[Coordinator] start backend fail, err = %v", err)
		return e.WrapProcessError("start backend fail", err)
	}
	c.transport = transport
	c.config = config
	c.events = events
	c.profiler.AddEventSender(events)
	c.tracker.AddEventSender(events)
	if c.detectDeadlocks {
		// 由Stop取消，不跟随本次调用的ctx
		c.tracker.StartDetection(context.Background())
		c.detecting = true
	}

	c.lock.Lock()
	c.sessionID = utils.GetUUID()
	c.lock.Unlock()
	logrus.Infof("[Coordinator] session %s started, target = %s", c.SessionID(), config.Target)

	c.breakpoints.ClearBackendIDs()
	for _, bp := range c.breakpoints.All() {
		if !bp.Enabled {
			continue
		}
		if err = c.write(transport.Dialect().AddBreakpoint(bp.File, bp.Line, bp.Condition)); err != nil {
			logrus.Warnf("[Coordinator] sync breakpoint %d fail, err = %v", bp.ID, err)
		}
	}
	c.setState(debugger.InitializingState(config.Target))
	return nil
}

func (c *Coordinator) write(command string) error {
	if err := c.transport.Write(command); err != nil {
		if e.IsKind(err, e.ProcessError) {
			return err
		}
		return e.WrapProcessError("write command fail", err)
	}
	return nil
}

// resume 让程序继续执行，先切换到Running再写命令
func (c *Coordinator) resume(command func(dialect debugger.Dialect) string) error {
	c.expressions.Purge()
	c.setState(debugger.RunningState())
	return c.write(command(c.transport.Dialect()))
}

func (c *Coordinator) Run() error {
	if err := c.requireSession(); err != nil {
		return err
	}
	if c.state.State().Is(debugger.Running) {
		return e.NewStateError("the program is already running")
	}
	return c.resume(debugger.Dialect.Run)
}

func (c *Coordinator) Continue() error {
	if err := c.requirePaused(); err != nil {
		return err
	}
	return c.resume(debugger.Dialect.Continue)
}

func (c *Coordinator) StepOver() error {
	if err := c.requirePaused(); err != nil {
		return err
	}
	return c.resume(debugger.Dialect.StepOver)
}

func (c *Coordinator) StepInto() error {
	if err := c.requirePaused(); err != nil {
		return err
	}
	return c.resume(debugger.Dialect.StepInto)
}

func (c *Coordinator) StepOut() error {
	if err := c.requirePaused(); err != nil {
		return err
	}
	return c.resume(debugger.Dialect.StepOut)
}

// Pause 向后端进程发送中断信号
func (c *Coordinator) Pause() error {
	if err := c.requireSession(); err != nil {
		return err
	}
	if !c.transport.Running() {
		return errNoProcessRunning
	}
	if err := c.transport.Interrupt(); err != nil {
		if e.IsKind(err, e.ProcessError) {
			return err
		}
		return e.WrapProcessError("interrupt backend fail", err)
	}
	c.setState(debugger.PausedState(constants.PauseStopped, c.currentLocation()))
	return nil
}

// Stop 结束会话，任何状态下都可以调用
// 只有强制终止后端失败时返回错误，无论成功与否都会重置所有状态
func (c *Coordinator) Stop() error {
	var err error
	if c.transport != nil {
		c.setState(debugger.DisconnectedState())
		if err = c.transport.Stop(); err != nil {
			logrus.Errorf("[Coordinator] stop backend fail, err = %v", err)
		}
	}
	c.reset()
	logrus.Infof("[Coordinator] session stopped")
	return err
}

func (c *Coordinator) reset() {
	c.release()
	c.transport = nil
	c.config = nil
	c.lastLocation = nil
	c.breakpoints.Reset()
	c.expressions.Reset()
	c.state.Reset()

	c.lock.Lock()
	defer c.lock.Unlock()
	c.sessionID = ""
	c.callStack = nil
	c.variables = nil
	c.output = nil
	c.parsedFrames = nil
}

// release 只释放本会话在共享子系统上注册的事件通道和后台扫描，其他会话不受影响
func (c *Coordinator) release() {
	if c.events != nil {
		c.profiler.RemoveEventSender(c.events)
		c.tracker.RemoveEventSender(c.events)
		c.events = nil
	}
	if c.detecting {
		c.tracker.StopDetection()
		c.detecting = false
	}
}

// SendCommand 原样写入后端
func (c *Coordinator) SendCommand(command string) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	if !c.transport.Running() {
		return errNoProcessRunning
	}
	return c.write(command)
}

// SetVariable 修改当前栈帧中的变量
func (c *Coordinator) SetVariable(name string, value string) error {
	if err := c.requirePaused(); err != nil {
		return err
	}
	if err := c.write(c.transport.Dialect().SetVariable(name, value)); err != nil {
		return err
	}
	c.expressions.Purge()
	return nil
}

// Evaluate 在暂停状态下对表达式求值
func (c *Coordinator) Evaluate(ctx context.Context, expression string) (debugger.VariableInfo, error) {
	if err := c.requireSession(); err != nil {
		return debugger.VariableInfo{}, err
	}
	return c.expressions.Evaluate(ctx, c.transport, expression, c.state.State())
}

// SelectFrame 切换栈帧，监视表达式需要在新的栈帧中重新求值
func (c *Coordinator) SelectFrame(index int) error {
	if err := c.requirePaused(); err != nil {
		return err
	}
	var frame *debugger.StackFrame
	c.lock.RLock()
	if index < 0 || (len(c.callStack) > 0 && index >= len(c.callStack)) {
		c.lock.RUnlock()
		return fmt.Errorf("frame index %d out of range", index)
	}
	if index < len(c.callStack) {
		f := c.callStack[index]
		frame = &f
	}
	c.lock.RUnlock()
	if err := c.write(c.transport.Dialect().SelectFrame(index)); err != nil {
		return err
	}
	c.expressions.Purge()
	c.emit(c.state.SelectFrame(index, frame))
	return nil
}

// AddBreakpoint 添加断点，会话进行中时同步到后端
func (c *Coordinator) AddBreakpoint(file string, line int, condition string, hitCondition uint32) (int, error) {
	id := c.breakpoints.Add(file, line, condition, hitCondition)
	bp, _ := c.breakpoints.Get(id)
	c.emit(&debugger.BreakpointChanged{Reason: constants.NewType, Breakpoint: bp})
	if c.transport != nil {
		if err := c.write(c.transport.Dialect().AddBreakpoint(file, line, condition)); err != nil {
			return id, err
		}
	}
	return id, nil
}

func (c *Coordinator) RemoveBreakpoint(id int) error {
	bp, err := c.breakpoints.Remove(id)
	if err != nil {
		return err
	}
	c.emit(&debugger.BreakpointChanged{Reason: constants.RemovedType, Breakpoint: bp})
	if c.transport != nil && bp.BackendID != 0 {
		return c.write(c.transport.Dialect().RemoveBreakpoint(bp.BackendID))
	}
	return nil
}

// ToggleBreakpoint 切换断点启用状态，返回切换后的状态
func (c *Coordinator) ToggleBreakpoint(id int) (bool, error) {
	enabled, err := c.breakpoints.Toggle(id)
	if err != nil {
		return false, err
	}
	bp, _ := c.breakpoints.Get(id)
	c.emit(&debugger.BreakpointChanged{Reason: constants.ChangeType, Breakpoint: bp})
	if c.transport == nil {
		return enabled, nil
	}
	dialect := c.transport.Dialect()
	if bp.BackendID == 0 {
		// 会话开始时被禁用的断点还没有同步到后端
		if enabled {
			return enabled, c.write(dialect.AddBreakpoint(bp.File, bp.Line, bp.Condition))
		}
		return enabled, nil
	}
	return enabled, c.write(dialect.EnableBreakpoint(bp.BackendID, enabled))
}

func (c *Coordinator) AddWatchExpression(expression string) int {
	return c.expressions.Add(expression)
}

func (c *Coordinator) RemoveWatchExpression(id int) error {
	_, err := c.expressions.Remove(id)
	return err
}

func (c *Coordinator) UpdateWatchExpression(id int, expression string) error {
	return c.expressions.Update(id, expression)
}

// Poll 读取后端输出并解析，返回需要转发的事件，包括解析过程中发生的状态变化
func (c *Coordinator) Poll() []protocol.Event {
	if c.transport == nil {
		return nil
	}
	var events []protocol.Event
	c.polled = &events
	defer func() {
		c.polled = nil
	}()
	framesChanged := false
	for _, line := range c.transport.ReadOutput() {
		c.appendOutput(line)
		c.emit(&debugger.OutputReceived{Output: line})
		if c.handleLine(line) {
			framesChanged = true
		}
	}
	if framesChanged {
		c.lock.Lock()
		c.callStack = append([]debugger.StackFrame(nil), c.parsedFrames...)
		frames := c.callStack
		c.lock.Unlock()
		c.emit(&debugger.CallStackUpdated{Frames: frames})
	}
	state := c.state.State()
	if !c.transport.Running() && !state.Is(debugger.NotStarted, debugger.Disconnected) {
		logrus.Warnf("[Coordinator] backend exited unexpectedly")
		c.setState(debugger.DisconnectedState())
	}
	return events
}

func (c *Coordinator) appendOutput(line string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.output = append(c.output, line)
	if len(c.output) > c.outputLimit {
		c.output = c.output[len(c.output)-c.outputLimit:]
	}
}

// handleLine 解析一行输出，返回调用栈是否发生变化
func (c *Coordinator) handleLine(line string) bool {
	dialect := c.transport.Dialect()
	if id, file, lineNo, ok := dialect.ParseBreakpointSet(line); ok {
		if bp, found := c.breakpoints.FindByLocation(file, lineNo); found {
			_ = c.breakpoints.SetBackendID(bp.ID, id)
			bp.BackendID = id
			c.emit(&debugger.BreakpointChanged{Reason: constants.ChangeType, Breakpoint: bp})
		}
		return false
	}
	if code, ok := dialect.ParseExit(line); ok {
		logrus.Infof("[Coordinator] program exited with code %d", code)
		c.lock.Lock()
		c.callStack = nil
		c.variables = nil
		c.parsedFrames = nil
		c.lock.Unlock()
		c.lastLocation = nil
		c.setState(debugger.InitializingState(c.config.Target))
		return false
	}
	if frame, ok := dialect.ParseFrame(line); ok {
		c.lock.Lock()
		defer c.lock.Unlock()
		if frame.ID == 0 {
			c.parsedFrames = nil
		}
		// frame命令只输出单个栈帧，不连续的栈帧不属于backtrace
		if frame.ID != len(c.parsedFrames) {
			return false
		}
		c.parsedFrames = append(c.parsedFrames, *frame)
		return true
	}
	if stop, ok := dialect.ParseStop(line); ok && c.acceptStop(stop) {
		c.handleStop(stop)
	}
	return false
}

// acceptStop 只有程序在运行时才会出现单步停止，避免把list等命令的输出误认为停止
// 通过SendCommand直接run时状态仍是Initializing，此时只接受断点和信号
func (c *Coordinator) acceptStop(stop *debugger.StopInfo) bool {
	state := c.state.State()
	switch {
	case state.Is(debugger.Running):
		return true
	case state.Is(debugger.Initializing):
		return stop.Reason == constants.BreakpointStopped || stop.Reason == constants.SignalStopped
	default:
		return false
	}
}

func (c *Coordinator) handleStop(stop *debugger.StopInfo) {
	location := stop.Location
	if stop.Reason == constants.BreakpointStopped {
		if bp, ok := c.breakpoints.FindByBackendID(stop.BreakpointID); ok {
			hit, shouldStop, err := c.breakpoints.RecordHit(bp.ID)
			if err == nil {
				c.emit(&debugger.BreakpointChanged{Reason: constants.HitType, Breakpoint: hit})
			}
			if !shouldStop {
				logrus.Debugf("[Coordinator] breakpoint %d hit %d/%d, continue", hit.ID, hit.Hits, hit.HitCondition)
				if err = c.write(c.transport.Dialect().Continue()); err != nil {
					logrus.Errorf("[Coordinator] continue after breakpoint hit fail, err = %v", err)
				}
				return
			}
			if location == nil {
				location = &debugger.Location{File: bp.File, Line: bp.Line}
			}
		}
	}
	location = c.mergeLocation(location)
	if location != nil {
		c.lastLocation = location
	}
	c.expressions.Purge()
	c.setState(debugger.PausedState(stop.Reason, location))
}

// mergeLocation 同一函数内单步时后端只输出行号，文件和函数沿用当前位置
func (c *Coordinator) mergeLocation(location *debugger.Location) *debugger.Location {
	if location == nil || location.File != "" {
		return location
	}
	current := c.currentLocation()
	if current == nil {
		return location
	}
	return &debugger.Location{File: current.File, Line: location.Line, Function: current.Function}
}

// currentLocation 最近一次停止的位置，没有时取栈顶
func (c *Coordinator) currentLocation() *debugger.Location {
	if c.lastLocation != nil {
		return c.lastLocation
	}
	c.lock.RLock()
	defer c.lock.RUnlock()
	if len(c.callStack) == 0 || c.callStack[0].File == "" {
		return nil
	}
	top := c.callStack[0]
	return &debugger.Location{File: top.File, Line: top.Line, Function: top.Function}
}

// RefreshSnapshots 暂停时刷新调用栈和监视表达式
// 调用栈由后端异步输出，在之后的Poll中解析
func (c *Coordinator) RefreshSnapshots(ctx context.Context) []protocol.Event {
	if c.requirePaused() != nil {
		return nil
	}
	if err := c.write(c.transport.Dialect().Backtrace()); err != nil {
		logrus.Warnf("[Coordinator] request backtrace fail, err = %v", err)
	}
	variables, err := c.expressions.EvaluateAll(ctx, c.transport, c.state.State())
	if err != nil {
		logrus.Warnf("[Coordinator] evaluate watch expressions fail, err = %v", err)
		return nil
	}
	c.lock.Lock()
	c.variables = variables
	c.lock.Unlock()
	return []protocol.Event{&debugger.VariablesUpdated{Variables: variables}}
}

func (c *Coordinator) State() debugger.DebuggerState {
	return c.state.State()
}

func (c *Coordinator) SessionID() string {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.sessionID
}

func (c *Coordinator) CallStack() []debugger.StackFrame {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return append([]debugger.StackFrame(nil), c.callStack...)
}

func (c *Coordinator) Variables() []debugger.VariableInfo {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return append([]debugger.VariableInfo(nil), c.variables...)
}

func (c *Coordinator) Output() []string {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return append([]string(nil), c.output...)
}

func (c *Coordinator) CurrentFrame() int {
	return c.state.CurrentFrame()
}

func (c *Coordinator) Breakpoints() []debugger.Breakpoint {
	return c.breakpoints.All()
}

// BreakpointsInFile 指定文件中的断点
func (c *Coordinator) BreakpointsInFile(file string) []debugger.Breakpoint {
	return lo.Filter(c.breakpoints.All(), func(bp debugger.Breakpoint, _ int) bool {
		return bp.File == file
	})
}

func (c *Coordinator) WatchExpressions() []debugger.VariableInfo {
	return c.expressions.List()
}

// OutputReady 后端有新输出时收到通知，没有会话时返回nil
func (c *Coordinator) OutputReady() <-chan struct{} {
	if c.transport == nil {
		return nil
	}
	return c.transport.OutputReady()
}

func (c *Coordinator) Profiler() *memory.Profiler {
	return c.profiler
}

func (c *Coordinator) Tracker() *threads.Tracker {
	return c.tracker
}
