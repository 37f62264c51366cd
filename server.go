package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/fansqz/debug-engine/constants"
	"github.com/fansqz/debug-engine/debugger"
	"github.com/fansqz/debug-engine/debugger/coordinator"
	"github.com/fansqz/debug-engine/debugger/eventloop"
	"github.com/fansqz/debug-engine/protocol"
	"github.com/fansqz/debug-engine/utils"
	"github.com/fansqz/debug-engine/utils/gosync"
	"github.com/google/go-dap"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

const (
	// mainThreadID 被调试程序在DAP中只暴露一个线程
	mainThreadID = 1
	// watchScopeReference 监视表达式作用域的variablesReference
	watchScopeReference = 1
)

// launchArguments launch请求的参数
type launchArguments struct {
	Program string            `json:"program"`
	Args    string            `json:"args"`
	Cwd     string            `json:"cwd"`
	Env     map[string]string `json:"env"`
}

// handleConnection 处理一个DAP客户端连接
// 每个连接拥有独立的协调器和事件循环，连接断开时结束会话
func handleConnection(ctx context.Context, conn net.Conn, engine *Engine) {
	ctx, cancel := context.WithCancel(ctx)
	c, loop := engine.NewSession(ctx)
	debugSession := &DebugSession{
		id:          utils.GetShortID(),
		conn:        conn,
		rw:          bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		engine:      engine,
		coordinator: c,
		loop:        loop,
	}
	logrus.Infof("[Server] connection %s from %s", debugSession.id, conn.RemoteAddr())
	gosync.Go(ctx, debugSession.forwardEvents)

	for {
		err := debugSession.handleRequest(ctx)
		if err != nil {
			if err == io.EOF {
				logrus.Infof("[Server] connection %s closed by client", debugSession.id)
			} else {
				logrus.Errorf("[Server] connection %s read fail, err = %v", debugSession.id, err)
			}
			break
		}
	}

	// 取消ctx会让事件循环结束会话
	cancel()
	<-loop.Done()
	_ = conn.Close()
}

// DebugSession 一个DAP连接上的调试会话
type DebugSession struct {
	id   string
	conn net.Conn
	// rw is used to read requests and write events/responses
	rw *bufio.ReadWriter

	engine      *Engine
	coordinator *coordinator.Coordinator
	loop        *eventloop.EventLoop

	// sendLock 请求处理和事件转发在不同协程中写连接
	sendLock sync.Mutex
}

func (d *DebugSession) handleRequest(ctx context.Context) error {
	request, err := dap.ReadProtocolMessage(d.rw.Reader)
	if err != nil {
		return err
	}
	d.dispatchRequest(ctx, request)
	return nil
}

func (d *DebugSession) dispatchRequest(ctx context.Context, request dap.Message) {
	switch request := request.(type) {
	case *dap.InitializeRequest:
		d.onInitializeRequest(request)
	case *dap.LaunchRequest:
		d.onLaunchRequest(ctx, request)
	case *dap.ConfigurationDoneRequest:
		d.onConfigurationDoneRequest(ctx, request)
	case *dap.SetBreakpointsRequest:
		d.onSetBreakpointsRequest(ctx, request)
	case *dap.ContinueRequest:
		d.onContinueRequest(ctx, request)
	case *dap.NextRequest:
		d.onNextRequest(ctx, request)
	case *dap.StepInRequest:
		d.onStepInRequest(ctx, request)
	case *dap.StepOutRequest:
		d.onStepOutRequest(ctx, request)
	case *dap.PauseRequest:
		d.onPauseRequest(ctx, request)
	case *dap.DisconnectRequest:
		d.onDisconnectRequest(ctx, request)
	case *dap.TerminateRequest:
		d.onTerminateRequest(ctx, request)
	case *dap.EvaluateRequest:
		d.onEvaluateRequest(ctx, request)
	case *dap.SetVariableRequest:
		d.onSetVariableRequest(ctx, request)
	case *dap.ThreadsRequest:
		d.onThreadsRequest(request)
	case *dap.StackTraceRequest:
		d.onStackTraceRequest(request)
	case *dap.ScopesRequest:
		d.onScopesRequest(ctx, request)
	case *dap.VariablesRequest:
		d.onVariablesRequest(request)
	case dap.RequestMessage:
		baseReq := request.GetRequest()
		d.send(newErrorResponse(baseReq.Seq, baseReq.Command, fmt.Sprintf("%s is not yet supported", baseReq.Command)))
	default:
		logrus.Warnf("[Server] unable to process %#v", request)
	}
}

// send Message响应给客户端
func (d *DebugSession) send(message dap.Message) {
	d.sendLock.Lock()
	defer d.sendLock.Unlock()
	if err := dap.WriteProtocolMessage(d.rw.Writer, message); err != nil {
		logrus.Warnf("[Server] write message fail, err = %v", err)
		return
	}
	_ = d.rw.Flush()
}

// forwardEvents 把事件循环输出的事件转换成DAP事件发送给客户端
func (d *DebugSession) forwardEvents(ctx context.Context) {
	for {
		select {
		case event := <-d.loop.Events():
			if message := toDAPEvent(event); message != nil {
				d.send(message)
			}
		case <-d.loop.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

// toDAPEvent 会话事件转换成标准DAP事件，插桩分析事件转换成自定义事件
// 调用栈和变量由客户端主动拉取，不需要转发
func toDAPEvent(event protocol.Event) dap.Message {
	switch event := event.(type) {
	case *debugger.StateChanged:
		return stateToDAPEvent(event.State)
	case *debugger.OutputReceived:
		return &dap.OutputEvent{
			Event: *newEvent("output"),
			Body:  dap.OutputEventBody{Category: "console", Output: event.Output + "\n"},
		}
	case *debugger.ErrorNotification:
		return &dap.OutputEvent{
			Event: *newEvent("output"),
			Body:  dap.OutputEventBody{Category: "stderr", Output: fmt.Sprintf("%s: %s\n", event.Command, event.Message)},
		}
	case *debugger.BreakpointChanged:
		reason := string(event.Reason)
		if event.Reason == constants.HitType {
			reason = string(constants.ChangeType)
		}
		return &dap.BreakpointEvent{
			Event: *newEvent("breakpoint"),
			Body:  dap.BreakpointEventBody{Reason: reason, Breakpoint: toDAPBreakpoint(event.Breakpoint)},
		}
	case *debugger.CallStackUpdated, *debugger.VariablesUpdated, *debugger.FrameSelected:
		return nil
	default:
		return protocol.NewInstrumentationEvent(0, event)
	}
}

func stateToDAPEvent(state debugger.DebuggerState) dap.Message {
	switch state.Kind {
	case debugger.Running:
		return &dap.ContinuedEvent{
			Event: *newEvent("continued"),
			Body:  dap.ContinuedEventBody{ThreadId: mainThreadID, AllThreadsContinued: true},
		}
	case debugger.Paused:
		body := dap.StoppedEventBody{Reason: string(state.Reason), ThreadId: mainThreadID, AllThreadsStopped: true}
		if state.Location != nil {
			body.Description = state.Location.String()
		}
		return &dap.StoppedEvent{Event: *newEvent("stopped"), Body: body}
	case debugger.Disconnected:
		return &dap.TerminatedEvent{Event: *newEvent("terminated")}
	default:
		return nil
	}
}

func toDAPBreakpoint(bp debugger.Breakpoint) dap.Breakpoint {
	return dap.Breakpoint{
		Id:       bp.ID,
		Verified: bp.Enabled,
		Line:     bp.Line,
		Source:   &dap.Source{Name: filepath.Base(bp.File), Path: bp.File},
	}
}

// -----------------------------------------------------------------------
// Request Handlers

func (d *DebugSession) onInitializeRequest(request *dap.InitializeRequest) {
	response := &dap.InitializeResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.SupportsConfigurationDoneRequest = true
	response.Body.SupportsConditionalBreakpoints = true
	response.Body.SupportsHitConditionalBreakpoints = true
	response.Body.SupportsEvaluateForHovers = true
	response.Body.SupportsSetVariable = true
	response.Body.SupportsTerminateRequest = true
	response.Body.ExceptionBreakpointFilters = []dap.ExceptionBreakpointsFilter{}
	// 客户端收到initialized以后开始设置断点，最后发送configurationDone
	e := &dap.InitializedEvent{Event: *newEvent("initialized")}
	d.send(e)
	d.send(response)
}

func (d *DebugSession) onLaunchRequest(ctx context.Context, request *dap.LaunchRequest) {
	args := launchArguments{}
	if len(request.Arguments) != 0 {
		if err := json.Unmarshal(request.Arguments, &args); err != nil {
			d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
			return
		}
	}
	config := d.engine.DebuggerConfig(args.Program, args.Args)
	config.WorkingDir = args.Cwd
	config.Env = args.Env
	if _, err := d.loop.Call(ctx, &eventloop.StartSession{Config: config}); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.LaunchResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onConfigurationDoneRequest(ctx context.Context, request *dap.ConfigurationDoneRequest) {
	if _, err := d.loop.Call(ctx, &eventloop.Run{}); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.ConfigurationDoneResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

// onSetBreakpointsRequest 客户端每次发送一个文件的全部断点，与已有断点做差异同步
func (d *DebugSession) onSetBreakpointsRequest(ctx context.Context, request *dap.SetBreakpointsRequest) {
	file := request.Arguments.Source.Path
	existing := lo.KeyBy(d.coordinator.BreakpointsInFile(file), func(bp debugger.Breakpoint) int {
		return bp.Line
	})
	requested := lo.Map(request.Arguments.Breakpoints, func(bp dap.SourceBreakpoint, _ int) int {
		return bp.Line
	})

	// 移除不再需要的断点
	for _, line := range utils.Difference(lo.Keys(existing), utils.List2set(requested)) {
		if _, err := d.loop.Call(ctx, &eventloop.RemoveBreakpoint{ID: existing[line].ID}); err != nil {
			logrus.Warnf("[Server] remove breakpoint %s:%d fail, err = %v", file, line, err)
		}
	}

	response := &dap.SetBreakpointsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Breakpoints = make([]dap.Breakpoint, len(request.Arguments.Breakpoints))
	for i, b := range request.Arguments.Breakpoints {
		response.Body.Breakpoints[i] = dap.Breakpoint{
			Line:   b.Line,
			Source: &dap.Source{Name: filepath.Base(file), Path: file},
		}
		if bp, ok := existing[b.Line]; ok {
			response.Body.Breakpoints[i].Id = bp.ID
			response.Body.Breakpoints[i].Verified = bp.Enabled
			continue
		}
		hitCondition, _ := strconv.ParseUint(b.HitCondition, 10, 32)
		value, err := d.loop.Call(ctx, &eventloop.AddBreakpoint{
			File:         file,
			Line:         b.Line,
			Condition:    b.Condition,
			HitCondition: uint32(hitCondition),
		})
		if err != nil {
			response.Body.Breakpoints[i].Message = err.Error()
			continue
		}
		response.Body.Breakpoints[i].Id = value.(int)
		response.Body.Breakpoints[i].Verified = true
	}
	d.send(response)
}

func (d *DebugSession) onContinueRequest(ctx context.Context, request *dap.ContinueRequest) {
	if _, err := d.loop.Call(ctx, &eventloop.Continue{}); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.ContinueResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.AllThreadsContinued = true
	d.send(response)
}

func (d *DebugSession) onNextRequest(ctx context.Context, request *dap.NextRequest) {
	if _, err := d.loop.Call(ctx, &eventloop.StepOver{}); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.NextResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onStepInRequest(ctx context.Context, request *dap.StepInRequest) {
	if _, err := d.loop.Call(ctx, &eventloop.StepInto{}); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.StepInResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onStepOutRequest(ctx context.Context, request *dap.StepOutRequest) {
	if _, err := d.loop.Call(ctx, &eventloop.StepOut{}); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.StepOutResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onPauseRequest(ctx context.Context, request *dap.PauseRequest) {
	if _, err := d.loop.Call(ctx, &eventloop.Pause{}); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.PauseResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

// stop 结束会话，事件循环随之结束
func (d *DebugSession) stop(ctx context.Context) error {
	_, err := d.loop.Call(ctx, &eventloop.Stop{})
	if err == eventloop.ErrLoopStopped {
		return nil
	}
	return err
}

func (d *DebugSession) onDisconnectRequest(ctx context.Context, request *dap.DisconnectRequest) {
	if err := d.stop(ctx); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.DisconnectResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onTerminateRequest(ctx context.Context, request *dap.TerminateRequest) {
	if err := d.stop(ctx); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.TerminateResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

// onEvaluateRequest watch上下文的表达式同时加入监视列表
func (d *DebugSession) onEvaluateRequest(ctx context.Context, request *dap.EvaluateRequest) {
	expression := request.Arguments.Expression
	if request.Arguments.Context == "watch" {
		if _, err := d.loop.Call(ctx, &eventloop.AddWatchExpression{Expression: expression}); err != nil {
			d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
			return
		}
	}
	value, err := d.loop.Call(ctx, &eventloop.EvaluateExpression{Expression: expression})
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	info := value.(debugger.VariableInfo)
	response := &dap.EvaluateResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Result = info.Value
	response.Body.Type = info.Type
	d.send(response)
}

func (d *DebugSession) onSetVariableRequest(ctx context.Context, request *dap.SetVariableRequest) {
	_, err := d.loop.Call(ctx, &eventloop.SetVariable{Variable: request.Arguments.Name, Value: request.Arguments.Value})
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.SetVariableResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Value = request.Arguments.Value
	d.send(response)
}

func (d *DebugSession) onThreadsRequest(request *dap.ThreadsRequest) {
	response := &dap.ThreadsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Threads = []dap.Thread{{Id: mainThreadID, Name: "main"}}
	d.send(response)
}

func (d *DebugSession) onStackTraceRequest(request *dap.StackTraceRequest) {
	frames := d.coordinator.CallStack()
	stackFrames := lo.Map(frames, func(frame debugger.StackFrame, _ int) dap.StackFrame {
		stackFrame := dap.StackFrame{Id: frame.ID, Name: frame.Function, Line: frame.Line}
		if frame.File != "" {
			stackFrame.Source = &dap.Source{Name: filepath.Base(frame.File), Path: frame.File}
		}
		return stackFrame
	})
	response := &dap.StackTraceResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.StackTraceResponseBody{
		StackFrames: stackFrames,
		TotalFrames: len(stackFrames),
	}
	d.send(response)
}

// onScopesRequest 切换到请求的栈帧，监视表达式会在该栈帧上重新求值
func (d *DebugSession) onScopesRequest(ctx context.Context, request *dap.ScopesRequest) {
	if request.Arguments.FrameId != d.coordinator.CurrentFrame() {
		if _, err := d.loop.Call(ctx, &eventloop.SelectFrame{Index: request.Arguments.FrameId}); err != nil {
			d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
			return
		}
	}
	response := &dap.ScopesResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.ScopesResponseBody{
		Scopes: []dap.Scope{{Name: "Watch", VariablesReference: watchScopeReference}},
	}
	d.send(response)
}

func (d *DebugSession) onVariablesRequest(request *dap.VariablesRequest) {
	var variables []dap.Variable
	if request.Arguments.VariablesReference == watchScopeReference {
		variables = lo.Map(d.coordinator.Variables(), func(v debugger.VariableInfo, _ int) dap.Variable {
			value := v.Value
			if v.Error != "" {
				value = v.Error
			}
			return dap.Variable{Name: v.Name, Value: value, Type: v.Type, EvaluateName: v.Name}
		})
	}
	response := &dap.VariablesResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.VariablesResponseBody{
		Variables: variables,
	}
	d.send(response)
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}

func newResponse(requestSeq int, command string) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "response",
		},
		Command:    command,
		RequestSeq: requestSeq,
		Success:    true,
	}
}

func newErrorResponse(requestSeq int, command string, message string) *dap.ErrorResponse {
	er := &dap.ErrorResponse{}
	er.Response = *newResponse(requestSeq, command)
	er.Success = false
	er.Message = message
	er.Body.Error = &dap.ErrorMessage{}
	er.Body.Error.Format = message
	er.Body.Error.Id = 12345
	return er
}
