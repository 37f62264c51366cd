package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/fansqz/debug-engine/config"
	"github.com/fansqz/debug-engine/constants"
	"github.com/fansqz/debug-engine/debugger"
	"github.com/fansqz/debug-engine/debugger/backend/backendtest"
	"github.com/fansqz/debug-engine/debugger/threads"
	"github.com/fansqz/debug-engine/protocol"
	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dapClient struct {
	conn   net.Conn
	reader *bufio.Reader
	seq    int
}

// startServer 使用假的后端启动一个DAP连接
func startServer(t *testing.T) (*dapClient, *backendtest.Transport) {
	transport := backendtest.New()
	engine := newEngine(config.Default(), transport.Factory())

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		handleConnection(ctx, conn, engine)
	}()

	conn, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		_ = listener.Close()
		<-done
	})
	return &dapClient{conn: conn, reader: bufio.NewReader(conn)}, transport
}

func (c *dapClient) request(command string) dap.Request {
	c.seq++
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Seq: c.seq, Type: "request"},
		Command:         command,
	}
}

func (c *dapClient) send(t *testing.T, message dap.Message) {
	require.NoError(t, dap.WriteProtocolMessage(c.conn, message))
}

// readUntil 读取消息直到满足条件，之前的消息被丢弃
func (c *dapClient) readUntil(t *testing.T, match func(message dap.Message) bool) dap.Message {
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		message, err := dap.ReadProtocolMessage(c.reader)
		require.NoError(t, err)
		if match(message) {
			return message
		}
	}
}

func isMessage[T dap.Message]() func(message dap.Message) bool {
	return func(message dap.Message) bool {
		_, ok := message.(T)
		return ok
	}
}

func TestDAPSession(t *testing.T) {
	client, transport := startServer(t)

	client.send(t, &dap.InitializeRequest{Request: client.request("initialize")})
	initialize := client.readUntil(t, isMessage[*dap.InitializeResponse]()).(*dap.InitializeResponse)
	assert.True(t, initialize.Success)
	assert.True(t, initialize.Body.SupportsConfigurationDoneRequest)

	client.send(t, &dap.LaunchRequest{
		Request:   client.request("launch"),
		Arguments: json.RawMessage(`{"program":"app","args":"-v"}`),
	})
	launch := client.readUntil(t, isMessage[*dap.LaunchResponse]()).(*dap.LaunchResponse)
	assert.True(t, launch.Success)
	assert.Equal(t, "app", transport.LastConfig().Target)
	assert.Equal(t, "-v", transport.LastConfig().Args)
	assert.Equal(t, constants.BackendGDB, transport.LastConfig().Backend)

	client.send(t, &dap.SetBreakpointsRequest{
		Request: client.request("setBreakpoints"),
		Arguments: dap.SetBreakpointsArguments{
			Source:      dap.Source{Path: "main.c"},
			Breakpoints: []dap.SourceBreakpoint{{Line: 3}, {Line: 7, Condition: "i > 2"}},
		},
	})
	breakpoints := client.readUntil(t, isMessage[*dap.SetBreakpointsResponse]()).(*dap.SetBreakpointsResponse)
	require.Len(t, breakpoints.Body.Breakpoints, 2)
	assert.Equal(t, 1, breakpoints.Body.Breakpoints[0].Id)
	assert.True(t, breakpoints.Body.Breakpoints[0].Verified)
	assert.Equal(t, 7, breakpoints.Body.Breakpoints[1].Line)
	assert.Contains(t, transport.Written(), "break main.c:3")
	assert.Contains(t, transport.Written(), "break main.c:7 if i > 2")

	// 再次设置时只保留第7行
	client.send(t, &dap.SetBreakpointsRequest{
		Request: client.request("setBreakpoints"),
		Arguments: dap.SetBreakpointsArguments{
			Source:      dap.Source{Path: "main.c"},
			Breakpoints: []dap.SourceBreakpoint{{Line: 7, Condition: "i > 2"}},
		},
	})
	breakpoints = client.readUntil(t, isMessage[*dap.SetBreakpointsResponse]()).(*dap.SetBreakpointsResponse)
	require.Len(t, breakpoints.Body.Breakpoints, 1)
	assert.Equal(t, 2, breakpoints.Body.Breakpoints[0].Id)

	client.send(t, &dap.ConfigurationDoneRequest{Request: client.request("configurationDone")})
	client.readUntil(t, isMessage[*dap.ConfigurationDoneResponse]())
	assert.Equal(t, "run", transport.LastWritten())

	transport.Emit("Breakpoint 2, main () at main.c:7", "#0  main () at main.c:7")
	stopped := client.readUntil(t, isMessage[*dap.StoppedEvent]()).(*dap.StoppedEvent)
	assert.Equal(t, string(constants.BreakpointStopped), stopped.Body.Reason)
	assert.Equal(t, mainThreadID, stopped.Body.ThreadId)

	client.send(t, &dap.StackTraceRequest{Request: client.request("stackTrace")})
	stack := client.readUntil(t, isMessage[*dap.StackTraceResponse]()).(*dap.StackTraceResponse)
	require.Len(t, stack.Body.StackFrames, 1)
	assert.Equal(t, "main", stack.Body.StackFrames[0].Name)
	assert.Equal(t, 7, stack.Body.StackFrames[0].Line)

	transport.SetValue("i", "3")
	client.send(t, &dap.EvaluateRequest{
		Request:   client.request("evaluate"),
		Arguments: dap.EvaluateArguments{Expression: "i", Context: "watch"},
	})
	evaluate := client.readUntil(t, isMessage[*dap.EvaluateResponse]()).(*dap.EvaluateResponse)
	assert.True(t, evaluate.Success)
	assert.Equal(t, "3", evaluate.Body.Result)

	client.send(t, &dap.NextRequest{Request: client.request("next")})
	client.readUntil(t, isMessage[*dap.NextResponse]())
	assert.Equal(t, "next", transport.LastWritten())

	client.send(t, &dap.DisconnectRequest{Request: client.request("disconnect")})
	client.readUntil(t, isMessage[*dap.DisconnectResponse]())
	assert.Equal(t, 1, transport.Stops())
}

func TestDAPErrorResponse(t *testing.T) {
	client, _ := startServer(t)
	client.send(t, &dap.ContinueRequest{Request: client.request("continue")})
	response := client.readUntil(t, isMessage[*dap.ErrorResponse]()).(*dap.ErrorResponse)
	assert.False(t, response.Success)
	assert.Equal(t, "continue", response.Command)
	assert.NotEmpty(t, response.Body.Error.Format)
}

func TestToDAPEvent(t *testing.T) {
	running := toDAPEvent(&debugger.StateChanged{State: debugger.RunningState()})
	assert.IsType(t, &dap.ContinuedEvent{}, running)

	paused := toDAPEvent(&debugger.StateChanged{State: debugger.PausedState(constants.StepStopped,
		&debugger.Location{File: "main.c", Line: 4, Function: "main"})})
	require.IsType(t, &dap.StoppedEvent{}, paused)
	assert.Equal(t, "step", paused.(*dap.StoppedEvent).Body.Reason)
	assert.Equal(t, "main at main.c:4", paused.(*dap.StoppedEvent).Body.Description)

	assert.IsType(t, &dap.TerminatedEvent{}, toDAPEvent(&debugger.StateChanged{State: debugger.DisconnectedState()}))
	assert.Nil(t, toDAPEvent(&debugger.StateChanged{State: debugger.InitializingState("app")}))
	assert.Nil(t, toDAPEvent(&debugger.CallStackUpdated{}))

	output := toDAPEvent(&debugger.OutputReceived{Output: "hello"}).(*dap.OutputEvent)
	assert.Equal(t, "hello\n", output.Body.Output)

	hit := toDAPEvent(&debugger.BreakpointChanged{
		Reason:     constants.HitType,
		Breakpoint: debugger.Breakpoint{ID: 2, File: "/src/main.c", Line: 9, Enabled: true},
	}).(*dap.BreakpointEvent)
	assert.Equal(t, "changed", hit.Body.Reason)
	assert.Equal(t, "main.c", hit.Body.Breakpoint.Source.Name)

	deadlock := toDAPEvent(&threads.DeadlockDetected{})
	require.IsType(t, &protocol.InstrumentationEvent{}, deadlock)
	assert.Equal(t, string(constants.DeadlockDetectedEvent), deadlock.(*protocol.InstrumentationEvent).Event.Event)
}
