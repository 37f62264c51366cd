package backend

import (
	"testing"

	"github.com/fansqz/debug-engine/constants"
	"github.com/fansqz/debug-engine/debugger"
	e "github.com/fansqz/debug-engine/error"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDialect(t *testing.T) {
	d, err := NewDialect("")
	require.NoError(t, err)
	assert.Equal(t, "gdb", d.Name())
	d, err = NewDialect(constants.BackendLLDB)
	require.NoError(t, err)
	assert.Equal(t, "lldb", d.Name())
	_, err = NewDialect("windbg")
	assert.ErrorIs(t, err, e.ErrBackendNotSupport)
}

func TestGDBCommands(t *testing.T) {
	g := &GDBDialect{}
	config := &debugger.DebuggerConfig{Target: "./a.out"}
	assert.Equal(t, []string{"--quiet", "--nx", "--args", "./a.out", "1", "two"}, g.LaunchArgs(config, []string{"1", "two"}))
	assert.Equal(t, "break main.c:12", g.AddBreakpoint("main.c", 12, ""))
	assert.Equal(t, "break main.c:12 if i == 3", g.AddBreakpoint("main.c", 12, "i == 3"))
	assert.Equal(t, `break "my dir/main.c":1`, g.AddBreakpoint("my dir/main.c", 1, ""))
	assert.Equal(t, "set var x = 5", g.SetVariable("x", "5"))
	assert.Equal(t, "disable 2", g.EnableBreakpoint(2, false))
	assert.Equal(t, "frame 1", g.SelectFrame(1))
	assert.Equal(t, "main ()", g.TrimPrompt("(gdb) (gdb) main ()"))
}

func TestGDBParseStop(t *testing.T) {
	g := &GDBDialect{}
	tests := []struct {
		line     string
		ok       bool
		reason   constants.StoppedReasonType
		id       int
		location *debugger.Location
	}{
		{
			line:     "Breakpoint 1, main () at /tmp/main.c:12",
			ok:       true,
			reason:   constants.BreakpointStopped,
			id:       1,
			location: &debugger.Location{File: "/tmp/main.c", Line: 12, Function: "main"},
		},
		{
			line:     "Temporary breakpoint 2, 0x0000555555555131 in compute (n=3) at main.c:7",
			ok:       true,
			reason:   constants.BreakpointStopped,
			id:       2,
			location: &debugger.Location{File: "main.c", Line: 7, Function: "compute"},
		},
		{
			line:     "compute (n=3) at main.c:7",
			ok:       true,
			reason:   constants.StepStopped,
			location: &debugger.Location{File: "main.c", Line: 7, Function: "compute"},
		},
		{
			line:     "13\t    x++;",
			ok:       true,
			reason:   constants.StepStopped,
			location: &debugger.Location{Line: 13},
		},
		{
			line:   "Program received signal SIGINT, Interrupt.",
			ok:     true,
			reason: constants.SignalStopped,
		},
		{line: "hello world"},
		{line: "Starting program: /tmp/a.out"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			stop, ok := g.ParseStop(tt.line)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.reason, stop.Reason)
			assert.Equal(t, tt.id, stop.BreakpointID)
			assert.Equal(t, tt.location, stop.Location)
		})
	}
}

func TestGDBParseOutput(t *testing.T) {
	g := &GDBDialect{}

	frame, ok := g.ParseFrame("#1  0x0000555555555189 in compute (n=3) at main.c:7")
	require.True(t, ok)
	assert.Equal(t, &debugger.StackFrame{ID: 1, Function: "compute", File: "main.c", Line: 7, Address: "0x0000555555555189"}, frame)
	frame, ok = g.ParseFrame("#0  main () at main.c:12")
	require.True(t, ok)
	assert.Equal(t, "main", frame.Function)
	assert.Equal(t, 12, frame.Line)
	frame, ok = g.ParseFrame("#2  0x00007ffff7dea083 in __libc_start_main () from /lib/libc.so.6")
	require.True(t, ok)
	assert.Equal(t, "", frame.File)

	code, ok := g.ParseExit("[Inferior 1 (process 4242) exited normally]")
	require.True(t, ok)
	assert.Equal(t, 0, code)
	code, ok = g.ParseExit("[Inferior 1 (process 4242) exited with code 012]")
	require.True(t, ok)
	assert.Equal(t, 10, code)

	value, ok := g.ParseValue("$3 = {a = 1, b = 2}")
	require.True(t, ok)
	assert.Equal(t, "{a = 1, b = 2}", value)
	_, ok = g.ParseValue("x = 1")
	assert.False(t, ok)

	message, ok := g.ParseError(`No symbol "y" in current context.`)
	require.True(t, ok)
	assert.Equal(t, `No symbol "y" in current context.`, message)

	id, file, line, ok := g.ParseBreakpointSet("Breakpoint 3 at 0x1149: file main.c, line 5.")
	require.True(t, ok)
	assert.Equal(t, 3, id)
	assert.Equal(t, "main.c", file)
	assert.Equal(t, 5, line)
}

func TestLLDBParseOutput(t *testing.T) {
	l := &LLDBDialect{}

	assert.Equal(t, "breakpoint set --file main.c --line 5 --condition 'i > 2'", l.AddBreakpoint("main.c", 5, "i > 2"))
	assert.Equal(t, []string{"--no-lldbinit", "--", "./a.out"}, l.LaunchArgs(&debugger.DebuggerConfig{Target: "./a.out"}, nil))

	stop, ok := l.ParseStop("* thread #1, name = 'a.out', stop reason = breakpoint 1.1")
	require.True(t, ok)
	assert.Equal(t, constants.BreakpointStopped, stop.Reason)
	assert.Equal(t, 1, stop.BreakpointID)
	stop, ok = l.ParseStop("* thread #1, name = 'a.out', stop reason = step over")
	require.True(t, ok)
	assert.Equal(t, constants.StepStopped, stop.Reason)
	stop, ok = l.ParseStop("* thread #1, stop reason = signal SIGSTOP")
	require.True(t, ok)
	assert.Equal(t, constants.SignalStopped, stop.Reason)
	_, ok = l.ParseStop("Process 4242 launched")
	assert.False(t, ok)

	frame, ok := l.ParseFrame("  * frame #0: 0x0000000100003f60 a.out`main at main.c:5:3")
	require.True(t, ok)
	assert.Equal(t, &debugger.StackFrame{ID: 0, Function: "main", File: "main.c", Line: 5, Address: "0x0000000100003f60"}, frame)
	frame, ok = l.ParseFrame("    frame #1: 0x00007ff80b1b2310 dyld`start + 2432")
	require.True(t, ok)
	assert.Equal(t, "start", frame.Function)
	assert.Equal(t, "", frame.File)

	code, ok := l.ParseExit("Process 4242 exited with status = 3 (0x00000003)")
	require.True(t, ok)
	assert.Equal(t, 3, code)

	value, ok := l.ParseValue("(int) $0 = 42")
	require.True(t, ok)
	assert.Equal(t, "42", value)
	value, ok = l.ParseValue("(const char *) \"a (b) c\"")
	require.True(t, ok)
	assert.Equal(t, `"a (b) c"`, value)

	message, ok := l.ParseError("error: use of undeclared identifier 'y'")
	require.True(t, ok)
	assert.Equal(t, "use of undeclared identifier 'y'", message)

	id, file, line, ok := l.ParseBreakpointSet("Breakpoint 1: where = a.out`main + 15 at main.c:5:3, address = 0x0000000100003f6f")
	require.True(t, ok)
	assert.Equal(t, 1, id)
	assert.Equal(t, "main.c", file)
	assert.Equal(t, 5, line)
}

func TestSameFile(t *testing.T) {
	assert.True(t, SameFile("/tmp/src/main.c", "main.c"))
	assert.True(t, SameFile("main.c", "main.c"))
	assert.False(t, SameFile("/tmp/src/main.c", "util.c"))
}
