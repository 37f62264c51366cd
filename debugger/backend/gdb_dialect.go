package backend

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/fansqz/debug-engine/constants"
	"github.com/fansqz/debug-engine/debugger"
)

const gdbPrompt = "(gdb) "

var (
	// Breakpoint 1, main () at /tmp/main.c:12
	// Temporary breakpoint 1, 0x0000555555555131 in main (argc=1) at main.c:3
	gdbBreakpointHit = regexp.MustCompile(`^(?:Temporary )?[Bb]reakpoint (\d+), (?:0x[0-9a-fA-F]+ in )?(\S+) \(.*\) at (.+):(\d+)$`)
	// Program received signal SIGINT, Interrupt.
	gdbSignal = regexp.MustCompile(`^Program received signal (\S+), (.*)$`)
	// compute (n=3) at main.c:7
	gdbStepFrame = regexp.MustCompile(`^(?:0x[0-9a-fA-F]+ in )?([A-Za-z_][\w:<>~]*) \(.*\) at (.+):(\d+)$`)
	// 13	    x++;
	gdbSourceLine = regexp.MustCompile(`^(\d+)\t`)
	// #0  main () at main.c:12
	// #1  0x0000555555555189 in compute (n=3) at main.c:7
	gdbFrame = regexp.MustCompile(`^#(\d+)\s+(?:(0x[0-9a-fA-F]+) in )?(\S+) \(.*\)(?: at (.+):(\d+))?`)
	// [Inferior 1 (process 4242) exited normally]
	// [Inferior 1 (process 4242) exited with code 01]
	gdbExit = regexp.MustCompile(`^\[Inferior \d+ \(process \d+\) exited (?:normally|with code (\d+))\]$`)
	// $1 = 42
	gdbValue = regexp.MustCompile(`^\$\d+ = (.*)$`)
	gdbError = regexp.MustCompile(`^(No symbol .*|Cannot access memory .*|A syntax error .*|The program is not being run\.|No frame selected\.)$`)
	// Breakpoint 1 at 0x1149: file main.c, line 5.
	gdbBreakpointSet = regexp.MustCompile(`^Breakpoint (\d+) at .*: file (.+), line (\d+)\.$`)
)

// GDBDialect gdb命令行方言
type GDBDialect struct{}

func (g *GDBDialect) Name() string {
	return "gdb"
}

func (g *GDBDialect) LaunchArgs(config *debugger.DebuggerConfig, args []string) []string {
	return append([]string{"--quiet", "--nx", "--args", config.Target}, args...)
}

func (g *GDBDialect) InitCommands() []string {
	return []string{
		"set pagination off",
		"set confirm off",
		"set width 0",
		"set print pretty off",
	}
}

func (g *GDBDialect) TrimPrompt(line string) string {
	return trimPrompt(line, gdbPrompt)
}

func (g *GDBDialect) Run() string {
	return "run"
}

func (g *GDBDialect) Continue() string {
	return "continue"
}

func (g *GDBDialect) StepOver() string {
	return "next"
}

func (g *GDBDialect) StepInto() string {
	return "step"
}

func (g *GDBDialect) StepOut() string {
	return "finish"
}

func (g *GDBDialect) Backtrace() string {
	return "backtrace"
}

func (g *GDBDialect) Print(expression string) string {
	return "print " + expression
}

func (g *GDBDialect) SetVariable(name string, value string) string {
	return fmt.Sprintf("set var %s = %s", name, value)
}

func (g *GDBDialect) SelectFrame(index int) string {
	return fmt.Sprintf("frame %d", index)
}

func (g *GDBDialect) AddBreakpoint(file string, line int, condition string) string {
	command := fmt.Sprintf("break %s:%d", quote(file), line)
	if condition != "" {
		command += " if " + condition
	}
	return command
}

func (g *GDBDialect) RemoveBreakpoint(id int) string {
	return fmt.Sprintf("delete %d", id)
}

func (g *GDBDialect) EnableBreakpoint(id int, enabled bool) string {
	if enabled {
		return fmt.Sprintf("enable %d", id)
	}
	return fmt.Sprintf("disable %d", id)
}

func (g *GDBDialect) ParseStop(line string) (*debugger.StopInfo, bool) {
	if m, ok := submatch(gdbBreakpointHit, line); ok {
		return &debugger.StopInfo{
			Reason:       constants.BreakpointStopped,
			BreakpointID: atoi(m[1]),
			Location:     &debugger.Location{Function: m[2], File: m[3], Line: atoi(m[4])},
		}, true
	}
	if _, ok := submatch(gdbSignal, line); ok {
		return &debugger.StopInfo{Reason: constants.SignalStopped}, true
	}
	if m, ok := submatch(gdbStepFrame, line); ok {
		return &debugger.StopInfo{
			Reason:   constants.StepStopped,
			Location: &debugger.Location{Function: m[1], File: m[2], Line: atoi(m[3])},
		}, true
	}
	if m, ok := submatch(gdbSourceLine, line); ok {
		// 同一个函数内单步只输出源码行
		return &debugger.StopInfo{
			Reason:   constants.StepStopped,
			Location: &debugger.Location{Line: atoi(m[1])},
		}, true
	}
	return nil, false
}

func (g *GDBDialect) ParseFrame(line string) (*debugger.StackFrame, bool) {
	m, ok := submatch(gdbFrame, line)
	if !ok {
		return nil, false
	}
	return &debugger.StackFrame{
		ID:       atoi(m[1]),
		Address:  m[2],
		Function: m[3],
		File:     m[4],
		Line:     atoi(m[5]),
	}, true
}

func (g *GDBDialect) ParseExit(line string) (int, bool) {
	m, ok := submatch(gdbExit, line)
	if !ok {
		return 0, false
	}
	if m[1] == "" {
		return 0, true
	}
	// gdb以八进制输出退出码
	code, err := strconv.ParseInt(m[1], 8, 32)
	if err != nil {
		return atoi(m[1]), true
	}
	return int(code), true
}

func (g *GDBDialect) ParseValue(line string) (string, bool) {
	if m, ok := submatch(gdbValue, line); ok {
		return m[1], true
	}
	return "", false
}

func (g *GDBDialect) ParseError(line string) (string, bool) {
	if m, ok := submatch(gdbError, line); ok {
		return m[1], true
	}
	return "", false
}

func (g *GDBDialect) ParseBreakpointSet(line string) (int, string, int, bool) {
	m, ok := submatch(gdbBreakpointSet, line)
	if !ok {
		return 0, "", 0, false
	}
	return atoi(m[1]), m[2], atoi(m[3]), true
}
