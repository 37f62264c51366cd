package backend

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fansqz/debug-engine/constants"
	"github.com/fansqz/debug-engine/debugger"
)

const lldbPrompt = "(lldb) "

var (
	// * thread #1, name = 'a.out', stop reason = breakpoint 1.1
	lldbStop = regexp.MustCompile(`^\*?\s*thread #\d+.*stop reason = (.+)$`)
	lldbBreakpointReason = regexp.MustCompile(`^breakpoint (\d+)(?:\.\d+)?$`)
	// * frame #0: 0x0000000100003f60 a.out`main at main.c:5:3
	// frame #1: 0x00007ff80b1b2310 dyld`start + 2432
	lldbFrame = regexp.MustCompile("^\\*?\\s*frame #(\\d+): (0x[0-9a-fA-F]+) [^`]*`([^\\s(]+)(?:\\(.*\\))?(?: \\+ \\d+)?(?: at (.+?):(\\d+)(?::\\d+)?)?$")
	// Process 4242 exited with status = 0 (0x00000000)
	lldbExit = regexp.MustCompile(`^Process \d+ exited with status = (-?\d+)`)
	// (int) $0 = 42
	// (int) 42
	lldbValue = regexp.MustCompile(`^\((.+?)\) (?:\$\d+ = )?(.*)$`)
	lldbError = regexp.MustCompile(`^error: (.*)$`)
	// Breakpoint 1: where = a.out`main + 15 at main.c:5:3, address = 0x0000000100003f6f
	lldbBreakpointSet = regexp.MustCompile(`^Breakpoint (\d+): where = .* at (.+?):(\d+)(?::\d+)?, address = `)
)

// LLDBDialect lldb命令行方言
type LLDBDialect struct{}

func (l *LLDBDialect) Name() string {
	return "lldb"
}

func (l *LLDBDialect) LaunchArgs(config *debugger.DebuggerConfig, args []string) []string {
	return append([]string{"--no-lldbinit", "--", config.Target}, args...)
}

func (l *LLDBDialect) InitCommands() []string {
	return []string{
		"settings set auto-confirm true",
		"settings set use-color false",
	}
}

func (l *LLDBDialect) TrimPrompt(line string) string {
	return trimPrompt(line, lldbPrompt)
}

func (l *LLDBDialect) Run() string {
	return "process launch"
}

func (l *LLDBDialect) Continue() string {
	return "process continue"
}

func (l *LLDBDialect) StepOver() string {
	return "thread step-over"
}

func (l *LLDBDialect) StepInto() string {
	return "thread step-in"
}

func (l *LLDBDialect) StepOut() string {
	return "thread step-out"
}

func (l *LLDBDialect) Backtrace() string {
	return "thread backtrace"
}

func (l *LLDBDialect) Print(expression string) string {
	return "expression -- " + expression
}

func (l *LLDBDialect) SetVariable(name string, value string) string {
	return fmt.Sprintf("expression -- %s = %s", name, value)
}

func (l *LLDBDialect) SelectFrame(index int) string {
	return fmt.Sprintf("frame select %d", index)
}

func (l *LLDBDialect) AddBreakpoint(file string, line int, condition string) string {
	command := fmt.Sprintf("breakpoint set --file %s --line %d", quote(file), line)
	if condition != "" {
		command += fmt.Sprintf(" --condition '%s'", condition)
	}
	return command
}

func (l *LLDBDialect) RemoveBreakpoint(id int) string {
	return fmt.Sprintf("breakpoint delete %d", id)
}

func (l *LLDBDialect) EnableBreakpoint(id int, enabled bool) string {
	if enabled {
		return fmt.Sprintf("breakpoint enable %d", id)
	}
	return fmt.Sprintf("breakpoint disable %d", id)
}

func (l *LLDBDialect) ParseStop(line string) (*debugger.StopInfo, bool) {
	m, ok := submatch(lldbStop, strings.TrimSpace(line))
	if !ok {
		return nil, false
	}
	reason := m[1]
	if b, ok := submatch(lldbBreakpointReason, reason); ok {
		return &debugger.StopInfo{Reason: constants.BreakpointStopped, BreakpointID: atoi(b[1])}, true
	}
	if strings.HasPrefix(reason, "step") || strings.HasPrefix(reason, "trace") {
		return &debugger.StopInfo{Reason: constants.StepStopped}, true
	}
	if strings.HasPrefix(reason, "signal") {
		return &debugger.StopInfo{Reason: constants.SignalStopped}, true
	}
	return &debugger.StopInfo{Reason: constants.Unknown}, true
}

func (l *LLDBDialect) ParseFrame(line string) (*debugger.StackFrame, bool) {
	m, ok := submatch(lldbFrame, strings.TrimSpace(line))
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

func (l *LLDBDialect) ParseExit(line string) (int, bool) {
	m, ok := submatch(lldbExit, line)
	if !ok {
		return 0, false
	}
	return atoi(m[1]), true
}

func (l *LLDBDialect) ParseValue(line string) (string, bool) {
	if m, ok := submatch(lldbValue, line); ok {
		return m[2], true
	}
	return "", false
}

func (l *LLDBDialect) ParseError(line string) (string, bool) {
	if m, ok := submatch(lldbError, line); ok {
		return m[1], true
	}
	return "", false
}

func (l *LLDBDialect) ParseBreakpointSet(line string) (int, string, int, bool) {
	m, ok := submatch(lldbBreakpointSet, line)
	if !ok {
		return 0, "", 0, false
	}
	return atoi(m[1]), m[2], atoi(m[3]), true
}
