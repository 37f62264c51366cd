package backend

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cosiner/argv"
	"github.com/creack/pty"
	"github.com/fansqz/debug-engine/debugger"
	e "github.com/fansqz/debug-engine/error"
	"github.com/fansqz/debug-engine/utils"
	"github.com/fansqz/debug-engine/utils/gosync"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const (
	DefaultCommandTimeout = 5 * time.Second
	DefaultKillTimeout    = 2 * time.Second
	maxLineSize           = 1024 * 1024
)

// ProcessStatus 后端进程状态
type ProcessStatus int

const (
	ProcessInit ProcessStatus = iota
	ProcessStarted
	ProcessExited
)

// ProcessTransport 以子进程方式运行gdb/lldb，按行读取输出
type ProcessTransport struct {
	dialect        debugger.Dialect
	usePTY         bool
	commandTimeout time.Duration
	killTimeout    time.Duration
	clock          clock.Clock

	status *utils.StatusManager[ProcessStatus]
	cmd    *exec.Cmd
	writer io.WriteCloser
	reader io.ReadCloser
	// files 进程退出后需要关闭的文件
	files []io.Closer

	outputLock sync.Mutex
	output     []string

	notify     chan struct{}
	evalNotify chan struct{}
	exited     chan struct{}
}

type TransportOption func(t *ProcessTransport)

// WithPTY 是否通过虚拟终端连接后端进程
func WithPTY(usePTY bool) TransportOption {
	return func(t *ProcessTransport) {
		t.usePTY = usePTY
	}
}

func WithCommandTimeout(timeout time.Duration) TransportOption {
	return func(t *ProcessTransport) {
		if timeout > 0 {
			t.commandTimeout = timeout
		}
	}
}

func WithKillTimeout(timeout time.Duration) TransportOption {
	return func(t *ProcessTransport) {
		if timeout > 0 {
			t.killTimeout = timeout
		}
	}
}

func WithClock(c clock.Clock) TransportOption {
	return func(t *ProcessTransport) {
		t.clock = c
	}
}

// WithDialect 使用自定义方言，覆盖配置中的后端类型
func WithDialect(dialect debugger.Dialect) TransportOption {
	return func(t *ProcessTransport) {
		t.dialect = dialect
	}
}

func NewProcessTransport(config *debugger.DebuggerConfig, options ...TransportOption) (*ProcessTransport, error) {
	t := &ProcessTransport{
		commandTimeout: DefaultCommandTimeout,
		killTimeout:    DefaultKillTimeout,
		clock:          clock.New(),
		status:         utils.NewStatusManager(ProcessInit),
		notify:         make(chan struct{}, 1),
		evalNotify:     make(chan struct{}, 1),
		exited:         make(chan struct{}),
	}
	for _, option := range options {
		option(t)
	}
	if t.dialect == nil {
		dialect, err := NewDialect(config.Backend)
		if err != nil {
			return nil, err
		}
		t.dialect = dialect
	}
	return t, nil
}

// NewTransportFactory 每次调用创建新的后端进程传输层
func NewTransportFactory(options ...TransportOption) debugger.TransportFactory {
	return func(config *debugger.DebuggerConfig) (debugger.Transport, error) {
		return NewProcessTransport(config, options...)
	}
}

func (t *ProcessTransport) Start(ctx context.Context, config *debugger.DebuggerConfig) error {
	if config.Target == "" {
		return e.ErrEmptyTarget
	}
	if !t.status.Is(ProcessInit) {
		return e.NewProcessError("backend process already started")
	}
	args, err := splitArgs(config.Args)
	if err != nil {
		return e.WrapProcessError("parse target args fail", err)
	}
	path := config.DebuggerPath
	if path == "" {
		path = t.dialect.Name()
	}
	path, err = exec.LookPath(path)
	if err != nil {
		return e.WrapProcessError("debugger not found", err)
	}

	cmd := exec.Command(path, t.dialect.LaunchArgs(config, args)...)
	cmd.Dir = config.WorkingDir
	cmd.Env = os.Environ()
	for k, v := range config.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if t.usePTY {
		err = t.startWithPTY(cmd)
	} else {
		err = t.startWithPipe(cmd)
	}
	if err != nil {
		t.closeFiles()
		return err
	}
	t.cmd = cmd
	t.status.Set(ProcessStarted)
	logrus.Infof("[ProcessTransport] %s started, pid = %d, target = %s", t.dialect.Name(), cmd.Process.Pid, config.Target)

	gosync.Go(context.Background(), t.processOutput)
	gosync.Go(context.Background(), t.wait)

	for _, command := range t.dialect.InitCommands() {
		if err = t.Write(command); err != nil {
			logrus.Errorf("[ProcessTransport] write init command fail, err = %v", err)
			if stopErr := t.Stop(); stopErr != nil {
				logrus.Errorf("[ProcessTransport] stop backend fail, err = %v", stopErr)
			}
			return err
		}
	}
	return nil
}

// startWithPTY 启动一个虚拟终端，后端进程作为会话首进程
func (t *ProcessTransport) startWithPTY(cmd *exec.Cmd) error {
	ptm, pts, err := pty.Open()
	if err != nil {
		logrus.Errorf("[ProcessTransport] pty open fail, err = %v", err)
		return e.WrapProcessError("pty open fail", err)
	}
	t.files = append(t.files, ptm)
	if _, err = term.MakeRaw(int(ptm.Fd())); err != nil {
		_ = pts.Close()
		logrus.Errorf("[ProcessTransport] pty make raw fail, err = %v", err)
		return e.WrapProcessError("pty make raw fail", err)
	}
	cmd.Stdin = pts
	cmd.Stdout = pts
	cmd.Stderr = pts
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}
	err = cmd.Start()
	// 父进程不再需要从端
	_ = pts.Close()
	if err != nil {
		return e.WrapProcessError("start debugger fail", err)
	}
	t.reader = ptm
	t.writer = ptm
	return nil
}

func (t *ProcessTransport) startWithPipe(cmd *exec.Cmd) error {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return e.WrapProcessError("create stdin pipe fail", err)
	}
	r, w, err := os.Pipe()
	if err != nil {
		return e.WrapProcessError("create output pipe fail", err)
	}
	t.files = append(t.files, r)
	cmd.Stdout = w
	cmd.Stderr = w
	err = cmd.Start()
	_ = w.Close()
	if err != nil {
		return e.WrapProcessError("start debugger fail", err)
	}
	t.reader = r
	t.writer = stdin
	t.files = append(t.files, stdin)
	return nil
}

// processOutput 循环读取后端输出
func (t *ProcessTransport) processOutput(ctx context.Context) {
	scanner := bufio.NewScanner(t.reader)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	for scanner.Scan() {
		line := t.dialect.TrimPrompt(scanner.Text())
		if line == "" {
			continue
		}
		t.outputLock.Lock()
		t.output = append(t.output, line)
		t.outputLock.Unlock()
		signal(t.notify)
		signal(t.evalNotify)
	}
	if err := scanner.Err(); err != nil && t.status.Is(ProcessStarted) {
		// 后端退出时虚拟终端会返回EIO
		logrus.Debugf("[ProcessTransport] read output end, err = %v", err)
	}
}

func (t *ProcessTransport) wait(ctx context.Context) {
	err := t.cmd.Wait()
	t.status.Set(ProcessExited)
	close(t.exited)
	signal(t.notify)
	logrus.Infof("[ProcessTransport] %s exited, err = %v", t.dialect.Name(), err)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (t *ProcessTransport) Write(command string) error {
	if !t.status.Is(ProcessStarted) {
		return e.ErrInputClosed
	}
	// 一次只能写入一条命令
	if strings.ContainsAny(command, "\r\n") {
		return e.NewProcessError(fmt.Sprintf("command %q contains line break", command))
	}
	logrus.Debugf("[ProcessTransport] write command: %s", command)
	if _, err := t.writer.Write([]byte(command + "\n")); err != nil {
		return e.WrapProcessError("write command fail", err)
	}
	return nil
}

// Evaluate 写入求值命令，在新输出中等待结果行，结果行不会再出现在ReadOutput中
func (t *ProcessTransport) Evaluate(ctx context.Context, expression string) (string, error) {
	start := t.outputLen()
	if err := t.Write(t.dialect.Print(expression)); err != nil {
		return "", err
	}
	timer := t.clock.Timer(t.commandTimeout)
	defer timer.Stop()
	for {
		value, ok, err := t.takeResult(&start)
		if ok {
			return value, err
		}
		select {
		case <-t.evalNotify:
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.exited:
			if value, ok, err = t.takeResult(&start); ok {
				return value, err
			}
			return "", e.ErrInputClosed
		case <-timer.C:
			logrus.Warnf("[ProcessTransport] evaluate %s timeout", expression)
			return "", e.ErrCommandTimeout
		}
	}
}

func (t *ProcessTransport) outputLen() int {
	t.outputLock.Lock()
	defer t.outputLock.Unlock()
	return len(t.output)
}

// takeResult 从start开始查找求值结果或错误行，找到后将该行移出缓冲
func (t *ProcessTransport) takeResult(start *int) (string, bool, error) {
	t.outputLock.Lock()
	defer t.outputLock.Unlock()
	if *start > len(t.output) {
		*start = 0
	}
	for i := *start; i < len(t.output); i++ {
		line := t.output[i]
		if value, ok := t.dialect.ParseValue(line); ok {
			t.output = append(t.output[:i], t.output[i+1:]...)
			return value, true, nil
		}
		if message, ok := t.dialect.ParseError(line); ok {
			t.output = append(t.output[:i], t.output[i+1:]...)
			return "", true, e.NewProcessError(message)
		}
	}
	*start = len(t.output)
	return "", false, nil
}

func (t *ProcessTransport) Interrupt() error {
	pid, ok := t.PID()
	if !ok {
		return e.ErrNoProcessID
	}
	if err := unix.Kill(pid, unix.SIGINT); err != nil {
		return e.WrapProcessError("interrupt debugger fail", err)
	}
	return nil
}

// Stop 先发送SIGTERM，超时后强制终止
func (t *ProcessTransport) Stop() error {
	if t.status.Is(ProcessInit) {
		return nil
	}
	defer t.closeFiles()
	if t.status.Is(ProcessExited) {
		return nil
	}
	pid := t.cmd.Process.Pid
	if err := unix.Kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		logrus.Warnf("[ProcessTransport] terminate %d fail, err = %v", pid, err)
	}

	var killErr error
	timeoutManager := utils.NewTimeoutManager(t.clock)
	timeoutManager.Start(context.Background(), t.killTimeout, func() {
		logrus.Warnf("[ProcessTransport] terminate %d timeout, kill it", pid)
		if err := t.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			killErr = e.WrapProcessError("kill debugger fail", err)
		}
	})
	select {
	case <-t.exited:
		timeoutManager.Cancel()
		return nil
	case <-timeoutManager.Done():
	}
	if killErr != nil {
		return killErr
	}
	select {
	case <-t.exited:
		return nil
	case <-t.clock.After(t.killTimeout):
		return e.NewProcessError("debugger process did not exit after kill")
	}
}

func (t *ProcessTransport) closeFiles() {
	for _, f := range t.files {
		_ = f.Close()
	}
	t.files = nil
}

func (t *ProcessTransport) PID() (int, bool) {
	if t.cmd == nil || t.cmd.Process == nil {
		return 0, false
	}
	return t.cmd.Process.Pid, true
}

func (t *ProcessTransport) Running() bool {
	return t.status.Is(ProcessStarted)
}

func (t *ProcessTransport) ReadOutput() []string {
	t.outputLock.Lock()
	defer t.outputLock.Unlock()
	lines := t.output
	t.output = nil
	return lines
}

func (t *ProcessTransport) OutputReady() <-chan struct{} {
	return t.notify
}

func (t *ProcessTransport) Dialect() debugger.Dialect {
	return t.dialect
}

// splitArgs 按shell规则切分参数，不支持反引号
func splitArgs(args string) ([]string, error) {
	if args == "" {
		return nil, nil
	}
	v, err := argv.Argv(args, func(s string) (string, error) {
		return "", fmt.Errorf("backtick not supported in '%s'", s)
	}, nil)
	if err != nil {
		return nil, err
	}
	var result []string
	for _, part := range v {
		result = append(result, part...)
	}
	return result, nil
}
