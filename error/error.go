package error

import (
	"errors"
	"fmt"
)

// Kind 调试引擎错误分类
type Kind string

const (
	// StateError 当前会话状态不允许该操作
	StateError Kind = "StateError"
	// ProcessError 后端进程启动、写入、终止失败，或者分析子系统内部出错
	ProcessError Kind = "ProcessError"
	// Timeout 有界操作超时
	Timeout Kind = "Timeout"
)

var (
	ErrSessionNotStarted  = NewStateError("debug session is not started")
	ErrNotPaused          = NewStateError("the program is not paused")
	ErrEmptyTarget        = errors.New("debug target cannot be empty")
	ErrNoProcessID        = NewProcessError("backend process id is not available")
	ErrInputClosed        = NewProcessError("backend input stream is closed")
	ErrBackendNotSupport  = errors.New("this backend is not supported")
	ErrUnknownThread      = errors.New("unknown thread")
	ErrUnknownTask        = errors.New("unknown async task")
	ErrTaskFinished       = errors.New("async task already finished")
	ErrLockHeld           = errors.New("lock is held by another thread")
	ErrBreakpointNotFound = errors.New("breakpoint not found")
	ErrExpressionNotFound = errors.New("watch expression not found")
	ErrCommandTimeout     = NewTimeoutError("backend command timeout")
)

// DebugError 调试引擎统一错误类型，errors.Is 按 Kind 比较
type DebugError struct {
	Kind    Kind
	Message string
	Err     error
}

func (d *DebugError) Error() string {
	if d.Err != nil {
		return fmt.Sprintf("%s: %s: %v", d.Kind, d.Message, d.Err)
	}
	return fmt.Sprintf("%s: %s", d.Kind, d.Message)
}

func (d *DebugError) Unwrap() error {
	return d.Err
}

// Is 同类型的错误视为相等，方便调用方使用 errors.Is(err, e.ErrSessionNotStarted) 或者 IsKind
func (d *DebugError) Is(target error) bool {
	var t *DebugError
	if !errors.As(target, &t) {
		return false
	}
	if t.Message == "" {
		return t.Kind == d.Kind
	}
	return t.Kind == d.Kind && t.Message == d.Message
}

func NewStateError(message string) *DebugError {
	return &DebugError{Kind: StateError, Message: message}
}

func NewProcessError(message string) *DebugError {
	return &DebugError{Kind: ProcessError, Message: message}
}

func NewTimeoutError(message string) *DebugError {
	return &DebugError{Kind: Timeout, Message: message}
}

// WrapProcessError 把底层错误包装成ProcessError，err为nil时返回nil
func WrapProcessError(message string, err error) error {
	if err == nil {
		return nil
	}
	return &DebugError{Kind: ProcessError, Message: message, Err: err}
}

// IsKind 判断错误链中是否存在指定类型的DebugError
func IsKind(err error, kind Kind) bool {
	var d *DebugError
	if errors.As(err, &d) {
		return d.Kind == kind
	}
	return false
}
