package threads

import (
	"time"
)

// ThreadState 线程状态
type ThreadState string

const (
	ThreadRunning    ThreadState = "Running"
	ThreadBlocked    ThreadState = "Blocked"
	ThreadAsyncWait  ThreadState = "AsyncWait"
	ThreadSleeping   ThreadState = "Sleeping"
	ThreadTerminated ThreadState = "Terminated"
)

// ParseThreadState 解析钩子上报的线程状态
func ParseThreadState(s string) (ThreadState, bool) {
	switch state := ThreadState(s); state {
	case ThreadRunning, ThreadBlocked, ThreadAsyncWait, ThreadSleeping, ThreadTerminated:
		return state, true
	}
	return "", false
}

// TaskState 异步任务状态，Completed 和 Error 是终态
type TaskState string

const (
	TaskPending   TaskState = "Pending"
	TaskRunning   TaskState = "Running"
	TaskSuspended TaskState = "Suspended"
	TaskCompleted TaskState = "Completed"
	TaskError     TaskState = "Error"
)

func ParseTaskState(s string) (TaskState, bool) {
	switch state := TaskState(s); state {
	case TaskPending, TaskRunning, TaskSuspended, TaskCompleted, TaskError:
		return state, true
	}
	return "", false
}

// Finished 是否为终态
func (s TaskState) Finished() bool {
	return s == TaskCompleted || s == TaskError
}

// ThreadInfo 线程快照
type ThreadInfo struct {
	ID           uint64        `json:"id" yaml:"id"`
	Name         string        `json:"name" yaml:"name"`
	CallStack    []string      `json:"callStack" yaml:"callStack"`
	CurrentTask  *uint64       `json:"currentTask,omitempty" yaml:"currentTask,omitempty"`
	CPUTime      time.Duration `json:"cpuTime" yaml:"cpuTime"`
	State        ThreadState   `json:"state" yaml:"state"`
	HeldLocks    []string      `json:"heldLocks" yaml:"heldLocks"`
	WaitingLocks []string      `json:"waitingLocks" yaml:"waitingLocks"`
}

// AsyncFrame 异步调用栈上一个挂起的future
type AsyncFrame struct {
	FutureName string `json:"futureName" yaml:"futureName"`
	Location   string `json:"location" yaml:"location"`
	FrameState string `json:"frameState" yaml:"frameState"`
}

// AsyncTask 异步任务快照
type AsyncTask struct {
	ID    uint64    `json:"id" yaml:"id"`
	Name  string    `json:"name" yaml:"name"`
	State TaskState `json:"state" yaml:"state"`
	// Error 状态为 Error 时的错误信息
	Error        string       `json:"error,omitempty" yaml:"error,omitempty"`
	ThreadID     *uint64      `json:"threadId,omitempty" yaml:"threadId,omitempty"`
	CreatedAt    time.Time    `json:"createdAt" yaml:"createdAt"`
	WakeupSource string       `json:"wakeupSource,omitempty" yaml:"wakeupSource,omitempty"`
	Dependencies []uint64     `json:"dependencies" yaml:"dependencies"`
	CallStack    []AsyncFrame `json:"callStack" yaml:"callStack"`
}

// DeadlockInfo 一次死锁检测的结果，只读的分析输出
type DeadlockInfo struct {
	InvolvedThreads []uint64  `json:"involvedThreads,omitempty" yaml:"involvedThreads,omitempty"`
	InvolvedTasks   []uint64  `json:"involvedTasks,omitempty" yaml:"involvedTasks,omitempty"`
	ContestedLocks  []string  `json:"contestedLocks" yaml:"contestedLocks"`
	Description     string    `json:"description" yaml:"description"`
	DetectedAt      time.Time `json:"detectedAt" yaml:"detectedAt"`
}

// TimelineEventType 时间线事件类型
type TimelineEventType string

const (
	TimelineThreadStarted  TimelineEventType = "ThreadStarted"
	TimelineThreadState    TimelineEventType = "ThreadStateChanged"
	TimelineTaskStarted    TimelineEventType = "TaskStarted"
	TimelineTaskSuspended  TimelineEventType = "TaskSuspended"
	TimelineTaskResumed    TimelineEventType = "TaskResumed"
	TimelineTaskCompleted  TimelineEventType = "TaskCompleted"
	TimelineLockAcquired   TimelineEventType = "LockAcquired"
	TimelineLockReleased   TimelineEventType = "LockReleased"
	TimelineLockWaiting    TimelineEventType = "LockWaiting"
	TimelineFunctionCall   TimelineEventType = "FunctionCall"
	TimelineFunctionReturn TimelineEventType = "FunctionReturn"
)

// TimelineEvent 时间线上的一个事件
type TimelineEvent struct {
	Timestamp   time.Time         `json:"timestamp" yaml:"timestamp"`
	Type        TimelineEventType `json:"type" yaml:"type"`
	Description string            `json:"description" yaml:"description"`
	TaskID      *uint64           `json:"taskId,omitempty" yaml:"taskId,omitempty"`
	LockID      string            `json:"lockId,omitempty" yaml:"lockId,omitempty"`
	Function    string            `json:"function,omitempty" yaml:"function,omitempty"`
}

// ExecutionTimeline 线程的执行时间线，只追加
type ExecutionTimeline struct {
	ThreadID     uint64          `json:"threadId" yaml:"threadId"`
	Events       []TimelineEvent `json:"events" yaml:"events"`
	TotalCPUTime time.Duration   `json:"totalCpuTime" yaml:"totalCpuTime"`
}
