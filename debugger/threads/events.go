package threads

import "github.com/fansqz/debug-engine/constants"

type ThreadCreated struct {
	Thread ThreadInfo `json:"thread"`
}

func (t *ThreadCreated) EventType() constants.DebugEventType {
	return constants.ThreadCreatedEvent
}

type ThreadStateChanged struct {
	ThreadID uint64      `json:"threadId"`
	State    ThreadState `json:"state"`
}

func (t *ThreadStateChanged) EventType() constants.DebugEventType {
	return constants.ThreadStateChangedEvent
}

type ThreadTerminatedEvent struct {
	ThreadID uint64 `json:"threadId"`
}

func (t *ThreadTerminatedEvent) EventType() constants.DebugEventType {
	return constants.ThreadTerminatedEvent
}

type TaskCreated struct {
	Task AsyncTask `json:"task"`
}

func (t *TaskCreated) EventType() constants.DebugEventType {
	return constants.TaskCreatedEvent
}

type TaskStateChanged struct {
	TaskID uint64    `json:"taskId"`
	State  TaskState `json:"state"`
	Error  string    `json:"error,omitempty"`
}

func (t *TaskStateChanged) EventType() constants.DebugEventType {
	return constants.TaskStateChangedEvent
}

// TaskCompletedEvent 任务进入 Completed 或 Error
type TaskCompletedEvent struct {
	TaskID uint64 `json:"taskId"`
}

func (t *TaskCompletedEvent) EventType() constants.DebugEventType {
	return constants.TaskCompletedEvent
}

type DeadlockDetected struct {
	Deadlock DeadlockInfo `json:"deadlock"`
}

func (d *DeadlockDetected) EventType() constants.DebugEventType {
	return constants.DeadlockDetectedEvent
}

// LockContention 请求的锁被其他线程持有或者等待
type LockContention struct {
	LockID            string   `json:"lockId"`
	ContendingThreads []uint64 `json:"contendingThreads"`
}

func (l *LockContention) EventType() constants.DebugEventType {
	return constants.LockContentionEvent
}
