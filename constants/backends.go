package constants

// BackendKind 后端调试器类型
type BackendKind string

const (
	BackendGDB  BackendKind = "gdb"
	BackendLLDB BackendKind = "lldb"
)

// HookMessageType 插桩钩子上报的消息类型
type HookMessageType string

const (
	HookAllocation     HookMessageType = "allocation"
	HookDeallocation   HookMessageType = "deallocation"
	HookHeapStatistics HookMessageType = "heapStatistics"
	HookThreadCreated  HookMessageType = "threadCreated"
	HookThreadState    HookMessageType = "threadState"
	HookTaskCreated    HookMessageType = "taskCreated"
	HookTaskState      HookMessageType = "taskState"
	HookTaskDependency HookMessageType = "taskDependency"
	HookLockAcquire    HookMessageType = "lockAcquire"
	HookLockRelease    HookMessageType = "lockRelease"
	HookLockWait       HookMessageType = "lockWait"
	HookFunctionCall   HookMessageType = "functionCall"
	HookFunctionReturn HookMessageType = "functionReturn"
	HookAnalyzeLeaks   HookMessageType = "analyzeLeaks"
	HookDetectDeadlock HookMessageType = "detectDeadlocks"
	HookVisualize      HookMessageType = "visualize"
)
