package protocol

import "github.com/fansqz/debug-engine/constants"

// HookRequest 插桩钩子上报消息的公共头
type HookRequest struct {
	Type constants.HookMessageType `json:"type"`
	// 请求序列号
	Sequence uint `json:"sequence"`
}

// AllocationRequest 内存分配
type AllocationRequest struct {
	HookRequest
	Address  uint64            `json:"address"`
	Size     uint64            `json:"size"`
	UsedSize *uint64           `json:"usedSize,omitempty"`
	Stack    []string          `json:"stack"`
	ThreadID *uint64           `json:"threadId,omitempty"`
	Kind     string            `json:"kind"`
	Metadata map[string]string `json:"metadata,omitempty"`
	// 分配时间，unix毫秒，为0时取接收时间
	Timestamp int64 `json:"timestamp"`
}

// DeallocationRequest 内存释放
type DeallocationRequest struct {
	HookRequest
	Address   uint64   `json:"address"`
	Stack     []string `json:"stack"`
	ThreadID  *uint64  `json:"threadId,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// HeapStatisticsRequest 外部探针上报的堆统计，整体替换当前统计
type HeapStatisticsRequest struct {
	HookRequest
	TotalHeapSize      uint64  `json:"totalHeapSize"`
	UsedHeapSize       uint64  `json:"usedHeapSize"`
	PeakUsage          uint64  `json:"peakUsage"`
	AllocationCount    uint64  `json:"allocationCount"`
	DeallocationCount  uint64  `json:"deallocationCount"`
	FragmentationRatio float64 `json:"fragmentationRatio"`
}

// ThreadRequest 线程创建、线程状态变化
type ThreadRequest struct {
	HookRequest
	ThreadID uint64 `json:"threadId"`
	Name     string `json:"name"`
	State    string `json:"state"`
}

// TaskRequest 异步任务创建、状态变化、依赖
type TaskRequest struct {
	HookRequest
	TaskID    uint64  `json:"taskId"`
	Name      string  `json:"name"`
	ThreadID  *uint64 `json:"threadId,omitempty"`
	State     string  `json:"state"`
	Error     string  `json:"error"`
	DependsOn uint64  `json:"dependsOn"`
}

// LockRequest 锁的获取、释放、等待
type LockRequest struct {
	HookRequest
	ThreadID uint64 `json:"threadId"`
	LockID   string `json:"lockId"`
}

// FunctionRequest 函数调用、返回
type FunctionRequest struct {
	HookRequest
	ThreadID uint64  `json:"threadId"`
	TaskID   *uint64 `json:"taskId,omitempty"`
	Function string  `json:"function"`
}

// VisualizeRequest 获取可视化数据
// Target: heap / async
// Format: json / yaml / table
type VisualizeRequest struct {
	HookRequest
	Target string `json:"target"`
	Format string `json:"format"`
}
