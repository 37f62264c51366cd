package memory

import (
	"time"

	"github.com/fansqz/debug-engine/constants"
)

// AllocationTracked 记录了一次分配
type AllocationTracked struct {
	Allocation Allocation `json:"allocation"`
}

func (a *AllocationTracked) EventType() constants.DebugEventType {
	return constants.AllocationEvent
}

// Deallocation 记录了一次释放
type Deallocation struct {
	Address       uint64    `json:"address"`
	DeallocatedAt time.Time `json:"deallocatedAt"`
	Stack         []string  `json:"stack"`
}

func (d *Deallocation) EventType() constants.DebugEventType {
	return constants.DeallocationEvent
}

// HeapStatisticsUpdated 堆统计被外部探针整体替换
type HeapStatisticsUpdated struct {
	Statistics HeapStatistics `json:"statistics"`
}

func (h *HeapStatisticsUpdated) EventType() constants.DebugEventType {
	return constants.HeapStatisticsUpdatedEvent
}

// LeakDetected 发现一处泄漏
type LeakDetected struct {
	Leak LeakClassification `json:"leak"`
}

func (l *LeakDetected) EventType() constants.DebugEventType {
	return constants.LeakDetectedEvent
}

// FragmentationAnalysis 碎片分析完成
type FragmentationAnalysis struct {
	Analysis FragmentationInfo `json:"analysis"`
}

func (f *FragmentationAnalysis) EventType() constants.DebugEventType {
	return constants.FragmentationAnalysisEvent
}
