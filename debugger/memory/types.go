package memory

import (
	"strings"
	"time"
)

// AllocationKind 内存分配类型
type AllocationKind string

const (
	Heap         AllocationKind = "heap"
	Stack        AllocationKind = "stack"
	MemoryMapped AllocationKind = "memoryMapped"
	Shared       AllocationKind = "shared"

	customPrefix = "custom:"
)

// CustomKind 自定义分配器
func CustomKind(name string) AllocationKind {
	return AllocationKind(customPrefix + name)
}

// ParseAllocationKind 解析钩子上报的分配类型，未知名称视为自定义分配器
func ParseAllocationKind(s string) AllocationKind {
	switch AllocationKind(s) {
	case "", Heap:
		return Heap
	case Stack, MemoryMapped, Shared:
		return AllocationKind(s)
	}
	if strings.HasPrefix(s, customPrefix) {
		return AllocationKind(s)
	}
	return CustomKind(s)
}

// Allocation 一次内存分配
// 存活期间以地址为键，释放以后地址可以被复用
type Allocation struct {
	Address  uint64  `json:"address" yaml:"address"`
	Size     uint64  `json:"size" yaml:"size"`
	UsedSize *uint64 `json:"usedSize,omitempty" yaml:"usedSize,omitempty"`
	// AllocatedAt 为零值时使用分析器时钟的当前时间
	AllocatedAt time.Time `json:"allocatedAt" yaml:"allocatedAt"`
	// Stack 分配时的调用栈，第一个元素是分配点
	Stack             []string          `json:"stack" yaml:"stack"`
	DeallocatedAt     *time.Time        `json:"deallocatedAt,omitempty" yaml:"deallocatedAt,omitempty"`
	DeallocationStack []string          `json:"deallocationStack,omitempty" yaml:"deallocationStack,omitempty"`
	ThreadID          *uint64           `json:"threadId,omitempty" yaml:"threadId,omitempty"`
	Kind              AllocationKind    `json:"kind" yaml:"kind"`
	Metadata          map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Site 分配点，即调用栈的第一帧
func (a *Allocation) Site() (string, bool) {
	if len(a.Stack) == 0 {
		return "", false
	}
	return a.Stack[0], true
}

func (a *Allocation) clone() *Allocation {
	c := *a
	return &c
}

// LeakType 泄漏分类，只是启发式的估计，不做真正的可达性分析
type LeakType string

const (
	DefinitelyLost              LeakType = "DefinitelyLost"
	IndirectlyLost              LeakType = "IndirectlyLost"
	PossiblyLost                LeakType = "PossiblyLost"
	StillReachableButSuspicious LeakType = "StillReachableButSuspicious"
)

// LeakClassification 一次泄漏判定
type LeakClassification struct {
	Address      uint64        `json:"address" yaml:"address"`
	LeakType     LeakType      `json:"leakType" yaml:"leakType"`
	Size         uint64        `json:"size" yaml:"size"`
	LeakDuration time.Duration `json:"leakDuration" yaml:"leakDuration"`
	Stack        []string      `json:"stack" yaml:"stack"`
	// SeverityScore 取值[0,1]，越大越严重
	SeverityScore float64 `json:"severityScore" yaml:"severityScore"`
}

// HeapStatistics 堆统计
type HeapStatistics struct {
	TotalHeapSize      uint64  `json:"totalHeapSize" yaml:"totalHeapSize"`
	UsedHeapSize       uint64  `json:"usedHeapSize" yaml:"usedHeapSize"`
	PeakUsage          uint64  `json:"peakUsage" yaml:"peakUsage"`
	AllocationCount    uint64  `json:"allocationCount" yaml:"allocationCount"`
	DeallocationCount  uint64  `json:"deallocationCount" yaml:"deallocationCount"`
	FragmentationRatio float64 `json:"fragmentationRatio" yaml:"fragmentationRatio"`
}

// SegmentState 内存段状态
type SegmentState string

const (
	SegmentFree      SegmentState = "Free"
	SegmentAllocated SegmentState = "Allocated"
)

// HeapSegment 固定大小的一段地址空间
type HeapSegment struct {
	Address uint64       `json:"address" yaml:"address"`
	Size    uint64       `json:"size" yaml:"size"`
	State   SegmentState `json:"state" yaml:"state"`
	// Allocations 起始地址落在该段内的存活分配
	Allocations []uint64 `json:"allocations,omitempty" yaml:"allocations,omitempty"`
}

// HistogramBin 分配大小直方图的一个区间，[MinSize, MaxSize)
type HistogramBin struct {
	MinSize   uint64 `json:"minSize" yaml:"minSize"`
	MaxSize   uint64 `json:"maxSize" yaml:"maxSize"`
	Count     int    `json:"count" yaml:"count"`
	TotalSize uint64 `json:"totalSize" yaml:"totalSize"`
}

// TopConsumer 按分配点聚合的内存消耗
type TopConsumer struct {
	Rank            int     `json:"rank" yaml:"rank"`
	Site            string  `json:"site" yaml:"site"`
	TotalMemory     uint64  `json:"totalMemory" yaml:"totalMemory"`
	AllocationCount int     `json:"allocationCount" yaml:"allocationCount"`
	AverageSize     float64 `json:"averageSize" yaml:"averageSize"`
}

// HeapVisualization 堆可视化数据
type HeapVisualization struct {
	TotalHeapSize uint64         `json:"totalHeapSize" yaml:"totalHeapSize"`
	UsedHeapSize  uint64         `json:"usedHeapSize" yaml:"usedHeapSize"`
	FreeHeapSize  uint64         `json:"freeHeapSize" yaml:"freeHeapSize"`
	Segments      []HeapSegment  `json:"segments" yaml:"segments"`
	Histogram     []HistogramBin `json:"histogram" yaml:"histogram"`
	TopConsumers  []TopConsumer  `json:"topConsumers" yaml:"topConsumers"`
}

// FragmentationHotspot 碎片集中的地址区间
type FragmentationHotspot struct {
	Start                   uint64  `json:"start" yaml:"start"`
	End                     uint64  `json:"end" yaml:"end"`
	FragmentationPercentage float64 `json:"fragmentationPercentage" yaml:"fragmentationPercentage"`
	RecommendedAlignment    uint64  `json:"recommendedAlignment" yaml:"recommendedAlignment"`
}

// FragmentationInfo 碎片分析结果
type FragmentationInfo struct {
	// AverageFragmentation 空闲段占已跨越地址空间的比例，取值[0,1]
	AverageFragmentation float64                `json:"averageFragmentation" yaml:"averageFragmentation"`
	LargestFreeBlock     uint64                 `json:"largestFreeBlock" yaml:"largestFreeBlock"`
	TotalFreeMemory      uint64                 `json:"totalFreeMemory" yaml:"totalFreeMemory"`
	TotalAllocatedMemory uint64                 `json:"totalAllocatedMemory" yaml:"totalAllocatedMemory"`
	Hotspots             []FragmentationHotspot `json:"hotspots" yaml:"hotspots"`
}
