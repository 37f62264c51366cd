package memory

import (
	"cmp"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/emirpasic/gods/sets/hashset"
	"github.com/fansqz/debug-engine/protocol"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

const (
	DefaultLeakThreshold      = 300 * time.Second
	DefaultLongLivedThreshold = 3600 * time.Second
	DefaultScanEvery          = 1000
	DefaultSegmentSize        = 1024
	DefaultMaxSegments        = 65536
)

// Profiler 内存分析器
// 累计分配、释放，按需做泄漏分析和堆可视化，插桩回调可能并发调用，内部自行加锁
type Profiler struct {
	lock  sync.RWMutex
	clock clock.Clock

	leakThreshold      time.Duration
	longLivedThreshold time.Duration
	scanEvery          uint64
	segmentSize        uint64
	maxSegments        int

	// live 存活的分配，以地址为键
	live map[uint64]*Allocation
	// history 所有分配和释放记录，只追加
	history []*Allocation
	stats   HeapStatistics
	// leaked 已经报告过的泄漏地址，防止重复报告
	leaked        *hashset.Set
	fragmentation FragmentationInfo

	// events 各个会话注册的事件通道
	events protocol.Subscribers
}

type Option func(p *Profiler)

func WithClock(c clock.Clock) Option {
	return func(p *Profiler) {
		p.clock = c
	}
}

// WithLeakThreshold 存活超过该时长的分配才会参与泄漏分析
func WithLeakThreshold(d time.Duration) Option {
	return func(p *Profiler) {
		p.leakThreshold = d
	}
}

// WithLongLivedThreshold 存活超过该时长的分配归类为 PossiblyLost
func WithLongLivedThreshold(d time.Duration) Option {
	return func(p *Profiler) {
		p.longLivedThreshold = d
	}
}

// WithScanEvery 每记录n次分配触发一次泄漏分析，0表示不自动分析
func WithScanEvery(n uint64) Option {
	return func(p *Profiler) {
		p.scanEvery = n
	}
}

func WithSegmentSize(size uint64) Option {
	return func(p *Profiler) {
		if size > 0 {
			p.segmentSize = size
		}
	}
}

func WithMaxSegments(n int) Option {
	return func(p *Profiler) {
		if n > 0 {
			p.maxSegments = n
		}
	}
}

func NewProfiler(options ...Option) *Profiler {
	p := &Profiler{
		clock:              clock.New(),
		leakThreshold:      DefaultLeakThreshold,
		longLivedThreshold: DefaultLongLivedThreshold,
		scanEvery:          DefaultScanEvery,
		segmentSize:        DefaultSegmentSize,
		maxSegments:        DefaultMaxSegments,
		live:               make(map[uint64]*Allocation),
		leaked:             hashset.New(),
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// AddEventSender 注册一个事件输出通道，分析器的事件会发给所有注册的通道
func (p *Profiler) AddEventSender(events chan<- protocol.Event) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.events.Add(events)
}

func (p *Profiler) RemoveEventSender(events chan<- protocol.Event) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.events.Remove(events)
}

// Now 分析器时钟的当前时间
func (p *Profiler) Now() time.Time {
	return p.clock.Now()
}

// TrackAllocation 记录一次分配
func (p *Profiler) TrackAllocation(allocation Allocation) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if allocation.AllocatedAt.IsZero() {
		allocation.AllocatedAt = p.clock.Now()
	}
	if allocation.Kind == "" {
		allocation.Kind = Heap
	}
	if _, ok := p.live[allocation.Address]; ok {
		// 插桩丢失了释放回调，按隐式释放处理，保证存活集合与计数一致
		logrus.Warnf("[MemoryProfiler] address %#x allocated again before deallocation", allocation.Address)
		p.deallocateLocked(allocation.Address, allocation.AllocatedAt, nil)
	}

	p.stats.UsedHeapSize = saturatingAdd(p.stats.UsedHeapSize, allocation.Size)
	p.stats.PeakUsage = max(p.stats.PeakUsage, p.stats.UsedHeapSize)
	p.stats.TotalHeapSize = max(p.stats.TotalHeapSize, p.stats.UsedHeapSize)
	p.stats.AllocationCount++

	a := allocation.clone()
	p.live[a.Address] = a
	p.history = append(p.history, a.clone())

	if p.scanEvery > 0 && p.stats.AllocationCount%p.scanEvery == 0 {
		p.analyzeLocked()
	}
	p.events.Emit(&AllocationTracked{Allocation: *a})
}

// TrackDeallocation 记录一次释放，未知地址只记录警告
func (p *Profiler) TrackDeallocation(address uint64, deallocatedAt time.Time, stack []string, threadID *uint64) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if deallocatedAt.IsZero() {
		deallocatedAt = p.clock.Now()
	}
	if !p.deallocateLocked(address, deallocatedAt, stack) {
		if threadID != nil {
			logrus.Warnf("[MemoryProfiler] thread %d deallocate unknown address %#x", *threadID, address)
		} else {
			logrus.Warnf("[MemoryProfiler] deallocate unknown address %#x", address)
		}
	}
}

func (p *Profiler) deallocateLocked(address uint64, deallocatedAt time.Time, stack []string) bool {
	a, ok := p.live[address]
	if !ok {
		return false
	}
	delete(p.live, address)
	a.DeallocatedAt = &deallocatedAt
	a.DeallocationStack = stack
	p.history = append(p.history, a)

	p.stats.UsedHeapSize = saturatingSub(p.stats.UsedHeapSize, a.Size)
	p.stats.DeallocationCount++
	p.leaked.Remove(address)

	p.events.Emit(&Deallocation{
		Address:       address,
		DeallocatedAt: deallocatedAt,
		Stack:         stack,
	})
	return true
}

// UpdateHeapStatistics 外部探针上报的统计整体替换当前统计
func (p *Profiler) UpdateHeapStatistics(stats HeapStatistics) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.stats = stats
	p.events.Emit(&HeapStatisticsUpdated{Statistics: stats})
}

// AnalyzePotentialLeaks 找出存活时间超过阈值且尚未报告过的分配
// 同一个地址在被释放之前只会报告一次
func (p *Profiler) AnalyzePotentialLeaks() []LeakClassification {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.analyzeLocked()
}

func (p *Profiler) analyzeLocked() []LeakClassification {
	now := p.clock.Now()
	var leaks []LeakClassification
	for _, a := range p.liveSortedLocked() {
		if p.leaked.Contains(a.Address) {
			continue
		}
		age := saturatingSince(now, a.AllocatedAt)
		if age <= p.leakThreshold {
			continue
		}
		leak := LeakClassification{
			Address:       a.Address,
			LeakType:      p.classify(a, age),
			Size:          a.Size,
			LeakDuration:  age,
			Stack:         slices.Clone(a.Stack),
			SeverityScore: severity(a.Size, age),
		}
		p.leaked.Add(a.Address)
		leaks = append(leaks, leak)
		logrus.Infof("[MemoryProfiler] leak detected, address = %#x, type = %s, severity = %.3f",
			leak.Address, leak.LeakType, leak.SeverityScore)
		p.events.Emit(&LeakDetected{Leak: leak})
	}
	return leaks
}

// classify 启发式分类：存活很久的视为可能泄漏，属于某个线程却没有释放的视为确定泄漏
func (p *Profiler) classify(a *Allocation, lifetime time.Duration) LeakType {
	if lifetime > p.longLivedThreshold {
		return PossiblyLost
	}
	if a.ThreadID != nil {
		return DefinitelyLost
	}
	return PossiblyLost
}

// severity 大小分量和时间分量各占一半
func severity(size uint64, leaked time.Duration) float64 {
	sizeMB := float64(size) / (1024 * 1024)
	hours := float64(leaked/time.Second) / 3600
	return min(0.5, sizeMB*0.5) + min(0.5, hours*0.5)
}

// Statistics 当前堆统计
func (p *Profiler) Statistics() HeapStatistics {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.stats
}

// Fragmentation 最近一次碎片分析结果
func (p *Profiler) Fragmentation() FragmentationInfo {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.fragmentation
}

// LiveAllocations 按地址排序的存活分配
func (p *Profiler) LiveAllocations() []Allocation {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return lo.Map(p.liveSortedLocked(), func(a *Allocation, _ int) Allocation {
		return *a
	})
}

// History 分配和释放记录
func (p *Profiler) History() []Allocation {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return lo.Map(p.history, func(a *Allocation, _ int) Allocation {
		return *a
	})
}

// Reset 清空所有记录
func (p *Profiler) Reset() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.live = make(map[uint64]*Allocation)
	p.history = nil
	p.stats = HeapStatistics{}
	p.leaked.Clear()
	p.fragmentation = FragmentationInfo{}
}

func (p *Profiler) liveSortedLocked() []*Allocation {
	allocations := lo.Values(p.live)
	slices.SortFunc(allocations, func(a, b *Allocation) int {
		return cmp.Compare(a.Address, b.Address)
	})
	return allocations
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

func saturatingSince(now, then time.Time) time.Duration {
	if now.Before(then) {
		return 0
	}
	return now.Sub(then)
}
