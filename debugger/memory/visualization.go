package memory

import (
	"fmt"
	"io"
	"math"
	"slices"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

const (
	topConsumerLimit = 10
	// hotspotWindow 碎片热点按多少个连续段统计
	hotspotWindow = 16
)

// histogramBins 分配大小直方图的固定区间
var histogramBins = [][2]uint64{
	{0, 64},
	{64, 256},
	{256, 1024},
	{1024, 4096},
	{4096, 16384},
	{16384, 65536},
	{65536, math.MaxUint64},
}

// GenerateHeapVisualization 生成堆可视化数据
func (p *Profiler) GenerateHeapVisualization() *HeapVisualization {
	p.lock.RLock()
	defer p.lock.RUnlock()
	live := p.liveSortedLocked()
	return &HeapVisualization{
		TotalHeapSize: p.stats.TotalHeapSize,
		UsedHeapSize:  p.stats.UsedHeapSize,
		FreeHeapSize:  saturatingSub(p.stats.TotalHeapSize, p.stats.UsedHeapSize),
		Segments:      p.segments(live),
		Histogram:     histogram(live),
		TopConsumers:  topConsumers(live),
	}
}

// segments 把存活分配覆盖的地址区间切成固定大小的段
// 区间从最低地址向下对齐开始，到最高结束地址向上对齐为止，段数超过上限时截断
func (p *Profiler) segments(live []*Allocation) []HeapSegment {
	if len(live) == 0 {
		return nil
	}
	size := p.segmentSize
	start := live[0].Address / size * size
	var end uint64
	for _, a := range live {
		end = max(end, allocationEnd(a))
	}
	span := end - start
	count := span / size
	if span%size != 0 {
		count++
	}
	if count > uint64(p.maxSegments) {
		logrus.Debugf("[MemoryProfiler] heap span needs %d segments, truncate to %d", count, p.maxSegments)
		count = uint64(p.maxSegments)
	}

	segments := make([]HeapSegment, count)
	for i := range segments {
		segments[i] = HeapSegment{
			Address: start + uint64(i)*size,
			Size:    size,
			State:   SegmentFree,
		}
	}
	for _, a := range live {
		first := (a.Address - start) / size
		if first >= count {
			continue
		}
		segments[first].Allocations = append(segments[first].Allocations, a.Address)
		last := min((allocationEnd(a)-1-start)/size, count-1)
		for i := first; i <= last; i++ {
			segments[i].State = SegmentAllocated
		}
	}
	return segments
}

// allocationEnd 分配的结束地址，大小为0的分配按1字节处理
func allocationEnd(a *Allocation) uint64 {
	size := max(a.Size, 1)
	if a.Address > math.MaxUint64-size {
		return math.MaxUint64
	}
	return a.Address + size
}

func histogram(live []*Allocation) []HistogramBin {
	bins := make([]HistogramBin, len(histogramBins))
	for i, r := range histogramBins {
		bins[i] = HistogramBin{MinSize: r[0], MaxSize: r[1]}
	}
	for _, a := range live {
		for i := range bins {
			last := i == len(bins)-1
			if a.Size >= bins[i].MinSize && (a.Size < bins[i].MaxSize || last) {
				bins[i].Count++
				bins[i].TotalSize += a.Size
				break
			}
		}
	}
	return bins
}

// topConsumers 按分配点聚合存活分配，取总量最大的前10个
func topConsumers(live []*Allocation) []TopConsumer {
	withSite := lo.Filter(live, func(a *Allocation, _ int) bool {
		return len(a.Stack) > 0
	})
	groups := lo.GroupBy(withSite, func(a *Allocation) string {
		return a.Stack[0]
	})
	consumers := lo.MapToSlice(groups, func(site string, allocations []*Allocation) TopConsumer {
		total := lo.SumBy(allocations, func(a *Allocation) uint64 {
			return a.Size
		})
		return TopConsumer{
			Site:            site,
			TotalMemory:     total,
			AllocationCount: len(allocations),
			AverageSize:     float64(total) / float64(len(allocations)),
		}
	})
	slices.SortFunc(consumers, func(a, b TopConsumer) int {
		if a.TotalMemory != b.TotalMemory {
			if a.TotalMemory > b.TotalMemory {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Site, b.Site)
	})
	for i := range consumers {
		consumers[i].Rank = i + 1
	}
	if len(consumers) > topConsumerLimit {
		consumers = consumers[:topConsumerLimit]
	}
	return consumers
}

// AnalyzeFragmentation 根据段分布计算碎片情况，更新堆统计中的碎片率并输出事件
func (p *Profiler) AnalyzeFragmentation() FragmentationInfo {
	p.lock.Lock()
	defer p.lock.Unlock()

	live := p.liveSortedLocked()
	segments := p.segments(live)
	info := FragmentationInfo{
		TotalAllocatedMemory: lo.SumBy(live, func(a *Allocation) uint64 {
			return a.Size
		}),
		Hotspots: []FragmentationHotspot{},
	}

	var run uint64
	for _, s := range segments {
		if s.State == SegmentFree {
			info.TotalFreeMemory += s.Size
			run += s.Size
			info.LargestFreeBlock = max(info.LargestFreeBlock, run)
		} else {
			run = 0
		}
	}
	if len(segments) > 0 {
		info.AverageFragmentation = float64(info.TotalFreeMemory) / float64(uint64(len(segments))*p.segmentSize)
	}

	for _, window := range lo.Chunk(segments, hotspotWindow) {
		free := lo.CountBy(window, func(s HeapSegment) bool {
			return s.State == SegmentFree
		})
		if free == 0 || free == len(window) {
			continue
		}
		ratio := float64(free) / float64(len(window))
		if ratio < 0.5 {
			continue
		}
		last := window[len(window)-1]
		info.Hotspots = append(info.Hotspots, FragmentationHotspot{
			Start:                   window[0].Address,
			End:                     last.Address + last.Size,
			FragmentationPercentage: ratio * 100,
			RecommendedAlignment:    p.segmentSize,
		})
	}

	p.fragmentation = info
	p.stats.FragmentationRatio = info.AverageFragmentation
	p.events.Emit(&FragmentationAnalysis{Analysis: info})
	return info
}

// RenderTopConsumers 以表格形式输出内存消耗排行
func (h *HeapVisualization) RenderTopConsumers(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.Header("Rank", "Site", "Total", "Count", "Average")
	for _, c := range h.TopConsumers {
		if err := table.Append([]string{
			fmt.Sprint(c.Rank),
			c.Site,
			fmt.Sprint(c.TotalMemory),
			fmt.Sprint(c.AllocationCount),
			fmt.Sprintf("%.1f", c.AverageSize),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}
