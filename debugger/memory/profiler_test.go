package memory

import (
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fansqz/debug-engine/constants"
	"github.com/fansqz/debug-engine/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testHelper struct {
	t        *testing.T
	clock    *clock.Mock
	events   chan protocol.Event
	profiler *Profiler
}

func newTestHelper(t *testing.T, options ...Option) *testHelper {
	h := &testHelper{
		t:      t,
		clock:  clock.NewMock(),
		events: make(chan protocol.Event, 256),
	}
	h.profiler = NewProfiler(append([]Option{WithClock(h.clock)}, options...)...)
	h.profiler.AddEventSender(h.events)
	return h
}

// drain 取出当前所有事件
func (h *testHelper) drain() []protocol.Event {
	var events []protocol.Event
	for {
		select {
		case ev := <-h.events:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func (h *testHelper) countEvents(eventType constants.DebugEventType) int {
	count := 0
	for _, ev := range h.drain() {
		if ev.EventType() == eventType {
			count++
		}
	}
	return count
}

func uint64Ptr(v uint64) *uint64 {
	return &v
}

func TestAllocationDeallocationSymmetry(t *testing.T) {
	h := newTestHelper(t)
	p := h.profiler

	p.TrackAllocation(Allocation{Address: 0x1000, Size: 128, Stack: []string{"main"}})
	before := p.Statistics().UsedHeapSize

	p.TrackAllocation(Allocation{Address: 0x2000, Size: 64})
	assert.Equal(t, before+64, p.Statistics().UsedHeapSize)
	p.TrackDeallocation(0x2000, time.Time{}, []string{"free"}, nil)

	stats := p.Statistics()
	assert.Equal(t, before, stats.UsedHeapSize)
	assert.Equal(t, uint64(192), stats.PeakUsage)
	assert.Equal(t, uint64(2), stats.AllocationCount)
	assert.Equal(t, uint64(1), stats.DeallocationCount)
	assert.Equal(t, int(stats.AllocationCount-stats.DeallocationCount), len(p.LiveAllocations()))

	history := p.History()
	require.Len(t, history, 3)
	require.NotNil(t, history[2].DeallocatedAt)
	assert.Equal(t, []string{"free"}, history[2].DeallocationStack)

	events := h.drain()
	require.Len(t, events, 3)
	dealloc, ok := events[2].(*Deallocation)
	require.True(t, ok)
	assert.Equal(t, uint64(0x2000), dealloc.Address)
}

func TestUsedHeapSaturates(t *testing.T) {
	h := newTestHelper(t)
	h.profiler.TrackAllocation(Allocation{Address: 0x1000, Size: math.MaxUint64})
	h.profiler.TrackAllocation(Allocation{Address: 0x2000, Size: 16})

	stats := h.profiler.Statistics()
	assert.Equal(t, uint64(math.MaxUint64), stats.UsedHeapSize)
	assert.Equal(t, uint64(math.MaxUint64), stats.PeakUsage)
}

func TestUnknownDeallocationIsNoop(t *testing.T) {
	h := newTestHelper(t)
	p := h.profiler
	p.TrackAllocation(Allocation{Address: 0x1000, Size: 32})
	h.drain()

	p.TrackDeallocation(0xdead, time.Time{}, nil, uint64Ptr(3))
	stats := p.Statistics()
	assert.Equal(t, uint64(32), stats.UsedHeapSize)
	assert.Equal(t, uint64(0), stats.DeallocationCount)
	assert.Empty(t, h.drain())
}

func TestAddressReuseAfterDeallocation(t *testing.T) {
	h := newTestHelper(t)
	p := h.profiler
	p.TrackAllocation(Allocation{Address: 0x1000, Size: 32})
	p.TrackDeallocation(0x1000, time.Time{}, nil, nil)
	p.TrackAllocation(Allocation{Address: 0x1000, Size: 48})

	stats := p.Statistics()
	assert.Equal(t, uint64(48), stats.UsedHeapSize)
	assert.Equal(t, uint64(48), stats.PeakUsage)
	require.Len(t, p.LiveAllocations(), 1)
	assert.Equal(t, uint64(48), p.LiveAllocations()[0].Size)
}

func TestDuplicateLiveAddressIsImplicitFree(t *testing.T) {
	h := newTestHelper(t)
	p := h.profiler
	p.TrackAllocation(Allocation{Address: 0x1000, Size: 32})
	p.TrackAllocation(Allocation{Address: 0x1000, Size: 16})

	stats := p.Statistics()
	assert.Equal(t, uint64(16), stats.UsedHeapSize)
	assert.Equal(t, uint64(2), stats.AllocationCount)
	assert.Equal(t, uint64(1), stats.DeallocationCount)
	assert.Len(t, p.LiveAllocations(), 1)
}

func TestLeakScenarioPossiblyLost(t *testing.T) {
	h := newTestHelper(t, WithLeakThreshold(300*time.Second))
	p := h.profiler
	p.TrackAllocation(Allocation{Address: 0x1000, Size: 64, AllocatedAt: h.clock.Now()})
	h.clock.Add(400 * time.Second)

	leaks := p.AnalyzePotentialLeaks()
	require.Len(t, leaks, 1)
	leak := leaks[0]
	assert.Equal(t, uint64(0x1000), leak.Address)
	assert.Equal(t, PossiblyLost, leak.LeakType)
	assert.Equal(t, 400*time.Second, leak.LeakDuration)
	expected := 64.0/(1024*1024)*0.5 + 400.0/3600*0.5
	assert.InDelta(t, expected, leak.SeverityScore, 1e-9)
	assert.Equal(t, 1, h.countEvents(constants.LeakDetectedEvent))
}

func TestLeakDedup(t *testing.T) {
	h := newTestHelper(t)
	p := h.profiler
	p.TrackAllocation(Allocation{Address: 0x1000, Size: 64})
	p.TrackAllocation(Allocation{Address: 0x2000, Size: 64, ThreadID: uint64Ptr(1)})
	h.clock.Add(10 * time.Minute)

	first := p.AnalyzePotentialLeaks()
	second := p.AnalyzePotentialLeaks()
	assert.Len(t, first, 2)
	assert.Empty(t, second)
	assert.Equal(t, DefinitelyLost, first[1].LeakType)

	// 释放后地址可以再次被报告
	p.TrackDeallocation(0x1000, time.Time{}, nil, nil)
	p.TrackAllocation(Allocation{Address: 0x1000, Size: 64})
	h.clock.Add(10 * time.Minute)
	third := p.AnalyzePotentialLeaks()
	require.Len(t, third, 1)
	assert.Equal(t, uint64(0x1000), third[0].Address)
}

func TestLeakBelowThresholdIgnored(t *testing.T) {
	h := newTestHelper(t)
	h.profiler.TrackAllocation(Allocation{Address: 0x1000, Size: 64})
	h.clock.Add(299 * time.Second)
	assert.Empty(t, h.profiler.AnalyzePotentialLeaks())
}

func TestLongLivedIsPossiblyLost(t *testing.T) {
	h := newTestHelper(t)
	h.profiler.TrackAllocation(Allocation{Address: 0x1000, Size: 2 << 20, ThreadID: uint64Ptr(7)})
	h.clock.Add(3 * time.Hour)
	leaks := h.profiler.AnalyzePotentialLeaks()
	require.Len(t, leaks, 1)
	assert.Equal(t, PossiblyLost, leaks[0].LeakType)
	assert.InDelta(t, 1.0, leaks[0].SeverityScore, 1e-9)
}

func TestPeriodicLeakScan(t *testing.T) {
	h := newTestHelper(t, WithScanEvery(3))
	p := h.profiler
	p.TrackAllocation(Allocation{Address: 0x1000, Size: 8})
	h.clock.Add(time.Hour)
	p.TrackAllocation(Allocation{Address: 0x2000, Size: 8})
	assert.Equal(t, 0, h.countEvents(constants.LeakDetectedEvent))
	p.TrackAllocation(Allocation{Address: 0x3000, Size: 8})
	assert.Equal(t, 1, h.countEvents(constants.LeakDetectedEvent))
}

func TestUpdateHeapStatistics(t *testing.T) {
	h := newTestHelper(t)
	stats := HeapStatistics{TotalHeapSize: 4096, UsedHeapSize: 1024, PeakUsage: 2048, AllocationCount: 9}
	h.profiler.UpdateHeapStatistics(stats)
	assert.Equal(t, stats, h.profiler.Statistics())
	assert.Equal(t, 1, h.countEvents(constants.HeapStatisticsUpdatedEvent))
}

func TestReset(t *testing.T) {
	h := newTestHelper(t)
	h.profiler.TrackAllocation(Allocation{Address: 0x1000, Size: 8})
	h.profiler.Reset()
	assert.Empty(t, h.profiler.LiveAllocations())
	assert.Empty(t, h.profiler.History())
	assert.Equal(t, HeapStatistics{}, h.profiler.Statistics())
}

func TestParseAllocationKind(t *testing.T) {
	assert.Equal(t, Heap, ParseAllocationKind(""))
	assert.Equal(t, Shared, ParseAllocationKind("shared"))
	assert.Equal(t, CustomKind("arena"), ParseAllocationKind("arena"))
	assert.Equal(t, CustomKind("arena"), ParseAllocationKind("custom:arena"))
}
