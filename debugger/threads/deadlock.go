package threads

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fansqz/debug-engine/debugger/graph"
	"github.com/fansqz/debug-engine/utils/gosync"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// DetectDeadlocks 在线程等待图上做环检测
// 线程A等待的锁被线程B持有时存在边 A -> B，每个环输出一个 DeadlockInfo
func (t *Tracker) DetectDeadlocks() []DeadlockInfo {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.detectThreadDeadlocks()
}

// DetectTaskDeadlocks 在未结束任务的依赖图上做环检测
func (t *Tracker) DetectTaskDeadlocks() []DeadlockInfo {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.detectTaskDeadlocks()
}

// DetectAllDeadlocks 线程死锁和任务死锁
func (t *Tracker) DetectAllDeadlocks() []DeadlockInfo {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return append(t.detectThreadDeadlocks(), t.detectTaskDeadlocks()...)
}

func (t *Tracker) detectThreadDeadlocks() []DeadlockInfo {
	nodes := lo.Keys(t.threads)
	cycles := graph.FindCycles(nodes, func(id uint64) []uint64 {
		var holders []uint64
		for _, v := range t.threads[id].waitingLocks.Values() {
			if holder, ok := t.locks[v.(string)]; ok {
				holders = append(holders, holder)
			}
		}
		return holders
	})
	if len(cycles) == 0 {
		return nil
	}

	// 所有线程正在等待的锁
	var contested []string
	for _, th := range t.threads {
		contested = append(contested, lockIDs(th.waitingLocks)...)
	}
	slices.Sort(contested)
	contested = slices.Compact(contested)

	now := t.clock.Now()
	return lo.Map(cycles, func(cycle []uint64, _ int) DeadlockInfo {
		return DeadlockInfo{
			InvolvedThreads: cycle,
			ContestedLocks:  slices.Clone(contested),
			Description:     fmt.Sprintf("Deadlock detected involving threads: %s", joinIDs(cycle)),
			DetectedAt:      now,
		}
	})
}

func (t *Tracker) detectTaskDeadlocks() []DeadlockInfo {
	pending := lo.PickBy(t.tasks, func(_ uint64, task *AsyncTask) bool {
		return !task.State.Finished()
	})
	cycles := graph.FindCycles(lo.Keys(pending), func(id uint64) []uint64 {
		return lo.Filter(pending[id].Dependencies, func(dep uint64, _ int) bool {
			_, ok := pending[dep]
			return ok
		})
	})
	now := t.clock.Now()
	return lo.Map(cycles, func(cycle []uint64, _ int) DeadlockInfo {
		return DeadlockInfo{
			InvolvedTasks:  cycle,
			ContestedLocks: []string{},
			Description:    fmt.Sprintf("Async deadlock detected involving tasks: %s", joinIDs(cycle)),
			DetectedAt:     now,
		}
	})
}

func joinIDs(ids []uint64) string {
	return "[" + strings.Join(lo.Map(ids, func(id uint64, _ int) string {
		return fmt.Sprint(id)
	}), ", ") + "]"
}

// signature 用参与者标识一个死锁，后台扫描对同一个死锁只输出一次
func signature(d DeadlockInfo) string {
	return "threads" + joinIDs(d.InvolvedThreads) + "tasks" + joinIDs(d.InvolvedTasks)
}

// detector 后台死锁扫描
type detector struct {
	tracker  *Tracker
	interval time.Duration
	active   atomic.Bool

	mu       sync.Mutex
	cancel   context.CancelFunc
	// sessions 请求后台扫描的会话数，减到0时才真正停止
	sessions int
	reported map[string]bool
}

func newDetector(t *Tracker) *detector {
	return &detector{
		tracker:  t,
		interval: DefaultScanInterval,
		reported: make(map[string]bool),
	}
}

// StartDetection 开始后台死锁扫描
// 每次调用都要对应一次 StopDetection，多个会话共享同一个扫描协程
func (t *Tracker) StartDetection(ctx context.Context) {
	d := t.detector
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions++
	if d.active.Load() {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.active.Store(true)
	ticker := t.clock.Ticker(d.interval)
	logrus.Infof("[ThreadTracker] deadlock detection started, interval = %s", d.interval)
	gosync.Go(ctx, func(ctx context.Context) {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !d.active.Load() {
					return
				}
				d.scan()
			}
		}
	})
}

// StopDetection 释放一次 StartDetection，没有会话再需要时停止后台扫描
func (t *Tracker) StopDetection() {
	d := t.detector
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sessions > 0 {
		d.sessions--
	}
	if d.sessions > 0 {
		return
	}
	d.active.Store(false)
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.reported = make(map[string]bool)
	logrus.Infof("[ThreadTracker] deadlock detection stopped")
}

// DetectionActive 后台扫描是否在运行
func (t *Tracker) DetectionActive() bool {
	return t.detector.active.Load()
}

// scan 执行一次扫描，只输出新出现的死锁，已经消失的死锁再次出现时会重新输出
func (d *detector) scan() []DeadlockInfo {
	deadlocks := d.tracker.DetectAllDeadlocks()

	d.mu.Lock()
	defer d.mu.Unlock()
	current := make(map[string]bool, len(deadlocks))
	var fresh []DeadlockInfo
	for _, deadlock := range deadlocks {
		sig := signature(deadlock)
		current[sig] = true
		if d.reported[sig] {
			continue
		}
		fresh = append(fresh, deadlock)
		logrus.Warnf("[ThreadTracker] %s", deadlock.Description)
	}
	d.reported = current

	d.tracker.lock.RLock()
	defer d.tracker.lock.RUnlock()
	for _, deadlock := range fresh {
		d.tracker.emit(&DeadlockDetected{Deadlock: deadlock})
	}
	return fresh
}
