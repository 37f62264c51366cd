package coordinator

import (
	"time"

	"github.com/fansqz/debug-engine/debugger/memory"
	"github.com/fansqz/debug-engine/debugger/threads"
	e "github.com/fansqz/debug-engine/error"
)

// 以下方法转发到插桩分析子系统，子系统的错误统一包装为ProcessError

func (c *Coordinator) TrackThread(threadID uint64, name string) {
	c.tracker.TrackThread(threadID, name)
}

func (c *Coordinator) TrackAsyncTask(name string, threadID *uint64) uint64 {
	return c.tracker.TrackAsyncTask(name, threadID)
}

func (c *Coordinator) UpdateThreadState(threadID uint64, state threads.ThreadState) error {
	return e.WrapProcessError("update thread state fail", c.tracker.UpdateThreadState(threadID, state))
}

func (c *Coordinator) UpdateAsyncTaskState(taskID uint64, state threads.TaskState, message string) error {
	return e.WrapProcessError("update task state fail", c.tracker.UpdateAsyncTaskState(taskID, state, message))
}

func (c *Coordinator) AddTaskDependency(taskID uint64, dependsOn uint64) error {
	return e.WrapProcessError("add task dependency fail", c.tracker.AddTaskDependency(taskID, dependsOn))
}

func (c *Coordinator) AcquireLock(threadID uint64, lockID string) error {
	return e.WrapProcessError("acquire lock fail", c.tracker.AcquireLock(threadID, lockID))
}

func (c *Coordinator) ReleaseLock(threadID uint64, lockID string) error {
	return e.WrapProcessError("release lock fail", c.tracker.ReleaseLock(threadID, lockID))
}

func (c *Coordinator) WaitForLock(threadID uint64, lockID string) error {
	return e.WrapProcessError("wait for lock fail", c.tracker.WaitForLock(threadID, lockID))
}

func (c *Coordinator) RecordFunctionCall(threadID uint64, function string, taskID *uint64) error {
	return e.WrapProcessError("record function call fail", c.tracker.RecordFunctionCall(threadID, function, taskID))
}

func (c *Coordinator) RecordFunctionReturn(threadID uint64, function string, taskID *uint64) error {
	return e.WrapProcessError("record function return fail", c.tracker.RecordFunctionReturn(threadID, function, taskID))
}

func (c *Coordinator) DetectDeadlocks() []threads.DeadlockInfo {
	return c.tracker.DetectAllDeadlocks()
}

func (c *Coordinator) GetAsyncVisualizationData() *threads.AsyncVisualization {
	return c.tracker.GetAsyncVisualizationData()
}

func (c *Coordinator) TrackAllocation(allocation memory.Allocation) {
	c.profiler.TrackAllocation(allocation)
}

func (c *Coordinator) TrackDeallocation(address uint64, deallocatedAt time.Time, stack []string, threadID *uint64) {
	c.profiler.TrackDeallocation(address, deallocatedAt, stack, threadID)
}

func (c *Coordinator) UpdateHeapStatistics(stats memory.HeapStatistics) {
	c.profiler.UpdateHeapStatistics(stats)
}

func (c *Coordinator) AnalyzePotentialLeaks() []memory.LeakClassification {
	return c.profiler.AnalyzePotentialLeaks()
}

func (c *Coordinator) GenerateHeapVisualization() *memory.HeapVisualization {
	return c.profiler.GenerateHeapVisualization()
}

func (c *Coordinator) AnalyzeFragmentation() memory.FragmentationInfo {
	return c.profiler.AnalyzeFragmentation()
}
