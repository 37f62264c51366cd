package threads

import (
	"context"
	"testing"
	"time"

	"github.com/fansqz/debug-engine/constants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// holdAndWait 线程持有 held 并等待 waiting
func (h *testHelper) holdAndWait(threadID uint64, held, waiting string) {
	require.NoError(h.t, h.tracker.AcquireLock(threadID, held))
	require.NoError(h.t, h.tracker.WaitForLock(threadID, waiting))
}

func TestDetectDeadlockCycle(t *testing.T) {
	h := newTestHelper(t)
	h.tracker.TrackThread(1, "a")
	h.tracker.TrackThread(2, "b")
	require.NoError(t, h.tracker.AcquireLock(1, "l1"))
	require.NoError(t, h.tracker.AcquireLock(2, "l2"))
	require.NoError(t, h.tracker.WaitForLock(1, "l2"))
	require.NoError(t, h.tracker.WaitForLock(2, "l1"))

	deadlocks := h.tracker.DetectDeadlocks()
	require.Len(t, deadlocks, 1)
	assert.ElementsMatch(t, []uint64{1, 2}, deadlocks[0].InvolvedThreads)
	assert.Equal(t, []string{"l1", "l2"}, deadlocks[0].ContestedLocks)
	assert.Contains(t, deadlocks[0].Description, "[1, 2]")
	assert.Equal(t, h.clock.Now(), deadlocks[0].DetectedAt)
}

func TestDetectDeadlockThreeThreads(t *testing.T) {
	h := newTestHelper(t)
	for i := uint64(1); i <= 3; i++ {
		h.tracker.TrackThread(i, "worker")
	}
	require.NoError(t, h.tracker.AcquireLock(1, "a"))
	require.NoError(t, h.tracker.AcquireLock(2, "b"))
	require.NoError(t, h.tracker.AcquireLock(3, "c"))
	require.NoError(t, h.tracker.WaitForLock(1, "b"))
	require.NoError(t, h.tracker.WaitForLock(2, "c"))
	require.NoError(t, h.tracker.WaitForLock(3, "a"))

	deadlocks := h.tracker.DetectDeadlocks()
	require.Len(t, deadlocks, 1)
	assert.ElementsMatch(t, []uint64{1, 2, 3}, deadlocks[0].InvolvedThreads)
}

func TestDetectDeadlockChain(t *testing.T) {
	h := newTestHelper(t)
	for i := uint64(1); i <= 3; i++ {
		h.tracker.TrackThread(i, "worker")
	}
	// 1 等 2，2 等 3，3 不等待
	require.NoError(t, h.tracker.AcquireLock(2, "b"))
	require.NoError(t, h.tracker.AcquireLock(3, "c"))
	require.NoError(t, h.tracker.WaitForLock(1, "b"))
	require.NoError(t, h.tracker.WaitForLock(2, "c"))

	assert.Empty(t, h.tracker.DetectDeadlocks())
}

func TestDetectTaskDeadlocks(t *testing.T) {
	h := newTestHelper(t)
	a := h.tracker.TrackAsyncTask("a", nil)
	b := h.tracker.TrackAsyncTask("b", nil)
	c := h.tracker.TrackAsyncTask("c", nil)
	require.NoError(t, h.tracker.AddTaskDependency(a, b))
	require.NoError(t, h.tracker.AddTaskDependency(b, c))
	assert.Empty(t, h.tracker.DetectTaskDeadlocks())

	require.NoError(t, h.tracker.AddTaskDependency(c, a))
	deadlocks := h.tracker.DetectTaskDeadlocks()
	require.Len(t, deadlocks, 1)
	assert.ElementsMatch(t, []uint64{a, b, c}, deadlocks[0].InvolvedTasks)
	assert.Empty(t, deadlocks[0].InvolvedThreads)

	require.NoError(t, h.tracker.RemoveTaskDependency(c, a))
	assert.Empty(t, h.tracker.DetectTaskDeadlocks())
	require.NoError(t, h.tracker.AddTaskDependency(c, a))

	// 结束的任务不再参与
	require.NoError(t, h.tracker.UpdateAsyncTaskState(b, TaskCompleted, ""))
	assert.Empty(t, h.tracker.DetectTaskDeadlocks())
}

func TestBackgroundDetection(t *testing.T) {
	h := newTestHelper(t)
	h.tracker.TrackThread(1, "a")
	h.tracker.TrackThread(2, "b")
	h.holdAndWait(1, "l1", "l2")
	h.holdAndWait(2, "l2", "l1")
	h.drain()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.tracker.StartDetection(ctx)
	defer h.tracker.StopDetection()
	assert.True(t, h.tracker.DetectionActive())

	h.clock.Add(time.Second)
	var detected *DeadlockDetected
	require.Eventually(t, func() bool {
		select {
		case ev := <-h.events:
			if d, ok := ev.(*DeadlockDetected); ok {
				detected = d
				return true
			}
		default:
		}
		return false
	}, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []uint64{1, 2}, detected.Deadlock.InvolvedThreads)
}

func TestScanReportsOnce(t *testing.T) {
	h := newTestHelper(t)
	h.tracker.TrackThread(1, "a")
	h.tracker.TrackThread(2, "b")
	h.holdAndWait(1, "l1", "l2")
	h.holdAndWait(2, "l2", "l1")
	h.drain()

	assert.Len(t, h.tracker.detector.scan(), 1)
	assert.Empty(t, h.tracker.detector.scan())
	assert.Len(t, h.eventsOf(constants.DeadlockDetectedEvent), 1)

	h.tracker.StopDetection()
	assert.False(t, h.tracker.DetectionActive())
	assert.Len(t, h.tracker.detector.scan(), 1)
}
