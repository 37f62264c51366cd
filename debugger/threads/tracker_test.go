package threads

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fansqz/debug-engine/constants"
	e "github.com/fansqz/debug-engine/error"
	"github.com/fansqz/debug-engine/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testHelper struct {
	t       *testing.T
	clock   *clock.Mock
	events  chan protocol.Event
	tracker *Tracker
}

func newTestHelper(t *testing.T) *testHelper {
	h := &testHelper{
		t:      t,
		clock:  clock.NewMock(),
		events: make(chan protocol.Event, 256),
	}
	h.tracker = NewTracker(WithClock(h.clock))
	h.tracker.AddEventSender(h.events)
	return h
}

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

func (h *testHelper) eventsOf(eventType constants.DebugEventType) []protocol.Event {
	var matched []protocol.Event
	for _, ev := range h.drain() {
		if ev.EventType() == eventType {
			matched = append(matched, ev)
		}
	}
	return matched
}

func (h *testHelper) thread(id uint64) ThreadInfo {
	th, err := h.tracker.Thread(id)
	require.NoError(h.t, err)
	return th
}

func TestTrackThread(t *testing.T) {
	h := newTestHelper(t)
	h.tracker.TrackThread(1, "main")

	th := h.thread(1)
	assert.Equal(t, ThreadRunning, th.State)
	assert.Empty(t, th.HeldLocks)
	created := h.eventsOf(constants.ThreadCreatedEvent)
	require.Len(t, created, 1)
	assert.Equal(t, "main", created[0].(*ThreadCreated).Thread.Name)

	timeline, ok := h.tracker.Timeline(1)
	require.True(t, ok)
	require.Len(t, timeline.Events, 1)
	assert.Equal(t, TimelineThreadStarted, timeline.Events[0].Type)

	// 重复注册只改名字
	h.tracker.TrackThread(1, "worker")
	assert.Equal(t, "worker", h.thread(1).Name)
	assert.Empty(t, h.eventsOf(constants.ThreadCreatedEvent))
}

func TestUnknownThread(t *testing.T) {
	h := newTestHelper(t)
	assert.True(t, errors.Is(h.tracker.UpdateThreadState(9, ThreadSleeping), e.ErrUnknownThread))
	assert.True(t, errors.Is(h.tracker.AcquireLock(9, "m"), e.ErrUnknownThread))
	assert.True(t, errors.Is(h.tracker.ReleaseLock(9, "m"), e.ErrUnknownThread))
	assert.True(t, errors.Is(h.tracker.WaitForLock(9, "m"), e.ErrUnknownThread))
	_, err := h.tracker.Thread(9)
	assert.True(t, errors.Is(err, e.ErrUnknownThread))
}

func TestThreadTerminated(t *testing.T) {
	h := newTestHelper(t)
	h.tracker.TrackThread(1, "main")
	h.drain()
	require.NoError(t, h.tracker.UpdateThreadState(1, ThreadTerminated))
	events := h.drain()
	require.Len(t, events, 2)
	assert.Equal(t, constants.ThreadStateChangedEvent, events[0].EventType())
	assert.Equal(t, &ThreadTerminatedEvent{ThreadID: 1}, events[1])
}

func TestLockSingleOwnership(t *testing.T) {
	h := newTestHelper(t)
	h.tracker.TrackThread(1, "a")
	h.tracker.TrackThread(2, "b")

	require.NoError(t, h.tracker.AcquireLock(1, "m"))
	h.drain()
	err := h.tracker.AcquireLock(2, "m")
	assert.True(t, errors.Is(err, e.ErrLockHeld))
	assert.Equal(t, []string{"m"}, h.thread(1).HeldLocks)
	assert.Empty(t, h.thread(2).HeldLocks)
	holder, ok := h.tracker.LockHolder("m")
	require.True(t, ok)
	assert.Equal(t, uint64(1), holder)

	contention := h.eventsOf(constants.LockContentionEvent)
	require.Len(t, contention, 1)
	assert.Equal(t, []uint64{1, 2}, contention[0].(*LockContention).ContendingThreads)

	// 持有者重复获取不算竞争
	require.NoError(t, h.tracker.AcquireLock(1, "m"))
	assert.Empty(t, h.eventsOf(constants.LockContentionEvent))

	require.NoError(t, h.tracker.ReleaseLock(1, "m"))
	require.NoError(t, h.tracker.AcquireLock(2, "m"))
	assert.Empty(t, h.thread(1).HeldLocks)
	assert.Equal(t, []string{"m"}, h.thread(2).HeldLocks)
}

func TestReleaseByNonHolderIsBenign(t *testing.T) {
	h := newTestHelper(t)
	h.tracker.TrackThread(1, "a")
	h.tracker.TrackThread(2, "b")
	require.NoError(t, h.tracker.AcquireLock(1, "m"))

	require.NoError(t, h.tracker.ReleaseLock(2, "m"))
	holder, ok := h.tracker.LockHolder("m")
	require.True(t, ok)
	assert.Equal(t, uint64(1), holder)
	assert.Equal(t, []string{"m"}, h.thread(1).HeldLocks)
}

func TestWaitAndWake(t *testing.T) {
	h := newTestHelper(t)
	h.tracker.TrackThread(1, "a")
	h.tracker.TrackThread(2, "b")
	require.NoError(t, h.tracker.AcquireLock(1, "m"))
	require.NoError(t, h.tracker.WaitForLock(2, "m"))

	th := h.thread(2)
	assert.Equal(t, ThreadBlocked, th.State)
	assert.Equal(t, []string{"m"}, th.WaitingLocks)

	require.NoError(t, h.tracker.ReleaseLock(1, "m"))
	th = h.thread(2)
	assert.Equal(t, ThreadRunning, th.State)
	assert.Empty(t, th.WaitingLocks)
}

func TestWakeKeepsBlockedWhileWaitingOtherLocks(t *testing.T) {
	h := newTestHelper(t)
	h.tracker.TrackThread(1, "a")
	h.tracker.TrackThread(2, "b")
	require.NoError(t, h.tracker.AcquireLock(1, "m"))
	require.NoError(t, h.tracker.AcquireLock(1, "n"))
	require.NoError(t, h.tracker.WaitForLock(2, "m"))
	require.NoError(t, h.tracker.WaitForLock(2, "n"))

	require.NoError(t, h.tracker.ReleaseLock(1, "m"))
	th := h.thread(2)
	assert.Equal(t, ThreadBlocked, th.State)
	assert.Equal(t, []string{"n"}, th.WaitingLocks)
}

func TestWaitOnHeldLockIgnored(t *testing.T) {
	h := newTestHelper(t)
	h.tracker.TrackThread(1, "a")
	require.NoError(t, h.tracker.AcquireLock(1, "m"))
	require.NoError(t, h.tracker.WaitForLock(1, "m"))
	th := h.thread(1)
	assert.Empty(t, th.WaitingLocks)
	assert.Equal(t, ThreadRunning, th.State)
}

func TestAsyncTaskLifecycle(t *testing.T) {
	h := newTestHelper(t)
	h.tracker.TrackThread(1, "runtime")
	threadID := uint64(1)
	first := h.tracker.TrackAsyncTask("fetch", &threadID)
	second := h.tracker.TrackAsyncTask("parse", nil)
	assert.Equal(t, uint64(1), first)
	assert.Equal(t, uint64(2), second)
	h.drain()

	require.NoError(t, h.tracker.UpdateAsyncTaskState(first, TaskRunning, ""))
	assert.Equal(t, first, *h.thread(1).CurrentTask)
	require.NoError(t, h.tracker.UpdateAsyncTaskState(first, TaskSuspended, ""))
	assert.Nil(t, h.thread(1).CurrentTask)
	require.NoError(t, h.tracker.UpdateAsyncTaskState(first, TaskError, "connection reset"))

	events := h.drain()
	require.Len(t, events, 4)
	assert.Equal(t, &TaskCompletedEvent{TaskID: first}, events[3])

	task, err := h.tracker.Task(first)
	require.NoError(t, err)
	assert.Equal(t, TaskError, task.State)
	assert.Equal(t, "connection reset", task.Error)

	err = h.tracker.UpdateAsyncTaskState(first, TaskRunning, "")
	assert.True(t, errors.Is(err, e.ErrTaskFinished))
	assert.True(t, errors.Is(h.tracker.UpdateAsyncTaskState(42, TaskRunning, ""), e.ErrUnknownTask))

	timeline, _ := h.tracker.Timeline(1)
	types := make([]TimelineEventType, 0, len(timeline.Events))
	for _, ev := range timeline.Events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []TimelineEventType{
		TimelineThreadStarted, TimelineTaskStarted, TimelineTaskResumed, TimelineTaskSuspended, TimelineTaskCompleted,
	}, types)
}

func TestAsyncFrames(t *testing.T) {
	h := newTestHelper(t)
	id := h.tracker.TrackAsyncTask("serve", nil)
	require.NoError(t, h.tracker.PushAsyncFrame(id, AsyncFrame{FutureName: "accept", Location: "server.rs:10", FrameState: "pending"}))
	require.NoError(t, h.tracker.PushAsyncFrame(id, AsyncFrame{FutureName: "read", Location: "conn.rs:42", FrameState: "pending"}))
	require.NoError(t, h.tracker.SetWakeupSource(id, "socket"))

	frame, ok, err := h.tracker.PopAsyncFrame(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "read", frame.FutureName)

	task, _ := h.tracker.Task(id)
	assert.Len(t, task.CallStack, 1)
	assert.Equal(t, "socket", task.WakeupSource)
}

func TestFunctionTimeline(t *testing.T) {
	h := newTestHelper(t)
	h.tracker.TrackThread(1, "main")
	require.NoError(t, h.tracker.RecordFunctionCall(1, "main", nil))
	require.NoError(t, h.tracker.RecordFunctionCall(1, "compute", nil))
	assert.Equal(t, []string{"main", "compute"}, h.thread(1).CallStack)
	h.clock.Add(5 * time.Millisecond)
	require.NoError(t, h.tracker.RecordFunctionReturn(1, "compute", nil))
	assert.Equal(t, []string{"main"}, h.thread(1).CallStack)
	require.NoError(t, h.tracker.AddCPUTime(1, 5*time.Millisecond))

	timeline, _ := h.tracker.Timeline(1)
	require.Len(t, timeline.Events, 4)
	last := timeline.Events[3]
	assert.Equal(t, TimelineFunctionReturn, last.Type)
	assert.Equal(t, "compute", last.Function)
	assert.Equal(t, h.clock.Now(), last.Timestamp)
	assert.Equal(t, 5*time.Millisecond, timeline.TotalCPUTime)
}

func TestReset(t *testing.T) {
	h := newTestHelper(t)
	h.tracker.TrackThread(1, "main")
	h.tracker.TrackAsyncTask("t", nil)
	h.tracker.Reset()
	assert.Empty(t, h.tracker.Threads())
	assert.Empty(t, h.tracker.Tasks())
	assert.Equal(t, uint64(1), h.tracker.TrackAsyncTask("again", nil))
}

func TestAsyncVisualization(t *testing.T) {
	h := newTestHelper(t)
	h.tracker.TrackThread(1, "runtime")
	id := h.tracker.TrackAsyncTask("fetch", nil)
	require.NoError(t, h.tracker.PushAsyncFrame(id, AsyncFrame{FutureName: "http_get", Location: "client.rs:7"}))
	require.NoError(t, h.tracker.AcquireLock(1, "pool"))

	v := h.tracker.GetAsyncVisualizationData()
	require.Len(t, v.Tasks, 1)
	require.Len(t, v.Threads, 1)
	text := v.String()
	assert.Contains(t, text, "fetch")
	assert.Contains(t, text, "http_get - client.rs:7")
	assert.Contains(t, text, "runtime")
	assert.Contains(t, text, "pool")
}
