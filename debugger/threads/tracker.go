package threads

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/emirpasic/gods/sets/treeset"
	"github.com/emirpasic/gods/utils"
	e "github.com/fansqz/debug-engine/error"
	"github.com/fansqz/debug-engine/protocol"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

const DefaultScanInterval = time.Second

// thread 线程的内部记录，锁集合用有序集合保存，输出快照时顺序稳定
type thread struct {
	id           uint64
	name         string
	callStack    []string
	currentTask  *uint64
	cpuTime      time.Duration
	state        ThreadState
	heldLocks    *treeset.Set
	waitingLocks *treeset.Set
}

func (t *thread) snapshot() ThreadInfo {
	return ThreadInfo{
		ID:           t.id,
		Name:         t.name,
		CallStack:    slices.Clone(t.callStack),
		CurrentTask:  t.currentTask,
		CPUTime:      t.cpuTime,
		State:        t.state,
		HeldLocks:    lockIDs(t.heldLocks),
		WaitingLocks: lockIDs(t.waitingLocks),
	}
}

func lockIDs(set *treeset.Set) []string {
	return lo.Map(set.Values(), func(v interface{}, _ int) string {
		return v.(string)
	})
}

// Tracker 线程和异步任务跟踪器
// 锁登记表、线程表、任务表会被插桩回调并发修改，统一由读写锁保护
type Tracker struct {
	lock  sync.RWMutex
	clock clock.Clock

	threads   map[uint64]*thread
	tasks     map[uint64]*AsyncTask
	timelines map[uint64]*ExecutionTimeline
	// locks 锁id到持有线程的映射，锁的唯一事实来源
	locks      map[string]uint64
	nextTaskID uint64

	// events 各个会话注册的事件通道
	events protocol.Subscribers

	detector *detector
}

type Option func(t *Tracker)

func WithClock(c clock.Clock) Option {
	return func(t *Tracker) {
		t.clock = c
	}
}

// WithScanInterval 后台死锁扫描的间隔
func WithScanInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.detector.interval = d
		}
	}
}

func NewTracker(options ...Option) *Tracker {
	t := &Tracker{
		clock:      clock.New(),
		threads:    make(map[uint64]*thread),
		tasks:      make(map[uint64]*AsyncTask),
		timelines:  make(map[uint64]*ExecutionTimeline),
		locks:      make(map[string]uint64),
		nextTaskID: 1,
	}
	t.detector = newDetector(t)
	for _, option := range options {
		option(t)
	}
	return t
}

// AddEventSender 注册一个事件输出通道，跟踪器的事件会发给所有注册的通道
func (t *Tracker) AddEventSender(events chan<- protocol.Event) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.events.Add(events)
}

func (t *Tracker) RemoveEventSender(events chan<- protocol.Event) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.events.Remove(events)
}

func (t *Tracker) emit(event protocol.Event) {
	t.events.Emit(event)
}

// appendTimeline 向线程的时间线追加事件，线程没有时间线时忽略
func (t *Tracker) appendTimeline(threadID uint64, event TimelineEvent) {
	timeline, ok := t.timelines[threadID]
	if !ok {
		return
	}
	event.Timestamp = t.clock.Now()
	timeline.Events = append(timeline.Events, event)
}

func (t *Tracker) getThread(threadID uint64) (*thread, error) {
	th, ok := t.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", e.ErrUnknownThread, threadID)
	}
	return th, nil
}

func (t *Tracker) getTask(taskID uint64) (*AsyncTask, error) {
	task, ok := t.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", e.ErrUnknownTask, taskID)
	}
	return task, nil
}

// TrackThread 注册线程，重复注册只更新名称
func (t *Tracker) TrackThread(threadID uint64, name string) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if th, ok := t.threads[threadID]; ok {
		logrus.Warnf("[ThreadTracker] thread %d is already tracked, rename %q to %q", threadID, th.name, name)
		th.name = name
		return
	}
	th := &thread{
		id:           threadID,
		name:         name,
		state:        ThreadRunning,
		heldLocks:    treeset.NewWith(utils.StringComparator),
		waitingLocks: treeset.NewWith(utils.StringComparator),
	}
	t.threads[threadID] = th
	t.timelines[threadID] = &ExecutionTimeline{ThreadID: threadID}
	t.appendTimeline(threadID, TimelineEvent{
		Type:        TimelineThreadStarted,
		Description: fmt.Sprintf("Thread '%s' started", name),
	})
	t.emit(&ThreadCreated{Thread: th.snapshot()})
}

// TrackAsyncTask 注册异步任务，返回单调递增的任务id
func (t *Tracker) TrackAsyncTask(name string, threadID *uint64) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	id := t.nextTaskID
	t.nextTaskID++
	task := &AsyncTask{
		ID:           id,
		Name:         name,
		State:        TaskPending,
		ThreadID:     threadID,
		CreatedAt:    t.clock.Now(),
		Dependencies: []uint64{},
		CallStack:    []AsyncFrame{},
	}
	t.tasks[id] = task
	t.emit(&TaskCreated{Task: cloneTask(task)})
	if threadID != nil {
		t.appendTimeline(*threadID, TimelineEvent{
			Type:        TimelineTaskStarted,
			Description: fmt.Sprintf("Async task '%s' started", name),
			TaskID:      &id,
		})
	}
	return id
}

// UpdateThreadState 修改线程状态
func (t *Tracker) UpdateThreadState(threadID uint64, state ThreadState) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	th, err := t.getThread(threadID)
	if err != nil {
		return err
	}
	t.setThreadState(th, state)
	return nil
}

func (t *Tracker) setThreadState(th *thread, state ThreadState) {
	old := th.state
	th.state = state
	t.appendTimeline(th.id, TimelineEvent{
		Type:        TimelineThreadState,
		Description: fmt.Sprintf("Thread state: %s -> %s", old, state),
	})
	t.emit(&ThreadStateChanged{ThreadID: th.id, State: state})
	if state == ThreadTerminated && old != ThreadTerminated {
		t.emit(&ThreadTerminatedEvent{ThreadID: th.id})
	}
}

// UpdateAsyncTaskState 修改任务状态，终态的任务不能再修改
// message 只在 Error 状态下使用
func (t *Tracker) UpdateAsyncTaskState(taskID uint64, state TaskState, message string) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	task, err := t.getTask(taskID)
	if err != nil {
		return err
	}
	if task.State.Finished() {
		return fmt.Errorf("%w: %d is %s", e.ErrTaskFinished, taskID, task.State)
	}

	old := task.State
	task.State = state
	if state == TaskError {
		task.Error = message
	}
	t.emit(&TaskStateChanged{TaskID: taskID, State: state, Error: task.Error})
	if state.Finished() {
		t.emit(&TaskCompletedEvent{TaskID: taskID})
	}

	if task.ThreadID == nil {
		return nil
	}
	if th, ok := t.threads[*task.ThreadID]; ok {
		if state == TaskRunning {
			id := taskID
			th.currentTask = &id
		} else if th.currentTask != nil && *th.currentTask == taskID {
			th.currentTask = nil
		}
	}
	t.appendTimeline(*task.ThreadID, TimelineEvent{
		Type:        taskTimelineType(state),
		Description: fmt.Sprintf("Task '%s' state: %s -> %s", task.Name, old, state),
		TaskID:      &taskID,
	})
	return nil
}

func taskTimelineType(state TaskState) TimelineEventType {
	switch state {
	case TaskSuspended:
		return TimelineTaskSuspended
	case TaskRunning:
		return TimelineTaskResumed
	case TaskCompleted, TaskError:
		return TimelineTaskCompleted
	default:
		return TimelineTaskStarted
	}
}

// AddTaskDependency 记录 taskID 等待 dependsOn 完成
func (t *Tracker) AddTaskDependency(taskID, dependsOn uint64) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	task, err := t.getTask(taskID)
	if err != nil {
		return err
	}
	if _, err = t.getTask(dependsOn); err != nil {
		return err
	}
	if !slices.Contains(task.Dependencies, dependsOn) {
		task.Dependencies = append(task.Dependencies, dependsOn)
	}
	return nil
}

// RemoveTaskDependency 依赖已经满足
func (t *Tracker) RemoveTaskDependency(taskID, dependsOn uint64) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	task, err := t.getTask(taskID)
	if err != nil {
		return err
	}
	task.Dependencies = lo.Without(task.Dependencies, dependsOn)
	return nil
}

// PushAsyncFrame 任务挂起在一个新的future上
func (t *Tracker) PushAsyncFrame(taskID uint64, frame AsyncFrame) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	task, err := t.getTask(taskID)
	if err != nil {
		return err
	}
	task.CallStack = append(task.CallStack, frame)
	return nil
}

// PopAsyncFrame 最内层的future完成
func (t *Tracker) PopAsyncFrame(taskID uint64) (AsyncFrame, bool, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	task, err := t.getTask(taskID)
	if err != nil {
		return AsyncFrame{}, false, err
	}
	if len(task.CallStack) == 0 {
		return AsyncFrame{}, false, nil
	}
	frame := task.CallStack[len(task.CallStack)-1]
	task.CallStack = task.CallStack[:len(task.CallStack)-1]
	return frame, true, nil
}

// SetWakeupSource 记录唤醒任务的来源
func (t *Tracker) SetWakeupSource(taskID uint64, source string) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	task, err := t.getTask(taskID)
	if err != nil {
		return err
	}
	task.WakeupSource = source
	return nil
}

// AcquireLock 线程获取锁
// 锁被其他线程持有时输出 LockContention 并返回 ErrLockHeld，不修改任何状态
func (t *Tracker) AcquireLock(threadID uint64, lockID string) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	th, err := t.getThread(threadID)
	if err != nil {
		return err
	}

	holder, held := t.locks[lockID]
	if contending := t.contenders(threadID, lockID); len(contending) > 1 {
		t.emit(&LockContention{LockID: lockID, ContendingThreads: contending})
	}
	if held && holder != threadID {
		return fmt.Errorf("%w: lock %s held by thread %d", e.ErrLockHeld, lockID, holder)
	}

	th.heldLocks.Add(lockID)
	th.waitingLocks.Remove(lockID)
	t.locks[lockID] = threadID
	t.appendTimeline(threadID, TimelineEvent{
		Type:        TimelineLockAcquired,
		Description: fmt.Sprintf("Lock %s acquired", lockID),
		TaskID:      th.currentTask,
		LockID:      lockID,
	})
	if th.state == ThreadBlocked && th.waitingLocks.Empty() {
		t.setThreadState(th, ThreadRunning)
	}
	return nil
}

// contenders 请求线程、当前持有者以及其他等待该锁的线程
func (t *Tracker) contenders(threadID uint64, lockID string) []uint64 {
	contending := []uint64{threadID}
	if holder, ok := t.locks[lockID]; ok {
		contending = append(contending, holder)
	}
	for _, th := range t.threads {
		if th.waitingLocks.Contains(lockID) {
			contending = append(contending, th.id)
		}
	}
	slices.Sort(contending)
	return slices.Compact(contending)
}

// ReleaseLock 线程释放锁
// 非持有者释放只记录警告，锁真正空闲后唤醒等待集合因此变空的线程
func (t *Tracker) ReleaseLock(threadID uint64, lockID string) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	th, err := t.getThread(threadID)
	if err != nil {
		return err
	}

	th.heldLocks.Remove(lockID)
	holder, held := t.locks[lockID]
	if held && holder == threadID {
		delete(t.locks, lockID)
	} else if held {
		logrus.Warnf("[ThreadTracker] thread %d release lock %s held by thread %d", threadID, lockID, holder)
	} else {
		logrus.Warnf("[ThreadTracker] thread %d release lock %s which is not held", threadID, lockID)
	}
	t.appendTimeline(threadID, TimelineEvent{
		Type:        TimelineLockReleased,
		Description: fmt.Sprintf("Lock %s released", lockID),
		TaskID:      th.currentTask,
		LockID:      lockID,
	})

	if _, stillHeld := t.locks[lockID]; !stillHeld {
		t.wakeWaiters(lockID)
	}
	return nil
}

func (t *Tracker) wakeWaiters(lockID string) {
	waiters := lo.Filter(lo.Values(t.threads), func(th *thread, _ int) bool {
		return th.waitingLocks.Contains(lockID)
	})
	slices.SortFunc(waiters, func(a, b *thread) int {
		return cmp.Compare(a.id, b.id)
	})
	for _, th := range waiters {
		th.waitingLocks.Remove(lockID)
		if th.waitingLocks.Empty() && th.state == ThreadBlocked {
			t.setThreadState(th, ThreadRunning)
		}
	}
}

// WaitForLock 线程开始等待锁并进入 Blocked
// 线程已经持有该锁时忽略
func (t *Tracker) WaitForLock(threadID uint64, lockID string) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	th, err := t.getThread(threadID)
	if err != nil {
		return err
	}
	if th.heldLocks.Contains(lockID) {
		logrus.Warnf("[ThreadTracker] thread %d wait for lock %s it already holds", threadID, lockID)
		return nil
	}
	th.waitingLocks.Add(lockID)
	t.appendTimeline(threadID, TimelineEvent{
		Type:        TimelineLockWaiting,
		Description: fmt.Sprintf("Waiting for lock %s", lockID),
		TaskID:      th.currentTask,
		LockID:      lockID,
	})
	t.setThreadState(th, ThreadBlocked)
	return nil
}

// RecordFunctionCall 函数调用，压入线程调用栈
func (t *Tracker) RecordFunctionCall(threadID uint64, function string, taskID *uint64) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	th, err := t.getThread(threadID)
	if err != nil {
		return err
	}
	th.callStack = append(th.callStack, function)
	t.appendTimeline(threadID, TimelineEvent{
		Type:        TimelineFunctionCall,
		Description: fmt.Sprintf("Call %s", function),
		TaskID:      lo.Ternary(taskID != nil, taskID, th.currentTask),
		Function:    function,
	})
	return nil
}

// RecordFunctionReturn 函数返回，弹出线程调用栈中最近一次该函数的调用
func (t *Tracker) RecordFunctionReturn(threadID uint64, function string, taskID *uint64) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	th, err := t.getThread(threadID)
	if err != nil {
		return err
	}
	if i := lastIndex(th.callStack, function); i >= 0 {
		th.callStack = th.callStack[:i]
	} else {
		logrus.Warnf("[ThreadTracker] thread %d return from %s without call", threadID, function)
	}
	t.appendTimeline(threadID, TimelineEvent{
		Type:        TimelineFunctionReturn,
		Description: fmt.Sprintf("Return %s", function),
		TaskID:      lo.Ternary(taskID != nil, taskID, th.currentTask),
		Function:    function,
	})
	return nil
}

func lastIndex(stack []string, function string) int {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == function {
			return i
		}
	}
	return -1
}

// AddCPUTime 累加线程的CPU时间
func (t *Tracker) AddCPUTime(threadID uint64, d time.Duration) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	th, err := t.getThread(threadID)
	if err != nil {
		return err
	}
	th.cpuTime += d
	t.timelines[threadID].TotalCPUTime = th.cpuTime
	return nil
}

// Threads 按id排序的线程快照
func (t *Tracker) Threads() []ThreadInfo {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return lo.Map(t.sortedThreads(), func(th *thread, _ int) ThreadInfo {
		return th.snapshot()
	})
}

// Thread 单个线程快照
func (t *Tracker) Thread(threadID uint64) (ThreadInfo, error) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	th, err := t.getThread(threadID)
	if err != nil {
		return ThreadInfo{}, err
	}
	return th.snapshot(), nil
}

// Tasks 按id排序的任务快照
func (t *Tracker) Tasks() []AsyncTask {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return lo.Map(t.sortedTasks(), func(task *AsyncTask, _ int) AsyncTask {
		return cloneTask(task)
	})
}

// Task 单个任务快照
func (t *Tracker) Task(taskID uint64) (AsyncTask, error) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	task, err := t.getTask(taskID)
	if err != nil {
		return AsyncTask{}, err
	}
	return cloneTask(task), nil
}

// Timeline 线程时间线的拷贝
func (t *Tracker) Timeline(threadID uint64) (ExecutionTimeline, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	timeline, ok := t.timelines[threadID]
	if !ok {
		return ExecutionTimeline{}, false
	}
	c := *timeline
	c.Events = slices.Clone(timeline.Events)
	return c, true
}

// LockHolder 锁的当前持有者
func (t *Tracker) LockHolder(lockID string) (uint64, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	holder, ok := t.locks[lockID]
	return holder, ok
}

// Reset 清空所有线程、任务和锁
func (t *Tracker) Reset() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.threads = make(map[uint64]*thread)
	t.tasks = make(map[uint64]*AsyncTask)
	t.timelines = make(map[uint64]*ExecutionTimeline)
	t.locks = make(map[string]uint64)
	t.nextTaskID = 1
}

func (t *Tracker) sortedThreads() []*thread {
	threads := lo.Values(t.threads)
	slices.SortFunc(threads, func(a, b *thread) int {
		return cmp.Compare(a.id, b.id)
	})
	return threads
}

func (t *Tracker) sortedTasks() []*AsyncTask {
	tasks := lo.Values(t.tasks)
	slices.SortFunc(tasks, func(a, b *AsyncTask) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return tasks
}

func cloneTask(task *AsyncTask) AsyncTask {
	c := *task
	c.Dependencies = slices.Clone(task.Dependencies)
	c.CallStack = slices.Clone(task.CallStack)
	return c
}
