package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/fansqz/debug-engine/constants"
	"github.com/fansqz/debug-engine/debugger/coordinator"
	"github.com/fansqz/debug-engine/debugger/memory"
	"github.com/fansqz/debug-engine/debugger/threads"
	"github.com/fansqz/debug-engine/protocol"
	"github.com/fansqz/debug-engine/utils"
	"github.com/fansqz/debug-engine/utils/gosync"
	"github.com/sirupsen/logrus"
)

// maxHookMessageSize 单条钩子消息的最大长度
const maxHookMessageSize = 1024 * 1024

// HookHandler 处理插桩钩子上报的消息
// 每行一个json消息，每条消息回复一个 protocol.Response
type HookHandler struct {
	engine *Engine
}

func NewHookHandler(engine *Engine) *HookHandler {
	return &HookHandler{engine: engine}
}

// serve 处理一个钩子连接，直到连接关闭
func (h *HookHandler) serve(ctx context.Context, conn net.Conn) {
	id := utils.GetShortID()
	logrus.Infof("[Hook] connection %s from %s", id, conn.RemoteAddr())
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxHookMessageSize)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		h.sendResponse(conn, h.handle(line))
	}
	if err := scanner.Err(); err != nil {
		logrus.Warnf("[Hook] connection %s read fail, err = %v", id, err)
	}
	logrus.Infof("[Hook] connection %s closed", id)
}

func (h *HookHandler) sendResponse(conn net.Conn, response *protocol.Response) {
	answer, err := json.Marshal(response)
	if err != nil {
		logrus.Warnf("[Hook] marshal response fail, err = %v", err)
		return
	}
	if _, err = conn.Write(append(answer, '\n')); err != nil {
		logrus.Warnf("[Hook] write response fail, err = %v", err)
	}
}

func success(sequence uint, data interface{}) *protocol.Response {
	return &protocol.Response{Sequence: sequence, Success: true, Data: data}
}

func failure(sequence uint, err error) *protocol.Response {
	return &protocol.Response{Sequence: sequence, Success: false, Message: err.Error()}
}

// handle 解析一条消息并交给协调器
func (h *HookHandler) handle(req []byte) *protocol.Response {
	r := &protocol.HookRequest{}
	if err := json.Unmarshal(req, r); err != nil {
		logrus.Warnf("[Hook] parse request error, err = %v", err)
		return failure(0, err)
	}
	c := h.engine.Coordinator()

	var data interface{}
	var err error
	switch r.Type {
	case constants.HookAllocation:
		err = h.handleAllocation(c, req)
	case constants.HookDeallocation:
		err = h.handleDeallocation(c, req)
	case constants.HookHeapStatistics:
		err = h.handleHeapStatistics(c, req)
	case constants.HookThreadCreated, constants.HookThreadState:
		err = h.handleThread(c, r.Type, req)
	case constants.HookTaskCreated, constants.HookTaskState, constants.HookTaskDependency:
		data, err = h.handleTask(c, r.Type, req)
	case constants.HookLockAcquire, constants.HookLockRelease, constants.HookLockWait:
		err = h.handleLock(c, r.Type, req)
	case constants.HookFunctionCall, constants.HookFunctionReturn:
		err = h.handleFunction(c, r.Type, req)
	case constants.HookAnalyzeLeaks:
		data = c.AnalyzePotentialLeaks()
	case constants.HookDetectDeadlock:
		data = c.DetectDeadlocks()
	case constants.HookVisualize:
		data, err = h.handleVisualize(c, req)
	default:
		err = fmt.Errorf("request type %s not support", r.Type)
	}
	if err != nil {
		return failure(r.Sequence, err)
	}
	return success(r.Sequence, data)
}

// timestampOf 钩子上报的unix毫秒时间，为0时使用分析器的当前时间
func timestampOf(c *coordinator.Coordinator, millis int64) time.Time {
	if millis == 0 {
		return c.Profiler().Now()
	}
	return time.UnixMilli(millis)
}

func (h *HookHandler) handleAllocation(c *coordinator.Coordinator, req []byte) error {
	r := protocol.AllocationRequest{}
	if err := json.Unmarshal(req, &r); err != nil {
		return err
	}
	c.TrackAllocation(memory.Allocation{
		Address:     r.Address,
		Size:        r.Size,
		UsedSize:    r.UsedSize,
		AllocatedAt: timestampOf(c, r.Timestamp),
		Stack:       r.Stack,
		ThreadID:    r.ThreadID,
		Kind:        memory.ParseAllocationKind(r.Kind),
		Metadata:    r.Metadata,
	})
	return nil
}

func (h *HookHandler) handleDeallocation(c *coordinator.Coordinator, req []byte) error {
	r := protocol.DeallocationRequest{}
	if err := json.Unmarshal(req, &r); err != nil {
		return err
	}
	c.TrackDeallocation(r.Address, timestampOf(c, r.Timestamp), r.Stack, r.ThreadID)
	return nil
}

func (h *HookHandler) handleHeapStatistics(c *coordinator.Coordinator, req []byte) error {
	r := protocol.HeapStatisticsRequest{}
	if err := json.Unmarshal(req, &r); err != nil {
		return err
	}
	c.UpdateHeapStatistics(memory.HeapStatistics{
		TotalHeapSize:      r.TotalHeapSize,
		UsedHeapSize:       r.UsedHeapSize,
		PeakUsage:          r.PeakUsage,
		AllocationCount:    r.AllocationCount,
		DeallocationCount:  r.DeallocationCount,
		FragmentationRatio: r.FragmentationRatio,
	})
	return nil
}

func (h *HookHandler) handleThread(c *coordinator.Coordinator, t constants.HookMessageType, req []byte) error {
	r := protocol.ThreadRequest{}
	if err := json.Unmarshal(req, &r); err != nil {
		return err
	}
	if t == constants.HookThreadCreated {
		c.TrackThread(r.ThreadID, r.Name)
		return nil
	}
	state, ok := threads.ParseThreadState(r.State)
	if !ok {
		return fmt.Errorf("unknown thread state %q", r.State)
	}
	return c.UpdateThreadState(r.ThreadID, state)
}

// handleTask 创建任务时返回分配的任务id
func (h *HookHandler) handleTask(c *coordinator.Coordinator, t constants.HookMessageType, req []byte) (interface{}, error) {
	r := protocol.TaskRequest{}
	if err := json.Unmarshal(req, &r); err != nil {
		return nil, err
	}
	switch t {
	case constants.HookTaskCreated:
		return c.TrackAsyncTask(r.Name, r.ThreadID), nil
	case constants.HookTaskDependency:
		return nil, c.AddTaskDependency(r.TaskID, r.DependsOn)
	}
	state, ok := threads.ParseTaskState(r.State)
	if !ok {
		return nil, fmt.Errorf("unknown task state %q", r.State)
	}
	return nil, c.UpdateAsyncTaskState(r.TaskID, state, r.Error)
}

func (h *HookHandler) handleLock(c *coordinator.Coordinator, t constants.HookMessageType, req []byte) error {
	r := protocol.LockRequest{}
	if err := json.Unmarshal(req, &r); err != nil {
		return err
	}
	switch t {
	case constants.HookLockAcquire:
		return c.AcquireLock(r.ThreadID, r.LockID)
	case constants.HookLockRelease:
		return c.ReleaseLock(r.ThreadID, r.LockID)
	default:
		return c.WaitForLock(r.ThreadID, r.LockID)
	}
}

func (h *HookHandler) handleFunction(c *coordinator.Coordinator, t constants.HookMessageType, req []byte) error {
	r := protocol.FunctionRequest{}
	if err := json.Unmarshal(req, &r); err != nil {
		return err
	}
	if t == constants.HookFunctionCall {
		return c.RecordFunctionCall(r.ThreadID, r.Function, r.TaskID)
	}
	return c.RecordFunctionReturn(r.ThreadID, r.Function, r.TaskID)
}

// handleVisualize 按格式导出堆或者异步任务的快照
func (h *HookHandler) handleVisualize(c *coordinator.Coordinator, req []byte) (interface{}, error) {
	r := protocol.VisualizeRequest{}
	if err := json.Unmarshal(req, &r); err != nil {
		return nil, err
	}
	var snapshot interface{}
	var render func(buf *bytes.Buffer) error
	switch r.Target {
	case "heap":
		heap := c.GenerateHeapVisualization()
		snapshot = heap
		render = func(buf *bytes.Buffer) error { return heap.RenderTopConsumers(buf) }
	case "async":
		async := c.GetAsyncVisualizationData()
		snapshot = async
		render = func(buf *bytes.Buffer) error { return async.Render(buf) }
	default:
		return nil, fmt.Errorf("visualize target %q not support", r.Target)
	}

	switch r.Format {
	case "", "json":
		return snapshot, nil
	case "yaml":
		return protocol.ExportYAML(snapshot)
	case "table":
		buf := &bytes.Buffer{}
		if err := render(buf); err != nil {
			return nil, err
		}
		return buf.String(), nil
	default:
		return nil, fmt.Errorf("visualize format %q not support", r.Format)
	}
}

// serveHooks 接受钩子连接，直到监听器关闭
func serveHooks(ctx context.Context, listener net.Listener, handler *HookHandler) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logrus.Warnf("[Hook] accept fail, err = %v", err)
			continue
		}
		gosync.Go(ctx, func(ctx context.Context) {
			handler.serve(ctx, conn)
		})
	}
}
