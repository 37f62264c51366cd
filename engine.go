package main

import (
	"context"
	"sync"

	"github.com/fansqz/debug-engine/config"
	"github.com/fansqz/debug-engine/constants"
	"github.com/fansqz/debug-engine/debugger"
	"github.com/fansqz/debug-engine/debugger/backend"
	"github.com/fansqz/debug-engine/debugger/coordinator"
	"github.com/fansqz/debug-engine/debugger/eventloop"
	"github.com/fansqz/debug-engine/debugger/memory"
	"github.com/fansqz/debug-engine/debugger/threads"
	"github.com/fansqz/debug-engine/utils/gosync"
	"github.com/sirupsen/logrus"
)

// Engine 进程级别的调试引擎
// 内存分析器和线程追踪器在所有会话之间共享，每个DAP连接拥有自己的协调器和事件循环
type Engine struct {
	cfg      *config.Config
	factory  debugger.TransportFactory
	profiler *memory.Profiler
	tracker  *threads.Tracker

	lock sync.Mutex
	// current 最近创建的协调器，插桩钩子的上报都交给它
	current *coordinator.Coordinator
}

func NewEngine(cfg *config.Config) *Engine {
	factory := backend.NewTransportFactory(
		backend.WithPTY(cfg.Backend.UsePTY),
		backend.WithCommandTimeout(cfg.Backend.CommandTimeout),
	)
	return newEngine(cfg, factory)
}

func newEngine(cfg *config.Config, factory debugger.TransportFactory) *Engine {
	profiler := memory.NewProfiler(
		memory.WithLeakThreshold(cfg.Memory.LeakThreshold),
		memory.WithLongLivedThreshold(cfg.Memory.LongLivedThreshold),
		memory.WithScanEvery(cfg.Memory.ScanEvery),
		memory.WithSegmentSize(cfg.Memory.SegmentSize),
		memory.WithMaxSegments(cfg.Memory.MaxSegments),
	)
	tracker := threads.NewTracker(threads.WithScanInterval(cfg.Threads.DeadlockScanInterval))
	return &Engine{
		cfg:      cfg,
		factory:  factory,
		profiler: profiler,
		tracker:  tracker,
	}
}

// NewSession 创建一个新的协调器和事件循环，并在后台运行事件循环
// 事件循环在收到Stop命令或者ctx被取消时结束
func (en *Engine) NewSession(ctx context.Context) (*coordinator.Coordinator, *eventloop.EventLoop) {
	c := coordinator.NewCoordinator(en.factory, en.profiler, en.tracker)
	loop := eventloop.NewEventLoop(c,
		eventloop.WithPollInterval(en.cfg.Loop.PollInterval),
		eventloop.WithEventBuffer(en.cfg.Loop.EventBuffer),
	)

	en.lock.Lock()
	en.current = c
	en.lock.Unlock()

	gosync.Go(ctx, func(ctx context.Context) {
		if err := loop.Run(ctx); err != nil && err != context.Canceled {
			logrus.Errorf("[Engine] event loop exit, err = %v", err)
		}
	})
	return c, loop
}

// Coordinator 当前的协调器，还没有会话时创建一个只用于插桩分析的协调器
func (en *Engine) Coordinator() *coordinator.Coordinator {
	en.lock.Lock()
	defer en.lock.Unlock()
	if en.current == nil {
		en.current = coordinator.NewCoordinator(en.factory, en.profiler, en.tracker)
	}
	return en.current
}

// DebuggerConfig 根据配置补全launch请求中缺省的启动参数
func (en *Engine) DebuggerConfig(target string, args string) *debugger.DebuggerConfig {
	if target == "" {
		target = en.cfg.Backend.Target
	}
	if args == "" {
		args = en.cfg.Backend.Args
	}
	return &debugger.DebuggerConfig{
		Target:       target,
		Args:         args,
		Backend:      constants.BackendKind(en.cfg.Backend.Kind),
		DebuggerPath: en.cfg.Backend.Path,
	}
}
