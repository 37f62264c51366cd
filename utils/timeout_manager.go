package utils

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fansqz/debug-engine/utils/gosync"
	"github.com/sirupsen/logrus"
)

// TimeoutManager 一个计时器
// 如果在timeout时间内没有执行Reset，就会执行fun函数
type TimeoutManager struct {
	clock   clock.Clock
	timer   *clock.Timer
	timeout time.Duration
	fun     func()

	cancelChannel chan struct{}
	done          chan struct{}
	once          sync.Once
}

// NewTimeoutManager 创建一个新的计时器实例，c为nil时使用系统时钟
func NewTimeoutManager(c clock.Clock) *TimeoutManager {
	if c == nil {
		c = clock.New()
	}
	return &TimeoutManager{clock: c}
}

// Start 开始计时
// 在timeout时间内没有执行Reset，就会执行fun函数
func (t *TimeoutManager) Start(ctx context.Context, timeout time.Duration, fun func()) {
	t.timer = t.clock.Timer(timeout)
	t.timeout = timeout
	t.fun = fun
	t.cancelChannel = make(chan struct{})
	t.done = make(chan struct{})
	gosync.Go(ctx, func(ctx context.Context) {
		defer close(t.done)
		for {
			select {
			case <-t.timer.C:
				logrus.Infof("[TimeoutManager] Timer expired, performing action")
				t.fun()
				return
			case <-t.cancelChannel:
				logrus.Debugf("[TimeoutManager] cancel")
				t.timer.Stop()
				return
			case <-ctx.Done():
				t.timer.Stop()
				return
			}
		}
	})
}

// Reset 重新开始计时，计时器已经结束时忽略
func (t *TimeoutManager) Reset() {
	select {
	case <-t.done:
		return
	default:
	}
	logrus.Debugf("[TimeoutManager] reset")
	t.timer.Reset(t.timeout)
}

// Cancel 取消计时，可以重复调用
func (t *TimeoutManager) Cancel() {
	t.once.Do(func() {
		select {
		case t.cancelChannel <- struct{}{}:
		case <-t.done:
		}
	})
}

// Done 计时器结束，无论是到期还是被取消
func (t *TimeoutManager) Done() <-chan struct{} {
	return t.done
}
