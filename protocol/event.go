package protocol

import (
	"slices"

	"github.com/fansqz/debug-engine/constants"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// Event 调试引擎对外输出的事件
// 会话事件和插桩分析事件都实现该接口，消费方通过 type switch 区分
type Event interface {
	EventType() constants.DebugEventType
}

// Emit 非阻塞地投递事件
// 接收方不存在或者通道已满时丢弃事件，返回false
func Emit(ch chan<- Event, event Event) bool {
	if ch == nil || event == nil {
		return false
	}
	select {
	case ch <- event:
		return true
	default:
		logrus.Warnf("[Event] event channel is full, drop %s event", event.EventType())
		return false
	}
}

// Subscribers 共享子系统的事件输出通道集合，每个会话注册一个通道，零值可用
// 不是并发安全的，由持有者加锁
type Subscribers struct {
	channels []chan<- Event
}

// Add 注册通道，nil和重复注册忽略
func (s *Subscribers) Add(ch chan<- Event) {
	if ch == nil || slices.Contains(s.channels, ch) {
		return
	}
	s.channels = append(s.channels, ch)
}

func (s *Subscribers) Remove(ch chan<- Event) {
	s.channels = slices.DeleteFunc(s.channels, func(c chan<- Event) bool {
		return c == ch
	})
}

func (s *Subscribers) Len() int {
	return len(s.channels)
}

// Emit 向所有通道非阻塞地投递事件
func (s *Subscribers) Emit(event Event) {
	for _, ch := range s.channels {
		Emit(ch, event)
	}
}

// Envelope json输出时事件的外层结构
type Envelope struct {
	Event constants.DebugEventType `json:"event"`
	Body  Event                    `json:"body"`
}

func NewEnvelope(event Event) *Envelope {
	return &Envelope{Event: event.EventType(), Body: event}
}

// InstrumentationEvent
// 内存分析、线程分析产生的事件，作为自定义DAP事件发送给前端
type InstrumentationEvent struct {
	dap.Event
	Body Event `json:"body"`
}

func NewInstrumentationEvent(seq int, event Event) *InstrumentationEvent {
	return &InstrumentationEvent{
		Event: dap.Event{
			ProtocolMessage: dap.ProtocolMessage{Seq: seq, Type: "event"},
			Event:           string(event.EventType()),
		},
		Body: event,
	}
}
