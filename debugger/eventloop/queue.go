package eventloop

import (
	"sync"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

// Result 命令的执行结果
type Result struct {
	Value interface{}
	Err   error
}

type request struct {
	command Command
	// reply 为nil表示调用方不关心结果
	reply chan Result
}

// CommandQueue 无界的先进先出命令队列，可以在任意协程写入
type CommandQueue struct {
	lock   sync.Mutex
	queue  *linkedlistqueue.Queue
	notify chan struct{}
}

func NewCommandQueue() *CommandQueue {
	return &CommandQueue{
		queue:  linkedlistqueue.New(),
		notify: make(chan struct{}, 1),
	}
}

func (q *CommandQueue) push(req *request) {
	q.lock.Lock()
	q.queue.Enqueue(req)
	q.lock.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// drain 取出当前队列中的所有命令
func (q *CommandQueue) drain() []*request {
	defer q.lock.Unlock()
	q.lock.Lock()
	requests := make([]*request, 0, q.queue.Size())
	for {
		value, ok := q.queue.Dequeue()
		if !ok {
			return requests
		}
		requests = append(requests, value.(*request))
	}
}

func (q *CommandQueue) Len() int {
	defer q.lock.Unlock()
	q.lock.Lock()
	return q.queue.Size()
}

// Notify 有新命令入队时收到通知
func (q *CommandQueue) Notify() <-chan struct{} {
	return q.notify
}
