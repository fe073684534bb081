package dispatch

import (
	"sync"

	"netprogress/internal/logger"
	"netprogress/pkg/model"
)

// DefaultQueueSize 默认派发队列容量
const DefaultQueueSize = 256

// Queue 串行派发队列，所有监听器回调都在同一个 goroutine 中按入队顺序执行，
// 对应源实现中绑定主线程的 Handler。队列满时入队方会被阻塞，
// 以保证完成/错误通知不会被丢弃。
type Queue struct {
	jobs chan job
	done chan struct{}
	log  logger.Logger

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

type job struct {
	listeners []model.Listener
	call      func(model.Listener)
}

// New 创建并启动派发队列
func New(size int, l logger.Logger) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if l == nil {
		l = logger.NewNop()
	}
	q := &Queue{
		jobs: make(chan job, size),
		done: make(chan struct{}),
		log:  l,
	}
	go q.run()
	return q
}

// Deliver 将一次通知提交到队列，listeners 必须是调用方已经快照好的切片。
// 队列关闭后调用是空操作。
func (q *Queue) Deliver(listeners []model.Listener, call func(model.Listener)) {
	if len(listeners) == 0 || call == nil {
		return
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return
	}
	q.jobs <- job{listeners: listeners, call: call}
}

// Close 停止队列，已入队的通知会先派发完毕，返回时队列已排空
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.jobs)
		q.mu.Unlock()
	})
	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)
	for j := range q.jobs {
		for _, l := range j.listeners {
			q.safeCall(l, j.call)
		}
	}
}

// safeCall 隔离单个监听器的 panic，避免影响后续监听器
func (q *Queue) safeCall(l model.Listener, call func(model.Listener)) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("监听器回调 panic", "recover", r)
		}
	}()
	call(l)
}
