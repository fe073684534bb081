// Package body 实现请求体与响应体的计数包装器：代理底层字节流，
// 统计经过的字节数，并按节流策略向监听器派发进度快照。
package body

import (
	"io"
	"sync/atomic"
	"time"

	"netprogress/internal/dispatch"
	"netprogress/internal/logger"
	"netprogress/internal/registry"
	"netprogress/pkg/model"
)

// DefaultRefreshInterval 默认的进度刷新间隔，与源实现一致
const DefaultRefreshInterval = 150 * time.Millisecond

// 包装器标识，进程内单调递增
var nextID atomic.Int64

// Config 包装器依赖项，由管理器在包装时填充
type Config struct {
	URL           string
	ContentLength int64 // 总字节数，未知为 -1
	Direction     model.Direction
	List          *registry.List       // 借用的监听器列表，归注册表所有
	Queue         *dispatch.Queue      // 派发队列
	Interval      func() time.Duration // 读取当前刷新间隔
	OnError       func(url string, err error)
	OnEmit        func(info *model.ProgressInfo) // 每次派发时回调，供活动表更新
	OnFinished    func(id, bytes, total int64)
	OnFailed      func(id, bytes, total int64, err error)
	OnClosed      func(id int64) // 既未完成也未出错就被关闭时回调
	Log           logger.Logger
}

// counting 计数核心，一次传输对应一个实例，随流结束而废弃。
// Read 由传输层串行驱动，内部状态无需加锁。
type counting struct {
	rc  io.ReadCloser
	cfg Config
	id  int64

	current  int64
	lastEmit time.Time
	started  bool

	// 终态与 Close/传输层可能跨 goroutine 读取，需原子访问
	finished atomic.Bool
	failed   atomic.Bool
	closed   atomic.Bool
}

func newCounting(rc io.ReadCloser, cfg Config) *counting {
	if cfg.Log == nil {
		cfg.Log = logger.NewNop()
	}
	if cfg.Interval == nil {
		cfg.Interval = func() time.Duration { return DefaultRefreshInterval }
	}
	if cfg.ContentLength <= 0 {
		cfg.ContentLength = -1
	}
	return &counting{rc: rc, cfg: cfg, id: nextID.Add(1)}
}

// ID 返回包装器标识，同一实例发出的所有快照共享
func (c *counting) ID() int64 { return c.id }

// Total 返回归一化后的总字节数，未知为 -1
func (c *counting) Total() int64 { return c.cfg.ContentLength }

// Failed 返回流是否已经出错并上报过监听器，传输层据此避免对
// 同一次失败重复通知
func (c *counting) Failed() bool { return c.failed.Load() }

func (c *counting) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)
	if n > 0 {
		c.advance(int64(n), err == io.EOF)
	}
	if err != nil {
		if err == io.EOF {
			// 流自然结束，补发最后一次 100% 通知
			c.complete(0)
		} else {
			c.fail(err)
		}
	}
	return n, err
}

// Close 关闭底层流。未读完即关闭视为取消：不派发任何通知，
// 只把这次传输从活动表里摘掉。
func (c *counting) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		if !c.finished.Load() && !c.failed.Load() && c.cfg.OnClosed != nil {
			c.cfg.OnClosed(c.id)
		}
	}
	return c.rc.Close()
}

// advance 累加字节数并判定是否派发。节流策略：距上次派发满一个
// 刷新间隔、传输完成、或总长未知时的首个数据块，三者满足其一即派发。
func (c *counting) advance(n int64, eof bool) {
	if c.finished.Load() || c.failed.Load() {
		return
	}
	c.current += n

	fin := eof || (c.cfg.ContentLength > 0 && c.current >= c.cfg.ContentLength)
	if fin {
		c.complete(n)
		return
	}

	emit := false
	if !c.started {
		c.started = true
		if c.cfg.ContentLength < 0 {
			emit = true
		}
	}
	now := time.Now()
	if emit || now.Sub(c.lastEmit) >= c.cfg.Interval() {
		c.emit(n, now, false)
	}
}

// complete 发出带 Finished 标记的最终通知，不受节流限制，只发一次
func (c *counting) complete(each int64) {
	if c.finished.Load() || c.failed.Load() {
		return
	}
	c.finished.Store(true)
	c.emit(each, time.Now(), true)
	if c.cfg.OnFinished != nil {
		c.cfg.OnFinished(c.id, c.current, c.cfg.ContentLength)
	}
}

// fail 把流错误交给注册表通知两张表的监听器，错误本身原样抛回传输层
func (c *counting) fail(err error) {
	if c.finished.Load() || c.failed.Load() {
		return
	}
	c.failed.Store(true)
	c.cfg.Log.Debug("传输流出错", "url", c.cfg.URL, "id", c.id, "direction", c.cfg.Direction, "error", err)
	if c.cfg.OnError != nil {
		c.cfg.OnError(c.cfg.URL, err)
	}
	if c.cfg.OnFailed != nil {
		c.cfg.OnFailed(c.id, c.current, c.cfg.ContentLength, err)
	}
}

func (c *counting) emit(each int64, now time.Time, fin bool) {
	c.lastEmit = now
	info := &model.ProgressInfo{
		ID:            c.id,
		ContentLength: c.cfg.ContentLength,
		CurrentBytes:  c.current,
		EachBytes:     each,
		Finished:      fin,
	}
	if c.cfg.OnEmit != nil {
		c.cfg.OnEmit(info)
	}
	snapshot := c.cfg.List.Snapshot()
	c.cfg.Queue.Deliver(snapshot, func(l model.Listener) {
		l.OnProgress(info)
	})
}

// RequestBody 上行（请求体）计数包装器
type RequestBody struct {
	*counting
}

// NewRequest 包装即将发送的请求体
func NewRequest(rc io.ReadCloser, cfg Config) *RequestBody {
	cfg.Direction = model.DirectionUpload
	return &RequestBody{counting: newCounting(rc, cfg)}
}

// ResponseBody 下行（响应体）计数包装器
type ResponseBody struct {
	*counting
}

// NewResponse 包装收到的响应体
func NewResponse(rc io.ReadCloser, cfg Config) *ResponseBody {
	cfg.Direction = model.DirectionDownload
	return &ResponseBody{counting: newCounting(rc, cfg)}
}
