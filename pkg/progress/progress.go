// Package progress 提供按 url 监听 HTTP 上传/下载进度的管理器。
// 任意模块都可以把多个监听器以 url 为标识注册进来，当该 url 出现
// 上传或下载动作时，管理器会通过计数包装器驱动所有监听器同步更新。
//
// 与源实现不同，管理器不是进程级单例，由调用方显式构造并传给
// 传输层；注册项也不依赖弱引用自动回收，调用方需要在自身生命
// 周期结束时显式调用 Remove 系列方法注销。
package progress

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"netprogress/internal/body"
	"netprogress/internal/dispatch"
	"netprogress/internal/logger"
	"netprogress/internal/registry"
	"netprogress/pkg/model"
)

// DefaultRefreshInterval 默认进度刷新间隔
const DefaultRefreshInterval = body.DefaultRefreshInterval

// Manager 进度管理器，持有监听器注册表与串行派发队列
type Manager struct {
	reg      *registry.Registry
	queue    *dispatch.Queue
	log      logger.Logger
	interval atomic.Int64 // 刷新间隔，纳秒

	events chan model.Event

	activeMu sync.RWMutex
	active   map[int64]*model.ActiveTransfer

	closeOnce sync.Once
}

type options struct {
	log         logger.Logger
	interval    time.Duration
	queueSize   int
	eventBuffer int
}

// Option 管理器构造选项
type Option func(*options)

// WithLogger 指定日志输出
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithRefreshInterval 指定初始刷新间隔
func WithRefreshInterval(d time.Duration) Option {
	return func(o *options) { o.interval = d }
}

// WithQueueSize 指定派发队列容量
func WithQueueSize(n int) Option {
	return func(o *options) { o.queueSize = n }
}

// WithEventBuffer 指定生命周期事件通道容量
func WithEventBuffer(n int) Option {
	return func(o *options) { o.eventBuffer = n }
}

// New 创建进度管理器
func New(opts ...Option) *Manager {
	o := options{
		log:         logger.NewNop(),
		interval:    DefaultRefreshInterval,
		eventBuffer: 64,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	m := &Manager{
		log:    o.log,
		events: make(chan model.Event, o.eventBuffer),
		active: make(map[int64]*model.ActiveTransfer),
	}
	m.queue = dispatch.New(o.queueSize, o.log)
	m.reg = registry.New(m.queue, o.log)
	m.SetRefreshInterval(o.interval)
	return m
}

// SetRefreshInterval 设置进度通知的最小间隔，对之后的派发判定即时生效
func (m *Manager) SetRefreshInterval(d time.Duration) {
	if d < 0 {
		d = 0
	}
	m.interval.Store(int64(d))
}

// RefreshInterval 返回当前刷新间隔
func (m *Manager) RefreshInterval() time.Duration {
	return time.Duration(m.interval.Load())
}

// AddRequestListener 注册上传进度监听器，同一监听器重复注册会收到重复通知
func (m *Manager) AddRequestListener(url string, l model.Listener) {
	m.reg.AddRequest(url, l)
}

// AddResponseListener 注册下载进度监听器
func (m *Manager) AddResponseListener(url string, l model.Listener) {
	m.reg.AddResponse(url, l)
}

// RemoveRequestListener 注销上传进度监听器
func (m *Manager) RemoveRequestListener(url string, l model.Listener) bool {
	return m.reg.RemoveRequest(url, l)
}

// RemoveResponseListener 注销下载进度监听器
func (m *Manager) RemoveResponseListener(url string, l model.Listener) bool {
	return m.reg.RemoveResponse(url, l)
}

// RemoveListeners 注销某个 url 的全部监听器
func (m *Manager) RemoveListeners(url string) {
	m.reg.RemoveAll(url)
}

// NotifyError 供计数包装器覆盖不到的外部错误使用：连接失败等发生在
// 请求体/响应体之外的错误，也需要让该 url 的监听器知晓时，手动调用此方法
func (m *Manager) NotifyError(url string, err error) {
	m.reg.NotifyError(url, err)
}

// Events 返回生命周期事件通道。无人消费时事件会被丢弃而不是阻塞传输
func (m *Manager) Events() <-chan model.Event {
	return m.events
}

// Active 返回进行中传输的快照
func (m *Manager) Active() []model.ActiveTransfer {
	m.activeMu.RLock()
	defer m.activeMu.RUnlock()
	out := make([]model.ActiveTransfer, 0, len(m.active))
	for _, a := range m.active {
		out = append(out, *a)
	}
	return out
}

// Close 关闭管理器，排空派发队列。事件通道不关闭，
// 消费方应通过自身的 context 退出，避免与在途传输竞争
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.queue.Close()
	})
}

// WrapRequest 发送前调用：请求带有请求体且 url 注册了上传监听器时，
// 在请求的浅拷贝上把请求体换成计数包装器；否则原样返回
func (m *Manager) WrapRequest(req *http.Request) *http.Request {
	if req == nil || req.Body == nil || req.Body == http.NoBody {
		return req
	}
	key := req.URL.String()
	list, ok := m.reg.LookupRequest(key)
	if !ok {
		return req
	}

	clone := req.Clone(req.Context())
	wrapper := body.NewRequest(req.Body, m.bodyConfig(key, req.ContentLength, list))
	clone.Body = wrapper
	m.trackStart(wrapper.ID(), key, model.DirectionUpload, wrapper.Total())
	return clone
}

// WrapResponse 收到响应后调用：重定向响应只换绑监听器、不做包装；
// 否则 url 注册了下载监听器时把响应体换成计数包装器
func (m *Manager) WrapResponse(resp *http.Response) *http.Response {
	if resp == nil || resp.Body == nil {
		return resp
	}
	if registry.IsRedirect(resp.StatusCode) {
		if loc, err := resp.Location(); err == nil && resp.Request != nil {
			m.reg.ResolveRedirect(resp.StatusCode, resp.Request.URL.String(), loc.String())
		}
		return resp
	}
	if resp.Request == nil {
		return resp
	}

	key := resp.Request.URL.String()
	list, ok := m.reg.LookupResponse(key)
	if !ok {
		return resp
	}

	wrapper := body.NewResponse(resp.Body, m.bodyConfig(key, resp.ContentLength, list))
	resp.Body = wrapper
	m.trackStart(wrapper.ID(), key, model.DirectionDownload, wrapper.Total())
	return resp
}

func (m *Manager) bodyConfig(url string, total int64, list *registry.List) body.Config {
	return body.Config{
		URL:           url,
		ContentLength: total,
		List:          list,
		Queue:         m.queue,
		Interval:      m.RefreshInterval,
		OnError:       m.reg.NotifyError,
		OnEmit:        m.trackEmit,
		OnFinished:    m.trackFinished,
		OnFailed:      m.trackFailed,
		OnClosed:      m.trackClosed,
		Log:           m.log,
	}
}

func (m *Manager) trackStart(id int64, url string, dir model.Direction, total int64) {
	now := time.Now()
	m.activeMu.Lock()
	m.active[id] = &model.ActiveTransfer{
		ID:        id,
		URL:       url,
		Direction: dir,
		Total:     total,
		Percent:   -1,
		StartedAt: now,
	}
	m.activeMu.Unlock()

	m.log.Debug("开始跟踪传输", "id", id, "url", url, "direction", dir, "total", total)
	m.emitEvent(model.Event{
		Type: model.EventStarted, ID: id, URL: url, Direction: dir, Total: total, At: now,
	})
}

func (m *Manager) trackEmit(info *model.ProgressInfo) {
	m.activeMu.Lock()
	if a, ok := m.active[info.ID]; ok {
		a.Current = info.CurrentBytes
		a.Percent = info.Percent()
	}
	m.activeMu.Unlock()
}

func (m *Manager) trackFinished(id, bytes, total int64) {
	url, dir, started := m.dropActive(id)
	m.emitEvent(model.Event{
		Type: model.EventFinished, ID: id, URL: url, Direction: dir,
		Bytes: bytes, Total: total, Duration: time.Since(started), At: time.Now(),
	})
}

func (m *Manager) trackFailed(id, bytes, total int64, err error) {
	url, dir, started := m.dropActive(id)
	m.emitEvent(model.Event{
		Type: model.EventFailed, ID: id, URL: url, Direction: dir,
		Bytes: bytes, Total: total, Error: err.Error(), Duration: time.Since(started), At: time.Now(),
	})
}

// trackClosed 包装器在结束前被关闭（调用方放弃传输），
// 只清理活动表，不派发任何通知
func (m *Manager) trackClosed(id int64) {
	if url, _, _ := m.dropActive(id); url != "" {
		m.log.Debug("传输提前关闭", "id", id, "url", url)
	}
}

func (m *Manager) dropActive(id int64) (url string, dir model.Direction, started time.Time) {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	if a, ok := m.active[id]; ok {
		url, dir, started = a.URL, a.Direction, a.StartedAt
		delete(m.active, id)
	}
	return url, dir, started
}

func (m *Manager) emitEvent(ev model.Event) {
	select {
	case m.events <- ev:
	default:
		m.log.Debug("事件通道已满，丢弃事件", "type", ev.Type, "url", ev.URL)
	}
}
