package registry

import (
	"sync"

	"netprogress/internal/dispatch"
	"netprogress/internal/logger"
	"netprogress/pkg/model"
)

// List 某个 url 下注册的监听器列表。重定向换绑时按引用共享，
// 共享后任意一方的追加对另一方同样可见。
type List struct {
	mu    sync.RWMutex
	items []model.Listener
}

// Add 追加监听器，不做去重，重复注册会收到重复通知
func (l *List) Add(x model.Listener) {
	l.mu.Lock()
	l.items = append(l.items, x)
	l.mu.Unlock()
}

// Remove 移除第一个相同的监听器，返回是否移除成功
func (l *List) Remove(x model.Listener) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, it := range l.items {
		if it == x {
			l.items = append(l.items[:i], l.items[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot 返回当前列表的拷贝，派发前先快照，
// 派发中途注册的监听器不保证收到本次通知
func (l *List) Snapshot() []model.Listener {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Listener, len(l.items))
	copy(out, l.items)
	return out
}

// Len 返回列表长度
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// 会被换绑到重定向目标地址的状态码集合，与源实现保持一致（不含 308）
var redirectCodes = map[int]struct{}{
	301: {},
	302: {},
	303: {},
	307: {},
}

// IsRedirect 判断状态码是否触发监听器换绑。
// 源实现通过匹配 Status 头文本中的 "301"/"302"/"303"/"307" 来判断，
// 存在误判可能，这里改为读取结构化状态码，集合不变。
func IsRedirect(statusCode int) bool {
	_, ok := redirectCodes[statusCode]
	return ok
}

// Registry 以 url 为键的监听器注册表，请求表和响应表相互独立。
// 结构性写入（建表项、重定向换绑）共用一把锁，列表自身的追加
// 不会阻塞其他键的读取。
type Registry struct {
	mu       sync.RWMutex
	request  map[string]*List
	response map[string]*List
	queue    *dispatch.Queue
	log      logger.Logger
}

// New 创建注册表
func New(queue *dispatch.Queue, l logger.Logger) *Registry {
	if l == nil {
		l = logger.NewNop()
	}
	return &Registry{
		request:  make(map[string]*List),
		response: make(map[string]*List),
		queue:    queue,
		log:      l,
	}
}

// AddRequest 注册上传进度监听器
func (r *Registry) AddRequest(url string, listener model.Listener) {
	r.add(r.request, url, listener)
}

// AddResponse 注册下载进度监听器
func (r *Registry) AddResponse(url string, listener model.Listener) {
	r.add(r.response, url, listener)
}

// add 在结构锁内完成建表项和追加，避免与 remove/RemoveAll 的
// 摘除窗口竞争后把监听器挂到已脱离注册表的列表上
func (r *Registry) add(m map[string]*List, url string, listener model.Listener) {
	if listener == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list, ok := m[url]
	if !ok {
		list = &List{}
		m[url] = list
	}
	list.Add(listener)
}

// RemoveRequest 注销上传进度监听器。
// 源实现依赖弱引用键在 GC 时自动清理，Go 中由调用方在自身
// 生命周期结束时显式注销。
func (r *Registry) RemoveRequest(url string, listener model.Listener) bool {
	return r.remove(r.request, url, listener)
}

// RemoveResponse 注销下载进度监听器
func (r *Registry) RemoveResponse(url string, listener model.Listener) bool {
	return r.remove(r.response, url, listener)
}

func (r *Registry) remove(m map[string]*List, url string, listener model.Listener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	list, ok := m[url]
	if !ok {
		return false
	}
	if !list.Remove(listener) {
		return false
	}
	if list.Len() == 0 {
		// 重定向换绑后同一列表可能挂在多个键下，
		// 清空时把所有引用它的表项一并摘除
		for k, v := range m {
			if v == list {
				delete(m, k)
			}
		}
	}
	return true
}

// RemoveAll 注销某个 url 下两张表的全部监听器
func (r *Registry) RemoveAll(url string) {
	r.mu.Lock()
	delete(r.request, url)
	delete(r.response, url)
	r.mu.Unlock()
}

// LookupRequest 查询上传监听器列表
func (r *Registry) LookupRequest(url string) (*List, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list, ok := r.request[url]
	return list, ok
}

// LookupResponse 查询下载监听器列表
func (r *Registry) LookupResponse(url string) (*List, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list, ok := r.response[url]
	return list, ok
}

func (r *Registry) resolve(m map[string]*List, originalURL, location string) bool {
	list, ok := m[originalURL]
	if !ok {
		return false
	}
	if _, exists := m[location]; exists {
		return false
	}
	m[location] = list
	return true
}

// ResolveRedirect 发生重定向时，把原地址的监听器列表按引用挂到
// 重定向目标地址上，保证客户端跟进重定向后进度不丢。目标地址
// 已有注册时保持不动（先注册者优先）。statusCode 不属于重定向
// 集合或 location 为空时不做任何事，返回是否发生了换绑。
func (r *Registry) ResolveRedirect(statusCode int, originalURL, location string) bool {
	if !IsRedirect(statusCode) || location == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	remapped := r.resolve(r.request, originalURL, location)
	if r.resolve(r.response, originalURL, location) {
		remapped = true
	}
	if remapped {
		r.log.Debug("重定向换绑监听器", "from", originalURL, "to", location)
	}
	return remapped
}

// NotifyError 把错误通知给某个 url 在两张表中注册的全部监听器，
// 每张表各派发一轮。派发经过队列，单个监听器出错不影响其余监听器。
func (r *Registry) NotifyError(url string, err error) {
	if err == nil {
		return
	}
	r.notifyError(r.LookupRequest, url, err)
	r.notifyError(r.LookupResponse, url, err)
}

func (r *Registry) notifyError(lookup func(string) (*List, bool), url string, err error) {
	list, ok := lookup(url)
	if !ok {
		return
	}
	snapshot := list.Snapshot()
	r.queue.Deliver(snapshot, func(l model.Listener) {
		l.OnError(-1, err)
	})
}
