// Package transport 把进度管理器挂接到 net/http 客户端：
// 发送前包装请求体，收到响应后包装响应体，调用方的请求代码无需改动。
package transport

import (
	"errors"
	"net/http"

	"netprogress/internal/body"
	"netprogress/internal/logger"
	"netprogress/pkg/progress"
)

// ErrNilManager 构造时未提供进度管理器
var ErrNilManager = errors.New("transport: progress manager is required")

// Transport 实现 http.RoundTripper，对每次往返执行一次
// 请求包装与响应包装
type Transport struct {
	base http.RoundTripper
	mgr  *progress.Manager
	log  logger.Logger
}

// Option 传输层构造选项
type Option func(*Transport)

// WithBase 指定底层 RoundTripper，默认 http.DefaultTransport
func WithBase(rt http.RoundTripper) Option {
	return func(t *Transport) { t.base = rt }
}

// WithLogger 指定日志输出
func WithLogger(l logger.Logger) Option {
	return func(t *Transport) { t.log = l }
}

// New 创建传输层。管理器是必需依赖，缺失时在构造期失败，
// 而不是等到第一次请求
func New(mgr *progress.Manager, opts ...Option) (*Transport, error) {
	if mgr == nil {
		return nil, ErrNilManager
	}
	t := &Transport{
		base: http.DefaultTransport,
		mgr:  mgr,
		log:  logger.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t, nil
}

// Client 返回装好进度传输层的 http.Client
func Client(mgr *progress.Manager, opts ...Option) (*http.Client, error) {
	t, err := New(mgr, opts...)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: t}, nil
}

// RoundTrip 实现 http.RoundTripper。发送失败属于计数包装器覆盖不到
// 的带外错误，走 NotifyError 通知监听器后把错误原样返回；
// 请求体包装器已经上报过的读错误不再重复通知，
// 保证一次传输最多只有一轮错误派发
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	wrapped := t.mgr.WrapRequest(req)
	resp, err := t.base.RoundTrip(wrapped)
	if err != nil {
		t.log.Debug("请求发送失败", "url", req.URL.String(), "error", err)
		if rb, ok := wrapped.Body.(*body.RequestBody); !ok || !rb.Failed() {
			t.mgr.NotifyError(req.URL.String(), err)
		}
		return nil, err
	}
	return t.mgr.WrapResponse(resp), nil
}
