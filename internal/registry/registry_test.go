package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netprogress/internal/dispatch"
	"netprogress/internal/logger"
	"netprogress/pkg/model"
)

type recordingListener struct {
	mu   sync.Mutex
	errs []error
	ids  []int64
}

func (r *recordingListener) OnProgress(*model.ProgressInfo) {}

func (r *recordingListener) OnError(id int64, err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.ids = append(r.ids, id)
	r.mu.Unlock()
}

func newTestRegistry() (*Registry, *dispatch.Queue) {
	q := dispatch.New(8, logger.NewNop())
	return New(q, logger.NewNop()), q
}

func TestAddAndLookup(t *testing.T) {
	r, q := newTestRegistry()
	defer q.Close()

	l := &recordingListener{}
	r.AddRequest("http://a/x", l)

	list, ok := r.LookupRequest("http://a/x")
	require.True(t, ok)
	assert.Equal(t, 1, list.Len())

	_, ok = r.LookupResponse("http://a/x")
	assert.False(t, ok, "请求表注册不应出现在响应表")

	_, ok = r.LookupRequest("http://a/y")
	assert.False(t, ok)
}

func TestDuplicateRegistrationKept(t *testing.T) {
	r, q := newTestRegistry()
	defer q.Close()

	l := &recordingListener{}
	r.AddResponse("http://a/x", l)
	r.AddResponse("http://a/x", l)

	list, ok := r.LookupResponse("http://a/x")
	require.True(t, ok)
	assert.Equal(t, 2, list.Len())
}

func TestRemoveListener(t *testing.T) {
	r, q := newTestRegistry()
	defer q.Close()

	l1 := &recordingListener{}
	l2 := &recordingListener{}
	r.AddRequest("http://a/x", l1)
	r.AddRequest("http://a/x", l2)

	assert.True(t, r.RemoveRequest("http://a/x", l1))
	list, ok := r.LookupRequest("http://a/x")
	require.True(t, ok)
	assert.Equal(t, 1, list.Len())

	assert.True(t, r.RemoveRequest("http://a/x", l2))
	_, ok = r.LookupRequest("http://a/x")
	assert.False(t, ok, "列表清空后表项应被摘除")

	assert.False(t, r.RemoveRequest("http://a/x", l2))
}

func TestRemoveLastListenerPrunesRedirectAliases(t *testing.T) {
	r, q := newTestRegistry()
	defer q.Close()

	l := &recordingListener{}
	r.AddResponse("http://a/x", l)
	require.True(t, r.ResolveRedirect(302, "http://a/x", "http://a/y"))

	// 共享列表清空后，引用它的所有键都要摘除，
	// 否则另一个键会继续命中空列表、白白包装响应体
	require.True(t, r.RemoveResponse("http://a/y", l))
	_, ok := r.LookupResponse("http://a/y")
	assert.False(t, ok)
	_, ok = r.LookupResponse("http://a/x")
	assert.False(t, ok)
}

func TestRemoveAll(t *testing.T) {
	r, q := newTestRegistry()
	defer q.Close()

	l := &recordingListener{}
	r.AddRequest("http://a/x", l)
	r.AddResponse("http://a/x", l)
	r.RemoveAll("http://a/x")

	_, ok := r.LookupRequest("http://a/x")
	assert.False(t, ok)
	_, ok = r.LookupResponse("http://a/x")
	assert.False(t, ok)
}

func TestIsRedirect(t *testing.T) {
	for _, code := range []int{301, 302, 303, 307} {
		assert.True(t, IsRedirect(code), "%d", code)
	}
	for _, code := range []int{200, 204, 304, 308, 400, 500} {
		assert.False(t, IsRedirect(code), "%d", code)
	}
}

func TestResolveRedirectSharesListByReference(t *testing.T) {
	r, q := newTestRegistry()
	defer q.Close()

	l := &recordingListener{}
	r.AddResponse("http://a/x", l)

	require.True(t, r.ResolveRedirect(302, "http://a/x", "http://a/y"))

	src, ok := r.LookupResponse("http://a/x")
	require.True(t, ok)
	dst, ok := r.LookupResponse("http://a/y")
	require.True(t, ok)
	assert.Same(t, src, dst, "换绑共享引用而不是拷贝")

	// 共享后任意一方追加对另一方可见
	r.AddResponse("http://a/x", &recordingListener{})
	assert.Equal(t, 2, dst.Len())
}

func TestResolveRedirectKeepsExistingTarget(t *testing.T) {
	r, q := newTestRegistry()
	defer q.Close()

	l1 := &recordingListener{}
	l2 := &recordingListener{}
	r.AddResponse("http://a/x", l1)
	r.AddResponse("http://a/y", l2)

	r.ResolveRedirect(302, "http://a/x", "http://a/y")

	src, _ := r.LookupResponse("http://a/x")
	dst, _ := r.LookupResponse("http://a/y")
	assert.NotSame(t, src, dst, "目标已有注册时保持不动")
	assert.Equal(t, 1, dst.Len())
}

func TestResolveRedirectIgnoresNonRedirect(t *testing.T) {
	r, q := newTestRegistry()
	defer q.Close()

	r.AddResponse("http://a/x", &recordingListener{})
	assert.False(t, r.ResolveRedirect(200, "http://a/x", "http://a/y"))
	assert.False(t, r.ResolveRedirect(302, "http://a/x", ""))
	assert.False(t, r.ResolveRedirect(302, "http://a/unknown", "http://a/y"))
}

func TestNotifyErrorHitsBothMaps(t *testing.T) {
	r, q := newTestRegistry()

	l := &recordingListener{}
	r.AddRequest("http://a/x", l)
	r.AddResponse("http://a/x", l)

	cause := errors.New("connection reset")
	r.NotifyError("http://a/x", cause)
	q.Close()

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Len(t, l.errs, 2, "两张表各派发一轮")
	for i := range l.errs {
		assert.Equal(t, cause, l.errs[i])
		assert.Equal(t, int64(-1), l.ids[i])
	}
}

func TestNotifyErrorUnknownURL(t *testing.T) {
	r, q := newTestRegistry()
	defer q.Close()

	r.NotifyError("http://a/none", errors.New("x"))
	r.NotifyError("http://a/none", nil)
}

func TestConcurrentRegistration(t *testing.T) {
	r, q := newTestRegistry()
	defer q.Close()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.AddRequest("http://a/x", &recordingListener{})
				r.LookupRequest("http://a/x")
				r.AddResponse("http://a/y", &recordingListener{})
				r.ResolveRedirect(302, "http://a/y", "http://a/z")
			}
		}()
	}
	wg.Wait()

	list, ok := r.LookupRequest("http://a/x")
	require.True(t, ok)
	assert.Equal(t, 32*50, list.Len())
}

func TestConcurrentAddAndRemoveAll(t *testing.T) {
	r, q := newTestRegistry()
	defer q.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				r.AddRequest("http://a/x", &recordingListener{})
				r.RemoveAll("http://a/x")
			}
		}()
	}
	wg.Wait()

	// 竞争平息后的注册必须落在注册表持有的列表上
	l := &recordingListener{}
	r.AddRequest("http://a/x", l)
	list, ok := r.LookupRequest("http://a/x")
	require.True(t, ok)
	assert.Contains(t, list.Snapshot(), model.Listener(l))
}
