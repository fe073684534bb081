package dispatch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netprogress/internal/logger"
	"netprogress/pkg/model"
)

type recordingListener struct {
	mu    sync.Mutex
	infos []*model.ProgressInfo
	errs  []error
}

func (r *recordingListener) OnProgress(info *model.ProgressInfo) {
	r.mu.Lock()
	r.infos = append(r.infos, info)
	r.mu.Unlock()
}

func (r *recordingListener) OnError(_ int64, err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recordingListener) snapshot() []*model.ProgressInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.ProgressInfo, len(r.infos))
	copy(out, r.infos)
	return out
}

type panicListener struct{}

func (panicListener) OnProgress(*model.ProgressInfo) { panic("boom") }
func (panicListener) OnError(int64, error)           { panic("boom") }

func TestQueuePreservesOrder(t *testing.T) {
	q := New(8, logger.NewNop())
	l := &recordingListener{}

	for i := int64(1); i <= 100; i++ {
		info := &model.ProgressInfo{ID: 1, CurrentBytes: i}
		q.Deliver([]model.Listener{l}, func(x model.Listener) { x.OnProgress(info) })
	}
	q.Close()

	infos := l.snapshot()
	require.Len(t, infos, 100)
	for i, info := range infos {
		assert.Equal(t, int64(i+1), info.CurrentBytes)
	}
}

func TestQueueIsolatesPanickingListener(t *testing.T) {
	q := New(8, logger.NewNop())
	ok := &recordingListener{}

	info := &model.ProgressInfo{ID: 1, CurrentBytes: 7}
	q.Deliver([]model.Listener{panicListener{}, ok}, func(x model.Listener) { x.OnProgress(info) })
	q.Close()

	infos := ok.snapshot()
	require.Len(t, infos, 1)
	assert.Equal(t, int64(7), infos[0].CurrentBytes)
}

func TestQueueDeliverAfterCloseIsNoop(t *testing.T) {
	q := New(8, logger.NewNop())
	q.Close()

	l := &recordingListener{}
	q.Deliver([]model.Listener{l}, func(x model.Listener) { x.OnProgress(&model.ProgressInfo{}) })
	assert.Empty(t, l.snapshot())
}

func TestQueueCloseIsIdempotent(t *testing.T) {
	q := New(8, logger.NewNop())
	q.Close()
	q.Close()
}
