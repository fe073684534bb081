package storage

import (
	"context"
	"net/url"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"netprogress/internal/logger"
	"netprogress/pkg/model"
)

// Recorder 消费管理器的生命周期事件，把已结束的传输写入存储
type Recorder struct {
	store  *Store
	events <-chan model.Event
	log    logger.Logger
}

// NewRecorder 创建记录器
func NewRecorder(store *Store, events <-chan model.Event, l logger.Logger) *Recorder {
	if l == nil {
		l = logger.NewNop()
	}
	return &Recorder{store: store, events: events, log: l}
}

// Run 阻塞消费事件直到 ctx 结束
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.events:
			r.Record(ev)
		}
	}
}

// Record 处理单个事件，只有结束类事件会落库
func (r *Recorder) Record(ev model.Event) {
	var status string
	switch ev.Type {
	case model.EventFinished:
		status = StatusCompleted
	case model.EventFailed:
		status = StatusFailed
	default:
		return
	}

	rec := &TransferRecord{
		ID:         uuid.NewString(),
		URL:        ev.URL,
		Direction:  string(ev.Direction),
		Bytes:      ev.Bytes,
		Total:      ev.Total,
		Status:     status,
		Error:      ev.Error,
		Meta:       buildMeta(ev),
		StartedAt:  ev.At.Add(-ev.Duration),
		FinishedAt: ev.At,
	}
	if err := r.store.Save(rec); err != nil {
		r.log.Error("写入传输记录失败", "url", ev.URL, "error", err)
		return
	}
	r.log.Debug("写入传输记录", "id", rec.ID, "url", rec.URL, "status", status)
}

// buildMeta 生成记录的 Meta JSON，查询接口按路径过滤时使用
func buildMeta(ev model.Event) string {
	meta := "{}"
	if u, err := url.Parse(ev.URL); err == nil {
		meta, _ = sjson.Set(meta, "host", u.Host)
		meta, _ = sjson.Set(meta, "scheme", u.Scheme)
		meta, _ = sjson.Set(meta, "path", u.Path)
	}
	meta, _ = sjson.Set(meta, "transferID", ev.ID)
	meta, _ = sjson.Set(meta, "durationMS", ev.Duration.Milliseconds())
	return meta
}
