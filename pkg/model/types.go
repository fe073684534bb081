package model

import "time"

// Direction 传输方向：上行（请求体）或下行（响应体）
type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

// ProgressInfo 单次传输进度的不可变快照，每次通知都会新建一份
type ProgressInfo struct {
	// ID 同一个包装器发出的所有快照共享此标识
	ID int64 `json:"id"`
	// ContentLength 总字节数，长度未知时为 -1
	ContentLength int64 `json:"contentLength"`
	// CurrentBytes 累计已传输字节数，单调不减
	CurrentBytes int64 `json:"currentBytes"`
	// EachBytes 触发本次通知的数据块大小
	EachBytes int64 `json:"eachBytes"`
	// Finished 流是否已传输完毕
	Finished bool `json:"finished"`
}

// Percent 返回进度百分比（0~100），长度未知时返回 -1
func (p *ProgressInfo) Percent() int {
	if p.ContentLength <= 0 {
		return -1
	}
	return int(p.CurrentBytes * 100 / p.ContentLength)
}

// Listener 进度监听器，以 url 为标识注册到管理器
// 所有回调统一在派发队列中执行，实现方无需加锁
type Listener interface {
	// OnProgress 进度更新时被调用
	OnProgress(info *ProgressInfo)

	// OnError 传输过程中发生错误时被调用，id 在错误来源不明时为 -1
	OnError(id int64, err error)
}

// 事件类型
const (
	EventStarted  = "started"
	EventFinished = "finished"
	EventFailed   = "failed"
)

// Event 传输生命周期事件，供记录器和状态接口消费
type Event struct {
	Type      string        `json:"type"`
	ID        int64         `json:"id"`
	URL       string        `json:"url"`
	Direction Direction     `json:"direction"`
	Bytes     int64         `json:"bytes"`
	Total     int64         `json:"total"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	At        time.Time     `json:"at"`
}

// ActiveTransfer 进行中传输的只读视图
type ActiveTransfer struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Direction Direction `json:"direction"`
	Current   int64     `json:"current"`
	Total     int64     `json:"total"`
	Percent   int       `json:"percent"`
	StartedAt time.Time `json:"startedAt"`
}
