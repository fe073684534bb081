// Package storage 把已结束的传输落库为历史记录，供状态接口查询。
// 只记录结果审计，不保存在途进度，进程重启后不恢复任何传输。
package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/tidwall/gjson"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"netprogress/internal/logger"
)

// 记录状态
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("storage: record not found")

// TransferRecord 一次已结束传输的历史记录
type TransferRecord struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	URL        string    `gorm:"index" json:"url"`
	Direction  string    `json:"direction"`
	Bytes      int64     `json:"bytes"`
	Total      int64     `json:"total"`
	Status     string    `gorm:"index" json:"status"`
	Error      string    `json:"error,omitempty"`
	Meta       string    `json:"meta"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `gorm:"index" json:"finishedAt"`
}

// Store 基于 sqlite 的记录存储
type Store struct {
	db  *gorm.DB
	log logger.Logger
}

// Open 打开（必要时创建）数据库并完成建表
func Open(dsn, prefix string, l logger.Logger) (*Store, error) {
	if l == nil {
		l = logger.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: NewGormLogger(l),
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   prefix,
			SingularTable: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	if err := db.AutoMigrate(&TransferRecord{}); err != nil {
		return nil, fmt.Errorf("建表失败: %w", err)
	}
	return &Store{db: db, log: l}, nil
}

// Save 写入一条记录
func (s *Store) Save(rec *TransferRecord) error {
	return s.db.Create(rec).Error
}

// Get 按 id 查询单条记录
func (s *Store) Get(id string) (*TransferRecord, error) {
	var rec TransferRecord
	err := s.db.First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListOptions 查询条件。MetaPath/MetaValue 对记录的 Meta JSON
// 做路径匹配，例如 MetaPath "host"、MetaValue "example.com"
type ListOptions struct {
	Status    string
	MetaPath  string
	MetaValue string
	Limit     int
}

// List 按结束时间倒序查询历史记录
func (s *Store) List(opts ListOptions) ([]TransferRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q := s.db.Order("finished_at desc").Limit(limit)
	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	}
	var recs []TransferRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	if opts.MetaPath == "" {
		return recs, nil
	}
	out := recs[:0]
	for _, rec := range recs {
		if gjson.Get(rec.Meta, opts.MetaPath).String() == opts.MetaValue {
			out = append(out, rec)
		}
	}
	return out, nil
}
