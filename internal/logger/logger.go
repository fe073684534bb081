package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 统一日志接口，kv 为交替出现的键值对
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

// Options 日志配置
type Options struct {
	Level   string   // debug/info/warn/error
	Writers []string // console/file
	File    FileOptions
}

// FileOptions 文件输出配置，由 lumberjack 负责滚动
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type zeroLogger struct {
	l zerolog.Logger
}

// New 根据配置创建 Logger
func New(opts Options) Logger {
	var writers []io.Writer
	for _, w := range opts.Writers {
		switch w {
		case "console":
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
		case "file":
			path := opts.File.Path
			if path == "" {
				path = "netprogress.log"
			}
			writers = append(writers, &lumberjack.Logger{
				Filename:   path,
				MaxSize:    orDefault(opts.File.MaxSizeMB, 50),
				MaxBackups: orDefault(opts.File.MaxBackups, 3),
				MaxAge:     orDefault(opts.File.MaxAgeDays, 28),
			})
		}
	}
	if len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}

	level := parseLevel(opts.Level)
	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	return &zeroLogger{l: zl}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (z *zeroLogger) Debug(msg string, kv ...any) { z.l.Debug().Fields(kv).Msg(msg) }
func (z *zeroLogger) Info(msg string, kv ...any)  { z.l.Info().Fields(kv).Msg(msg) }
func (z *zeroLogger) Warn(msg string, kv ...any)  { z.l.Warn().Fields(kv).Msg(msg) }
func (z *zeroLogger) Error(msg string, kv ...any) { z.l.Error().Fields(kv).Msg(msg) }

type nopLogger struct{}

// NewNop 返回不输出任何内容的 Logger，主要用于测试
func NewNop() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
