package main

import (
	"fmt"
	"strings"

	"netprogress/pkg/model"
)

const barWidth = 40

// printer 终端进度打印器，实现 model.Listener
type printer struct {
	name string
}

func newPrinter(url string) *printer {
	name := url
	if len(name) > 48 {
		name = "..." + name[len(name)-45:]
	}
	return &printer{name: name}
}

// OnProgress 回调在派发队列中串行执行，这里无需加锁
func (p *printer) OnProgress(info *model.ProgressInfo) {
	if info.ContentLength <= 0 {
		fmt.Printf("\r%s %s", p.name, humanBytes(info.CurrentBytes))
		if info.Finished {
			fmt.Println(" 完成")
		}
		return
	}

	percent := info.Percent()
	filled := barWidth * percent / 100
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", barWidth-filled)
	fmt.Printf("\r%s [%s] %3d%% (%s/%s)",
		p.name, bar, percent,
		humanBytes(info.CurrentBytes), humanBytes(info.ContentLength),
	)
	if info.Finished {
		fmt.Println()
	}
}

func (p *printer) OnError(id int64, err error) {
	fmt.Printf("\n%s 传输失败: %v\n", p.name, err)
}

func humanBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.2fGB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.2fMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.2fKB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}
