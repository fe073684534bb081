package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"netprogress/internal/api"
	"netprogress/internal/config"
	"netprogress/internal/logger"
	"netprogress/internal/storage"
	"netprogress/internal/transport"
	"netprogress/pkg/progress"
)

// main 是命令行入口：通过带进度跟踪的客户端并发下载 url，
// 可选启动状态查询接口
func main() {
	var (
		cfgPath = flag.String("config", "", "配置文件路径")
		outDir  = flag.String("out", ".", "下载文件输出目录")
		serve   = flag.Bool("serve", false, "下载完成后继续运行状态接口")
	)
	flag.Parse()

	if flag.NArg() == 0 && !*serve {
		fmt.Fprintln(os.Stderr, "用法: netprogress [flags] url...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Level:   cfg.Log.Level,
		Writers: cfg.Log.Writer,
		File:    logger.FileOptions{Path: cfg.Log.File},
	})

	if err := run(cfg, log, *outDir, *serve, flag.Args()); err != nil {
		log.Error("运行失败", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log logger.Logger, outDir string, serve bool, urls []string) error {
	mgr := progress.New(
		progress.WithLogger(log),
		progress.WithRefreshInterval(time.Duration(cfg.Progress.RefreshMS)*time.Millisecond),
		progress.WithQueueSize(cfg.Progress.QueueSize),
	)
	defer mgr.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store *storage.Store
	if cfg.Sqlite.Dsn != "" {
		var err error
		store, err = storage.Open(cfg.Sqlite.Dsn, cfg.Sqlite.Prefix, log)
		if err != nil {
			return err
		}
		recorder := storage.NewRecorder(store, mgr.Events(), log)
		go recorder.Run(ctx)
	}

	client, err := transport.Client(mgr, transport.WithLogger(log))
	if err != nil {
		return err
	}

	var srv *api.Server
	if serve {
		srv = api.New(mgr, store, log)
		go func() {
			if err := srv.Run(cfg.API.Listen); err != nil {
				log.Error("状态接口退出", "error", err)
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, raw := range urls {
		dest := outputPath(outDir, raw, i)
		mgr.AddResponseListener(raw, newPrinter(raw))
		url := raw
		g.Go(func() error {
			return download(gctx, client, url, dest)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("全部下载完成", "count", len(urls))

	if serve {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
	return nil
}

// download 通过带计数传输层的客户端抓取 url 并写入本地文件
func download(ctx context.Context, client *http.Client, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("请求 %s 失败: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("请求 %s 返回 %s", url, resp.Status)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", dest, err)
	}
	return nil
}

// outputPath 根据 url 推导输出文件名，推不出来时用序号兜底
func outputPath(dir, raw string, i int) string {
	name := path.Base(raw)
	if name == "" || name == "." || name == "/" {
		name = fmt.Sprintf("download-%d", i)
	}
	return filepath.Join(dir, name)
}
