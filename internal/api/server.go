// Package api 提供只读的状态查询接口：进行中的传输来自管理器的
// 活动表，历史记录来自存储层。
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"netprogress/internal/logger"
	"netprogress/internal/storage"
	"netprogress/pkg/progress"
)

// Server 状态查询服务
type Server struct {
	engine *gin.Engine
	mgr    *progress.Manager
	store  *storage.Store
	log    logger.Logger
	srv    *http.Server
}

// New 创建状态查询服务，store 可以为空（未启用落库时历史接口返回 404）
func New(mgr *progress.Manager, store *storage.Store, l logger.Logger) *Server {
	if l == nil {
		l = logger.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{engine: engine, mgr: mgr, store: store, log: l}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.engine.Group("/api")
	api.GET("/active", s.handleActive)
	api.GET("/transfers", s.handleTransfers)
	api.GET("/transfers/:id", s.handleTransfer)
}

// Handler 返回底层 http.Handler，测试时直接驱动
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run 启动监听，阻塞直到 Shutdown
func (s *Server) Run(listen string) error {
	s.srv = &http.Server{Addr: listen, Handler: s.engine}
	s.log.Info("状态接口已启动", "listen", listen)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown 优雅停止监听
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// handleActive 返回进行中的传输
func (s *Server) handleActive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"active": s.mgr.Active(), "at": time.Now()})
}

// handleTransfers 查询历史记录，支持 status/host/limit 过滤
func (s *Server) handleTransfers(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history disabled"})
		return
	}
	opts := storage.ListOptions{Status: c.Query("status")}
	if host := c.Query("host"); host != "" {
		opts.MetaPath = "host"
		opts.MetaValue = host
	}
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			opts.Limit = n
		}
	}
	recs, err := s.store.List(opts)
	if err != nil {
		s.log.Error("查询传输记录失败", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transfers": recs})
}

// handleTransfer 按 id 查询单条历史记录
func (s *Server) handleTransfer(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history disabled"})
		return
	}
	rec, err := s.store.Get(c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}
