// Package web 提供健康检查、Prometheus 指标与文件短链跳转的 HTTP 入口
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"filestore_bot/internal/linkcodec"
	"filestore_bot/internal/logger"
	"filestore_bot/internal/telegram/models"
	"filestore_bot/internal/telegram/repository"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FileLookup 按原始链接查询文件
type FileLookup interface {
	FindByRawLink(ctx context.Context, rawLink string) (*models.FileRecord, error)
}

// Pinger 健康检查依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

// DeepLinker 根据原始链接生成 Bot 深链
type DeepLinker func(rawLink string) string

// Server HTTP 服务
type Server struct {
	files    FileLookup
	db       Pinger
	deepLink DeepLinker
	http     *http.Server
}

// NewServer 创建 HTTP 服务；files 为 nil 时只校验 token 格式
func NewServer(addr string, files FileLookup, db Pinger, deepLink DeepLinker) *Server {
	s := &Server{
		files:    files,
		db:       db,
		deepLink: deepLink,
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Router 路由表
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/f/{token}", s.handleRedirect)
	return r
}

// Start 监听并在后台提供服务
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.http.Addr, err)
	}

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Errorf("HTTP server stopped: %v", err)
		}
	}()
	logger.L().Infof("HTTP server listening: addr=%s", listener.Addr())
	return nil
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown HTTP server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			logger.L().Warnf("Health check failed: %v", err)
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// handleRedirect 把 /f/{token} 重定向到 Bot 深链
func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	raw, err := linkcodec.Decode(chi.URLParam(r, "token"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if _, _, err := linkcodec.ParseRawLink(raw); err != nil {
		http.NotFound(w, r)
		return
	}

	if s.files != nil {
		if _, err := s.files.FindByRawLink(r.Context(), raw); err != nil {
			if errors.Is(err, repository.ErrFileNotFound) {
				http.NotFound(w, r)
				return
			}
			logger.L().Errorf("Redirect lookup failed: raw_link=%s, err=%v", raw, err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	http.Redirect(w, r, s.deepLink(raw), http.StatusFound)
}
