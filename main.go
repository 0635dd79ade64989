package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"plaza/server"
)

// plaza 入口：启动 HTTP + WebSocket 中继，并运行注册表事件循环
func main() {
	cfg, err := server.ParseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := server.NewLogger(cfg.LogFile, cfg.Level())
	defer server.SyncLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := &server.RelayMetrics{}
	reg := server.NewRegistry(cfg, metrics, logger)
	regCtx, stopRegistry := context.WithCancel(context.Background())
	go reg.Run(regCtx)

	srv := server.NewServer(reg, metrics, cfg, logger)
	httpSrv := &http.Server{Addr: cfg.Addr, Handler: srv.Routes()}

	go func() {
		logger.Infof("plaza relay listening on %s; websocket at ws://localhost%s/ws, health at /health", cfg.Addr, cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("listen: %v", err)
		}
	}()

	// 优雅退出：停止接受新连接，关闭发送队列，等待已排队消息写完
	<-ctx.Done()
	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("http shutdown", "err", err)
	}
	stopRegistry()
	<-reg.Done()
	if err := srv.Wait(shutdownCtx); err != nil {
		logger.Warnw("writers did not drain", "err", err)
	}
	logger.Info("Server closed")
}
