// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yourusername/image-forge/internal/config"
	"github.com/yourusername/image-forge/internal/extract"
	"github.com/yourusername/image-forge/internal/jobs"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := config.NewLogger(cfg)

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	store, err := newStore(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize job store: %v", err)
	}

	service := extract.NewService(cfg, store, extract.NewToolset(cfg), logger)

	scheduler, stopScheduler, err := newScheduler(cfg, service, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize scheduler: %v", err)
	}

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// CORSミドルウェアの設定（カンマ区切りの文字列を配列に変換）
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	router.Use(cors.New(corsConfig))

	// ルーティングの設定
	setupRoutes(router, service, store, scheduler)

	// サーバーの起動
	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		logger.Infof("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// SIGINT / SIGTERM で停止し、受付済みのリクエストとジョブを待ってから抜ける
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	stop()
	logger.Info("Shutdown signal received, draining...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown failed")
	}
	if err := stopScheduler(shutdownCtx); err != nil {
		logger.WithError(err).Error("Scheduler shutdown did not finish cleanly")
	}
	logger.Info("Server stopped")
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "image-forge-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループの配線を行います。
func setupRoutes(router *gin.Engine, service *extract.Service, store jobs.Store, scheduler extract.Scheduler) {
	router.GET("/health", handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/extract", extract.ExtractHandler(service, scheduler))
		api.GET("/jobs", extract.ListJobsHandler(store))
		api.GET("/jobs/:id", extract.JobStatusHandler(store))
		api.GET("/jobs/:id/download/zip", extract.DownloadZipHandler(service))
		api.GET("/jobs/:id/download/json", extract.DownloadJSONHandler(service))
	}
}
