// Package main API Server 入口
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"labflow-admin/internal/apiserver/server"
	"labflow-admin/internal/config"
	"labflow-admin/internal/runctl"
	"labflow-admin/internal/shared/cache"
	"labflow-admin/internal/shared/eventbus"
	"labflow-admin/internal/shared/infra"
	"labflow-admin/internal/shared/objstore"
	"labflow-admin/pkg/logging"
)

func main() {
	configDir := flag.String("config", "", "配置文件目录")
	flag.Parse()
	if *configDir != "" {
		config.SetConfigDir(*configDir)
	}

	// 加载配置（.env → {env}.yaml → 环境变量）
	cfg := config.Load()
	logCfg := cfg.Log
	logCfg.Component = "api-server"
	logger := logging.New(logCfg)

	log.Printf("Starting API Server... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	// 持久化存储（sqlite / postgres / mongodb / memory）
	store, err := infra.OpenStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to open %s storage: %v", cfg.DatabaseDriver, err)
	}
	log.Printf("Storage ready [driver=%s]", cfg.DatabaseDriver)

	deps := &infra.Infrastructure{Storage: store}

	// Redis：run 状态缓存 + run 事件流；不可用时退化为进程内实现
	redisInfra, err := infra.NewRedisInfra(cfg.RedisURL, cfg.RunStateTTL)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, using in-process cache and event bus")
		deps.Cache = cache.NewMemoryCache()
		deps.EventBus = eventbus.NewMemoryBus()
	} else {
		defer redisInfra.Close()
		deps.Cache = redisInfra.Cache()
		deps.EventBus = redisInfra.EventBus()
		log.Println("Connected to Redis")
	}
	defer deps.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := server.NewMetrics("labflow", reg)

	runs := runctl.NewClient(cfg.RunManager.URL,
		runctl.WithTimeout(cfg.RunManager.Timeout),
		runctl.WithLogger(logger),
		runctl.WithResultHook(metrics.ObserveCommand),
	)

	handlerDeps := server.Deps{
		Store:   deps.Storage,
		Cache:   deps.Cache,
		Runs:    runs,
		Metrics: metrics,
		Config:  cfg,
	}

	// 对象存储（工作流导出/导入），未配置时相关接口返回 503
	if cfg.MinIO.Enabled() {
		archive, err := objstore.NewClient(cfg.MinIO)
		if err != nil {
			log.Fatalf("Failed to create object storage client: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := archive.EnsureBucket(ctx); err != nil {
			logger.WithError(err).Warn("Failed to ensure workflow bucket", "bucket", archive.Bucket())
		}
		cancel()
		handlerDeps.Archive = archive
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// run 事件同步
	runSync := server.NewRunSync(deps.EventBus, deps.Storage, deps.Cache, metrics)
	handlerDeps.Sync = runSync
	go func() {
		if err := runSync.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("Run event sync stopped")
		}
	}()

	h := server.NewHandler(handlerDeps)

	// WriteTimeout 为 0：WebSocket 连接自行设置写超时
	srv := &http.Server{
		Addr:        ":" + cfg.APIPort,
		Handler:     h.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// 优雅关闭
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("API Server listening on :%s", cfg.APIPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	fmt.Println("Server stopped")
}
