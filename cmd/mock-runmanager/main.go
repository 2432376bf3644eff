// Package main Mock Run Manager - 模拟外部 run manager
//
// 实现 runctl 使用的 HTTP 契约，并把 run 状态变化发布到 Redis Streams，
// 用于本地联调 API Server 的实时时间线与控制按钮。
//
//	POST /api/v1/runs                     {"workflow_id": "...", "duration": 30}
//	GET  /api/v1/runs/{id}
//	POST /api/v1/runs/{id}/{pause|resume|stop}
//	POST /api/v1/runs/{id}/tasks/{task}/{skip|retry}
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"labflow-admin/internal/shared/eventbus"
	"labflow-admin/internal/shared/infra"
)

func main() {
	addr := flag.String("listen", ":8090", "监听地址")
	redisURL := flag.String("redis", getEnv("REDIS_URL", "redis://localhost:6379/0"), "Redis URL（run 事件流）")
	settle := flag.Duration("settle", time.Second, "中间状态（PAUSING/STOPPING 等）持续时间")
	flag.Parse()

	var bus eventbus.EventBus
	redisInfra, err := infra.NewRedisInfra(*redisURL, 0)
	if err != nil {
		log.Printf("Redis unavailable (%v), events stay in-process", err)
		bus = eventbus.NewMemoryBus()
	} else {
		defer redisInfra.Close()
		bus = redisInfra.EventBus()
	}
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := newManager(bus, *settle)
	go m.loop(ctx, 200*time.Millisecond)

	srv := &http.Server{Addr: *addr, Handler: m.routes()}
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Mock run manager listening on %s", *addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
