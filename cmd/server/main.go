package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/uma-arai/sbcntr-booking/internal/app"
	"github.com/uma-arai/sbcntr-booking/internal/common/config"
	"github.com/uma-arai/sbcntr-booking/internal/common/tracing"
	"github.com/uma-arai/sbcntr-booking/internal/server"
)

const (
	projectName = "sbcntr-booking"
)

func main() {
	// 設定の読み込み
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("Failed to load config: %v\nStack trace:\n%s", err, debug.Stack())
	}

	if err := tracing.Configure(cfg.EnableTracing); err != nil {
		log.Fatalf("Failed to configure default X-Ray settings: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v\nStack trace:\n%s", err, debug.Stack())
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("Failed to close application: %v", err)
		}
	}()
	a.StartRelay(ctx)

	e := server.New(server.Dependencies{
		Bookings:      a.Bookings,
		Availability:  a.Resolver,
		Notifier:      a.Notifier,
		Inbox:         a.Inbox,
		Scheduler:     a.Jobs,
		CronSecret:    cfg.Cron.Secret,
		TracingName:   projectName,
		EnableTracing: cfg.EnableTracing,
	})

	go func() {
		log.Printf("listening on :%s", cfg.HTTP.Port)
		if err := e.Start(":" + cfg.HTTP.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		// deferされたClose()で送信中のメールを待つため、exitせずに戻る
		log.Printf("Failed to shutdown server: %v", err)
	}
}
